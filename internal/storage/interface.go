package storage

import (
	"chatwithai-backend/internal/model"
)

type Storage interface {
	// 会话管理
	CreateSession(session *model.Session) error
	GetSession(sessionID string) (*model.Session, error)
	DeleteSession(sessionID string) error
	SetTitle(sessionID, title string) error
	SetTitleIf(sessionID, current, title string) (bool, error)
	ListSessions() ([]*model.Session, error)

	// 消息管理：只追加，唯一的修改是按ID完成一条待回答消息
	SubmitDraft(sessionID string, draft *model.Draft, newMessage func(model.Draft) *model.Message) (*model.Message, error)
	ResolveMessage(sessionID string, res model.Resolution) (*model.Message, error)
	GetMessages(sessionID string) ([]*model.Message, error)

	// 草稿与界面状态
	SetDraftText(sessionID, text string) error
	SetDraftImage(sessionID string, image *model.Image) error
	SetMenuOpen(sessionID string, open bool) error

	// 存储管理
	Init() error
	Close() error
}

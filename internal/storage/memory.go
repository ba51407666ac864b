package storage

import (
	"sort"
	"sync"
	"time"

	"chatwithai-backend/internal/model"
)

type MemoryStorage struct {
	sessions map[string]*model.Session
	mu       sync.RWMutex
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		sessions: make(map[string]*model.Session),
	}
}

func (m *MemoryStorage) Init() error {
	return nil
}

func (m *MemoryStorage) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sessions = make(map[string]*model.Session)
	return nil
}

func (m *MemoryStorage) CreateSession(session *model.Session) error {
	if session == nil || session.ID == "" {
		return ErrInvalidData
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[session.ID]; exists {
		return ErrSessionExists
	}

	m.sessions[session.ID] = session.Clone()
	return nil
}

func (m *MemoryStorage) GetSession(sessionID string) (*model.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, exists := m.sessions[sessionID]
	if !exists {
		return nil, ErrSessionNotFound
	}

	return session.Clone(), nil
}

func (m *MemoryStorage) DeleteSession(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[sessionID]; !exists {
		return ErrSessionNotFound
	}

	delete(m.sessions, sessionID)
	return nil
}

// ListSessions 按创建时间排序
func (m *MemoryStorage) ListSessions() ([]*model.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sessions := make([]*model.Session, 0, len(m.sessions))
	for _, session := range m.sessions {
		sessions = append(sessions, session.Clone())
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
	})

	return sessions, nil
}

// SubmitDraft 提交草稿：draft 为 nil 时使用会话中保存的草稿。
// 空草稿返回 ErrEmptySubmission 且不追加消息；否则追加消息并清空草稿。
func (m *MemoryStorage) SubmitDraft(sessionID string, draft *model.Draft, newMessage func(model.Draft) *model.Message) (*model.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, exists := m.sessions[sessionID]
	if !exists {
		return nil, ErrSessionNotFound
	}

	submitted := session.Draft
	if draft != nil {
		submitted = *draft
	}
	if submitted.IsEmpty() {
		return nil, ErrEmptySubmission
	}

	message := newMessage(submitted)
	if message == nil {
		return nil, ErrInvalidData
	}
	message.SessionID = sessionID
	message.Seq = len(session.Messages) + 1

	session.Messages = append(session.Messages, message.Clone())
	session.Draft = model.Draft{}
	session.UpdatedAt = time.Now()

	stored := session.Messages[len(session.Messages)-1].Clone()
	return &stored, nil
}

// ResolveMessage 按句柄中的消息ID完成回答，每条消息只能完成一次
func (m *MemoryStorage) ResolveMessage(sessionID string, res model.Resolution) (*model.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, exists := m.sessions[sessionID]
	if !exists {
		return nil, ErrSessionNotFound
	}

	for i := range session.Messages {
		msg := &session.Messages[i]
		if msg.ID != res.Handle.MessageID {
			continue
		}
		if !msg.Pending {
			return nil, ErrAlreadyResolved
		}

		msg.BotReply = res.Reply
		msg.Failed = res.Failed
		msg.Pending = false
		msg.HTMLContent = res.HTMLContent
		msg.IsRendered = res.HTMLContent != ""
		now := time.Now()
		msg.ResolvedAt = &now
		session.UpdatedAt = now

		resolved := msg.Clone()
		return &resolved, nil
	}

	return nil, ErrMessageNotFound
}

func (m *MemoryStorage) GetMessages(sessionID string) ([]*model.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, exists := m.sessions[sessionID]
	if !exists {
		return nil, ErrSessionNotFound
	}

	messages := make([]*model.Message, len(session.Messages))
	for i, msg := range session.Messages {
		c := msg.Clone()
		messages[i] = &c
	}

	return messages, nil
}

func (m *MemoryStorage) SetDraftText(sessionID, text string) error {
	return m.update(sessionID, func(s *model.Session) {
		s.Draft.Text = text
	})
}

func (m *MemoryStorage) SetDraftImage(sessionID string, image *model.Image) error {
	return m.update(sessionID, func(s *model.Session) {
		if image == nil {
			s.Draft.Image = nil
			return
		}
		img := *image
		s.Draft.Image = &img
	})
}

func (m *MemoryStorage) SetMenuOpen(sessionID string, open bool) error {
	return m.update(sessionID, func(s *model.Session) {
		s.MenuOpen = open
	})
}

// SetTitle 更新会话标题
func (m *MemoryStorage) SetTitle(sessionID, title string) error {
	return m.update(sessionID, func(s *model.Session) {
		s.Title = title
		s.UpdatedAt = time.Now()
	})
}

// SetTitleIf 仅当当前标题等于 current 时改名，返回是否改名
func (m *MemoryStorage) SetTitleIf(sessionID, current, title string) (bool, error) {
	changed := false
	err := m.update(sessionID, func(s *model.Session) {
		if s.Title != current {
			return
		}
		s.Title = title
		s.UpdatedAt = time.Now()
		changed = true
	})
	return changed, err
}

func (m *MemoryStorage) update(sessionID string, fn func(*model.Session)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, exists := m.sessions[sessionID]
	if !exists {
		return ErrSessionNotFound
	}

	fn(session)
	return nil
}

package model

import (
	"strings"
	"time"
)

const (
	// PlaceholderReply 提交后、回答到达前显示的占位内容
	PlaceholderReply = "Thinking..."
	// FallbackReply 响应中没有可提取的文本时使用
	FallbackReply = "No response from server"
	// ErrorReplyPrefix 请求失败时的错误标记前缀
	ErrorReplyPrefix = "Error: "
)

// Image 单张内联图片，Data 为不带 data: 前缀的 base64
type Image struct {
	Data     string `json:"data"`
	MIMEType string `json:"mime_type"`
}

// Draft 尚未提交的输入
type Draft struct {
	Text  string `json:"text"`
	Image *Image `json:"image,omitempty"`
}

// IsEmpty 去除空白后文本为空即视为空草稿，图片不计入
func (d Draft) IsEmpty() bool {
	return strings.TrimSpace(d.Text) == ""
}

type Message struct {
	ID          string     `json:"id"`
	SessionID   string     `json:"session_id"`
	Seq         int        `json:"seq"`
	UserText    string     `json:"user_text"`
	UserImage   *Image     `json:"user_image,omitempty"`
	BotReply    string     `json:"bot_reply"`              // Markdown
	Pending     bool       `json:"pending"`                // 等待回答中
	Failed      bool       `json:"failed"`                 // BotReply 是错误标记
	HTMLContent string     `json:"html_content,omitempty"` // 渲染后的HTML内容
	IsRendered  bool       `json:"is_rendered"`            // 是否已渲染
	Timestamp   time.Time  `json:"timestamp"`
	ResolvedAt  *time.Time `json:"resolved_at,omitempty"`
}

// Handle 返回指向该消息的句柄
func (m *Message) Handle() MessageHandle {
	return MessageHandle{SessionID: m.SessionID, MessageID: m.ID, Seq: m.Seq}
}

// Clone 深拷贝，图片不与存储共享
func (m Message) Clone() Message {
	if m.UserImage != nil {
		img := *m.UserImage
		m.UserImage = &img
	}
	if m.ResolvedAt != nil {
		at := *m.ResolvedAt
		m.ResolvedAt = &at
	}
	return m
}

// MessageHandle 随异步请求传递，回答按ID而不是按位置落到对应消息
type MessageHandle struct {
	SessionID string `json:"session_id"`
	MessageID string `json:"message_id"`
	Seq       int    `json:"seq"`
}

// Resolution 一次请求结束后投递给存储的结果
type Resolution struct {
	Handle      MessageHandle
	Reply       string
	Failed      bool
	HTMLContent string
}

type Session struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	Draft     Draft     `json:"draft"`
	MenuOpen  bool      `json:"menu_open"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone 深拷贝，调用方可以随意修改返回值
func (s *Session) Clone() *Session {
	c := *s
	c.Messages = make([]Message, len(s.Messages))
	for i, msg := range s.Messages {
		c.Messages[i] = msg.Clone()
	}
	if s.Draft.Image != nil {
		img := *s.Draft.Image
		c.Draft.Image = &img
	}
	return &c
}

// PendingCount 未完成的消息数量
func (s *Session) PendingCount() int {
	n := 0
	for _, msg := range s.Messages {
		if msg.Pending {
			n++
		}
	}
	return n
}

const (
	EventMessageSubmitted = "message_submitted"
	EventMessageResolved  = "message_resolved"
)

// Event 推送给订阅者的消息变化
type Event struct {
	Type      string  `json:"type"`
	SessionID string  `json:"session_id"`
	Message   Message `json:"message"`
	Timestamp int64   `json:"timestamp"`
}

package model

import "time"

type SessionResponse struct {
	SessionID    string    `json:"session_id"`
	Title        string    `json:"title"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
	PendingCount int       `json:"pending_count"`
}

// SessionStateResponse 会话的完整视图状态
type SessionStateResponse struct {
	SessionResponse
	Messages []Message `json:"messages"`
	Draft    Draft     `json:"draft"`
	MenuOpen bool      `json:"menu_open"`
}

type SubmitResponse struct {
	Accepted bool           `json:"accepted"`
	Handle   *MessageHandle `json:"handle,omitempty"`
	Message  *Message       `json:"message,omitempty"`
}

func NewSessionResponse(s *Session) SessionResponse {
	return SessionResponse{
		SessionID:    s.ID,
		Title:        s.Title,
		CreatedAt:    s.CreatedAt,
		UpdatedAt:    s.UpdatedAt,
		MessageCount: len(s.Messages),
		PendingCount: s.PendingCount(),
	}
}

func NewSessionStateResponse(s *Session) SessionStateResponse {
	return SessionStateResponse{
		SessionResponse: NewSessionResponse(s),
		Messages:        s.Messages,
		Draft:           s.Draft,
		MenuOpen:        s.MenuOpen,
	}
}

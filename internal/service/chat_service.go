package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"chatwithai-backend/internal/config"
	apperrors "chatwithai-backend/internal/errors"
	"chatwithai-backend/internal/metrics"
	"chatwithai-backend/internal/model"
	"chatwithai-backend/internal/render"
	"chatwithai-backend/internal/storage"
	"chatwithai-backend/pkg/logger"

	"github.com/google/uuid"
)

// DefaultTitle 新会话的标题，第一条消息提交后被替换
const DefaultTitle = "New chat"

const resolutionBuffer = 64

var ErrServiceClosed = errors.New("chat service is closed")

// AnswerFetcher 把一条用户输入变成一次单轮生成请求
type AnswerFetcher interface {
	FetchAnswer(ctx context.Context, prompt model.Prompt) (string, error)
}

// resolution 请求完成后投递给分发循环的结果
type resolution struct {
	res     model.Resolution
	outcome string
	elapsed time.Duration
}

type ChatService struct {
	storage  storage.Storage
	fetcher  AnswerFetcher
	renderer render.Renderer
	config   *config.SessionConfig
	hub      *EventHub

	resolutions chan resolution
	ctx         context.Context
	cancel      context.CancelFunc
	stop        chan struct{}
	done        chan struct{}

	// sendMu 读锁覆盖每次向 resolutions 的发送；分发循环退出前取写锁并置位 dispatchStopped
	sendMu          sync.RWMutex
	dispatchStopped bool

	mu       sync.Mutex
	closed   bool
	inflight sync.WaitGroup
}

func NewChatService(cfg *config.Config, store storage.Storage, fetcher AnswerFetcher, renderer render.Renderer) *ChatService {
	if err := store.Init(); err != nil {
		logger.Errorf("Failed to initialize storage: %v", err)
		store = storage.NewMemoryStorage()
		store.Init()
	}

	ctx, cancel := context.WithCancel(context.Background())
	cs := &ChatService{
		storage:     store,
		fetcher:     fetcher,
		renderer:    renderer,
		config:      &cfg.Session,
		hub:         NewEventHub(),
		resolutions: make(chan resolution, resolutionBuffer),
		ctx:         ctx,
		cancel:      cancel,
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}

	go cs.dispatch()
	go cs.cleanupOldSessions()

	return cs
}

func (s *ChatService) CreateSession(title string) (*model.Session, error) {
	if title == "" {
		title = DefaultTitle
	}

	now := time.Now()
	session := &model.Session{
		ID:        uuid.New().String(),
		Title:     title,
		Messages:  make([]model.Message, 0),
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.storage.CreateSession(session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	metrics.SessionCreated()

	return session, nil
}

func (s *ChatService) GetSession(sessionID string) (*model.Session, error) {
	session, err := s.storage.GetSession(sessionID)
	if err != nil {
		return nil, wrapSessionErr(sessionID, "failed to get session", err)
	}

	return session, nil
}

func (s *ChatService) GetSessionMessages(sessionID string) ([]model.Message, error) {
	messages, err := s.storage.GetMessages(sessionID)
	if err != nil {
		return nil, wrapSessionErr(sessionID, "failed to get messages", err)
	}

	result := make([]model.Message, len(messages))
	for i, msg := range messages {
		result[i] = *msg
	}

	return result, nil
}

func (s *ChatService) GetAllSessions() ([]*model.Session, error) {
	sessions, err := s.storage.ListSessions()
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}

	return sessions, nil
}

func (s *ChatService) DeleteSession(sessionID string) error {
	if err := s.storage.DeleteSession(sessionID); err != nil {
		return wrapSessionErr(sessionID, "failed to delete session", err)
	}
	metrics.SessionsDeleted(1)

	return nil
}

func (s *ChatService) ClearAllSessions() error {
	sessions, err := s.storage.ListSessions()
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}

	deleted := 0
	for _, session := range sessions {
		if err := s.storage.DeleteSession(session.ID); err != nil {
			logger.Errorf("Failed to delete session %s: %v", session.ID, err)
			continue
		}
		deleted++
	}
	metrics.SessionsDeleted(deleted)

	return nil
}

func (s *ChatService) UpdateSessionTitle(sessionID, title string) error {
	if err := s.storage.SetTitle(sessionID, title); err != nil {
		return wrapSessionErr(sessionID, "failed to update session", err)
	}

	return nil
}

// SetDraftText setDraftText
func (s *ChatService) SetDraftText(sessionID, text string) error {
	if err := s.storage.SetDraftText(sessionID, text); err != nil {
		return wrapSessionErr(sessionID, "failed to update draft", err)
	}
	return nil
}

// SetDraftImage setDraftImage，nil 清除图片
func (s *ChatService) SetDraftImage(sessionID string, image *model.Image) error {
	if err := s.storage.SetDraftImage(sessionID, image); err != nil {
		return wrapSessionErr(sessionID, "failed to update draft", err)
	}
	return nil
}

// SetMenuOpen 附件菜单的开关状态
func (s *ChatService) SetMenuOpen(sessionID string, open bool) error {
	if err := s.storage.SetMenuOpen(sessionID, open); err != nil {
		return wrapSessionErr(sessionID, "failed to update menu", err)
	}
	return nil
}

// Subscribe 订阅会话的消息事件
func (s *ChatService) Subscribe(sessionID string) (<-chan model.Event, func()) {
	return s.hub.Subscribe(sessionID)
}

// Submit 提交草稿。draft 为 nil 时提交会话中保存的草稿。
// 空草稿返回 ErrEmptySubmission，不创建消息也不发请求；否则立即追加一条
// 待回答消息、清空草稿，并在后台发起一次请求。返回的句柄标识这条消息。
func (s *ChatService) Submit(sessionID string, draft *model.Draft) (*model.MessageHandle, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrServiceClosed
	}
	s.inflight.Add(1)
	s.mu.Unlock()

	now := time.Now()
	msg, err := s.storage.SubmitDraft(sessionID, draft, func(d model.Draft) *model.Message {
		return &model.Message{
			ID:        uuid.New().String(),
			UserText:  d.Text,
			UserImage: d.Image,
			BotReply:  model.PlaceholderReply,
			Pending:   true,
			Timestamp: now,
		}
	})
	if err != nil {
		s.inflight.Done()
		if errors.Is(err, storage.ErrEmptySubmission) {
			metrics.Submitted(false)
			return nil, err
		}
		return nil, wrapSessionErr(sessionID, "failed to submit", err)
	}
	metrics.Submitted(true)

	if msg.Seq == 1 {
		s.retitle(sessionID, msg.UserText)
	}

	s.publish(model.EventMessageSubmitted, msg)

	handle := msg.Handle()
	prompt := model.Prompt{Text: msg.UserText, Image: msg.UserImage}
	go s.fetchAnswer(handle, prompt)

	logger.WithFields(map[string]interface{}{
		"session_id": handle.SessionID,
		"message_id": handle.MessageID,
		"seq":        handle.Seq,
		"has_image":  prompt.Image != nil,
	}).Info("message submitted")

	return &handle, nil
}

// AwaitResolution 等待句柄对应的消息完成回答
func (s *ChatService) AwaitResolution(ctx context.Context, handle model.MessageHandle) (*model.Message, error) {
	events, cancel := s.Subscribe(handle.SessionID)
	defer cancel()

	// 订阅之后再查一次，避免错过已经到达的结果
	if msg, err := s.findMessage(handle); err != nil || !msg.Pending {
		return msg, err
	}

	for {
		select {
		case event, ok := <-events:
			if !ok {
				return s.findMessage(handle)
			}
			if event.Type == model.EventMessageResolved && event.Message.ID == handle.MessageID {
				msg := event.Message
				return &msg, nil
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (s *ChatService) findMessage(handle model.MessageHandle) (*model.Message, error) {
	messages, err := s.storage.GetMessages(handle.SessionID)
	if err != nil {
		return nil, wrapSessionErr(handle.SessionID, "failed to get messages", err)
	}
	for _, msg := range messages {
		if msg.ID == handle.MessageID {
			return msg, nil
		}
	}
	return nil, fmt.Errorf("message %s not found in session %s: %w", handle.MessageID, handle.SessionID, storage.ErrMessageNotFound)
}

// fetchAnswer 每次提交一个 goroutine；只通过 resolutions 通道回写结果
func (s *ChatService) fetchAnswer(handle model.MessageHandle, prompt model.Prompt) {
	defer s.inflight.Done()

	start := time.Now()
	reply, err := s.fetcher.FetchAnswer(s.ctx, prompt)
	elapsed := time.Since(start)

	res := model.Resolution{Handle: handle}
	outcome := metrics.OutcomeAnswered

	switch {
	case err == nil:
		res.Reply = reply
	case errors.Is(err, apperrors.ErrMalformedResponse):
		logger.Warnf("No usable reply for message %s: %v", handle.MessageID, err)
		res.Reply = model.FallbackReply
		outcome = metrics.OutcomeFallback
	default:
		logger.Errorf("Generation failed for message %s: %v", handle.MessageID, err)
		res.Reply = model.ErrorReplyPrefix + apperrors.Reason(err)
		res.Failed = true
		outcome = metrics.OutcomeFailed
	}

	if s.renderer != nil {
		html, renderErr := s.renderer.Render(res.Reply)
		if renderErr != nil {
			logger.Warnf("Failed to render reply for message %s: %v", handle.MessageID, renderErr)
		} else {
			res.HTMLContent = html
		}
	}

	r := resolution{res: res, outcome: outcome, elapsed: elapsed}

	s.sendMu.RLock()
	if !s.dispatchStopped {
		s.resolutions <- r
		s.sendMu.RUnlock()
		return
	}
	s.sendMu.RUnlock()

	// 分发循环已经退出（关闭超时），直接写入
	s.applyResolution(r)
}

func (s *ChatService) dispatch() {
	defer close(s.done)

	for {
		select {
		case r := <-s.resolutions:
			s.applyResolution(r)
		case <-s.stop:
			s.drain()
			return
		}
	}
}

// drain 停止接收新的结果。持有读锁的发送方可能正阻塞在满的通道上，
// 所以取写锁的同时继续接收；置位之后通道里剩下的结果全部写入。
func (s *ChatService) drain() {
	for !s.sendMu.TryLock() {
		select {
		case r := <-s.resolutions:
			s.applyResolution(r)
		case <-time.After(time.Millisecond):
		}
	}
	s.dispatchStopped = true
	s.sendMu.Unlock()

	for {
		select {
		case r := <-s.resolutions:
			s.applyResolution(r)
		default:
			return
		}
	}
}

func (s *ChatService) applyResolution(r resolution) {
	handle := r.res.Handle
	msg, err := s.storage.ResolveMessage(handle.SessionID, r.res)
	if err != nil {
		// 会话可能已被删除或过期
		logger.Warnf("Dropped reply for message %s in session %s: %v", handle.MessageID, handle.SessionID, err)
		metrics.Resolved(metrics.OutcomeDiscarded, r.elapsed)
		return
	}
	metrics.Resolved(r.outcome, r.elapsed)

	s.publish(model.EventMessageResolved, msg)
}

func (s *ChatService) publish(eventType string, msg *model.Message) {
	s.hub.Publish(model.Event{
		Type:      eventType,
		SessionID: msg.SessionID,
		Message:   *msg,
		Timestamp: time.Now().Unix(),
	})
}

// retitle 默认标题的会话用第一条消息命名
func (s *ChatService) retitle(sessionID, content string) {
	// 安全地取前30个Unicode字符作为标题，避免过长
	title := s.truncateString(strings.TrimSpace(content), 30)
	// 用户已经改过名时保留用户的标题
	if _, err := s.storage.SetTitleIf(sessionID, DefaultTitle, title); err != nil {
		logger.Warnf("Failed to retitle session %s: %v", sessionID, err)
	}
}

func (s *ChatService) cleanupOldSessions() {
	if s.config.CleanupInterval <= 0 || s.config.TTL <= 0 {
		return
	}

	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweepExpired(time.Now().Add(-s.config.TTL))
		case <-s.stop:
			return
		}
	}
}

// sweepExpired 删除 cutoff 之前没有活动、且没有待回答消息的会话
func (s *ChatService) sweepExpired(cutoff time.Time) int {
	sessions, err := s.storage.ListSessions()
	if err != nil {
		logger.Errorf("Failed to list sessions for cleanup: %v", err)
		return 0
	}

	removed := 0
	for _, session := range sessions {
		if !session.UpdatedAt.Before(cutoff) || session.PendingCount() > 0 {
			continue
		}
		if err := s.storage.DeleteSession(session.ID); err != nil {
			logger.Errorf("Failed to delete expired session %s: %v", session.ID, err)
			continue
		}
		removed++
		logger.Infof("Cleaned up expired session: %s", session.ID)
	}
	metrics.SessionsDeleted(removed)

	return removed
}

// CloseStreams 关闭全部事件订阅。SSE 连接随之结束，HTTP 服务器才能在关闭时等到空闲。
// 之后的事件不再推送，回答仍照常写入存储。
func (s *ChatService) CloseStreams() {
	s.hub.Close()
}

// Close 停止接收新的提交，等待进行中的请求完成（受 ctx 限制），然后停止后台循环。
// ctx 到期时取消剩余请求，它们的消息以错误标记结束。
func (s *ChatService) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	waited := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(waited)
	}()

	var err error
	select {
	case <-waited:
	case <-ctx.Done():
		err = ctx.Err()
		s.cancel()
	}

	close(s.stop)
	<-s.done
	s.cancel()
	s.hub.Close()

	if closeErr := s.storage.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	return err
}

func (s *ChatService) truncateString(str string, maxLen int) string {
	runes := []rune(str)
	if len(runes) <= maxLen {
		return str
	}
	return string(runes[:maxLen]) + "..."
}

func wrapSessionErr(sessionID, action string, err error) error {
	if errors.Is(err, storage.ErrSessionNotFound) {
		return fmt.Errorf("session not found: %s: %w", sessionID, err)
	}
	return fmt.Errorf("%s: %w", action, err)
}

package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"chatwithai-backend/internal/attachment"
	apperrors "chatwithai-backend/internal/errors"
	"chatwithai-backend/internal/model"
	"chatwithai-backend/internal/service"
	"chatwithai-backend/internal/storage"
	"chatwithai-backend/internal/utils"
	"chatwithai-backend/pkg/logger"

	"github.com/gin-gonic/gin"
)

const heartbeatInterval = 30 * time.Second

type ChatHandler struct {
	chatService *service.ChatService
	images      *attachment.Loader
}

func NewChatHandler(chatService *service.ChatService, images *attachment.Loader) *ChatHandler {
	return &ChatHandler{
		chatService: chatService,
		images:      images,
	}
}

func (h *ChatHandler) CreateSession(c *gin.Context) {
	var req model.CreateSessionRequest
	// 允许空的请求体，使用默认标题
	_ = c.ShouldBindJSON(&req)

	session, err := h.chatService.CreateSession(req.Title)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, model.NewSessionResponse(session))
}

// GetSession 返回会话完整状态：消息、草稿和菜单
func (h *ChatHandler) GetSession(c *gin.Context) {
	sessionID := c.Param("session_id")

	session, err := h.chatService.GetSession(sessionID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, model.NewSessionStateResponse(session))
}

func (h *ChatHandler) GetMessages(c *gin.Context) {
	sessionID := c.Param("session_id")

	messages, err := h.chatService.GetSessionMessages(sessionID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"session_id": sessionID,
		"messages":   messages,
	})
}

func (h *ChatHandler) GetSessionList(c *gin.Context) {
	sessions, err := h.chatService.GetAllSessions()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	list := make([]model.SessionResponse, len(sessions))
	for i, session := range sessions {
		list[i] = model.NewSessionResponse(session)
	}

	c.JSON(http.StatusOK, gin.H{
		"sessions": list,
	})
}

func (h *ChatHandler) DeleteSession(c *gin.Context) {
	sessionID := c.Param("session_id")

	if err := h.chatService.DeleteSession(sessionID); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Session deleted successfully"})
}

func (h *ChatHandler) ClearAllSessions(c *gin.Context) {
	if err := h.chatService.ClearAllSessions(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "All sessions cleared successfully"})
}

func (h *ChatHandler) UpdateSessionTitle(c *gin.Context) {
	sessionID := c.Param("session_id")

	var req model.UpdateTitleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.chatService.UpdateSessionTitle(sessionID, req.Title); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Title updated successfully"})
}

// UpdateDraftText setDraftText
func (h *ChatHandler) UpdateDraftText(c *gin.Context) {
	sessionID := c.Param("session_id")

	var req model.DraftTextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.chatService.SetDraftText(sessionID, req.Text); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Draft updated successfully"})
}

// UploadDraftImage setDraftImage：multipart 的 file 字段或 JSON base64
func (h *ChatHandler) UploadDraftImage(c *gin.Context) {
	sessionID := c.Param("session_id")

	image, err := h.readImage(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.chatService.SetDraftImage(sessionID, image); err != nil {
		respondError(c, err)
		return
	}
	// 选择图片后关闭菜单
	if err := h.chatService.SetMenuOpen(sessionID, false); err != nil {
		logger.Warnf("Failed to close menu for session %s: %v", sessionID, err)
	}

	c.JSON(http.StatusOK, gin.H{
		"message":   "Image attached successfully",
		"mime_type": image.MIMEType,
		"data_url":  attachment.DataURL(image),
	})
}

// RemoveDraftImage setDraftImage(null)
func (h *ChatHandler) RemoveDraftImage(c *gin.Context) {
	sessionID := c.Param("session_id")

	if err := h.chatService.SetDraftImage(sessionID, nil); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Image removed successfully"})
}

func (h *ChatHandler) UpdateMenu(c *gin.Context) {
	sessionID := c.Param("session_id")

	var req model.MenuRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.chatService.SetMenuOpen(sessionID, req.Open); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"menu_open": req.Open})
}

// Submit 提交草稿。请求体为空时提交会话中保存的草稿；
// 空草稿静默忽略，返回 accepted=false。
func (h *ChatHandler) Submit(c *gin.Context) {
	sessionID := c.Param("session_id")

	var draft *model.Draft
	if c.Request.ContentLength != 0 {
		var req model.SubmitRequest
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if req.Text != nil {
			draft = &model.Draft{Text: *req.Text}
			if req.Image != nil {
				image, err := h.images.FromBase64(req.Image.Data, req.Image.MIMEType)
				if err != nil {
					c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
					return
				}
				draft.Image = image
			} else if session, err := h.chatService.GetSession(sessionID); err == nil {
				// 只传文本时沿用已上传的图片
				draft.Image = session.Draft.Image
			}
		}
	}

	handle, err := h.chatService.Submit(sessionID, draft)
	if err != nil {
		if errors.Is(err, apperrors.ErrEmptySubmission) {
			c.JSON(http.StatusOK, model.SubmitResponse{Accepted: false})
			return
		}
		respondError(c, err)
		return
	}

	resp := model.SubmitResponse{Accepted: true, Handle: handle}
	if messages, err := h.chatService.GetSessionMessages(sessionID); err == nil {
		for i := range messages {
			if messages[i].ID == handle.MessageID {
				resp.Message = &messages[i]
				break
			}
		}
	}

	c.JSON(http.StatusAccepted, resp)
}

// StreamEvents 通过 SSE 推送会话的消息事件
func (h *ChatHandler) StreamEvents(c *gin.Context) {
	sessionID := c.Param("session_id")

	if _, err := h.chatService.GetSession(sessionID); err != nil {
		respondError(c, err)
		return
	}

	events, cancel := h.chatService.Subscribe(sessionID)
	defer cancel()

	sseWriter := utils.NewSSEWriter(c.Writer)
	c.Status(http.StatusOK)

	ctx, stop := context.WithCancel(c.Request.Context())
	defer stop()

	// 心跳，防止连接因空闲而断开
	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	startData, _ := json.Marshal(gin.H{
		"type":       "connected",
		"session_id": sessionID,
		"timestamp":  time.Now().Unix(),
	})
	if err := sseWriter.Write("status", string(startData)); err != nil {
		return
	}

	for {
		select {
		case event, ok := <-events:
			if !ok {
				sseWriter.Close()
				return
			}
			if err := sseWriter.WriteJSON(event.Type, event); err != nil {
				logger.Errorf("Failed to write SSE: %v", err)
				return
			}

		case <-heartbeat.C:
			heartbeatData, _ := json.Marshal(gin.H{
				"type":      "heartbeat",
				"timestamp": time.Now().Unix(),
			})
			if err := sseWriter.Write("heartbeat", string(heartbeatData)); err != nil {
				logger.Warnf("心跳发送失败: %v", err)
				return
			}

		case <-ctx.Done():
			return
		}
	}
}

func (h *ChatHandler) readImage(c *gin.Context) (*model.Image, error) {
	if file, err := c.FormFile("file"); err == nil {
		if file.Size > h.images.MaxBytes {
			return nil, attachment.ErrImageTooLarge
		}
		f, err := file.Open()
		if err != nil {
			return nil, err
		}
		defer f.Close()

		raw, err := io.ReadAll(io.LimitReader(f, h.images.MaxBytes+1))
		if err != nil {
			return nil, err
		}
		return h.images.FromBytes(raw)
	}

	var req model.DraftImageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		return nil, err
	}
	return h.images.FromBase64(req.Data, req.MIMEType)
}

func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, storage.ErrSessionNotFound), errors.Is(err, storage.ErrMessageNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrServiceClosed):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

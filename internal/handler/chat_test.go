package handler

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatwithai-backend/internal/attachment"
	"chatwithai-backend/internal/config"
	"chatwithai-backend/internal/model"
	"chatwithai-backend/internal/render"
	"chatwithai-backend/internal/service"
	"chatwithai-backend/internal/storage"
)

var pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R'}

// gatedFetcher answers every prompt with its text once release is closed.
type gatedFetcher struct {
	release chan struct{}
	prompts chan model.Prompt
}

func newGatedFetcher() *gatedFetcher {
	return &gatedFetcher{release: make(chan struct{}), prompts: make(chan model.Prompt, 8)}
}

func (f *gatedFetcher) FetchAnswer(ctx context.Context, prompt model.Prompt) (string, error) {
	f.prompts <- prompt
	select {
	case <-f.release:
		return "echo: " + prompt.Text, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

type testServer struct {
	router  *gin.Engine
	service *service.ChatService
	fetcher *gatedFetcher
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	fetcher := newGatedFetcher()
	cfg := &config.Config{Session: config.SessionConfig{TTL: time.Hour, CleanupInterval: time.Hour}}
	chatService := service.NewChatService(cfg, storage.NewMemoryStorage(), fetcher, render.NewHTMLRenderer())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()
		_ = chatService.Close(ctx)
	})

	h := NewChatHandler(chatService, attachment.NewLoader(1024))
	router := gin.New()
	chat := router.Group("/api/chat")
	chat.POST("/session", h.CreateSession)
	chat.POST("/session/list", h.GetSessionList)
	chat.GET("/session/del/:session_id", h.DeleteSession)
	chat.POST("/session/clear", h.ClearAllSessions)
	chat.GET("/session/:session_id", h.GetSession)
	chat.PUT("/session/:session_id", h.UpdateSessionTitle)
	chat.GET("/messages/:session_id", h.GetMessages)
	chat.PUT("/session/:session_id/draft", h.UpdateDraftText)
	chat.POST("/session/:session_id/draft/image", h.UploadDraftImage)
	chat.DELETE("/session/:session_id/draft/image", h.RemoveDraftImage)
	chat.PUT("/session/:session_id/menu", h.UpdateMenu)
	chat.POST("/session/:session_id/submit", h.Submit)
	chat.GET("/session/:session_id/events", h.StreamEvents)

	return &testServer{router: router, service: chatService, fetcher: fetcher}
}

func (ts *testServer) do(method, path string, body interface{}) *httptest.ResponseRecorder {
	var req *http.Request
	if body == nil {
		req = httptest.NewRequest(method, path, nil)
	} else {
		raw, _ := json.Marshal(body)
		req = httptest.NewRequest(method, path, bytes.NewReader(raw))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) createSession(t *testing.T) string {
	t.Helper()
	rec := ts.do(http.MethodPost, "/api/chat/session", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp model.SessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.SessionID)
	return resp.SessionID
}

func (ts *testServer) state(t *testing.T, sessionID string) model.SessionStateResponse {
	t.Helper()
	rec := ts.do(http.MethodGet, "/api/chat/session/"+sessionID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp model.SessionStateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestCreateSession_DefaultTitle(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createSession(t)

	state := ts.state(t, id)
	assert.Equal(t, service.DefaultTitle, state.Title)
	assert.Empty(t, state.Messages)
	assert.False(t, state.MenuOpen)
}

func TestDraftText(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createSession(t)

	rec := ts.do(http.MethodPut, "/api/chat/session/"+id+"/draft", gin.H{"text": "half typed"})
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, "half typed", ts.state(t, id).Draft.Text)
}

func TestUploadDraftImage_Multipart(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createSession(t)
	require.Equal(t, http.StatusOK, ts.do(http.MethodPut, "/api/chat/session/"+id+"/menu", gin.H{"open": true}).Code)
	require.True(t, ts.state(t, id).MenuOpen)

	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	part, err := form.CreateFormFile("file", "photo.png")
	require.NoError(t, err)
	_, _ = part.Write(pngHeader)
	require.NoError(t, form.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/chat/session/"+id+"/draft/image", &buf)
	req.Header.Set("Content-Type", form.FormDataContentType())
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"mime_type":"image/png"`)

	state := ts.state(t, id)
	require.NotNil(t, state.Draft.Image)
	assert.Equal(t, "image/png", state.Draft.Image.MIMEType)
	assert.Equal(t, base64.StdEncoding.EncodeToString(pngHeader), state.Draft.Image.Data)
	assert.False(t, state.MenuOpen, "choosing an image closes the menu")

	rec = ts.do(http.MethodDelete, "/api/chat/session/"+id+"/draft/image", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, ts.state(t, id).Draft.Image)
}

func TestUploadDraftImage_Rejected(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createSession(t)

	tests := []struct {
		name string
		body gin.H
	}{
		{"not base64", gin.H{"data": "%%%"}},
		{"not an image", gin.H{"data": base64.StdEncoding.EncodeToString([]byte("plain text"))}},
		{"too large", gin.H{"data": base64.StdEncoding.EncodeToString(append(pngHeader, make([]byte, 2048)...))}},
		{"missing data", gin.H{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(http.MethodPost, "/api/chat/session/"+id+"/draft/image", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
	assert.Nil(t, ts.state(t, id).Draft.Image)
}

func TestSubmit_EmptyDraftIgnored(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createSession(t)

	for _, body := range []interface{}{nil, gin.H{"text": "   "}} {
		rec := ts.do(http.MethodPost, "/api/chat/session/"+id+"/submit", body)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"accepted":false}`, rec.Body.String())
	}

	assert.Empty(t, ts.state(t, id).Messages)
	assert.Empty(t, ts.fetcher.prompts)
}

func TestSubmit_StoredDraft(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createSession(t)
	ts.do(http.MethodPut, "/api/chat/session/"+id+"/draft", gin.H{"text": "Hello"})

	rec := ts.do(http.MethodPost, "/api/chat/session/"+id+"/submit", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp model.SubmitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, resp.Accepted)
	require.NotNil(t, resp.Handle)
	require.NotNil(t, resp.Message)
	assert.Equal(t, "Hello", resp.Message.UserText)
	assert.Equal(t, model.PlaceholderReply, resp.Message.BotReply)
	assert.True(t, resp.Message.Pending)

	state := ts.state(t, id)
	assert.Empty(t, state.Draft.Text)
	require.Len(t, state.Messages, 1)
	assert.True(t, state.Messages[0].Pending)

	close(ts.fetcher.release)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	msg, err := ts.service.AwaitResolution(ctx, *resp.Handle)
	require.NoError(t, err)
	assert.Equal(t, "echo: Hello", msg.BotReply)
	assert.False(t, msg.Pending)
}

func TestSubmit_TextKeepsUploadedImage(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createSession(t)
	rec := ts.do(http.MethodPost, "/api/chat/session/"+id+"/draft/image", gin.H{
		"data": "data:image/png;base64," + base64.StdEncoding.EncodeToString(pngHeader),
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(http.MethodPost, "/api/chat/session/"+id+"/submit", gin.H{"text": "What is this?"})
	require.Equal(t, http.StatusAccepted, rec.Code)

	prompt := <-ts.fetcher.prompts
	assert.Equal(t, "What is this?", prompt.Text)
	require.NotNil(t, prompt.Image)
	assert.Equal(t, "image/png", prompt.Image.MIMEType)
	assert.Nil(t, ts.state(t, id).Draft.Image)
}

func TestNotFound(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		method string
		path   string
		body   interface{}
	}{
		{http.MethodGet, "/api/chat/session/missing", nil},
		{http.MethodGet, "/api/chat/messages/missing", nil},
		{http.MethodGet, "/api/chat/session/del/missing", nil},
		{http.MethodPut, "/api/chat/session/missing/draft", gin.H{"text": "x"}},
		{http.MethodPut, "/api/chat/session/missing/menu", gin.H{"open": true}},
		{http.MethodPost, "/api/chat/session/missing/submit", gin.H{"text": "x"}},
		{http.MethodGet, "/api/chat/session/missing/events", nil},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := ts.do(tt.method, tt.path, tt.body)
			assert.Equal(t, http.StatusNotFound, rec.Code)
		})
	}
}

func TestSessionListAndDelete(t *testing.T) {
	ts := newTestServer(t)
	first := ts.createSession(t)
	ts.createSession(t)

	rec := ts.do(http.MethodPut, "/api/chat/session/"+first, gin.H{"title": "Renamed"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(http.MethodPost, "/api/chat/session/list", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Sessions []model.SessionResponse `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list.Sessions, 2)
	titles := []string{list.Sessions[0].Title, list.Sessions[1].Title}
	assert.ElementsMatch(t, []string{"Renamed", service.DefaultTitle}, titles)

	require.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/api/chat/session/del/"+first, nil).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(http.MethodGet, "/api/chat/session/"+first, nil).Code)

	require.Equal(t, http.StatusOK, ts.do(http.MethodPost, "/api/chat/session/clear", nil).Code)
	rec = ts.do(http.MethodPost, "/api/chat/session/list", nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Empty(t, list.Sessions)
}

func TestStreamEvents(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createSession(t)

	srv := httptest.NewServer(ts.router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/chat/session/"+id+"/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := make(chan string, 16)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			if line := scanner.Text(); strings.HasPrefix(line, "event: ") {
				events <- strings.TrimPrefix(line, "event: ")
			}
		}
		close(events)
	}()

	next := func() string {
		select {
		case e := <-events:
			return e
		case <-ctx.Done():
			t.Fatal("timed out waiting for event")
			return ""
		}
	}

	require.Equal(t, "status", next())

	_, err = ts.service.Submit(id, &model.Draft{Text: "ping"})
	require.NoError(t, err)
	assert.Equal(t, model.EventMessageSubmitted, next())

	close(ts.fetcher.release)
	assert.Equal(t, model.EventMessageResolved, next())
}

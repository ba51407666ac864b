// Package web serves the browser chat page.
package web

import (
	"embed"
	"errors"
	"html/template"
	"io/fs"
	"net/http"

	"chatwithai-backend/internal/attachment"
	"chatwithai-backend/internal/model"
	"chatwithai-backend/internal/service"
	"chatwithai-backend/internal/storage"

	"github.com/gin-gonic/gin"
)

//go:embed templates/*.html static/*
var content embed.FS

var funcs = template.FuncMap{
	// data: 链接默认会被 html/template 过滤
	"dataURL": func(img *model.Image) template.URL { return template.URL(attachment.DataURL(img)) },
	// safeHTML 只用于已经过 bluemonday 清理的回复
	"safeHTML": func(s string) template.HTML { return template.HTML(s) },
}

// Templates parses the embedded page templates.
func Templates() (*template.Template, error) {
	return template.New("").Funcs(funcs).ParseFS(content, "templates/*.html")
}

// StaticFS serves the embedded scripts and styles.
func StaticFS() http.FileSystem {
	sub, err := fs.Sub(content, "static")
	if err != nil {
		panic(err)
	}
	return http.FS(sub)
}

type pageData struct {
	Session  model.SessionStateResponse
	Messages []model.Message
	Draft    model.Draft
}

type PageHandler struct {
	chatService *service.ChatService
}

func NewPageHandler(chatService *service.ChatService) *PageHandler {
	return &PageHandler{chatService: chatService}
}

// Index 每次打开首页都开始一个新会话
func (p *PageHandler) Index(c *gin.Context) {
	session, err := p.chatService.CreateSession("")
	if err != nil {
		c.String(http.StatusInternalServerError, err.Error())
		return
	}
	c.Redirect(http.StatusFound, "/c/"+session.ID)
}

// Chat 服务端渲染会话页面
func (p *PageHandler) Chat(c *gin.Context) {
	session, err := p.chatService.GetSession(c.Param("session_id"))
	if err != nil {
		if errors.Is(err, storage.ErrSessionNotFound) {
			c.Redirect(http.StatusFound, "/")
			return
		}
		c.String(http.StatusInternalServerError, err.Error())
		return
	}

	c.HTML(http.StatusOK, "chat.html", pageData{
		Session:  model.NewSessionStateResponse(session),
		Messages: session.Messages,
		Draft:    session.Draft,
	})
}

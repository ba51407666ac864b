package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chatwithai-backend/internal/attachment"
	"chatwithai-backend/internal/config"
	"chatwithai-backend/internal/gemini"
	"chatwithai-backend/internal/handler"
	"chatwithai-backend/internal/render"
	"chatwithai-backend/internal/service"
	"chatwithai-backend/internal/storage"
	"chatwithai-backend/internal/web"
	"chatwithai-backend/pkg/logger"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "./configs/config.yaml", "配置文件路径")
	flag.Parse()

	// .env 可选，不存在时忽略
	_ = godotenv.Load(".env")

	// 加载配置
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 初始化日志
	if err := logger.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}

	client := gemini.NewClient(cfg.Gemini)
	if !client.HasAPIKey() {
		logger.Warn("Gemini API key is not configured; every answer will fail until GEMINI_API_KEY is set")
	}

	// 初始化服务
	chatService := service.NewChatService(cfg, storage.NewMemoryStorage(), client, render.NewHTMLRenderer())

	// 初始化处理器
	chatHandler := handler.NewChatHandler(chatService, attachment.NewLoader(cfg.Upload.MaxImageBytes))
	pageHandler := web.NewPageHandler(chatService)

	// 创建路由
	router, err := setupRouter(cfg, chatHandler, pageHandler)
	if err != nil {
		logger.Fatalf("Failed to set up router: %v", err)
	}

	// 创建HTTP服务器
	server := newServer(cfg, router, chatService)

	// 启动服务器
	go func() {
		logger.Infof("服务器启动在端口 %d (model %s)", cfg.Server.Port, cfg.Gemini.Model)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("服务器启动失败: %v", err)
		}
	}()

	// 等待信号优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("服务器正在关闭...")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	shutdown(ctx, server, chatService)
	logger.Info("服务器已关闭")
}

func newServer(cfg *config.Config, router http.Handler, chatService *service.ChatService) *http.Server {
	server := &http.Server{
		Addr:           fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:        router,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
	}
	// Shutdown 不会取消请求上下文，SSE 连接要由事件流关闭来结束
	server.RegisterOnShutdown(chatService.CloseStreams)

	return server
}

// shutdown 先关闭 HTTP 服务器，再在同一个期限内等待进行中的回答写回，
// 超时后剩余的以错误结束
func shutdown(ctx context.Context, server *http.Server, chatService *service.ChatService) (serverErr, serviceErr error) {
	if serverErr = server.Shutdown(ctx); serverErr != nil {
		logger.Errorf("服务器关闭失败: %v", serverErr)
	}
	if serviceErr = chatService.Close(ctx); serviceErr != nil {
		logger.Errorf("聊天服务关闭失败: %v", serviceErr)
	}
	return serverErr, serviceErr
}

func setupRouter(cfg *config.Config, chatHandler *handler.ChatHandler, pageHandler *web.PageHandler) (*gin.Engine, error) {
	// 设置gin模式
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	// 中间件
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	// CORS配置
	corsConfig := cors.Config{
		AllowOrigins:     cfg.CORS.AllowedOrigins,
		AllowMethods:     cfg.CORS.AllowedMethods,
		AllowHeaders:     cfg.CORS.AllowedHeaders,
		ExposeHeaders:    cfg.CORS.ExposedHeaders,
		AllowCredentials: cfg.CORS.AllowCredentials,
		MaxAge:           time.Duration(cfg.CORS.MaxAge) * time.Second,
	}
	router.Use(cors.New(corsConfig))

	// 页面
	tmpl, err := web.Templates()
	if err != nil {
		return nil, err
	}
	router.SetHTMLTemplate(tmpl)
	router.StaticFS("/static", web.StaticFS())
	router.GET("/", pageHandler.Index)
	router.GET("/c/:session_id", pageHandler.Chat)

	// 健康检查
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"timestamp": time.Now().Unix(),
		})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API路由
	api := router.Group("/api")
	{
		chat := api.Group("/chat")
		{
			chat.POST("/session", chatHandler.CreateSession)
			chat.POST("/session/list", chatHandler.GetSessionList)
			chat.GET("/session/del/:session_id", chatHandler.DeleteSession)
			chat.POST("/session/clear", chatHandler.ClearAllSessions)
			chat.GET("/session/:session_id", chatHandler.GetSession)
			chat.PUT("/session/:session_id", chatHandler.UpdateSessionTitle)
			chat.GET("/messages/:session_id", chatHandler.GetMessages)

			// 草稿与菜单
			chat.PUT("/session/:session_id/draft", chatHandler.UpdateDraftText)
			chat.POST("/session/:session_id/draft/image", chatHandler.UploadDraftImage)
			chat.DELETE("/session/:session_id/draft/image", chatHandler.RemoveDraftImage)
			chat.PUT("/session/:session_id/menu", chatHandler.UpdateMenu)

			chat.POST("/session/:session_id/submit", chatHandler.Submit)
			chat.GET("/session/:session_id/events", chatHandler.StreamEvents)
		}
	}

	return router, nil
}

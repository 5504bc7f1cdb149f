package web

import (
	"context"
	"embed"
	"errors"
	"html/template"
	"net/http"
	"time"

	"genai-studio/common"
	"genai-studio/internal/intake"
	"genai-studio/internal/studio"

	"github.com/gin-gonic/gin"
)

//go:embed templates/index.html
var templateFS embed.FS

// SessionCookie 浏览器会话 Cookie 名称
const SessionCookie = "studio_session"

// Server 单页应用的 HTTP 服务
type Server struct {
	sessions       *studio.Sessions
	previews       *intake.PreviewStore
	uploadLimit    int64
	downloadPrefix string
	modelName      string
	now            func() time.Time
}

// NewServer 创建 Web 服务
func NewServer(cfg *common.Config, sessions *studio.Sessions, previews *intake.PreviewStore) *Server {
	return &Server{
		sessions:       sessions,
		previews:       previews,
		uploadLimit:    cfg.MaxUploadBytes(),
		downloadPrefix: cfg.DownloadPrefix,
		modelName:      cfg.GenAIModelName,
		now:            time.Now,
	}
}

// Router 注册全部路由
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())
	r.MaxMultipartMemory = s.uploadLimit
	r.SetHTMLTemplate(template.Must(template.ParseFS(templateFS, "templates/index.html")))

	r.GET("/health", s.handleHealth)
	r.GET("/", s.handleIndex)
	r.GET(intake.PreviewPathPrefix+":id", s.handlePreview)

	api := r.Group("/api")
	{
		api.GET("/state", s.handleState)
		api.GET("/events", s.handleEvents)
		api.POST("/slots/:slot", s.handleAttach)
		api.DELETE("/slots/:slot", s.handleDetach)
		api.PUT("/prompt", s.handlePrompt)
		api.POST("/prompt/example", s.handleExample)
		api.POST("/generate", s.handleGenerate)
		api.GET("/result/download", s.handleDownload)
	}
	return r
}

// ListenAndServe 启动服务，ctx 结束时优雅退出
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		common.WithField("addr", addr).Info("Web server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	common.Info("Shutting down web server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		// SSE 是长连接，只在断开时记录一次
		entry := common.WithFields(map[string]interface{}{
			"method":   c.Request.Method,
			"path":     c.FullPath(),
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
		})
		if c.Writer.Status() >= http.StatusInternalServerError {
			entry.Error("Request failed")
			return
		}
		entry.Debug("Request handled")
	}
}

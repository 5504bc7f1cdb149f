package web

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"genai-studio/common"
	"genai-studio/internal/intake"
	"genai-studio/internal/studio"
	"genai-studio/internal/utils"

	"github.com/gin-gonic/gin"
)

// sseKeepAlive 保活注释的间隔，部分代理会断开长时间没有数据的连接
const sseKeepAlive = 25 * time.Second

// controller 按 Cookie 找到会话控制器，必要时下发新的会话 Cookie
func (s *Server) controller(c *gin.Context) *studio.Controller {
	id, _ := c.Cookie(SessionCookie)
	ctrl, sid := s.sessions.Get(id)
	if sid != id {
		c.SetSameSite(http.SameSiteLaxMode)
		c.SetCookie(SessionCookie, sid, 0, "/", "", false, true)
	}
	return ctrl
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"sessions": s.sessions.Len(),
		"previews": s.previews.Len(),
	})
}

func (s *Server) handleIndex(c *gin.Context) {
	ctrl := s.controller(c)
	c.HTML(http.StatusOK, "index.html", gin.H{
		"Snapshot":      ctrl.Snapshot(),
		"ExamplePrompt": studio.DefaultPrompt,
		"MaxUploadMB":   s.uploadLimit >> 20,
		"Model":         s.modelName,
	})
}

func (s *Server) handleState(c *gin.Context) {
	c.JSON(http.StatusOK, s.controller(c).Snapshot())
}

// handleEvents 以 SSE 推送会话快照，连接建立后先推送当前快照
func (s *Server) handleEvents(c *gin.Context) {
	ctrl := s.controller(c)
	ch, cancel := ctrl.Subscribe()
	defer cancel()

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	ticker := time.NewTicker(sseKeepAlive)
	defer ticker.Stop()

	done := c.Request.Context().Done()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-done:
			return false
		case <-ticker.C:
			_, err := fmt.Fprint(w, ": ping\n\n")
			return err == nil
		case snap, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent("snapshot", snap)
			return true
		}
	})
}

func (s *Server) handleAttach(c *gin.Context) {
	slot, ok := parseSlot(c)
	if !ok {
		return
	}

	fh, err := c.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "image file is required"})
		return
	}

	att, err := intake.FromFileHeader(fh, s.uploadLimit)
	if err != nil {
		common.WithError(err).WithField("slot", slot).Warn("Rejected upload")
		c.JSON(uploadStatus(err), gin.H{"error": err.Error()})
		return
	}

	snap, err := s.controller(c).Attach(slot, att)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, studio.ErrSessionClosed) {
			status = http.StatusGone
		}
		c.JSON(status, gin.H{"error": err.Error(), "state": snap})
		return
	}
	common.WithFields(map[string]interface{}{
		"slot":      slot,
		"file":      att.FileName,
		"mime_type": att.MIMEType,
		"size":      att.Size,
	}).Info("Image attached")
	c.JSON(http.StatusOK, snap)
}

func (s *Server) handleDetach(c *gin.Context) {
	slot, ok := parseSlot(c)
	if !ok {
		return
	}
	snap, err := s.controller(c).Detach(slot)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "state": snap})
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) handlePrompt(c *gin.Context) {
	var req struct {
		Prompt string `json:"prompt"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, s.controller(c).SetPrompt(req.Prompt))
}

func (s *Server) handleExample(c *gin.Context) {
	c.JSON(http.StatusOK, s.controller(c).LoadExample())
}

func (s *Server) handleGenerate(c *gin.Context) {
	snap, err := s.controller(c).Submit()
	switch {
	case errors.Is(err, studio.ErrBusy):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "state": snap})
	case errors.Is(err, studio.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "state": snap})
	case errors.Is(err, studio.ErrSessionClosed):
		c.JSON(http.StatusGone, gin.H{"error": err.Error(), "state": snap})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "state": snap})
	default:
		c.JSON(http.StatusAccepted, gin.H{"status": "started", "state": snap})
	}
}

// handleDownload 以附件形式返回生成结果，文件名总是 .png
func (s *Server) handleDownload(c *gin.Context) {
	state := s.controller(c).State()
	if state.Result == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no generated image"})
		return
	}

	mimeType, data, err := utils.DecodeDataURI(state.Result.ImageURL)
	if err != nil {
		common.WithError(err).Error("Stored result is not a valid data URI")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "result image is corrupted"})
		return
	}

	name := utils.DownloadFileName(s.downloadPrefix, s.now())
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	c.Data(http.StatusOK, mimeType, data)
}

// handlePreview 只能读取本会话槽位中的预览
func (s *Server) handlePreview(c *gin.Context) {
	mimeType, data, ok := s.controller(c).Preview(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "preview not found"})
		return
	}
	c.Header("Cache-Control", "private, no-store")
	c.Data(http.StatusOK, mimeType, data)
}

func parseSlot(c *gin.Context) (int, bool) {
	slot, err := strconv.Atoi(c.Param("slot"))
	if err != nil || slot < 0 || slot >= studio.SlotCount {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("slot must be 0..%d", studio.SlotCount-1)})
		return 0, false
	}
	return slot, true
}

func uploadStatus(err error) int {
	switch {
	case errors.Is(err, intake.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, intake.ErrNotImage):
		return http.StatusUnsupportedMediaType
	default:
		return http.StatusBadRequest
	}
}

package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"inara/internal/metrics"
	"inara/internal/models"
	"inara/internal/service/chat"
	"inara/internal/storage"
)

const (
	defaultMaxUploadMB = 10
	healthTimeout      = 3 * time.Second
)

// Handler wires HTTP routes to the chat service.
type Handler struct {
	chat      *chat.Service
	metrics   *metrics.Recorder
	logger    *zap.Logger
	maxUpload int64
}

// NewHandler constructs a Handler instance. maxUploadMB bounds the chat attachment size.
func NewHandler(service *chat.Service, rec *metrics.Recorder, logger *zap.Logger, maxUploadMB int) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxUploadMB <= 0 {
		maxUploadMB = defaultMaxUploadMB
	}
	return &Handler{
		chat:      service,
		metrics:   rec,
		logger:    logger,
		maxUpload: int64(maxUploadMB) << 20,
	}
}

// NewRouter builds a gin engine with CORS, request logging, recovery and all routes.
func (h *Handler) NewRouter() *gin.Engine {
	router := gin.New()
	router.MaxMultipartMemory = h.maxUpload
	router.Use(corsAll(), requestLogger(h.logger), gin.CustomRecovery(func(c *gin.Context, recovered any) {
		loggerFrom(c, h.logger).Error("panic recovered", zap.Any("panic", recovered), zap.Stack("stack"))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}))
	h.RegisterRoutes(router)
	return router
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/", h.root)
	router.GET("/healthz", h.health)
	router.GET("/metrics", gin.WrapH(h.metrics.Handler()))

	api := router.Group("/api")
	api.POST("/chat", h.chatTurn)
	api.POST("/sessions", h.createSession)
	api.GET("/sessions/:session_id", h.getSession)
	api.PATCH("/sessions/:session_id", h.renameSession)
	api.DELETE("/sessions/:session_id", h.deleteSession)
	api.GET("/users/:user_id/sessions", h.listUserSessions)
}

func (h *Handler) root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "online", "service": "Inara AI Backend"})
}

func (h *Handler) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()
	if err := h.chat.Ping(ctx); err != nil {
		loggerFrom(c, h.logger).Warn("health check failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// chatTurn accepts a form post with message, session_id, user_id and an optional file.
func (h *Handler) chatTurn(c *gin.Context) {
	logger := loggerFrom(c, h.logger)
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUpload+1<<20)
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		if err := c.Request.ParseMultipartForm(h.maxUpload); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				c.JSON(http.StatusBadRequest, gin.H{"error": h.tooLargeMessage()})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid multipart form"})
			return
		}
	}

	req := chat.Request{
		Message:   c.PostForm("message"),
		SessionID: strings.TrimSpace(c.PostForm("session_id")),
	}
	if userID := strings.TrimSpace(c.PostForm("user_id")); userID != "" {
		req.UserID = &userID
	}

	file, err := c.FormFile("file")
	switch {
	case errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart):
	case err != nil:
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid file upload"})
		return
	default:
		image, err := h.readUpload(file)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		req.Image = image
	}

	result, err := h.chat.Chat(c.Request.Context(), req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if result.Err != nil {
		logger.Warn("chat reply degraded", zap.String("session_id", result.SessionID), zap.Error(result.Err))
	}
	c.JSON(http.StatusOK, gin.H{
		"response":   result.Response,
		"session_id": result.SessionID,
		"title":      result.Title,
	})
}

// readUpload loads an attachment into memory. A missing or generic content
// type is replaced by a sniffed one.
func (h *Handler) readUpload(file *multipart.FileHeader) (*chat.Image, error) {
	if file.Size > h.maxUpload {
		return nil, errors.New(h.tooLargeMessage())
	}
	f, err := file.Open()
	if err != nil {
		return nil, errors.New("open file failed")
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, h.maxUpload+1))
	if err != nil {
		return nil, errors.New("read file failed")
	}
	if int64(len(data)) > h.maxUpload {
		return nil, errors.New(h.tooLargeMessage())
	}
	contentType := strings.TrimSpace(file.Header.Get("Content-Type"))
	if contentType == "" || strings.HasPrefix(contentType, "application/octet-stream") {
		contentType = http.DetectContentType(data)
	}
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = strings.TrimSpace(contentType[:i])
	}
	return &chat.Image{Data: data, MIMEType: contentType}, nil
}

func (h *Handler) tooLargeMessage() string {
	return fmt.Sprintf("file exceeds the %d MB upload limit", h.maxUpload>>20)
}

type createSessionRequest struct {
	UserID *string `json:"user_id"`
	Title  string  `json:"title"`
}

func (h *Handler) createSession(c *gin.Context) {
	var req createSessionRequest
	// an empty body creates an anonymous, untitled session
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.UserID != nil && strings.TrimSpace(*req.UserID) == "" {
		req.UserID = nil
	}
	session, err := h.chat.CreateSession(c.Request.Context(), req.UserID, req.Title)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, sessionBody(session))
}

func (h *Handler) getSession(c *gin.Context) {
	session, err := h.chat.Session(c.Request.Context(), c.Param("session_id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sessionBody(session))
}

type renameRequest struct {
	Title string `json:"title"`
}

func (h *Handler) renameSession(c *gin.Context) {
	var req renameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	session, err := h.chat.RenameSession(c.Request.Context(), c.Param("session_id"), req.Title)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sessionBody(session))
}

func (h *Handler) deleteSession(c *gin.Context) {
	deleted, err := h.chat.DeleteSession(c.Request.Context(), c.Param("session_id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	if !deleted {
		c.JSON(http.StatusNotFound, gin.H{"error": storage.ErrSessionNotFound.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) listUserSessions(c *gin.Context) {
	sessions, err := h.chat.UserSessions(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	if sessions == nil {
		sessions = []models.SessionSummary{}
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions, "limit": storage.MaxUserSessions})
}

// sessionBody renders a session with a non-null history and its message count.
func sessionBody(s *models.Session) gin.H {
	history := s.History
	if history == nil {
		history = []models.Turn{}
	}
	return gin.H{
		"session_id":    s.SessionID,
		"user_id":       s.UserID,
		"title":         s.Title,
		"created_at":    s.CreatedAt,
		"updated_at":    s.UpdatedAt,
		"history":       history,
		"message_count": len(history),
	}
}

func (h *Handler) writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	msg := "internal server error"
	switch {
	case errors.Is(err, storage.ErrSessionNotFound):
		status, msg = http.StatusNotFound, err.Error()
	case errors.Is(err, models.ErrInvalidTurn):
		status, msg = http.StatusBadRequest, "message or image is required"
	case errors.Is(err, chat.ErrEmptyTitle):
		status, msg = http.StatusBadRequest, err.Error()
	default:
		loggerFrom(c, h.logger).Error("request failed", zap.Error(err))
	}
	_ = c.Error(err)
	c.JSON(status, gin.H{"error": msg})
}

// Package httpapi serves the backend contract over HTTP on top of any
// api.Backend. Every response is an api.Envelope.
package httpapi

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/matheus3301/chatsync/internal/api"
	"github.com/matheus3301/chatsync/internal/demo"
	"github.com/matheus3301/chatsync/internal/metrics"
	"github.com/matheus3301/chatsync/internal/model"
)

// DefaultMaxUploadBytes bounds an uploaded file when no limit is given.
const DefaultMaxUploadBytes = 10_000_000

// FileSource serves uploaded files back. The demo backend implements it.
type FileSource interface {
	File(id string) (demo.StoredFile, bool)
}

// Handler exposes a backend over HTTP.
type Handler struct {
	backend        api.Backend
	logger         *zap.Logger
	maxUploadBytes int64
}

// NewHandler builds a Handler. A non-positive maxUploadBytes uses
// DefaultMaxUploadBytes.
func NewHandler(backend api.Backend, logger *zap.Logger, maxUploadBytes int64) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxUploadBytes <= 0 {
		maxUploadBytes = DefaultMaxUploadBytes
	}
	return &Handler{backend: backend, logger: logger, maxUploadBytes: maxUploadBytes}
}

// NewRouter returns a gin engine serving the contract at the default paths.
func NewRouter(h *Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), metrics.HTTPMetricsMiddleware())
	h.Register(r)
	return r
}

// Register mounts the contract routes.
func (h *Handler) Register(r gin.IRoutes) {
	r.GET("/api/messages", h.ListChanges)
	r.POST("/api/messages/send", h.SendMessage)
	r.POST("/api/messages/edit", h.EditMessage)
	r.POST("/api/messages/delete", h.DeleteMessage)
	r.POST("/api/messages/markAsRead", h.MarkAsRead)
	r.GET("/api/messages/draft", h.GetDraft)
	r.POST("/api/messages/draft", h.SaveDraft)
	r.POST("/api/files/upload", h.UploadFile)
	r.POST("/api/conversations/start", h.StartConversation)
	r.POST("/api/conversations/addParticipant", h.AddParticipant)
	r.POST("/api/conversations/removeParticipant", h.RemoveParticipant)
	r.GET("/api/users/search", h.SearchUsers)
	if fs, ok := h.backend.(FileSource); ok {
		r.GET("/files/:id", serveFile(fs))
	}
}

// ListChanges returns the delta after the "since" query parameter, which is
// either RFC 3339 or milliseconds since the epoch. Empty means everything.
func (h *Handler) ListChanges(c *gin.Context) {
	since, err := parseSince(c.Query("since"))
	if err != nil {
		fail(c, http.StatusBadRequest, "invalid since")
		return
	}
	cs, err := h.backend.ListChanges(c.Request.Context(), since)
	if err != nil {
		h.backendError(c, "list changes", err)
		return
	}
	ok(c, api.Envelope{Changes: &cs.Changes, ServerTime: &cs.ServerTime})
}

func (h *Handler) SendMessage(c *gin.Context) {
	var req model.SendRequest
	if !bind(c, &req) {
		return
	}
	if req.ConversationID == "" {
		fail(c, http.StatusBadRequest, "conversationId required")
		return
	}
	msg, err := h.backend.SendMessage(c.Request.Context(), req)
	if err != nil {
		h.backendError(c, "send message", err)
		return
	}
	ok(c, api.Envelope{Message: &msg})
}

func (h *Handler) EditMessage(c *gin.Context) {
	var req api.EditRequest
	if !bind(c, &req) {
		return
	}
	if err := h.backend.EditMessage(c.Request.Context(), req.ID, req.NewText); err != nil {
		h.backendError(c, "edit message", err)
		return
	}
	ok(c, api.Envelope{})
}

func (h *Handler) DeleteMessage(c *gin.Context) {
	var req api.DeleteRequest
	if !bind(c, &req) {
		return
	}
	if err := h.backend.DeleteMessage(c.Request.Context(), req.ID); err != nil {
		h.backendError(c, "delete message", err)
		return
	}
	ok(c, api.Envelope{})
}

func (h *Handler) MarkAsRead(c *gin.Context) {
	var req api.MarkAsReadRequest
	if !bind(c, &req) {
		return
	}
	if err := h.backend.MarkAsRead(c.Request.Context(), req.ConversationID, req.MessageIDs); err != nil {
		h.backendError(c, "mark as read", err)
		return
	}
	ok(c, api.Envelope{})
}

func (h *Handler) GetDraft(c *gin.Context) {
	cid := c.Query("conversationId")
	if cid == "" {
		fail(c, http.StatusBadRequest, "conversationId required")
		return
	}
	d, err := h.backend.GetDraft(c.Request.Context(), cid)
	if err != nil {
		h.backendError(c, "get draft", err)
		return
	}
	ok(c, api.Envelope{Draft: &d})
}

func (h *Handler) SaveDraft(c *gin.Context) {
	var d model.Draft
	if !bind(c, &d) {
		return
	}
	if d.ConversationID == "" {
		fail(c, http.StatusBadRequest, "conversationId required")
		return
	}
	if err := h.backend.SaveDraft(c.Request.Context(), d); err != nil {
		h.backendError(c, "save draft", err)
		return
	}
	ok(c, api.Envelope{})
}

// UploadFile accepts a multipart form with the file in field "file".
func (h *Handler) UploadFile(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		fail(c, http.StatusBadRequest, "file required")
		return
	}
	if fh.Size > h.maxUploadBytes {
		fail(c, http.StatusRequestEntityTooLarge, "file too large")
		return
	}
	src, err := fh.Open()
	if err != nil {
		fail(c, http.StatusBadRequest, "unreadable file")
		return
	}
	defer func() { _ = src.Close() }()
	data, err := io.ReadAll(io.LimitReader(src, h.maxUploadBytes+1))
	if err != nil {
		fail(c, http.StatusBadRequest, "unreadable file")
		return
	}
	if int64(len(data)) > h.maxUploadBytes {
		fail(c, http.StatusRequestEntityTooLarge, "file too large")
		return
	}

	att, err := h.backend.UploadFile(c.Request.Context(), model.File{
		Name: fh.Filename,
		Size: int64(len(data)),
		Type: fh.Header.Get("Content-Type"),
		Data: data,
	})
	if err != nil {
		h.backendError(c, "upload file", err)
		return
	}
	ok(c, api.Envelope{Attachment: &att})
}

func (h *Handler) StartConversation(c *gin.Context) {
	var req api.StartConversationRequest
	if !bind(c, &req) {
		return
	}
	conv, err := h.backend.StartConversation(c.Request.Context(), req.Participants)
	if err != nil {
		h.backendError(c, "start conversation", err)
		return
	}
	ok(c, api.Envelope{Conversation: &conv})
}

func (h *Handler) AddParticipant(c *gin.Context) {
	var req api.ParticipantRequest
	if !bind(c, &req) {
		return
	}
	if err := h.backend.AddParticipant(c.Request.Context(), req.ConversationID, req.UserID); err != nil {
		h.backendError(c, "add participant", err)
		return
	}
	ok(c, api.Envelope{})
}

func (h *Handler) RemoveParticipant(c *gin.Context) {
	var req api.ParticipantRequest
	if !bind(c, &req) {
		return
	}
	if err := h.backend.RemoveParticipant(c.Request.Context(), req.ConversationID, req.UserID); err != nil {
		h.backendError(c, "remove participant", err)
		return
	}
	ok(c, api.Envelope{})
}

func (h *Handler) SearchUsers(c *gin.Context) {
	users, err := h.backend.SearchUsers(c.Request.Context(), c.Query("q"))
	if err != nil {
		h.backendError(c, "search users", err)
		return
	}
	if users == nil {
		users = []model.User{}
	}
	ok(c, api.Envelope{Results: users})
}

func serveFile(fs FileSource) gin.HandlerFunc {
	return func(c *gin.Context) {
		f, found := fs.File(c.Param("id"))
		if !found {
			fail(c, http.StatusNotFound, "not_found")
			return
		}
		c.Header("Content-Disposition", "inline; filename="+strconv.Quote(f.Attachment.Name))
		c.Data(http.StatusOK, f.Attachment.Type, f.Data)
	}
}

func (h *Handler) backendError(c *gin.Context, op string, err error) {
	status := http.StatusUnprocessableEntity
	if errors.Is(err, demo.ErrNotFound) || errors.Is(err, demo.ErrConversationNotFound) {
		status = http.StatusNotFound
	}
	h.logger.Warn("backend call failed", zap.String("op", op), zap.Error(err))
	fail(c, status, err.Error())
}

func bind(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

func ok(c *gin.Context, env api.Envelope) {
	env.OK = true
	c.JSON(http.StatusOK, env)
}

func fail(c *gin.Context, status int, reason string) {
	c.JSON(status, api.Envelope{Error: reason})
}

func parseSince(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	return time.Parse(time.RFC3339Nano, raw)
}

// Package api exposes the chat service over HTTP. Success payloads wrap the
// primary resource under a named key (chat, chats, history, message); every
// failure path answers {"error": ...}.
package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/harbormind/harbormind/internal/chat"
	"github.com/harbormind/harbormind/internal/db"
	"github.com/harbormind/harbormind/internal/models"
)

const (
	userHeader     = "X-User-ID"
	userContextKey = "userID"

	defaultPageSize = 20
	maxPageSize     = 100
)

type Handler struct {
	db     *db.Database
	svc    *chat.Service
	logger *zap.Logger
}

func NewHandler(database *db.Database, svc *chat.Service, logger *zap.Logger) *Handler {
	return &Handler{db: database, svc: svc, logger: logger}
}

func (h *Handler) Register(e *echo.Echo) {
	g := e.Group("/api", h.requireUser)
	g.POST("/chats", h.CreateChat)
	g.GET("/chats", h.ListChats)
	g.GET("/chats/:uid", h.GetChat)
	g.DELETE("/chats/:uid", h.DeleteChat)
	g.GET("/chats/:uid/messages", h.GetHistory)
	g.POST("/chats/:uid/messages", h.SubmitMessage)
	g.POST("/messages/interaction", h.RecordInteraction)
}

// requireUser pulls the caller identity from the X-User-ID header. Identity
// verification happens upstream; an absent header is rejected outright.
func (h *Handler) requireUser(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID := c.Request().Header.Get(userHeader)
		if userID == "" {
			return c.JSON(http.StatusUnauthorized, errorBody("authentication required"))
		}
		c.Set(userContextKey, userID)
		return next(c)
	}
}

func currentUser(c echo.Context) string {
	userID, _ := c.Get(userContextKey).(string)
	return userID
}

func errorBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}

// ErrorHandler renders every unanticipated error, including panics recovered
// by middleware, as a generic {"error": ...} response.
func ErrorHandler(logger *zap.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		code := http.StatusInternalServerError
		msg := "An unexpected server error occurred."
		var httpErr *echo.HTTPError
		if errors.As(err, &httpErr) {
			code = httpErr.Code
			if m, ok := httpErr.Message.(string); ok {
				msg = m
			}
		} else {
			logger.Error("unhandled error", zap.Error(err), zap.String("path", c.Request().URL.Path))
		}
		_ = c.JSON(code, errorBody(msg))
	}
}

type createChatRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

func (h *Handler) CreateChat(c echo.Context) error {
	var req createChatRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid request body"))
	}

	newChat := &models.Chat{
		Title:       req.Title,
		Description: req.Description,
		OwnerID:     currentUser(c),
	}
	if err := h.db.CreateChat(newChat); err != nil {
		h.logger.Error("failed to create chat", zap.Error(err))
		return err
	}
	return c.JSON(http.StatusCreated, map[string]any{"chat": newChat})
}

func (h *Handler) ListChats(c echo.Context) error {
	page := queryInt(c, "page", 1)
	if page < 1 {
		page = 1
	}
	pageSize := queryInt(c, "page_size", defaultPageSize)
	if pageSize < 1 || pageSize > maxPageSize {
		pageSize = defaultPageSize
	}

	chats, total, err := h.db.ListChats(currentUser(c), pageSize, (page-1)*pageSize)
	if err != nil {
		h.logger.Error("failed to list chats", zap.Error(err))
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{
		"chats":     chats,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

type chatDetail struct {
	models.Chat
	Messages []models.Message `json:"messages"`
}

func (h *Handler) GetChat(c echo.Context) error {
	found, err := h.db.GetChat(c.Param("uid"))
	if errors.Is(err, db.ErrNotFound) {
		return c.JSON(http.StatusNotFound, errorBody("Chat not found."))
	}
	if err != nil {
		return err
	}
	if found.OwnerID != currentUser(c) {
		return c.JSON(http.StatusForbidden, errorBody("You do not have permission to access this chat."))
	}

	messages, err := h.db.ListMessages(found.UID)
	if err != nil {
		h.logger.Error("failed to list chat messages", zap.Error(err), zap.String("chat", found.UID))
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"chat": chatDetail{Chat: *found, Messages: messages}})
}

func (h *Handler) DeleteChat(c echo.Context) error {
	found, err := h.db.GetAnyChat(c.Param("uid"))
	if errors.Is(err, db.ErrNotFound) {
		return c.JSON(http.StatusNotFound, errorBody("Chat not found."))
	}
	if err != nil {
		return err
	}
	if found.OwnerID != currentUser(c) {
		return c.JSON(http.StatusForbidden, errorBody("You do not have permission to delete this chat."))
	}
	if !found.IsActive {
		return c.JSON(http.StatusBadRequest, errorBody("This chat is already inactive."))
	}

	if err := h.db.SoftDeleteChat(found.UID); err != nil {
		h.logger.Error("failed to delete chat", zap.Error(err), zap.String("chat", found.UID))
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) GetHistory(c echo.Context) error {
	found, err := h.db.GetAnyChat(c.Param("uid"))
	if errors.Is(err, db.ErrNotFound) {
		return c.JSON(http.StatusNotFound, errorBody("Chat not found."))
	}
	if err != nil {
		return err
	}
	if found.OwnerID != currentUser(c) {
		return c.JSON(http.StatusForbidden, errorBody("You are not authorized to access this chat."))
	}
	if !found.IsActive {
		return c.JSON(http.StatusBadRequest, errorBody("This chat is inactive."))
	}

	messages, err := h.db.ListMessages(found.UID)
	if err != nil {
		h.logger.Error("failed to list chat messages", zap.Error(err), zap.String("chat", found.UID))
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"history": messages})
}

type submitMessageRequest struct {
	Text string `json:"text"`
}

func (h *Handler) SubmitMessage(c echo.Context) error {
	var req submitMessageRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid request body"))
	}

	msg, err := h.svc.SubmitUserMessage(c.Request().Context(), c.Param("uid"), currentUser(c), req.Text)
	switch {
	case errors.Is(err, chat.ErrInvalidInput):
		return c.JSON(http.StatusBadRequest, errorBody("text must not be empty"))
	case errors.Is(err, chat.ErrNotFound):
		return c.JSON(http.StatusNotFound, errorBody("Chat not found or you do not have access to it."))
	case errors.Is(err, chat.ErrAgentUnavailable):
		return c.JSON(http.StatusServiceUnavailable, errorBody("The assistant is currently unavailable due to a configuration problem."))
	case err != nil:
		h.logger.Error("message submission failed", zap.Error(err), zap.String("chat", c.Param("uid")))
		return c.JSON(http.StatusInternalServerError, errorBody("There was a problem contacting the assistant."))
	}
	return c.JSON(http.StatusCreated, map[string]any{"message": msg})
}

type interactionRequest struct {
	MessageUID string `json:"message_uid"`
	IsLike     *bool  `json:"is_like"`
}

func (h *Handler) RecordInteraction(c echo.Context) error {
	var req interactionRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid request body"))
	}
	if req.MessageUID == "" {
		return c.JSON(http.StatusBadRequest, errorBody("message_uid is required"))
	}
	liked := true
	if req.IsLike != nil {
		liked = *req.IsLike
	}

	err := h.svc.RecordInteraction(req.MessageUID, liked)
	switch {
	case errors.Is(err, chat.ErrNotFound):
		return c.JSON(http.StatusNotFound, errorBody("Message not found."))
	case errors.Is(err, chat.ErrNotSupported):
		return c.JSON(http.StatusNotImplemented, errorBody("Interaction feature not available for this message."))
	case err != nil:
		h.logger.Error("interaction failed", zap.Error(err), zap.String("message", req.MessageUID))
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"detail": "Interaction recorded successfully."})
}

func queryInt(c echo.Context, name string, fallback int) int {
	raw := c.QueryParam(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

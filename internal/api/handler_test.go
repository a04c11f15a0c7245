package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
	"go.uber.org/zap"

	"github.com/harbormind/harbormind/internal/agent"
	"github.com/harbormind/harbormind/internal/chat"
	"github.com/harbormind/harbormind/internal/db"
	"github.com/harbormind/harbormind/internal/models"
)

type stubRunner struct {
	output string
	err    error
}

func (s *stubRunner) Run(context.Context, []llms.ChatMessage, string) (*agent.Result, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &agent.Result{Output: s.output}, nil
}

func newTestServer(t *testing.T, runner agent.Runner) (*echo.Echo, *db.Database) {
	t.Helper()
	database, err := db.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	logger := zap.NewNop()
	svc := chat.NewService(database, runner, 0, logger)

	e := echo.New()
	e.HTTPErrorHandler = ErrorHandler(logger)
	e.Use(middleware.Recover())
	NewHandler(database, svc, logger).Register(e)
	return e, database
}

func doRequest(e *echo.Echo, method, target, userID, body string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if userID != "" {
		req.Header.Set(userHeader, userID)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func createChatFor(t *testing.T, database *db.Database, owner string) *models.Chat {
	t.Helper()
	c := &models.Chat{OwnerID: owner}
	require.NoError(t, database.CreateChat(c))
	return c
}

func TestMissingUserHeader(t *testing.T) {
	e, _ := newTestServer(t, nil)

	rec := doRequest(e, http.MethodGet, "/api/chats", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, decodeBody(t, rec), "error")
}

func TestCreateChat(t *testing.T) {
	e, _ := newTestServer(t, nil)

	rec := doRequest(e, http.MethodPost, "/api/chats", "alice", `{"title":"Voyages"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	body := decodeBody(t, rec)
	created, ok := body["chat"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Voyages", created["title"])
	assert.Equal(t, "alice", created["owner_id"])
	assert.NotEmpty(t, created["uid"])
}

func TestListChats(t *testing.T) {
	e, database := newTestServer(t, nil)
	createChatFor(t, database, "alice")
	createChatFor(t, database, "alice")
	createChatFor(t, database, "bob")

	rec := doRequest(e, http.MethodGet, "/api/chats?page=1&page_size=1", "alice", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, float64(2), body["total"])
	assert.Equal(t, float64(1), body["page"])
	assert.Len(t, body["chats"], 1)
}

func TestGetChat_WithMessages(t *testing.T) {
	e, database := newTestServer(t, nil)
	c := createChatFor(t, database, "alice")
	require.NoError(t, database.SaveMessage(&models.Message{ChatUID: c.UID, Role: models.RoleUser, Text: "hi"}))

	rec := doRequest(e, http.MethodGet, "/api/chats/"+c.UID, "alice", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	got, ok := body["chat"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, c.UID, got["uid"])
	assert.Len(t, got["messages"], 1)
}

func TestGetChat_ForeignOwnerForbidden(t *testing.T) {
	e, database := newTestServer(t, nil)
	c := createChatFor(t, database, "alice")

	rec := doRequest(e, http.MethodGet, "/api/chats/"+c.UID, "bob", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	body := decodeBody(t, rec)
	assert.Contains(t, body, "error")
	assert.NotContains(t, body, "chat")
}

func TestGetChat_NotFound(t *testing.T) {
	e, _ := newTestServer(t, nil)

	rec := doRequest(e, http.MethodGet, "/api/chats/missing", "alice", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteChat(t *testing.T) {
	e, database := newTestServer(t, nil)
	c := createChatFor(t, database, "alice")

	rec := doRequest(e, http.MethodDelete, "/api/chats/"+c.UID, "alice", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doRequest(e, http.MethodGet, "/api/chats/"+c.UID, "alice", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Second delete of an already-inactive chat.
	rec = doRequest(e, http.MethodDelete, "/api/chats/"+c.UID, "alice", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeleteChat_ForeignOwnerForbidden(t *testing.T) {
	e, database := newTestServer(t, nil)
	c := createChatFor(t, database, "alice")

	rec := doRequest(e, http.MethodDelete, "/api/chats/"+c.UID, "bob", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestGetHistory(t *testing.T) {
	e, database := newTestServer(t, nil)
	c := createChatFor(t, database, "alice")
	require.NoError(t, database.SaveMessage(&models.Message{ChatUID: c.UID, Role: models.RoleUser, Text: "hi"}))

	rec := doRequest(e, http.MethodGet, "/api/chats/"+c.UID+"/messages", "alice", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody(t, rec)["history"], 1)
}

func TestGetHistory_InactiveChat(t *testing.T) {
	e, database := newTestServer(t, nil)
	c := createChatFor(t, database, "alice")
	require.NoError(t, database.SoftDeleteChat(c.UID))

	rec := doRequest(e, http.MethodGet, "/api/chats/"+c.UID+"/messages", "alice", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitMessage(t *testing.T) {
	e, database := newTestServer(t, &stubRunner{output: "Ahoy!"})
	c := createChatFor(t, database, "alice")

	rec := doRequest(e, http.MethodPost, "/api/chats/"+c.UID+"/messages", "alice", `{"text":"Hello"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	body := decodeBody(t, rec)
	msg, ok := body["message"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "assistant", msg["role"])
	assert.Equal(t, "Ahoy!", msg["text"])
}

func TestSubmitMessage_EmptyText(t *testing.T) {
	e, database := newTestServer(t, &stubRunner{output: "ok"})
	c := createChatFor(t, database, "alice")

	rec := doRequest(e, http.MethodPost, "/api/chats/"+c.UID+"/messages", "alice", `{"text":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitMessage_ForeignChatReadsAsNotFound(t *testing.T) {
	e, database := newTestServer(t, &stubRunner{output: "ok"})
	c := createChatFor(t, database, "alice")

	rec := doRequest(e, http.MethodPost, "/api/chats/"+c.UID+"/messages", "bob", `{"text":"Hello"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSubmitMessage_AgentUnavailable(t *testing.T) {
	e, database := newTestServer(t, nil)
	c := createChatFor(t, database, "alice")

	rec := doRequest(e, http.MethodPost, "/api/chats/"+c.UID+"/messages", "alice", `{"text":"Hello"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestSubmitMessage_AgentFailure(t *testing.T) {
	e, database := newTestServer(t, &stubRunner{err: assert.AnError})
	c := createChatFor(t, database, "alice")

	rec := doRequest(e, http.MethodPost, "/api/chats/"+c.UID+"/messages", "alice", `{"text":"Hello"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	// Generic message only: the cause stays in the logs.
	assert.NotContains(t, rec.Body.String(), assert.AnError.Error())

	messages, err := database.ListMessages(c.UID)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, models.RoleUser, messages[0].Role)
}

func TestRecordInteraction(t *testing.T) {
	e, database := newTestServer(t, nil)
	c := createChatFor(t, database, "alice")
	msg := &models.Message{ChatUID: c.UID, Role: models.RoleAssistant, Text: "reply"}
	require.NoError(t, database.SaveMessage(msg))

	rec := doRequest(e, http.MethodPost, "/api/messages/interaction", "alice",
		`{"message_uid":"`+msg.UID+`","is_like":false}`)
	require.Equal(t, http.StatusOK, rec.Code)

	got, err := database.GetMessage(msg.UID)
	require.NoError(t, err)
	assert.Equal(t, models.WeightDisliked, got.Weight)
}

func TestRecordInteraction_MissingUID(t *testing.T) {
	e, _ := newTestServer(t, nil)

	rec := doRequest(e, http.MethodPost, "/api/messages/interaction", "alice", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRecordInteraction_UnknownMessage(t *testing.T) {
	e, _ := newTestServer(t, nil)

	rec := doRequest(e, http.MethodPost, "/api/messages/interaction", "alice",
		`{"message_uid":"missing"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"campuschat/internal/auth"
	"campuschat/internal/chat"
	"campuschat/internal/models"
	"campuschat/internal/registry"
	"campuschat/internal/router"
	"campuschat/internal/storage"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testTime = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type staticVerifier map[string]string

func (v staticVerifier) VerifyToken(_ context.Context, token string) (string, error) {
	if userID, ok := v[token]; ok {
		return userID, nil
	}
	return "", auth.ErrInvalidToken
}

type inbox struct {
	mu   sync.Mutex
	msgs []models.ServerMessage
}

func (i *inbox) Send(msg models.ServerMessage) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.msgs = append(i.msgs, msg)
	return nil
}

func (i *inbox) received() []models.ServerMessage {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]models.ServerMessage(nil), i.msgs...)
}

type testAPI struct {
	handler http.Handler
	store   *storage.MemoryStorage
	reg     *registry.Registry
	router  *router.Router
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	store := storage.NewMemoryStorage()
	reg := registry.New()
	rt := router.New(store, reg, nil)
	verifier := staticVerifier{"alice-token": "alice", "bob-token": "bob", "carol-token": "carol"}

	a := New(verifier, store, rt, nil)
	var ids atomic.Int64
	a.newID = func() string {
		return fmt.Sprintf("conv-%d", ids.Add(1))
	}

	r := chi.NewRouter()
	r.Mount("/api/conversations", a.Routes())
	return &testAPI{handler: r, store: store, reg: reg, router: rt}
}

func (ta *testAPI) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ta.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

func (ta *testAPI) seed(t *testing.T, id string, participants ...string) {
	t.Helper()
	conv, err := chat.NewConversation(id, participants, "book-1", testTime)
	require.NoError(t, err)
	require.NoError(t, ta.store.CreateConversation(context.Background(), conv))
}

func TestRequireAuth(t *testing.T) {
	ta := newTestAPI(t)

	t.Run("MissingToken", func(t *testing.T) {
		rec := ta.do(t, http.MethodGet, "/api/conversations", "", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("InvalidToken", func(t *testing.T) {
		rec := ta.do(t, http.MethodGet, "/api/conversations", "forged", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("QueryToken", func(t *testing.T) {
		rec := ta.do(t, http.MethodGet, "/api/conversations?token=alice-token", "", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	})
}

func TestCreateConversation(t *testing.T) {
	ta := newTestAPI(t)

	bobInbox := &inbox{}
	ta.reg.Register("bob", registry.NewConnection("bob", bobInbox))

	rec := ta.do(t, http.MethodPost, "/api/conversations", "alice-token", CreateConversationRequest{
		ParticipantID:  "bob",
		ProductID:      "book-1",
		InitialMessage: "Is the calculus book still available?",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	conv := decode[models.Conversation](t, rec)
	assert.Equal(t, "conv-1", conv.ID)
	assert.Equal(t, []string{"alice", "bob"}, conv.Participants)
	assert.Equal(t, models.ConversationStatusActive, conv.Status)
	require.NotNil(t, conv.LastMessage)
	assert.Equal(t, "Is the calculus book still available?", conv.LastMessage.Content)
	assert.Equal(t, 1, conv.UnreadCount["bob"])
	assert.Equal(t, 0, conv.UnreadCount["alice"])

	got := bobInbox.received()
	require.Len(t, got, 1)
	assert.Equal(t, models.ServerMessageTypeNewMessage, got[0].Type)

	t.Run("DuplicateConflicts", func(t *testing.T) {
		rec := ta.do(t, http.MethodPost, "/api/conversations", "bob-token", CreateConversationRequest{
			ParticipantID: "alice",
			ProductID:     "book-1",
		})
		require.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, "conv-1", decode[models.Conversation](t, rec).ID)
	})

	t.Run("OtherProductAllowed", func(t *testing.T) {
		rec := ta.do(t, http.MethodPost, "/api/conversations", "bob-token", CreateConversationRequest{
			ParticipantID: "alice",
			ProductID:     "lamp-7",
		})
		require.Equal(t, http.StatusCreated, rec.Code)
		conv := decode[models.Conversation](t, rec)
		assert.Nil(t, conv.LastMessage)
	})
}

func TestCreateConversationConcurrent(t *testing.T) {
	ta := newTestAPI(t)

	const attempts = 8
	codes := make([]int, attempts)
	var wg sync.WaitGroup
	for i := range attempts {
		wg.Go(func() {
			token, participant := "alice-token", "bob"
			if i%2 == 1 {
				token, participant = "bob-token", "alice"
			}
			rec := ta.do(t, http.MethodPost, "/api/conversations", token, CreateConversationRequest{
				ParticipantID: participant,
				ProductID:     "book-1",
			})
			codes[i] = rec.Code
		})
	}
	wg.Wait()

	created := 0
	for _, code := range codes {
		if code == http.StatusCreated {
			created++
			continue
		}
		assert.Equal(t, http.StatusConflict, code)
	}
	assert.Equal(t, 1, created, "exactly one create wins")

	convs, err := ta.store.ListConversations(context.Background(), "alice")
	require.NoError(t, err)
	assert.Len(t, convs, 1)
}

func TestCreateConversationRejections(t *testing.T) {
	tests := []struct {
		name string
		body any
	}{
		{"BadJSON", "not an object"},
		{"MissingParticipant", CreateConversationRequest{ProductID: "book-1"}},
		{"InvalidParticipant", CreateConversationRequest{ParticipantID: "bob.smith", ProductID: "book-1"}},
		{"MissingProduct", CreateConversationRequest{ParticipantID: "bob"}},
		{"WithSelf", CreateConversationRequest{ParticipantID: "alice", ProductID: "book-1"}},
		{"MarkupOnlyMessage", CreateConversationRequest{ParticipantID: "bob", ProductID: "book-1", InitialMessage: "<script></script>"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ta := newTestAPI(t)
			rec := ta.do(t, http.MethodPost, "/api/conversations", "alice-token", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())

			convs, err := ta.store.ListConversations(context.Background(), "alice")
			require.NoError(t, err)
			assert.Empty(t, convs)
		})
	}
}

func TestListConversations(t *testing.T) {
	ta := newTestAPI(t)
	ctx := context.Background()

	rec := ta.do(t, http.MethodGet, "/api/conversations", "alice-token", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]\n", rec.Body.String())

	ta.seed(t, "c1", "alice", "bob")
	ta.seed(t, "c2", "alice", "carol")
	ta.seed(t, "c3", "bob", "carol")
	require.NoError(t, ta.router.HandleChatMessage(ctx, "carol", models.ChatMessageEvent{ConversationID: "c2", Content: "hi"}))

	rec = ta.do(t, http.MethodGet, "/api/conversations", "alice-token", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	convs := decode[[]models.Conversation](t, rec)
	require.Len(t, convs, 2)
	assert.Equal(t, "c2", convs[0].ID, "most recently updated first")
	assert.Equal(t, "c1", convs[1].ID)

	_, err := ta.store.UpdateStatus(ctx, "c2", models.ConversationStatusDeleted, testTime)
	require.NoError(t, err)

	rec = ta.do(t, http.MethodGet, "/api/conversations", "alice-token", nil)
	convs = decode[[]models.Conversation](t, rec)
	require.Len(t, convs, 1)
	assert.Equal(t, "c1", convs[0].ID)
}

func TestMessages(t *testing.T) {
	ta := newTestAPI(t)
	ctx := context.Background()
	ta.seed(t, "c1", "alice", "bob")

	require.NoError(t, ta.router.HandleChatMessage(ctx, "alice", models.ChatMessageEvent{ConversationID: "c1", Content: "first"}))
	require.NoError(t, ta.router.HandleChatMessage(ctx, "bob", models.ChatMessageEvent{ConversationID: "c1", Content: "second"}))

	t.Run("History", func(t *testing.T) {
		rec := ta.do(t, http.MethodGet, "/api/conversations/c1/messages", "bob-token", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		msgs := decode[[]models.Message](t, rec)
		require.Len(t, msgs, 2)
		assert.Equal(t, "first", msgs[0].Content)
		assert.Equal(t, "second", msgs[1].Content)
	})

	t.Run("NotParticipant", func(t *testing.T) {
		rec := ta.do(t, http.MethodGet, "/api/conversations/c1/messages", "carol-token", nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("Unknown", func(t *testing.T) {
		rec := ta.do(t, http.MethodGet, "/api/conversations/nope/messages", "alice-token", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("MarkAllRead", func(t *testing.T) {
		rec := ta.do(t, http.MethodPost, "/api/conversations/c1/read", "alice-token", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, 1, decode[MarkAllReadResponse](t, rec).Marked)

		conv, err := ta.store.GetConversation(ctx, "c1")
		require.NoError(t, err)
		assert.Equal(t, 0, conv.UnreadCount["alice"])
		assert.Equal(t, 1, conv.UnreadCount["bob"])

		rec = ta.do(t, http.MethodPost, "/api/conversations/c1/read", "alice-token", nil)
		assert.Equal(t, 0, decode[MarkAllReadResponse](t, rec).Marked)

		rec = ta.do(t, http.MethodPost, "/api/conversations/c1/read", "carol-token", nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("DeletedIsNotFound", func(t *testing.T) {
		_, err := ta.store.UpdateStatus(ctx, "c1", models.ConversationStatusDeleted, testTime)
		require.NoError(t, err)

		rec := ta.do(t, http.MethodGet, "/api/conversations/c1/messages", "alice-token", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestSendMessage(t *testing.T) {
	ta := newTestAPI(t)
	ta.seed(t, "c1", "alice", "bob")
	bobInbox := &inbox{}
	ta.reg.Register("bob", registry.NewConnection("bob", bobInbox))

	rec := ta.do(t, http.MethodPost, "/api/conversations/c1/messages", "alice-token", SendMessageRequest{
		Content:     " Tom & Jerry ",
		Attachments: []string{"https://img.example/1.png"},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	msg := decode[models.Message](t, rec)
	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, "c1", msg.ConversationID)
	assert.Equal(t, "alice", msg.Sender)
	assert.Equal(t, "Tom & Jerry", msg.Content)
	assert.Equal(t, []string{"https://img.example/1.png"}, msg.Attachments)
	assert.Equal(t, []string{"alice"}, msg.ReadBy)

	got := bobInbox.received()
	require.Len(t, got, 1)
	assert.Equal(t, models.ServerMessageTypeNewMessage, got[0].Type)
	assert.Equal(t, msg.ID, got[0].Message.ID)

	rec = ta.do(t, http.MethodGet, "/api/conversations/c1/messages", "bob-token", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	history := decode[[]models.Message](t, rec)
	require.Len(t, history, 1)
	assert.Equal(t, msg.ID, history[0].ID)

	conv, err := ta.store.GetConversation(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, 1, conv.UnreadCount["bob"])
}

func TestSendMessageRejections(t *testing.T) {
	ta := newTestAPI(t)
	ta.seed(t, "gone", "alice", "bob")
	_, err := ta.store.UpdateStatus(context.Background(), "gone", models.ConversationStatusDeleted, testTime)
	require.NoError(t, err)
	ta.seed(t, "c1", "alice", "bob")

	tests := []struct {
		name  string
		path  string
		token string
		body  any
		code  int
	}{
		{"NoToken", "/api/conversations/c1/messages", "", SendMessageRequest{Content: "hi"}, http.StatusUnauthorized},
		{"InvalidBody", "/api/conversations/c1/messages", "alice-token", "not an object", http.StatusBadRequest},
		{"Empty", "/api/conversations/c1/messages", "alice-token", SendMessageRequest{Content: "   "}, http.StatusBadRequest},
		{"MarkupOnly", "/api/conversations/c1/messages", "alice-token", SendMessageRequest{Content: "<script>x</script>"}, http.StatusBadRequest},
		{"NotParticipant", "/api/conversations/c1/messages", "carol-token", SendMessageRequest{Content: "hi"}, http.StatusForbidden},
		{"Unknown", "/api/conversations/nope/messages", "alice-token", SendMessageRequest{Content: "hi"}, http.StatusNotFound},
		{"Deleted", "/api/conversations/gone/messages", "alice-token", SendMessageRequest{Content: "hi"}, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ta.do(t, http.MethodPost, tt.path, tt.token, tt.body)
			assert.Equal(t, tt.code, rec.Code)
		})
	}

	msgs, err := ta.store.ListMessages(context.Background(), "c1")
	require.NoError(t, err)
	assert.Empty(t, msgs, "rejected sends are not persisted")
}

func TestUpdateStatus(t *testing.T) {
	ta := newTestAPI(t)
	ta.seed(t, "c1", "alice", "bob")

	rec := ta.do(t, http.MethodPatch, "/api/conversations/c1/status", "bob-token", UpdateStatusRequest{Status: models.ConversationStatusArchived})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.ConversationStatusArchived, decode[models.Conversation](t, rec).Status)

	// archived conversations keep accepting messages
	err := ta.router.HandleChatMessage(context.Background(), "alice", models.ChatMessageEvent{ConversationID: "c1", Content: "still there?"})
	require.NoError(t, err)

	rec = ta.do(t, http.MethodPatch, "/api/conversations/c1/status", "bob-token", UpdateStatusRequest{Status: "closed"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ta.do(t, http.MethodPatch, "/api/conversations/c1/status", "carol-token", UpdateStatusRequest{Status: models.ConversationStatusDeleted})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = ta.do(t, http.MethodPatch, "/api/conversations/nope/status", "bob-token", UpdateStatusRequest{Status: models.ConversationStatusDeleted})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// a second active conversation about the same product blocks reactivation
	ta.seed(t, "c2", "alice", "bob")
	rec = ta.do(t, http.MethodPatch, "/api/conversations/c1/status", "alice-token", UpdateStatusRequest{Status: models.ConversationStatusActive})
	assert.Equal(t, http.StatusConflict, rec.Code)
	_, err = ta.store.UpdateStatus(context.Background(), "c2", models.ConversationStatusArchived, testTime)
	require.NoError(t, err)

	rec = ta.do(t, http.MethodPatch, "/api/conversations/c1/status", "alice-token", UpdateStatusRequest{Status: models.ConversationStatusDeleted})
	require.Equal(t, http.StatusOK, rec.Code)

	err = ta.router.HandleChatMessage(context.Background(), "alice", models.ChatMessageEvent{ConversationID: "c1", Content: "hello?"})
	assert.ErrorIs(t, err, router.ErrConversationNotFound)
}

type fakeIssuer struct {
	revoked []string
}

func (f *fakeIssuer) IssueToken(userID string) (auth.TokenResponse, error) {
	if userID == "bad id" {
		return auth.TokenResponse{}, errors.New("invalid user id")
	}
	return auth.TokenResponse{Success: true, UserID: userID, Token: "tok-" + userID, TokenExpiry: 42}, nil
}

func (f *fakeIssuer) Revoke(token string) error {
	if token != "tok-alice" {
		return auth.ErrInvalidToken
	}
	f.revoked = append(f.revoked, token)
	return nil
}

func TestAdminHandler(t *testing.T) {
	issuer := &fakeIssuer{}
	h := NewAdminHandler(issuer)
	r := chi.NewRouter()
	r.Post("/admin/tokens", h.IssueTokenHandler)
	r.Post("/admin/tokens/revoke", h.RevokeTokenHandler)

	post := func(path string, body any) *httptest.ResponseRecorder {
		var buf bytes.Buffer
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, &buf))
		return rec
	}

	t.Run("Issue", func(t *testing.T) {
		rec := post("/admin/tokens", IssueTokenRequest{UserID: "alice"})
		require.Equal(t, http.StatusOK, rec.Code)
		resp := decode[auth.TokenResponse](t, rec)
		assert.True(t, resp.Success)
		assert.Equal(t, "tok-alice", resp.Token)
	})

	t.Run("IssueMissingUser", func(t *testing.T) {
		rec := post("/admin/tokens", IssueTokenRequest{})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("IssueInvalidUser", func(t *testing.T) {
		rec := post("/admin/tokens", IssueTokenRequest{UserID: "bad id"})
		require.Equal(t, http.StatusBadRequest, rec.Code)
		resp := decode[auth.TokenResponse](t, rec)
		assert.False(t, resp.Success)
		assert.Contains(t, resp.Message, "invalid user id")
	})

	t.Run("Revoke", func(t *testing.T) {
		rec := post("/admin/tokens/revoke", RevokeTokenRequest{Token: "tok-alice"})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, []string{"tok-alice"}, issuer.revoked)
	})

	t.Run("RevokeInvalid", func(t *testing.T) {
		rec := post("/admin/tokens/revoke", RevokeTokenRequest{Token: "forged"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

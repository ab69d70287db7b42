package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"campuschat/internal/api"
	"campuschat/internal/auth"
	"campuschat/internal/chat"
	"campuschat/internal/models"
	"campuschat/internal/presence"
	"campuschat/internal/registry"
	"campuschat/internal/router"
	"campuschat/internal/storage"
	"campuschat/internal/ws"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAuthService(t *testing.T) *auth.AuthService {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	as, err := auth.NewAuthService(ctx, auth.Config{
		Secret:      "MDEyMzQ1Njc4OWFiY2RlZg==", // 0123456789abcdef
		TokenExpiry: time.Hour,
	})
	require.NoError(t, err)
	return as
}

type servers struct {
	api   *httptest.Server
	admin *httptest.Server
	store *storage.MemoryStorage
}

func newServers(t *testing.T, allowedOrigins []string) *servers {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	authService := newAuthService(t)
	store := storage.NewMemoryStorage()
	reg := registry.New()
	rt := router.New(store, reg, nil)
	hub := ws.NewHub(presence.NewTracker(reg, nil), rt)
	gateway := ws.NewServer(ctx, authService, hub, ws.ServerConfig{AllowedOrigins: allowedOrigins}, nil)

	apiSrv := httptest.NewServer(newAPIRouter(api.New(authService, store, rt, nil), gateway, allowedOrigins))
	adminSrv := httptest.NewServer(newAdminRouter(authService))
	t.Cleanup(func() {
		cancel()
		apiSrv.Close()
		adminSrv.Close()
	})
	return &servers{api: apiSrv, admin: adminSrv, store: store}
}

func (s *servers) issueToken(t *testing.T, userID string) string {
	t.Helper()
	body, err := json.Marshal(api.IssueTokenRequest{UserID: userID})
	require.NoError(t, err)

	resp, err := http.Post(s.admin.URL+"/admin/tokens", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var tr auth.TokenResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&tr))
	require.True(t, tr.Success)
	return tr.Token
}

func get(t *testing.T, url, token string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestHealthz(t *testing.T) {
	s := newServers(t, nil)
	resp := get(t, s.api.URL+"/healthz", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(body))
}

func TestRequestMetrics(t *testing.T) {
	s := newServers(t, nil)
	token := s.issueToken(t, "alice")

	conv, err := chat.NewConversation("c1", []string{"alice", "bob"}, "desk-3", time.Now())
	require.NoError(t, err)
	require.NoError(t, s.store.CreateConversation(context.Background(), conv))

	resp := get(t, s.api.URL+"/api/conversations/c1/messages", token)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = get(t, s.admin.URL+"/metrics", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body),
		`campuschat_http_requests_total{method="GET",path="/api/conversations/{id}/messages",status="200"}`)
	assert.Contains(t, string(body), `path="/admin/tokens"`)
}

func TestRevokedTokenRejected(t *testing.T) {
	s := newServers(t, nil)
	token := s.issueToken(t, "alice")

	resp := get(t, s.api.URL+"/api/conversations", token)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := json.Marshal(api.RevokeTokenRequest{Token: token})
	require.NoError(t, err)
	revoke, err := http.Post(s.admin.URL+"/admin/tokens/revoke", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	_ = revoke.Body.Close()
	require.Equal(t, http.StatusOK, revoke.StatusCode)

	resp = get(t, s.api.URL+"/api/conversations", token)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestCORSPreflight(t *testing.T) {
	s := newServers(t, []string{"https://campus.example"})

	req, err := http.NewRequest(http.MethodOptions, s.api.URL+"/api/conversations", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://campus.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	assert.Equal(t, "https://campus.example", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestWebSocketThroughRouter(t *testing.T) {
	s := newServers(t, nil)
	token := s.issueToken(t, "alice")

	wsURL := "ws" + strings.TrimPrefix(s.api.URL, "http") + "/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg models.ServerMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, models.ServerMessageTypeConnectionEstablished, msg.Type)
	assert.Equal(t, "alice", msg.UserID)
}

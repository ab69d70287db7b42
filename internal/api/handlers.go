package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"campuschat/internal/auth"
	"campuschat/internal/models"
	"campuschat/internal/storage"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type contextKey string

const userIDKey contextKey = "user_id"

// MessageSender posts a chat message on behalf of a user, fans it out and
// returns the stored message. *router.Router satisfies it.
type MessageSender interface {
	PostMessage(ctx context.Context, senderID string, ev models.ChatMessageEvent) (models.Message, error)
}

// API serves the conversation history endpoints.
type API struct {
	verifier auth.Verifier
	store    storage.Store
	sender   MessageSender
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string
}

func New(verifier auth.Verifier, store storage.Store, sender MessageSender, logger *slog.Logger) *API {
	if logger == nil {
		logger = slog.Default()
	}
	return &API{
		verifier: verifier,
		store:    store,
		sender:   sender,
		logger:   logger,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// Routes returns the /api/conversations subtree. Every route requires a token.
func (a *API) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(a.RequireAuth)

	r.Get("/", a.ListConversationsHandler)
	r.Post("/", a.CreateConversationHandler)
	r.Get("/{id}/messages", a.MessagesHandler)
	r.Post("/{id}/messages", a.SendMessageHandler)
	r.Post("/{id}/read", a.MarkAllReadHandler)
	r.Patch("/{id}/status", a.UpdateStatusHandler)
	return r
}

// RequireAuth resolves the caller from an "Authorization: Bearer" header or,
// failing that, a token query parameter.
func (a *API) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := getToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		userID, err := a.verifier.VerifyToken(r.Context(), token)
		if err != nil {
			a.logger.Debug("rest token rejected", "path", r.URL.Path, "error", err)
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func getToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	return r.URL.Query().Get("token")
}

// UserID returns the caller resolved by RequireAuth.
func UserID(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey).(string)
	return id
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, models.APIResponse{Success: false, Message: message})
}

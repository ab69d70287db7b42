package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"campuschat/internal/chat"
	"campuschat/internal/content"
	"campuschat/internal/models"
	"campuschat/internal/router"
	"campuschat/internal/storage"

	"github.com/go-chi/chi/v5"
)

type CreateConversationRequest struct {
	ParticipantID  string `json:"participantId"`
	ProductID      string `json:"productId"`
	InitialMessage string `json:"initialMessage,omitempty"`
}

type SendMessageRequest struct {
	Content     string   `json:"content"`
	Attachments []string `json:"attachments,omitempty"`
}

type UpdateStatusRequest struct {
	Status models.ConversationStatus `json:"status"`
}

type MarkAllReadResponse struct {
	models.APIResponse
	Marked int `json:"marked"`
}

func (a *API) ListConversationsHandler(w http.ResponseWriter, r *http.Request) {
	userID := UserID(r.Context())

	convs, err := a.store.ListConversations(r.Context(), userID)
	if err != nil {
		a.logger.Error("list conversations failed", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to load conversations")
		return
	}
	if convs == nil {
		convs = []models.Conversation{}
	}
	writeJSON(w, http.StatusOK, convs)
}

// CreateConversationHandler opens a conversation between the caller and
// another user about a product. Only one active conversation may exist per
// pair and product; a second attempt answers 409 with the existing one.
func (a *API) CreateConversationHandler(w http.ResponseWriter, r *http.Request) {
	userID := UserID(r.Context())

	var req CreateConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := content.ValidateID(req.ParticipantID); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid participantId")
		return
	}
	if req.ProductID == "" {
		writeError(w, http.StatusBadRequest, "productId is required")
		return
	}
	if req.InitialMessage != "" {
		if _, err := content.PrepareMessage(req.InitialMessage); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	participants := []string{userID, req.ParticipantID}
	existing, err := a.store.FindActiveConversation(r.Context(), participants, req.ProductID)
	switch {
	case err == nil:
		writeJSON(w, http.StatusConflict, existing)
		return
	case !errors.Is(err, models.ErrNotFound):
		a.logger.Error("conversation lookup failed", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to create conversation")
		return
	}

	conv, err := chat.NewConversation(a.newID(), participants, req.ProductID, a.now().UTC())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.store.CreateConversation(r.Context(), conv); err != nil {
		if errors.Is(err, storage.ErrDuplicateConversation) {
			// lost a race with a concurrent create for the same pair
			a.writeExisting(w, r, participants, req.ProductID)
			return
		}
		a.logger.Error("create conversation failed", "conversation_id", conv.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to create conversation")
		return
	}
	a.logger.Info("conversation created", "conversation_id", conv.ID, "user_id", userID, "participant_id", req.ParticipantID)

	if req.InitialMessage != "" {
		ev := models.ChatMessageEvent{ConversationID: conv.ID, Content: req.InitialMessage}
		if _, err := a.sender.PostMessage(r.Context(), userID, ev); err != nil {
			a.logger.Error("initial message failed", "conversation_id", conv.ID, "error", err)
			writeError(w, http.StatusInternalServerError, "Conversation created but the initial message was not saved")
			return
		}
		reloaded, err := a.store.GetConversation(r.Context(), conv.ID)
		if err != nil {
			a.logger.Error("reload conversation failed", "conversation_id", conv.ID, "error", err)
			writeError(w, http.StatusInternalServerError, "Failed to load conversation")
			return
		}
		conv = reloaded
	}

	writeJSON(w, http.StatusCreated, conv)
}

func (a *API) MessagesHandler(w http.ResponseWriter, r *http.Request) {
	conv, ok := a.participantConversation(w, r)
	if !ok {
		return
	}

	msgs, err := a.store.ListMessages(r.Context(), conv.ID)
	if err != nil {
		a.logger.Error("list messages failed", "conversation_id", conv.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to load messages")
		return
	}
	if msgs == nil {
		msgs = []models.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

// SendMessageHandler posts a message through the same path as the socket
// chat_message event, so live participants get new_message as well.
func (a *API) SendMessageHandler(w http.ResponseWriter, r *http.Request) {
	userID := UserID(r.Context())

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	msg, err := a.sender.PostMessage(r.Context(), userID, models.ChatMessageEvent{
		ConversationID: chi.URLParam(r, "id"),
		Content:        req.Content,
		Attachments:    req.Attachments,
	})
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, msg)
	case errors.Is(err, content.ErrEmptyContent), errors.Is(err, content.ErrContentTooLong):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, router.ErrConversationNotFound):
		writeError(w, http.StatusNotFound, "Conversation not found")
	case errors.Is(err, router.ErrNotParticipant):
		writeError(w, http.StatusForbidden, "Not a participant of this conversation")
	default:
		a.logger.Error("send message failed", "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to send message")
	}
}

func (a *API) MarkAllReadHandler(w http.ResponseWriter, r *http.Request) {
	conv, ok := a.participantConversation(w, r)
	if !ok {
		return
	}
	userID := UserID(r.Context())

	n, err := a.store.MarkAllRead(r.Context(), conv.ID, userID)
	if err != nil {
		a.logger.Error("mark all read failed", "conversation_id", conv.ID, "user_id", userID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to mark messages as read")
		return
	}
	writeJSON(w, http.StatusOK, MarkAllReadResponse{
		APIResponse: models.APIResponse{Success: true},
		Marked:      n,
	})
}

func (a *API) UpdateStatusHandler(w http.ResponseWriter, r *http.Request) {
	var req UpdateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if !req.Status.Valid() {
		writeError(w, http.StatusBadRequest, "Invalid status")
		return
	}

	conv, err := a.store.GetConversation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.lookupFailed(w, err)
		return
	}
	if !conv.HasParticipant(UserID(r.Context())) {
		writeError(w, http.StatusForbidden, "Not a participant of this conversation")
		return
	}

	updated, err := a.store.UpdateStatus(r.Context(), conv.ID, req.Status, a.now().UTC())
	if err != nil {
		if errors.Is(err, storage.ErrInvalidStatus) {
			writeError(w, http.StatusBadRequest, "Invalid status")
			return
		}
		if errors.Is(err, storage.ErrDuplicateConversation) {
			writeError(w, http.StatusConflict, "Another active conversation exists for this product")
			return
		}
		a.logger.Error("update status failed", "conversation_id", conv.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to update conversation")
		return
	}
	a.logger.Info("conversation status changed", "conversation_id", conv.ID, "status", updated.Status)
	writeJSON(w, http.StatusOK, updated)
}

// writeExisting answers 409 with the active conversation that blocked a create.
func (a *API) writeExisting(w http.ResponseWriter, r *http.Request, participants []string, productID string) {
	existing, err := a.store.FindActiveConversation(r.Context(), participants, productID)
	if err != nil {
		writeError(w, http.StatusConflict, "Conversation already exists")
		return
	}
	writeJSON(w, http.StatusConflict, existing)
}

// participantConversation loads the {id} conversation and checks that the
// caller takes part in it. Deleted conversations are reported as missing.
func (a *API) participantConversation(w http.ResponseWriter, r *http.Request) (models.Conversation, bool) {
	conv, err := a.store.GetConversation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.lookupFailed(w, err)
		return models.Conversation{}, false
	}
	if conv.Status == models.ConversationStatusDeleted {
		writeError(w, http.StatusNotFound, "Conversation not found")
		return models.Conversation{}, false
	}
	if !conv.HasParticipant(UserID(r.Context())) {
		writeError(w, http.StatusForbidden, "Not a participant of this conversation")
		return models.Conversation{}, false
	}
	return conv, true
}

func (a *API) lookupFailed(w http.ResponseWriter, err error) {
	if errors.Is(err, models.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Conversation not found")
		return
	}
	a.logger.Error("conversation lookup failed", "error", err)
	writeError(w, http.StatusInternalServerError, "Failed to load conversation")
}

package ws

import (
	"errors"

	"campuschat/internal/content"
	"campuschat/internal/models"
	"campuschat/internal/router"
)

const reasonInternal = "internal"

// publicMessage picks the text sent to the client in an error event and the
// metrics label for err. Unknown errors never leak their details.
func publicMessage(err error) (text, reason string) {
	switch {
	case errors.Is(err, models.ErrMalformedEvent):
		return "invalid message format", "malformed"
	case errors.Is(err, models.ErrUnrecognizedEvent):
		return "unknown message type", "unknown_type"
	case errors.Is(err, content.ErrEmptyContent):
		return content.ErrEmptyContent.Error(), "empty_content"
	case errors.Is(err, content.ErrContentTooLong):
		return content.ErrContentTooLong.Error(), "content_too_long"
	case errors.Is(err, router.ErrConversationNotFound):
		return router.ErrConversationNotFound.Error(), "conversation_not_found"
	case errors.Is(err, router.ErrNotParticipant):
		return router.ErrNotParticipant.Error(), "not_participant"
	case errors.Is(err, router.ErrMessageNotFound):
		return router.ErrMessageNotFound.Error(), "message_not_found"
	case errors.Is(err, router.ErrPersistence):
		return router.ErrPersistence.Error(), "persistence"
	}
	return "internal error", reasonInternal
}

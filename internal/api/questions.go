package api

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/kalambet/tagask/internal/dispatch"
	"github.com/kalambet/tagask/internal/question"
)

// deliveryRetryMessage is all a caller learns about an upstream failure.
const deliveryRetryMessage = "The question could not be delivered. Please try again."

func handleAsk(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req question.Request
		if !decodeBody(w, r, &req) {
			return
		}
		// Only validation runs before a provider is needed.
		if err := req.Validate(); err != nil {
			writeAskError(w, deps, err)
			return
		}

		p, ok := provider(w, r, deps)
		if !ok {
			return
		}

		res, err := deps.orchestrator(p).Ask(r.Context(), req)
		if err != nil {
			writeAskError(w, deps, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func writeAskError(w http.ResponseWriter, deps Deps, err error) {
	var verr *question.ValidationError
	var partial *dispatch.PartialDispatchError
	var derr *dispatch.DeliveryError
	switch {
	case errors.As(err, &verr):
		httpErrorWith(w, http.StatusBadRequest, "invalid_request_error", verr.Error(),
			map[string]any{"problems": verr.Problems})
	case errors.Is(err, question.ErrNoEligibleRecipients):
		httpError(w, http.StatusUnprocessableEntity, "no_eligible_recipients",
			"Nobody matches every selected tag.")
	case errors.As(err, &partial):
		deps.logger().Error("question conversation created but not posted",
			zap.String("strategy", string(partial.Strategy)),
			zap.String("conversation_id", partial.Conversation.ID),
			zap.Error(partial.Err))
		httpErrorWith(w, http.StatusBadGateway, "delivery_error", deliveryRetryMessage, map[string]any{
			"conversation": map[string]string{
				"id":  partial.Conversation.ID,
				"url": partial.Conversation.WebURL,
			},
			"message_posted": false,
		})
	case errors.As(err, &derr):
		deps.logger().Error("question delivery failed",
			zap.String("strategy", string(derr.Strategy)), zap.Error(derr.Err))
		httpError(w, http.StatusBadGateway, "delivery_error", deliveryRetryMessage)
	default:
		deps.logger().Error("asking question", zap.Error(err))
		httpError(w, http.StatusInternalServerError, "api_error", "internal error")
	}
}

package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/sparkgate/sparkgate/internal/auth"
	"github.com/sparkgate/sparkgate/internal/catalog"
	"github.com/sparkgate/sparkgate/internal/chat"
	"github.com/sparkgate/sparkgate/internal/executor"
	"github.com/sparkgate/sparkgate/internal/upstream"
)

// ChatContinuer runs one conversation continuation call.
type ChatContinuer interface {
	Continue(ctx context.Context, accountID string, model catalog.Model, token chat.Token, messages []upstream.Message) (executor.Result, error)
}

// chatHandler groups conversation continuation HTTP handlers.
type chatHandler struct {
	service ChatContinuer
	models  ModelSource
	tokens  *chat.Codec
}

func newChatHandler(service ChatContinuer, models ModelSource, tokens *chat.Codec) *chatHandler {
	return &chatHandler{service: service, models: models, tokens: tokens}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	ContextToken string        `json:"context_token"`
	Messages     []chatMessage `json:"messages"`
}

type chatResponse struct {
	Result       executor.Result `json:"result"`
	ContextToken string          `json:"context_token"`
}

// Continue handles POST /api/v1/chat.
func (h *chatHandler) Continue(w http.ResponseWriter, r *http.Request) {
	acct := auth.AccountFromContext(r.Context())
	if acct == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "not authenticated")
		return
	}

	var req chatRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}

	token, err := h.tokens.Decode(req.ContextToken)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_token", "context_token is missing or malformed")
		return
	}

	if len(req.Messages) == 0 {
		writeError(w, http.StatusUnprocessableEntity, "validation_error", "messages must not be empty")
		return
	}
	for _, m := range req.Messages {
		if m.Role == "" || m.Content == "" {
			writeError(w, http.StatusUnprocessableEntity, "validation_error", "every message needs a role and content")
			return
		}
	}

	available, err := h.models.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to load model catalog")
		return
	}

	model, ok := catalog.ByID(available, token.ModelID)
	if !ok {
		// The model that answered the original query may have left the
		// catalog since. Continue on the best available free model rather
		// than stranding the conversation.
		candidates := catalog.StandardModels(available)
		if len(candidates) == 0 {
			writeError(w, http.StatusServiceUnavailable, "no_models", "no models available to continue the conversation")
			return
		}
		model = candidates[0]
	}

	result, err := h.service.Continue(r.Context(), acct.ID, model, token, historyFromMessages(req.Messages))
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		writeError(w, http.StatusBadGateway, "upstream_failed", "continuation call failed")
		return
	}
	if result.Status != executor.StatusSuccess {
		writeError(w, http.StatusBadGateway, "upstream_failed", result.Message)
		return
	}

	auditLog(r, "chat.continue", "model", model.ID, "sparks", result.Sparks)

	// Token is re-issued against the model that actually answered.
	reissued, err := h.tokens.Encode(chat.Token{OriginalQuery: token.OriginalQuery, ModelID: model.ID})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to issue context token")
		return
	}

	writeJSON(w, http.StatusOK, chatResponse{
		Result:       result,
		ContextToken: reissued,
	})
}

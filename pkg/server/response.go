package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/recall/pkg/model"
	"github.com/m-mizutani/recall/pkg/utils/logging"
)

const (
	msgUnauthorized         = "Unauthorized - Invalid or missing API key"
	msgInvalidRequest       = "Invalid request"
	msgEmbeddingUnavailable = "Embedding provider unavailable"
)

type errorResponse struct {
	Error   string              `json:"error"`
	Details []*model.FieldError `json:"details,omitempty"`
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logging.From(ctx).Warn("failed to write response", logging.ErrAttr(err))
	}
}

// writeError maps a tagged error to a status code. Only validation details are
// returned to the caller; everything else is logged and replaced by fallback.
func writeError(ctx context.Context, w http.ResponseWriter, err error, fallback string) {
	if goerr.HasTag(err, model.ErrTagUnauthorized) {
		writeJSON(ctx, w, http.StatusUnauthorized, &errorResponse{Error: msgUnauthorized})
		return
	}

	if detail, ok := model.ValidationDetail(err); ok {
		writeJSON(ctx, w, http.StatusBadRequest, &errorResponse{
			Error:   msgInvalidRequest,
			Details: []*model.FieldError{detail},
		})
		return
	}

	if goerr.HasTag(err, model.ErrTagEmbeddingUnavailable) {
		logging.From(ctx).Warn("embedding unavailable", logging.ErrAttr(err))
		writeJSON(ctx, w, http.StatusBadGateway, &errorResponse{Error: msgEmbeddingUnavailable})
		return
	}

	logging.From(ctx).Error("request failed", logging.ErrAttr(err))
	writeJSON(ctx, w, http.StatusInternalServerError, &errorResponse{Error: fallback})
}

// decodeBody decodes a JSON request body into v. An empty body leaves v
// unchanged, and anything after the first JSON value is rejected.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return bodyError(err)
	}

	var trailing json.RawMessage
	if err := dec.Decode(&trailing); !errors.Is(err, io.EOF) {
		if err == nil {
			return model.NewValidationError("body", "request body must be a single JSON object")
		}
		return bodyError(err)
	}
	return nil
}

func bodyError(err error) error {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return model.NewValidationError("body", "request body is too large",
			goerr.V("limit", maxErr.Limit))
	}
	return model.NewValidationError("body", "request body must be a valid JSON object",
		goerr.V("cause", err.Error()))
}

package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/voxbridge/voxbridge/internal/gateway"
	"github.com/voxbridge/voxbridge/internal/observe"
	"github.com/voxbridge/voxbridge/internal/store"
)

// maxBodyBytes caps request bodies. Audio uploads are base64 inside JSON,
// so this also bounds stored audio size.
const maxBodyBytes = 8 << 20

// errorBody is the uniform error envelope.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code          gateway.Code   `json:"code"`
	Message       string         `json:"message"`
	Details       map[string]any `json:"details,omitempty"`
	CorrelationID string         `json:"correlationId"`
}

// respond writes v as JSON with the given status.
func (s *Server) respond(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("response encoding failed", "error", err)
	}
}

// fail renders err as the uniform error envelope. Non-gateway errors are
// sanitized to INTERNAL_ERROR and logged with their cause.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	ge := gateway.AsError(err)
	if ge.Code == gateway.CodeInternal {
		observe.Logger(r.Context()).Error("request failed",
			"method", r.Method, "path", r.URL.Path, "error", err)
	}
	s.respond(w, ge.Code.HTTPStatus(), errorBody{Error: errorDetail{
		Code:          ge.Code,
		Message:       ge.Message,
		Details:       ge.Details,
		CorrelationID: observe.CorrelationID(r.Context()),
	}})
}

// decode reads the JSON body into dst and validates it. Validation failures
// come back as VALIDATION_ERROR with per-field details.
func (s *Server) decode(r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(nil, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return gateway.Wrap(gateway.CodeValidation, "invalid JSON body", err)
	}
	if err := s.valid.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			details := make(map[string]any, len(verrs))
			for _, fe := range verrs {
				details[fe.Field()] = "failed on " + fe.Tag()
			}
			return gateway.New(gateway.CodeValidation, "request validation failed").
				WithDetails(details)
		}
		return gateway.Wrap(gateway.CodeValidation, "request validation failed", err)
	}
	return nil
}

// notFoundAs maps the store's not-found sentinel onto a client-facing 404,
// passing other errors through.
func notFoundAs(err error, what string) error {
	if errors.Is(err, store.ErrNotFound) {
		return gateway.New(gateway.CodeNotFound, what+" not found")
	}
	return err
}

package responses

import (
	"context"
	"encoding/json"
	"net/http"

	pkgerrors "github.com/learnonline/payments-backend/pkg/errors"
	"github.com/learnonline/payments-backend/pkg/logger"
)

// requestIDHeader mirrors middleware.RequestIDHeader, which imports this
// package.
const requestIDHeader = "X-Request-Id"

func WriteSuccess(w http.ResponseWriter, data any) {
	WriteSuccessStatus(w, http.StatusOK, data)
}

func WriteSuccessStatus(w http.ResponseWriter, status int, data any) {
	WriteJSON(w, status, SuccessEnvelope{Data: data})
}

// WriteError renders err as an ErrorEnvelope. Untyped errors become
// INTERNAL_ERROR. 5xx responses are logged at error level with the full
// chain and the client only sees the code's fallback message.
func WriteError(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, err error) {
	typed := pkgerrors.Coerce(err)
	status := typed.Code().HTTPStatus()

	if logg != nil {
		logCtx := logg.WithFields(ctx, pkgerrors.LogFields(typed))
		if status >= http.StatusInternalServerError {
			logg.Error(logCtx, "request failed", typed)
		} else {
			logg.Warn(logCtx, "request rejected")
		}
	}

	WriteJSON(w, status, ErrorEnvelope{Error: APIError{
		Code:      string(typed.Code()),
		Message:   typed.PublicMessage(),
		Details:   typed.PublicDetails(),
		RequestID: w.Header().Get(requestIDHeader),
	}})
}

// WriteJSON writes payload as-is with the given status. The payload is
// encoded before the header goes out so an encoding failure still yields a
// well-formed 500.
func WriteJSON(w http.ResponseWriter, status int, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		status = http.StatusInternalServerError
		body = []byte(`{"error":{"code":"INTERNAL_ERROR","message":"internal server error"}}`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(append(body, '\n'))
}

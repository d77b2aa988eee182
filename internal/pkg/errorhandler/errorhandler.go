package errorhandler

import (
	"context"
	"net/http"
	"runtime/debug"

	"github.com/rs/zerolog/log"

	"github.com/eficia/eficia-api/internal/pkg/logger"
	"github.com/eficia/eficia-api/internal/pkg/response"
)

// HandleError logs err with the request id and sends an error envelope.
// The message is what the client sees; err never leaves the server.
func HandleError(ctx context.Context, w http.ResponseWriter, status int, code, message string, err error) {
	event := log.Warn()
	if status >= http.StatusInternalServerError {
		event = log.Error()
	}

	event = event.
		Str("request_id", logger.GetRequestID(ctx)).
		Str("error_code", code).
		Int("status_code", status)
	if err != nil {
		event = event.Err(err)
	}
	event.Msg(message)

	response.Error(w, status, code, message)
}

// HandleInternal logs err and answers with a generic 500.
func HandleInternal(ctx context.Context, w http.ResponseWriter, err error) {
	HandleError(ctx, w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", err)
}

// HandleErrorWithDetails handles a validation style error with per-field details
func HandleErrorWithDetails(ctx context.Context, w http.ResponseWriter, status int, code, message string, details map[string]string, err error) {
	event := log.Warn().
		Str("request_id", logger.GetRequestID(ctx)).
		Str("error_code", code).
		Int("status_code", status)
	if err != nil {
		event = event.Err(err)
	}
	if details != nil {
		event = event.Interface("error_details", details)
	}
	event.Msg(message)

	response.ErrorWithDetails(w, status, code, message, details)
}

// HandlePanicError logs a recovered panic with its stack and sends a 500.
// The stack stays in the logs.
func HandlePanicError(ctx context.Context, w http.ResponseWriter, panicErr interface{}) {
	log.Error().
		Str("request_id", logger.GetRequestID(ctx)).
		Interface("panic_error", panicErr).
		Bytes("panic_stack", debug.Stack()).
		Msg("Request panic")

	response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Internal server error")
}

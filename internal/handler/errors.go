package handler

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"

	"github.com/devrev/treasury/internal/errors"
	"github.com/devrev/treasury/internal/middleware"
	"go.uber.org/zap"
)

// Error codes produced by the transport itself
const (
	ErrorCodeNotFound         = "NOT_FOUND"
	ErrorCodeMethodNotAllowed = "METHOD_NOT_ALLOWED"
	ErrorCodeTimeout          = "TIMEOUT"
	ErrorCodeRequestTooLarge  = "REQUEST_TOO_LARGE"
)

// ErrorResponse represents the standard error response format.
type ErrorResponse struct {
	Status    string                 `json:"status"`
	ErrorCode string                 `json:"error_code"`
	Message   string                 `json:"message"`
	RequestID string                 `json:"request_id,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// ErrorHandler renders errors as ErrorResponse bodies
type ErrorHandler struct {
	logger *zap.Logger
}

// NewErrorHandler creates a new error handler
func NewErrorHandler(logger *zap.Logger) *ErrorHandler {
	return &ErrorHandler{logger: logger}
}

// HandleError maps err to a status code and writes the error response
func (h *ErrorHandler) HandleError(w http.ResponseWriter, r *http.Request, err error) {
	requestID := requestIDOf(r)

	var tooLarge *http.MaxBytesError
	switch {
	case stderrors.As(err, &tooLarge):
		h.WriteErrorResponse(w, http.StatusRequestEntityTooLarge, ErrorCodeRequestTooLarge, "request body too large", requestID, nil)
		return
	case stderrors.Is(err, context.DeadlineExceeded):
		h.WriteErrorResponse(w, http.StatusGatewayTimeout, ErrorCodeTimeout, "request timed out", requestID, nil)
		return
	}

	var te *errors.TreasuryError
	if !stderrors.As(err, &te) {
		h.logger.Error("Unclassified error", zap.String("request_id", requestID), zap.Error(err))
		h.WriteErrorResponse(w, http.StatusInternalServerError, errors.ErrCodeInternal.String(), "internal server error", requestID, nil)
		return
	}

	statusCode := te.HTTPStatus()
	message := te.Message
	details := te.Details
	if statusCode >= http.StatusInternalServerError {
		// infrastructure failures keep their cause out of the response
		h.logger.Error("Request failed",
			zap.String("request_id", requestID),
			zap.String("error_code", te.Code.String()),
			zap.Error(err))
		details = nil
	}

	h.WriteErrorResponse(w, statusCode, te.Code.String(), message, requestID, details)
}

// WriteErrorResponse writes a formatted error response to the HTTP response writer.
func (h *ErrorHandler) WriteErrorResponse(
	w http.ResponseWriter,
	statusCode int,
	errorCode string,
	message string,
	requestID string,
	details map[string]interface{},
) {
	h.logger.Warn("HTTP error response",
		zap.Int("status_code", statusCode),
		zap.String("error_code", errorCode),
		zap.String("message", message),
		zap.String("request_id", requestID),
	)

	resp := ErrorResponse{
		Status:    "error",
		ErrorCode: errorCode,
		Message:   message,
		RequestID: requestID,
		Details:   details,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(resp)
}

// NotFound handles requests for unknown routes
func (h *ErrorHandler) NotFound(w http.ResponseWriter, r *http.Request) {
	h.WriteErrorResponse(w, http.StatusNotFound, ErrorCodeNotFound, "endpoint not found",
		requestIDOf(r), nil)
}

// MethodNotAllowed handles requests with an unsupported method
func (h *ErrorHandler) MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	h.WriteErrorResponse(w, http.StatusMethodNotAllowed, ErrorCodeMethodNotAllowed, "method not allowed",
		requestIDOf(r), nil)
}

func requestIDOf(r *http.Request) string {
	if id := middleware.RequestIDFromContext(r.Context()); id != "" {
		return id
	}
	return r.Header.Get(middleware.RequestIDHeader)
}

package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	"github.com/tendant/artisan-nft/pkg/artisan"
)

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Hash    string `json:"hash,omitempty"`
}

var statusTable = []struct {
	err    error
	status int
	code   string
}{
	{artisan.ErrIndeterminate, http.StatusAccepted, "indeterminate"},
	{artisan.ErrNotFound, http.StatusNotFound, "not_found"},
	{artisan.ErrNotConnected, http.StatusUnauthorized, "not_connected"},
	{artisan.ErrUnauthorized, http.StatusForbidden, "unauthorized"},
	{artisan.ErrInvalidArgument, http.StatusBadRequest, "invalid_argument"},
	{artisan.ErrStaleState, http.StatusConflict, "stale_state"},
	{artisan.ErrUserDeclined, http.StatusConflict, "user_declined"},
	{artisan.ErrInsufficientFunds, http.StatusPaymentRequired, "insufficient_funds"},
	{artisan.ErrStorageUnavailable, http.StatusServiceUnavailable, "storage_unavailable"},
	{artisan.ErrProviderUnavailable, http.StatusServiceUnavailable, "provider_unavailable"},
}

// StatusFor maps an error onto its HTTP status and error code
func StatusFor(err error) (int, string) {
	for _, e := range statusTable {
		if errors.Is(err, e.err) {
			return e.status, e.code
		}
	}
	return http.StatusInternalServerError, "internal"
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := StatusFor(err)
	resp := ErrorResponse{Code: code, Message: artisan.UserMessage(err)}

	var opErr *artisan.OperationError
	if errors.As(err, &opErr) {
		resp.Hash = opErr.Hash
	}

	level := slog.LevelWarn
	if status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	h.logger.Log(r.Context(), level, "request failed", "method", r.Method, "path", r.URL.Path, "status", status, "err", err)

	render.Status(r, status)
	render.JSON(w, r, resp)
}

func (h *Handler) badRequest(w http.ResponseWriter, r *http.Request, msg string) {
	h.writeError(w, r, &badRequestError{msg: msg})
}

type badRequestError struct {
	msg string
}

func (e *badRequestError) Error() string { return e.msg }

func (e *badRequestError) Unwrap() error { return artisan.ErrInvalidArgument }

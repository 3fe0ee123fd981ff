package httputil

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/cwrk-planet/chat-client/pkg/errs"
)

// StatusOf переводит ошибку в HTTP статус.
func StatusOf(err error) int {
	switch {
	case errors.Is(err, errs.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, errs.ErrNoData):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, errs.ErrTransport), errors.Is(err, errs.ErrGraphQL):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		slog.Error("write json response failed", slog.Any("err", err))
	}
}

// OK пишет {"data": ...}.
func OK(w http.ResponseWriter, data any) {
	JSON(w, http.StatusOK, map[string]any{"data": data})
}

// Fail пишет {"error": {"message", "kind"}} со статусом по StatusOf.
func Fail(w http.ResponseWriter, err error) {
	JSON(w, StatusOf(err), map[string]any{
		"error": map[string]string{
			"message": err.Error(),
			"kind":    errs.Kind(err),
		},
	})
}

// DecodeJSON читает тело запроса не длиннее limit байт.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any, limit int64) error {
	body := http.MaxBytesReader(w, r.Body, limit)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		return fmt.Errorf("%w: decode body: %v", errs.ErrInvalidInput, err)
	}
	return nil
}

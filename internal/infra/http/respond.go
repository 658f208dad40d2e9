package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/Spok95/binledger/internal/errs"
)

const maxJSONBody = 8 << 20

type errorBody struct {
	Error   errs.Kind      `json:"error"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func statusOf(kind errs.Kind) int {
	switch kind {
	case errs.Validation, errs.UnitMismatch, errs.AmbiguousVendor, errs.RowSkipped:
		return http.StatusBadRequest
	case errs.PermissionDenied:
		return http.StatusForbidden
	case errs.MaterialNotFound, errs.BinNotFound:
		return http.StatusNotFound
	case errs.InsufficientStock, errs.InsufficientBalance, errs.InsufficientLots, errs.InsufficientBinStock,
		errs.BinConflict, errs.OverIssue, errs.CapacityExceeded, errs.Conflict, errs.Duplicate:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError отдаёт ошибки домена как есть, остальное уходит как 500 без подробностей.
func writeError(w http.ResponseWriter, log *slog.Logger, r *http.Request, err error) {
	var e *errs.Error
	if !errors.As(err, &e) {
		log.Error("request failed", "method", r.Method, "path", r.URL.Path, "request_id", requestID(r.Context()), "err", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: errs.Internal, Message: "internal error"})
		return
	}
	status := statusOf(e.Kind)
	if status == http.StatusInternalServerError {
		log.Error("request failed", "method", r.Method, "path", r.URL.Path, "request_id", requestID(r.Context()), "err", err)
	}
	writeJSON(w, status, errorBody{Error: e.Kind, Message: errs.Message(err), Details: errs.DetailsOf(err)})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return errs.Wrap(errs.Validation, err, "malformed JSON body")
	}
	return nil
}

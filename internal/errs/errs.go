package errs

import (
	"errors"
	"fmt"
)

// Kind: машиночитаемый тип ошибки, уходит клиенту в поле "error".
type Kind string

const (
	Validation           Kind = "validation_error"
	InsufficientStock    Kind = "insufficient_stock"
	InsufficientBalance  Kind = "insufficient_balance"
	InsufficientLots     Kind = "insufficient_lots"
	InsufficientBinStock Kind = "insufficient_bin_stock"
	BinConflict          Kind = "bin_conflict"
	MaterialNotFound     Kind = "material_not_found"
	BinNotFound          Kind = "bin_not_found"
	AmbiguousVendor      Kind = "ambiguous_vendor"
	UnitMismatch         Kind = "unit_mismatch"
	OverIssue            Kind = "over_issue"
	CapacityExceeded     Kind = "capacity_exceeded"
	PermissionDenied     Kind = "permission_denied"
	Conflict             Kind = "conflict"
	Duplicate            Kind = "duplicate"
	StructuralImport     Kind = "structural_import_error"
	RowSkipped           Kind = "row_skipped"
	Internal             Kind = "internal"
)

type Error struct {
	Kind    Kind
	Msg     string
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	case e.Msg != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is сравнивает только Kind, чтобы errors.Is(err, &Error{Kind: X}) работал без сообщения.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// With добавляет деталь (например, список вендоров для AmbiguousVendor).
func (e *Error) With(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, err error, msg string) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf возвращает Kind первой *Error в цепочке; Internal для чужих ошибок.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Message возвращает человекочитаемую часть ошибки.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Msg != "" {
		return e.Msg
	}
	return err.Error()
}

// DetailsOf возвращает детали первой *Error в цепочке.
func DetailsOf(err error) map[string]any {
	var e *Error
	if errors.As(err, &e) {
		return e.Details
	}
	return nil
}

package ingest

import (
	"errors"
	"fmt"
)

// Kind классифицирует ошибку загрузки. Все виды, кроме Storage и Internal,
// означают «файл не подошёл» — вызывающий показывает текст и предлагает
// загрузить файл заново.
type Kind string

const (
	KindUnsupportedFormat Kind = "unsupported_format"
	KindReadFailed        Kind = "read_failed"
	KindNoValidData       Kind = "no_valid_data"
	KindUnmappableSchema  Kind = "unmappable_schema"
	KindUnparseable       Kind = "unparseable_time_or_duration"
	KindBelowThreshold    Kind = "below_threshold"
	KindUndatedRows       Kind = "undated_rows"
	KindExpiredWindow     Kind = "expired_window"
	KindStorage           Kind = "storage"
	KindInternal          Kind = "internal"
)

type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap оборачивает err в *Error указанного вида, если это ещё не *Error.
func Wrap(kind Kind, msg string, err error) error {
	if err == nil {
		return nil
	}
	var ie *Error
	if errors.As(err, &ie) {
		return err
	}
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf возвращает вид ошибки; для «чужих» ошибок — KindInternal.
func KindOf(err error) Kind {
	var ie *Error
	if errors.As(err, &ie) {
		return ie.Kind
	}
	return KindInternal
}

// Recoverable — ошибка во входном файле, а не в системе.
func Recoverable(err error) bool {
	switch KindOf(err) {
	case KindStorage, KindInternal:
		return false
	}
	return true
}

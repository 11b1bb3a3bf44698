package app

import "github.com/pdavies/carpetloyalty/internal/loyalty/repo"

// Result is the outcome of an orchestrated operation.
type Result[T any] struct {
	OK      bool      `json:"ok"`
	Value   T         `json:"value,omitempty"`
	Reason  repo.Kind `json:"reason,omitempty"`
	Message string    `json:"message"`

	// Notice reports a follow-up sync failure on an otherwise successful
	// operation.
	Notice string `json:"notice,omitempty"`

	// Err is the underlying error of a failed operation.
	Err error `json:"-"`
}

func succeed[T any](value T, message string) Result[T] {
	return Result[T]{OK: true, Value: value, Message: message}
}

func fail[T any](err error, message string) Result[T] {
	return Result[T]{Reason: repo.KindOf(err), Message: message, Err: err}
}

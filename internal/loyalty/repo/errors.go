package repo

import (
	"errors"
	"fmt"
)

// Business failures returned by Repository operations.
//
// Every operation returns these wrapped in a *Failure, so both forms work:
//
//	if errors.Is(err, repo.ErrBarcodeAlreadyAssigned) { ... }
//	if repo.IsConflict(err) { ... }
var (
	// ErrBarcodeNotFound is returned when no barcode has the given code.
	ErrBarcodeNotFound = errors.New("barcode not found")

	// ErrBarcodeAlreadyAssigned is returned when assigning a barcode that
	// already belongs to a client. Barcodes are never reassigned.
	ErrBarcodeAlreadyAssigned = errors.New("barcode already assigned")

	// ErrBarcodeNotAssigned is returned when scanning a barcode that has
	// not been assigned to a client yet.
	ErrBarcodeNotAssigned = errors.New("barcode not assigned")

	// ErrClientMissing is returned when an assigned barcode points at a
	// client that does not exist locally.
	ErrClientMissing = errors.New("client not found")

	// ErrInvalidInput is returned for empty codes, names or phone numbers
	// and out of range counts.
	ErrInvalidInput = errors.New("invalid input")

	// ErrGeneration is returned when barcode generation fails.
	ErrGeneration = errors.New("failed to generate barcodes")

	// ErrStorage is returned when the local store fails mid-operation.
	ErrStorage = errors.New("storage failure")
)

// Kind classifies a Failure for callers that map failures onto user
// messages or transport status codes.
type Kind string

const (
	KindNotFound   Kind = "not_found"
	KindConflict   Kind = "conflict"
	KindIntegrity  Kind = "integrity"
	KindInvalid    Kind = "invalid_input"
	KindStorage    Kind = "storage"
	KindUnexpected Kind = "unexpected"
)

// Failure is a typed business failure with a user facing message.
type Failure struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (f *Failure) Error() string {
	return f.Message
}

func (f *Failure) Unwrap() error {
	return f.Err
}

func newFailure(kind Kind, sentinel error, code, message string) *Failure {
	return &Failure{Kind: kind, Code: code, Message: message, Err: sentinel}
}

// storageFailure wraps an unexpected local store error.
func storageFailure(sentinel error, code, action string, cause error) *Failure {
	return &Failure{
		Kind:    KindStorage,
		Code:    code,
		Message: fmt.Sprintf("%s: %v", action, cause),
		Err:     fmt.Errorf("%w: %w", sentinel, cause),
	}
}

// asFailure returns err as a *Failure, wrapping foreign errors as storage
// failures.
func asFailure(err error, code, action string) *Failure {
	var f *Failure
	if errors.As(err, &f) {
		return f
	}
	return storageFailure(ErrStorage, code, action, err)
}

// KindOf returns the Kind of err, or KindUnexpected if err is not a Failure.
func KindOf(err error) Kind {
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind
	}
	return KindUnexpected
}

// IsNotFound reports whether err is a not-found failure.
func IsNotFound(err error) bool {
	return err != nil && KindOf(err) == KindNotFound
}

// IsConflict reports whether err is a state-conflict failure.
func IsConflict(err error) bool {
	return err != nil && KindOf(err) == KindConflict
}

// IsIntegrity reports whether err is a data-integrity failure.
func IsIntegrity(err error) bool {
	return err != nil && KindOf(err) == KindIntegrity
}

// IsInvalidInput reports whether err is an input validation failure.
func IsInvalidInput(err error) bool {
	return err != nil && KindOf(err) == KindInvalid
}

// IsRetryable returns true if the operation may succeed when retried.
// Only storage failures qualify; business rule violations never change
// on retry.
func IsRetryable(err error) bool {
	return err != nil && KindOf(err) == KindStorage
}

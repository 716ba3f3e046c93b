// Package errors re-exports github.com/cockroachdb/errors and defines the
// sentinel errors the job subsystem reports to callers.
//
// Wrap a sentinel to add context while keeping it matchable:
//
//	return errors.Wrapf(errors.ErrConflict, "token %s already in use", token)
//
// and check it at the transport edge with errors.Is.
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
)

var (
	WithHint      = crdb.WithHint
	WithHintf     = crdb.WithHintf
	WithDetail    = crdb.WithDetail
	WithDetailf   = crdb.WithDetailf
	GetAllHints   = crdb.GetAllHints
	FlattenHints  = crdb.FlattenHints
	GetAllDetails = crdb.GetAllDetails
)

var (
	Is        = crdb.Is
	IsAny     = crdb.IsAny
	As        = crdb.As
	Unwrap    = crdb.Unwrap
	UnwrapAll = crdb.UnwrapAll
)

// Admission and lookup failures. Engine failures are recorded on the job
// record and only surface through ErrEngineFailure on the blocking path.
var (
	// ErrBadRequest indicates missing or malformed submission parameters
	ErrBadRequest = New("bad request")

	// ErrRateLimited indicates the client's daily quota is exhausted
	ErrRateLimited = New("daily limit reached")

	// ErrConflict indicates a live job already owns the token
	ErrConflict = New("token in use")

	// ErrNotReady indicates the artifact was requested before the job finished
	ErrNotReady = New("not ready")

	// ErrForbidden indicates the caller does not own the token
	ErrForbidden = New("forbidden")

	// ErrNotFound indicates the token never existed or has expired
	ErrNotFound = New("invalid or expired token")

	// ErrGone indicates the job or its artifact was reclaimed
	ErrGone = New("gone")

	// ErrEngineFailure indicates the extraction engine failed the job
	ErrEngineFailure = New("engine failure")
)

// IsAdmissionError reports whether err is one of the synchronous
// submission rejections.
func IsAdmissionError(err error) bool {
	return err != nil && IsAny(err, ErrBadRequest, ErrRateLimited, ErrConflict)
}

// NewBadRequest creates a bad-request error with a formatted message
func NewBadRequest(format string, args ...interface{}) error {
	return Wrap(ErrBadRequest, Newf(format, args...).Error())
}

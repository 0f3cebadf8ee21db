package relay

import (
	"errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeInvalidRequest   Code = "INVALID_REQUEST"
	CodeUnauthorized     Code = "UNAUTHORIZED"
	CodeRoomNotFound     Code = "ROOM_NOT_FOUND"
	CodeUserNotFound     Code = "USER_NOT_FOUND"
	CodeMuted            Code = "MUTED"
	CodeBanned           Code = "BANNED"
	CodeReplay           Code = "REPLAY_ERROR"
	CodeStoreUnavailable Code = "REDIS_UNAVAILABLE"
	CodeRateLimited      Code = "RATE_LIMITED"
	CodeSamplingActive   Code = "SAMPLING_ACTIVE"
	CodeInternal         Code = "INTERNAL"
)

var statusByCode = map[Code]int{
	CodeInvalidRequest:   http.StatusBadRequest,
	CodeUnauthorized:     http.StatusUnauthorized,
	CodeRoomNotFound:     http.StatusNotFound,
	CodeUserNotFound:     http.StatusNotFound,
	CodeMuted:            http.StatusForbidden,
	CodeBanned:           http.StatusForbidden,
	CodeReplay:           http.StatusForbidden,
	CodeStoreUnavailable: http.StatusServiceUnavailable,
	CodeRateLimited:      http.StatusTooManyRequests,
	CodeSamplingActive:   http.StatusAccepted,
	CodeInternal:         http.StatusInternalServerError,
}

// Error is a rejected submission. SAMPLING_ACTIVE is not a failure for the
// client but travels the same way so handlers have one outcome path.
type Error struct {
	Code   Code
	Status int
	Msg    string
	Err    error

	// SampleRate is set with SAMPLING_ACTIVE.
	SampleRate int
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same code, so errors.Is(err, ErrMuted) works.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

func newError(code Code, msg string, err error) *Error {
	return &Error{Code: code, Status: statusByCode[code], Msg: msg, Err: err}
}

// Sentinels for errors.Is.
var (
	ErrInvalidRequest   = newError(CodeInvalidRequest, "invalid request", nil)
	ErrUnauthorized     = newError(CodeUnauthorized, "unauthorized", nil)
	ErrRoomNotFound     = newError(CodeRoomNotFound, "room not found or not live", nil)
	ErrUserNotFound     = newError(CodeUserNotFound, "user profile not found", nil)
	ErrMuted            = newError(CodeMuted, "you are muted in this room", nil)
	ErrBanned           = newError(CodeBanned, "you are banned from this room", nil)
	ErrReplay           = newError(CodeReplay, "txn_id already used", nil)
	ErrStoreUnavailable = newError(CodeStoreUnavailable, "service temporarily unavailable", nil)
	ErrRateLimited      = newError(CodeRateLimited, "slow down", nil)
	ErrSamplingActive   = newError(CodeSamplingActive, "room is in high traffic mode", nil)
	ErrInternal         = newError(CodeInternal, "internal error", nil)
)

// AsError maps any error onto the client-facing taxonomy; unknown errors are INTERNAL.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return newError(CodeInternal, "internal error", err)
}

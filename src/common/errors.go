package common

import (
	"errors"
	"fmt"
)

// ErrType classifies the errors surfaced by the realtime core.
type ErrType uint32

const (
	// NotFound means the session, chat, message or record is absent or has
	// expired.
	NotFound ErrType = iota
	// Authorization means the caller is not a chat/call participant or lacks a
	// permission.
	Authorization
	// Conflict means the operation clashes with existing state, like starting
	// a second call.
	Conflict
	// Expired means a token or invite is past its expiry.
	Expired
	// Validation means a malformed payload.
	Validation
	// Unavailable means a backing store or collaborator failed or timed out.
	Unavailable
	// RateLimited means the caller sent too many events in the current
	// window.
	RateLimited
)

var errTypeCodes = []string{
	"not_found",
	"unauthorized",
	"conflict",
	"expired",
	"validation",
	"unavailable",
	"rate_limited",
}

var errTypeMessages = []string{
	"Not Found",
	"Unauthorized",
	"Conflict",
	"Expired",
	"Invalid",
	"Unavailable",
	"Too Many Requests",
}

// Code returns the wire code of the error type, as sent in acknowledgements.
func (t ErrType) Code() string {
	if int(t) < len(errTypeCodes) {
		return errTypeCodes[t]
	}
	return "internal"
}

// Err is the error type shared by every component. Subject names the kind of
// entity (Session, Chat, Token...), key identifies it.
type Err struct {
	subject string
	errType ErrType
	key     string
	msg     string
}

// NewErr ...
func NewErr(subject string, errType ErrType, key string) Err {
	return Err{
		subject: subject,
		errType: errType,
		key:     key,
	}
}

// NewErrMsg creates an Err with a human readable detail.
func NewErrMsg(subject string, errType ErrType, key string, msg string) Err {
	return Err{
		subject: subject,
		errType: errType,
		key:     key,
		msg:     msg,
	}
}

// Error implements the error interface.
func (e Err) Error() string {
	m := "Unknown"
	if int(e.errType) < len(errTypeMessages) {
		m = errTypeMessages[e.errType]
	}
	if e.msg != "" {
		m = fmt.Sprintf("%s: %s", m, e.msg)
	}
	return fmt.Sprintf("%s, %s, %s", e.subject, e.key, m)
}

// Type returns the classification of the error.
func (e Err) Type() ErrType {
	return e.errType
}

// Message returns the detail given at construction, or the generic message of
// the error type.
func (e Err) Message() string {
	if e.msg != "" {
		return e.msg
	}
	return fmt.Sprintf("%s %s", e.subject, errTypeMessages[e.errType])
}

// Is checks that err, or any error it wraps, is an Err of type t.
func Is(err error, t ErrType) bool {
	var e Err
	return errors.As(err, &e) && e.errType == t
}

// TypeOf returns the ErrType of err and whether err carries one at all.
func TypeOf(err error) (ErrType, bool) {
	var e Err
	if errors.As(err, &e) {
		return e.errType, true
	}
	return 0, false
}

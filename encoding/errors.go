package encoding

import (
	"errors"
	"fmt"
)

// ErrorCode classifies an encoding failure the way consensus.ErrorCode
// classifies a consensus one: a stable string identifying the failure kind,
// independent of the human-readable message.
type ErrorCode string

const (
	// CodeSerialize marks a failure while building a package from instructions.
	CodeSerialize ErrorCode = "SERIALIZE"
	// CodeDeserialize marks a failure while parsing a package or instruction.
	CodeDeserialize ErrorCode = "DESERIALIZE"
	// CodeVerify marks a failure of digest or signature verification.
	CodeVerify ErrorCode = "VERIFY"
)

// Error is the common encoding error shape: a stable code, a message, and an
// optional wrapped cause.
type Error struct {
	Code  ErrorCode
	Msg   string
	Cause error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

func (e *Error) Unwrap() error { return e.Cause }

// NewSerializeError reports that an instruction package could not be built.
func NewSerializeError(msg string, cause error) error {
	return &Error{Code: CodeSerialize, Msg: msg, Cause: cause}
}

// NewDeserializeError reports that a package or instruction could not be parsed.
func NewDeserializeError(msg string, cause error) error {
	return &Error{Code: CodeDeserialize, Msg: msg, Cause: cause}
}

// NewVerifyError reports that a package's digest or signature did not match.
func NewVerifyError(msg string) error {
	return &Error{Code: CodeVerify, Msg: msg}
}

// IsSerializeError reports whether err (or a wrapped cause) is a serialize error.
func IsSerializeError(err error) bool { return hasCode(err, CodeSerialize) }

// IsDeserializeError reports whether err (or a wrapped cause) is a deserialize error.
func IsDeserializeError(err error) bool { return hasCode(err, CodeDeserialize) }

// IsVerifyError reports whether err (or a wrapped cause) is a verify error.
func IsVerifyError(err error) bool { return hasCode(err, CodeVerify) }

func hasCode(err error, code ErrorCode) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}

package auth

import "errors"

// Error codes returned to clients. Messages are meant to be shown to the
// user as-is.
const (
	CodeInvalidEmail      = "auth/invalid-email"
	CodeWeakPassword      = "auth/weak-password"
	CodeEmailInUse        = "auth/email-already-in-use"
	CodeInvalidCredential = "auth/invalid-credential"
	CodeUserDisabled      = "auth/user-disabled"
	CodeInternal          = "auth/internal-error"
)

// Error is a provider failure with a stable code.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"error"`
}

func (e *Error) Error() string { return e.Message }

var (
	errInvalidEmail      = &Error{Code: CodeInvalidEmail, Message: "The email address is badly formatted."}
	errWeakPassword      = &Error{Code: CodeWeakPassword, Message: "Password should be at least 6 characters."}
	errEmailInUse        = &Error{Code: CodeEmailInUse, Message: "The email address is already in use by another account."}
	errInvalidCredential = &Error{Code: CodeInvalidCredential, Message: "The email or password is incorrect."}
	errUserDisabled      = &Error{Code: CodeUserDisabled, Message: "This account has been disabled."}
	errInternal          = &Error{Code: CodeInternal, Message: "An internal error has occurred."}
)

// CodeOf returns the code of an *Error in err's chain, or "".
func CodeOf(err error) string {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return ""
}

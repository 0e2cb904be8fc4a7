package session

import (
	"errors"
	"fmt"

	"watergb/internal/api"
	"watergb/internal/httpclient"
)

// Localised fallbacks when the server gives no message.
const (
	MsgLoginFailed    = "فشل تسجيل الدخول"
	MsgRegisterFailed = "فشل إنشاء الحساب"
)

// Reason classifies a login or registration failure.
type Reason string

const (
	ReasonInvalidInput Reason = "invalid_input"
	ReasonRejected     Reason = "rejected"
	ReasonNetwork      Reason = "network"
	ReasonNoToken      Reason = "no_token"
	ReasonStorage      Reason = "storage"
	ReasonUnknown      Reason = "unknown"
)

// Failure is returned by Login and Register. Message is ready to show to
// the user.
type Failure struct {
	Reason  Reason
	Message string
	Err     error
}

func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("session %s: %v", f.Reason, f.Err)
	}
	return "session " + string(f.Reason)
}

func (f *Failure) Unwrap() error { return f.Err }

func newFailure(err error, fallback string) *Failure {
	f := &Failure{Reason: ReasonUnknown, Message: api.UserMessage(err, fallback), Err: err}

	var se *httpclient.ServerError
	switch {
	case api.IsValidationError(err):
		f.Reason = ReasonInvalidInput
	case errors.As(err, &se):
		f.Reason = ReasonRejected
	case httpclient.IsNetworkError(err):
		f.Reason = ReasonNetwork
	}
	return f
}

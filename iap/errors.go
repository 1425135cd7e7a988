package iap

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/openiap/openiap/bridge"
)

// Error is the single business-failure type surfaced by Manager
// operations. Message is always non-empty and usable for direct display;
// Code, when present, is the platform's native response code, opaque to
// this layer.
type Error struct {
	Message string
	Code    *int32
}

func NewError(message string) *Error {
	return &Error{Message: message}
}

func NewErrorWithCode(message string, code int32) *Error {
	return &Error{Message: message, Code: &code}
}

func (e *Error) Error() string {
	if e.Code != nil {
		return fmt.Sprintf("%s (code %d)", e.Message, *e.Code)
	}
	return e.Message
}

var (
	ErrNotInitialized     = NewError("billing is not initialized")
	ErrDisconnected       = NewError("billing is disconnected")
	ErrPurchaseInProgress = NewError("a purchase for this product is already in progress")
)

// translateErr maps failures from the platform layer onto the business
// error type. Cooperative cancellation becomes an ordinary, catchable
// Error; bridge-reported failures keep their native code. Panics below
// this boundary are defects and are deliberately not recovered anywhere
// in the package.
func translateErr(err error) *Error {
	if err == nil {
		return nil
	}

	var iapErr *Error
	if errors.As(err, &iapErr) {
		return iapErr
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return NewError("operation canceled: " + err.Error())
	}

	var bridgeErr *bridge.Error
	if errors.As(err, &bridgeErr) {
		translated := NewError(bridgeErr.Message)
		if bridgeErr.Code != nil {
			code := *bridgeErr.Code
			translated.Code = &code
		}
		return translated
	}

	return NewError(err.Error())
}

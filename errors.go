package goBankID

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation matches every ValidationError. Raised before any network access.
	ErrValidation = errors.New("bankid: invalid arguments")
	// ErrProtocol matches every ProtocolError: the authority answered with a structured rejection.
	ErrProtocol = errors.New("bankid: request rejected")
	// ErrTransport matches every TransportError: no usable response was received.
	ErrTransport = errors.New("bankid: no response")
	// ErrOrderFailed matches every OrderFailedError: collect reached status failed.
	ErrOrderFailed = errors.New("bankid: order failed")
	// ErrUnexpectedStatus is wrapped in a TransportError when collect reports a status the client does not know.
	ErrUnexpectedStatus = errors.New("bankid: unexpected order status")
	// ErrQRDisabled is returned when QR operations are used on a client built without QR support.
	ErrQRDisabled = errors.New("bankid: qr support disabled")
	// ErrQRCacheMiss is returned by QRCache.Get when the entry is absent or expired.
	ErrQRCacheMiss = errors.New("bankid: qr cache entry not found")
	// ErrQRCacheUnavailable wraps backend failures of a QRCache.
	ErrQRCacheUnavailable = errors.New("bankid: qr cache backend unavailable")
	// ErrClientNotReady is returned when a nil Client is used.
	ErrClientNotReady = errors.New("bankid: client not initialized")
)

// ValidationError reports a missing or malformed caller argument.
type ValidationError struct {
	Method Method
	Fields []string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 1 {
		return fmt.Sprintf("bankid: %s: missing required argument %s", e.Method, e.Fields[0])
	}
	return fmt.Sprintf("bankid: %s: missing required arguments %v", e.Method, e.Fields)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// ProtocolError is a structured error returned by the authority.
type ProtocolError struct {
	Method     Method
	StatusCode int
	Code       ErrorCode
	Details    string
}

func (e *ProtocolError) Error() string {
	if e.Details == "" {
		return fmt.Sprintf("bankid: %s: %s", e.Method, e.Code)
	}
	return fmt.Sprintf("bankid: %s: %s: %s", e.Method, e.Code, e.Details)
}

func (e *ProtocolError) Is(target error) bool { return target == ErrProtocol }

// TransportError means the request produced no structured response: network,
// TLS and timeout failures, or a success body that could not be decoded.
type TransportError struct {
	Method Method
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("bankid: %s: request failed: %v", e.Method, e.Err)
}

func (e *TransportError) Is(target error) bool { return target == ErrTransport }

func (e *TransportError) Unwrap() error { return e.Err }

// OrderFailedError is the terminal failure of an awaited order. Response holds
// the final collect result.
type OrderFailedError struct {
	OrderRef string
	HintCode HintCode
	Response *CollectResponse
}

func (e *OrderFailedError) Error() string {
	return fmt.Sprintf("bankid: order %s failed: %s", e.OrderRef, e.HintCode)
}

func (e *OrderFailedError) Is(target error) bool { return target == ErrOrderFailed }

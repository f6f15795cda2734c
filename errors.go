package rtsp

import (
	"fmt"
	"strings"
)

// Kind enumerates the structured error categories a Session can surface.
// Callers match on Kind with errors.Is against the sentinel Error values
// below, or with errors.As against *Error to inspect the attached context.
type Kind int

const (
	KindConnectionFailed Kind = iota
	KindRtspFraming
	KindRtspResponse
	KindUnauthorized
	KindSdpInvalid
	KindRtpLoss
	KindRtpMalformed
	KindRtpUnknownPayloadType
	KindDepacketizer
	KindSessionTimeout
	KindCancelled
)

func (k Kind) String() string {
	switch k {
	case KindConnectionFailed:
		return "ConnectionFailed"
	case KindRtspFraming:
		return "RtspFraming"
	case KindRtspResponse:
		return "RtspResponse"
	case KindUnauthorized:
		return "Unauthorized"
	case KindSdpInvalid:
		return "SdpInvalid"
	case KindRtpLoss:
		return "RtpLoss"
	case KindRtpMalformed:
		return "RtpMalformed"
	case KindRtpUnknownPayloadType:
		return "RtpUnknownPayloadType"
	case KindDepacketizer:
		return "Depacketizer"
	case KindSessionTimeout:
		return "SessionTimeout"
	case KindCancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// Error is the single error value surfaced to callers across this module.
// It is a shared handle to a structured Kind, an optional context value
// (one of ConnectionContext, RtspMessageContext, PacketContext), and an
// optional wrapped cause, so the propagation chain can be rendered with
// "caused by:" separators per spec.
type Error struct {
	Kind    Kind
	Msg     string
	Context fmt.Stringer
	Cause   error

	// Set only for KindRtspResponse.
	Status int
	Method string
	URL    string
}

func newError(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

func (e *Error) withContext(ctx fmt.Stringer) *Error {
	e.Context = ctx
	return e
}

func (e *Error) withCause(err error) *Error {
	e.Cause = err
	return e
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Status != 0 {
		fmt.Fprintf(&b, " (status=%d method=%s url=%s)", e.Status, e.Method, e.URL)
	}
	if e.Context != nil {
		fmt.Fprintf(&b, " [%s]", e.Context.String())
	}
	if e.Cause != nil {
		b.WriteString(" caused by: ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is lets errors.Is(err, ErrSessionTimeout) etc. match purely on Kind,
// ignoring message/context/cause, the way sentinel errors are normally
// compared.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Sentinel values for errors.Is comparisons against a bare Kind.
var (
	ErrConnectionFailed      = newError(KindConnectionFailed, "")
	ErrRtspFraming           = newError(KindRtspFraming, "")
	ErrRtspResponse          = newError(KindRtspResponse, "")
	ErrUnauthorized          = newError(KindUnauthorized, "")
	ErrSdpInvalid            = newError(KindSdpInvalid, "")
	ErrRtpLoss               = newError(KindRtpLoss, "")
	ErrRtpMalformed          = newError(KindRtpMalformed, "")
	ErrRtpUnknownPayloadType = newError(KindRtpUnknownPayloadType, "")
	ErrDepacketizer          = newError(KindDepacketizer, "")
	ErrSessionTimeout        = newError(KindSessionTimeout, "")
	ErrCancelled             = newError(KindCancelled, "")
)

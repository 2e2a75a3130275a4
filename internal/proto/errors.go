// Package proto defines the wire envelope shapes and error taxonomy
// exchanged between Session and its clients, grounded on datamodel.go's
// ServerComMessage/NoErr/ErrMalformed family (tinode/chat) but collapsed
// to spec.md section 7's smaller, relay-specific error kinds.
package proto

import "fmt"

// Kind enumerates spec.md section 7's error taxonomy.
type Kind string

const (
	KindAuthFailed      Kind = "AuthFailed"
	KindUnauthenticated Kind = "Unauthenticated"
	KindNotAttending    Kind = "NotAttending"
	KindInvalidChannel  Kind = "InvalidChannel"
	KindNotGroupChat    Kind = "NotGroupChat"
	KindNotMember       Kind = "NotMember"
	KindBlankMessage    Kind = "BlankMessage"
	KindStorageError    Kind = "StorageError"
	KindBusDisconnected Kind = "BusDisconnected"
	KindUnknownMethod   Kind = "UnknownMethod"
)

// connectionFatal lists the kinds that must close the connection rather
// than produce an in-band error reply, per spec.md section 7's table.
var connectionFatal = map[Kind]bool{
	KindAuthFailed:      true,
	KindUnauthenticated: true,
	KindNotAttending:    true,
	KindUnknownMethod:   true,
}

// RelayError is the error type returned by Session request handlers.
// Session.Run translates it into either a close or an {status:"ERROR"}
// reply depending on ConnectionFatal.
type RelayError struct {
	Kind            Kind
	Reason          string
	ConnectionFatal bool
	Err             error // underlying collaborator error, if any, for logging
}

func (e *RelayError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *RelayError) Unwrap() error { return e.Err }

// NewError builds a RelayError, deriving ConnectionFatal from kind unless
// the caller needs a different taxonomy mapping for a specific case.
func NewError(kind Kind, reason string, cause error) *RelayError {
	return &RelayError{
		Kind:            kind,
		Reason:          reason,
		ConnectionFatal: connectionFatal[kind],
		Err:             cause,
	}
}

func AuthFailed(reason string, cause error) *RelayError {
	return NewError(KindAuthFailed, reason, cause)
}

func Unauthenticated() *RelayError {
	return NewError(KindUnauthenticated, "authenticate first", nil)
}

func NotAttending() *RelayError {
	return NewError(KindNotAttending, "attend a channel first", nil)
}

func InvalidChannel(reason string) *RelayError {
	return NewError(KindInvalidChannel, reason, nil)
}

func NotGroupChat() *RelayError {
	return NewError(KindNotGroupChat, "channel is not a group chat", nil)
}

func NotMember() *RelayError {
	return NewError(KindNotMember, "not a member of this channel", nil)
}

func BlankMessage() *RelayError {
	return NewError(KindBlankMessage, "Blank message is not accepted", nil)
}

func StorageError(cause error) *RelayError {
	return NewError(KindStorageError, "storage operation failed", cause)
}

func BusDisconnected(cause error) *RelayError {
	return NewError(KindBusDisconnected, "bus subscription dropped", cause)
}

func UnknownMethod(method string) *RelayError {
	return NewError(KindUnknownMethod, "unrecognized method: "+method, nil)
}

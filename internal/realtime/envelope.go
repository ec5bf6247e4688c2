package realtime

import (
	"encoding/json"
	"errors"
	"time"
)

// Wire error codes produced by the realtime layer itself.
const (
	CodeInvalidEnvelope = "invalid_envelope"
	CodeUnhandledEvent  = "unhandled_event"
	CodeHandlerError    = "handler_error"
	CodeInternal        = "internal_error"
)

// Envelope is an inbound client message.
type Envelope struct {
	Event     Event           `json:"event"`
	RequestID string          `json:"requestId,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Decode unmarshals the envelope payload into v. An empty payload leaves v untouched.
func (e Envelope) Decode(v any) error {
	if len(e.Data) == 0 || string(e.Data) == "null" {
		return nil
	}
	return json.Unmarshal(e.Data, v)
}

// ErrorBody is the error section of an error reply.
type ErrorBody struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Message is an outbound message pushed to a session.
type Message struct {
	Event     Event      `json:"event"`
	RequestID string     `json:"requestId,omitempty"`
	Data      any        `json:"data,omitempty"`
	Error     *ErrorBody `json:"error,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// NewMessage builds an outbound event.
func NewMessage(event Event, data any) *Message {
	return &Message{Event: event, Data: data, Timestamp: time.Now().UTC()}
}

// NewReply builds the reply to a request carrying its request ID.
func NewReply(event Event, requestID string, data any) *Message {
	return &Message{Event: event, RequestID: requestID, Data: data, Timestamp: time.Now().UTC()}
}

// NewErrorMessage builds an error reply for requestID.
func NewErrorMessage(requestID string, body ErrorBody) *Message {
	return &Message{Event: EventError, RequestID: requestID, Error: &body, Timestamp: time.Now().UTC()}
}

// Error is a handler error that carries its own wire code.
type Error struct {
	Code    string
	Message string
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Body converts the error to its wire representation.
func (e *Error) Body() ErrorBody {
	return ErrorBody{Code: e.Code, Message: e.Message, Details: e.Details}
}

// NewError creates a coded handler error.
func NewError(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// errorBody maps any handler error to the wire form, defaulting to a generic code.
func errorBody(err error) ErrorBody {
	var rtErr *Error
	if errors.As(err, &rtErr) {
		return rtErr.Body()
	}
	return ErrorBody{Code: CodeHandlerError, Message: err.Error()}
}

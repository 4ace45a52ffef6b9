package router

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

// Reserved response types.
const (
	ResponseError  = "Error"
	ResponseDirect = "DirectResponse"
)

// ClientMessage is an inbound request envelope.
type ClientMessage struct {
	RequestType string          `json:"requestType"`
	Body        json.RawMessage `json:"body"`
	RequestID   uuid.UUID       `json:"requestId"`
}

// ServerMessage is an outbound response envelope, delivered directly or broadcast.
type ServerMessage struct {
	ResponseType string     `json:"responseType"`
	Body         any        `json:"body"`
	RequestID    *uuid.UUID `json:"requestId"`
}

type ErrorBody struct {
	Description string `json:"description"`
	Kind        string `json:"kind,omitempty"`
}

var ErrMissingRequestType = errors.New("message is missing 'requestType'")

// DecodeRequest parses an inbound envelope. A "null" body is normalised to nil.
func DecodeRequest(raw []byte) (ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return ClientMessage{}, fmt.Errorf("malformed message: %w", err)
	}
	if msg.RequestType == "" {
		return msg, ErrMissingRequestType
	}
	if string(msg.Body) == "null" {
		msg.Body = nil
	}
	return msg, nil
}

// salvageRequestID pulls a correlation id out of a message that failed to
// decode, so the caller's pending request can still be rejected.
func salvageRequestID(raw []byte) uuid.UUID {
	if !gjson.ValidBytes(raw) {
		return uuid.Nil
	}
	id, err := uuid.Parse(gjson.GetBytes(raw, "requestId").String())
	if err != nil {
		return uuid.Nil
	}
	return id
}

// EncodeResponse serialises an outbound envelope. requestID may be nil.
func EncodeResponse(responseType string, body any, requestID *uuid.UUID) ([]byte, error) {
	msg, err := json.Marshal(ServerMessage{
		ResponseType: responseType,
		Body:         body,
		RequestID:    requestID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal '%s' response: %w", responseType, err)
	}
	return msg, nil
}

// Package relay maintains the agent's WebSocket connection to the relay:
// the JSON message codec, the connection state machine with exponential
// backoff and a circuit breaker, and the inbound dispatch onto the bus.
package relay

import (
	"encoding/json"
	"fmt"

	"sessioncast.io/agent/schema"
)

// Encode serializes a message to its JSON wire frame.
func Encode(msg schema.Message) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", schema.ErrEncode, msg.MessageType(), err)
	}
	return data, nil
}

// Decode parses a JSON wire frame into its concrete message. Unknown fields
// are ignored; an unrecognized type tag yields ErrUnknownMessage so the
// transport can log and carry on.
func Decode(data []byte) (schema.Message, error) {
	var probe struct {
		Type schema.MessageType `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("%w: %v", schema.ErrDecode, err)
	}

	var (
		msg schema.Message
		err error
	)
	switch probe.Type {
	case schema.MsgRegister:
		msg, err = decodeAs[schema.Register](data)
	case schema.MsgScreen:
		msg, err = decodeAs[schema.Screen](data)
	case schema.MsgScreenGz:
		msg, err = decodeAs[schema.ScreenGz](data)
	case schema.MsgSessions:
		msg, err = decodeAs[schema.Sessions](data)
	case schema.MsgFileView:
		msg, err = decodeAs[schema.FileView](data)
	case schema.MsgUploadComplete:
		msg, err = decodeAs[schema.UploadComplete](data)
	case schema.MsgUploadError:
		msg, err = decodeAs[schema.UploadError](data)
	case schema.MsgKeys:
		msg, err = decodeAs[schema.Keys](data)
	case schema.MsgResize:
		msg, err = decodeAs[schema.Resize](data)
	case schema.MsgCreateSession:
		msg, err = decodeAs[schema.CreateSession](data)
	case schema.MsgKillSession:
		msg, err = decodeAs[schema.KillSession](data)
	case schema.MsgRequestFileView:
		msg, err = decodeAs[schema.RequestFileView](data)
	case schema.MsgUploadFile:
		msg, err = decodeAs[schema.UploadFile](data)
	case schema.MsgError:
		msg, err = decodeAs[schema.ErrorMessage](data)
	case schema.MsgPing:
		msg, err = decodeAs[schema.Ping](data)
	case schema.MsgPong:
		msg, err = decodeAs[schema.Pong](data)
	default:
		return nil, fmt.Errorf("%w: %q", schema.ErrUnknownMessage, probe.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", schema.ErrDecode, probe.Type, err)
	}
	return msg, nil
}

func decodeAs[T schema.Message](data []byte) (schema.Message, error) {
	var msg T
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return msg, nil
}

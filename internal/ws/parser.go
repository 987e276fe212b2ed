package ws

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
)

// Parse parses a WebSocket message payload.
// The WebSocket returns messages either as JSON arrays or single objects.
// Keepalive frames and empty payloads yield no messages. Array elements that
// fail to decode are reported in the error while the others are returned.
func Parse(data []byte) ([]WSMessage, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}
	if s := string(data); s == PongMessage || s == PingMessage {
		return nil, nil
	}

	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("parsing websocket message: invalid JSON (data: %s)", truncate(data, 100))
	}

	root := gjson.ParseBytes(data)
	switch {
	case root.IsArray():
		elems := root.Array()
		messages := make([]WSMessage, 0, len(elems))
		var errs []error
		for i, elem := range elems {
			msg, err := decode(elem)
			if err != nil {
				errs = append(errs, fmt.Errorf("parsing websocket message array[%d]: %w (data: %s)", i, err, truncate([]byte(elem.Raw), 100)))
				continue
			}
			messages = append(messages, msg)
		}
		return messages, errors.Join(errs...)
	case root.IsObject():
		msg, err := decode(root)
		if err != nil {
			return nil, fmt.Errorf("parsing websocket message: %w (data: %s)", err, truncate(data, 100))
		}
		return []WSMessage{msg}, nil
	default:
		return nil, fmt.Errorf("parsing websocket message: unexpected %s frame (data: %s)", root.Type, truncate(data, 100))
	}
}

func decode(r gjson.Result) (WSMessage, error) {
	var msg WSMessage
	if !r.IsObject() {
		return msg, fmt.Errorf("expected object, got %s", r.Type)
	}
	if err := json.Unmarshal([]byte(r.Raw), &msg); err != nil {
		return msg, err
	}
	return msg, nil
}

// truncate truncates a byte slice to a maximum length for error messages.
func truncate(data []byte, maxLen int) string {
	if len(data) <= maxLen {
		return string(data)
	}
	return string(data[:maxLen]) + "..."
}

package events

import (
	"encoding/json"
	"errors"
)

const TypeChat = "chat"

var ErrNotChat = errors.New("not a chat payload")

// ChatPayload - формат сообщения чата в data channel
type ChatPayload struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func EncodeChat(text string) ([]byte, error) {
	return json.Marshal(ChatPayload{Type: TypeChat, Text: text})
}

// DecodeChat accepts only {"type":"chat"} payloads; everything else yields ErrNotChat or a json error.
func DecodeChat(data []byte) (string, error) {
	var p ChatPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return "", err
	}

	if p.Type != TypeChat {
		return "", ErrNotChat
	}

	return p.Text, nil
}

package models

import "time"

const LocalSenderDisplay = "You"

type ChatMessage struct {
	ID            uint64    `json:"id"`
	SenderDisplay string    `json:"sender_display"`
	Text          string    `json:"text"`
	SentAt        time.Time `json:"sent_at"`
	IsLocal       bool      `json:"is_local"`
}

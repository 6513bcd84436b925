package models

import "time"

// ChatMessage is one entry of a room's chat log.
type ChatMessage struct {
	ID         int64     `json:"id"`
	SenderID   string    `json:"senderId"`
	SenderName string    `json:"senderName"`
	SenderRole Role      `json:"senderRole"`
	Text       string    `json:"message"`
	Timestamp  time.Time `json:"timestamp"`
}

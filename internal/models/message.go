package models

import "time"

// Sender identifies who authored a message.
type Sender string

const (
	SenderUser      Sender = "user"
	SenderAssistant Sender = "assistant"
)

// Message is one immutable entry of a conversation. Timestamp is seconds since
// the epoch with sub-second precision.
type Message struct {
	Sender    Sender  `json:"sender" bson:"sender"`
	Text      string  `json:"text" bson:"text"`
	Timestamp float64 `json:"timestamp" bson:"timestamp"`
}

// NewMessage stamps a message with the supplied time.
func NewMessage(sender Sender, text string, at time.Time) Message {
	return Message{
		Sender:    sender,
		Text:      text,
		Timestamp: EpochSeconds(at),
	}
}

// EpochSeconds converts t to fractional seconds since the epoch.
func EpochSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

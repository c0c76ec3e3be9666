package bus

import (
	"time"
)

// InboundMessage is a user message captured by a channel. Voice notes and
// audio files arrive as Audio with their MIME type.
type InboundMessage struct {
	Channel   string
	SenderID  string
	ChatID    string
	Content   string
	Audio     []byte
	AudioMIME string
	Timestamp time.Time
	Metadata  map[string]any
}

func (m *InboundMessage) SessionKey() string {
	return m.Channel + ":" + m.ChatID
}

// HasAudio reports whether the message carries an audio payload.
func (m *InboundMessage) HasAudio() bool {
	return len(m.Audio) > 0
}

type OutboundMessage struct {
	Channel  string
	ChatID   string
	Content  string
	ReplyTo  string
	Metadata map[string]any
}

package domain

import "time"

// Sender identifies who produced a message.
type Sender string

const (
	SenderUser  Sender = "user"
	SenderAgent Sender = "agent"
)

// Channel is the conversation view a message belongs to.
type Channel string

const (
	ChannelDirect   Channel = "direct"
	ChannelBackroom Channel = "backroom"
)

// Valid reports whether c is one of the known channels.
func (c Channel) Valid() bool {
	return c == ChannelDirect || c == ChannelBackroom
}

// Attachment is a file attached to a message.
type Attachment struct {
	URL         string `json:"url"`
	ContentType string `json:"contentType"`
	Title       string `json:"title"`
}

// Message is the unit exchanged with the agent and rendered in a view.
// Messages are treated as immutable once they enter history.
type Message struct {
	Text        string       `json:"text"`
	Sender      Sender       `json:"sender"`
	Author      string       `json:"user,omitempty"` // display name: "user" or the agent's name
	Channel     Channel      `json:"channel"`
	Attachments []Attachment `json:"attachments,omitempty"`
	CreatedAt   time.Time    `json:"created_at,omitempty"`
}

// FromUser reports whether the message was submitted locally.
func (m Message) FromUser() bool { return m.Sender == SenderUser }

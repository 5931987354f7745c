package bus

type InboundMessage struct {
	Channel  string            `json:"channel"`
	SenderID string            `json:"sender_id"`
	ChatID   string            `json:"chat_id"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// PartType identifies how a channel renders an outbound part.
type PartType string

const (
	PartText  PartType = "text"
	PartImage PartType = "image"
)

// Part is one ordered piece of an outbound message. For images Value is a URL
// or a local file path.
type Part struct {
	Type  PartType `json:"type"`
	Value string   `json:"value"`
}

type OutboundMessage struct {
	Channel string `json:"channel"`
	ChatID  string `json:"chat_id"`
	Content string `json:"content"`
	// Parts, when set, takes precedence over Content for channels that
	// support rich messages.
	Parts   []Part `json:"parts,omitempty"`
	ReplyTo string `json:"reply_to,omitempty"`
}

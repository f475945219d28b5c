// Package protocol defines the wire messages exchanged with a chat relay:
// the identify announcement, outbound envelopes and inbound envelopes.
package protocol

// Kind is the explicit discriminator carried by every Content on the wire.
type Kind string

const (
	KindChat Kind = "ChatMessage"
	KindFile Kind = "FileMessage"
)

// SystemSender is the sender name used for notices synthesized by the client.
const SystemSender = "SYSTEM"

// Content is the tagged payload of an envelope. It is implemented only by
// Chat and File.
type Content interface {
	Kind() Kind
	isContent()
}

// Chat is a plain text message.
type Chat struct {
	Text string
}

// Kind implements Content.
func (Chat) Kind() Kind { return KindChat }

func (Chat) isContent() {}

// File is a named file with its full contents.
type File struct {
	Filename string
	Data     []byte
}

// Kind implements Content.
func (File) Kind() Kind { return KindFile }

func (File) isContent() {}

// Identify announces the display name of a client. It is sent once, right
// after the connection opens.
type Identify struct {
	Name string
}

// Envelope is an outbound message. An empty Destination means broadcast.
type Envelope struct {
	Destination string
	Content     Content
}

// IsBroadcast reports whether the envelope is addressed to every peer.
func (e Envelope) IsBroadcast() bool {
	return e.Destination == ""
}

// Inbound is a message delivered by the relay. Sender is always set by the
// remote side.
type Inbound struct {
	Destination string
	Sender      string
	Content     Content
}

// IsSystem reports whether the message was synthesized locally.
func (m Inbound) IsSystem() bool {
	return m.Sender == SystemSender
}

// NewChat builds a chat envelope. An empty destination is broadcast.
func NewChat(text, destination string) Envelope {
	return Envelope{
		Destination: destination,
		Content:     Chat{Text: text},
	}
}

// NewFile builds a file envelope. An empty destination is broadcast.
// Neither the name nor the size of the payload is validated.
func NewFile(filename string, data []byte, destination string) Envelope {
	return Envelope{
		Destination: destination,
		Content:     File{Filename: filename, Data: data},
	}
}

// SystemNotice builds a locally synthesized inbound message.
func SystemNotice(text string) Inbound {
	return Inbound{
		Sender:  SystemSender,
		Content: Chat{Text: text},
	}
}

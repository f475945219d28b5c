package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

var (
	// ErrMalformedMessage is returned when text cannot be decoded into one of the
	// known message shapes.
	ErrMalformedMessage = errors.New("malformed message")
	// ErrInvalidUTF8 is returned when a string field to encode is not valid
	// UTF-8. JSON would silently replace the bad bytes.
	ErrInvalidUTF8 = errors.New("invalid UTF-8")
)

// Field names, matched exactly on decode.
var (
	identifyKeys = []string{"name"}
	envelopeKeys = []string{"destination_name", "sender_name", "content"}
	contentKeys  = []string{"type", "text", "filename", "data"}
)

// Codec serializes messages to and from JSON text.
// The zero value encodes file data as integer arrays.
type Codec struct {
	Bytes ByteEncoding
}

// NewCodec creates a Codec using the given byte encoding for file data.
func NewCodec(enc ByteEncoding) *Codec {
	return &Codec{Bytes: enc}
}

type wireIdentify struct {
	Name *string `json:"name"`
}

type wireContent struct {
	Type     *string    `json:"type"`
	Text     *string    `json:"text,omitempty"`
	Filename *string    `json:"filename,omitempty"`
	Data     *wireBytes `json:"data,omitempty"`
}

type wireEnvelope struct {
	Destination *string      `json:"destination_name,omitempty"`
	Sender      *string      `json:"sender_name,omitempty"`
	Content     *wireContent `json:"content"`
}

// EncodeIdentify encodes an identify announcement.
func (c *Codec) EncodeIdentify(id Identify) ([]byte, error) {
	if err := checkUTF8("name", id.Name); err != nil {
		return nil, err
	}
	data, err := json.Marshal(wireIdentify{Name: &id.Name})
	if err != nil {
		return nil, fmt.Errorf("failed to encode identify: %w", err)
	}
	return data, nil
}

// DecodeIdentify decodes an identify announcement.
func (c *Codec) DecodeIdentify(data []byte) (Identify, error) {
	if _, err := exactKeys(data, identifyKeys); err != nil {
		return Identify{}, err
	}
	var w wireIdentify
	if err := json.Unmarshal(data, &w); err != nil {
		return Identify{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if w.Name == nil {
		return Identify{}, fmt.Errorf("%w: missing name", ErrMalformedMessage)
	}
	return Identify{Name: *w.Name}, nil
}

// Encode encodes an outbound envelope.
func (c *Codec) Encode(env Envelope) ([]byte, error) {
	if err := checkUTF8("destination_name", env.Destination); err != nil {
		return nil, err
	}
	content, err := c.contentToWire(env.Content)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(wireEnvelope{
		Destination: optional(env.Destination),
		Content:     content,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode envelope: %w", err)
	}
	return data, nil
}

// EncodeInbound encodes an inbound envelope. Used by relays.
func (c *Codec) EncodeInbound(msg Inbound) ([]byte, error) {
	if err := checkUTF8("destination_name", msg.Destination); err != nil {
		return nil, err
	}
	if err := checkUTF8("sender_name", msg.Sender); err != nil {
		return nil, err
	}
	content, err := c.contentToWire(msg.Content)
	if err != nil {
		return nil, err
	}
	sender := msg.Sender
	data, err := json.Marshal(wireEnvelope{
		Destination: optional(msg.Destination),
		Sender:      &sender,
		Content:     content,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode inbound message: %w", err)
	}
	return data, nil
}

// Decode decodes an outbound envelope. A sender_name, if present, is ignored.
func (c *Codec) Decode(data []byte) (Envelope, error) {
	w, err := unmarshalEnvelope(data)
	if err != nil {
		return Envelope{}, err
	}
	content, err := contentFromWire(w.Content)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Destination: deref(w.Destination), Content: content}, nil
}

// DecodeInbound decodes an inbound envelope; sender_name is mandatory.
func (c *Codec) DecodeInbound(data []byte) (Inbound, error) {
	w, err := unmarshalEnvelope(data)
	if err != nil {
		return Inbound{}, err
	}
	if w.Sender == nil {
		return Inbound{}, fmt.Errorf("%w: missing sender_name", ErrMalformedMessage)
	}
	content, err := contentFromWire(w.Content)
	if err != nil {
		return Inbound{}, err
	}
	return Inbound{
		Destination: deref(w.Destination),
		Sender:      *w.Sender,
		Content:     content,
	}, nil
}

func unmarshalEnvelope(data []byte) (*wireEnvelope, error) {
	fields, err := exactKeys(data, envelopeKeys)
	if err != nil {
		return nil, err
	}
	if content, ok := fields["content"]; ok {
		if _, err := exactKeys(content, contentKeys); err != nil {
			return nil, err
		}
	}
	var w wireEnvelope
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if w.Content == nil {
		return nil, fmt.Errorf("%w: missing content", ErrMalformedMessage)
	}
	return &w, nil
}

func (c *Codec) contentToWire(content Content) (*wireContent, error) {
	switch v := content.(type) {
	case Chat:
		if err := checkUTF8("text", v.Text); err != nil {
			return nil, err
		}
		kind := string(KindChat)
		text := v.Text
		return &wireContent{Type: &kind, Text: &text}, nil
	case File:
		if err := checkUTF8("filename", v.Filename); err != nil {
			return nil, err
		}
		kind := string(KindFile)
		name := v.Filename
		return &wireContent{
			Type:     &kind,
			Filename: &name,
			Data:     &wireBytes{data: v.Data, enc: c.Bytes},
		}, nil
	default:
		return nil, fmt.Errorf("failed to encode content of type %T", content)
	}
}

func contentFromWire(w *wireContent) (Content, error) {
	if w.Type == nil {
		return nil, fmt.Errorf("%w: missing content type", ErrMalformedMessage)
	}
	switch Kind(*w.Type) {
	case KindChat:
		if w.Text == nil {
			return nil, fmt.Errorf("%w: chat message without text", ErrMalformedMessage)
		}
		return Chat{Text: *w.Text}, nil
	case KindFile:
		if w.Filename == nil {
			return nil, fmt.Errorf("%w: file message without filename", ErrMalformedMessage)
		}
		if w.Data == nil {
			return nil, fmt.Errorf("%w: file message without data", ErrMalformedMessage)
		}
		return File{Filename: *w.Filename, Data: w.Data.data}, nil
	default:
		return nil, fmt.Errorf("%w: unknown content type %q", ErrMalformedMessage, *w.Type)
	}
}

// exactKeys rejects an object whose keys differ from a known field name only
// by case, which encoding/json would otherwise accept. Unrelated keys are
// left alone. Non-objects are left for the typed decode to report.
func exactKeys(data []byte, known []string) (map[string]json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, nil
	}
	for key := range fields {
		for _, k := range known {
			if key != k && strings.EqualFold(key, k) {
				return nil, fmt.Errorf("%w: unknown field %q, expected %q", ErrMalformedMessage, key, k)
			}
		}
	}
	return fields, nil
}

func checkUTF8(field, s string) error {
	if !utf8.ValidString(s) {
		return fmt.Errorf("failed to encode %s: %w", field, ErrInvalidUTF8)
	}
	return nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

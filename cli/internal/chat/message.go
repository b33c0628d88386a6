package chat

import (
	"fmt"
	"time"

	nanoid "github.com/jaevor/go-nanoid"
	"github.com/vmihailenco/msgpack/v5"
)

// Envelope types carried on the side channel.
const (
	TypeChat       = "chat"
	TypeMediaState = "media_state"
)

// Envelope represents all side channel messages.
type Envelope struct {
	Type    string             `msgpack:"type"`
	Payload msgpack.RawMessage `msgpack:"payload"`
}

// ChatPayload is a chat message on the wire.
type ChatPayload struct {
	ID         string `msgpack:"id"`
	Text       string `msgpack:"text"`
	SenderID   string `msgpack:"sender_id"`
	SenderName string `msgpack:"sender_name"`
	Timestamp  int64  `msgpack:"timestamp"`
}

// MediaState is a peer's announced audio/video state.
type MediaState struct {
	Audio bool `msgpack:"audio"`
	Video bool `msgpack:"video"`
}

// Message is one entry in the chat log. IsOwn is computed locally.
type Message struct {
	ID         string
	Text       string
	SenderID   string
	SenderName string
	Timestamp  time.Time
	IsOwn      bool
}

// DecodePayload decodes the envelope payload into the provided struct
func (e Envelope) DecodePayload(v any) error {
	return msgpack.Unmarshal(e.Payload, v)
}

// NewEnvelope creates an Envelope with the given type and payload
func NewEnvelope(t string, payload any) (Envelope, error) {
	b, err := msgpack.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: t, Payload: b}, nil
}

func encode(t string, payload any) ([]byte, error) {
	env, err := NewEnvelope(t, payload)
	if err != nil {
		return nil, err
	}
	return msgpack.Marshal(env)
}

func decode(raw []byte) (Envelope, error) {
	var env Envelope
	err := msgpack.Unmarshal(raw, &env)
	return env, err
}

// idSuffix generates the random part of message ids.
var idSuffix = mustNanoid(8)

func mustNanoid(n int) func() string {
	gen, err := nanoid.Standard(n)
	if err != nil {
		panic(err)
	}
	return gen
}

// newID derives a message id from the sender, the send time and a random
// suffix, so concurrent sends and clock skew cannot collide.
func newID(sender string, at time.Time) string {
	return fmt.Sprintf("%s-%d-%s", sender, at.UnixMilli(), idSuffix())
}

func (p ChatPayload) message(own bool) Message {
	return Message{
		ID:         p.ID,
		Text:       p.Text,
		SenderID:   p.SenderID,
		SenderName: p.SenderName,
		Timestamp:  time.UnixMilli(p.Timestamp),
		IsOwn:      own,
	}
}

// Package protocol defines the websocket wire frames exchanged between a
// device and the broadcast gateway (C8), per spec §6.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/driftsync/syncd/internal/sync/model"
)

// FrameType names one of the wire frame kinds.
type FrameType string

const (
	FrameHello       FrameType = "HELLO"
	FrameHelloOK     FrameType = "HELLO_OK"
	FramePush        FrameType = "PUSH"
	FramePushResult  FrameType = "PUSH_RESULT"
	FramePull        FrameType = "PULL"
	FramePullChunk   FrameType = "PULL_CHUNK"
	FrameDeliver     FrameType = "DELIVER"
	FrameAck         FrameType = "ACK"
	FramePing        FrameType = "PING"
	FramePong        FrameType = "PONG"
	FrameError       FrameType = "ERROR"

	// FrameTutorMessage carries tutor chat traffic over the independent
	// tutor topic namespace (spec §9); it never touches the owner log.
	FrameTutorMessage FrameType = "TUTOR_MESSAGE"
)

// Envelope is the outer shape of every frame: a type tag plus a
// type-specific, lazily decoded body.
type Envelope struct {
	Type FrameType       `json:"type"`
	Body json.RawMessage `json:"body,omitempty"`
}

// Encode marshals a typed body into an Envelope ready to write to the
// websocket connection.
func Encode(t FrameType, body any) (Envelope, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return Envelope{}, fmt.Errorf("protocol: encoding %s body: %w", t, err)
	}
	return Envelope{Type: t, Body: raw}, nil
}

// Decode unmarshals an Envelope's body into dst, which must be a pointer to
// the type matching the envelope's declared FrameType.
func (e Envelope) Decode(dst any) error {
	if err := json.Unmarshal(e.Body, dst); err != nil {
		return fmt.Errorf("protocol: decoding %s body: %w", e.Type, err)
	}
	return nil
}

// HelloBody opens a session: the device identifies itself and states the
// highest op_seq it has already applied for this owner.
type HelloBody struct {
	OwnerID    string `json:"owner_id"`
	DeviceID   string `json:"device_id"`
	LastSeqSeen uint64 `json:"last_seq_seen"`
}

// HelloOKBody acknowledges a HELLO and assigns the session id.
type HelloOKBody struct {
	SessionID  string `json:"session_id"`
	HeadSeq    uint64 `json:"head_seq"`
	NeedsReplay bool  `json:"needs_replay"`
}

// PushBody proposes a batch of operations for commit, applied in the order
// the device sent them (spec §5, §6 "a push batch from a device is applied
// in the order the device sent it").
type PushBody struct {
	BatchID string            `json:"batch_id"`
	Ops     []model.Operation `json:"ops"`
}

// OpAck is one operation's outcome within a PUSH_RESULT batch.
type OpAck struct {
	OpSeq        uint64 `json:"op_seq,omitempty"`
	Accepted     bool   `json:"accepted"`
	Conflict     bool   `json:"conflict"`
	RejectReason string `json:"reject_reason,omitempty"`
}

// PushResultBody reports the outcome of every op in a PUSH batch, keyed by
// op_id's string form so a device resubmitting the same batch (spec §4.1,
// §4.3, S6) can match each result back to the op it queued.
type PushResultBody struct {
	BatchID string           `json:"batch_id"`
	Acks    map[string]OpAck `json:"acks"`
}

// PullBody requests replay of committed ops after a given op_seq.
type PullBody struct {
	AfterSeq uint64 `json:"after_seq"`
}

// PullChunkBody is one batch of the PULL replay stream.
type PullChunkBody struct {
	Ops    []model.CommittedOp `json:"ops"`
	HasMore bool                `json:"has_more"`
}

// DeliverBody pushes a live committed op to a subscribed session.
type DeliverBody struct {
	Op model.CommittedOp `json:"op"`
}

// AckBody acknowledges receipt of a DELIVER or PULL_CHUNK up to op_seq.
type AckBody struct {
	UpToSeq uint64 `json:"up_to_seq"`
}

// ErrorBody carries a protocol-level error. Code lets the device branch on
// the failure without parsing Message; Retryable tells it whether resending
// the same frame is worth attempting (spec §6, §7).
type ErrorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// TutorMessageBody carries one tutor chat message, in either direction,
// over the tutor topic namespace.
type TutorMessageBody struct {
	Sender string `json:"sender"`
	Text   string `json:"text"`
}

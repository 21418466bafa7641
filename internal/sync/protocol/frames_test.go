package protocol

import (
	"testing"

	"github.com/driftsync/syncd/internal/sync/model"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	want := HelloBody{OwnerID: "owner-1", DeviceID: "device-1", LastSeqSeen: 42}

	envelope, err := Encode(FrameHello, want)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if envelope.Type != FrameHello {
		t.Fatalf("expected frame type %s, got %s", FrameHello, envelope.Type)
	}

	var got HelloBody
	if err := envelope.Decode(&got); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got != want {
		t.Fatalf("Decode round trip = %+v, want %+v", got, want)
	}
}

func TestDecodeIgnoresUnknownFields(t *testing.T) {
	envelope, err := Encode(FrameHello, HelloBody{OwnerID: "owner-1"})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	var got struct{ Nested struct{ X int } }
	// json.Unmarshal into a struct with no matching fields simply ignores
	// unknown keys rather than erroring, so this should succeed with a
	// zero-valued destination rather than fail.
	if err := envelope.Decode(&got); err != nil {
		t.Fatalf("Decode: %v", err)
	}
}

// S6: a device re-pushing the same batch must be able to match each ack
// back to the op it sent by op_id, not by position.
func TestPushResultRoundTripsAcksByOpID(t *testing.T) {
	op := model.OpID{DeviceID: "device-1", DeviceSeq: 7}
	want := PushResultBody{
		BatchID: "batch-1",
		Acks: map[string]OpAck{
			op.String(): {OpSeq: 42, Accepted: true},
		},
	}

	envelope, err := Encode(FramePushResult, want)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	var got PushResultBody
	if err := envelope.Decode(&got); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.BatchID != want.BatchID {
		t.Fatalf("BatchID = %q, want %q", got.BatchID, want.BatchID)
	}
	ack, ok := got.Acks[op.String()]
	if !ok {
		t.Fatalf("expected ack keyed by %q, got %+v", op.String(), got.Acks)
	}
	if ack.OpSeq != 42 || !ack.Accepted {
		t.Fatalf("unexpected ack %+v", ack)
	}
}

func TestErrorBodyCarriesCodeAndRetryable(t *testing.T) {
	want := ErrorBody{Code: "stale_base", Message: "base vector is stale", Retryable: false}

	envelope, err := Encode(FrameError, want)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	var got ErrorBody
	if err := envelope.Decode(&got); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got != want {
		t.Fatalf("Decode round trip = %+v, want %+v", got, want)
	}
}

package orchestrator

import (
	"testing"

	"github.com/driftsync/syncd/internal/sync/model"
)

func TestRelationLabelClassifiesCorrectly(t *testing.T) {
	if got := relationLabel(model.Operation{BaseVector: model.VersionVector{}}, nil); got != "create" {
		t.Errorf("relationLabel(nil current) = %q, want create", got)
	}

	rec := &model.Record{VersionVector: model.VersionVector{"dev-a": 2}}
	op := model.Operation{BaseVector: model.VersionVector{"dev-a": 2}}
	if got := relationLabel(op, rec); got != "equal" {
		t.Errorf("relationLabel = %q, want equal", got)
	}

	opConcurrent := model.Operation{BaseVector: model.VersionVector{"dev-b": 1}}
	if got := relationLabel(opConcurrent, rec); got != "concurrent" {
		t.Errorf("relationLabel = %q, want concurrent", got)
	}
}

func TestStateDigestIsDeterministic(t *testing.T) {
	rec := &model.Record{Payload: model.Payload{"title": "hello"}}
	a, err := stateDigest(rec)
	if err != nil {
		t.Fatalf("stateDigest: %v", err)
	}
	b, err := stateDigest(rec)
	if err != nil {
		t.Fatalf("stateDigest: %v", err)
	}
	if a != b {
		t.Fatalf("expected stable digest for identical payload, got %q and %q", a, b)
	}

	other := &model.Record{Payload: model.Payload{"title": "different"}}
	c, err := stateDigest(other)
	if err != nil {
		t.Fatalf("stateDigest: %v", err)
	}
	if a == c {
		t.Fatalf("expected different payloads to produce different digests")
	}
}

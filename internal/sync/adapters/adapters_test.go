package adapters

import (
	"testing"

	"github.com/driftsync/syncd/internal/sync/merge"
	"github.com/driftsync/syncd/internal/sync/model"
)

func TestProgressSchemasRegisterExpectedFieldTypes(t *testing.T) {
	registry := merge.NewRegistry()
	for recordType, schema := range ProgressSchemas() {
		registry.Register(recordType, schema)
	}

	schema, err := registry.Schema("progress")
	if err != nil {
		t.Fatalf("Schema: %v", err)
	}
	if got := schema.FieldSpec("points_earned").Type; got != model.FieldCounter {
		t.Errorf("points_earned type = %v, want FieldCounter", got)
	}
	if got := schema.FieldSpec("completed_units").Type; got != model.FieldSet {
		t.Errorf("completed_units type = %v, want FieldSet", got)
	}
}

func TestContentSchemasRegisterExpectedFieldTypes(t *testing.T) {
	registry := merge.NewRegistry()
	for recordType, schema := range ContentSchemas() {
		registry.Register(recordType, schema)
	}

	schema, err := registry.Schema("learning_outcome")
	if err != nil {
		t.Fatalf("Schema: %v", err)
	}
	if got := schema.FieldSpec("attempts").Type; got != model.FieldCounter {
		t.Errorf("attempts type = %v, want FieldCounter", got)
	}
}

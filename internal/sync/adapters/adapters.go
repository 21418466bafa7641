// Package adapters implements the external adapter facades (C9): thin
// gRPC clients onto the tutor/content/progress services, used only to
// register record types and their field-merge schemas at startup. They
// never participate in merge logic (spec §4.9).
package adapters

import (
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	grpcmw "github.com/driftsync/syncd/internal/pkg/middleware/grpc"
	"github.com/driftsync/syncd/internal/sync/merge"
	"github.com/driftsync/syncd/internal/sync/model"
	"github.com/driftsync/syncd/pkg/options"
)

// Adapter registers the record types and field-merge policies one external
// collaborator owns.
type Adapter interface {
	// Name identifies the adapter for logging (e.g. "content", "tutor",
	// "progress").
	Name() string
	// RegisterSchemas installs this adapter's record-type schemas into the
	// merge engine's registry. Called once at startup.
	RegisterSchemas(registry *merge.Registry)
	// Close releases the adapter's underlying connection.
	Close() error
}

// grpcAdapter is the shared shape for the content/tutor/progress facades:
// a dialed connection plus a static schema set supplied by the caller.
type grpcAdapter struct {
	name    string
	conn    *grpc.ClientConn
	schemas map[string]merge.Schema
}

// Dial opens a gRPC connection to an external service per opts, wrapping
// every unary call with the shared client-side timeout interceptor.
func Dial(name string, opts *options.GrpcOptions, schemas map[string]merge.Schema) (Adapter, error) {
	dialOpts := []grpc.DialOption{
		grpc.WithUnaryInterceptor(grpcmw.UnaryTimeoutInterceptor),
	}
	if opts.Insecure {
		dialOpts = append(dialOpts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	conn, err := grpc.NewClient(opts.Addr, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("adapters: dialing %s adapter at %s: %w", name, opts.Addr, err)
	}
	return &grpcAdapter{name: name, conn: conn, schemas: schemas}, nil
}

func (a *grpcAdapter) Name() string { return a.name }

func (a *grpcAdapter) RegisterSchemas(registry *merge.Registry) {
	for recordType, schema := range a.schemas {
		registry.Register(recordType, schema)
	}
}

func (a *grpcAdapter) Close() error {
	return a.conn.Close()
}

// ContentSchemas returns the illustrative field-merge schema for
// educational content metadata synced between a device and the content
// service.
func ContentSchemas() map[string]merge.Schema {
	return map[string]merge.Schema{
		"learning_outcome": {
			{Name: "title", Type: model.FieldScalar},
			{Name: "status", Type: model.FieldScalar},
			{Name: "attempts", Type: model.FieldCounter},
		},
	}
}

// TutorSchemas returns the tutor adapter's record-type schemas. Tutor chat
// traffic rides the independent tutor topic namespace rather than the
// owner log, so there is nothing to register here; the adapter still
// dials the service for whatever request/response calls it makes outside
// of merge (e.g. session setup), which is outside this component's scope.
func TutorSchemas() map[string]merge.Schema {
	return map[string]merge.Schema{}
}

// ProgressSchemas returns the illustrative field-merge schema for a
// learner's progress record, exercising the set, counter, and opaque
// field types.
func ProgressSchemas() map[string]merge.Schema {
	return map[string]merge.Schema{
		"progress": {
			{Name: "completed_units", Type: model.FieldSet},
			{Name: "points_earned", Type: model.FieldCounter},
			{Name: "last_note", Type: model.FieldOpaque, Resolver: model.ResolverServerWins},
		},
	}
}

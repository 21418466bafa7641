// Package app implements syncdctl, an operator CLI for inspecting a
// running deployment's durable state directly: the per-device offline
// queue and a owner's committed head sequence.
package app

import (
	"context"
	"fmt"

	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"

	"github.com/driftsync/syncd/internal/sync/queue"
	"github.com/driftsync/syncd/internal/sync/version"
	"github.com/driftsync/syncd/pkg/options"
)

// NewCommand builds the syncdctl root command.
func NewCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          "syncdctl",
		Short:        "Inspect a syncd deployment's durable state",
		SilenceUsage: true,
	}
	root.AddCommand(newQueueCommand())
	root.AddCommand(newVersionCommand())
	return root
}

func newQueueCommand() *cobra.Command {
	var sqlitePath string
	var deviceID string

	cmd := &cobra.Command{
		Use:   "queue",
		Short: "List a device's pending offline queue entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			if deviceID == "" {
				return fmt.Errorf("syncdctl: --device is required")
			}
			opts := options.NewSQLiteOptions()
			opts.Path = sqlitePath

			store, err := queue.Open(opts)
			if err != nil {
				return fmt.Errorf("syncdctl: opening queue store: %w", err)
			}
			defer store.Close()

			ctx := context.Background()
			entries, err := store.Drain(ctx, deviceID)
			if err != nil {
				return fmt.Errorf("syncdctl: draining queue for %q: %w", deviceID, err)
			}

			table := uitable.New()
			table.AddRow("RECORD_TYPE", "RECORD_ID", "BASE_VECTOR", "ATTEMPTS", "ENQUEUED_AT")
			for _, e := range entries {
				table.AddRow(e.Op.RecordType, e.Op.RecordID, e.Op.BaseVector, e.Attempts, e.EnqueuedAt)
			}
			fmt.Println(table)
			fmt.Printf("%d entries pending for device %s\n", len(entries), deviceID)
			return nil
		},
	}
	cmd.Flags().StringVar(&sqlitePath, "sqlite-path", "syncd-queue.db", "Path to the queue store SQLite database file.")
	cmd.Flags().StringVar(&deviceID, "device", "", "Device whose pending queue entries to list.")
	return cmd
}

func newVersionCommand() *cobra.Command {
	var etcdEndpoints []string
	var prefix string
	var ownerID string

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show an owner's committed head sequence",
		RunE: func(cmd *cobra.Command, args []string) error {
			if ownerID == "" {
				return fmt.Errorf("syncdctl: --owner is required")
			}
			opts := options.NewEtcdOptions()
			opts.Endpoints = etcdEndpoints
			opts.Prefix = prefix

			store, err := version.New(opts, 1)
			if err != nil {
				return fmt.Errorf("syncdctl: opening version store: %w", err)
			}
			defer store.Close()

			ctx := context.Background()
			headSeq, err := store.HeadSeq(ctx, ownerID)
			if err != nil {
				return fmt.Errorf("syncdctl: reading head seq for %q: %w", ownerID, err)
			}

			table := uitable.New()
			table.AddRow("OWNER_ID", "HEAD_SEQ")
			table.AddRow(ownerID, headSeq)
			fmt.Println(table)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&etcdEndpoints, "etcd-endpoints", []string{"127.0.0.1:2379"}, "etcd cluster endpoints.")
	cmd.Flags().StringVar(&prefix, "etcd-prefix", "/syncd", "Key prefix namespacing the deployment's owner logs.")
	cmd.Flags().StringVar(&ownerID, "owner", "", "Owner whose head sequence to show.")
	return cmd
}

// Package archive cold-stores version-store records (C2) that have aged
// past their grace window: tombstones and records still carrying manual
// conflicts are written to object storage before their etcd copy is deleted, so a
// GC'd record's final state remains retrievable without keeping it live in
// the hot store indefinitely.
package archive

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/driftsync/syncd/internal/sync/model"
	"github.com/driftsync/syncd/pkg/log"
	"github.com/driftsync/syncd/pkg/options"
)

// Store writes a record's final JSON state to an S3-compatible bucket,
// keyed so it can be located by owner, record type, and record id alone.
type Store struct {
	client     *minio.Client
	bucketName string
}

// New dials the object store per opts. The connection is lazy; the first
// CheckBucket or Archive call is what actually reaches the network.
func New(opts *options.S3Options) (*Store, error) {
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
	}

	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(opts.AccessKeyID, opts.SecretAccessKey, ""),
		Secure:    opts.UseSSL,
		Transport: transport,
		Region:    opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("archive: failed to create object storage client: %w", err)
	}

	return &Store{client: client, bucketName: opts.BucketName}, nil
}

// CheckBucket ensures the archive bucket exists, creating it if this is the
// first time the store has been used.
func (s *Store) CheckBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucketName)
	if err != nil {
		return fmt.Errorf("archive: checking bucket existence: %w", err)
	}
	if !exists {
		log.Info("archive bucket does not exist, creating", "bucket", s.bucketName)
		if err := s.client.MakeBucket(ctx, s.bucketName, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("archive: creating bucket: %w", err)
		}
	}
	return nil
}

// objectKey is where one record's archived state lives: owner/type/id.json.
func objectKey(ownerID, recordType, recordID string) string {
	return fmt.Sprintf("%s/%s/%s.json", ownerID, recordType, recordID)
}

// Archive writes rec's current state to the bucket, overwriting any prior
// archive of the same record. It satisfies version.Archiver.
func (s *Store) Archive(ctx context.Context, ownerID, recordType, recordID string, rec *model.Record) error {
	if err := s.CheckBucket(ctx); err != nil {
		return err
	}

	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("archive: encoding record %s/%s/%s: %w", ownerID, recordType, recordID, err)
	}

	key := objectKey(ownerID, recordType, recordID)
	_, err = s.client.PutObject(ctx, s.bucketName, key, bytes.NewReader(body), int64(len(body)),
		minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return fmt.Errorf("archive: putting object %q: %w", key, err)
	}
	return nil
}

// FetchURL returns a presigned URL a device or operator can use to retrieve
// one archived record directly from object storage, without round-tripping
// through syncd.
func (s *Store) FetchURL(ctx context.Context, ownerID, recordType, recordID string, expiry time.Duration) (string, error) {
	url, err := s.client.PresignedGetObject(ctx, s.bucketName, objectKey(ownerID, recordType, recordID), expiry, nil)
	if err != nil {
		return "", fmt.Errorf("archive: generating presigned url: %w", err)
	}
	return url.String(), nil
}

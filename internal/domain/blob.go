package domain

import (
	"context"
	"time"
)

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Upload(ctx context.Context, path string, data []byte, contentType string) error
}

// Archiver copies old records from the database to cold storage.
type Archiver interface {
	ArchiveTrades(ctx context.Context, before time.Time) (int64, error)
	ArchiveAudit(ctx context.Context, before time.Time) (int64, error)
}

package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/openvault/vaultd/internal/domain"
)

// archiveBatchSize bounds how many event rows one archive pass drains, so a
// long-neglected table is worked off across several cron ticks instead of
// one giant upload.
const archiveBatchSize = 10_000

// EventArchiveStore is the slice of domain.EventStore the archiver needs.
type EventArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.Event, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// Archiver implements domain.Archiver: old event rows are serialized to
// JSONL, uploaded under archive/events/YYYY-MM.jsonl, and only then pruned
// from the table. A failed upload leaves the rows in place for the next
// pass.
type Archiver struct {
	writer domain.BlobWriter
	events EventArchiveStore
	log    *slog.Logger
}

// NewArchiver creates an Archiver draining events through writer.
func NewArchiver(writer domain.BlobWriter, events EventArchiveStore, logger *slog.Logger) *Archiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Archiver{
		writer: writer,
		events: events,
		log:    logger.With("component", "archiver"),
	}
}

// ArchiveEvents uploads every event older than the cutoff and deletes the
// archived rows, returning how many were moved.
func (a *Archiver) ArchiveEvents(ctx context.Context, before time.Time) (int64, error) {
	var total int64
	for {
		events, err := a.events.ListBefore(ctx, before, archiveBatchSize)
		if err != nil {
			return total, fmt.Errorf("s3blob: archive events query: %w", err)
		}
		if len(events) == 0 {
			return total, nil
		}

		buf, err := marshalJSONL(events)
		if err != nil {
			return total, fmt.Errorf("s3blob: archive events marshal: %w", err)
		}

		// Batches within a month append to distinct keys via the first
		// event's timestamp, so re-runs never overwrite a verified upload.
		path := archivePath(events[0].CreatedAt)
		if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
			return total, fmt.Errorf("s3blob: archive events upload: %w", err)
		}

		pruneBefore := events[len(events)-1].CreatedAt.Add(time.Nanosecond)
		if pruneBefore.After(before) {
			pruneBefore = before
		}
		deleted, err := a.events.DeleteBefore(ctx, pruneBefore)
		if err != nil {
			return total, fmt.Errorf("s3blob: archive events prune: %w", err)
		}
		total += deleted

		a.log.Info("archived events", "path", path, "count", len(events), "deleted", deleted)
		if len(events) < archiveBatchSize {
			return total, nil
		}
	}
}

// archivePath builds the S3 key for one batch, partitioned by month with
// the batch's first timestamp for uniqueness.
//
//	archive/events/2025-01/20250114T093205.jsonl
func archivePath(first time.Time) string {
	return fmt.Sprintf("archive/events/%s/%s.jsonl",
		first.Format("2006-01"), first.UTC().Format("20060102T150405"))
}

// marshalJSONL serialises records as newline-delimited JSON, one compact
// line per record.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

var _ domain.Archiver = (*Archiver)(nil)

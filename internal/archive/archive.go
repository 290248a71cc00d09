// Package archive keeps an audit trail of ledger ingestions: one row per run
// in BigQuery and, optionally, the encrypted oracle answer as a GCS object.
package archive

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/dvloznov/taxledger/internal/jobs"
)

// Run outcomes.
const (
	RunStatusSuccess = "SUCCESS"
	RunStatusEmpty   = "EMPTY"
	RunStatusFailed  = "FAILED"
)

// HashSession returns a one-way identifier for a session so audit rows never
// carry a live session id.
func HashSession(session string) string {
	sum := sha256.Sum256([]byte(session))
	return hex.EncodeToString(sum[:])
}

// RunRow is one row of the ingestion_runs table.
type RunRow struct {
	RunID        string                 `bigquery:"run_id"`
	SessionHash  string                 `bigquery:"session_hash"`
	DocumentType string                 `bigquery:"document_type"`
	Source       string                 `bigquery:"source"`
	ItemCount    int64                  `bigquery:"item_count"`
	Status       string                 `bigquery:"status"`
	ErrorMessage string                 `bigquery:"error_message"`
	StartedTS    time.Time              `bigquery:"started_ts"`
	FinishedTS   bigquery.NullTimestamp `bigquery:"finished_ts"`
	RawObjectURI string                 `bigquery:"raw_object_uri"`
}

// Recorder persists run rows.
type Recorder interface {
	RecordRun(ctx context.Context, row *RunRow) error
}

// BlobStore writes opaque objects and returns their URI.
type BlobStore interface {
	URI(object string) string
	Put(ctx context.Context, object string, data []byte) error
}

// Archiver fans a job out to the configured sinks. Either sink may be nil.
type Archiver struct {
	recorder Recorder
	blobs    BlobStore
	log      zerolog.Logger
}

func NewArchiver(recorder Recorder, blobs BlobStore, log zerolog.Logger) *Archiver {
	return &Archiver{
		recorder: recorder,
		blobs:    blobs,
		log:      log.With().Str("component", "archive").Logger(),
	}
}

// objectName places raw answers under runs/<yyyy>/<mm>/<dd>/<run id>.b64.
func objectName(job *jobs.ArchiveJob) string {
	ts := job.StartedAt.UTC()
	return fmt.Sprintf("runs/%04d/%02d/%02d/%s.b64", ts.Year(), ts.Month(), ts.Day(), job.RunID)
}

// Archive writes the raw answer and the run row concurrently.
func (a *Archiver) Archive(ctx context.Context, job *jobs.ArchiveJob) error {
	row := &RunRow{
		RunID:        job.RunID,
		SessionHash:  job.SessionHash,
		DocumentType: job.DocumentType,
		Source:       job.Source,
		ItemCount:    int64(job.ItemCount),
		Status:       job.RunStatus,
		ErrorMessage: truncate(job.RunError, 2000),
		StartedTS:    job.StartedAt,
	}
	if !job.FinishedAt.IsZero() {
		row.FinishedTS = bigquery.NullTimestamp{Timestamp: job.FinishedAt, Valid: true}
	}

	g, gctx := errgroup.WithContext(ctx)
	if a.blobs != nil && job.RawCipherText != "" {
		object := objectName(job)
		row.RawObjectURI = a.blobs.URI(object)
		g.Go(func() error {
			if err := a.blobs.Put(gctx, object, []byte(job.RawCipherText)); err != nil {
				return fmt.Errorf("Archive: store raw answer: %w", err)
			}
			return nil
		})
	}
	if a.recorder != nil {
		g.Go(func() error {
			if err := a.recorder.RecordRun(gctx, row); err != nil {
				return fmt.Errorf("Archive: record run: %w", err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	a.log.Debug().Str("run_id", job.RunID).Str("status", job.RunStatus).Msg("Archived ingestion run")
	return nil
}

// Handler adapts the archiver to the job queue.
func (a *Archiver) Handler() jobs.JobHandler {
	return func(ctx context.Context, job jobs.Job) error {
		aj, ok := job.(*jobs.ArchiveJob)
		if !ok {
			return fmt.Errorf("archive: unexpected job type %s", job.GetType())
		}
		return a.Archive(ctx, aj)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

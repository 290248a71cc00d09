// Package pipeline orchestrates ingestion and analysis for a session: oracle
// extraction, normalization, the encrypted ledger write, cache invalidation,
// and the cached advisory answers computed over the ledger snapshot.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dvloznov/taxledger/internal/apperr"
	"github.com/dvloznov/taxledger/internal/archive"
	"github.com/dvloznov/taxledger/internal/cache"
	"github.com/dvloznov/taxledger/internal/classify"
	"github.com/dvloznov/taxledger/internal/crypto"
	"github.com/dvloznov/taxledger/internal/extraction"
	"github.com/dvloznov/taxledger/internal/jobs"
	"github.com/dvloznov/taxledger/internal/ledger"
	"github.com/dvloznov/taxledger/internal/logger"
	"github.com/dvloznov/taxledger/internal/oracle"
)

// Invalidator drops a session's cached answers.
type Invalidator interface {
	InvalidateSession(ctx context.Context, session string) (int, error)
}

// AnswerCache memoizes oracle answers by snapshot fingerprint.
type AnswerCache interface {
	Invalidator
	GetOrCompute(ctx context.Context, session, snapshotText, kind string, compute cache.Compute) (string, bool, error)
}

// Deps are the collaborators of a Service. Box and Publisher are optional;
// without a publisher no audit trail is kept.
type Deps struct {
	Ledger     *ledger.Store
	Cache      AnswerCache
	Classifier *classify.Classifier
	Oracle     oracle.Oracle
	Box        *crypto.Box
	Publisher  jobs.Publisher
}

type Options struct {
	ExtractionMaxTokens int
	AnalysisMaxTokens   int
	// PublishTimeout bounds how long an ingestion waits for the archive
	// queue to accept its job.
	PublishTimeout time.Duration
}

const defaultPublishTimeout = 2 * time.Second

type Service struct {
	deps  Deps
	opts  Options
	log   zerolog.Logger
	locks *sessionLocks
	now   func() time.Time

	extract *Pipeline
	commit  *Pipeline
}

func NewService(deps Deps, opts Options, log zerolog.Logger) *Service {
	if opts.ExtractionMaxTokens <= 0 {
		opts.ExtractionMaxTokens = 2500
	}
	if opts.AnalysisMaxTokens <= 0 {
		opts.AnalysisMaxTokens = 2500
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = defaultPublishTimeout
	}
	return &Service{
		deps:  deps,
		opts:  opts,
		log:   log,
		locks: newSessionLocks(),
		now:   time.Now,
		extract: NewPipeline(
			&ExtractStep{Oracle: deps.Oracle, MaxTokens: opts.ExtractionMaxTokens},
			&NormalizeStep{},
		),
		commit: NewPipeline(
			&PersistStep{Ledger: deps.Ledger},
			&InvalidateStep{Cache: deps.Cache, Log: log},
		),
	}
}

// IngestResult describes one successful ingestion.
type IngestResult struct {
	RunID        string                `json:"run_id"`
	DocumentType string                `json:"document_type"`
	Kind         string                `json:"kind"`
	Items        map[string]string     `json:"items"`
	Categorized  *classify.Categorized `json:"categorized,omitempty"`
	Invalidated  int                   `json:"invalidated_cache_entries"`
}

// EnsureSession returns session if it is live, otherwise a new guest session.
func (s *Service) EnsureSession(ctx context.Context, session string) (string, bool, error) {
	return s.deps.Ledger.EnsureSession(ctx, session)
}

func (s *Service) newState(session, documentType, source string) *IngestState {
	return &IngestState{
		RunID:        uuid.NewString(),
		Session:      session,
		DocumentType: documentType,
		Kind:         s.deps.Classifier.Kind(documentType),
		Source:       source,
		StartedAt:    s.now(),
	}
}

// AnalyzeDocument extracts line items from document text with the oracle and
// merges them into the session ledger. The oracle call runs outside the
// session lock; the ledger write and the cache invalidation run under it.
func (s *Service) AnalyzeDocument(ctx context.Context, session, documentType, text string) (*IngestResult, error) {
	state := s.newState(session, documentType, SourceDocument)
	state.Text = text

	err := s.extract.Execute(ctx, state)
	if err == nil {
		err = s.commitState(ctx, state)
	}
	return s.finish(ctx, state, err)
}

// SubmitForm merges manually entered field→amount pairs, processed in the
// order of fields, into the session ledger.
func (s *Service) SubmitForm(ctx context.Context, session, documentType string, fields []string, values map[string]string) (*IngestResult, error) {
	state := s.newState(session, documentType, SourceForm)

	items, err := extraction.FromForm(fields, values)
	if err == nil {
		state.Items = items
		err = s.commitState(ctx, state)
	}
	return s.finish(ctx, state, err)
}

func (s *Service) commitState(ctx context.Context, state *IngestState) error {
	unlock := s.locks.Lock(state.Session)
	defer unlock()
	return s.commit.Execute(ctx, state)
}

func (s *Service) finish(ctx context.Context, state *IngestState, err error) (*IngestResult, error) {
	log := logger.WithSession(s.log, state.Session, "pipeline").With().
		Str("run_id", state.RunID).
		Str("document_type", state.DocumentType).
		Str("source", state.Source).
		Logger()

	s.publishRun(ctx, state, err)

	if err != nil {
		if errors.Is(err, apperr.ErrExtractionEmpty) {
			log.Info().Msg("No items extracted, ledger unchanged")
		} else {
			log.Error().Err(err).Msg("Ingestion failed")
		}
		return nil, err
	}

	log.Info().Int("items", state.Items.Len()).Int("invalidated", state.Invalidated).Msg("Ingestion complete")

	res := &IngestResult{
		RunID:        state.RunID,
		DocumentType: state.DocumentType,
		Kind:         state.Kind.String(),
		Items:        state.Items.Map(),
		Invalidated:  state.Invalidated,
	}
	if state.Kind != classify.KindOther {
		res.Categorized = s.deps.Classifier.Categorize(state.Kind, res.Items)
	}
	return res, nil
}

// publishRun enqueues the audit record of an ingestion. Failures are logged.
func (s *Service) publishRun(ctx context.Context, state *IngestState, runErr error) {
	if s.deps.Publisher == nil {
		return
	}
	log := logger.WithSession(s.log, state.Session, "pipeline").With().Str("run_id", state.RunID).Logger()

	job := &jobs.ArchiveJob{
		RunID:        state.RunID,
		SessionHash:  archive.HashSession(state.Session),
		DocumentType: state.DocumentType,
		Source:       state.Source,
		RunStatus:    archive.RunStatusSuccess,
		StartedAt:    state.StartedAt,
		FinishedAt:   s.now(),
	}
	if state.Items != nil {
		job.ItemCount = state.Items.Len()
	}
	switch {
	case runErr == nil:
	case errors.Is(runErr, apperr.ErrExtractionEmpty):
		job.RunStatus = archive.RunStatusEmpty
	default:
		job.RunStatus = archive.RunStatusFailed
		job.RunError = runErr.Error()
	}
	if s.deps.Box != nil && state.Answer != "" {
		sealed, err := s.deps.Box.Encrypt(state.Answer)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to seal oracle answer for archive")
		} else {
			job.RawCipherText = sealed
		}
	}

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.PublishTimeout)
	defer cancel()
	if err := s.deps.Publisher.PublishArchive(pubCtx, job); err != nil {
		log.Warn().Err(err).Msg("Failed to publish archive job")
	}
}

// Result returns the combined, reclassified and categorized view of the
// session ledger.
func (s *Service) Result(ctx context.Context, session string) (*classify.Result, error) {
	snap, err := s.snapshot(ctx, session)
	if err != nil {
		return nil, fmt.Errorf("Result: %w", err)
	}
	c := s.deps.Classifier
	return c.Combine(snap.Items(c.IsIncome), snap.Items(c.IsExpense)), nil
}

// AnalysisResult is an advisory answer over a session snapshot.
type AnalysisResult struct {
	Kind   string `json:"kind"`
	Answer string `json:"answer"`
	Cached bool   `json:"cached"`
}

// Analyze answers one of the advisory questions over the current snapshot.
// Identical snapshots share one cached answer per kind.
func (s *Service) Analyze(ctx context.Context, session, kindName string) (*AnalysisResult, error) {
	kind, err := oracle.ParseAnalysisKind(kindName)
	if err != nil {
		return nil, fmt.Errorf("Analyze: %w", err)
	}

	snap, err := s.snapshot(ctx, session)
	if err != nil {
		return nil, fmt.Errorf("Analyze: %w", err)
	}
	text := snap.Text()

	answer, hit, err := s.deps.Cache.GetOrCompute(ctx, session, text, string(kind), func(ctx context.Context) (string, error) {
		return s.deps.Oracle.Ask(ctx, oracle.QAPrompt(text, kind.Instruction()), s.opts.AnalysisMaxTokens)
	})
	if err != nil {
		return nil, fmt.Errorf("Analyze: %w", err)
	}
	return &AnalysisResult{Kind: string(kind), Answer: answer, Cached: hit}, nil
}

// snapshot reads the ledger under the session read lock, so it never observes
// a write whose invalidation has not run yet.
func (s *Service) snapshot(ctx context.Context, session string) (*ledger.Snapshot, error) {
	unlock := s.locks.RLock(session)
	defer unlock()
	return s.deps.Ledger.Snapshot(ctx, session)
}

// Debug lists the session's raw ledger entries with their decryption outcome.
func (s *Service) Debug(ctx context.Context, session string) ([]ledger.DebugEntry, error) {
	return s.deps.Ledger.Debug(ctx, session)
}

// DeleteSession removes the session ledger and its cached answers.
func (s *Service) DeleteSession(ctx context.Context, session string) error {
	unlock := s.locks.Lock(session)
	defer unlock()

	if err := s.deps.Ledger.DeleteAll(ctx, session); err != nil {
		return fmt.Errorf("DeleteSession: %w", err)
	}
	if _, err := s.deps.Cache.InvalidateSession(ctx, session); err != nil {
		log := logger.WithSession(s.log, session, "pipeline")
		log.Warn().Err(err).Msg("Cache invalidation failed")
	}
	return nil
}

package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/taxledger/internal/classify"
	"github.com/dvloznov/taxledger/internal/extraction"
	"github.com/dvloznov/taxledger/internal/ledger"
	"github.com/dvloznov/taxledger/internal/logger"
	"github.com/dvloznov/taxledger/internal/oracle"
)

// Ingestion sources.
const (
	SourceDocument = "document"
	SourceForm     = "form"
)

// PipelineStep represents a single step of an ingestion.
type PipelineStep interface {
	Execute(ctx context.Context, state *IngestState) error
}

// IngestState holds the shared state across all steps of one ingestion.
type IngestState struct {
	RunID        string
	Session      string
	DocumentType string
	Kind         classify.Kind
	Source       string
	StartedAt    time.Time

	// Text is the uploaded document text.
	Text string
	// Answer is the raw oracle extraction answer.
	Answer string
	Items  *extraction.Items

	// Invalidated is the number of cache entries dropped after the write.
	Invalidated int
}

// ExtractStep asks the oracle for the document's label:amount lines.
type ExtractStep struct {
	Oracle    oracle.Oracle
	MaxTokens int
}

func (s *ExtractStep) Execute(ctx context.Context, state *IngestState) error {
	prompt := oracle.QAPrompt(state.Text, oracle.ExtractionInstruction(state.Kind))
	answer, err := s.Oracle.Ask(ctx, prompt, s.MaxTokens)
	if err != nil {
		return fmt.Errorf("ExtractStep: %w", err)
	}
	state.Answer = answer
	return nil
}

// NormalizeStep cleans the oracle answer and parses it into items.
type NormalizeStep struct{}

func (s *NormalizeStep) Execute(ctx context.Context, state *IngestState) error {
	items, err := extraction.CleanAndNormalize(state.Answer)
	if err != nil {
		return fmt.Errorf("NormalizeStep: %w", err)
	}
	state.Items = items
	return nil
}

// PersistStep writes the items to the session ledger.
type PersistStep struct {
	Ledger *ledger.Store
}

func (s *PersistStep) Execute(ctx context.Context, state *IngestState) error {
	list := state.Items.List()
	items := make([]ledger.Item, 0, len(list))
	for _, it := range list {
		items = append(items, ledger.Item{Field: it.Field, Amount: it.Amount})
	}
	if err := s.Ledger.PutAll(ctx, state.Session, state.DocumentType, items); err != nil {
		return fmt.Errorf("PersistStep: %w", err)
	}
	return nil
}

// InvalidateStep drops every cached answer of the session. It must run right
// after PersistStep under the same session write lock. A failure is logged
// only: cache keys are content fingerprints, so entries computed over the old
// ledger can no longer be reached by a read of the new one.
type InvalidateStep struct {
	Cache Invalidator
	Log   zerolog.Logger
}

func (s *InvalidateStep) Execute(ctx context.Context, state *IngestState) error {
	n, err := s.Cache.InvalidateSession(ctx, state.Session)
	if err != nil {
		log := logger.WithSession(s.Log, state.Session, "pipeline")
		log.Warn().Err(err).Str("run_id", state.RunID).Msg("Cache invalidation failed")
		return nil
	}
	state.Invalidated = n
	return nil
}

// Pipeline executes a sequence of steps in order.
type Pipeline struct {
	steps []PipelineStep
}

// NewPipeline creates a new pipeline with the given steps.
func NewPipeline(steps ...PipelineStep) *Pipeline {
	return &Pipeline{steps: steps}
}

// Execute runs all steps sequentially and stops at the first error.
func (p *Pipeline) Execute(ctx context.Context, state *IngestState) error {
	for i, step := range p.steps {
		if err := step.Execute(ctx, state); err != nil {
			return fmt.Errorf("pipeline step %d failed: %w", i+1, err)
		}
	}
	return nil
}

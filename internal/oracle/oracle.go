// Package oracle wraps the text-generation model used for extraction and
// analysis. Callers see a plain prompt→text function; all structure is imposed
// downstream.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"google.golang.org/genai"

	"github.com/dvloznov/taxledger/internal/apperr"
)

// DefaultModelName is the Gemini model used when none is configured.
const DefaultModelName = "gemini-2.5-flash"

var errEmptyResponse = errors.New("empty response from model")

// Oracle answers a prompt with freeform text.
type Oracle interface {
	Ask(ctx context.Context, prompt string, maxOutputTokens int) (string, error)
}

// Func adapts a function to Oracle.
type Func func(ctx context.Context, prompt string, maxOutputTokens int) (string, error)

func (f Func) Ask(ctx context.Context, prompt string, maxOutputTokens int) (string, error) {
	return f(ctx, prompt, maxOutputTokens)
}

type GeminiOptions struct {
	Model      string
	APIVersion string
}

// Gemini implements Oracle on the Gemini API. Credentials come from the
// environment (GOOGLE_API_KEY or Vertex AI settings).
type Gemini struct {
	client *genai.Client
	model  string
	log    zerolog.Logger
}

func NewGemini(ctx context.Context, opts GeminiOptions, log zerolog.Logger) (*Gemini, error) {
	if opts.Model == "" {
		opts.Model = DefaultModelName
	}
	if opts.APIVersion == "" {
		opts.APIVersion = "v1"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		HTTPOptions: genai.HTTPOptions{APIVersion: opts.APIVersion},
	})
	if err != nil {
		return nil, fmt.Errorf("NewGemini: create genai client: %w", err)
	}
	return &Gemini{
		client: client,
		model:  opts.Model,
		log:    log.With().Str("component", "oracle").Str("model", opts.Model).Logger(),
	}, nil
}

// Ask sends prompt with temperature 0. Transport failures and empty answers
// are reported as apperr.ErrUpstreamUnavailable.
func (g *Gemini) Ask(ctx context.Context, prompt string, maxOutputTokens int) (string, error) {
	contents := []*genai.Content{
		{
			Role:  "user",
			Parts: []*genai.Part{{Text: prompt}},
		},
	}
	config := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr[float32](0),
		MaxOutputTokens: int32(maxOutputTokens),
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, config)
	if err != nil {
		return "", fmt.Errorf("Ask: %w", apperr.Unavailable("generate content", err))
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fmt.Errorf("Ask: %w", apperr.Unavailable("generate content", errEmptyResponse))
	}

	g.log.Debug().Int("prompt_len", len(prompt)).Int("answer_len", len(text)).Msg("Oracle answered")
	return text, nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/time/rate"
	genai "google.golang.org/genai"
)

// Generator produces the assistant's text for a fully built prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
	Name() string
}

var errEmptyCompletion = errors.New("model returned no text")

// geminiGenerator wraps the genai client. Requests wait on limiter when
// one is configured.
type geminiGenerator struct {
	cli     *genai.Client
	model   string
	limiter *rate.Limiter
}

func newGeminiClient(ctx context.Context, apiKey string) (*genai.Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("GEMINI_API_KEY is not set")
	}
	cli, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return cli, nil
}

func newGeminiGenerator(cli *genai.Client, model string, rps float64) *geminiGenerator {
	g := &geminiGenerator{cli: cli, model: model}
	if rps > 0 {
		g.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
	return g
}

func (g *geminiGenerator) Name() string { return "Gemini:" + g.model }

func (g *geminiGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return "", err
		}
	}
	resp, err := g.cli.Models.GenerateContent(ctx, g.model,
		[]*genai.Content{{Parts: []*genai.Part{{Text: prompt}}}},
		nil,
	)
	if err != nil {
		return "", err
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", errEmptyCompletion
	}
	var sb strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return "", errEmptyCompletion
	}
	return text, nil
}

type geminiEmbedder struct {
	cli       *genai.Client
	model     string
	dimension int
	limiter   *rate.Limiter
}

func newGeminiEmbedder(cli *genai.Client, model string, dimension int, rps float64) *geminiEmbedder {
	e := &geminiEmbedder{cli: cli, model: model, dimension: dimension}
	if rps > 0 {
		e.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
	return e
}

func (e *geminiEmbedder) Dimension() int { return e.dimension }

func (e *geminiEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	resp, err := e.cli.Models.EmbedContent(ctx, e.model,
		[]*genai.Content{{Parts: []*genai.Part{{Text: truncateUTF8(text, maxEmbedChars)}}}},
		&genai.EmbedContentConfig{TaskType: "RETRIEVAL_DOCUMENT", Title: "Restaurant Document"},
	)
	if err != nil {
		return nil, fmt.Errorf("gemini embed: %w", err)
	}
	if len(resp.Embeddings) == 0 || resp.Embeddings[0] == nil {
		return nil, errors.New("gemini embed: empty response")
	}
	vec := resp.Embeddings[0].Values
	if e.dimension > 0 && len(vec) != e.dimension {
		return nil, fmt.Errorf("gemini embed: got %d dimensions, want %d", len(vec), e.dimension)
	}
	return vec, nil
}

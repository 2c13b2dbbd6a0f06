package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
)

type NovaRequest struct {
	Messages        []NovaMessage       `json:"messages"`
	InferenceConfig NovaInferenceConfig `json:"inferenceConfig"`
}

type NovaInferenceConfig struct {
	MaxNewTokens int     `json:"max_new_tokens"`
	Temperature  float64 `json:"temperature"`
}

type NovaMessage struct {
	Role    string        `json:"role"`
	Content []NovaContent `json:"content"`
}

type NovaContent struct {
	Text string `json:"text"`
}

type NovaResponse struct {
	Output struct {
		Message struct {
			Content []NovaContent `json:"content"`
		} `json:"message"`
	} `json:"output"`
}

type titanEmbedRequest struct {
	InputText  string `json:"inputText"`
	Dimensions int    `json:"dimensions,omitempty"`
	Normalize  bool   `json:"normalize"`
}

type titanEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// bedrockAPI is the part of the runtime client we call.
type bedrockAPI interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

func invokeJSON(ctx context.Context, client bedrockAPI, modelID string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	resp, err := client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(modelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        payload,
	})
	if err != nil {
		return fmt.Errorf("invoke model: %w", err)
	}

	if err := json.Unmarshal(resp.Body, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}

// bedrockGenerator answers with an Amazon Nova model.
type bedrockGenerator struct {
	client    bedrockAPI
	modelID   string
	maxTokens int
}

func newBedrockGenerator(client bedrockAPI, modelID string) *bedrockGenerator {
	return &bedrockGenerator{client: client, modelID: modelID, maxTokens: 1000}
}

func (g *bedrockGenerator) Name() string { return "Bedrock:" + g.modelID }

func (g *bedrockGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	log.Printf("invoking %s (%d prompt bytes)", g.modelID, len(prompt))

	body := NovaRequest{
		Messages: []NovaMessage{
			{
				Role:    "user",
				Content: []NovaContent{{Text: prompt}},
			},
		},
		InferenceConfig: NovaInferenceConfig{
			MaxNewTokens: g.maxTokens,
			Temperature:  0.3,
		},
	}

	var response NovaResponse
	if err := invokeJSON(ctx, g.client, g.modelID, body, &response); err != nil {
		return "", err
	}
	if len(response.Output.Message.Content) == 0 {
		return "", errEmptyCompletion
	}

	var sb strings.Builder
	for _, c := range response.Output.Message.Content {
		sb.WriteString(c.Text)
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return "", errEmptyCompletion
	}
	return text, nil
}

// bedrockEmbedder embeds text with Amazon Titan.
type bedrockEmbedder struct {
	client    bedrockAPI
	modelID   string
	dimension int
}

func newBedrockEmbedder(client bedrockAPI, modelID string, dimension int) *bedrockEmbedder {
	return &bedrockEmbedder{client: client, modelID: modelID, dimension: dimension}
}

func (e *bedrockEmbedder) Dimension() int { return e.dimension }

func (e *bedrockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	req := titanEmbedRequest{
		InputText:  truncateUTF8(text, maxEmbedChars),
		Dimensions: e.dimension,
		Normalize:  true,
	}
	var resp titanEmbedResponse
	if err := invokeJSON(ctx, e.client, e.modelID, req, &resp); err != nil {
		return nil, fmt.Errorf("titan embed: %w", err)
	}
	if len(resp.Embedding) == 0 {
		return nil, errors.New("titan embed: empty embedding")
	}
	if e.dimension > 0 && len(resp.Embedding) != e.dimension {
		return nil, fmt.Errorf("titan embed: got %d dimensions, want %d", len(resp.Embedding), e.dimension)
	}
	return resp.Embedding, nil
}

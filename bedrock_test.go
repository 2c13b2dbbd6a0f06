package main

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBedrock struct {
	modelID string
	body    []byte
	reply   any
	err     error
}

func (f *fakeBedrock) InvokeModel(_ context.Context, in *bedrockruntime.InvokeModelInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
	f.modelID = aws.ToString(in.ModelId)
	f.body = in.Body
	if f.err != nil {
		return nil, f.err
	}
	out, err := json.Marshal(f.reply)
	if err != nil {
		return nil, err
	}
	return &bedrockruntime.InvokeModelOutput{Body: out}, nil
}

func novaReply(parts ...string) NovaResponse {
	var r NovaResponse
	for _, p := range parts {
		r.Output.Message.Content = append(r.Output.Message.Content, NovaContent{Text: p})
	}
	return r
}

func TestBedrockGeneratorSendsPromptAndJoinsParts(t *testing.T) {
	fake := &fakeBedrock{reply: novaReply("Our beef noodles ", "cost NT.180. ")}
	g := newBedrockGenerator(fake, "amazon.nova-lite-v1:0")

	text, err := g.Generate(context.Background(), "How much are the noodles?")
	require.NoError(t, err)
	assert.Equal(t, "Our beef noodles cost NT.180.", text)
	assert.Equal(t, "amazon.nova-lite-v1:0", fake.modelID)

	var sent NovaRequest
	require.NoError(t, json.Unmarshal(fake.body, &sent))
	require.Len(t, sent.Messages, 1)
	assert.Equal(t, "user", sent.Messages[0].Role)
	assert.Equal(t, "How much are the noodles?", sent.Messages[0].Content[0].Text)
	assert.Equal(t, 1000, sent.InferenceConfig.MaxNewTokens)
}

func TestBedrockGeneratorEmptyOutput(t *testing.T) {
	g := newBedrockGenerator(&fakeBedrock{reply: novaReply()}, "m")
	_, err := g.Generate(context.Background(), "hi")
	assert.ErrorIs(t, err, errEmptyCompletion)

	g = newBedrockGenerator(&fakeBedrock{reply: novaReply("   ")}, "m")
	_, err = g.Generate(context.Background(), "hi")
	assert.ErrorIs(t, err, errEmptyCompletion)
}

func TestBedrockGeneratorInvokeError(t *testing.T) {
	boom := errors.New("throttled")
	g := newBedrockGenerator(&fakeBedrock{err: boom}, "m")
	_, err := g.Generate(context.Background(), "hi")
	assert.ErrorIs(t, err, boom)
}

func TestBedrockEmbedder(t *testing.T) {
	fake := &fakeBedrock{reply: titanEmbedResponse{Embedding: []float32{0.1, 0.2, 0.3}}}
	e := newBedrockEmbedder(fake, "amazon.titan-embed-text-v2:0", 3)

	vec, err := e.Embed(context.Background(), "Beef noodles")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)

	var sent titanEmbedRequest
	require.NoError(t, json.Unmarshal(fake.body, &sent))
	assert.Equal(t, "Beef noodles", sent.InputText)
	assert.Equal(t, 3, sent.Dimensions)
	assert.True(t, sent.Normalize)
}

func TestBedrockEmbedderDimensionMismatch(t *testing.T) {
	fake := &fakeBedrock{reply: titanEmbedResponse{Embedding: []float32{0.1, 0.2}}}
	e := newBedrockEmbedder(fake, "m", 3)
	_, err := e.Embed(context.Background(), "x")
	assert.ErrorContains(t, err, "got 2 dimensions, want 3")
}

package main

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrintRevealed(t *testing.T) {
	var sb strings.Builder
	require.NoError(t, printRevealed(context.Background(), &sb, "麵 ok", 0))
	assert.Equal(t, "麵 ok\n", sb.String())
}

func TestPrintRevealedCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var sb strings.Builder
	err := printRevealed(ctx, &sb, "hello", 0)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, "\n", sb.String())
}

func TestUnavailableBackend(t *testing.T) {
	b := unavailableBackend{err: errors.New("GEMINI_API_KEY is not set")}
	ctx := context.Background()

	_, err := b.Send(ctx, ChatRequest{Query: "hi"})
	var uerr *UpstreamError
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, upstreamErrorText, chatErrorText(err))

	_, err = b.SyncKnowledge(ctx)
	assert.ErrorContains(t, err, "GEMINI_API_KEY")
	_, err = b.Summary(ctx, "en")
	assert.Error(t, err)
	assert.NoError(t, b.ForgetSession(ctx, "s"))
}

func TestOpenAppMemory(t *testing.T) {
	a, err := openApp(context.Background(), Env{StoreDriver: "memory"})
	require.NoError(t, err)
	defer a.close()

	menu, err := a.menu.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, menu, len(demoMenuRows))
	assert.IsType(t, &memoryHistory{}, a.history)
	assert.IsType(t, &memoryIndex{}, a.index)
}

func TestOpenAppSQLite(t *testing.T) {
	a, err := openApp(context.Background(), Env{StoreDriver: "sqlite", SQLitePath: ":memory:"})
	require.NoError(t, err)
	defer a.close()

	rec, err := a.details.Create(context.Background(), map[string]string{"details": "Parking", "description": "Two spots behind the shop."})
	require.NoError(t, err)
	assert.NotEmpty(t, rec.ID)
	assert.IsType(t, &sqlHistory{}, a.history)
	assert.IsType(t, &sqlIndex{}, a.index)
}

func TestOpenAppRejectsUnknownDriver(t *testing.T) {
	_, err := openApp(context.Background(), Env{StoreDriver: "mongo"})
	assert.ErrorContains(t, err, "unknown STORE_DRIVER")

	_, err = openApp(context.Background(), Env{StoreDriver: "postgres"})
	assert.ErrorContains(t, err, "needs a database location")
}

func TestNewAssistantUnknownProvider(t *testing.T) {
	a, err := openApp(context.Background(), Env{StoreDriver: "memory"})
	require.NoError(t, err)

	_, err = newAssistant(context.Background(), Env{LLMProvider: "llama"}, a)
	assert.ErrorContains(t, err, "unknown LLM_PROVIDER")

	_, err = newAssistant(context.Background(), Env{LLMProvider: "gemini"}, a)
	assert.Error(t, err, "a missing key is reported")
}

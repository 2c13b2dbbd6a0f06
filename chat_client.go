package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ChatRequest mirrors the chat widget's wire body.
type ChatRequest struct {
	Language  string `json:"Language"`
	Query     string `json:"Query"`
	SessionID string `json:"Session_ID"`
}

type ChatReply struct {
	Text      string    `json:"response"`
	SessionID string    `json:"session_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ChatClient answers one query with the full response text.
type ChatClient interface {
	Send(ctx context.Context, req ChatRequest) (ChatReply, error)
}

// assistantBackend is everything the dashboard asks of the chat side.
type assistantBackend interface {
	ChatClient
	SyncKnowledge(ctx context.Context) (int, error)
	Summary(ctx context.Context, language string) (string, error)
	ForgetSession(ctx context.Context, sessionID string) error
}

// NetworkError means the request never got an answer.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string { return "chat backend unreachable: " + e.Err.Error() }
func (e *NetworkError) Unwrap() error { return e.Err }

// UpstreamError means the backend or the model answered with a failure.
type UpstreamError struct {
	Status int
	Detail string
	Err    error
}

func (e *UpstreamError) Error() string {
	switch {
	case e.Status != 0 && e.Detail != "":
		return fmt.Sprintf("chat backend returned %d: %s", e.Status, e.Detail)
	case e.Status != 0:
		return fmt.Sprintf("chat backend returned %d", e.Status)
	case e.Err != nil:
		return "model request failed: " + e.Err.Error()
	default:
		return "model request failed: " + e.Detail
	}
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// remoteBackend talks to `menudash serve` over HTTP.
type remoteBackend struct {
	baseURL string
	http    *http.Client
}

func newRemoteBackend(baseURL string) *remoteBackend {
	return &remoteBackend{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{},
	}
}

func (b *remoteBackend) do(ctx context.Context, method, path string, body, out any) error {
	var payload io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		payload = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, b.baseURL+path, payload)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := b.http.Do(req)
	if err != nil {
		return &NetworkError{Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &NetworkError{Err: fmt.Errorf("read response: %w", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var failure struct {
			Detail  string `json:"detail"`
			Message string `json:"message"`
			Error   string `json:"error"`
		}
		_ = json.Unmarshal(raw, &failure)
		return &UpstreamError{Status: resp.StatusCode, Detail: firstNonEmpty(failure.Detail, failure.Message, failure.Error)}
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &UpstreamError{Status: resp.StatusCode, Detail: "malformed response", Err: err}
	}
	return nil
}

func (b *remoteBackend) Send(ctx context.Context, req ChatRequest) (ChatReply, error) {
	var reply ChatReply
	if err := b.do(ctx, http.MethodPost, "/chat", req, &reply); err != nil {
		return ChatReply{}, err
	}
	return reply, nil
}

func (b *remoteBackend) SyncKnowledge(ctx context.Context) (int, error) {
	var out struct {
		Status  string `json:"status"`
		Message string `json:"message"`
		Chunks  int    `json:"chunks"`
	}
	if err := b.do(ctx, http.MethodPost, "/updatedb", nil, &out); err != nil {
		return 0, err
	}
	if out.Status != "success" {
		return 0, &UpstreamError{Detail: out.Message}
	}
	return out.Chunks, nil
}

func (b *remoteBackend) Summary(ctx context.Context, language string) (string, error) {
	var out struct {
		Summary string `json:"summary"`
	}
	if err := b.do(ctx, http.MethodGet, "/summary/"+url.PathEscape(language), nil, &out); err != nil {
		return "", err
	}
	return out.Summary, nil
}

func (b *remoteBackend) ForgetSession(ctx context.Context, sessionID string) error {
	return b.do(ctx, http.MethodDelete, "/sessions/"+url.PathEscape(sessionID), nil, nil)
}

package main

import (
	"context"
	"errors"
	"iter"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

type chatRole string

const (
	roleUser      chatRole = "user"
	roleAssistant chatRole = "assistant"
)

const (
	networkErrorText  = "Sorry, I couldn't reach the assistant. Please check your connection and try again."
	upstreamErrorText = "Sorry, something went wrong while answering. Please try again."
)

// chatMessage is a snapshot of one entry in the chat log.
type chatMessage struct {
	ID        int
	Role      chatRole
	Content   string
	Shown     string
	Awaiting  bool
	Revealing bool
	IsError   bool
}

// liveMessage is a chat entry plus the reveal that is filling it in.
type liveMessage struct {
	chatMessage
	cancel context.CancelFunc
	next   func() (string, bool)
	stop   func()
}

// halt cancels the reveal and releases its sequence. Safe to call twice.
func (m *liveMessage) halt() {
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	if m.stop != nil {
		m.stop()
		m.stop = nil
	}
	m.next = nil
	m.Revealing = false
}

// chatLog is the message list of the chat widget. Like Grid it is only
// touched from the Update loop.
type chatLog struct {
	session  *Session
	client   ChatClient
	delay    time.Duration
	messages []*liveMessage
	nextID   int
}

func newChatLog(session *Session, client ChatClient, delay time.Duration) *chatLog {
	if delay <= 0 {
		delay = 20 * time.Millisecond
	}
	return &chatLog{session: session, client: client, delay: delay}
}

func (l *chatLog) Messages() []chatMessage {
	out := make([]chatMessage, len(l.messages))
	for i, m := range l.messages {
		out[i] = m.chatMessage
	}
	return out
}

// Busy reports whether an answer is still pending or being revealed.
func (l *chatLog) Busy() bool {
	for _, m := range l.messages {
		if m.Awaiting || m.Revealing {
			return true
		}
	}
	return false
}

func (l *chatLog) find(id int) *liveMessage {
	for _, m := range l.messages {
		if m.ID == id {
			return m
		}
	}
	return nil
}

func (l *chatLog) add(m chatMessage) *liveMessage {
	l.nextID++
	m.ID = l.nextID
	lm := &liveMessage{chatMessage: m}
	l.messages = append(l.messages, lm)
	return lm
}

// Submit appends the user's query and an empty assistant message awaiting
// the reply, and returns the command that asks the chat collaborator.
func (l *chatLog) Submit(query string) (tea.Cmd, error) {
	q := strings.TrimSpace(query)
	if q == "" {
		return nil, &ValidationError{Fields: []string{"query"}}
	}
	l.add(chatMessage{Role: roleUser, Content: q, Shown: q})
	answer := l.add(chatMessage{Role: roleAssistant, Awaiting: true})

	req := ChatRequest{Query: q, Language: l.session.Language, SessionID: l.session.ID}
	return sendChatCmd(l.client, req, answer.ID), nil
}

// Clear drops every message and stops their reveals.
func (l *chatLog) Clear() {
	for _, m := range l.messages {
		m.halt()
	}
	l.messages = nil
}

// Fail replaces a message with a static error, superseding any reveal.
func (l *chatLog) Fail(id int, err error) {
	m := l.find(id)
	if m == nil {
		return
	}
	m.halt()
	m.Awaiting = false
	m.IsError = true
	m.Content = chatErrorText(err)
	m.Shown = m.Content
}

func chatErrorText(err error) string {
	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return networkErrorText
	}
	return upstreamErrorText
}

// Update handles chat replies and reveal ticks, returning the next tick.
func (l *chatLog) Update(msg tea.Msg) (tea.Cmd, bool) {
	switch msg := msg.(type) {
	case chatReplyMsg:
		m := l.find(msg.id)
		if m == nil || !m.Awaiting {
			return nil, true
		}
		if msg.err != nil {
			l.Fail(msg.id, msg.err)
			return nil, true
		}
		if strings.TrimSpace(msg.reply.Text) == "" {
			l.Fail(msg.id, &UpstreamError{Err: errEmptyCompletion})
			return nil, true
		}
		m.Awaiting = false
		m.Content = msg.reply.Text
		ctx, cancel := context.WithCancel(context.Background())
		m.cancel = cancel
		m.next, m.stop = iter.Pull(Reveal(ctx, m.Content, 0))
		m.Revealing = true
		return revealTickCmd(m.ID, l.delay), true

	case revealTickMsg:
		m := l.find(msg.id)
		if m == nil || m.next == nil {
			return nil, true
		}
		prefix, ok := m.next()
		if !ok {
			m.halt()
			return nil, true
		}
		m.Shown = prefix
		if len(prefix) == len(m.Content) {
			m.halt()
			return nil, true
		}
		return revealTickCmd(m.ID, l.delay), true
	}
	return nil, false
}

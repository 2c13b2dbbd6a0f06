package main

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChat struct {
	replies map[string]string
	err     error
	got     []ChatRequest
}

func (f *fakeChat) Send(_ context.Context, req ChatRequest) (ChatReply, error) {
	f.got = append(f.got, req)
	if f.err != nil {
		return ChatReply{}, f.err
	}
	return ChatReply{Text: f.replies[req.Query], SessionID: req.SessionID, Timestamp: time.Now()}, nil
}

func newTestLog(client ChatClient) *chatLog {
	return newChatLog(&Session{Language: "zh", ID: "session-1"}, client, time.Millisecond)
}

// deliver runs the chat command and applies its reply.
func deliver(t *testing.T, l *chatLog, query string) int {
	t.Helper()
	cmd, err := l.Submit(query)
	require.NoError(t, err)
	msg := cmd()
	reply, ok := msg.(chatReplyMsg)
	require.True(t, ok)
	_, handled := l.Update(reply)
	require.True(t, handled)
	return reply.id
}

// drain feeds ticks to message id until its reveal finishes, returning
// every prefix shown on the way.
func drain(l *chatLog, id int) []string {
	var shown []string
	for {
		cmd, _ := l.Update(revealTickMsg{id: id})
		m := l.find(id)
		if m != nil && (len(shown) == 0 || shown[len(shown)-1] != m.Shown) {
			shown = append(shown, m.Shown)
		}
		if cmd == nil {
			return shown
		}
	}
}

func TestChatSubmitBlank(t *testing.T) {
	l := newTestLog(&fakeChat{})
	cmd, err := l.Submit("   ")
	assert.Nil(t, cmd)
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
	assert.Empty(t, l.Messages())
}

func TestChatRevealsReply(t *testing.T) {
	client := &fakeChat{replies: map[string]string{"When are you open?": "Open 11:30–21:30"}}
	l := newTestLog(client)

	cmd, err := l.Submit("  When are you open? ")
	require.NoError(t, err)

	msgs := l.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, roleUser, msgs[0].Role)
	assert.Equal(t, "When are you open?", msgs[0].Shown)
	assert.True(t, msgs[1].Awaiting)
	assert.Empty(t, msgs[1].Shown)
	assert.True(t, l.Busy())

	reply := cmd().(chatReplyMsg)
	require.Len(t, client.got, 1)
	assert.Equal(t, ChatRequest{Language: "zh", Query: "When are you open?", SessionID: "session-1"}, client.got[0])

	tick, _ := l.Update(reply)
	require.NotNil(t, tick)
	msgs = l.Messages()
	assert.False(t, msgs[1].Awaiting)
	assert.True(t, msgs[1].Revealing)
	assert.Empty(t, msgs[1].Shown, "nothing shown before the first delay")

	shown := drain(l, reply.id)
	require.Len(t, shown, 16)
	assert.Equal(t, "O", shown[0])
	assert.Equal(t, "Open 11:30–21:30", shown[15])

	msgs = l.Messages()
	assert.False(t, msgs[1].Revealing)
	assert.False(t, l.Busy())
}

func TestChatErrorsBecomeStaticMessages(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"network", &NetworkError{Err: errors.New("dial tcp: connection refused")}, networkErrorText},
		{"upstream", &UpstreamError{Status: 500, Detail: "boom"}, upstreamErrorText},
		{"other", errors.New("weird"), upstreamErrorText},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			l := newTestLog(&fakeChat{err: tc.err})
			cmd, err := l.Submit("hi")
			require.NoError(t, err)

			next, _ := l.Update(cmd())
			assert.Nil(t, next, "no reveal is started")

			m := l.Messages()[1]
			assert.True(t, m.IsError)
			assert.False(t, m.Awaiting)
			assert.False(t, m.Revealing)
			assert.Equal(t, tc.want, m.Shown)
		})
	}
}

func TestChatClearStopsReveal(t *testing.T) {
	l := newTestLog(&fakeChat{replies: map[string]string{"q": "a long answer"}})
	id := deliver(t, l, "q")
	l.Update(revealTickMsg{id: id})

	l.Clear()
	assert.Empty(t, l.Messages())

	cmd, handled := l.Update(revealTickMsg{id: id})
	assert.True(t, handled)
	assert.Nil(t, cmd)
	assert.Empty(t, l.Messages())
}

func TestChatFailSupersedesReveal(t *testing.T) {
	l := newTestLog(&fakeChat{replies: map[string]string{"q": "a long answer"}})
	id := deliver(t, l, "q")
	l.Update(revealTickMsg{id: id})

	l.Fail(id, &UpstreamError{Detail: "cut off"})
	cmd, _ := l.Update(revealTickMsg{id: id})
	assert.Nil(t, cmd)

	m := l.Messages()[1]
	assert.Equal(t, upstreamErrorText, m.Shown)
	assert.False(t, m.Revealing)
}

func TestChatRevealsAreIndependent(t *testing.T) {
	l := newTestLog(&fakeChat{replies: map[string]string{"one": "first", "two": "second!"}})
	a := deliver(t, l, "one")
	b := deliver(t, l, "two")

	l.Update(revealTickMsg{id: a})
	l.Update(revealTickMsg{id: b})
	l.Update(revealTickMsg{id: b})

	assert.Equal(t, "f", l.find(a).Shown)
	assert.Equal(t, "se", l.find(b).Shown)

	assert.Equal(t, "first", drain(l, a)[len("first")-2])
	assert.True(t, strings.HasPrefix("second!", l.find(b).Shown))
	assert.True(t, l.find(b).Revealing)
}

func TestChatLateReplyIgnoredAfterClear(t *testing.T) {
	l := newTestLog(&fakeChat{replies: map[string]string{"q": "answer"}})
	cmd, err := l.Submit("q")
	require.NoError(t, err)
	reply := cmd()

	l.Clear()
	next, handled := l.Update(reply)
	assert.True(t, handled)
	assert.Nil(t, next)
	assert.Empty(t, l.Messages())
}

func TestChatBlankReplyShowsError(t *testing.T) {
	l := newTestLog(&fakeChat{replies: map[string]string{"hello": "  \n"}})
	id := deliver(t, l, "hello")

	m := l.find(id)
	require.NotNil(t, m)
	assert.False(t, m.Awaiting)
	assert.False(t, m.Revealing)
	assert.True(t, m.IsError)
	assert.Equal(t, upstreamErrorText, m.Shown)
	assert.False(t, l.Busy())
}

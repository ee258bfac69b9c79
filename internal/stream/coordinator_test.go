// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Safe Bill Contributors

package stream_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/safebill/assistant/internal/client"
	"github.com/safebill/assistant/internal/session"
	"github.com/safebill/assistant/internal/stream"
	"github.com/safebill/assistant/internal/transcript"
	sberr "github.com/safebill/assistant/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testTimeout = 2 * time.Second
	testTick    = 5 * time.Millisecond
)

// fakeTransport replays a canned event stream and records the requests it saw.
type fakeTransport struct {
	mu       sync.Mutex
	requests []client.ChatRequest
	open     func(ctx context.Context) (io.ReadCloser, error)
}

func (f *fakeTransport) OpenChatStream(ctx context.Context, req client.ChatRequest) (io.ReadCloser, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	return f.open(ctx)
}

func replay(body string) *fakeTransport {
	return &fakeTransport{open: func(context.Context) (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader(body)), nil
	}}
}

func frame(event, data string) string {
	return fmt.Sprintf("event: %s\ndata: %s\n\n", event, data)
}

func delta(text string) string {
	return frame("text_delta", fmt.Sprintf("{\"text\":%q}", text))
}

func newCoordinator(t *testing.T, tp stream.Transport) *stream.Coordinator {
	t.Helper()
	c, err := stream.New(stream.Config{Transport: tp})
	require.NoError(t, err)
	return c
}

func TestNew_RequiresTransport(t *testing.T) {
	_, err := stream.New(stream.Config{})
	require.Error(t, err)
}

func TestSendTurn_NewSessionHappyPath(t *testing.T) {
	tp := replay(frame("session_id", `{"session_id":"sess-new"}`) +
		delta("A milestone ") + delta("is a payment ") + delta("checkpoint.") +
		frame("done", "{}"))
	var seen []string
	c, err := stream.New(stream.Config{Transport: tp, OnFragment: func(s string) { seen = append(seen, s) }})
	require.NoError(t, err)
	tr := transcript.New()

	out := c.SendTurn(context.Background(), tr, "  What is a milestone?  ", session.None)

	require.True(t, out.Completed(), "err: %v", out.Err)
	assert.Equal(t, "A milestone is a payment checkpoint.", out.Text)
	assert.Equal(t, session.Established("sess-new"), out.NewSessionID)
	assert.Empty(t, out.Violations)
	assert.Equal(t, stream.StateCompleted, c.State())
	assert.True(t, c.CanSubmit())
	assert.Equal(t, []string{"A milestone ", "is a payment ", "checkpoint."}, seen)

	assert.Equal(t, []transcript.Message{
		{Role: transcript.RoleUser, Content: "What is a milestone?"},
		{Role: transcript.RoleAssistant, Content: "A milestone is a payment checkpoint."},
	}, tr.Messages())
	assert.False(t, tr.HasOpen())

	require.Len(t, tp.requests, 1)
	assert.Equal(t, "What is a milestone?", tp.requests[0].Message)
	assert.False(t, tp.requests[0].SessionID.IsSet())
}

func TestSendTurn_ExistingSessionSendsIDAndReportsNoNewSession(t *testing.T) {
	tp := replay(delta("Sure.") + frame("done", "{}"))
	c := newCoordinator(t, tp)
	tr := transcript.New()

	out := c.SendTurn(context.Background(), tr, "And escrow?", session.Established("s-42"))

	require.True(t, out.Completed())
	assert.False(t, out.NewSessionID.IsSet())
	assert.Empty(t, out.Violations)
	require.Len(t, tp.requests, 1)
	assert.Equal(t, "s-42", tp.requests[0].SessionID.String())
}

func TestSendTurn_FirstSessionIDWins(t *testing.T) {
	tests := []struct {
		name           string
		body           string
		sid            session.ID
		wantNew        string
		wantViolations int
	}{
		{
			name:    "repeated identical id",
			body:    frame("session_id", `{"session_id":"a"}`) + frame("session_id", `{"session_id":"a"}`) + delta("x") + frame("done", "{}"),
			wantNew: "a",
		},
		{
			name:           "second differing id is ignored",
			body:           frame("session_id", `{"session_id":"a"}`) + delta("x") + frame("session_id", `{"session_id":"b"}`) + frame("done", "{}"),
			wantNew:        "a",
			wantViolations: 1,
		},
		{
			name:           "id for an established session is not adopted",
			body:           frame("session_id", `{"session_id":"other"}`) + delta("x") + frame("done", "{}"),
			sid:            session.Established("mine"),
			wantViolations: 1,
		},
		{
			name:           "malformed id payload",
			body:           frame("session_id", `{"session_id":""}`) + frame("session_id", `{"session_id":"late"}`) + frame("done", "{}"),
			wantNew:        "late",
			wantViolations: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newCoordinator(t, replay(tt.body))
			out := c.SendTurn(context.Background(), transcript.New(), "hi", tt.sid)

			require.True(t, out.Completed())
			assert.Equal(t, tt.wantNew, out.NewSessionID.String())
			assert.Len(t, out.Violations, tt.wantViolations)
			for _, v := range out.Violations {
				assert.True(t, sberr.IsProtocolViolation(v))
			}
		})
	}
}

func TestSendTurn_MissingSessionIDIsViolationButCompletes(t *testing.T) {
	c := newCoordinator(t, replay(delta("answer")))
	tr := transcript.New()

	out := c.SendTurn(context.Background(), tr, "hi", session.None)

	require.True(t, out.Completed(), "EOF without done is a graceful end")
	assert.Equal(t, "answer", out.Text)
	require.Len(t, out.Violations, 1)
	assert.True(t, sberr.IsProtocolViolation(out.Violations[0]))
	assert.Equal(t, "answer", tr.Messages()[1].Content)
}

func TestSendTurn_RawTextDeltaIsUsedVerbatim(t *testing.T) {
	c := newCoordinator(t, replay(frame("text_delta", "plain words")+frame("done", "{}")))

	out := c.SendTurn(context.Background(), transcript.New(), "hi", session.Established("s"))

	require.True(t, out.Completed())
	assert.Equal(t, "plain words", out.Text)
	require.Len(t, out.Violations, 1)
}

func TestSendTurn_FailureReplacesPartialContent(t *testing.T) {
	streamErr := errors.New("connection reset by peer")
	tests := []struct {
		name string
		tp   *fakeTransport
	}{
		{
			name: "stream aborts mid-answer",
			tp: &fakeTransport{open: func(context.Context) (io.ReadCloser, error) {
				return io.NopCloser(&failingReader{
					data: frame("session_id", `{"session_id":"s-new"}`) + delta("Hel") + delta("lo"),
					err:  streamErr,
				}), nil
			}},
		},
		{
			name: "backend error event",
			tp:   replay(delta("partial") + frame("error", `{"error":"model overloaded"}`)),
		},
		{
			name: "request rejected",
			tp: &fakeTransport{open: func(context.Context) (io.ReadCloser, error) {
				return nil, sberr.New(sberr.CodeClientStatusUpstreamFailure, "backend returned 502", sberr.FieldStatus(502))
			}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newCoordinator(t, tt.tp)
			tr := transcript.New()

			out := c.SendTurn(context.Background(), tr, "hello", session.None)

			require.True(t, out.Failed())
			require.Error(t, out.Err)
			assert.True(t, sberr.IsTransport(out.Err), "code %s", sberr.CodeOf(out.Err))
			assert.Equal(t, stream.StateFailed, c.State())
			assert.True(t, c.CanSubmit())

			msgs := tr.Messages()
			require.Len(t, msgs, 2)
			assert.Equal(t, "hello", msgs[0].Content)
			assert.Equal(t, transcript.RoleAssistant, msgs[1].Role)
			assert.Equal(t, stream.DefaultFailureNotice, msgs[1].Content)
			assert.False(t, tr.HasOpen())
		})
	}
}

func TestSendTurn_FailureKeepsCapturedSessionID(t *testing.T) {
	tp := &fakeTransport{open: func(context.Context) (io.ReadCloser, error) {
		return io.NopCloser(&failingReader{
			data: frame("session_id", `{"session_id":"s-new"}`) + delta("Hel"),
			err:  io.ErrUnexpectedEOF,
		}), nil
	}}
	c := newCoordinator(t, tp)

	out := c.SendTurn(context.Background(), transcript.New(), "hello", session.None)

	require.True(t, out.Failed())
	assert.Equal(t, "s-new", out.NewSessionID.String())
}

func TestSendTurn_CustomFailureNotice(t *testing.T) {
	c, err := stream.New(stream.Config{
		Transport:     replay(frame("error", "boom")),
		FailureNotice: "Désolé, une erreur est survenue.",
	})
	require.NoError(t, err)
	tr := transcript.New()

	out := c.SendTurn(context.Background(), tr, "hello", session.Established("s"))

	require.True(t, out.Failed())
	assert.Contains(t, out.Err.Error(), "boom")
	assert.Equal(t, "Désolé, une erreur est survenue.", tr.Messages()[1].Content)
}

func TestSendTurn_BlankInputIsRejected(t *testing.T) {
	tp := replay(frame("done", "{}"))
	c := newCoordinator(t, tp)
	tr := transcript.New()

	for _, text := range []string{"", "   ", "\n\t"} {
		out := c.SendTurn(context.Background(), tr, text, session.None)
		require.True(t, out.Failed())
		assert.True(t, sberr.HasCode(out.Err, sberr.CodeStreamTurnInvalidInput))
	}

	assert.Equal(t, 0, tr.Len())
	assert.Empty(t, tp.requests)
	assert.Equal(t, stream.StateIdle, c.State())
}

func TestSendTurn_OpenMessageElsewhereFailsWithoutCorruption(t *testing.T) {
	c := newCoordinator(t, replay(delta("never")))
	tr := transcript.New()
	h, err := tr.OpenAssistantMessage()
	require.NoError(t, err)
	require.NoError(t, tr.AppendFragment(h, "in progress"))

	out := c.SendTurn(context.Background(), tr, "hello", session.None)

	require.True(t, out.Failed())
	assert.True(t, sberr.IsInvalidHandle(out.Err))
	assert.Equal(t, 1, tr.Len())
	assert.Equal(t, "in progress", tr.Messages()[0].Content)
	assert.Equal(t, stream.StateIdle, c.State())
	assert.True(t, c.CanSubmit())
}

func TestSendTurn_SecondTurnWhileStreamingIsRejected(t *testing.T) {
	pr, pw := io.Pipe()
	tp := &fakeTransport{open: func(context.Context) (io.ReadCloser, error) { return pr, nil }}
	c := newCoordinator(t, tp)
	tr := transcript.New()

	done := make(chan stream.TurnOutcome, 1)
	go func() { done <- c.SendTurn(context.Background(), tr, "first", session.Established("s")) }()

	_, err := io.WriteString(pw, delta("answer"))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		msgs := tr.Messages()
		return len(msgs) == 2 && msgs[1].Content == "answer"
	}, testTimeout, testTick)
	require.False(t, c.CanSubmit())

	out := c.SendTurn(context.Background(), tr, "second", session.Established("s"))
	require.True(t, out.Failed())
	assert.True(t, sberr.IsConflict(out.Err))
	assert.Equal(t, 2, tr.Len())
	assert.Equal(t, stream.StateStreaming, c.State())
	assert.False(t, c.CanSubmit())

	t.Run("a second coordinator cannot open a turn on the same transcript", func(t *testing.T) {
		other := newCoordinator(t, replay(delta("never")))
		out := other.SendTurn(context.Background(), tr, "second", session.Established("s"))
		require.True(t, out.Failed())
		assert.True(t, sberr.IsInvalidHandle(out.Err))
		assert.Equal(t, 2, tr.Len())
		assert.Equal(t, stream.StateIdle, other.State())
		assert.False(t, c.CanSubmit())
	})

	require.NoError(t, pw.Close())
	first := <-done
	require.True(t, first.Completed())
	assert.Equal(t, "answer", first.Text)
	assert.Equal(t, []transcript.Message{
		{Role: transcript.RoleUser, Content: "first"},
		{Role: transcript.RoleAssistant, Content: "answer"},
	}, tr.Messages())
	assert.True(t, c.CanSubmit())
}

func TestSendTurn_ResetMidStreamAbandonsTurn(t *testing.T) {
	pr, pw := io.Pipe()
	tp := &fakeTransport{open: func(context.Context) (io.ReadCloser, error) { return pr, nil }}
	c := newCoordinator(t, tp)
	tr := transcript.New()

	done := make(chan stream.TurnOutcome, 1)
	go func() {
		done <- c.SendTurn(context.Background(), tr, "question", session.Established("s"))
	}()

	_, err := io.WriteString(pw, delta("first "))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		msgs := tr.Messages()
		return len(msgs) == 2 && msgs[1].Content == "first "
	}, testTimeout, testTick)
	assert.False(t, c.CanSubmit())

	tr.Reset()

	_, err = io.WriteString(pw, delta("late"))
	require.NoError(t, err)

	out := <-done
	_ = pw.Close()

	assert.Equal(t, stream.StatusAbandoned, out.Status)
	assert.Empty(t, tr.Messages())
	assert.Equal(t, stream.StateIdle, c.State())
	assert.True(t, c.CanSubmit())
}

func TestSendTurn_CancelAfterResetAbandons(t *testing.T) {
	pr, pw := io.Pipe()
	defer func() { _ = pw.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	tp := &fakeTransport{open: func(ctx context.Context) (io.ReadCloser, error) {
		go func() {
			<-ctx.Done()
			_ = pw.CloseWithError(ctx.Err())
		}()
		return pr, nil
	}}
	c := newCoordinator(t, tp)
	tr := transcript.New()

	done := make(chan stream.TurnOutcome, 1)
	go func() { done <- c.SendTurn(ctx, tr, "question", session.None) }()

	require.Eventually(t, tr.HasOpen, testTimeout, testTick)
	tr.Reset()
	cancel()

	out := <-done
	assert.Equal(t, stream.StatusAbandoned, out.Status)
	assert.Empty(t, tr.Messages())
}

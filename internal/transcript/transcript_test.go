// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Safe Bill Contributors

package transcript_test

import (
	"strings"
	"sync"
	"testing"

	"github.com/safebill/assistant/internal/transcript"
	sberr "github.com/safebill/assistant/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendFragment_PreservesOrder(t *testing.T) {
	tests := []struct {
		name      string
		fragments []string
	}{
		{name: "single", fragments: []string{"Hello"}},
		{name: "several", fragments: []string{"A ", "milestone is ", "a payment checkpoint."}},
		{name: "with empty fragments", fragments: []string{"", "ab", "", "", "c", ""}},
		{name: "only empty", fragments: []string{"", ""}},
		{name: "multibyte", fragments: []string{"é", "tape ", "validée"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := transcript.New()
			h, err := tr.OpenAssistantMessage()
			require.NoError(t, err)

			for _, f := range tt.fragments {
				require.NoError(t, tr.AppendFragment(h, f))
			}
			require.NoError(t, tr.CloseAssistantMessage(h))

			msgs := tr.Messages()
			require.Len(t, msgs, 1)
			assert.Equal(t, transcript.RoleAssistant, msgs[0].Role)
			assert.Equal(t, strings.Join(tt.fragments, ""), msgs[0].Content)
		})
	}
}

func TestMessages_IncludesOpenContent(t *testing.T) {
	tr := transcript.New()
	tr.AppendUserMessage("Hi")
	h, err := tr.OpenAssistantMessage()
	require.NoError(t, err)
	require.NoError(t, tr.AppendFragment(h, "Hel"))

	msgs := tr.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, transcript.Message{Role: transcript.RoleUser, Content: "Hi"}, msgs[0])
	assert.Equal(t, "Hel", msgs[1].Content)
	assert.True(t, tr.HasOpen())
}

func TestOpenAssistantMessage_SecondOpenFails(t *testing.T) {
	tr := transcript.New()
	h, err := tr.OpenAssistantMessage()
	require.NoError(t, err)
	require.NoError(t, tr.AppendFragment(h, "partial"))

	_, err = tr.OpenAssistantMessage()
	require.Error(t, err)
	assert.True(t, sberr.IsInvalidHandle(err), "got %s", sberr.CodeOf(err))

	// The already-open message is untouched and still writable.
	require.NoError(t, tr.AppendFragment(h, " answer"))
	require.NoError(t, tr.CloseAssistantMessage(h))
	msgs := tr.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "partial answer", msgs[0].Content)
}

func TestOpenTurn(t *testing.T) {
	tr := transcript.New()
	h, err := tr.OpenTurn("first")
	require.NoError(t, err)
	require.NoError(t, tr.AppendFragment(h, "answer"))

	_, err = tr.OpenTurn("second")
	require.Error(t, err)
	assert.True(t, sberr.IsInvalidHandle(err), "got %s", sberr.CodeOf(err))
	assert.Equal(t, 2, tr.Len())

	require.NoError(t, tr.CloseAssistantMessage(h))
	assert.Equal(t, []transcript.Message{
		{Role: transcript.RoleUser, Content: "first"},
		{Role: transcript.RoleAssistant, Content: "answer"},
	}, tr.Messages())

	_, err = tr.OpenTurn("second")
	require.NoError(t, err)
	assert.Equal(t, 4, tr.Len())
}

func TestAppendFragment_AfterCloseIsInvalidHandle(t *testing.T) {
	tr := transcript.New()
	h, err := tr.OpenAssistantMessage()
	require.NoError(t, err)
	require.NoError(t, tr.AppendFragment(h, "done"))
	require.NoError(t, tr.CloseAssistantMessage(h))

	err = tr.AppendFragment(h, "more")
	require.Error(t, err)
	assert.True(t, sberr.HasCode(err, sberr.CodeTranscriptAppendInvalidHandle))

	err = tr.CloseAssistantMessage(h)
	assert.True(t, sberr.HasCode(err, sberr.CodeTranscriptCloseInvalidHandle))

	assert.Equal(t, "done", tr.Messages()[0].Content)
}

func TestAppendFragment_ZeroHandleIsInvalid(t *testing.T) {
	tr := transcript.New()
	err := tr.AppendFragment(transcript.Handle{}, "x")
	assert.True(t, sberr.IsInvalidHandle(err))
	assert.Equal(t, 0, tr.Len())
}

func TestReset_DropsFragmentsFromStaleHandle(t *testing.T) {
	tr := transcript.New()
	tr.AppendUserMessage("question")
	h, err := tr.OpenAssistantMessage()
	require.NoError(t, err)
	require.NoError(t, tr.AppendFragment(h, "a"))
	require.NoError(t, tr.AppendFragment(h, "b"))

	tr.Reset()

	err = tr.AppendFragment(h, "c")
	require.Error(t, err)
	assert.True(t, sberr.IsStale(err))
	assert.False(t, sberr.IsInvalidHandle(err))
	assert.Empty(t, tr.Messages())
	assert.False(t, tr.HasOpen())

	// A new conversation on the same transcript is not disturbed by the old handle.
	tr.AppendUserMessage("new question")
	h2, err := tr.OpenAssistantMessage()
	require.NoError(t, err)
	assert.True(t, sberr.IsStale(tr.AppendFragment(h, "late")))
	assert.True(t, sberr.IsStale(tr.CloseAssistantMessage(h)))
	require.NoError(t, tr.AppendFragment(h2, "fresh"))

	msgs := tr.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "fresh", msgs[1].Content)
}

func TestFailAssistantMessage_ReplacesPartialContent(t *testing.T) {
	tr := transcript.New()
	h, err := tr.OpenAssistantMessage()
	require.NoError(t, err)
	require.NoError(t, tr.AppendFragment(h, "Hel"))
	require.NoError(t, tr.AppendFragment(h, "lo"))

	require.NoError(t, tr.FailAssistantMessage(h, "Sorry, something went wrong."))

	msgs := tr.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "Sorry, something went wrong.", msgs[0].Content)
	assert.False(t, tr.HasOpen())
	assert.True(t, sberr.IsInvalidHandle(tr.AppendFragment(h, "x")))
}

func TestReplace_LoadsHistoryAndAcceptsNewTurn(t *testing.T) {
	tr := transcript.New()
	stale, err := tr.OpenAssistantMessage()
	require.NoError(t, err)

	history := []transcript.Message{
		{Role: transcript.RoleUser, Content: "Hi"},
		{Role: transcript.RoleAssistant, Content: "Hello"},
	}
	tr.Replace(history)

	assert.Equal(t, history, tr.Messages())
	assert.False(t, tr.HasOpen())

	h, err := tr.OpenAssistantMessage()
	require.NoError(t, err)
	assert.True(t, sberr.IsStale(tr.AppendFragment(stale, "x")))
	require.NoError(t, tr.AppendFragment(h, "again"))
	require.NoError(t, tr.CloseAssistantMessage(h))
	assert.Len(t, tr.Messages(), 3)
}

func TestReplace_DoesNotAliasCallerSlice(t *testing.T) {
	tr := transcript.New()
	history := []transcript.Message{{Role: transcript.RoleUser, Content: "Hi"}}
	tr.Replace(history)
	history[0].Content = "mutated"
	assert.Equal(t, "Hi", tr.Messages()[0].Content)
}

func TestStrict_PanicsOnContractViolation(t *testing.T) {
	tr := transcript.New(transcript.WithStrict())
	h, err := tr.OpenAssistantMessage()
	require.NoError(t, err)

	assert.Panics(t, func() { _, _ = tr.OpenAssistantMessage() })

	require.NoError(t, tr.CloseAssistantMessage(h))
	assert.Panics(t, func() { _ = tr.AppendFragment(h, "x") })
}

func TestStrict_StaleHandleDoesNotPanic(t *testing.T) {
	tr := transcript.New(transcript.WithStrict())
	h, err := tr.OpenAssistantMessage()
	require.NoError(t, err)
	tr.Reset()

	assert.NotPanics(t, func() {
		assert.True(t, sberr.IsStale(tr.AppendFragment(h, "x")))
	})
}

func TestRevision_AdvancesOnChange(t *testing.T) {
	tr := transcript.New()
	r0 := tr.Revision()
	tr.AppendUserMessage("q")
	r1 := tr.Revision()
	assert.Greater(t, r1, r0)

	h, err := tr.OpenAssistantMessage()
	require.NoError(t, err)
	r2 := tr.Revision()
	require.NoError(t, tr.AppendFragment(h, ""))
	assert.Equal(t, r2, tr.Revision(), "empty fragments are not a change")
	require.NoError(t, tr.AppendFragment(h, "a"))
	assert.Greater(t, tr.Revision(), r2)
}

func TestConcurrentResetAndAppend(t *testing.T) {
	tr := transcript.New()
	h, err := tr.OpenAssistantMessage()
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			if err := tr.AppendFragment(h, "x"); err != nil {
				assert.True(t, sberr.IsStale(err))
				return
			}
		}
	}()
	go func() {
		defer wg.Done()
		tr.Reset()
	}()
	wg.Wait()

	assert.Empty(t, tr.Messages())
}

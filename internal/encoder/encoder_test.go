package encoder

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/specialistvlad/lorapack/internal/ctxlog"
	"github.com/specialistvlad/lorapack/internal/fault"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTokenizer maps every rune to its code point.
type fakeTokenizer struct {
	pad      int
	hasPad   bool
	eos      int
	fail     string
	setCalls int
}

func (f *fakeTokenizer) Encode(text string) ([]int, error) {
	if f.fail != "" && strings.Contains(text, f.fail) {
		return nil, errors.New("unencodable text")
	}
	var ids []int
	for _, r := range text {
		ids = append(ids, int(r))
	}
	return ids, nil
}

func (f *fakeTokenizer) EOSID() int         { return f.eos }
func (f *fakeTokenizer) PadID() (int, bool) { return f.pad, f.hasPad }
func (f *fakeTokenizer) SetPadToEOS() {
	f.setCalls++
	f.pad, f.hasPad = f.eos, true
}
func (f *fakeTokenizer) Save(string) ([]string, error) { return nil, nil }

func testContext() context.Context {
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	return ctxlog.WithLogger(context.Background(), logger)
}

func TestNew_FallsBackToEOSForPadding(t *testing.T) {
	t.Parallel()
	tok := &fakeTokenizer{eos: 2}

	enc, err := New(tok, 4)
	require.NoError(t, err)

	assert.Equal(t, 2, enc.PadID())
	assert.True(t, enc.PadsWithEOS())
	assert.Equal(t, 4, enc.MaxLen())
	assert.Equal(t, 1, tok.setCalls)
	pad, ok := tok.PadID()
	assert.True(t, ok)
	assert.Equal(t, 2, pad)
}

func TestNew_KeepsExistingPad(t *testing.T) {
	t.Parallel()
	tok := &fakeTokenizer{eos: 2, pad: 0, hasPad: true}

	enc, err := New(tok, 4)
	require.NoError(t, err)
	assert.Equal(t, 0, enc.PadID())
	assert.False(t, enc.PadsWithEOS())
	assert.Zero(t, tok.setCalls)
}

func TestNew_RejectsNonPositiveLength(t *testing.T) {
	t.Parallel()
	_, err := New(&fakeTokenizer{}, 0)
	require.Error(t, err)
	assert.Equal(t, fault.TokenizationFailure, fault.KindOf(err))
}

func TestEncodeBatch_PadsAndTruncates(t *testing.T) {
	t.Parallel()
	enc, err := New(&fakeTokenizer{eos: 9}, 4)
	require.NoError(t, err)

	got, err := enc.EncodeBatch(testContext(), []string{"ab", "abcdef", "", "wxyz"}, 2)
	require.NoError(t, err)

	want := []Encoded{
		{Text: "ab", TokenIDs: []int{'a', 'b', 9, 9}, AttentionMask: []int{1, 1, 0, 0}},
		{Text: "abcdef", TokenIDs: []int{'a', 'b', 'c', 'd'}, AttentionMask: []int{1, 1, 1, 1}},
		{Text: "", TokenIDs: []int{9, 9, 9, 9}, AttentionMask: []int{0, 0, 0, 0}},
		{Text: "wxyz", TokenIDs: []int{'w', 'x', 'y', 'z'}, AttentionMask: []int{1, 1, 1, 1}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("encoded mismatch (-want +got):\n%s", diff)
	}
}

func TestEncodeBatch_LengthAndMaskInvariants(t *testing.T) {
	t.Parallel()
	const maxLen = 8
	enc, err := New(&fakeTokenizer{eos: 0}, maxLen)
	require.NoError(t, err)

	var texts []string
	for i := 0; i < 25; i++ {
		texts = append(texts, strings.Repeat("x", i))
	}

	got, err := enc.EncodeBatch(testContext(), texts, 7)
	require.NoError(t, err)
	require.Len(t, got, len(texts))

	for i, e := range got {
		require.Len(t, e.TokenIDs, maxLen)
		require.Len(t, e.AttentionMask, maxLen)
		ones := 0
		for j, m := range e.AttentionMask {
			if m == 1 {
				ones++
				continue
			}
			assert.Equal(t, enc.PadID(), e.TokenIDs[j])
		}
		assert.Equal(t, min(i, maxLen), ones, "example %d", i)
	}
}

func TestEncodeBatch_TokenizerErrorIsTokenizationFailure(t *testing.T) {
	t.Parallel()
	enc, err := New(&fakeTokenizer{fail: "bad"}, 4)
	require.NoError(t, err)

	_, err = enc.EncodeBatch(testContext(), []string{"ok", "bad text"}, 0)
	require.Error(t, err)
	assert.Equal(t, fault.TokenizationFailure, fault.KindOf(err))
	assert.Contains(t, err.Error(), "example 1")
}

func TestEncodeBatch_HonorsCancellation(t *testing.T) {
	t.Parallel()
	enc, err := New(&fakeTokenizer{}, 4)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(testContext())
	cancel()

	_, err = enc.EncodeBatch(ctx, []string{"a"}, 1)
	assert.ErrorIs(t, err, context.Canceled)
}

package chunker

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/documind/internal/core"
)

func TestNewRejectsOverlapNotBelowSize(t *testing.T) {
	for _, tc := range []struct {
		name          string
		size, overlap int
	}{
		{"equal", 100, 100},
		{"greater", 100, 150},
		{"zero size", 0, 0},
		{"negative overlap", 100, -1},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(tc.size, tc.overlap)
			require.Error(t, err)
			var cerr *core.ConfigurationError
			assert.True(t, errors.As(err, &cerr))
		})
	}
}

func TestChunk5000CharsYieldsSixPassages(t *testing.T) {
	c, err := New(1000, 200)
	require.NoError(t, err)
	assert.Equal(t, 1000, c.Size())
	assert.Equal(t, 200, c.Overlap())

	text := strings.Repeat("abcdefghij", 500)
	require.Len(t, text, 5000)

	got := c.Chunk(text)
	require.Len(t, got, 6)

	for i, p := range got {
		assert.Equal(t, i, p.Index)
		assert.Equal(t, i*800, p.Start)
		assert.Equal(t, text[p.Start:p.Start+len(p.Text)], p.Text)
	}
	for i := 0; i < 5; i++ {
		assert.Len(t, got[i].Text, 1000)
	}
	// tail covers the end of the text
	last := got[5]
	assert.Equal(t, 4000, last.Start)
	assert.Equal(t, 5000, last.Start+len(last.Text))
}

func TestChunkShortTextIsOnePassage(t *testing.T) {
	c, err := New(1000, 200)
	require.NoError(t, err)

	got := c.Chunk("short text")
	require.Len(t, got, 1)
	assert.Equal(t, 0, got[0].Index)
	assert.Equal(t, "short text", got[0].Text)
}

func TestChunkExactSizeIsOnePassage(t *testing.T) {
	c, err := New(10, 3)
	require.NoError(t, err)

	got := c.Chunk(strings.Repeat("x", 10))
	assert.Len(t, got, 1)
}

func TestChunkShortTailKept(t *testing.T) {
	c, err := New(10, 2)
	require.NoError(t, err)

	// starts 0, 8, 16; last window [16,21)
	got := c.Chunk(strings.Repeat("y", 21))
	require.Len(t, got, 3)
	assert.Equal(t, 16, got[2].Start)
	assert.Len(t, got[2].Text, 5)
}

func TestChunkEmptyText(t *testing.T) {
	c, err := New(10, 2)
	require.NoError(t, err)
	assert.Empty(t, c.Chunk(""))
}

func TestChunkCountsRunesNotBytes(t *testing.T) {
	c, err := New(4, 1)
	require.NoError(t, err)

	got := c.Chunk("héllo wörld")
	require.NotEmpty(t, got)
	assert.Equal(t, "héll", got[0].Text)
	assert.Equal(t, 3, got[1].Start)
}

func TestEachStopsOnError(t *testing.T) {
	c, err := New(5, 1)
	require.NoError(t, err)

	stop := errors.New("stop")
	seen := 0
	err = c.Each(strings.Repeat("z", 50), func(p Passage) error {
		seen++
		if p.Index == 1 {
			return stop
		}
		return nil
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 2, seen)
}

func TestApproxTokens(t *testing.T) {
	assert.Equal(t, 0, ApproxTokens(""))
	assert.Equal(t, 1, ApproxTokens("abc"))
	assert.Equal(t, 2, ApproxTokens("abcde"))
}

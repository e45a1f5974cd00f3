package engine

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProgress_Percent(t *testing.T) {
	pct, ok := Progress{Transferred: 512, Total: 1024}.Percent()
	assert.True(t, ok)
	assert.InDelta(t, 50.0, pct, 0.0001)

	pct, ok = Progress{Transferred: 1024, Total: 1024}.Percent()
	assert.True(t, ok)
	assert.InDelta(t, 100.0, pct, 0.0001)

	// Zero and unknown sizes have no percentage.
	_, ok = Progress{Transferred: 0, Total: 0}.Percent()
	assert.False(t, ok)
	_, ok = Progress{Transferred: 10, Total: -1}.Percent()
	assert.False(t, ok)
}

func TestProgressWriter_ReportsEveryChunk(t *testing.T) {
	var seen []int64
	var buf bytes.Buffer
	pw := &progressWriter{
		ctx:  context.Background(),
		w:    &buf,
		snap: Progress{JobID: "j", File: "f", Total: 6},
		fn:   func(p Progress) { seen = append(seen, p.Transferred) },
	}

	pw.Write([]byte("abc"))
	pw.Write([]byte("de"))
	pw.Write([]byte("f"))

	assert.Equal(t, []int64{3, 5, 6}, seen)
	assert.Equal(t, "abcdef", buf.String())
}

func TestProgressWriter_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	pw := &progressWriter{ctx: ctx, w: &bytes.Buffer{}, fn: func(Progress) {}}
	_, err := pw.Write([]byte("x"))
	assert.ErrorIs(t, err, context.Canceled)
}

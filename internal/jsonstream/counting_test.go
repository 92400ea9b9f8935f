package jsonstream

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountingReaderReportsWholePercentSteps(t *testing.T) {
	data := strings.Repeat("x", 1000)
	var reports []Progress
	c := NewCountingReader(context.Background(), strings.NewReader(data), int64(len(data)), func(p Progress) {
		reports = append(reports, p)
	})

	buf := make([]byte, 3)
	for {
		_, err := c.Read(buf)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
	}

	require.NotEmpty(t, reports)
	for i := 1; i < len(reports); i++ {
		assert.Greater(t, int(reports[i].Percentage), int(reports[i-1].Percentage),
			"reports %d and %d within the same percent", i-1, i)
	}
	last := reports[len(reports)-1]
	assert.Equal(t, int64(1000), last.BytesRead)
	assert.InDelta(t, 100.0, last.Percentage, 1e-9)
	// 1000 bytes in steps of 3: at most 101 distinct percent values.
	assert.LessOrEqual(t, len(reports), 101)
}

func TestCountingReaderETAAfterWarmup(t *testing.T) {
	now := time.Unix(0, 0)
	c := NewCountingReader(context.Background(), strings.NewReader(strings.Repeat("x", 100)), 100, nil)
	c.now = func() time.Time { return now }
	c.start = now

	_, err := c.Read(make([]byte, 25))
	require.NoError(t, err)

	now = now.Add(time.Second)
	assert.Nil(t, c.Snapshot().ETASeconds, "no ETA before warmup")

	now = now.Add(time.Second)
	p := c.Snapshot()
	require.NotNil(t, p.ETASeconds)
	// 25 bytes in 2s = 12.5 B/s; 75 remaining -> 6s.
	assert.InDelta(t, 6.0, *p.ETASeconds, 1e-9)
}

func TestCountingReaderStopsWhenCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	c := NewCountingReader(ctx, strings.NewReader("abcdef"), 6, nil)

	_, err := c.Read(make([]byte, 2))
	require.NoError(t, err)

	cancel()
	_, err = c.Read(make([]byte, 2))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int64(2), c.BytesRead())
}

func TestCountingReaderUnknownSize(t *testing.T) {
	var last Progress
	c := NewCountingReader(context.Background(), strings.NewReader("abc"), 0, func(p Progress) { last = p })
	_, err := io.ReadAll(c)
	require.NoError(t, err)
	assert.Equal(t, int64(3), last.BytesRead)
	assert.Equal(t, int64(3), last.TotalBytes)
}

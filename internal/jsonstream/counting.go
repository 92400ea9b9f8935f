package jsonstream

import (
	"context"
	"io"
	"time"
)

// Progress is a byte-level snapshot of a read in flight.
type Progress struct {
	BytesRead  int64
	TotalBytes int64 // 0 when unknown
	Percentage float64
	ETASeconds *float64
}

const (
	etaWarmup = 2 * time.Second
	// unknownSizeStep is the reporting cadence when no size hint exists.
	unknownSizeStep = 8 << 20
)

// CountingReader counts bytes flowing to the decoder and reports progress at
// whole-percent steps. Each Read first checks ctx, so cancellation surfaces
// at the next chunk boundary as ctx.Err().
type CountingReader struct {
	ctx    context.Context
	r      io.Reader
	total  int64
	read   int64
	report func(Progress)
	now    func() time.Time
	start  time.Time

	lastPercent int
	lastBytes   int64
	finished    bool
}

// NewCountingReader wraps r. total may be zero or negative when the size is
// unknown. report may be nil.
func NewCountingReader(ctx context.Context, r io.Reader, total int64, report func(Progress)) *CountingReader {
	if total < 0 {
		total = 0
	}
	c := &CountingReader{
		ctx:         ctx,
		r:           r,
		total:       total,
		report:      report,
		now:         time.Now,
		lastPercent: -1,
	}
	c.start = c.now()
	return c
}

// Read implements io.Reader.
func (c *CountingReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	n, err := c.r.Read(p)
	c.read += int64(n)
	if err == io.EOF {
		c.finish()
	} else {
		c.maybeReport()
	}
	return n, err
}

// BytesRead returns the number of bytes consumed so far.
func (c *CountingReader) BytesRead() int64 {
	return c.read
}

// Snapshot computes the current progress.
func (c *CountingReader) Snapshot() Progress {
	p := Progress{BytesRead: c.read, TotalBytes: c.total}
	if c.total > 0 {
		p.Percentage = min(100, float64(c.read)*100/float64(c.total))
	}
	elapsed := c.now().Sub(c.start)
	if c.total > 0 && elapsed >= etaWarmup && c.read > 0 {
		rate := float64(c.read) / elapsed.Seconds()
		eta := max(0, float64(c.total-c.read)/rate)
		p.ETASeconds = &eta
	}
	return p
}

func (c *CountingReader) maybeReport() {
	if c.report == nil {
		return
	}
	if c.total > 0 {
		pct := int(min(100, c.read*100/c.total))
		if pct <= c.lastPercent {
			return
		}
		c.lastPercent = pct
	} else {
		if c.read-c.lastBytes < unknownSizeStep {
			return
		}
		c.lastBytes = c.read
	}
	c.report(c.Snapshot())
}

func (c *CountingReader) finish() {
	if c.finished || c.report == nil {
		return
	}
	c.finished = true
	if c.total > 0 && c.lastPercent >= 100 {
		return
	}
	if c.total <= 0 {
		c.total = c.read
	}
	c.lastPercent = 100
	p := c.Snapshot()
	zero := 0.0
	p.ETASeconds = &zero
	c.report(p)
}

package downloader

import (
	"context"
	"io"

	"golang.org/x/time/rate"
)

const minLimiterBurst = 32 * 1024

func newLimiter(bytesPerSecond int64) *rate.Limiter {
	if bytesPerSecond <= 0 {
		return nil
	}
	burst := int(bytesPerSecond)
	if burst < minLimiterBurst {
		burst = minLimiterBurst
	}
	return rate.NewLimiter(rate.Limit(bytesPerSecond), burst)
}

// limitedReader 在每次 Read 后按字节数消耗令牌，单次读取不超过 burst。
type limitedReader struct {
	ctx     context.Context
	r       io.Reader
	limiter *rate.Limiter
}

func (l *limitedReader) Read(p []byte) (int, error) {
	if burst := l.limiter.Burst(); len(p) > burst {
		p = p[:burst]
	}
	n, err := l.r.Read(p)
	if n > 0 {
		if waitErr := l.limiter.WaitN(l.ctx, n); waitErr != nil {
			return n, waitErr
		}
	}
	return n, err
}

func (d *Downloader) limit(ctx context.Context, r io.Reader) io.Reader {
	if d.limiter == nil {
		return r
	}
	return &limitedReader{ctx: ctx, r: r, limiter: d.limiter}
}

// progressWriter 统计写入字节并回调，total 未知时为 -1。
type progressWriter struct {
	w       io.Writer
	written int64
	total   int64
	fn      ProgressFunc
}

func (p *progressWriter) Write(b []byte) (int, error) {
	n, err := p.w.Write(b)
	p.written += int64(n)
	if p.fn != nil && n > 0 {
		p.fn(p.written, p.total)
	}
	return n, err
}

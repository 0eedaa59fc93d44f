package controlplane

import (
	"bytes"
	"context"
	"io"
	"sync"
	"time"
)

// progressReader wraps an upload body and resets its deadline timer on
// every successful Read, so the upload timeout is reset on every chunk of
// progress instead of bounding the whole transfer up front.
type progressReader struct {
	r       io.Reader
	timeout time.Duration
	cancel  context.CancelFunc

	mu    sync.Mutex
	timer *time.Timer
}

func (p *progressReader) arm() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.timer = time.AfterFunc(p.timeout, p.cancel)
}

func (p *progressReader) Read(buf []byte) (int, error) {
	n, err := p.r.Read(buf)
	if n > 0 {
		p.mu.Lock()
		if p.timer != nil {
			p.timer.Reset(p.timeout)
		}
		p.mu.Unlock()
	}
	return n, err
}

func (p *progressReader) stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.timer != nil {
		p.timer.Stop()
	}
}

func newBytesReader(b []byte) io.Reader {
	return bytes.NewReader(b)
}

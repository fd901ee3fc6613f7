package psub

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"time"

	logx "icomet/pkg/logx"
)

const (
	DefaultPath = "/psub"
	// ChunkSize bounds a single read from the feed.
	ChunkSize = 8 << 10
	// maxLine bounds an unterminated line kept across reads.
	maxLine = 64 << 10
)

// State is the reader lifecycle state.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateStreaming
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Opener opens a streaming GET. *httpx.Client implements it.
type Opener interface {
	Stream(ctx context.Context, path string, query url.Values) (io.ReadCloser, error)
}

type Reader struct {
	src  Opener
	path string
	log  logx.Logger
}

func NewReader(src Opener, log logx.Logger) *Reader {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Reader{src: src, path: DefaultPath, log: log}
}

// WithPath returns a copy of r reading from path instead of /psub.
func (r *Reader) WithPath(path string) *Reader {
	cp := *r
	cp.path = path
	return &cp
}

// Run blocks until the feed ends, fails or ctx is cancelled.
func (r *Reader) Run(ctx context.Context, h Handler) error {
	start := time.Now()
	r.log.Debug("psub connecting", logx.String("path", r.path))

	body, err := r.src.Stream(ctx, r.path, nil)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		r.log.Debug("psub state", logx.String("state", StateFailed.String()), logx.Err(err))
		return fmt.Errorf("%w: %w", ErrConnection, err)
	}
	defer body.Close()

	// Closing the body is what unblocks a pending Read on cancellation for
	// sources that do not watch ctx themselves.
	stop := context.AfterFunc(ctx, func() { _ = body.Close() })
	defer stop()

	r.log.Debug("psub state", logx.String("state", StateStreaming.String()))
	n, err := r.Consume(ctx, body, h)
	if err != nil {
		r.log.Debug("psub state", logx.String("state", StateFailed.String()), logx.Int("events", n), logx.Err(err))
		return err
	}
	r.log.Debug("psub state", logx.String("state", StateClosed.String()), logx.Int("events", n), logx.Duration("took", time.Since(start)))
	return nil
}

// Consume runs the streaming phase over an already open body and returns the
// number of events delivered. A trailing line without newline at EOF is dropped.
func (r *Reader) Consume(ctx context.Context, body io.Reader, h Handler) (int, error) {
	var (
		buf        []byte
		chunk      = make([]byte, ChunkSize)
		events     int
		discarding bool
	)
	for {
		if ctx.Err() != nil {
			return events, nil
		}
		n, rerr := body.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			off := 0
			for {
				i := bytes.IndexByte(buf[off:], '\n')
				if i < 0 {
					break
				}
				line := buf[off : off+i]
				off += i + 1
				if discarding {
					// tail of an oversized line
					discarding = false
					continue
				}
				if ev, ok := ParseLine(string(line)); ok {
					h(ev)
					events++
				}
			}
			// Keep only the partial line, moved to the front.
			buf = append(buf[:0], buf[off:]...)
			if len(buf) > maxLine {
				r.log.Warn("psub line too long; discarding", logx.Int("bytes", len(buf)))
				buf = buf[:0]
				discarding = true
			}
		}
		if rerr == nil {
			continue
		}
		if errors.Is(rerr, io.EOF) {
			if len(bytes.TrimSpace(buf)) > 0 {
				r.log.Debug("psub dropped unterminated line at eof", logx.Int("bytes", len(buf)))
			}
			return events, nil
		}
		if ctx.Err() != nil {
			return events, nil
		}
		return events, fmt.Errorf("%w: %w", ErrStream, rerr)
	}
}

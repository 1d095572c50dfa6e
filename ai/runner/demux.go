package runner

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"time"
)

const (
	// readChunkSize is the size of a single read from a child pipe.
	readChunkSize = 4096
	// pumpBacklog bounds how many unread chunks a LineReader buffers.
	pumpBacklog = 16
)

// ErrIdle is returned by LineReader.Next when the stream is still open but no
// data arrived within the read timeout.
var ErrIdle = errors.New("no output within read timeout")

// LineReader reassembles newline-delimited records from a byte stream.
//
// Reads happen on a pump goroutine so that Next can give up after the read
// timeout without losing data: a partial line stays buffered until its
// newline arrives. Next is meant for a single consumer.
type LineReader struct {
	chunks      chan []byte
	done        chan struct{}
	closeOnce   sync.Once
	readErr     error
	buf         []byte
	eof         bool
	readTimeout time.Duration
	exited      <-chan struct{}
	dropped     string
}

// NewLineReader starts reading r. exited is closed once the producing process
// has exited; a trailing line without newline is only emitted after that. A
// nil exited channel means the producer is always considered finished at EOF.
func NewLineReader(r io.Reader, readTimeout time.Duration, exited <-chan struct{}) *LineReader {
	lr := &LineReader{
		chunks:      make(chan []byte, pumpBacklog),
		done:        make(chan struct{}),
		readTimeout: readTimeout,
		exited:      exited,
	}
	go lr.pump(r)
	return lr
}

func (lr *LineReader) pump(r io.Reader) {
	defer close(lr.chunks)
	buf := make([]byte, readChunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case lr.chunks <- chunk:
			case <-lr.done:
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				lr.readErr = err
			}
			return
		}
	}
}

// Next returns the next non-empty line without its line terminator.
//
// It returns ErrIdle when nothing complete arrived within the read timeout,
// io.EOF once the stream is closed and drained, the read error if the stream
// failed, or the context error.
func (lr *LineReader) Next(ctx context.Context) (string, error) {
	for {
		if line, ok := lr.takeLine(); ok {
			return line, nil
		}
		if lr.eof {
			return lr.finish(ctx)
		}

		timer := time.NewTimer(lr.readTimeout)
		select {
		case <-ctx.Done():
			timer.Stop()
			lr.abandon()
			return "", ctx.Err()
		case chunk, ok := <-lr.chunks:
			timer.Stop()
			if !ok {
				lr.eof = true
				continue
			}
			lr.buf = append(lr.buf, chunk...)
		case <-timer.C:
			return "", ErrIdle
		}
	}
}

// Dropped returns buffered output that never became a complete line: a
// trailing partial line left when the stream closed before the producer
// exited, or whatever was pending when a read was cancelled.
func (lr *LineReader) Dropped() string {
	return lr.dropped
}

// Close stops the pump. It does not close the underlying reader.
func (lr *LineReader) Close() {
	lr.closeOnce.Do(func() { close(lr.done) })
}

func (lr *LineReader) takeLine() (string, bool) {
	for {
		idx := bytes.IndexByte(lr.buf, '\n')
		if idx < 0 {
			return "", false
		}
		line := bytes.TrimRight(lr.buf[:idx], "\r")
		lr.buf = lr.buf[idx+1:]
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		return string(line), true
	}
}

// abandon moves buffered and already received bytes into dropped.
func (lr *LineReader) abandon() {
drain:
	for {
		select {
		case chunk, ok := <-lr.chunks:
			if !ok {
				break drain
			}
			lr.buf = append(lr.buf, chunk...)
		default:
			break drain
		}
	}
	if rest := bytes.TrimSpace(lr.buf); len(rest) > 0 {
		lr.dropped = string(rest)
	}
	lr.buf = nil
}

// finish handles the end of the stream, including a trailing partial line.
func (lr *LineReader) finish(ctx context.Context) (string, error) {
	if len(bytes.TrimSpace(lr.buf)) > 0 {
		partial := string(bytes.TrimRight(lr.buf, "\r"))
		lr.buf = nil
		if lr.producerExited(ctx) {
			return partial, nil
		}
		lr.dropped = partial
	}
	lr.buf = nil
	if lr.readErr != nil {
		return "", lr.readErr
	}
	return "", io.EOF
}

func (lr *LineReader) producerExited(ctx context.Context) bool {
	if lr.exited == nil {
		return true
	}
	timer := time.NewTimer(lr.readTimeout)
	defer timer.Stop()
	select {
	case <-lr.exited:
		return true
	case <-ctx.Done():
		return false
	case <-timer.C:
		return false
	}
}

package logger

import (
	"bufio"
	"errors"
	"io"
	"sync"
)

// asyncWriter moves log output off the caller's goroutine. Lines are copied into a
// queue and written in order to every sink by a single loop.
type asyncWriter struct {
	queue chan writeOp
	done  chan struct{}
	close sync.Once

	mu  sync.Mutex
	err error
}

// writeOp carries a line, or a flush request when ack is set.
type writeOp struct {
	line []byte
	ack  chan error
}

func newAsyncWriter(writers []io.Writer, bufSize int) *asyncWriter {
	if bufSize <= 0 {
		bufSize = 64 * 1024
	}
	var sinks []*bufio.Writer
	for _, w := range writers {
		if w != nil {
			sinks = append(sinks, bufio.NewWriterSize(w, bufSize))
		}
	}
	w := &asyncWriter{
		queue: make(chan writeOp, 256),
		done:  make(chan struct{}),
	}
	go w.loop(sinks)
	return w
}

func (w *asyncWriter) loop(sinks []*bufio.Writer) {
	defer close(w.done)
	flush := func() error {
		var errs []error
		for _, s := range sinks {
			errs = append(errs, s.Flush())
		}
		return errors.Join(errs...)
	}
	for op := range w.queue {
		if op.ack != nil {
			op.ack <- flush()
			continue
		}
		for _, s := range sinks {
			if _, err := s.Write(op.line); err != nil {
				w.fail(err)
			}
		}
		// flush once the burst is drained so idle periods leave nothing buffered
		if len(w.queue) == 0 {
			w.fail(flush())
		}
	}
	w.fail(flush())
}

// Write queues a copy of p. It blocks only while the queue is full.
func (w *asyncWriter) Write(p []byte) error {
	if err := w.failure(); err != nil {
		return err
	}
	if len(p) == 0 {
		return nil
	}
	w.queue <- writeOp{line: append([]byte(nil), p...)}
	return nil
}

// Flush returns after every line queued before it reached the sinks.
func (w *asyncWriter) Flush() error {
	select {
	case <-w.done:
		return w.failure()
	default:
	}
	ack := make(chan error, 1)
	w.queue <- writeOp{ack: ack}
	return <-ack
}

// Close drains the queue and returns the first write error seen.
func (w *asyncWriter) Close() error {
	w.close.Do(func() { close(w.queue) })
	<-w.done
	return w.failure()
}

func (w *asyncWriter) fail(err error) {
	if err == nil {
		return
	}
	w.mu.Lock()
	if w.err == nil {
		w.err = err
	}
	w.mu.Unlock()
}

func (w *asyncWriter) failure() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

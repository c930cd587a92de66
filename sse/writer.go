package sse

import (
	"errors"
	"net/http"
	"sync"
)

// ErrStreamingUnsupported is returned when the ResponseWriter cannot flush.
var ErrStreamingUnsupported = errors.New("sse: streaming not supported")

// ErrWriterClosed is returned by writes after Close.
var ErrWriterClosed = errors.New("sse: writer closed")

// Writer is the transport side of a streaming session.
type Writer interface {
	WriteFrame(f Frame) error
	WriteComment(text string) error
	Close() error
}

// FrameWriter writes frames to an HTTP response and flushes after every
// write.
type FrameWriter struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	closed  bool
}

// NewFrameWriter sends the streaming response headers and returns a writer
// for the body.
func NewFrameWriter(w http.ResponseWriter) (*FrameWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrStreamingUnsupported
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache, no-transform")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &FrameWriter{w: w, flusher: flusher}, nil
}

// WriteFrame writes one frame and flushes it.
func (fw *FrameWriter) WriteFrame(f Frame) error {
	return fw.write(f.Encode())
}

// WriteComment writes a keep-alive comment.
func (fw *FrameWriter) WriteComment(text string) error {
	return fw.write(EncodeComment(text))
}

func (fw *FrameWriter) write(b []byte) error {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if fw.closed {
		return ErrWriterClosed
	}
	if _, err := fw.w.Write(b); err != nil {
		return err
	}
	fw.flusher.Flush()
	return nil
}

// Close stops further writes. The HTTP handler returning ends the response.
func (fw *FrameWriter) Close() error {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	fw.closed = true
	return nil
}

var _ Writer = (*FrameWriter)(nil)

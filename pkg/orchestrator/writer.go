package orchestrator

import (
	"io"
	"net/http"

	"github.com/relaychat/relay/pkg/stream"
)

// frameWriter emits protocol frames to the response writer, flushing after
// every frame so chunks reach the client as they are produced.
type frameWriter struct {
	w       io.Writer
	flusher http.Flusher
	wrote   bool
}

func newFrameWriter(w io.Writer) *frameWriter {
	fw := &frameWriter{w: w}
	if f, ok := w.(http.Flusher); ok {
		fw.flusher = f
	}
	return fw
}

func (f *frameWriter) WriteText(s string) error {
	if s == "" {
		return nil
	}
	return f.writeFrame(stream.EncodeTextFrame(s))
}

func (f *frameWriter) WriteError(msg string) error {
	return f.writeFrame(stream.EncodeErrorFrame(msg))
}

func (f *frameWriter) WriteFinish(reason string) error {
	return f.writeFrame(stream.EncodeFinishFrame(reason))
}

func (f *frameWriter) writeFrame(frame []byte) error {
	if _, err := f.w.Write(frame); err != nil {
		return err
	}
	f.wrote = true
	if f.flusher != nil {
		f.flusher.Flush()
	}
	return nil
}

// Streamed reports whether any frame has been written. Once true, failures
// can no longer be delivered as an HTTP error response.
func (f *frameWriter) Streamed() bool {
	return f.wrote
}

// Write frames arbitrary text, satisfying io.Writer for the executor's
// streamed command output.
func (f *frameWriter) Write(p []byte) (int, error) {
	if err := f.WriteText(string(p)); err != nil {
		return 0, err
	}
	return len(p), nil
}

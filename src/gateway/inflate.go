package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"

	"github.com/klauspost/compress/zlib"
)

// inflater decodes a zlib-stream transport. All frames of a connection
// share one zlib context; each flushed message is a complete JSON payload.
type inflater struct {
	pw   *io.PipeWriter
	done chan struct{}
	log  *slog.Logger
}

func newInflater(emit func([]byte), log *slog.Logger) *inflater {
	pr, pw := io.Pipe()
	in := &inflater{
		pw:   pw,
		done: make(chan struct{}),
		log:  log,
	}
	go in.run(pr, emit)
	return in
}

func (in *inflater) run(pr *io.PipeReader, emit func([]byte)) {
	defer close(in.done)
	zr, err := zlib.NewReader(pr)
	if err != nil {
		in.fail(pr, err)
		return
	}
	defer zr.Close()

	dec := json.NewDecoder(zr)
	for {
		var payload json.RawMessage
		if err := dec.Decode(&payload); err != nil {
			in.fail(pr, err)
			return
		}
		emit(payload)
	}
}

func (in *inflater) fail(pr *io.PipeReader, err error) {
	if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) && !errors.Is(err, io.ErrUnexpectedEOF) {
		in.log.Error("failed to inflate gateway stream", "error", err)
	}
	pr.CloseWithError(err)
}

// Write feeds one compressed frame. It blocks until the frame is consumed.
func (in *inflater) Write(frame []byte) error {
	_, err := in.pw.Write(frame)
	return err
}

// Close ends the stream and waits until every decoded payload was emitted.
func (in *inflater) Close() error {
	err := in.pw.Close()
	<-in.done
	return err
}

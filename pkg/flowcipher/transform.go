package flowcipher

import (
	"fmt"
	"io"
)

// Transform applies one direction of the keystream to bytes flowing through
// it. A Transform is owned by exactly one request/response exchange and is
// not safe for concurrent use. Position it with SetPosition before the first
// byte is transformed; afterwards the position only advances.
type Transform struct {
	cipher   *FlowCipher
	stream   streamState
	position int64
	started  bool
	closed   bool
}

// streamState is the minimal surface of cipher.Stream we rely on.
type streamState interface {
	XORKeyStream(dst, src []byte)
}

// SetPosition repositions the transform at an absolute plaintext offset.
// The cost is O(1) in the offset: the underlying counter is set to the
// containing block and only the sub-block remainder is discarded. It fails
// once bytes have been transformed.
func (t *Transform) SetPosition(offset int64) error {
	if t.started {
		return fmt.Errorf("flowcipher: cannot reposition a transform already in use")
	}
	stream, skip, err := t.cipher.streamAt(offset)
	if err != nil {
		return err
	}
	if skip > 0 {
		discard := make([]byte, skip)
		stream.XORKeyStream(discard, discard)
	}
	t.stream = stream
	t.position = offset
	return nil
}

// Position returns the current absolute offset.
func (t *Transform) Position() int64 { return t.position }

// Apply transforms src into dst in place semantics (dst and src may alias).
func (t *Transform) Apply(dst, src []byte) {
	t.started = true
	t.stream.XORKeyStream(dst, src)
	t.position += int64(len(src))
}

// Close releases the transform. Further use is an error; Close is idempotent.
func (t *Transform) Close() error {
	t.closed = true
	t.stream = nil
	return nil
}

// Reader wraps src so that every byte read through it is transformed. The
// returned reader imposes no buffering of its own, so back-pressure from the
// consumer propagates directly to src.
func (t *Transform) Reader(src io.Reader) io.Reader {
	return &transformReader{t: t, src: src}
}

// Writer wraps dst so that every byte written through it is transformed
// before reaching dst.
func (t *Transform) Writer(dst io.Writer) io.Writer {
	return &transformWriter{t: t, dst: dst}
}

type transformReader struct {
	t   *Transform
	src io.Reader
}

func (r *transformReader) Read(p []byte) (int, error) {
	if r.t.closed {
		return 0, fmt.Errorf("flowcipher: read through closed transform")
	}
	n, err := r.src.Read(p)
	if n > 0 {
		r.t.Apply(p[:n], p[:n])
	}
	return n, err
}

type transformWriter struct {
	t   *Transform
	dst io.Writer
	buf []byte
}

func (w *transformWriter) Write(p []byte) (int, error) {
	if w.t.closed {
		return 0, fmt.Errorf("flowcipher: write through closed transform")
	}
	if cap(w.buf) < len(p) {
		w.buf = make([]byte, len(p))
	}
	buf := w.buf[:len(p)]
	w.t.Apply(buf, p)
	n, err := w.dst.Write(buf)
	if err != nil {
		return n, err
	}
	return len(p), nil
}

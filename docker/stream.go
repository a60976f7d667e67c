package docker

import "bytes"

// cappedBuffer captures up to limit bytes and drops the rest, recording
// that truncation happened. Write never fails, so a chatty program keeps
// running while its excess output is discarded instead of buffered.
type cappedBuffer struct {
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func newCappedBuffer(limit int) *cappedBuffer {
	return &cappedBuffer{limit: limit}
}

func (w *cappedBuffer) Write(p []byte) (int, error) {
	n := len(p)
	if w.buf.Len() >= w.limit {
		if n > 0 {
			w.truncated = true
		}
		return n, nil
	}
	if remaining := w.limit - w.buf.Len(); n > remaining {
		w.truncated = true
		p = p[:remaining]
	}
	w.buf.Write(p)
	return n, nil
}

func (w *cappedBuffer) String() string { return w.buf.String() }

func (w *cappedBuffer) Truncated() bool { return w.truncated }

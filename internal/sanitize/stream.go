package sanitize

import (
	"io"
)

// RestoringReader wraps an upstream response body (typically SSE) and
// reverses aliases before the bytes reach the client. An alias split across
// reads is held back until it is complete or the source ends. Aliases that
// the model splits with other text (e.g. across two SSE events) are not
// restored.
type RestoringReader struct {
	src     io.Reader
	rev     *Reverser
	pending []byte // read from src, not yet restored
	out     []byte // restored, not yet returned
	srcEOF  bool
}

// NewRestoringReader wraps src. If rev has no aliases src is returned as is.
func NewRestoringReader(src io.Reader, rev *Reverser) io.Reader {
	if rev == nil || rev.Len() == 0 {
		return src
	}
	return &RestoringReader{src: src, rev: rev}
}

// Read implements io.Reader.
func (r *RestoringReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for {
		if len(r.out) > 0 {
			n := copy(p, r.out)
			r.out = r.out[n:]
			return n, nil
		}
		if r.srcEOF {
			return 0, io.EOF
		}

		tmp := make([]byte, max(len(p), r.rev.MaxAliasLen()))
		n, err := r.src.Read(tmp)
		r.pending = append(r.pending, tmp[:n]...)
		if err == io.EOF {
			r.srcEOF = true
		} else if err != nil {
			return 0, err
		}

		hold := 0
		if !r.srcEOF {
			hold = r.holdBack()
		}
		safe := len(r.pending) - hold
		if safe > 0 {
			r.out = append(r.out, r.rev.Reverse(string(r.pending[:safe]))...)
			r.pending = append(r.pending[:0], r.pending[safe:]...)
		}
	}
}

// holdBack returns the length of the longest tail of pending that could be
// the start of an alias.
func (r *RestoringReader) holdBack() int {
	limit := min(len(r.pending), r.rev.MaxAliasLen()-1)
	for k := limit; k > 0; k-- {
		if r.rev.isAliasPrefix(string(r.pending[len(r.pending)-k:])) {
			return k
		}
	}
	return 0
}

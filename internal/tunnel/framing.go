package tunnel

import (
	"bufio"
	"io"
)

// frameEndByte is the sentinel that terminates every frame (spec.md §4.1).
const frameEndByte = 0x00

// readFrame reads bytes one at a time from r until frameEndByte is seen,
// returning the accumulated payload with the sentinel excluded. It never
// buffers speculatively past the sentinel -- the caller's *bufio.Reader
// may read ahead internally, but readFrame itself stops consuming from it
// the instant the sentinel byte is seen.
//
// io.EOF encountered with no bytes read yet is returned as io.EOF (clean
// stream close between frames). io.EOF encountered after at least one
// byte has been accumulated is reported as io.ErrUnexpectedEOF, per
// spec.md §4.1's "EOF mid-frame is reported distinctly from clean close".
// Any other read error is returned unchanged.
func readFrame(r *bufio.Reader) ([]byte, error) {
	var buf []byte
	for {
		b, err := r.ReadByte()
		if err != nil {
			if err == io.EOF && len(buf) > 0 {
				return buf, io.ErrUnexpectedEOF
			}
			return buf, err
		}
		if b == frameEndByte {
			return buf, nil
		}
		buf = append(buf, b)
	}
}

// writeFrame writes payload followed by a single frameEndByte sentinel.
func writeFrame(w io.Writer, payload []byte) error {
	if _, err := w.Write(payload); err != nil {
		return err
	}
	_, err := w.Write([]byte{frameEndByte})
	return err
}

package tunnel

import (
	"errors"
	"io"
	"net"

	"github.com/jpillora/sizestr"
)

const pumpBufferSize = 1024

// pumpOneDirection copies from src to dst using a fixed-size scratch
// buffer, per spec.md §4.7. A zero-length read with no error is NOT
// treated as EOF -- it just means "no data now, keep going" (spec.md §9
// records this as an intentionally-preserved quirk of the original, not a
// bug to be "fixed"). io.EOF/io.ErrUnexpectedEOF end the copy cleanly; any
// other read error is returned to the caller. Write errors are checked
// against the same isCleanTermination test: Pump force-closes both
// streams as soon as one direction finishes, so the other direction can
// be sitting in a Write when that happens, and the resulting
// closed-stream error is a self-inflicted shutdown, not a real failure.
func pumpOneDirection(dst io.Writer, src io.Reader) (written int64, err error) {
	buf := make([]byte, pumpBufferSize)
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			wn, werr := dst.Write(buf[:n])
			written += int64(wn)
			if werr != nil {
				if isCleanTermination(werr) {
					return written, nil
				}
				return written, werr
			}
		}
		if rerr != nil {
			if isCleanTermination(rerr) {
				return written, nil
			}
			return written, rerr
		}
	}
}

func isCleanTermination(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe)
}

// Pump runs the bidirectional byte copy between a public/internal TCP
// socket and the other end's TLS data channel (spec.md §4.7). It owns
// both streams for its duration: as soon as either direction ends --
// cleanly or with an error -- both streams are closed, which unblocks
// whichever direction is still in a blocking Read, mirroring the
// tokio::select-then-drop shape of original_source's
// server_data_forward/client_data_forward. Returns nil on clean
// termination of either side, or the first non-clean error observed.
func Pump(logger Logger, label string, a, b io.ReadWriteCloser) error {
	results := make(chan error, 2)
	written := make(chan [2]int64, 2)

	go func() {
		n, err := pumpOneDirection(b, a)
		written <- [2]int64{n, 0}
		results <- err
	}()
	go func() {
		n, err := pumpOneDirection(a, b)
		written <- [2]int64{0, n}
		results <- err
	}()

	first := <-results
	a.Close()
	b.Close()
	second := <-results

	var aToB, bToA int64
	for i := 0; i < 2; i++ {
		w := <-written
		aToB += w[0]
		bToA += w[1]
	}

	logger.DLogf("%s: pump closed, sent %s received %s", label, sizestr.ToString(aToB), sizestr.ToString(bToA))

	if first != nil {
		return first
	}
	return second
}

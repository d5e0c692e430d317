// Package framer encodes and decodes a single AXON envelope on a single
// transport stream. Stream FIN is the sole delimiter — there is no length
// prefix — so callers must finish the send side after writing, and decode
// must keep reading until either FIN, a size cap, or a deadline.
package framer

import (
	"context"
	"io"
	"time"

	"github.com/axon-project/axon/pkg/axerr"
	"github.com/axon-project/axon/pkg/wire"
)

// MaxMessageSize is the maximum encoded envelope size in bytes (64 KiB).
const MaxMessageSize = 64 * 1024

// WriteStream is the send-side contract Encode needs. A quic.SendStream (a
// unidirectional send stream) or a bidirectional quic.Stream both satisfy
// it, since Encode never reads. Close finishes the stream's send side (FIN);
// on a bidirectional stream it does not affect the receive side.
type WriteStream interface {
	io.Writer
	io.Closer
}

// ReadStream is the receive-side contract Decode needs. A
// quic.ReceiveStream or a bidirectional quic.Stream both satisfy it.
type ReadStream interface {
	io.Reader
}

// Stream is the combined contract used by callers (like request/response
// correlation) that both write and read the same bidirectional stream.
type Stream interface {
	WriteStream
	ReadStream
}

// Encode serializes envelope as UTF-8 JSON, writes it in full, and finishes
// the stream's send side (FIN). It never writes a partial frame: the size
// check happens before any bytes reach the wire.
func Encode(s WriteStream, e wire.Envelope) error {
	data, err := e.Marshal()
	if err != nil {
		return axerr.Wrap(axerr.CodeInvalidJSON, "marshal envelope", err)
	}
	if len(data) > MaxMessageSize {
		return axerr.New(axerr.CodeSizeExceeded, "encoded envelope exceeds the maximum message size")
	}
	if _, err := s.Write(data); err != nil {
		return axerr.Wrap(axerr.CodeTruncated, "write envelope", err)
	}
	if err := s.Close(); err != nil {
		return axerr.Wrap(axerr.CodeTruncated, "finish stream send side", err)
	}
	return nil
}

// Decode reads from s until FIN, a size cap, or deadline, then parses the
// resulting bytes as a single envelope.
//
//   - Reading past MaxMessageSize before FIN fails with size_exceeded.
//   - A reset/error before FIN fails with truncated.
//   - deadline expiry fails with timeout.
//   - Malformed JSON or invariant violations fail per wire.Unmarshal.
func Decode(ctx context.Context, s ReadStream, deadline time.Time) (wire.Envelope, error) {
	// Streams that can take a read deadline directly (quic.Stream does) get
	// one set so the read goroutine below unblocks itself on expiry instead
	// of leaking past a select timeout.
	if dl, ok := s.(interface{ SetReadDeadline(time.Time) error }); ok && !deadline.IsZero() {
		_ = dl.SetReadDeadline(deadline)
	}

	type result struct {
		data []byte
		err  error
	}
	done := make(chan result, 1)

	go func() {
		buf := make([]byte, 0, 4096)
		chunk := make([]byte, 4096)
		for {
			n, err := s.Read(chunk)
			if n > 0 {
				if len(buf)+n > MaxMessageSize {
					done <- result{err: axerr.New(axerr.CodeSizeExceeded, "stream exceeded the maximum message size before FIN")}
					return
				}
				buf = append(buf, chunk[:n]...)
			}
			if err == io.EOF {
				done <- result{data: buf}
				return
			}
			if err != nil {
				done <- result{err: axerr.Wrap(axerr.CodeTruncated, "stream ended before FIN", err)}
				return
			}
		}
	}()

	var timer <-chan time.Time
	if !deadline.IsZero() {
		d := time.NewTimer(time.Until(deadline))
		defer d.Stop()
		timer = d.C
	}

	select {
	case r := <-done:
		if r.err != nil {
			return wire.Envelope{}, r.err
		}
		return wire.Unmarshal(r.data)
	case <-timer:
		return wire.Envelope{}, axerr.New(axerr.CodeTimeout, "decode deadline expired")
	case <-ctx.Done():
		return wire.Envelope{}, axerr.Wrap(axerr.CodeTimeout, "decode canceled", ctx.Err())
	}
}

package framer_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/axon-project/axon/pkg/axerr"
	"github.com/axon-project/axon/pkg/framer"
	"github.com/axon-project/axon/pkg/wire"
)

// pipeStream is a minimal in-memory Stream for unit testing the framer
// without standing up real QUIC streams.
type pipeStream struct {
	buf    bytes.Buffer
	closed bool
	reset  bool
	block  chan struct{}
}

func (p *pipeStream) Write(b []byte) (int, error) {
	return p.buf.Write(b)
}

func (p *pipeStream) Read(b []byte) (int, error) {
	n, err := p.buf.Read(b)
	if err == io.EOF {
		if p.reset {
			return n, errors.New("stream reset")
		}
		if !p.closed {
			<-p.block // no more data yet and not finished: block until canceled/timed out
		}
	}
	return n, err
}

func (p *pipeStream) Close() error {
	p.closed = true
	return nil
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	e := wire.NewMessage([]byte(`{"hello":"world"}`))
	s := &pipeStream{}
	if err := framer.Encode(s, e); err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := framer.Decode(context.Background(), s, time.Time{})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ID != e.ID || got.Kind != e.Kind {
		t.Fatalf("round trip mismatch: %+v vs %+v", got, e)
	}
}

func TestEncodeRejectsOversized(t *testing.T) {
	big := strings.Repeat("a", framer.MaxMessageSize)
	e := wire.NewMessage([]byte(`{"blob":"` + big + `"}`))
	s := &pipeStream{}
	err := framer.Encode(s, e)
	if code, ok := axerr.CodeOf(err); !ok || code != axerr.CodeSizeExceeded {
		t.Fatalf("expected size_exceeded, got %v", err)
	}
	if s.buf.Len() != 0 {
		t.Fatalf("oversized frame must not write any bytes")
	}
}

func TestDecodeRejectsOversizedStream(t *testing.T) {
	s := &pipeStream{}
	s.buf.WriteString(strings.Repeat("a", framer.MaxMessageSize+1))
	_, err := framer.Decode(context.Background(), s, time.Time{})
	if code, ok := axerr.CodeOf(err); !ok || code != axerr.CodeSizeExceeded {
		t.Fatalf("expected size_exceeded, got %v", err)
	}
}

func TestDecodeRejectsTruncatedStream(t *testing.T) {
	s := &pipeStream{reset: true}
	s.buf.WriteString(`{"id":"x`)
	_, err := framer.Decode(context.Background(), s, time.Time{})
	if code, ok := axerr.CodeOf(err); !ok || code != axerr.CodeTruncated {
		t.Fatalf("expected truncated, got %v", err)
	}
}

func TestDecodeRejectsMalformedJSON(t *testing.T) {
	s := &pipeStream{closed: true}
	s.buf.WriteString(`not json`)
	_, err := framer.Decode(context.Background(), s, time.Time{})
	if code, ok := axerr.CodeOf(err); !ok || code != axerr.CodeInvalidJSON {
		t.Fatalf("expected invalid_json, got %v", err)
	}
}

func TestDecodeTimesOut(t *testing.T) {
	s := &pipeStream{} // never closes, never resets: read blocks "forever" on the nil block channel
	_, err := framer.Decode(context.Background(), s, time.Now().Add(20*time.Millisecond))
	if code, ok := axerr.CodeOf(err); !ok || code != axerr.CodeTimeout {
		t.Fatalf("expected timeout, got %v", err)
	}
}

package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/axon-project/axon/pkg/axerr"
	"github.com/axon-project/axon/pkg/identity"
	"github.com/axon-project/axon/pkg/wire"
)

// fakeStream is an in-memory framer.Stream: reads come from a fixed byte
// slice (so exhausting it yields io.EOF, simulating FIN) and writes land in
// a buffer the test can inspect after Close.
type fakeStream struct {
	*bytes.Reader
	out    bytes.Buffer
	closed bool
}

func newFakeStream(data []byte) *fakeStream {
	return &fakeStream{Reader: bytes.NewReader(data)}
}

func (s *fakeStream) Write(p []byte) (int, error) { return s.out.Write(p) }
func (s *fakeStream) Close() error                { s.closed = true; return nil }

func testEngine(t *testing.T) (*Engine, *ConnectionEntry) {
	t.Helper()
	e := &Engine{
		ctx: context.Background(),
		log: logrus.NewEntry(logrus.New()),
	}
	entry := &ConnectionEntry{agentID: identity.AgentID("ed25519.deadbeefdeadbeefdeadbeefdeadbeef")}
	return e, entry
}

func envelopeBytes(t *testing.T, kind wire.Kind) []byte {
	t.Helper()
	raw := struct {
		ID      string          `json:"id"`
		Kind    string          `json:"kind"`
		Payload json.RawMessage `json:"payload"`
	}{ID: uuid.NewString(), Kind: string(kind), Payload: json.RawMessage(`{}`)}
	b, err := json.Marshal(raw)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return b
}

func replyEnvelope(t *testing.T, s *fakeStream) wire.Envelope {
	t.Helper()
	env, err := wire.Unmarshal(s.out.Bytes())
	if err != nil {
		t.Fatalf("unmarshal reply: %v", err)
	}
	return env
}

func TestDispatchBidiStreamRepliesInvalidReplyKindForMessage(t *testing.T) {
	e, entry := testEngine(t)
	s := newFakeStream(envelopeBytes(t, wire.KindMessage))

	e.dispatchBidiStream(entry, s)

	if !s.closed {
		t.Fatalf("expected stream to be closed")
	}
	reply := replyEnvelope(t, s)
	if reply.Kind != wire.KindError {
		t.Fatalf("expected error reply, got %q", reply.Kind)
	}
	var payload struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(reply.Payload, &payload); err != nil {
		t.Fatalf("unmarshal reply payload: %v", err)
	}
	if payload.Code != string(axerr.CodeInvalidReplyKind) {
		t.Fatalf("expected code %q, got %q", axerr.CodeInvalidReplyKind, payload.Code)
	}
}

func TestDispatchBidiStreamRepliesUnknownKindForUnrecognizedKind(t *testing.T) {
	e, entry := testEngine(t)
	s := newFakeStream(envelopeBytes(t, wire.Kind("future_kind")))

	e.dispatchBidiStream(entry, s)

	if !s.closed {
		t.Fatalf("expected stream to be closed")
	}
	reply := replyEnvelope(t, s)
	if reply.Kind != wire.KindError {
		t.Fatalf("expected error reply, got %q", reply.Kind)
	}
	var payload struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(reply.Payload, &payload); err != nil {
		t.Fatalf("unmarshal reply payload: %v", err)
	}
	if payload.Code != string(axerr.CodeUnknownKind) {
		t.Fatalf("expected code %q, got %q", axerr.CodeUnknownKind, payload.Code)
	}
}

func TestDispatchBidiStreamPublishesRequestAndWritesReply(t *testing.T) {
	e, entry := testEngine(t)
	s := newFakeStream(envelopeBytes(t, wire.KindRequest))
	inbound := e.SubscribeInbound()

	done := make(chan struct{})
	go func() {
		e.dispatchBidiStream(entry, s)
		close(done)
	}()

	select {
	case rec := <-inbound:
		if rec.Envelope.Kind != wire.KindRequest {
			t.Fatalf("expected request envelope, got %q", rec.Envelope.Kind)
		}
		if rec.Reply == nil {
			t.Fatalf("expected non-nil Reply for a bidi request")
		}
		rec.Reply(wire.Reply(wire.KindResponse, rec.Envelope.ID, json.RawMessage(`{"ok":true}`)))
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for published request")
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for dispatchBidiStream to return")
	}

	if !s.closed {
		t.Fatalf("expected stream to be closed after reply")
	}
	reply := replyEnvelope(t, s)
	if reply.Kind != wire.KindResponse {
		t.Fatalf("expected response reply, got %q", reply.Kind)
	}
}

func TestDispatchBidiStreamDropsMalformedFrameWithoutReply(t *testing.T) {
	e, entry := testEngine(t)
	s := newFakeStream([]byte(`not json`))

	e.dispatchBidiStream(entry, s)

	if !s.closed {
		t.Fatalf("expected stream to be closed")
	}
	if s.out.Len() != 0 {
		t.Fatalf("expected no reply written for a malformed frame, got %q", s.out.Bytes())
	}
}

func TestDispatchUniStreamDropsRequestKind(t *testing.T) {
	e, entry := testEngine(t)
	s := newFakeStream(envelopeBytes(t, wire.KindRequest))
	inbound := e.SubscribeInbound()

	e.dispatchUniStream(entry, s)

	select {
	case rec := <-inbound:
		t.Fatalf("expected no publish for a request on a uni stream, got %+v", rec)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDispatchUniStreamPublishesMessage(t *testing.T) {
	e, entry := testEngine(t)
	s := newFakeStream(envelopeBytes(t, wire.KindMessage))
	inbound := e.SubscribeInbound()

	e.dispatchUniStream(entry, s)

	select {
	case rec := <-inbound:
		if rec.From != entry.agentID {
			t.Fatalf("expected From %q, got %q", entry.agentID, rec.From)
		}
		if rec.Envelope.Kind != wire.KindMessage {
			t.Fatalf("expected message envelope, got %q", rec.Envelope.Kind)
		}
		if rec.Reply != nil {
			t.Fatalf("expected nil Reply for a uni stream record")
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for published message")
	}
}

func TestDispatchUniStreamForwardsUnknownKind(t *testing.T) {
	e, entry := testEngine(t)
	s := newFakeStream(envelopeBytes(t, wire.Kind("future_kind")))
	inbound := e.SubscribeInbound()

	e.dispatchUniStream(entry, s)

	select {
	case rec := <-inbound:
		if rec.Envelope.Kind != wire.KindUnknown {
			t.Fatalf("expected unknown kind forwarded to subscriber, got %q", rec.Envelope.Kind)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for forwarded unknown-kind envelope")
	}
}

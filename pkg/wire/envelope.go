// Package wire defines the JSON envelope exchanged over AXON transport
// streams and the validation rules every decoder applies to it.
package wire

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/axon-project/axon/pkg/axerr"
)

// Kind tags an envelope's role. Unknown wire values decode to KindUnknown
// rather than failing, so the protocol can evolve without breaking old
// readers.
type Kind string

const (
	KindRequest  Kind = "request"
	KindResponse Kind = "response"
	KindMessage  Kind = "message"
	KindError    Kind = "error"
	KindUnknown  Kind = "unknown"
)

var knownKinds = map[Kind]bool{
	KindRequest:  true,
	KindResponse: true,
	KindMessage:  true,
	KindError:    true,
}

// Envelope is the wire form of a single AXON message. Payload is kept as a
// raw JSON fragment so re-encoding never perturbs application bytes.
type Envelope struct {
	ID      string          `json:"id"`
	Kind    Kind            `json:"kind"`
	Payload json.RawMessage `json:"payload"`
	Ref     *string         `json:"ref,omitempty"`
}

// wireEnvelope mirrors Envelope's JSON shape but keeps Kind as a bare
// string so unrecognized kinds can be captured before tagging.
type wireEnvelope struct {
	ID      string          `json:"id"`
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
	Ref     *string         `json:"ref,omitempty"`
}

// NewMessage builds a "message"-kind envelope with a fresh UUIDv4 id.
func NewMessage(payload json.RawMessage) Envelope {
	return Envelope{ID: uuid.NewString(), Kind: KindMessage, Payload: payload}
}

// NewRequest builds a "request"-kind envelope with a fresh UUIDv4 id.
func NewRequest(payload json.RawMessage) Envelope {
	return Envelope{ID: uuid.NewString(), Kind: KindRequest, Payload: payload}
}

// Reply builds a response/error envelope referencing the given request id.
func Reply(kind Kind, ref string, payload json.RawMessage) Envelope {
	r := ref
	return Envelope{ID: uuid.NewString(), Kind: kind, Payload: payload, Ref: &r}
}

// Marshal serializes the envelope to compact JSON.
func (e Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Unmarshal parses raw bytes into an Envelope, tagging unrecognized kinds
// as KindUnknown and validating the invariants the wire protocol requires:
// a non-nil UUID id and an object-shaped payload. Unknown top-level JSON
// fields are ignored, not rejected.
func Unmarshal(data []byte) (Envelope, error) {
	var w wireEnvelope
	if err := json.Unmarshal(data, &w); err != nil {
		return Envelope{}, axerr.Wrap(axerr.CodeInvalidJSON, "decode envelope", err)
	}

	if w.ID == "" {
		return Envelope{}, axerr.New(axerr.CodeInvalidEnvelope, "envelope id is empty")
	}
	if parsed, err := uuid.Parse(w.ID); err != nil || parsed == uuid.Nil {
		return Envelope{}, axerr.New(axerr.CodeInvalidEnvelope, fmt.Sprintf("envelope id %q is not a non-nil UUID", w.ID))
	}

	if len(w.Payload) == 0 {
		return Envelope{}, axerr.New(axerr.CodeInvalidEnvelope, "envelope payload is missing")
	}
	trimmed := firstNonSpace(w.Payload)
	if trimmed != '{' {
		return Envelope{}, axerr.New(axerr.CodeInvalidEnvelope, "envelope payload must be a JSON object")
	}

	kind := Kind(w.Kind)
	if !knownKinds[kind] {
		kind = KindUnknown
	}

	return Envelope{ID: w.ID, Kind: kind, Payload: w.Payload, Ref: w.Ref}, nil
}

func firstNonSpace(b []byte) byte {
	for _, c := range b {
		switch c {
		case ' ', '\t', '\n', '\r':
			continue
		default:
			return c
		}
	}
	return 0
}

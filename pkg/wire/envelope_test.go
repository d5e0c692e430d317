package wire_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/axon-project/axon/pkg/axerr"
	"github.com/axon-project/axon/pkg/wire"
)

func TestRoundTrip(t *testing.T) {
	e := wire.NewMessage(json.RawMessage(`{"hello":"world"}`))
	data, err := e.Marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	got, err := wire.Unmarshal(data)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.ID != e.ID || got.Kind != e.Kind || string(got.Payload) != string(e.Payload) {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, e)
	}
}

func TestUnmarshalAcceptsPrettyJSON(t *testing.T) {
	pretty := `{
		"id": "` + uuid.NewString() + `",
		"kind": "message",
		"payload": { "x": 1 }
	}`
	if _, err := wire.Unmarshal([]byte(pretty)); err != nil {
		t.Fatalf("pretty json rejected: %v", err)
	}
}

func TestUnmarshalIgnoresUnknownFields(t *testing.T) {
	data := `{"id":"` + uuid.NewString() + `","kind":"message","payload":{},"future_field":true}`
	if _, err := wire.Unmarshal([]byte(data)); err != nil {
		t.Fatalf("unexpected field rejected: %v", err)
	}
}

func TestUnmarshalAcceptsRefVariants(t *testing.T) {
	for _, body := range []string{
		`{"id":"` + uuid.NewString() + `","kind":"response","payload":{},"ref":null}`,
		`{"id":"` + uuid.NewString() + `","kind":"response","payload":{}}`,
		`{"id":"` + uuid.NewString() + `","kind":"response","payload":{},"ref":"` + uuid.NewString() + `"}`,
	} {
		if _, err := wire.Unmarshal([]byte(body)); err != nil {
			t.Fatalf("ref variant rejected (%s): %v", body, err)
		}
	}
}

func TestUnmarshalTagsUnknownKind(t *testing.T) {
	data := `{"id":"` + uuid.NewString() + `","kind":"ping","payload":{}}`
	got, err := wire.Unmarshal([]byte(data))
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Kind != wire.KindUnknown {
		t.Fatalf("kind = %s, want unknown", got.Kind)
	}
}

func TestUnmarshalRejectsNilUUID(t *testing.T) {
	data := `{"id":"00000000-0000-0000-0000-000000000000","kind":"message","payload":{}}`
	_, err := wire.Unmarshal([]byte(data))
	if code, ok := axerr.CodeOf(err); !ok || code != axerr.CodeInvalidEnvelope {
		t.Fatalf("expected invalid_envelope for nil uuid, got %v", err)
	}
}

func TestUnmarshalRejectsNonObjectPayload(t *testing.T) {
	data := `{"id":"` + uuid.NewString() + `","kind":"message","payload":[1,2,3]}`
	_, err := wire.Unmarshal([]byte(data))
	if code, ok := axerr.CodeOf(err); !ok || code != axerr.CodeInvalidEnvelope {
		t.Fatalf("expected invalid_envelope for non-object payload, got %v", err)
	}
}

func TestUnmarshalRejectsMalformedJSON(t *testing.T) {
	_, err := wire.Unmarshal([]byte(`{not json`))
	if code, ok := axerr.CodeOf(err); !ok || code != axerr.CodeInvalidJSON {
		t.Fatalf("expected invalid_json, got %v", err)
	}
}

func TestUnmarshalRejectsEmptyID(t *testing.T) {
	data := `{"id":"","kind":"message","payload":{}}`
	if _, err := wire.Unmarshal([]byte(data)); err == nil {
		t.Fatalf("expected error for empty id")
	}
}

func TestLargeEnvelopeStillDecodes(t *testing.T) {
	big := strings.Repeat("a", 60000)
	data := `{"id":"` + uuid.NewString() + `","kind":"message","payload":{"blob":"` + big + `"}}`
	if _, err := wire.Unmarshal([]byte(data)); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
}

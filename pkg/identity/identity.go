// Package identity derives AXON's canonical agent identifiers from
// Ed25519 public keys and enforces pinning: a presented public key must
// bytewise-match the value previously recorded for its agent id.
package identity

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"

	"github.com/axon-project/axon/pkg/axerr"
)

// Algorithm is the identity algorithm tag. v1 supports only Ed25519.
const Algorithm = "ed25519"

// AgentID is the canonical, algorithm-tagged textual identifier derived
// from a public key: "<alg>." + lowercase hex of the first 16 bytes of
// SHA-256(public key bytes).
type AgentID string

var agentIDPattern = regexp.MustCompile(`^ed25519\.[0-9a-f]{32}$`)

// Valid reports whether id has the well-formed v1 shape.
func (id AgentID) Valid() bool {
	return agentIDPattern.MatchString(string(id))
}

func (id AgentID) String() string { return string(id) }

// PublicKey is 32 bytes of Ed25519 key material.
type PublicKey [ed25519.PublicKeySize]byte

// Bytes returns the raw key bytes.
func (k PublicKey) Bytes() []byte { return k[:] }

// DeriveAgentID computes the canonical agent id for a public key. It is a
// pure function: identical inputs always yield an identical identifier,
// regardless of caller.
func DeriveAgentID(pubkey []byte) AgentID {
	sum := sha256.Sum256(pubkey)
	return AgentID(fmt.Sprintf("%s.%s", Algorithm, hex.EncodeToString(sum[:16])))
}

// PubkeyMap maps agent id to its pinned public key bytes. Implementations
// must support synchronous reads from threads not owned by the Go runtime
// scheduler's async machinery (TLS verifier callbacks run inline on the
// handshake goroutine, which is fine under Go, but the contract is kept
// explicit since callers outside this module may call through cgo-backed
// verifiers in the future).
type PubkeyMap interface {
	Lookup(id AgentID) (pubkey []byte, ok bool)
}

// VerifyPinned checks a presented public key against the pinning map.
//
//   - It derives the agent id from presented.
//   - If expected is non-empty (the outbound/dialing case, where the caller
//     already knows which peer it meant to reach via SNI), the derived id
//     must equal expected.
//   - The (derived or expected) id must be present in the map, and the
//     mapped bytes must equal presented exactly.
func VerifyPinned(m PubkeyMap, presented []byte, expected AgentID) (AgentID, error) {
	derived := DeriveAgentID(presented)
	id := derived
	if expected != "" {
		if derived != expected {
			return "", axerr.New(axerr.CodeIdentityMismatch,
				fmt.Sprintf("presented key derives to %s, expected %s", derived, expected))
		}
		id = expected
	}

	pinned, ok := m.Lookup(id)
	if !ok {
		return "", axerr.New(axerr.CodeUnknownPeer, fmt.Sprintf("agent %s not in pinning map", id))
	}
	if !constantTimeEqual(pinned, presented) {
		return "", axerr.New(axerr.CodePubkeyMismatch, fmt.Sprintf("public key for %s does not match pinned value", id))
	}
	return id, nil
}

func constantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	var v byte
	for i := range a {
		v |= a[i] ^ b[i]
	}
	return v == 0
}

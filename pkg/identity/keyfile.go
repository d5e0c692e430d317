package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"

	"github.com/axon-project/axon/pkg/axerr"
)

// Identity is a loaded or generated Ed25519 keypair together with its
// derived AgentID.
type Identity struct {
	ID      AgentID
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
}

const (
	privateKeyFile = "identity.key"
	publicKeyFile  = "identity.pub"
	privateKeyMode = 0o600
	publicKeyMode  = 0o644
)

// Generate creates a fresh Ed25519 keypair and derives its agent id.
func Generate() (*Identity, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, axerr.Wrap(axerr.CodeInternal, "generate ed25519 keypair", err)
	}
	return &Identity{
		ID:      DeriveAgentID(pub),
		Public:  pub,
		Private: priv,
	}, nil
}

// Save writes the keypair to dir as base64-encoded seed/public files.
// The private key file is written with mode 0600.
func Save(dir string, id *Identity) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return axerr.Wrap(axerr.CodeInternal, "create identity directory", err)
	}
	seed := id.Private.Seed()
	if err := os.WriteFile(filepath.Join(dir, privateKeyFile),
		[]byte(base64.StdEncoding.EncodeToString(seed)), privateKeyMode); err != nil {
		return axerr.Wrap(axerr.CodeInternal, "write private key file", err)
	}
	if err := os.WriteFile(filepath.Join(dir, publicKeyFile),
		[]byte(base64.StdEncoding.EncodeToString(id.Public)), publicKeyMode); err != nil {
		return axerr.Wrap(axerr.CodeInternal, "write public key file", err)
	}
	return nil
}

// Load reads a previously saved keypair from dir. Non-base64 content in the
// seed file is rejected rather than silently producing a corrupt key.
func Load(dir string) (*Identity, error) {
	raw, err := os.ReadFile(filepath.Join(dir, privateKeyFile))
	if err != nil {
		return nil, axerr.Wrap(axerr.CodeInternal, "read private key file", err)
	}
	seed, err := base64.StdEncoding.DecodeString(string(raw))
	if err != nil {
		return nil, axerr.Wrap(axerr.CodeInternal,
			fmt.Sprintf("private key file %s is not valid base64 — repair by regenerating the identity", filepath.Join(dir, privateKeyFile)), err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, axerr.New(axerr.CodeInternal,
			fmt.Sprintf("private key seed has %d bytes, want %d", len(seed), ed25519.SeedSize))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)
	return &Identity{
		ID:      DeriveAgentID(pub),
		Public:  pub,
		Private: priv,
	}, nil
}

// LoadOrGenerate loads the identity from dir, generating and persisting a
// new one on first run.
func LoadOrGenerate(dir string) (*Identity, error) {
	if _, err := os.Stat(filepath.Join(dir, privateKeyFile)); err == nil {
		return Load(dir)
	}
	id, err := Generate()
	if err != nil {
		return nil, err
	}
	if err := Save(dir, id); err != nil {
		return nil, err
	}
	return id, nil
}

package transport

import (
	"crypto/ed25519"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"time"

	"github.com/axon-project/axon/pkg/axerr"
	"github.com/axon-project/axon/pkg/identity"
)

// selfSignedCertificate builds a self-signed TLS certificate over an
// agent's Ed25519 keypair. AXON does not use a CA: the certificate is only
// a carrier for the public key, and trust is established entirely by
// IdentityBinder.VerifyPinned against the PubkeyMap, not by chain
// validation — both sides set InsecureSkipVerify and substitute their own
// VerifyPeerCertificate callback.
func selfSignedCertificate(id *identity.Identity) (tls.Certificate, error) {
	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: string(id.ID)},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(10 * 365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth, x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(nil, template, template, id.Public, id.Private)
	if err != nil {
		return tls.Certificate{}, axerr.Wrap(axerr.CodeInternal, "create self-signed certificate", err)
	}
	return tls.Certificate{
		Certificate: [][]byte{der},
		PrivateKey:  id.Private,
	}, nil
}

// leafPublicKey extracts the raw Ed25519 public key from the first
// certificate of a verified chain.
func leafPublicKey(rawCerts [][]byte) ([]byte, error) {
	if len(rawCerts) == 0 {
		return nil, axerr.New(axerr.CodeHandshakeFailed, "no certificate presented")
	}
	cert, err := x509.ParseCertificate(rawCerts[0])
	if err != nil {
		return nil, axerr.Wrap(axerr.CodeHandshakeFailed, "parse presented certificate", err)
	}
	pub, ok := cert.PublicKey.(ed25519.PublicKey)
	if !ok {
		return nil, axerr.New(axerr.CodeHandshakeFailed, "presented certificate key is not ed25519")
	}
	return []byte(pub), nil
}

// serverTLSConfig builds the listener-side TLS configuration: mutual
// authentication is mandatory, and the verifier pins the client's
// certificate against pubkeyMap without knowing which agent to expect in
// advance (any known peer may be the initiator).
func serverTLSConfig(cert tls.Certificate, pubkeyMap identity.PubkeyMap) *tls.Config {
	return &tls.Config{
		Certificates:          []tls.Certificate{cert},
		ClientAuth:            tls.RequireAnyClientCert,
		InsecureSkipVerify:    true,
		NextProtos:            []string{ALPN},
		MinVersion:            tls.VersionTLS13,
		VerifyPeerCertificate: pinningVerifier(pubkeyMap, ""),
	}
}

// clientTLSConfig builds the dial-side TLS configuration. ServerName is
// set to the target's agent id, which AXON always treats as a valid DNS
// label; the verifier additionally requires the presented key to match
// expected.
func clientTLSConfig(cert tls.Certificate, pubkeyMap identity.PubkeyMap, expected identity.AgentID) *tls.Config {
	return &tls.Config{
		Certificates:          []tls.Certificate{cert},
		ServerName:            string(expected),
		InsecureSkipVerify:    true,
		NextProtos:            []string{ALPN},
		MinVersion:            tls.VersionTLS13,
		VerifyPeerCertificate: pinningVerifier(pubkeyMap, expected),
	}
}

// pinningVerifier returns a tls.Config.VerifyPeerCertificate callback that
// rejects the handshake unless the presented key passes
// identity.VerifyPinned. This is the sole trust mechanism AXON uses; it
// must run synchronously on whatever goroutine crypto/tls invokes it from.
func pinningVerifier(pubkeyMap identity.PubkeyMap, expected identity.AgentID) func([][]byte, [][]*x509.Certificate) error {
	return func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		pub, err := leafPublicKey(rawCerts)
		if err != nil {
			return err
		}
		_, err = identity.VerifyPinned(pubkeyMap, pub, expected)
		return err
	}
}

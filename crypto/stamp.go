package crypto

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"

	"github.com/pkg/errors"
)

// SignatureScheme identifies the P-256 API key scheme in Turnkey stamps.
const SignatureScheme = "SIGNATURE_SCHEME_TK_API_P256"

// Stamp is the signed-request envelope Turnkey verifies server-side. It is
// serialized to JSON and base64 encoded into the X-Stamp header.
type Stamp struct {
	PublicKey string `json:"publicKey"`
	Scheme    string `json:"scheme"`
	Signature string `json:"signature"`
}

// Stamper signs request payloads for the Turnkey API by regenerating the
// P-256 key pair from the user password and the stored client secret. The
// password is held in memory only; the private key is re-derived per stamp
// and never retained.
type Stamper struct {
	password     string
	clientSecret string
}

// NewStamper returns a Stamper bound to a password and client secret.
func NewStamper(password, clientSecret string) *Stamper {
	return &Stamper{password: password, clientSecret: clientSecret}
}

// Stamp produces the base64-encoded X-Stamp header value for a payload.
func (s *Stamper) Stamp(payload []byte) (string, error) {
	keypair, err := RecreateKeyPair(s.password, s.clientSecret)
	if err != nil {
		return "", err
	}

	sig, err := SignDER(payload, keypair.PrivateKey)
	if err != nil {
		return "", err
	}

	raw, err := json.Marshal(Stamp{
		PublicKey: keypair.PublicKey,
		Scheme:    SignatureScheme,
		Signature: hex.EncodeToString(sig),
	})
	if err != nil {
		return "", errors.Wrap(err, "crypto.Stamper marshal stamp")
	}

	return base64.StdEncoding.EncodeToString(raw), nil
}

// PublicKey returns the hex-encoded compressed public key for the stamper's
// credentials.
func (s *Stamper) PublicKey() (string, error) {
	keypair, err := RecreateKeyPair(s.password, s.clientSecret)
	if err != nil {
		return "", err
	}
	return keypair.PublicKey, nil
}

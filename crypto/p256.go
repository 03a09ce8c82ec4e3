package crypto

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"math/big"

	"github.com/pkg/errors"
	"golang.org/x/crypto/pbkdf2"
)

var (
	ErrInvalidClientSecret = errors.New("invalid client secret")
	ErrInvalidPrivateKey   = errors.New("invalid private key")
	ErrInvalidPublicKey    = errors.New("invalid public key")
	ErrInvalidSignature    = errors.New("invalid signature encoding")
)

// KeyPair is a deterministically derived P-256 key pair. The private key is
// never persisted anywhere; it is regenerated on demand from the password and
// the client secret (the base64-encoded salt).
type KeyPair struct {
	PrivateKey   string // hex, 32 bytes
	PublicKey    string // hex, compressed SEC1 point
	ClientSecret string // base64 salt
}

// DeriveKeyPair derives a P-256 key pair from a password and salt using
// PBKDF2-HMAC-SHA256 with rejection sampling: the derived 32 bytes are
// accepted as the private scalar only when nonzero and below the curve order.
//
// With salt == nil (initial provisioning) a fresh random 32-byte salt is
// drawn and rejected scalars cause a retry with a new salt. With a caller
// supplied salt a rejection is a hard error: a previously accepted salt can
// never start rejecting, so it means the stored client secret is corrupted.
func DeriveKeyPair(password string, salt []byte) (*KeyPair, error) {
	order := elliptic.P256().Params().N

	for {
		saltBytes := salt
		if saltBytes == nil {
			saltBytes = make([]byte, 32)
			if _, err := rand.Read(saltBytes); err != nil {
				return nil, errors.Wrap(err, "crypto.DeriveKeyPair rand.Read")
			}
		}

		derived := pbkdf2.Key([]byte(password), saltBytes, pbkdf2Iterations, 32, sha256.New)

		d := new(big.Int).SetBytes(derived)
		if d.Sign() > 0 && d.Cmp(order) < 0 {
			pub := compressedPublicKey(d)
			return &KeyPair{
				PrivateKey:   hex.EncodeToString(derived),
				PublicKey:    hex.EncodeToString(pub),
				ClientSecret: base64.StdEncoding.EncodeToString(saltBytes),
			}, nil
		}

		if salt != nil {
			return nil, errors.Wrap(ErrInvalidClientSecret, "derived scalar outside curve order")
		}
	}
}

// RecreateKeyPair regenerates a key pair from a password and a stored client
// secret (base64 salt).
func RecreateKeyPair(password, clientSecret string) (*KeyPair, error) {
	saltBytes, err := DecodeClientSecret(clientSecret)
	if err != nil {
		return nil, err
	}
	return DeriveKeyPair(password, saltBytes)
}

// GenerateKeyPair creates a random (non password-derived) key pair together
// with a fresh random client secret. Used for provisioning and tests.
func GenerateKeyPair() (*KeyPair, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, errors.Wrap(err, "crypto.GenerateKeyPair")
	}

	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, errors.Wrap(err, "crypto.GenerateKeyPair rand.Read")
	}

	d := make([]byte, 32)
	priv.D.FillBytes(d)

	return &KeyPair{
		PrivateKey:   hex.EncodeToString(d),
		PublicKey:    hex.EncodeToString(elliptic.MarshalCompressed(elliptic.P256(), priv.X, priv.Y)),
		ClientSecret: base64.StdEncoding.EncodeToString(secret),
	}, nil
}

// DecodeClientSecret recovers the raw salt bytes from a base64 client secret.
func DecodeClientSecret(clientSecret string) ([]byte, error) {
	saltBytes, err := base64.StdEncoding.DecodeString(clientSecret)
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidClientSecret, "base64 decode: %v", err)
	}
	return saltBytes, nil
}

// SignDER signs a message with the hex-encoded private key and returns a
// DER-encoded ECDSA signature. The message is hashed with SHA-256.
func SignDER(message []byte, privateKeyHex string) ([]byte, error) {
	key, err := privateKeyFromHex(privateKeyHex)
	if err != nil {
		return nil, err
	}

	digest := sha256.Sum256(message)
	sig, err := ecdsa.SignASN1(rand.Reader, key, digest[:])
	if err != nil {
		return nil, errors.Wrap(err, "crypto.SignDER")
	}
	return sig, nil
}

// SignRaw signs a message and returns the fixed 64-byte r||s encoding used
// by WebAuthn-style verifiers. Not interchangeable with the DER encoding;
// callers must pick whichever their target protocol verifies.
func SignRaw(message []byte, privateKeyHex string) ([]byte, error) {
	key, err := privateKeyFromHex(privateKeyHex)
	if err != nil {
		return nil, err
	}

	digest := sha256.Sum256(message)
	r, s, err := ecdsa.Sign(rand.Reader, key, digest[:])
	if err != nil {
		return nil, errors.Wrap(err, "crypto.SignRaw")
	}

	sig := make([]byte, 64)
	r.FillBytes(sig[:32])
	s.FillBytes(sig[32:])
	return sig, nil
}

// VerifyDER checks a DER-encoded signature against the hex-encoded
// compressed public key.
func VerifyDER(message, sig []byte, publicKeyHex string) (bool, error) {
	pub, err := publicKeyFromHex(publicKeyHex)
	if err != nil {
		return false, err
	}
	digest := sha256.Sum256(message)
	return ecdsa.VerifyASN1(pub, digest[:], sig), nil
}

// VerifyRaw checks a 64-byte r||s signature against the hex-encoded
// compressed public key.
func VerifyRaw(message, sig []byte, publicKeyHex string) (bool, error) {
	if len(sig) != 64 {
		return false, errors.Wrapf(ErrInvalidSignature, "want 64 bytes, got %d", len(sig))
	}
	pub, err := publicKeyFromHex(publicKeyHex)
	if err != nil {
		return false, err
	}

	r := new(big.Int).SetBytes(sig[:32])
	s := new(big.Int).SetBytes(sig[32:])
	digest := sha256.Sum256(message)
	return ecdsa.Verify(pub, digest[:], r, s), nil
}

func compressedPublicKey(d *big.Int) []byte {
	curve := elliptic.P256()
	x, y := curve.ScalarBaseMult(d.Bytes())
	return elliptic.MarshalCompressed(curve, x, y)
}

func privateKeyFromHex(privateKeyHex string) (*ecdsa.PrivateKey, error) {
	raw, err := hex.DecodeString(privateKeyHex)
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidPrivateKey, "hex decode: %v", err)
	}
	if len(raw) != 32 {
		return nil, errors.Wrapf(ErrInvalidPrivateKey, "want 32 bytes, got %d", len(raw))
	}

	curve := elliptic.P256()
	d := new(big.Int).SetBytes(raw)
	if d.Sign() == 0 || d.Cmp(curve.Params().N) >= 0 {
		return nil, errors.Wrap(ErrInvalidPrivateKey, "scalar outside curve order")
	}

	x, y := curve.ScalarBaseMult(raw)
	return &ecdsa.PrivateKey{
		PublicKey: ecdsa.PublicKey{Curve: curve, X: x, Y: y},
		D:         d,
	}, nil
}

func publicKeyFromHex(publicKeyHex string) (*ecdsa.PublicKey, error) {
	raw, err := hex.DecodeString(publicKeyHex)
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidPublicKey, "hex decode: %v", err)
	}
	x, y := elliptic.UnmarshalCompressed(elliptic.P256(), raw)
	if x == nil {
		return nil, errors.Wrap(ErrInvalidPublicKey, "not a compressed P-256 point")
	}
	return &ecdsa.PublicKey{Curve: elliptic.P256(), X: x, Y: y}, nil
}

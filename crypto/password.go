package crypto

import (
	"crypto/sha256"
	"encoding/base64"

	"golang.org/x/crypto/pbkdf2"
)

// passwordSalt is the fixed public salt the Axiom login endpoint expects.
// The server verifies the exact PBKDF2 output, so the salt cannot vary
// per session.
var passwordSalt = []byte{
	217, 3, 161, 123, 53, 200, 206, 36, 143, 2, 220, 252, 240, 109, 204, 23,
	217, 174, 79, 158, 18, 76, 149, 117, 73, 40, 207, 77, 34, 194, 196, 163,
}

const pbkdf2Iterations = 600_000

// HashPassword derives the wire-format password hash for login requests:
// PBKDF2-HMAC-SHA256 over the fixed salt, 600k iterations, base64 encoded.
// Deterministic: the same password always produces the same hash.
func HashPassword(password string) string {
	key := pbkdf2.Key([]byte(password), passwordSalt, pbkdf2Iterations, 32, sha256.New)
	return base64.StdEncoding.EncodeToString(key)
}

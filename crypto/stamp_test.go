package crypto

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStamperProducesVerifiableStamp(t *testing.T) {
	pair, err := DeriveKeyPair("stamper-pass", nil)
	require.NoError(t, err)

	stamper := NewStamper("stamper-pass", pair.ClientSecret)
	payload := []byte(`{"type":"ACTIVITY_TYPE_CREATE_READ_WRITE_SESSION_V2"}`)

	header, err := stamper.Stamp(payload)
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(header)
	require.NoError(t, err)

	var stamp Stamp
	require.NoError(t, json.Unmarshal(raw, &stamp))
	require.Equal(t, SignatureScheme, stamp.Scheme)
	require.Equal(t, pair.PublicKey, stamp.PublicKey)

	sig, err := hex.DecodeString(stamp.Signature)
	require.NoError(t, err)

	ok, err := VerifyDER(payload, sig, stamp.PublicKey)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestStamperPublicKeyMatchesDerivedPair(t *testing.T) {
	pair, err := DeriveKeyPair("stamper-pass", nil)
	require.NoError(t, err)

	stamper := NewStamper("stamper-pass", pair.ClientSecret)
	pub, err := stamper.PublicKey()
	require.NoError(t, err)
	require.Equal(t, pair.PublicKey, pub)
}

func TestStamperRejectsCorruptSecret(t *testing.T) {
	stamper := NewStamper("stamper-pass", "!!!")
	_, err := stamper.Stamp([]byte("payload"))
	require.ErrorIs(t, err, ErrInvalidClientSecret)
}

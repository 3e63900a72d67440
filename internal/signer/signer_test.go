package signer

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const keyOne = "0x0000000000000000000000000000000000000000000000000000000000000001"

func TestNew(t *testing.T) {
	_, err := New("zz")
	assert.Error(t, err)

	_, err = New("0x0102")
	assert.ErrorContains(t, err, "32 bytes")

	s, err := New(keyOne)
	require.NoError(t, err)
	assert.NotNil(t, s)
}

func TestNonceDRBGVector(t *testing.T) {
	// Widely published secp256k1/SHA-256 vector for private key 1.
	digest := sha256.Sum256([]byte("Satoshi Nakamoto"))
	k := newNonceDRBG(crypto.S256().Params().N, big.NewInt(1), digest[:]).next()
	assert.Equal(t, strings.ToLower("8F8A276C19F4149656B280621E358CCE24F5F52542772691EE69063B74F15D15"), hex.EncodeToString(k.Bytes()))

	key, err := crypto.ToECDSA(big.NewInt(1).FillBytes(make([]byte, 32)))
	require.NoError(t, err)
	r, s := signDeterministic(key, digest[:])
	half := new(big.Int).Rsh(key.Params().N, 1)
	if s.Cmp(half) > 0 {
		s = new(big.Int).Sub(key.Params().N, s)
	}
	assert.Equal(t, "934b1ea10a4b3c1757e2b0c017d0b6143ce3c9a7e6a4a49860d7a6ab210ee3d8", hex.EncodeToString(r.Bytes()))
	assert.Equal(t, "2442ce9d2b916064108014783e923ec36b49743e2ffa1c4496f01a512aafd9e5", hex.EncodeToString(s.Bytes()))
}

func TestSign(t *testing.T) {
	s, err := New(keyOne)
	require.NoError(t, err)
	s.now = func() time.Time { return time.Unix(1700000000, 42) }

	payload := []byte(`{"model":"m","messages":[]}`)
	sig, ts := s.Sign(payload, "gonka1node")
	assert.Equal(t, int64(1700000000000000042), ts)

	raw, err := base64.StdEncoding.DecodeString(sig)
	require.NoError(t, err)
	assert.Len(t, raw, 64)

	again, _ := s.Sign(payload, "gonka1node")
	assert.Equal(t, sig, again, "signatures are deterministic")

	assert.True(t, s.Verify(payload, "gonka1node", ts, sig))
	assert.False(t, s.Verify(payload, "gonka1other", ts, sig))
	assert.False(t, s.Verify([]byte("tampered"), "gonka1node", ts, sig))
	assert.False(t, s.Verify(payload, "gonka1node", ts+1, sig))
}

func TestAddress(t *testing.T) {
	s, err := New(keyOne)
	require.NoError(t, err)

	addr, err := s.Address("gonka")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(addr, "gonka1"))
	assert.Len(t, addr, len("gonka1")+32+6)

	_, err = s.Address("Gonka")
	assert.Error(t, err)
}

func TestBech32Encode(t *testing.T) {
	// BIP-173 valid test string with empty data.
	got, err := bech32Encode("a", nil)
	require.NoError(t, err)
	assert.Equal(t, "a12uel5l", got)
}

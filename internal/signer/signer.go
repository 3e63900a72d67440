// Package signer produces deterministic secp256k1 request signatures for
// upstream LLM nodes that authenticate callers by key instead of API token.
package signer

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/ripemd160" //nolint:staticcheck // cosmos addresses are defined over RIPEMD-160
)

// Signer signs request payloads with one private key.
type Signer struct {
	key *ecdsa.PrivateKey
	now func() time.Time
}

// New creates a Signer from a hex-encoded private key (0x prefix optional).
func New(hexKey string) (*Signer, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("signer: invalid hex key: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("signer: key must be 32 bytes, got %d", len(raw))
	}
	key, err := crypto.ToECDSA(raw)
	if err != nil {
		return nil, fmt.Errorf("signer: %w", err)
	}
	return &Signer{key: key, now: time.Now}, nil
}

// Sign returns the base64 r||s signature of payload for the given transfer
// address, plus the nanosecond timestamp that was signed.
//
// The signed message is SHA256(hex(SHA256(payload)) + timestamp + address),
// signed with RFC 6979 nonces and normalised to low S.
func (s *Signer) Sign(payload []byte, transferAddress string) (sig string, tsNano int64) {
	ts := s.now().UnixNano()
	return s.signAt(payload, transferAddress, ts), ts
}

func (s *Signer) signAt(payload []byte, transferAddress string, ts int64) string {
	payloadHash := sha256.Sum256(payload)
	input := hex.EncodeToString(payloadHash[:]) + strconv.FormatInt(ts, 10) + transferAddress
	digest := sha256.Sum256([]byte(input))

	r, sv := signDeterministic(s.key, digest[:])

	n := s.key.Params().N
	if sv.Cmp(new(big.Int).Rsh(n, 1)) > 0 {
		sv = new(big.Int).Sub(n, sv)
	}

	out := make([]byte, 64)
	r.FillBytes(out[:32])
	sv.FillBytes(out[32:])
	return base64.StdEncoding.EncodeToString(out)
}

// Verify reports whether sig is a valid signature by this signer's key over
// payload, address and timestamp.
func (s *Signer) Verify(payload []byte, transferAddress string, ts int64, sig string) bool {
	raw, err := base64.StdEncoding.DecodeString(sig)
	if err != nil || len(raw) != 64 {
		return false
	}
	payloadHash := sha256.Sum256(payload)
	input := hex.EncodeToString(payloadHash[:]) + strconv.FormatInt(ts, 10) + transferAddress
	digest := sha256.Sum256([]byte(input))
	return crypto.VerifySignature(crypto.CompressPubkey(&s.key.PublicKey), digest[:], raw)
}

// Address derives the bech32 account address for the signer's public key
// under the given human-readable prefix (e.g. "gonka").
func (s *Signer) Address(hrp string) (string, error) {
	sum := sha256.Sum256(crypto.CompressPubkey(&s.key.PublicKey))
	h := ripemd160.New()
	h.Write(sum[:])
	return bech32Encode(hrp, h.Sum(nil))
}

// signDeterministic is plain ECDSA with the nonce drawn from an RFC 6979
// HMAC-SHA256 DRBG seeded by the key and digest.
func signDeterministic(key *ecdsa.PrivateKey, digest []byte) (r, s *big.Int) {
	curve := key.Curve
	n := curve.Params().N
	e := new(big.Int).SetBytes(digest)

	drbg := newNonceDRBG(n, key.D, digest)
	for {
		k := drbg.next()

		rx, _ := curve.ScalarBaseMult(k.Bytes())
		r = new(big.Int).Mod(rx, n)
		if r.Sign() == 0 {
			continue
		}
		s = new(big.Int).Mul(r, key.D)
		s.Add(s, e)
		s.Mul(s, new(big.Int).ModInverse(k, n))
		s.Mod(s, n)
		if s.Sign() != 0 {
			return r, s
		}
	}
}

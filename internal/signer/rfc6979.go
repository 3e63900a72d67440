package signer

import (
	"crypto/hmac"
	"crypto/sha256"
	"hash"
	"math/big"
)

// nonceDRBG is the HMAC-SHA256 generator of RFC 6979 section 3.2.
type nonceDRBG struct {
	n    *big.Int
	qlen int
	k, v []byte
	used bool
}

func newNonceDRBG(n, x *big.Int, digest []byte) *nonceDRBG {
	qlen := n.BitLen()
	d := &nonceDRBG{
		n:    n,
		qlen: qlen,
		k:    make([]byte, sha256.Size),
		v:    make([]byte, sha256.Size),
	}
	for i := range d.v {
		d.v[i] = 0x01
	}

	seed := append(int2octets(x, qlen), bits2octets(digest, n, qlen)...)
	d.k = d.mac(d.v, []byte{0x00}, seed)
	d.v = d.mac(d.v)
	d.k = d.mac(d.v, []byte{0x01}, seed)
	d.v = d.mac(d.v)
	return d
}

func (d *nonceDRBG) mac(parts ...[]byte) []byte {
	var m hash.Hash = hmac.New(sha256.New, d.k)
	for _, p := range parts {
		m.Write(p)
	}
	return m.Sum(nil)
}

// next returns the next candidate nonce in [1, n-1]. Calls after the first
// reseed K and V as step h.3 requires when a candidate was rejected.
func (d *nonceDRBG) next() *big.Int {
	for {
		if d.used {
			d.k = d.mac(d.v, []byte{0x00})
			d.v = d.mac(d.v)
		}
		d.used = true

		var t []byte
		for len(t)*8 < d.qlen {
			d.v = d.mac(d.v)
			t = append(t, d.v...)
		}
		k := bits2int(t, d.qlen)
		if k.Sign() > 0 && k.Cmp(d.n) < 0 {
			return k
		}
	}
}

func int2octets(v *big.Int, qlen int) []byte {
	out := make([]byte, (qlen+7)/8)
	b := v.Bytes()
	if len(b) > len(out) {
		b = b[len(b)-len(out):]
	}
	copy(out[len(out)-len(b):], b)
	return out
}

func bits2int(b []byte, qlen int) *big.Int {
	v := new(big.Int).SetBytes(b)
	if blen := len(b) * 8; blen > qlen {
		v.Rsh(v, uint(blen-qlen))
	}
	return v
}

func bits2octets(b []byte, q *big.Int, qlen int) []byte {
	z1 := bits2int(b, qlen)
	z2 := new(big.Int).Sub(z1, q)
	if z2.Sign() < 0 {
		z2 = z1
	}
	return int2octets(z2, qlen)
}

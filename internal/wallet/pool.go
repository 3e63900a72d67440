// Package wallet rotates upstream requests across several signing keys.
package wallet

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/gonkalabs/silent-protocol/internal/signer"
)

// ErrEmptyPool is returned by NewPool when no wallets are given.
var ErrEmptyPool = errors.New("wallet pool: at least one wallet is required")

// Wallet holds a signer and its requester address.
type Wallet struct {
	Signer  *signer.Signer
	Address string
}

// NewWallet builds a Wallet from a hex key. An empty address is derived
// from the key under the bech32 prefix hrp.
func NewWallet(hexKey, address, hrp string) (Wallet, error) {
	s, err := signer.New(hexKey)
	if err != nil {
		return Wallet{}, err
	}
	if address == "" {
		if address, err = s.Address(hrp); err != nil {
			return Wallet{}, err
		}
	}
	return Wallet{Signer: s, Address: address}, nil
}

// Pool hands out wallets in round-robin order. It is safe for concurrent use.
type Pool struct {
	wallets []Wallet
	counter atomic.Uint64
}

// NewPool creates a Pool from a list of wallets.
func NewPool(wallets []Wallet, logger *zap.Logger) (*Pool, error) {
	if len(wallets) == 0 {
		return nil, ErrEmptyPool
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	for i, w := range wallets {
		logger.Info("wallet registered", zap.Int("index", i), zap.String("address", w.Address))
	}
	return &Pool{wallets: wallets}, nil
}

// Next returns the next wallet.
func (p *Pool) Next() *Wallet {
	idx := p.counter.Add(1) - 1
	return &p.wallets[idx%uint64(len(p.wallets))]
}

// Len returns the number of wallets in the pool.
func (p *Pool) Len() int {
	return len(p.wallets)
}

// Authorize signs payload for transferAddress with the next wallet and sets
// the Authorization, X-Requester-Address and X-Timestamp headers on req.
func (p *Pool) Authorize(req *http.Request, payload []byte, transferAddress string) error {
	w := p.Next()
	if w.Signer == nil {
		return fmt.Errorf("wallet %s: no signer", w.Address)
	}
	sig, ts := w.Signer.Sign(payload, transferAddress)
	req.Header.Set("Authorization", sig)
	req.Header.Set("X-Requester-Address", w.Address)
	req.Header.Set("X-Timestamp", strconv.FormatInt(ts, 10))
	return nil
}

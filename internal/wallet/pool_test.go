package wallet

import (
	"net/http"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	keyA = "0x0000000000000000000000000000000000000000000000000000000000000001"
	keyB = "0000000000000000000000000000000000000000000000000000000000000002"
)

func testPool(t *testing.T) *Pool {
	t.Helper()
	a, err := NewWallet(keyA, "gonka1aaa", "gonka")
	require.NoError(t, err)
	b, err := NewWallet(keyB, "", "gonka")
	require.NoError(t, err)
	p, err := NewPool([]Wallet{a, b}, nil)
	require.NoError(t, err)
	return p
}

func TestNewPool(t *testing.T) {
	_, err := NewPool(nil, nil)
	assert.ErrorIs(t, err, ErrEmptyPool)

	p := testPool(t)
	assert.Equal(t, 2, p.Len())
}

func TestNewWalletDerivesAddress(t *testing.T) {
	w, err := NewWallet(keyB, "", "gonka")
	require.NoError(t, err)
	assert.Regexp(t, `^gonka1[02-9ac-hj-np-z]{38}$`, w.Address)

	_, err = NewWallet("nothex", "", "gonka")
	assert.Error(t, err)
}

func TestPoolRoundRobin(t *testing.T) {
	p := testPool(t)
	first := p.Next().Address
	second := p.Next().Address
	assert.NotEqual(t, first, second)
	assert.Equal(t, first, p.Next().Address)
}

func TestPoolAuthorize(t *testing.T) {
	p := testPool(t)
	payload := []byte(`{"messages":[]}`)

	req, err := http.NewRequest(http.MethodPost, "http://node/v1/chat/completions", nil)
	require.NoError(t, err)
	require.NoError(t, p.Authorize(req, payload, "gonka1node"))

	assert.Equal(t, "gonka1aaa", req.Header.Get("X-Requester-Address"))
	ts, err := strconv.ParseInt(req.Header.Get("X-Timestamp"), 10, 64)
	require.NoError(t, err)

	w := p.wallets[0]
	assert.True(t, w.Signer.Verify(payload, "gonka1node", ts, req.Header.Get("Authorization")))
}

package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSealKey = []byte("12345678901234567890123456789012")

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "accounts.db"), testSealKey)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Seed(context.Background()))
	return s
}

func TestOpen_RejectsShortSealKey(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "accounts.db"), []byte("short"))
	require.ErrorIs(t, err, ErrInvalidSealKey)
}

func TestVerifyCredentials_AccountNumberAndPIN(t *testing.T) {
	s := newTestStore(t)

	c, err := s.VerifyCredentials(context.Background(), Credentials{AccountNumber: "1234", PIN: "4321"})
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, "ACC1", c.ID)
	assert.Equal(t, "Alice Moran", c.Name)
}

func TestVerifyCredentials_WrongPIN(t *testing.T) {
	s := newTestStore(t)

	c, err := s.VerifyCredentials(context.Background(), Credentials{AccountNumber: "1234", PIN: "0000"})
	require.NoError(t, err)
	assert.Nil(t, c, "wrong PIN is a conversational miss, not an error")
}

func TestVerifyCredentials_ByCustomerIDAndPhone(t *testing.T) {
	s := newTestStore(t)

	byID, err := s.VerifyCredentials(context.Background(), Credentials{CustomerID: "ACC2", PIN: "8765"})
	require.NoError(t, err)
	require.NotNil(t, byID)
	assert.Equal(t, "ACC2", byID.ID)

	byPhone, err := s.VerifyCredentials(context.Background(), Credentials{Phone: "+14155550103", PIN: "1111"})
	require.NoError(t, err)
	require.NotNil(t, byPhone)
	assert.Equal(t, "ACC3", byPhone.ID)
}

func TestVerifyCredentials_MissingPieces(t *testing.T) {
	s := newTestStore(t)

	c, err := s.VerifyCredentials(context.Background(), Credentials{AccountNumber: "1234"})
	require.NoError(t, err)
	assert.Nil(t, c, "no PIN, no match")

	c, err = s.VerifyCredentials(context.Background(), Credentials{PIN: "4321"})
	require.NoError(t, err)
	assert.Nil(t, c, "no identifier, no match")

	c, err = s.VerifyCredentials(context.Background(), Credentials{AccountNumber: "9999", PIN: "4321"})
	require.NoError(t, err)
	assert.Nil(t, c, "unknown account")
}

func TestGetBalance(t *testing.T) {
	s := newTestStore(t)

	bal, err := s.GetBalance(context.Background(), "ACC1")
	require.NoError(t, err)
	assert.InDelta(t, 2543.75, bal, 0.001)

	_, err = s.GetBalance(context.Background(), "NOPE")
	require.ErrorIs(t, err, ErrCustomerNotFound)
}

func TestGetTransactions_MostRecentFirstAndCapped(t *testing.T) {
	s := newTestStore(t)

	txs, err := s.GetTransactions(context.Background(), "ACC1", 3)
	require.NoError(t, err)
	require.Len(t, txs, 3)
	assert.Equal(t, "Grocery Mart", txs[0].Description)
	assert.Equal(t, "Salary", txs[1].Description)
	assert.Equal(t, "Coffee Corner", txs[2].Description)

	none, err := s.GetTransactions(context.Background(), "NOPE", 3)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestBlockCard_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ok, err := s.BlockCard(ctx, "ACC1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.BlockCard(ctx, "ACC1")
	require.NoError(t, err)
	assert.True(t, ok, "blocking an already-blocked card succeeds")

	c, err := s.GetCustomer(ctx, "ACC1")
	require.NoError(t, err)
	assert.Equal(t, CardBlocked, c.CardStatus)

	ok, err = s.BlockCard(ctx, "NOPE")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSeed_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Seed(ctx))

	txs, err := s.GetTransactions(ctx, "ACC1", 100)
	require.NoError(t, err)
	assert.Len(t, txs, 4, "re-seeding must not duplicate transactions")
}

func TestPINSealing_RoundTrip(t *testing.T) {
	s := newTestStore(t)

	sealed, err := s.sealPIN("4321")
	require.NoError(t, err)
	assert.NotContains(t, sealed, "4321")

	pin, err := s.openPIN(sealed)
	require.NoError(t, err)
	assert.Equal(t, "4321", pin)

	_, err = s.openPIN("not-base64!!")
	require.Error(t, err)
}

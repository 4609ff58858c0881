// Package store implements the account persistence store: customers and
// their transactions in SQLite. PINs are sealed at rest with AES-256-GCM;
// the plaintext PIN never touches a row.
//
// All lookups are total with respect to "not found" — they return a nil
// customer or a typed sentinel, never a fabricated zero value, because
// their results feed conversational text.
package store

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/subtle"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.opentelemetry.io/otel/attribute"

	tellerotel "github.com/dativo-io/teller/internal/otel"
)

var tracer = tellerotel.Tracer("github.com/dativo-io/teller/internal/store")

var (
	// ErrCustomerNotFound is returned when a customer id does not exist.
	ErrCustomerNotFound = errors.New("customer not found")
	// ErrInvalidSealKey is returned when the PIN sealing key is not
	// exactly 32 bytes (required for AES-256).
	ErrInvalidSealKey = errors.New("pin sealing key must be 32 bytes")
)

const schema = `
CREATE TABLE IF NOT EXISTS customers (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    account_number TEXT NOT NULL UNIQUE,
    phone TEXT NOT NULL,
    pin_sealed TEXT NOT NULL,
    balance REAL NOT NULL DEFAULT 0,
    card_id TEXT NOT NULL DEFAULT '',
    card_status TEXT NOT NULL DEFAULT 'active',
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS transactions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    customer_id TEXT NOT NULL REFERENCES customers(id),
    date TEXT NOT NULL,
    description TEXT NOT NULL,
    amount REAL NOT NULL,
    type TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_customers_account ON customers(account_number);
CREATE INDEX IF NOT EXISTS idx_customers_phone ON customers(phone);
CREATE INDEX IF NOT EXISTS idx_transactions_customer ON transactions(customer_id, created_at DESC);
`

// Card statuses.
const (
	CardActive  = "active"
	CardBlocked = "blocked"
)

// Store is the SQLite-backed account store. Safe for concurrent use; the
// underlying *sql.DB serializes writes and WAL mode keeps reads from
// blocking behind a concurrent block operation.
type Store struct {
	db  *sql.DB
	gcm cipher.AEAD
}

// Customer is an account record. The PIN is intentionally absent.
type Customer struct {
	ID            string
	Name          string
	AccountNumber string
	Phone         string
	Balance       float64
	CardID        string
	CardStatus    string
}

// Transaction is one ledger entry.
type Transaction struct {
	ID          int64
	Date        string
	Description string
	Amount      float64
	Type        string // "debit" or "credit"
}

// Credentials is the caller-supplied identification bundle: any one of
// customer id, account number, or phone, plus the PIN. The account number
// alone is a context hint, not proof of identity.
type Credentials struct {
	CustomerID    string
	AccountNumber string
	Phone         string
	PIN           string
}

// Open opens (creating if needed) the account store at path. sealKey must
// be exactly 32 bytes and is used for AES-256-GCM PIN sealing.
func Open(path string, sealKey []byte) (*Store, error) {
	if len(sealKey) != 32 {
		return nil, ErrInvalidSealKey
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening account store: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initializing account schema: %w", err)
	}

	block, err := aes.NewCipher(sealKey)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating PIN cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating GCM: %w", err)
	}

	return &Store{db: db, gcm: gcm}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// VerifyCredentials matches the supplied credential against one of
// {customer id, account number, phone} plus PIN. Returns the customer on
// success and (nil, nil) when the credentials do not match — "not found"
// is a conversational outcome, not an error.
func (s *Store) VerifyCredentials(ctx context.Context, creds Credentials) (*Customer, error) {
	ctx, span := tracer.Start(ctx, "store.verify_credentials")
	defer span.End()

	var (
		where string
		arg   string
	)
	switch {
	case creds.CustomerID != "":
		where, arg = "id = ?", creds.CustomerID
	case creds.AccountNumber != "":
		where, arg = "account_number = ?", creds.AccountNumber
	case creds.Phone != "":
		where, arg = "phone = ?", creds.Phone
	default:
		return nil, nil
	}
	if creds.PIN == "" {
		return nil, nil
	}

	row := s.db.QueryRowContext(ctx,
		"SELECT id, name, account_number, phone, pin_sealed, balance, card_id, card_status FROM customers WHERE "+where, arg)

	var c Customer
	var sealed string
	err := row.Scan(&c.ID, &c.Name, &c.AccountNumber, &c.Phone, &sealed, &c.Balance, &c.CardID, &c.CardStatus)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("querying customer: %w", err)
	}

	pin, err := s.openPIN(sealed)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("unsealing PIN: %w", err)
	}
	if subtle.ConstantTimeCompare([]byte(pin), []byte(creds.PIN)) != 1 {
		return nil, nil
	}
	span.SetAttributes(attribute.Bool("store.verified", true))
	return &c, nil
}

// GetCustomer returns the customer with the given id, or ErrCustomerNotFound.
func (s *Store) GetCustomer(ctx context.Context, customerID string) (*Customer, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, name, account_number, phone, balance, card_id, card_status FROM customers WHERE id = ?", customerID)
	var c Customer
	err := row.Scan(&c.ID, &c.Name, &c.AccountNumber, &c.Phone, &c.Balance, &c.CardID, &c.CardStatus)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCustomerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying customer %s: %w", customerID, err)
	}
	return &c, nil
}

// GetBalance returns the current balance for the given customer.
func (s *Store) GetBalance(ctx context.Context, customerID string) (float64, error) {
	c, err := s.GetCustomer(ctx, customerID)
	if err != nil {
		return 0, err
	}
	return c.Balance, nil
}

// GetTransactions returns up to limit transactions for the customer,
// most recent first.
func (s *Store) GetTransactions(ctx context.Context, customerID string, limit int) ([]Transaction, error) {
	ctx, span := tracer.Start(ctx, "store.get_transactions")
	defer span.End()
	span.SetAttributes(attribute.Int("store.limit", limit))

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, date, description, amount, type FROM transactions WHERE customer_id = ? ORDER BY date DESC, id DESC LIMIT ?",
		customerID, limit)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("querying transactions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Transaction
	for rows.Next() {
		var t Transaction
		if err := rows.Scan(&t.ID, &t.Date, &t.Description, &t.Amount, &t.Type); err != nil {
			return nil, fmt.Errorf("scanning transaction: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// BlockCard marks the customer's card blocked. Idempotent: blocking an
// already-blocked card succeeds. Returns false when the customer does not
// exist; never partial state.
func (s *Store) BlockCard(ctx context.Context, customerID string) (bool, error) {
	ctx, span := tracer.Start(ctx, "store.block_card")
	defer span.End()

	res, err := s.db.ExecContext(ctx,
		"UPDATE customers SET card_status = ?, updated_at = ? WHERE id = ?",
		CardBlocked, time.Now().UTC(), customerID)
	if err != nil {
		span.RecordError(err)
		return false, fmt.Errorf("blocking card for %s: %w", customerID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("blocking card for %s: %w", customerID, err)
	}
	return n > 0, nil
}

// CreateCustomer inserts a customer, sealing the PIN.
func (s *Store) CreateCustomer(ctx context.Context, c *Customer, pin string) error {
	sealed, err := s.sealPIN(pin)
	if err != nil {
		return fmt.Errorf("sealing PIN: %w", err)
	}
	now := time.Now().UTC()
	status := c.CardStatus
	if status == "" {
		status = CardActive
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO customers (id, name, account_number, phone, pin_sealed, balance, card_id, card_status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Name, c.AccountNumber, c.Phone, sealed, c.Balance, c.CardID, status, now, now)
	if err != nil {
		return fmt.Errorf("creating customer %s: %w", c.ID, err)
	}
	return nil
}

// AddTransaction appends a ledger entry for the customer.
func (s *Store) AddTransaction(ctx context.Context, customerID string, t Transaction) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO transactions (customer_id, date, description, amount, type, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		customerID, t.Date, t.Description, t.Amount, t.Type, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("adding transaction for %s: %w", customerID, err)
	}
	return nil
}

// sealPIN encrypts a PIN with AES-256-GCM, nonce-prefixed, base64-encoded.
func (s *Store) sealPIN(pin string) (string, error) {
	nonce := make([]byte, s.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	sealed := s.gcm.Seal(nonce, nonce, []byte(pin), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (s *Store) openPIN(sealed string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", err
	}
	if len(raw) < s.gcm.NonceSize() {
		return "", fmt.Errorf("sealed PIN too short")
	}
	nonce, ct := raw[:s.gcm.NonceSize()], raw[s.gcm.NonceSize():]
	pin, err := s.gcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return "", err
	}
	return string(pin), nil
}

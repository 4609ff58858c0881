package store

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
)

// demo fixtures used by `teller seed` and the integration tests. Account
// numbers and PINs are 4 digits, matching what the verification directive
// asks callers for.
var demoCustomers = []struct {
	customer Customer
	pin      string
}{
	{
		customer: Customer{
			ID: "ACC1", Name: "Alice Moran", AccountNumber: "1234",
			Phone: "+14155550101", Balance: 2543.75, CardID: "CARD-001",
		},
		pin: "4321",
	},
	{
		customer: Customer{
			ID: "ACC2", Name: "Ben Osei", AccountNumber: "5678",
			Phone: "+14155550102", Balance: 310.20, CardID: "CARD-002",
		},
		pin: "8765",
	},
	{
		customer: Customer{
			ID: "ACC3", Name: "Carla Reyes", AccountNumber: "9012",
			Phone: "+14155550103", Balance: 12890.00, CardID: "CARD-003",
		},
		pin: "1111",
	},
}

var demoTransactions = map[string][]Transaction{
	"ACC1": {
		{Date: "2026-08-20", Description: "Grocery Mart", Amount: -82.14, Type: "debit"},
		{Date: "2026-08-18", Description: "Salary", Amount: 3100.00, Type: "credit"},
		{Date: "2026-08-15", Description: "Coffee Corner", Amount: -4.80, Type: "debit"},
		{Date: "2026-08-12", Description: "Utility bill", Amount: -130.55, Type: "debit"},
	},
	"ACC2": {
		{Date: "2026-08-19", Description: "Bookstore", Amount: -23.99, Type: "debit"},
		{Date: "2026-08-14", Description: "Refund", Amount: 45.00, Type: "credit"},
	},
	"ACC3": {
		{Date: "2026-08-21", Description: "Flight booking", Amount: -640.00, Type: "debit"},
	},
}

// Seed inserts the demo customers and transactions. Existing customers are
// left untouched, so seeding is safe to repeat.
func (s *Store) Seed(ctx context.Context) error {
	for _, d := range demoCustomers {
		if _, err := s.GetCustomer(ctx, d.customer.ID); err == nil {
			continue
		}
		c := d.customer
		if err := s.CreateCustomer(ctx, &c, d.pin); err != nil {
			return fmt.Errorf("seeding customer %s: %w", c.ID, err)
		}
		for _, t := range demoTransactions[c.ID] {
			if err := s.AddTransaction(ctx, c.ID, t); err != nil {
				return fmt.Errorf("seeding transactions for %s: %w", c.ID, err)
			}
		}
		log.Info().Str("customer_id", c.ID).Msg("demo_customer_seeded")
	}
	return nil
}

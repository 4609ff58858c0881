package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/dativo-io/teller/internal/store"
)

// Conversational strings shared with the verification gate. The gate keys
// on VerifiedPrefix when a tool result arrives without a typed identity
// handle (e.g. from a foreign tool implementation).
const (
	VerifiedPrefix = "Identity verified successfully."
	VerifyFailText = "Identity verification failed. Please check the details provided."

	// MissingHandleText is the recoverable answer for account tools invoked
	// without an identity handle. Distinct from a lookup failure: it tells
	// the generation service to re-run verification, never to operate on an
	// empty or default identity.
	MissingHandleText = "No verified customer on this call. Please complete identity verification before I can access account details."
)

func stringParam(desc string) map[string]interface{} {
	return map[string]interface{}{"type": "string", "description": desc}
}

func objectParams(props map[string]interface{}, required ...string) map[string]interface{} {
	p := map[string]interface{}{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		p["required"] = required
	}
	return p
}

// RegisterBankTools wires every banking tool into the registry.
// txLimit caps the transaction lookup result count.
func RegisterBankTools(reg *Registry, st *store.Store, txLimit int) {
	reg.Register(&verifyIdentityTool{store: st})
	reg.Register(&getBalanceTool{store: st})
	reg.Register(&getTransactionsTool{store: st, limit: txLimit})
	reg.Register(&blockCardTool{store: st})
	reg.Register(&checkEligibilityTool{})
	reg.Register(&supportTicketTool{})
	reg.Register(&transferFundsTool{store: st})
	reg.Register(&closeAccountRequestTool{})
	reg.Register(&endCallTool{})
}

// ---------------------------------------------------------------------------
// verify_identity
// ---------------------------------------------------------------------------

type verifyIdentityTool struct {
	store *store.Store
}

func (t *verifyIdentityTool) Name() string { return NameVerifyIdentity }
func (t *verifyIdentityTool) Description() string {
	return "Verifies caller identity. Usually ask for the 4-digit account number and PIN. " +
		"Customer ID or phone number also work in place of the account number."
}
func (t *verifyIdentityTool) Parameters() map[string]interface{} {
	return objectParams(map[string]interface{}{
		"account_number": stringParam("4-digit account number"),
		"phone":          stringParam("Phone number on file"),
		"customer_id":    stringParam("Customer ID"),
		"pin":            stringParam("4-digit PIN"),
	})
}
func (t *verifyIdentityTool) Sensitive() bool { return false }

func (t *verifyIdentityTool) Execute(ctx context.Context, inv Invocation) Result {
	creds := store.Credentials{
		CustomerID:    inv.Call.StringArg("customer_id"),
		AccountNumber: inv.Call.StringArg("account_number"),
		Phone:         inv.Call.StringArg("phone"),
		PIN:           inv.Call.StringArg("pin"),
	}
	customer, err := t.store.VerifyCredentials(ctx, creds)
	if err != nil {
		log.Warn().Err(err).Msg("verify_identity_store_error")
		return Result{CallID: inv.Call.ID, Name: t.Name(), Text: "Verification is temporarily unavailable. Please try again in a moment."}
	}
	if customer == nil {
		return Result{CallID: inv.Call.ID, Name: t.Name(), Text: VerifyFailText}
	}
	return Result{
		CallID:   inv.Call.ID,
		Name:     t.Name(),
		Text:     fmt.Sprintf("%s Customer ID: %s", VerifiedPrefix, customer.ID),
		Identity: customer.ID,
	}
}

// ---------------------------------------------------------------------------
// get_balance
// ---------------------------------------------------------------------------

type getBalanceTool struct {
	store *store.Store
}

func (t *getBalanceTool) Name() string { return NameGetBalance }
func (t *getBalanceTool) Description() string {
	return "Gets the REAL account balance. You MUST use this tool to answer balance questions. Do NOT guess."
}
func (t *getBalanceTool) Parameters() map[string]interface{} {
	return objectParams(map[string]interface{}{
		"customer_id": stringParam("Verified customer ID"),
	})
}
func (t *getBalanceTool) Sensitive() bool { return true }

func (t *getBalanceTool) Execute(ctx context.Context, inv Invocation) Result {
	id := identityFor(inv)
	if id == "" {
		return Result{CallID: inv.Call.ID, Name: t.Name(), Text: MissingHandleText}
	}
	balance, err := t.store.GetBalance(ctx, id)
	if err != nil {
		return Result{CallID: inv.Call.ID, Name: t.Name(), Text: lookupFailText(err)}
	}
	return Result{CallID: inv.Call.ID, Name: t.Name(), Text: fmt.Sprintf("Current balance is $%.2f", balance)}
}

// ---------------------------------------------------------------------------
// get_transactions
// ---------------------------------------------------------------------------

type getTransactionsTool struct {
	store *store.Store
	limit int
}

func (t *getTransactionsTool) Name() string { return NameGetTransactions }
func (t *getTransactionsTool) Description() string {
	return "Gets recent transactions, most recent first."
}
func (t *getTransactionsTool) Parameters() map[string]interface{} {
	return objectParams(map[string]interface{}{
		"customer_id": stringParam("Verified customer ID"),
	})
}
func (t *getTransactionsTool) Sensitive() bool { return true }

func (t *getTransactionsTool) Execute(ctx context.Context, inv Invocation) Result {
	id := identityFor(inv)
	if id == "" {
		return Result{CallID: inv.Call.ID, Name: t.Name(), Text: MissingHandleText}
	}
	txs, err := t.store.GetTransactions(ctx, id, t.limit)
	if err != nil {
		return Result{CallID: inv.Call.ID, Name: t.Name(), Text: lookupFailText(err)}
	}
	if len(txs) == 0 {
		return Result{CallID: inv.Call.ID, Name: t.Name(), Text: "No recent transactions on this account."}
	}
	payload, err := json.Marshal(txs)
	if err != nil {
		return Result{CallID: inv.Call.ID, Name: t.Name(), Text: "Transaction lookup is temporarily unavailable."}
	}
	return Result{CallID: inv.Call.ID, Name: t.Name(), Text: string(payload)}
}

// ---------------------------------------------------------------------------
// block_card
// ---------------------------------------------------------------------------

type blockCardTool struct {
	store *store.Store
}

func (t *blockCardTool) Name() string { return NameBlockCard }
func (t *blockCardTool) Description() string {
	return "Blocks the customer's card. Irreversible from the call; idempotent."
}
func (t *blockCardTool) Parameters() map[string]interface{} {
	return objectParams(map[string]interface{}{
		"customer_id": stringParam("Verified customer ID"),
	})
}
func (t *blockCardTool) Sensitive() bool { return true }

func (t *blockCardTool) Execute(ctx context.Context, inv Invocation) Result {
	id := identityFor(inv)
	if id == "" {
		return Result{CallID: inv.Call.ID, Name: t.Name(), Text: MissingHandleText}
	}
	blocked, err := t.store.BlockCard(ctx, id)
	if err != nil || !blocked {
		if err != nil {
			log.Warn().Err(err).Str("customer_id", id).Msg("block_card_store_error")
		}
		return Result{CallID: inv.Call.ID, Name: t.Name(), Text: "Failed to block card."}
	}
	return Result{CallID: inv.Call.ID, Name: t.Name(), Text: "Card blocked successfully."}
}

// ---------------------------------------------------------------------------
// mock servicing tools
// ---------------------------------------------------------------------------

type checkEligibilityTool struct{}

func (t *checkEligibilityTool) Name() string { return NameCheckEligibility }
func (t *checkEligibilityTool) Description() string {
	return "Checks eligibility for new accounts or products."
}
func (t *checkEligibilityTool) Parameters() map[string]interface{} {
	return objectParams(map[string]interface{}{
		"product_type": stringParam("Product to check, e.g. savings account"),
	}, "product_type")
}
func (t *checkEligibilityTool) Sensitive() bool { return false }

func (t *checkEligibilityTool) Execute(_ context.Context, inv Invocation) Result {
	product := inv.Call.StringArg("product_type")
	if product == "" {
		product = "the requested product"
	}
	return Result{CallID: inv.Call.ID, Name: t.Name(),
		Text: fmt.Sprintf("You are eligible for %s. We can proceed with scheduling an appointment.", product)}
}

type supportTicketTool struct{}

func (t *supportTicketTool) Name() string { return NameSupportTicket }
func (t *supportTicketTool) Description() string {
	return "Logs a support ticket for digital banking issues."
}
func (t *supportTicketTool) Parameters() map[string]interface{} {
	return objectParams(map[string]interface{}{
		"issue_type":  stringParam("Short issue category"),
		"description": stringParam("What the caller reported"),
	}, "issue_type", "description")
}
func (t *supportTicketTool) Sensitive() bool { return false }

func (t *supportTicketTool) Execute(_ context.Context, inv Invocation) Result {
	return Result{CallID: inv.Call.ID, Name: t.Name(),
		Text: fmt.Sprintf("Ticket created for %s: %s. IT will contact you shortly.",
			inv.Call.StringArg("issue_type"), inv.Call.StringArg("description"))}
}

type transferFundsTool struct {
	store *store.Store
}

func (t *transferFundsTool) Name() string { return NameTransferFunds }
func (t *transferFundsTool) Description() string {
	return "Initiates a funds transfer to a named beneficiary."
}
func (t *transferFundsTool) Parameters() map[string]interface{} {
	return objectParams(map[string]interface{}{
		"amount":      map[string]interface{}{"type": "number", "description": "Amount in dollars"},
		"beneficiary": stringParam("Beneficiary name"),
	}, "amount", "beneficiary")
}
func (t *transferFundsTool) Sensitive() bool { return true }

func (t *transferFundsTool) Execute(_ context.Context, inv Invocation) Result {
	if identityFor(inv) == "" {
		return Result{CallID: inv.Call.ID, Name: t.Name(), Text: MissingHandleText}
	}
	amount, _ := inv.Call.Arguments["amount"].(float64)
	beneficiary := inv.Call.StringArg("beneficiary")
	if amount <= 0 || beneficiary == "" {
		return Result{CallID: inv.Call.ID, Name: t.Name(), Text: "Transfer failed: a positive amount and a beneficiary are required."}
	}
	return Result{CallID: inv.Call.ID, Name: t.Name(),
		Text: fmt.Sprintf("Transfer of $%.2f to %s initiated successfully.", amount, beneficiary)}
}

type closeAccountRequestTool struct{}

func (t *closeAccountRequestTool) Name() string { return NameCloseAccountRequest }
func (t *closeAccountRequestTool) Description() string {
	return "Logs an account closure request for a retention specialist."
}
func (t *closeAccountRequestTool) Parameters() map[string]interface{} {
	return objectParams(map[string]interface{}{
		"reason": stringParam("Why the caller wants to close the account"),
	}, "reason")
}
func (t *closeAccountRequestTool) Sensitive() bool { return true }

func (t *closeAccountRequestTool) Execute(_ context.Context, inv Invocation) Result {
	if identityFor(inv) == "" {
		return Result{CallID: inv.Call.ID, Name: t.Name(), Text: MissingHandleText}
	}
	return Result{CallID: inv.Call.ID, Name: t.Name(),
		Text: fmt.Sprintf("Closure request logged. Reason: %s. A retention specialist will call you.",
			inv.Call.StringArg("reason"))}
}

// ---------------------------------------------------------------------------
// end_call — the termination tool. Pure marker; the session executor
// decides whether the call actually ends.
// ---------------------------------------------------------------------------

type endCallTool struct{}

func (t *endCallTool) Name() string { return NameEndCall }
func (t *endCallTool) Description() string {
	return "Ends the call. ONLY use this when the caller explicitly says goodbye or asks to hang up."
}
func (t *endCallTool) Parameters() map[string]interface{} {
	return objectParams(map[string]interface{}{})
}
func (t *endCallTool) Sensitive() bool { return false }

func (t *endCallTool) Execute(_ context.Context, inv Invocation) Result {
	return Result{CallID: inv.Call.ID, Name: t.Name(), Text: "Call terminated."}
}

// identityFor resolves the identity handle for an account tool: the
// session's verified handle wins; a model-supplied customer_id argument is
// accepted only when it matches. The generation service must never widen
// access by naming a different customer.
func identityFor(inv Invocation) string {
	if !inv.Verified {
		return ""
	}
	if inv.CustomerID == "" {
		// Verified, but the handle never made it out of the tool result.
		return ""
	}
	if arg := inv.Call.StringArg("customer_id"); arg != "" && arg != inv.CustomerID {
		return ""
	}
	return inv.CustomerID
}

func lookupFailText(err error) string {
	if errors.Is(err, store.ErrCustomerNotFound) {
		return "I could not find that account. Please re-verify the caller's identity."
	}
	return "Account lookup is temporarily unavailable. Please try again in a moment."
}

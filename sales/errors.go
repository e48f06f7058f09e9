package sales

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINELS
// =============================================================================

var (
	ErrInvalidProposal       = errors.New("invalid sale proposal")
	ErrInsufficientInventory = errors.New("insufficient inventory")
	ErrAmountMismatch        = errors.New("payment components do not match total")
	ErrCreditLimitExceeded   = errors.New("credit limit exceeded")
	ErrAdvanceExceeded       = errors.New("advance exceeds available balance")
	ErrUnclassifiedSale      = errors.New("sale cannot be classified")

	// ErrCommitFailed is wrapped by CommitError.
	ErrCommitFailed = errors.New("sale commit failed")
)

// IsValidationError reports whether err is a recoverable reconciliation
// failure. No record is written when one is returned.
func IsValidationError(err error) bool {
	for _, target := range []error{
		ErrInvalidProposal, ErrInsufficientInventory, ErrAmountMismatch,
		ErrCreditLimitExceeded, ErrAdvanceExceeded, ErrUnclassifiedSale,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// =============================================================================
// VALIDATION ERRORS
// =============================================================================

// InvalidProposalError reports a malformed request field.
type InvalidProposalError struct {
	Field  string
	Reason string
}

func (e *InvalidProposalError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *InvalidProposalError) Unwrap() error { return ErrInvalidProposal }

// InsufficientInventoryError reports a sale for more units than are in stock.
type InsufficientInventoryError struct {
	ProductKey string
	Requested  int64
	Available  int64
}

func (e *InsufficientInventoryError) Error() string {
	return fmt.Sprintf("insufficient inventory for %s: requested %d, available %d",
		e.ProductKey, e.Requested, e.Available)
}

func (e *InsufficientInventoryError) Unwrap() error { return ErrInsufficientInventory }

// AmountMismatchError reports payment components that do not add up to the total.
type AmountMismatchError struct {
	Expected decimal.Decimal
	Actual   decimal.Decimal
}

func (e *AmountMismatchError) Error() string {
	return fmt.Sprintf("payment components sum to %s, sale total is %s",
		e.Actual.StringFixed(2), e.Expected.StringFixed(2))
}

func (e *AmountMismatchError) Unwrap() error { return ErrAmountMismatch }

// CreditLimitExceededError reports a credit portion above what the client has left.
type CreditLimitExceededError struct {
	Requested decimal.Decimal
	Available decimal.Decimal
}

func (e *CreditLimitExceededError) Error() string {
	return fmt.Sprintf("credit requested %s exceeds available credit %s",
		e.Requested.StringFixed(2), e.Available.StringFixed(2))
}

func (e *CreditLimitExceededError) Unwrap() error { return ErrCreditLimitExceeded }

// AdvanceExceededError reports an advance application above the usable balance.
type AdvanceExceededError struct {
	Requested decimal.Decimal
	Available decimal.Decimal
}

func (e *AdvanceExceededError) Error() string {
	return fmt.Sprintf("advance applied %s exceeds usable advance %s",
		e.Requested.StringFixed(2), e.Available.StringFixed(2))
}

func (e *AdvanceExceededError) Unwrap() error { return ErrAdvanceExceeded }

// UnclassifiedSaleError reports a payment split that matches no sale type.
type UnclassifiedSaleError struct {
	Cash, Credit, Advance, Total decimal.Decimal
}

func (e *UnclassifiedSaleError) Error() string {
	return fmt.Sprintf("sale cannot be classified (cash %s, credit %s, advance %s, total %s)",
		e.Cash.StringFixed(2), e.Credit.StringFixed(2), e.Advance.StringFixed(2), e.Total.StringFixed(2))
}

func (e *UnclassifiedSaleError) Unwrap() error { return ErrUnclassifiedSale }

// =============================================================================
// COMMIT ERROR
// =============================================================================

// CommitError reports a persistence failure while writing an accepted sale.
// Applied lists the steps that were persisted before the failure. When the
// store is transactional RolledBack is set and nothing was persisted.
type CommitError struct {
	SaleID     string
	Step       CommitStep
	Applied    []CommitStep
	RolledBack bool
	Err        error
}

func (e *CommitError) Error() string {
	applied := "none"
	if len(e.Applied) > 0 {
		names := make([]string, len(e.Applied))
		for i, s := range e.Applied {
			names[i] = string(s)
		}
		applied = strings.Join(names, ",")
	}
	if e.RolledBack {
		return fmt.Sprintf("commit of sale %s failed at %s (rolled back): %v", e.SaleID, e.Step, e.Err)
	}
	return fmt.Sprintf("commit of sale %s failed at %s (applied: %s): %v", e.SaleID, e.Step, applied, e.Err)
}

func (e *CommitError) Unwrap() []error { return []error{ErrCommitFailed, e.Err} }

// =============================================================================
// CLASSIFICATION
// =============================================================================

// Reason returns a short machine-readable code for err, used for metrics
// labels and API error bodies. Unknown errors map to "internal".
func Reason(err error) string {
	var (
		invalid   *InvalidProposalError
		inventory *InsufficientInventoryError
		mismatch  *AmountMismatchError
		credit    *CreditLimitExceededError
		advance   *AdvanceExceededError
		unclass   *UnclassifiedSaleError
		commit    *CommitError
	)
	switch {
	case errors.As(err, &commit):
		// A lost stock race surfaces as an inventory rejection inside a commit.
		if errors.As(commit.Err, &inventory) {
			return "insufficient_inventory"
		}
		return "commit_failed"
	case errors.As(err, &invalid):
		return "invalid_proposal"
	case errors.As(err, &inventory):
		return "insufficient_inventory"
	case errors.As(err, &mismatch):
		return "amount_mismatch"
	case errors.As(err, &credit):
		return "credit_limit_exceeded"
	case errors.As(err, &advance):
		return "advance_exceeded"
	case errors.As(err, &unclass):
		return "unclassified_sale"
	}
	return "internal"
}

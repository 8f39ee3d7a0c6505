package ledger

import (
	"github.com/shopspring/decimal"

	"github.com/peertransfer/ledger/internal/models"
)

// checkTransfer runs the validation ladder against two resolved accounts.
// First failing check wins; callers must not have mutated anything yet.
func checkTransfer(from, to *models.Account, amount decimal.Decimal) error {
	if from.ID == to.ID {
		return ErrSelfTransfer
	}
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	if from.Balance.LessThan(amount) {
		return ErrInsufficientFunds
	}
	return nil
}

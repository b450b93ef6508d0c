package repository

import (
	"context"
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/prestapp/internal/lending"
	"github.com/MarcoPoloResearchLab/prestapp/internal/store"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	opPaymentAdd    = "payments.add"
	opPaymentUpdate = "payments.update"
	opPaymentDelete = "payments.delete"
	opPaymentGet    = "payments.get"
	opPaymentList   = "payments.list"
	opPaymentByLoan = "payments.list_by_loan"
	opPaymentWatch  = "payments.watch"
)

var errLoanMissing = errors.New("repository: loan not found")

// PaymentRepository records collected payments. A payment deleted while
// offline stays a local tombstone; reconciliation never deletes payments.
type PaymentRepository struct {
	commands *commands[store.PaymentRecord]
	store    *store.Store
}

// Add stores the payment and, in the same transaction, adds its amount to the
// loan's paid total. The loan keeps its own pending flag.
func (r *PaymentRepository) Add(ctx context.Context, loanID int64, amount decimal.Decimal, paidAt time.Time) (store.PaymentRecord, error) {
	payment, err := lending.NewPayment(loanID, amount, paidAt)
	if err != nil {
		return store.PaymentRecord{}, newCommandError(opPaymentAdd, "invalid_payment", err)
	}

	var stamped store.PaymentRecord
	err = r.store.Transaction(ctx, func(tx *store.Store) error {
		loan, err := tx.Loans.GetActive(ctx, loanID)
		if err != nil {
			return err
		}
		stamped, err = r.commands.stamp(ctx, tx.Payments, store.PaymentRecord{Payment: payment})
		if err != nil {
			return err
		}
		if err := tx.Payments.Insert(ctx, stamped); err != nil {
			return err
		}
		loan.Loan = loan.ApplyPayment(payment.Amount)
		return tx.Loans.Save(ctx, loan)
	})
	if errors.Is(err, store.ErrNotFound) {
		return store.PaymentRecord{}, newCommandError(opPaymentAdd, "loan_not_found", ErrNotFound)
	}
	if err != nil {
		r.commands.logError(opPaymentAdd, "transaction_failed", err, zap.Int64("loan_id", loanID))
		return store.PaymentRecord{}, newCommandError(opPaymentAdd, "transaction_failed", err)
	}
	return r.commands.syncAndReload(ctx, stamped), nil
}

// Update rewrites the payment and moves its amount on the loan totals: the
// old amount comes off the old loan and the new amount goes onto the new one.
func (r *PaymentRepository) Update(ctx context.Context, payment lending.Payment) (store.PaymentRecord, error) {
	valid, err := lending.NewPayment(payment.LoanID, payment.Amount, payment.PaidAt)
	if err != nil {
		return store.PaymentRecord{}, newCommandError(opPaymentUpdate, "invalid_payment", err)
	}
	valid.ID = payment.ID

	var updated store.PaymentRecord
	var commandErr error
	err = r.store.Transaction(ctx, func(tx *store.Store) error {
		previous, err := tx.Payments.GetActive(ctx, valid.ID)
		if err != nil {
			return err
		}
		if err := adjustLoan(ctx, tx, previous.LoanID, previous.Amount.Neg(), false); err != nil {
			return err
		}
		if err := adjustLoan(ctx, tx, valid.LoanID, valid.Amount, true); err != nil {
			return err
		}
		updated, commandErr = r.commands.overwrite(ctx, opPaymentUpdate, tx.Payments, store.PaymentRecord{Payment: valid})
		return commandErr
	})
	if commandErr != nil {
		return store.PaymentRecord{}, commandErr
	}
	if errors.Is(err, errLoanMissing) {
		return store.PaymentRecord{}, newCommandError(opPaymentUpdate, "loan_not_found", ErrNotFound)
	}
	if errors.Is(err, store.ErrNotFound) {
		return store.PaymentRecord{}, newCommandError(opPaymentUpdate, "not_found", ErrNotFound)
	}
	if err != nil {
		r.commands.logError(opPaymentUpdate, "transaction_failed", err, zap.Int64("id", valid.ID))
		return store.PaymentRecord{}, newCommandError(opPaymentUpdate, "transaction_failed", err)
	}
	return r.commands.syncAndReload(ctx, updated), nil
}

// Delete tombstones the payment and takes its amount back off the loan. When
// online the payment is deleted remotely right away; success or 404 removes
// the local row.
func (r *PaymentRepository) Delete(ctx context.Context, id int64) error {
	err := r.store.Transaction(ctx, func(tx *store.Store) error {
		payment, err := tx.Payments.GetActive(ctx, id)
		if err != nil {
			return err
		}
		if err := tx.Payments.MarkDeleted(ctx, id); err != nil {
			return err
		}
		return adjustLoan(ctx, tx, payment.LoanID, payment.Amount.Neg(), false)
	})
	if errors.Is(err, store.ErrNotFound) {
		return newCommandError(opPaymentDelete, "not_found", ErrNotFound)
	}
	if err != nil {
		r.commands.logError(opPaymentDelete, "transaction_failed", err, zap.Int64("id", id))
		return newCommandError(opPaymentDelete, "transaction_failed", err)
	}
	if r.commands.online.Connected() {
		r.commands.syncer.SyncRow(ctx, id)
	}
	return nil
}

// adjustLoan adds delta to the loan's paid total. A missing loan is an error
// only when required is set. The loan keeps its own pending flag.
func adjustLoan(ctx context.Context, tx *store.Store, loanID int64, delta decimal.Decimal, required bool) error {
	loan, err := tx.Loans.Get(ctx, loanID)
	if errors.Is(err, store.ErrNotFound) {
		if required {
			return errLoanMissing
		}
		return nil
	}
	if err != nil {
		return err
	}
	if required && loan.IsDeleted {
		return errLoanMissing
	}
	loan.Loan = loan.ApplyPayment(delta)
	return tx.Loans.Save(ctx, loan)
}

func (r *PaymentRepository) Get(ctx context.Context, id int64) (store.PaymentRecord, error) {
	return r.commands.get(ctx, opPaymentGet, id)
}

func (r *PaymentRepository) List(ctx context.Context) ([]store.PaymentRecord, error) {
	return r.commands.list(ctx, opPaymentList, "")
}

func (r *PaymentRepository) ListByLoan(ctx context.Context, loanID int64) ([]store.PaymentRecord, error) {
	return r.commands.list(ctx, opPaymentByLoan, "loan_id = ?", loanID)
}

// Watch streams the active payments after every local change.
func (r *PaymentRepository) Watch(ctx context.Context) <-chan []store.PaymentRecord {
	return r.commands.watch(ctx, opPaymentWatch, r.List)
}

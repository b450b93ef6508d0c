package repository

import (
	"context"
	"errors"
	"strings"

	"github.com/MarcoPoloResearchLab/prestapp/internal/lending"
	"github.com/MarcoPoloResearchLab/prestapp/internal/store"
)

const (
	opLoanAdd      = "loans.add"
	opLoanUpdate   = "loans.update"
	opLoanDelete   = "loans.delete"
	opLoanGet      = "loans.get"
	opLoanList     = "loans.list"
	opLoanByClient = "loans.list_by_client"
	opLoanByCedula = "loans.list_by_cedula"
	opLoanByRoute  = "loans.list_by_route"
	opLoanWatch    = "loans.watch"
)

// LoanRepository manages loans.
type LoanRepository struct {
	commands *commands[store.LoanRecord]
	clients  *store.Table[store.ClientRecord]
}

// Add creates a loan from terms. The client is linked by cedula when no
// client id is given.
func (r *LoanRepository) Add(ctx context.Context, terms lending.LoanTerms) (store.LoanRecord, error) {
	loan, err := lending.NewLoan(terms)
	if err != nil {
		return store.LoanRecord{}, newCommandError(opLoanAdd, "invalid_loan", err)
	}
	if loan.ClientID == 0 {
		clientID, err := r.clientIDByCedula(ctx, loan.Cedula)
		if errors.Is(err, store.ErrNotFound) {
			return store.LoanRecord{}, newCommandError(opLoanAdd, "client_not_found", ErrNotFound)
		}
		if err != nil {
			r.commands.logError(opLoanAdd, "client_lookup_failed", err)
			return store.LoanRecord{}, newCommandError(opLoanAdd, "client_lookup_failed", err)
		}
		loan.ClientID = clientID
	}
	return r.commands.add(ctx, opLoanAdd, store.LoanRecord{Loan: loan})
}

// Update rewrites the loan terms. The paid amount is owned by payments and
// is carried over from the stored row; the installment and paid flag are recomputed.
func (r *LoanRepository) Update(ctx context.Context, loan lending.Loan) (store.LoanRecord, error) {
	existing, err := r.commands.get(ctx, opLoanUpdate, loan.ID)
	if err != nil {
		return store.LoanRecord{}, err
	}
	terms, err := lending.NewLoan(lending.LoanTerms{
		ClientID:         loan.ClientID,
		Cedula:           loan.Cedula,
		RouteID:          loan.RouteID,
		Principal:        loan.Principal,
		InterestRate:     loan.InterestRate,
		Installments:     loan.Installments,
		PaymentFrequency: loan.PaymentFrequency,
		IssuedAt:         loan.IssuedAt,
	})
	if err != nil {
		return store.LoanRecord{}, newCommandError(opLoanUpdate, "invalid_loan", err)
	}
	terms.ID = loan.ID
	terms.AmountPaid = existing.AmountPaid
	terms.IsPaid = lending.IsFullyPaid(terms.AmountPaid, terms.Principal, terms.InterestRate)
	return r.commands.update(ctx, opLoanUpdate, store.LoanRecord{Loan: terms})
}

func (r *LoanRepository) Delete(ctx context.Context, id int64) error {
	return r.commands.remove(ctx, opLoanDelete, id)
}

func (r *LoanRepository) Get(ctx context.Context, id int64) (store.LoanRecord, error) {
	return r.commands.get(ctx, opLoanGet, id)
}

func (r *LoanRepository) List(ctx context.Context) ([]store.LoanRecord, error) {
	return r.commands.list(ctx, opLoanList, "")
}

func (r *LoanRepository) ListByClient(ctx context.Context, clientID int64) ([]store.LoanRecord, error) {
	return r.commands.list(ctx, opLoanByClient, "client_id = ?", clientID)
}

func (r *LoanRepository) ListByCedula(ctx context.Context, cedula string) ([]store.LoanRecord, error) {
	return r.commands.list(ctx, opLoanByCedula, "cedula = ?", strings.TrimSpace(cedula))
}

func (r *LoanRepository) ListByRoute(ctx context.Context, routeID int64) ([]store.LoanRecord, error) {
	return r.commands.list(ctx, opLoanByRoute, "route_id = ?", routeID)
}

// Watch streams the active loans after every local change.
func (r *LoanRepository) Watch(ctx context.Context) <-chan []store.LoanRecord {
	return r.commands.watch(ctx, opLoanWatch, r.List)
}

func (r *LoanRepository) clientIDByCedula(ctx context.Context, cedula string) (int64, error) {
	return ClientIDByCedula(ctx, r.clients, cedula)
}

// ClientIDByCedula resolves the local id of the active client holding cedula.
func ClientIDByCedula(ctx context.Context, clients *store.Table[store.ClientRecord], cedula string) (int64, error) {
	rows, err := clients.ListActiveWhere(ctx, "cedula = ?", strings.TrimSpace(cedula))
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, store.ErrNotFound
	}
	return rows[0].ID, nil
}

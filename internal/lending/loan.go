package lending

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const installmentScale = 2

// Payment frequencies accepted for new loans.
const (
	FrequencyDaily    = "Diario"
	FrequencyWeekly   = "Semanal"
	FrequencyBiweekly = "Quincenal"
	FrequencyMonthly  = "Mensual"
)

// LoanTerms carries the caller-supplied fields of a new loan.
type LoanTerms struct {
	ClientID         int64
	Cedula           string
	RouteID          int64
	Principal        decimal.Decimal
	InterestRate     decimal.Decimal
	Installments     int
	PaymentFrequency string
	IssuedAt         time.Time
}

// NewLoan validates the terms and derives the installment amount.
func NewLoan(terms LoanTerms) (Loan, error) {
	cedula := strings.TrimSpace(terms.Cedula)
	if cedula == "" {
		return Loan{}, ErrMissingCedula
	}
	if !terms.Principal.IsPositive() {
		return Loan{}, ErrInvalidPrincipal
	}
	if terms.InterestRate.IsNegative() {
		return Loan{}, ErrInvalidInterestRate
	}
	if terms.Installments <= 0 {
		return Loan{}, ErrInvalidInstallments
	}
	frequency := strings.TrimSpace(terms.PaymentFrequency)
	if frequency == "" {
		frequency = FrequencyWeekly
	}
	issuedAt := terms.IssuedAt
	if issuedAt.IsZero() {
		issuedAt = time.Now()
	}

	loan := Loan{
		ClientID:         terms.ClientID,
		Cedula:           cedula,
		RouteID:          terms.RouteID,
		Principal:        terms.Principal,
		InterestRate:     terms.InterestRate,
		Installments:     terms.Installments,
		AmountPaid:       decimal.Zero,
		PaymentFrequency: frequency,
		IssuedAt:         issuedAt.UTC(),
	}
	loan.InstallmentAmount = InstallmentAmount(loan.Principal, loan.InterestRate, loan.Installments)
	return loan, nil
}

// TotalDue is principal plus principal times interest rate.
func (l Loan) TotalDue() decimal.Decimal {
	return TotalDue(l.Principal, l.InterestRate)
}

// Outstanding is what remains to be collected, never below zero.
func (l Loan) Outstanding() decimal.Decimal {
	remaining := l.TotalDue().Sub(l.AmountPaid)
	if remaining.IsNegative() {
		return decimal.Zero
	}
	return remaining
}

// ApplyPayment adds amount to the paid-to-date total and recomputes IsPaid.
func (l Loan) ApplyPayment(amount decimal.Decimal) Loan {
	l.AmountPaid = l.AmountPaid.Add(amount)
	l.IsPaid = IsFullyPaid(l.AmountPaid, l.Principal, l.InterestRate)
	return l
}

// TotalDue computes principal + principal*rate without rounding.
func TotalDue(principal, rate decimal.Decimal) decimal.Decimal {
	return principal.Add(principal.Mul(rate))
}

// InstallmentAmount splits the total due evenly, rounded to cents.
func InstallmentAmount(principal, rate decimal.Decimal, installments int) decimal.Decimal {
	if installments <= 0 {
		return decimal.Zero
	}
	return TotalDue(principal, rate).DivRound(decimal.NewFromInt(int64(installments)), installmentScale)
}

// IsFullyPaid reports whether paid covers the total due.
func IsFullyPaid(paid, principal, rate decimal.Decimal) bool {
	return paid.Cmp(TotalDue(principal, rate)) >= 0
}

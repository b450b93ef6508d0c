package lending

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrMissingName         = errors.New("lending: name is required")
	ErrMissingCedula       = errors.New("lending: cedula is required")
	ErrMissingAddress      = errors.New("lending: address is required")
	ErrMissingMobile       = errors.New("lending: mobile number is required")
	ErrInvalidPrincipal    = errors.New("lending: principal must be positive")
	ErrInvalidInterestRate = errors.New("lending: interest rate must not be negative")
	ErrInvalidInstallments = errors.New("lending: installments must be positive")
	ErrInvalidAmount       = errors.New("lending: payment amount must be positive")
	ErrMissingLoan         = errors.New("lending: loan reference is required")
)

// NewRoute validates and normalizes a route.
func NewRoute(name string, description *string) (Route, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return Route{}, ErrMissingName
	}
	return Route{Name: trimmed, Description: normalizeOptional(description)}, nil
}

// Validate checks the fields every stored client must carry.
func (c Client) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return ErrMissingName
	}
	if strings.TrimSpace(c.Cedula) == "" {
		return ErrMissingCedula
	}
	if strings.TrimSpace(c.Address) == "" {
		return ErrMissingAddress
	}
	if strings.TrimSpace(c.Mobile) == "" {
		return ErrMissingMobile
	}
	return nil
}

// Normalize trims text fields and clears empty optionals.
func (c Client) Normalize() Client {
	c.Name = strings.TrimSpace(c.Name)
	c.Cedula = strings.TrimSpace(c.Cedula)
	c.Address = strings.TrimSpace(c.Address)
	c.Mobile = strings.TrimSpace(c.Mobile)
	c.Nickname = normalizeOptional(c.Nickname)
	c.BusinessReference = normalizeOptional(c.BusinessReference)
	c.Phone = normalizeOptional(c.Phone)
	c.Photo = normalizeOptional(c.Photo)
	return c
}

// NewPayment validates a payment against a loan reference.
func NewPayment(loanID int64, amount decimal.Decimal, paidAt time.Time) (Payment, error) {
	if loanID == 0 {
		return Payment{}, ErrMissingLoan
	}
	if !amount.IsPositive() {
		return Payment{}, ErrInvalidAmount
	}
	if paidAt.IsZero() {
		paidAt = time.Now()
	}
	return Payment{LoanID: loanID, Amount: amount, PaidAt: paidAt.UTC()}, nil
}

// SameDescription compares optional descriptions treating nil and blank as equal.
func SameDescription(left, right *string) bool {
	return optionalValue(left) == optionalValue(right)
}

func normalizeOptional(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func optionalValue(value *string) string {
	if value == nil {
		return ""
	}
	return strings.TrimSpace(*value)
}

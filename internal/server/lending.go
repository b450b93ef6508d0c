package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/MarcoPoloResearchLab/prestapp/internal/lending"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var errUnknownLoan = rejection{status: http.StatusBadRequest, code: "unknown_loan"}

func validateRoute(route lending.Route) error {
	_, err := lending.NewRoute(route.Name, route.Description)
	return err
}

func validateClient(client lending.Client) error {
	return client.Normalize().Validate()
}

func validateLoan(loan lending.Loan) error {
	if strings.TrimSpace(loan.Cedula) == "" {
		return lending.ErrMissingCedula
	}
	if !loan.Principal.IsPositive() {
		return lending.ErrInvalidPrincipal
	}
	if loan.InterestRate.IsNegative() {
		return lending.ErrInvalidInterestRate
	}
	if loan.Installments <= 0 {
		return lending.ErrInvalidInstallments
	}
	return nil
}

func validatePayment(payment lending.Payment) error {
	_, err := lending.NewPayment(payment.LoanID, payment.Amount, payment.PaidAt)
	return err
}

// linkLoanClient points the loan at the stored client holding its cedula.
// Loans for an unknown cedula keep the client id they were sent with.
func linkLoanClient(tx *gorm.DB, loan *lending.Loan) error {
	var client lending.Client
	err := tx.Where("cedula = ?", strings.TrimSpace(loan.Cedula)).Order("id").First(&client).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	loan.ClientID = client.ID
	return nil
}

// prepareLoanCreate starts the loan with nothing paid; payments posted
// afterwards accumulate into it.
func prepareLoanCreate(tx *gorm.DB, loan *lending.Loan) error {
	loan.AmountPaid = decimal.Zero
	loan.IsPaid = lending.IsFullyPaid(loan.AmountPaid, loan.Principal, loan.InterestRate)
	return linkLoanClient(tx, loan)
}

// prepareLoanUpdate keeps the stored paid amount, which only payments change.
func prepareLoanUpdate(tx *gorm.DB, loan *lending.Loan) error {
	var stored lending.Loan
	if err := tx.Where("id = ?", loan.ID).First(&stored).Error; err != nil {
		return err
	}
	loan.AmountPaid = stored.AmountPaid
	loan.IsPaid = lending.IsFullyPaid(loan.AmountPaid, loan.Principal, loan.InterestRate)
	return linkLoanClient(tx, loan)
}

// applyPaymentToLoan adds the payment to its loan's paid total.
func applyPaymentToLoan(tx *gorm.DB, payment *lending.Payment) error {
	return addToLoanPaid(tx, payment.LoanID, payment.Amount, true)
}

// movePaymentOnLoans takes the stored amount off the stored loan and adds the
// new amount to the loan the payment now references.
func movePaymentOnLoans(tx *gorm.DB, payment *lending.Payment) error {
	var stored lending.Payment
	if err := tx.Where("id = ?", payment.ID).First(&stored).Error; err != nil {
		return err
	}
	if err := addToLoanPaid(tx, stored.LoanID, stored.Amount.Neg(), false); err != nil {
		return err
	}
	return addToLoanPaid(tx, payment.LoanID, payment.Amount, true)
}

// reversePaymentOnLoan takes a deleted payment back off its loan.
func reversePaymentOnLoan(tx *gorm.DB, id int64) error {
	var stored lending.Payment
	if err := tx.Where("id = ?", id).First(&stored).Error; err != nil {
		return err
	}
	return addToLoanPaid(tx, stored.LoanID, stored.Amount.Neg(), false)
}

// addToLoanPaid moves the loan's paid total by delta. A missing loan is
// rejected only when required is set.
func addToLoanPaid(tx *gorm.DB, loanID int64, delta decimal.Decimal, required bool) error {
	var loan lending.Loan
	err := tx.Where("id = ?", loanID).First(&loan).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		if required {
			return errUnknownLoan
		}
		return nil
	}
	if err != nil {
		return err
	}
	loan = loan.ApplyPayment(delta)
	return tx.Model(&lending.Loan{}).
		Where("id = ?", loan.ID).
		Updates(map[string]any{
			"amount_paid": loan.AmountPaid,
			"is_paid":     loan.IsPaid,
		}).
		Error
}

func findClientByCedula(db *gorm.DB, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		cedula := strings.TrimSpace(c.Param("cedula"))
		if cedula == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_cedula"})
			return
		}
		var client lending.Client
		err := db.WithContext(c.Request.Context()).Where("cedula = ?", cedula).Order("id").First(&client).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
			return
		}
		if err != nil {
			logger.Error("failed to find client by cedula", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup_failed"})
			return
		}
		c.JSON(http.StatusOK, client)
	}
}

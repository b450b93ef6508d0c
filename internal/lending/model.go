package lending

import (
	"time"

	"github.com/shopspring/decimal"
)

// Route groups clients and loans collected along the same itinerary.
type Route struct {
	ID          int64   `json:"rutaID" gorm:"column:id;primaryKey"`
	Name        string  `json:"nombre" gorm:"column:name;size:190;not null"`
	Description *string `json:"descripcion" gorm:"column:description;size:512"`
}

// TableName exposes the table backing routes.
func (Route) TableName() string {
	return "rutas"
}

// Client is a borrower identified by the national id (cedula).
type Client struct {
	ID                int64           `json:"clienteID" gorm:"column:id;primaryKey"`
	Name              string          `json:"nombre" gorm:"column:name;size:190;not null"`
	Nickname          *string         `json:"apodo" gorm:"column:nickname;size:190"`
	BusinessReference *string         `json:"negocioReferencia" gorm:"column:business_reference;size:190"`
	Address           string          `json:"direccion" gorm:"column:address;size:512;not null"`
	Phone             *string         `json:"telefono" gorm:"column:phone;size:32"`
	Mobile            string          `json:"celular" gorm:"column:mobile;size:32;not null"`
	Cedula            string          `json:"cedula" gorm:"column:cedula;size:32;not null;index"`
	Photo             *string         `json:"foto" gorm:"column:photo"`
	Balance           decimal.Decimal `json:"balance" gorm:"column:balance;type:text;not null"`
	UpToDate          bool            `json:"estaAlDia" gorm:"column:up_to_date;not null"`
}

// TableName exposes the table backing clients.
func (Client) TableName() string {
	return "clientes"
}

// Loan is a principal lent to a client and repaid in installments.
// InterestRate is a fraction of the principal (0.30 means thirty percent).
type Loan struct {
	ID                int64           `json:"prestamoID" gorm:"column:id;primaryKey"`
	ClientID          int64           `json:"clienteID" gorm:"column:client_id;not null;index"`
	Cedula            string          `json:"cedula" gorm:"column:cedula;size:32;not null;index"`
	Principal         decimal.Decimal `json:"capital" gorm:"column:principal;type:text;not null"`
	Installments      int             `json:"cuotas" gorm:"column:installments;not null"`
	InterestRate      decimal.Decimal `json:"interes" gorm:"column:interest_rate;type:text;not null"`
	InstallmentAmount decimal.Decimal `json:"montoCuota" gorm:"column:installment_amount;type:text;not null"`
	AmountPaid        decimal.Decimal `json:"montoPagado" gorm:"column:amount_paid;type:text;not null"`
	IsPaid            bool            `json:"estaPagado" gorm:"column:is_paid;not null"`
	IssuedAt          time.Time       `json:"fechaPrestamo" gorm:"column:issued_at;not null"`
	PaymentFrequency  string          `json:"formaPago" gorm:"column:payment_frequency;size:32;not null"`
	RouteID           int64           `json:"rutaID" gorm:"column:route_id;not null;index"`
}

// TableName exposes the table backing loans.
func (Loan) TableName() string {
	return "prestamos"
}

// Payment is a single amount collected against a loan.
type Payment struct {
	ID     int64           `json:"pagoID" gorm:"column:id;primaryKey"`
	LoanID int64           `json:"prestamoID" gorm:"column:loan_id;not null;index"`
	Amount decimal.Decimal `json:"monto" gorm:"column:amount;type:text;not null"`
	PaidAt time.Time       `json:"fechaPago" gorm:"column:paid_at;not null"`
}

// TableName exposes the table backing payments.
func (Payment) TableName() string {
	return "pagos"
}

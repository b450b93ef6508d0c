package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/prestapp/internal/auth"
	"github.com/MarcoPoloResearchLab/prestapp/internal/lending"
	"github.com/MarcoPoloResearchLab/prestapp/internal/users"
	sqlite "github.com/glebarez/sqlite"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

func newTestHandler(t *testing.T, requireToken bool) (http.Handler, *gorm.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "server.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(Models()...); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}
	accounts, err := users.NewService(users.ServiceConfig{Database: db, Cost: bcrypt.MinCost})
	if err != nil {
		t.Fatalf("failed to create users service: %v", err)
	}
	tokens, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte("test-secret"),
		Issuer:        auth.DefaultIssuer,
		Audience:      auth.DefaultAudience,
		TokenTTL:      time.Hour,
	})
	if err != nil {
		t.Fatalf("failed to create token issuer: %v", err)
	}
	handler, err := NewHTTPHandler(Dependencies{
		Database:     db,
		Users:        accounts,
		TokenManager: tokens,
		RequireToken: requireToken,
	})
	if err != nil {
		t.Fatalf("failed to build handler: %v", err)
	}
	return handler, db
}

func performJSON(t *testing.T, handler http.Handler, method, path string, body any, token string) *httptest.ResponseRecorder {
	t.Helper()
	var payload bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&payload).Encode(body); err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
	}
	request := httptest.NewRequest(method, path, &payload)
	request.Header.Set("Content-Type", "application/json")
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	return recorder
}

func decodeBody[T any](t *testing.T, recorder *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(recorder.Body.Bytes(), &out); err != nil {
		t.Fatalf("failed to decode response %q: %v", recorder.Body.String(), err)
	}
	return out
}

func stringPtr(value string) *string {
	return &value
}

func TestRouteCollectionLifecycle(t *testing.T) {
	handler, _ := newTestHandler(t, false)

	created := performJSON(t, handler, http.MethodPost, "/api/Rutas", lending.Route{ID: -3, Name: "Centro", Description: stringPtr("Mercado")}, "")
	if created.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", created.Code, created.Body.String())
	}
	route := decodeBody[lending.Route](t, created)
	if route.ID <= 0 {
		t.Fatalf("expected server-assigned positive id, got %d", route.ID)
	}

	route.Name = "Centro Norte"
	updated := performJSON(t, handler, http.MethodPut, "/api/Rutas/"+itoa(route.ID), route, "")
	if updated.Code != http.StatusNoContent {
		t.Fatalf("expected 204 on update, got %d", updated.Code)
	}

	fetched := performJSON(t, handler, http.MethodGet, "/api/Rutas/"+itoa(route.ID), nil, "")
	if fetched.Code != http.StatusOK {
		t.Fatalf("expected 200 on get, got %d", fetched.Code)
	}
	if got := decodeBody[lending.Route](t, fetched); got.Name != "Centro Norte" {
		t.Fatalf("expected updated name, got %q", got.Name)
	}

	listed := decodeBody[[]lending.Route](t, performJSON(t, handler, http.MethodGet, "/api/Rutas", nil, ""))
	if len(listed) != 1 {
		t.Fatalf("expected one route, got %d", len(listed))
	}

	if code := performJSON(t, handler, http.MethodDelete, "/api/Rutas/"+itoa(route.ID), nil, "").Code; code != http.StatusNoContent {
		t.Fatalf("expected 204 on delete, got %d", code)
	}
	if code := performJSON(t, handler, http.MethodDelete, "/api/Rutas/"+itoa(route.ID), nil, "").Code; code != http.StatusNotFound {
		t.Fatalf("expected 404 on repeated delete, got %d", code)
	}
	if code := performJSON(t, handler, http.MethodPut, "/api/Rutas/"+itoa(route.ID), route, "").Code; code != http.StatusNotFound {
		t.Fatalf("expected 404 when updating a missing route, got %d", code)
	}
	if code := performJSON(t, handler, http.MethodGet, "/api/Rutas/"+itoa(route.ID), nil, "").Code; code != http.StatusNotFound {
		t.Fatalf("expected 404 when reading a missing route, got %d", code)
	}
}

func TestRouteCollectionRejectsInvalidPayloads(t *testing.T) {
	handler, _ := newTestHandler(t, false)

	if code := performJSON(t, handler, http.MethodPost, "/api/Rutas", lending.Route{Name: "  "}, "").Code; code != http.StatusBadRequest {
		t.Fatalf("expected 400 for blank name, got %d", code)
	}
	if code := performJSON(t, handler, http.MethodGet, "/api/Rutas/abc", nil, "").Code; code != http.StatusBadRequest {
		t.Fatalf("expected 400 for non-numeric id, got %d", code)
	}
}

func TestClientLookupByCedula(t *testing.T) {
	handler, _ := newTestHandler(t, false)

	client := lending.Client{
		Name:    "Ana",
		Address: "Calle 1",
		Mobile:  "8095550000",
		Cedula:  "001-0000001-1",
		Balance: decimal.Zero,
	}
	created := performJSON(t, handler, http.MethodPost, "/api/Clientes", client, "")
	if created.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", created.Code, created.Body.String())
	}
	stored := decodeBody[lending.Client](t, created)

	found := performJSON(t, handler, http.MethodGet, "/api/Clientes/cedula/001-0000001-1", nil, "")
	if found.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", found.Code)
	}
	if got := decodeBody[lending.Client](t, found); got.ID != stored.ID {
		t.Fatalf("expected client %d, got %d", stored.ID, got.ID)
	}

	if code := performJSON(t, handler, http.MethodGet, "/api/Clientes/cedula/999", nil, "").Code; code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown cedula, got %d", code)
	}
}

func TestPaymentCreateUpdatesLoan(t *testing.T) {
	handler, db := newTestHandler(t, false)

	client := decodeBody[lending.Client](t, performJSON(t, handler, http.MethodPost, "/api/Clientes", lending.Client{
		Name:    "Ana",
		Address: "Calle 1",
		Mobile:  "8095550000",
		Cedula:  "001",
	}, ""))

	loan, err := lending.NewLoan(lending.LoanTerms{
		ClientID:     -4,
		Cedula:       "001",
		RouteID:      1,
		Principal:    decimal.RequireFromString("1000.00"),
		InterestRate: decimal.RequireFromString("0.30"),
		Installments: 3,
	})
	if err != nil {
		t.Fatalf("failed to build loan: %v", err)
	}
	createdLoan := performJSON(t, handler, http.MethodPost, "/api/Prestamos", loan, "")
	if createdLoan.Code != http.StatusCreated {
		t.Fatalf("expected 201 for loan, got %d: %s", createdLoan.Code, createdLoan.Body.String())
	}
	storedLoan := decodeBody[lending.Loan](t, createdLoan)
	if storedLoan.ClientID != client.ID {
		t.Fatalf("expected loan linked to client %d by cedula, got %d", client.ID, storedLoan.ClientID)
	}

	for i := 0; i < 3; i++ {
		payment := lending.Payment{LoanID: storedLoan.ID, Amount: decimal.RequireFromString("433.33"), PaidAt: time.Now()}
		if code := performJSON(t, handler, http.MethodPost, "/api/Pagos", payment, "").Code; code != http.StatusCreated {
			t.Fatalf("expected 201 for payment %d, got %d", i, code)
		}
	}

	var reloaded lending.Loan
	if err := db.Where("id = ?", storedLoan.ID).First(&reloaded).Error; err != nil {
		t.Fatalf("failed to reload loan: %v", err)
	}
	if !reloaded.AmountPaid.Equal(decimal.RequireFromString("1299.99")) {
		t.Fatalf("expected 1299.99 paid, got %s", reloaded.AmountPaid)
	}
	if reloaded.IsPaid {
		t.Fatalf("expected loan to remain unpaid one cent short")
	}

	orphan := lending.Payment{LoanID: 999, Amount: decimal.RequireFromString("10"), PaidAt: time.Now()}
	if code := performJSON(t, handler, http.MethodPost, "/api/Pagos", orphan, "").Code; code != http.StatusBadRequest {
		t.Fatalf("expected 400 for payment on unknown loan, got %d", code)
	}
}

func TestRegisterLoginAndProtectedCollections(t *testing.T) {
	handler, _ := newTestHandler(t, true)

	if code := performJSON(t, handler, http.MethodGet, "/api/health", nil, "").Code; code != http.StatusOK {
		t.Fatalf("expected health to stay public, got %d", code)
	}
	if code := performJSON(t, handler, http.MethodGet, "/api/Rutas", nil, "").Code; code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", code)
	}

	registered := performJSON(t, handler, http.MethodPost, "/api/Users/register", registerRequestPayload{
		Username: "cobrador",
		Password: "secreto1",
	}, "")
	if registered.Code != http.StatusCreated {
		t.Fatalf("expected 201 on register, got %d: %s", registered.Code, registered.Body.String())
	}
	if code := performJSON(t, handler, http.MethodPost, "/api/Users/register", registerRequestPayload{
		Username: "cobrador",
		Password: "secreto2",
	}, "").Code; code != http.StatusConflict {
		t.Fatalf("expected 409 on duplicate register, got %d", code)
	}

	if code := performJSON(t, handler, http.MethodPost, "/api/Users/login", loginRequestPayload{
		Username: "cobrador",
		Password: "incorrecta",
	}, "").Code; code != http.StatusUnauthorized {
		t.Fatalf("expected 401 on wrong password, got %d", code)
	}

	login := performJSON(t, handler, http.MethodPost, "/api/Users/login", loginRequestPayload{
		Username: "cobrador",
		Password: "secreto1",
	}, "")
	if login.Code != http.StatusOK {
		t.Fatalf("expected 200 on login, got %d", login.Code)
	}
	response := decodeBody[authResponsePayload](t, login)
	if response.AccessToken == "" || response.TokenType != tokenType {
		t.Fatalf("unexpected auth response %+v", response)
	}

	if code := performJSON(t, handler, http.MethodGet, "/api/Rutas", nil, response.AccessToken).Code; code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", code)
	}
}

func TestLoanWritesIgnoreClientPaidAmount(t *testing.T) {
	handler, db := newTestHandler(t, false)

	loan, err := lending.NewLoan(lending.LoanTerms{
		Cedula:       "004",
		Principal:    decimal.RequireFromString("500"),
		InterestRate: decimal.RequireFromString("0.20"),
		Installments: 6,
	})
	if err != nil {
		t.Fatalf("failed to build loan: %v", err)
	}
	loan.AmountPaid = decimal.RequireFromString("600")
	loan.IsPaid = true

	created := decodeBody[lending.Loan](t, performJSON(t, handler, http.MethodPost, "/api/Prestamos", loan, ""))
	if !created.AmountPaid.IsZero() || created.IsPaid {
		t.Fatalf("expected a new loan to start unpaid, got %s paid=%v", created.AmountPaid, created.IsPaid)
	}

	payment := lending.Payment{LoanID: created.ID, Amount: decimal.RequireFromString("100"), PaidAt: time.Now()}
	if code := performJSON(t, handler, http.MethodPost, "/api/Pagos", payment, "").Code; code != http.StatusCreated {
		t.Fatalf("expected 201 for payment, got %d", code)
	}

	created.Installments = 4
	created.AmountPaid = decimal.Zero
	if code := performJSON(t, handler, http.MethodPut, "/api/Prestamos/"+itoa(created.ID), created, "").Code; code != http.StatusNoContent {
		t.Fatalf("expected 204 on loan update, got %d", code)
	}

	var reloaded lending.Loan
	if err := db.Where("id = ?", created.ID).First(&reloaded).Error; err != nil {
		t.Fatalf("failed to reload loan: %v", err)
	}
	if reloaded.Installments != 4 {
		t.Fatalf("expected installments to update, got %d", reloaded.Installments)
	}
	if !reloaded.AmountPaid.Equal(decimal.RequireFromString("100")) {
		t.Fatalf("expected paid amount to stay at 100, got %s", reloaded.AmountPaid)
	}
}

func TestPaymentUpdateAndDeleteMoveLoanTotal(t *testing.T) {
	handler, db := newTestHandler(t, false)

	loan, err := lending.NewLoan(lending.LoanTerms{
		Cedula:       "005",
		Principal:    decimal.RequireFromString("300"),
		InterestRate: decimal.Zero,
		Installments: 3,
	})
	if err != nil {
		t.Fatalf("failed to build loan: %v", err)
	}
	storedLoan := decodeBody[lending.Loan](t, performJSON(t, handler, http.MethodPost, "/api/Prestamos", loan, ""))

	paidOn := func() decimal.Decimal {
		t.Helper()
		var reloaded lending.Loan
		if err := db.Where("id = ?", storedLoan.ID).First(&reloaded).Error; err != nil {
			t.Fatalf("failed to reload loan: %v", err)
		}
		return reloaded.AmountPaid
	}

	created := performJSON(t, handler, http.MethodPost, "/api/Pagos", lending.Payment{
		LoanID: storedLoan.ID,
		Amount: decimal.RequireFromString("100"),
		PaidAt: time.Now(),
	}, "")
	if created.Code != http.StatusCreated {
		t.Fatalf("expected 201 for payment, got %d", created.Code)
	}
	payment := decodeBody[lending.Payment](t, created)

	payment.Amount = decimal.RequireFromString("150.50")
	if code := performJSON(t, handler, http.MethodPut, "/api/Pagos/"+itoa(payment.ID), payment, "").Code; code != http.StatusNoContent {
		t.Fatalf("expected 204 on payment update, got %d", code)
	}
	if got := paidOn(); !got.Equal(decimal.RequireFromString("150.50")) {
		t.Fatalf("expected 150.50 paid after update, got %s", got)
	}

	if code := performJSON(t, handler, http.MethodDelete, "/api/Pagos/"+itoa(payment.ID), nil, "").Code; code != http.StatusNoContent {
		t.Fatalf("expected 204 on payment delete, got %d", code)
	}
	if got := paidOn(); !got.IsZero() {
		t.Fatalf("expected nothing paid after delete, got %s", got)
	}
	if code := performJSON(t, handler, http.MethodDelete, "/api/Pagos/"+itoa(payment.ID), nil, "").Code; code != http.StatusNotFound {
		t.Fatalf("expected 404 on repeated payment delete, got %d", code)
	}
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}

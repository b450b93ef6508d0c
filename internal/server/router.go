package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/prestapp/internal/lending"
	"github.com/MarcoPoloResearchLab/prestapp/internal/users"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	userIDContextKey = "prestapp_user_id"
	tokenType        = "Bearer"
)

var (
	errMissingDatabase      = errors.New("database dependency required")
	errMissingUsersService  = errors.New("users service dependency required")
	errMissingTokenManager  = errors.New("token manager dependency required")
	errInvalidAuthorization = errors.New("authorization header missing or invalid")
)

// TokenManager issues and validates login tokens.
type TokenManager interface {
	IssueToken(ctx context.Context, subject string) (string, int64, error)
	ValidateToken(token string) (string, error)
}

// Dependencies wires the remote service.
type Dependencies struct {
	Database     *gorm.DB
	Users        *users.Service
	TokenManager TokenManager
	// RequireToken guards the collection endpoints with a bearer token.
	RequireToken bool
	Logger       *zap.Logger
}

// Models lists the tables owned by the remote service.
func Models() []any {
	return []any{
		&lending.Route{},
		&lending.Client{},
		&lending.Loan{},
		&lending.Payment{},
		&users.Account{},
	}
}

// NewHTTPHandler builds the gin router serving the collection API.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Database == nil {
		return nil, errMissingDatabase
	}
	if deps.Users == nil {
		return nil, errMissingUsersService
	}
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	handler := &httpHandler{
		users:  deps.Users,
		tokens: deps.TokenManager,
		logger: logger,
	}

	router.GET("/api/health", handler.handleHealth)
	router.POST("/api/Users/register", handler.handleRegister)
	router.POST("/api/Users/login", handler.handleLogin)

	api := router.Group("/api")
	if deps.RequireToken {
		api.Use(handler.authorizeRequest)
	}

	routes := newCollection[lending.Route](deps.Database, "rutas", logger, collectionHooks[lending.Route]{
		setID:    func(route *lending.Route, id int64) { route.ID = id },
		validate: validateRoute,
	})
	routes.register(api.Group("/Rutas"))

	clients := newCollection[lending.Client](deps.Database, "clientes", logger, collectionHooks[lending.Client]{
		setID:    func(client *lending.Client, id int64) { client.ID = id },
		validate: validateClient,
	})
	clientGroup := api.Group("/Clientes")
	clientGroup.GET("/cedula/:cedula", findClientByCedula(deps.Database, logger))
	clients.register(clientGroup)

	loans := newCollection[lending.Loan](deps.Database, "prestamos", logger, collectionHooks[lending.Loan]{
		setID:        func(loan *lending.Loan, id int64) { loan.ID = id },
		validate:     validateLoan,
		beforeCreate: prepareLoanCreate,
		beforeUpdate: prepareLoanUpdate,
	})
	loans.register(api.Group("/Prestamos"))

	payments := newCollection[lending.Payment](deps.Database, "pagos", logger, collectionHooks[lending.Payment]{
		setID:        func(payment *lending.Payment, id int64) { payment.ID = id },
		validate:     validatePayment,
		beforeCreate: applyPaymentToLoan,
		beforeUpdate: movePaymentOnLoans,
		beforeDelete: reversePaymentOnLoan,
	})
	payments.register(api.Group("/Pagos"))

	return router, nil
}

func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodDelete,
			http.MethodOptions,
		},
		AllowHeaders: []string{"Authorization", "Content-Type", "Accept"},
		MaxAge:       12 * time.Hour,
	})
}

type httpHandler struct {
	users  *users.Service
	tokens TokenManager
	logger *zap.Logger
}

type registerRequestPayload struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequestPayload struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type authResponsePayload struct {
	Username    string `json:"username"`
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) handleRegister(c *gin.Context) {
	var request registerRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	account, err := h.users.Register(c.Request.Context(), request.Username, request.Email, request.Password)
	switch {
	case errors.Is(err, users.ErrInvalidAccount):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_account"})
		return
	case errors.Is(err, users.ErrUsernameTaken):
		c.JSON(http.StatusConflict, gin.H{"error": "username_taken"})
		return
	case err != nil:
		h.logger.Error("failed to register account", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "register_failed"})
		return
	}

	h.respondWithToken(c, http.StatusCreated, account)
}

func (h *httpHandler) handleLogin(c *gin.Context) {
	var request loginRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	account, err := h.users.Authenticate(c.Request.Context(), request.Username, request.Password)
	if errors.Is(err, users.ErrInvalidCredentials) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	if err != nil {
		h.logger.Error("failed to authenticate account", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login_failed"})
		return
	}

	h.respondWithToken(c, http.StatusOK, account)
}

func (h *httpHandler) respondWithToken(c *gin.Context, status int, account users.Account) {
	token, expiresIn, err := h.tokens.IssueToken(c.Request.Context(), account.Username)
	if err != nil {
		h.logger.Error("failed to issue token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}
	c.JSON(status, authResponsePayload{
		Username:    account.Username,
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   tokenType,
	})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, tokenType+" ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, tokenType+" "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	subject, err := h.tokens.ValidateToken(token)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, subject)
	c.Next()
}

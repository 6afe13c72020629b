package handlers

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/danghamo/convoy/internal/api/jsonrpcx"
	"github.com/danghamo/convoy/internal/domain/auth"
	"github.com/danghamo/convoy/pkg/logger"
)

// TokenIssuer issues operator tokens
type TokenIssuer interface {
	GenerateToken(operator string) (string, time.Time, error)
}

// AuthHandler exchanges operator credentials for a JWT
type AuthHandler struct {
	logger   *logger.Logger
	operator *auth.Operator
	tokens   TokenIssuer
}

// NewAuthHandler creates an auth handler
func NewAuthHandler(logger *logger.Logger, operator *auth.Operator, tokens TokenIssuer) *AuthHandler {
	return &AuthHandler{
		logger:   logger.WithComponent("auth-handler"),
		operator: operator,
		tokens:   tokens,
	}
}

// TokenRequest carries operator credentials
type TokenRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// TokenResponse is the result of auth.Token
type TokenResponse struct {
	Token     string    `json:"token"`
	TokenType string    `json:"token_type"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Token handles POST /api/v1/auth.Token
func (h *AuthHandler) Token(w http.ResponseWriter, r *http.Request) {
	var params TokenRequest
	req, ok := decodeCall(r, &params)
	if !ok {
		return
	}

	if err := h.operator.Authenticate(params.Username, params.Password); err != nil {
		h.logger.Warn("Operator login rejected", zap.String("username", params.Username))
		jsonrpcx.WithDomainError(r, req.ID, err)
		return
	}

	token, expiresAt, err := h.tokens.GenerateToken(h.operator.Username)
	if err != nil {
		h.logger.Error("Failed to issue token", zap.Error(err))
		jsonrpcx.WithError(r, req.ID, jsonrpcx.InternalError, "Failed to issue token")
		return
	}

	h.logger.Info("Operator logged in", zap.String("username", params.Username))

	jsonrpcx.Success(w, req.ID, TokenResponse{
		Token:     token,
		TokenType: "Bearer",
		ExpiresAt: expiresAt,
	})
}

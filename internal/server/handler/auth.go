package handler

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const tokenTTL = 72 * time.Hour

var errInvalidToken = errors.New("invalid or expired token")

// TokenIssuer signs and validates the HS256 tokens that identify chat
// users. Identity is anonymous: a fresh user id is minted per token.
type TokenIssuer struct {
	secret []byte
	issuer string
}

func NewTokenIssuer(secret []byte, issuer string) *TokenIssuer {
	return &TokenIssuer{secret: secret, issuer: issuer}
}

func (t *TokenIssuer) Issue(userID, nickname string) (string, error) {
	claims := jwt.MapClaims{
		"user_id":  userID,
		"nickname": nickname,
		"exp":      time.Now().Add(tokenTTL).Unix(),
		"iss":      t.issuer,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
}

// Validate parses a token and returns the identity it carries.
func (t *TokenIssuer) Validate(tokenString string) (userID, nickname string, err error) {
	token, err := jwt.Parse(tokenString, func(tok *jwt.Token) (interface{}, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errInvalidToken
		}
		return t.secret, nil
	}, jwt.WithIssuer(t.issuer), jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return "", "", errInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", "", errInvalidToken
	}
	userID, _ = claims["user_id"].(string)
	nickname, _ = claims["nickname"].(string)
	if userID == "" {
		return "", "", errInvalidToken
	}
	return userID, nickname, nil
}

type tokenRequest struct {
	Nickname string `json:"nickname" binding:"required"`
}

// IssueToken mints an anonymous identity and the token that proves it.
func (h *Handler) IssueToken(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "nickname is required"})
		return
	}

	userID := uuid.New().String()
	token, err := h.Auth.Issue(userID, req.Nickname)
	if err != nil {
		h.Logger.Error().Err(err).Msg("token signing failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "userId": userID})
}

// identity pulls the bearer token from the request and validates it.
// On failure it aborts the request with 401.
func (h *Handler) identity(c *gin.Context) (userID, nickname string, ok bool) {
	header := c.GetHeader("Authorization")
	tokenString, found := strings.CutPrefix(header, "Bearer ")
	if !found || tokenString == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization token missing"})
		return "", "", false
	}
	userID, nickname, err := h.Auth.Validate(tokenString)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token or expired"})
		return "", "", false
	}
	return userID, nickname, true
}

package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/yungbote/coursebuilder/internal/platform/ctxutil"
	"github.com/yungbote/coursebuilder/internal/platform/logger"
)

type JWTClaims struct {
	jwt.RegisteredClaims
}

// TokenService turns bearer tokens into the request actor. Tokens are
// issued by the identity service; Issue exists for tooling and tests.
type TokenService interface {
	Issue(userID uuid.UUID) (string, error)
	SetContextFromToken(ctx context.Context, tokenString string) (context.Context, error)
}

type tokenService struct {
	log       *logger.Logger
	secretKey string
	accessTTL time.Duration
}

func NewTokenService(baseLog *logger.Logger, secretKey string, accessTTL time.Duration) TokenService {
	if accessTTL <= 0 {
		accessTTL = time.Hour
	}
	return &tokenService{
		log:       baseLog.With("service", "TokenService"),
		secretKey: secretKey,
		accessTTL: accessTTL,
	}
}

func (ts *tokenService) Issue(userID uuid.UUID) (string, error) {
	if userID == uuid.Nil {
		return "", fmt.Errorf("missing user id")
	}
	if strings.TrimSpace(ts.secretKey) == "" {
		return "", fmt.Errorf("jwt secret not configured")
	}
	now := time.Now()
	claims := JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(ts.accessTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(ts.secretKey))
}

func (ts *tokenService) SetContextFromToken(ctx context.Context, tokenString string) (context.Context, error) {
	if tokenString == "" {
		return ctx, nil
	}
	if strings.TrimSpace(ts.secretKey) == "" {
		return ctx, fmt.Errorf("jwt secret not configured")
	}
	parsed, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte(ts.secretKey), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return ctx, fmt.Errorf("failed to parse token: %w", err)
	}
	claims, ok := parsed.Claims.(*JWTClaims)
	if !ok || !parsed.Valid {
		return ctx, fmt.Errorf("invalid or expired token")
	}
	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return ctx, fmt.Errorf("invalid user id in token: %w", err)
	}
	return ctxutil.WithRequestData(ctx, &ctxutil.RequestData{UserID: userID}), nil
}

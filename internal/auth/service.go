package auth

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"carrental.app/rentalctl/internal/account"
)

type Claims struct {
	UserID int64        `json:"user_id"`
	Email  string       `json:"email"`
	Role   account.Role `json:"role"`
	Type   string       `json:"token_type"`
	jwt.RegisteredClaims
}

type Service struct {
	accountService *account.Service
	config         Config
	now            func() time.Time
}

func NewService(accountService *account.Service, config Config) *Service {
	return &Service{
		accountService: accountService,
		config:         config,
		now:            time.Now,
	}
}

func (s *Service) Login(ctx context.Context, email, password string) (*TokenPair, *account.User, error) {
	user, err := s.accountService.Authenticate(ctx, email, password)
	if err != nil {
		return nil, nil, err
	}

	tokenPair, err := s.IssueTokenPair(user)
	if err != nil {
		return nil, nil, err
	}
	return tokenPair, user, nil
}

// Refresh exchanges a refresh token for a new access token. The refresh
// token itself is not rotated.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (string, error) {
	claims, err := s.ParseToken(refreshToken, TokenTypeRefresh)
	if err != nil {
		return "", ErrInvalidToken
	}

	user, err := s.accountService.GetUserByID(ctx, claims.UserID)
	if err != nil {
		return "", ErrInvalidToken
	}
	return s.signToken(user, TokenTypeAccess, s.config.AccessTokenTTL)
}

func (s *Service) IssueTokenPair(user *account.User) (*TokenPair, error) {
	access, err := s.signToken(user, TokenTypeAccess, s.config.AccessTokenTTL)
	if err != nil {
		return nil, err
	}
	refresh, err := s.signToken(user, TokenTypeRefresh, s.config.RefreshTTL)
	if err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
	}, nil
}

func (s *Service) ParseToken(tokenString string, expectedType string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return []byte(s.config.Secret), nil
	}, jwt.WithTimeFunc(s.now), jwt.WithIssuer(s.config.Issuer))
	if err != nil {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Type != expectedType {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (s *Service) signToken(user *account.User, tokenType string, ttl time.Duration) (string, error) {
	now := s.now()
	claims := Claims{
		UserID: user.ID,
		Email:  user.Email,
		Role:   user.Role,
		Type:   tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    s.config.Issuer,
			Subject:   strconv.FormatInt(user.ID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signedToken, err := token.SignedString([]byte(s.config.Secret))
	if err != nil {
		return "", errors.New("failed to sign token")
	}
	return signedToken, nil
}

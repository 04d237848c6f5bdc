package auth

import (
	"errors"
	"time"
)

const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"

	CSRFCookieName = "csrftoken"
	CSRFHeaderName = "X-CSRFToken"
)

var ErrInvalidToken = errors.New("invalid token")

type TokenPair struct {
	AccessToken  string `json:"access"`
	RefreshToken string `json:"refresh"`
}

type Config struct {
	Secret         string
	Issuer         string
	AccessTokenTTL time.Duration
	RefreshTTL     time.Duration
}

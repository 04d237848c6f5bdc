package auth_test

import (
	"context"
	"testing"
	"time"

	"carrental.app/rentalctl/internal/account"
	accountstore "carrental.app/rentalctl/internal/account/store"
	"carrental.app/rentalctl/internal/auth"
	"carrental.app/rentalctl/internal/platform/database"
)

const (
	testEmail    = "driver@example.com"
	testPassword = "Secret123"
)

func setupAuthTestService(t *testing.T) (*auth.Service, *account.Service) {
	t.Helper()

	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	accountSvc := account.NewService(accountstore.NewStore(db), 3)
	authSvc := auth.NewService(accountSvc, auth.Config{
		Secret:         "test-secret-key-0123456789",
		Issuer:         "rental-test",
		AccessTokenTTL: 15 * time.Minute,
		RefreshTTL:     24 * time.Hour,
	})
	return authSvc, accountSvc
}

func seedUser(t *testing.T, accountSvc *account.Service) *account.User {
	t.Helper()

	user, err := accountSvc.Register(context.Background(), &account.CreateUserRequest{
		Email:    testEmail,
		Password: testPassword,
		Name:     "Test Driver",
	})
	if err != nil {
		t.Fatalf("register user: %v", err)
	}
	return user
}

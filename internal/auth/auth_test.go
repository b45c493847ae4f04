package auth

import (
	"errors"
	"testing"
	"time"

	"buildledger/internal/core"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func testUser() core.User {
	return core.User{ID: 7, CompanyID: 3, Role: core.RoleAdmin}
}

func TestIssueAndVerifyToken(t *testing.T) {
	a := NewAuthenticator(testSecret, time.Hour)

	token, err := a.IssueToken(testUser())
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	id, err := a.VerifyToken(token)
	if err != nil {
		t.Fatalf("VerifyToken: %v", err)
	}
	if id.UserID != 7 || id.CompanyID != 3 || id.Role != core.RoleAdmin {
		t.Fatalf("identity = %+v", id)
	}
}

func TestVerifyTokenRejectsWrongSecret(t *testing.T) {
	a := NewAuthenticator(testSecret, time.Hour)
	b := NewAuthenticator("ffffffffffffffffffffffffffffffff", time.Hour)

	token, _ := a.IssueToken(testUser())
	if _, err := b.VerifyToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("err = %v, want ErrInvalidToken", err)
	}
}

func TestVerifyTokenRejectsExpired(t *testing.T) {
	a := NewAuthenticator(testSecret, time.Minute)

	token, _ := a.IssueToken(testUser())

	// Shift the verifier's clock past expiry.
	a.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	if _, err := a.VerifyToken(token); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("err = %v, want ErrExpiredToken", err)
	}
}

func TestVerifyTokenRejectsEmptyAndGarbage(t *testing.T) {
	a := NewAuthenticator(testSecret, time.Hour)

	for _, token := range []string{"", "   ", "not.a.token"} {
		if _, err := a.VerifyToken(token); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("VerifyToken(%q) err = %v, want ErrInvalidToken", token, err)
		}
	}
}

func TestPasswordHashRoundTrip(t *testing.T) {
	hash, err := HashPassword("correct horse battery staple")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if err := CheckPassword(hash, "correct horse battery staple"); err != nil {
		t.Fatalf("CheckPassword: %v", err)
	}
	if err := CheckPassword(hash, "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("err = %v, want ErrInvalidCredentials", err)
	}
}

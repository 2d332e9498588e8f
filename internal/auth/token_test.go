package auth

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

func TestIssueAndVerifyToken(t *testing.T) {
	secret := []byte("secret")
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	issued, err := Issue(secret, Identity{UserID: "user-1", Email: "avery@example.com"}, now, DefaultTTL)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	identity, err := Verify(secret, issued, now.Add(364*24*time.Hour))
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if identity.UserID != "user-1" || identity.Email != "avery@example.com" {
		t.Fatalf("unexpected identity: %+v", identity)
	}
	if !identity.IssuedAt.Equal(now) {
		t.Fatalf("IssuedAt = %v, want %v", identity.IssuedAt, now)
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	secret := []byte("secret")
	now := time.Now()
	issued, err := Issue(secret, Identity{UserID: "user-1"}, now, time.Hour)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if _, err := Verify(secret, issued, now.Add(2*time.Hour)); err != ErrExpiredToken {
		t.Fatalf("Verify() error = %v, want ErrExpiredToken", err)
	}
}

func TestVerifyRejectsFlippedLastCharacter(t *testing.T) {
	secret := []byte("secret")
	now := time.Now()
	issued, err := Issue(secret, Identity{UserID: "user-1", Email: "a@example.com"}, now, time.Hour)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	last := issued[len(issued)-1]
	replacement := byte('A')
	if last == 'A' {
		replacement = 'B'
	}
	tampered := issued[:len(issued)-1] + string(replacement)
	if _, err := Verify(secret, tampered, now); err != ErrInvalidToken {
		t.Fatalf("Verify() error = %v, want ErrInvalidToken", err)
	}
}

func TestVerifyFailsClosed(t *testing.T) {
	now := time.Now()
	issued, err := Issue([]byte("secret"), Identity{UserID: "user-1"}, now, time.Hour)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	cases := map[string]struct {
		secret []byte
		token  string
	}{
		"wrong secret": {secret: []byte("other"), token: issued},
		"empty secret": {secret: nil, token: issued},
		"malformed":    {secret: []byte("secret"), token: "not.a.token"},
		"empty":        {secret: []byte("secret"), token: ""},
		"two parts":    {secret: []byte("secret"), token: "abc.def"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Verify(tc.secret, tc.token, now); err != ErrInvalidToken {
				t.Fatalf("Verify() error = %v, want ErrInvalidToken", err)
			}
		})
	}
}

func TestExtractBearer(t *testing.T) {
	cases := []struct {
		header string
		token  string
		ok     bool
	}{
		{"Bearer abc", "abc", true},
		{"  Bearer   abc  ", "abc", true},
		{"Bearer ", "", false},
		{"Basic abc", "", false},
		{"bearer abc", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		token, ok := ExtractBearer(tc.header)
		if token != tc.token || ok != tc.ok {
			t.Fatalf("ExtractBearer(%q) = (%q, %v), want (%q, %v)", tc.header, token, ok, tc.token, tc.ok)
		}
	}
}

func TestServiceUsesClock(t *testing.T) {
	clock := clockwork.NewFakeClock()
	svc := NewService([]byte("secret"), time.Hour, clock)
	token, err := svc.Issue(Identity{UserID: "user-1"})
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if _, err := svc.Verify(token); err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	clock.Advance(2 * time.Hour)
	if _, err := svc.Verify(token); err != ErrExpiredToken {
		t.Fatalf("Verify() after expiry error = %v, want ErrExpiredToken", err)
	}
}

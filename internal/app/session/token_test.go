package session

import (
	"errors"
	"testing"
	"time"
)

func TestTokens_IssueVerify(t *testing.T) {
	tokens := NewTokens("secret")

	s, err := tokens.Issue("ops")
	if err != nil {
		t.Fatal(err)
	}

	c, err := tokens.Verify(s)
	if err != nil || c.Subject != "ops" {
		t.Fatalf("got %+v, %v", c, err)
	}
}

func TestTokens_Rejects(t *testing.T) {
	expired, err := NewTokens("secret", WithTokenLifetime(-time.Minute)).Issue("ops")
	if err != nil {
		t.Fatal(err)
	}
	foreign, err := NewTokens("other").Issue("ops")
	if err != nil {
		t.Fatal(err)
	}

	tokens := NewTokens("secret")
	for name, s := range map[string]string{
		"expired": expired,
		"foreign": foreign,
		"garbage": "not.a.token",
		"empty":   "",
	} {
		if _, err := tokens.Verify(s); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("%s: expected ErrInvalidToken, got %v", name, err)
		}
	}
}

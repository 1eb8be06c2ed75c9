package auth

import (
	"testing"

	"github.com/spec-kit/helpdesk-engine/internal/domain"
)

func TestGenerateAndParseToken(t *testing.T) {
	tm := NewTokenManager("test-secret", 30)
	user := &domain.User{
		UID:       "agent-1",
		Username:  "sam",
		CustomUID: "AG00042",
		Role:      domain.RoleAgent,
	}

	tokenStr, expiresAt, err := tm.GenerateToken(user)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if expiresAt.IsZero() {
		t.Fatal("expiry not set")
	}

	claims, err := tm.ParseToken(tokenStr)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.UID != user.UID || claims.Role != user.Role {
		t.Fatalf("claims identity = %s/%s", claims.UID, claims.Role)
	}
	if claims.Username != user.Username || claims.CustomUID != user.CustomUID {
		t.Fatalf("claims display = %s/%s", claims.Username, claims.CustomUID)
	}
	if claims.Subject != user.UID {
		t.Fatalf("subject = %s", claims.Subject)
	}
}

func TestParseTokenRejectsWrongSecret(t *testing.T) {
	issuer := NewTokenManager("issuer-secret", 30)
	verifier := NewTokenManager("other-secret", 30)

	tokenStr, _, err := issuer.GenerateToken(&domain.User{UID: "user-1", Role: domain.RoleUser})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := verifier.ParseToken(tokenStr); err == nil {
		t.Fatal("token signed with a different secret was accepted")
	}
}

func TestParseTokenRejectsGarbage(t *testing.T) {
	tm := NewTokenManager("test-secret", 30)
	if _, err := tm.ParseToken("not-a-token"); err == nil {
		t.Fatal("malformed token was accepted")
	}
}

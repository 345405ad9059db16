package token

import "testing"

func TestGenerateAndValidate(t *testing.T) {
	m := NewManager()

	value, err := m.Generate("alice")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if value == "" {
		t.Fatal("expected a token")
	}

	participantID, ok := m.Validate(value)
	if !ok {
		t.Fatal("expected token to validate")
	}
	if participantID != "alice" {
		t.Fatalf("participant = %q, want %q", participantID, "alice")
	}
}

func TestGenerateInvalidatesPreviousToken(t *testing.T) {
	m := NewManager()

	first, err := m.Generate("alice")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	second, err := m.Generate("alice")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if first == second {
		t.Fatal("expected distinct tokens")
	}

	if _, ok := m.Validate(first); ok {
		t.Fatal("first token should be invalid")
	}
	participantID, ok := m.Validate(second)
	if !ok || participantID != "alice" {
		t.Fatalf("second token validate = %q, %v", participantID, ok)
	}
}

func TestGenerateRequiresParticipant(t *testing.T) {
	m := NewManager()
	if _, err := m.Generate("  "); err == nil {
		t.Fatal("expected error for blank participant id")
	}
}

func TestRefreshReissues(t *testing.T) {
	m := NewManager()

	first, _ := m.Generate("alice")
	refreshed, err := m.Refresh("alice")
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if refreshed == first {
		t.Fatal("expected refresh to mint a new token")
	}
	if _, ok := m.Validate(first); ok {
		t.Fatal("pre-refresh token should be invalid")
	}
}

func TestRevoke(t *testing.T) {
	m := NewManager()

	value, _ := m.Generate("alice")
	if !m.Revoke("alice") {
		t.Fatal("expected revoke to report an existing token")
	}
	if _, ok := m.Validate(value); ok {
		t.Fatal("revoked token should be invalid")
	}
	if m.Revoke("alice") {
		t.Fatal("second revoke should report nothing to remove")
	}
}

func TestValidateUnknownToken(t *testing.T) {
	m := NewManager()
	if _, ok := m.Validate("nope"); ok {
		t.Fatal("unknown token should not validate")
	}
}

package auth

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestIssueAndValidate(t *testing.T) {
	issuer := NewIssuer("test-secret", time.Hour)

	token, expiresAt, err := issuer.Issue()
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if token == "" {
		t.Fatal("Issue() returned empty token")
	}
	if until := time.Until(expiresAt); until < 59*time.Minute || until > time.Hour {
		t.Errorf("expiry %v from now, want ~1h", until)
	}

	if err := issuer.Validate(token); err != nil {
		t.Errorf("Validate() error = %v, want nil", err)
	}
}

func TestValidateExpiredToken(t *testing.T) {
	issuer := NewIssuer("test-secret", -time.Minute)

	token, _, err := issuer.Issue()
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	if err := issuer.Validate(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Validate(expired) error = %v, want ErrInvalidToken", err)
	}
}

func TestValidateTamperedSignature(t *testing.T) {
	issuer := NewIssuer("test-secret", time.Hour)

	token, _, err := issuer.Issue()
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	// Flip a character in the signature segment.
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		t.Fatalf("token has %d segments, want 3", len(parts))
	}
	sig := []byte(parts[2])
	if sig[0] == 'A' {
		sig[0] = 'B'
	} else {
		sig[0] = 'A'
	}
	tampered := parts[0] + "." + parts[1] + "." + string(sig)

	if err := issuer.Validate(tampered); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Validate(tampered) error = %v, want ErrInvalidToken", err)
	}
}

func TestValidateWrongSecret(t *testing.T) {
	token, _, err := NewIssuer("secret-a", time.Hour).Issue()
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	if err := NewIssuer("secret-b", time.Hour).Validate(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Validate(wrong secret) error = %v, want ErrInvalidToken", err)
	}
}

func TestValidateMalformed(t *testing.T) {
	issuer := NewIssuer("test-secret", time.Hour)

	for _, tok := range []string{"", "garbage", "a.b", "a.b.c"} {
		if err := issuer.Validate(tok); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("Validate(%q) error = %v, want ErrInvalidToken", tok, err)
		}
	}
}

func TestFromSubprotocols(t *testing.T) {
	issuer := NewIssuer("test-secret", time.Hour)
	token, _, err := issuer.Issue()
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	valid := SubprotocolPrefix + token

	tests := []struct {
		name      string
		protocols []string
		wantEcho  string
		wantErr   error
	}{
		{
			name:      "single valid entry",
			protocols: []string{valid},
			wantEcho:  valid,
		},
		{
			name:      "valid entry among others",
			protocols: []string{"chat", valid, "binary"},
			wantEcho:  valid,
		},
		{
			name:      "no protocols",
			protocols: nil,
			wantErr:   ErrNoToken,
		},
		{
			name:      "no matching prefix",
			protocols: []string{"chat", "binary"},
			wantErr:   ErrNoToken,
		},
		{
			name:      "prefix with garbage token",
			protocols: []string{SubprotocolPrefix + "garbage"},
			wantErr:   ErrInvalidToken,
		},
		{
			name:      "prefix with empty token",
			protocols: []string{SubprotocolPrefix},
			wantErr:   ErrInvalidToken,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			echo, err := issuer.FromSubprotocols(tt.protocols)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("FromSubprotocols() error = %v, want %v", err, tt.wantErr)
			}
			if echo != tt.wantEcho {
				t.Errorf("FromSubprotocols() echo = %q, want %q", echo, tt.wantEcho)
			}
		})
	}
}

func TestFromSubprotocolsExpired(t *testing.T) {
	expired := NewIssuer("test-secret", -time.Minute)
	token, _, err := expired.Issue()
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	// Same secret, so only the expiry can fail validation.
	fresh := NewIssuer("test-secret", time.Hour)
	if _, err := fresh.FromSubprotocols([]string{SubprotocolPrefix + token}); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("FromSubprotocols(expired) error = %v, want ErrInvalidToken", err)
	}
}

package credential

import (
	"context"
	"errors"
	"runtime"
	"testing"

	"github.com/junxit/tmail/internal/config"
)

func TestResolve_Anonymous(t *testing.T) {
	t.Parallel()

	cred, err := Resolve(context.Background(), config.Endpoint{Name: "open", Host: "relay.example.com"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cred.Anonymous() {
		t.Errorf("expected anonymous credential, got %+v", cred)
	}
}

func TestResolve_Plain(t *testing.T) {
	t.Parallel()

	ep := config.Endpoint{Name: "main", User: "me@example.com", Password: "s3cret"}
	cred, err := Resolve(context.Background(), ep)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cred.User != "me@example.com" {
		t.Errorf("User: got %q, want %q", cred.User, "me@example.com")
	}
	if cred.Secret != "s3cret" {
		t.Errorf("Secret: got %q, want %q", cred.Secret, "s3cret")
	}
}

func TestResolve_Base64(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		encoded string
		want    string
		wantErr error
	}{
		{name: "valid", encoded: "c3VwZXJzZWNyZXQ=", want: "supersecret"},
		{name: "empty decodes empty", encoded: "", want: ""},
		{name: "malformed", encoded: "!!!not-base64!!!", wantErr: ErrInvalidEncoding},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ep := config.Endpoint{
				Name:             "main",
				User:             "me@example.com",
				Password:         tt.encoded,
				PasswordEncoding: "base64",
			}
			cred, err := Resolve(context.Background(), ep)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("error: got %v, want %v", err, tt.wantErr)
				}
				return
			}
			if tt.encoded == "" {
				// No password at all resolves via the missing-method path.
				if err == nil {
					t.Fatal("expected error for user with empty password")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if cred.Secret != tt.want {
				t.Errorf("Secret: got %q, want %q", cred.Secret, tt.want)
			}
		})
	}
}

func TestResolve_AmbiguousOrMissing(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		ep   config.Endpoint
	}{
		{
			name: "both methods",
			ep:   config.Endpoint{Name: "m", User: "u", Password: "p", PasswordCmd: "echo p"},
		},
		{
			name: "user without method",
			ep:   config.Endpoint{Name: "m", User: "u"},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Resolve(context.Background(), tt.ep)
			if !errors.Is(err, ErrAmbiguousCredential) {
				t.Errorf("error: got %v, want ErrAmbiguousCredential", err)
			}
		})
	}
}

func TestResolve_Command(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("password commands require sh")
	}
	t.Parallel()

	ep := config.Endpoint{Name: "main", User: "me@example.com", PasswordCmd: "printf 'hunter2\\n'"}
	cred, err := Resolve(context.Background(), ep)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cred.Secret != "hunter2" {
		t.Errorf("Secret: got %q, want %q (single trailing newline stripped)", cred.Secret, "hunter2")
	}
}

func TestResolve_CommandPreservesInnerNewlines(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("password commands require sh")
	}
	t.Parallel()

	ep := config.Endpoint{Name: "main", User: "u", PasswordCmd: "printf 'line1\\nline2\\n'"}
	cred, err := Resolve(context.Background(), ep)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cred.Secret != "line1\nline2" {
		t.Errorf("Secret: got %q, want %q", cred.Secret, "line1\nline2")
	}
}

func TestResolve_CommandFailure(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("password commands require sh")
	}
	t.Parallel()

	ep := config.Endpoint{Name: "main", User: "u", PasswordCmd: "echo oops >&2; exit 3"}
	_, err := Resolve(context.Background(), ep)

	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) {
		t.Fatalf("error: got %v, want *CommandError", err)
	}
	if cmdErr.ExitCode != 3 {
		t.Errorf("ExitCode: got %d, want 3", cmdErr.ExitCode)
	}
	if cmdErr.Stderr != "oops" {
		t.Errorf("Stderr: got %q, want %q", cmdErr.Stderr, "oops")
	}
}

func TestCredential_Anonymous(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cred Credential
		want bool
	}{
		{name: "empty", cred: Credential{}, want: true},
		{name: "user only", cred: Credential{User: "u"}, want: false},
		{name: "full", cred: Credential{User: "u", Secret: "s"}, want: false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.cred.Anonymous(); got != tt.want {
				t.Errorf("Anonymous(): got %v, want %v", got, tt.want)
			}
		})
	}
}

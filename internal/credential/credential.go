// Package credential resolves the plaintext secret for an SMTP endpoint.
//
// The secret comes from exactly one configured method: an external
// command, a plaintext value or a base64-encoded value. Resolution
// happens once per send, before the delivery engine starts; a failing
// password command is not retried since repetition is unlikely to help
// and may trigger the external program's own rate limiting.
package credential

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/junxit/tmail/internal/config"
)

// CommandTimeout bounds external password command execution.
const CommandTimeout = 30 * time.Second

var (
	// ErrAmbiguousCredential is returned when an endpoint's credential
	// configuration is not exactly one method, including a user with no
	// method at all.
	ErrAmbiguousCredential = errors.New("ambiguous or missing credential configuration")

	// ErrInvalidEncoding is returned when a base64 password does not decode.
	ErrInvalidEncoding = errors.New("invalid base64 password encoding")
)

// CommandError reports a password command that could not be launched or
// exited non-zero. ExitCode is -1 when the command never ran.
type CommandError struct {
	Cmd      string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("password command failed (exit code %d)", e.ExitCode)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CommandError) Unwrap() error { return e.Err }

// Credential is a resolved username/secret pair. The secret is never
// logged or echoed.
type Credential struct {
	User   string
	Secret string
}

// Anonymous reports whether the credential carries no authentication.
func (c Credential) Anonymous() bool {
	return c.User == "" && c.Secret == ""
}

// Resolve produces the credential for an endpoint. Endpoints without a
// user and without any credential method resolve to an anonymous
// credential; a user with no method, or conflicting methods, is a
// configuration error.
func Resolve(ctx context.Context, ep config.Endpoint) (Credential, error) {
	method := ep.Method()

	if ep.Password != "" && ep.PasswordCmd != "" {
		return Credential{}, fmt.Errorf("%w for SMTP server %q: both 'password' and 'password_cmd' set",
			ErrAmbiguousCredential, ep.Name)
	}
	if method == config.MethodNone {
		if ep.User == "" {
			return Credential{}, nil
		}
		return Credential{}, fmt.Errorf("%w for SMTP server %q: user %q has no password, password_cmd or encoded password",
			ErrAmbiguousCredential, ep.Name, ep.User)
	}

	secret, err := resolveSecret(ctx, ep, method)
	if err != nil {
		return Credential{}, err
	}
	return Credential{User: ep.User, Secret: secret}, nil
}

func resolveSecret(ctx context.Context, ep config.Endpoint, method config.CredentialMethod) (string, error) {
	switch method {
	case config.MethodCommand:
		return runCommand(ctx, ep.PasswordCmd)
	case config.MethodBase64:
		decoded, err := base64.StdEncoding.DecodeString(ep.Password)
		if err != nil {
			return "", fmt.Errorf("%w for SMTP server %q: %v", ErrInvalidEncoding, ep.Name, err)
		}
		return string(decoded), nil
	default:
		return ep.Password, nil
	}
}

// runCommand executes the configured shell command, captures stdout and
// strips a single trailing newline. The process is always reaped: the
// context deadline kills it if it hangs.
func runCommand(ctx context.Context, command string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, CommandTimeout)
	defer cancel()

	log.Debug("running password command")

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		return "", &CommandError{
			Cmd:      command,
			ExitCode: exitCode,
			Stderr:   strings.TrimSpace(stderr.String()),
			Err:      err,
		}
	}

	secret := stdout.String()
	secret = strings.TrimSuffix(secret, "\n")
	secret = strings.TrimSuffix(secret, "\r")
	return secret, nil
}

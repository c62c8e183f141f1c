package delivery

import (
	"context"
	"fmt"
	"time"

	mail "github.com/wneessen/go-mail"
)

// DefaultConnectTimeout bounds connection establishment and SMTP
// conversation deadlines per target.
const DefaultConnectTimeout = 15 * time.Second

// SMTPTransport delivers messages through the go-mail SMTP client. Each
// Deliver call opens one connection scoped to a single target and closes
// it on every exit path.
type SMTPTransport struct {
	Timeout time.Duration
}

// NewSMTPTransport returns a transport with the default timeout.
func NewSMTPTransport() *SMTPTransport {
	return &SMTPTransport{Timeout: DefaultConnectTimeout}
}

// Deliver connects to the target, negotiates TLS per the target's mode,
// authenticates when a credential is present and hands off the message.
func (t *SMTPTransport) Deliver(ctx context.Context, target Target, cred Credential, msg *mail.Msg) error {
	timeout := t.Timeout
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}

	opts := []mail.Option{
		mail.WithPort(target.Port),
		mail.WithTimeout(timeout),
	}

	switch {
	case target.ImplicitTLS:
		opts = append(opts, mail.WithSSL())
	case target.UseTLS:
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	default:
		opts = append(opts, mail.WithTLSPolicy(mail.NoTLS))
	}

	if cred.User != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cred.User),
			mail.WithPassword(cred.Secret),
		)
	}

	client, err := mail.NewClient(target.Host, opts...)
	if err != nil {
		return fmt.Errorf("failed to create SMTP client for %s: %w", target.Addr(), err)
	}

	if err := client.DialWithContext(ctx); err != nil {
		return fmt.Errorf("dial %s failed: %w", target.Addr(), err)
	}
	// The connection is released on every exit path, including errors
	// mid-transaction.
	defer func() { _ = client.Close() }()

	if err := client.Send(msg); err != nil {
		return err
	}
	return nil
}

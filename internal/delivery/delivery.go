// Package delivery implements the resilient send loop: candidate
// connection targets derived from an endpoint's ordered port list,
// attempts that cycle through all targets, exponential backoff between
// attempts, and a terminal outcome carrying every failure cause.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"time"

	"github.com/charmbracelet/log"
	mail "github.com/wneessen/go-mail"

	"github.com/junxit/tmail/internal/identity"
	"github.com/junxit/tmail/internal/message"
)

// Target is one candidate connection: a host/port pair with the
// endpoint's TLS mode. ImplicitTLS marks the SMTPS convention on port
// 465; every other TLS target upgrades via STARTTLS.
type Target struct {
	Host        string
	Port        int
	UseTLS      bool
	ImplicitTLS bool
}

// Addr returns the host:port form of the target.
func (t Target) Addr() string {
	return fmt.Sprintf("%s:%d", t.Host, t.Port)
}

// Policy controls retry behavior. An attempt is one full pass over all
// candidate targets; MaxAttempts bounds those passes. The delay before
// attempt n+1 is BaseDelay doubled n-1 times, capped at MaxDelay when
// MaxDelay is positive.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultPolicy returns the policy for the given retry count: retries
// additional attempts after the first, one second base delay.
func DefaultPolicy(retries int) Policy {
	if retries < 0 {
		retries = 0
	}
	return Policy{
		MaxAttempts: retries + 1,
		BaseDelay:   time.Second,
	}
}

// State is the terminal state of a send.
type State int

const (
	// StateSent means the message was handed off to the server.
	StateSent State = iota

	// StateFailed means every attempt failed or a permanent failure
	// occurred.
	StateFailed

	// StatePreview is the dry-run result: no network I/O happened.
	StatePreview
)

// Failure records one failed attempt: the attempt number, the last
// target tried in it and the cause.
type Failure struct {
	Attempt int
	Target  Target
	Err     error
}

// Outcome is the terminal result of a send. For StateFailed the Failures
// list holds one cause per attempt, newest last; the last entry is the
// primary error. For StateSent, Target is the connection actually used.
type Outcome struct {
	State    State
	Target   Target
	Attempts int
	Failures []Failure
	Preview  *Preview
}

// Err returns the primary failure cause, or nil when the send succeeded
// or was a preview.
func (o *Outcome) Err() error {
	if o.State != StateFailed || len(o.Failures) == 0 {
		return nil
	}
	return o.Failures[len(o.Failures)-1].Err
}

// Preview describes what a dry run would have sent.
type Preview struct {
	Target     Target
	From       string
	Recipients []string
	Subject    string
	Size       int64
}

// Transport hands a serialized message to one SMTP target. Production
// code uses the go-mail client; tests substitute a stub.
type Transport interface {
	Deliver(ctx context.Context, target Target, cred Credential, msg *mail.Msg) error
}

// Credential is the username/secret pair the transport authenticates
// with. An empty pair disables authentication.
type Credential struct {
	User   string
	Secret string
}

// Engine executes sends. It is single-threaded: one send per call, with
// blocking backoff waits in between attempts.
type Engine struct {
	transport Transport

	// sleep is context-aware and swapped in tests to observe the
	// backoff sequence without waiting.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewEngine returns an engine delivering through the given transport.
func NewEngine(transport Transport) *Engine {
	return &Engine{
		transport: transport,
		sleep:     sleepWithContext,
	}
}

// Send delivers the message for the resolved profile. In dry-run mode it
// performs target selection and message serialization but opens no
// network connection, returning a StatePreview outcome.
//
// A returned error means the send could not be executed at all (invalid
// input or cancelled context); delivery failures are reported through
// the outcome, never swallowed.
func (e *Engine) Send(ctx context.Context, profile *identity.SendProfile, out *message.Outbound, policy Policy, dryRun bool) (*Outcome, error) {
	targets := endpointTargets(profile)
	if len(targets) == 0 {
		return nil, fmt.Errorf("endpoint %q has no candidate ports", profile.Endpoint.Name)
	}

	msg, err := out.MailMsg(profile)
	if err != nil {
		return nil, err
	}

	if dryRun {
		return preview(targets[0], profile, out, msg)
	}

	maxAttempts := policy.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	cred := Credential{User: profile.Credential.User, Secret: profile.Credential.Secret}
	outcome := &Outcome{State: StateFailed}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		outcome.Attempts = attempt

		var lastErr error
		var lastTarget Target

		for _, target := range targets {
			log.Debug("connecting",
				"host", target.Host,
				"port", target.Port,
				"tls", target.UseTLS,
				"attempt", attempt,
				"max_attempts", maxAttempts,
			)

			err := e.transport.Deliver(ctx, target, cred, msg)
			if err == nil {
				outcome.State = StateSent
				outcome.Target = target
				log.Info("message sent",
					"host", target.Host,
					"port", target.Port,
					"attempts", attempt,
				)
				return outcome, nil
			}

			if !Retryable(err) {
				outcome.Failures = append(outcome.Failures, Failure{
					Attempt: attempt,
					Target:  target,
					Err:     err,
				})
				log.Error("permanent delivery failure",
					"host", target.Host,
					"port", target.Port,
					"error", err,
				)
				return outcome, nil
			}

			lastErr, lastTarget = err, target
			log.Warn("delivery failed",
				"host", target.Host,
				"port", target.Port,
				"attempt", attempt,
				"error", err,
			)
		}

		// The attempt as a whole is recorded with the last port's cause.
		outcome.Failures = append(outcome.Failures, Failure{
			Attempt: attempt,
			Target:  lastTarget,
			Err:     lastErr,
		})

		if attempt < maxAttempts {
			delay := backoffDelay(policy, attempt)
			log.Debug("waiting before retry", "delay", delay, "attempt", attempt)
			if err := e.sleep(ctx, delay); err != nil {
				return outcome, fmt.Errorf("cancelled during retry wait: %w", err)
			}
		}
	}

	return outcome, nil
}

// preview serializes the message and reports what would be sent without
// touching the network.
func preview(target Target, profile *identity.SendProfile, out *message.Outbound, msg *mail.Msg) (*Outcome, error) {
	size, err := msg.WriteTo(io.Discard)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize message: %w", err)
	}

	return &Outcome{
		State:  StatePreview,
		Target: target,
		Preview: &Preview{
			Target:     target,
			From:       profile.From(),
			Recipients: out.Recipients(),
			Subject:    out.Subject,
			Size:       size,
		},
	}, nil
}

func endpointTargets(profile *identity.SendProfile) []Target {
	ep := profile.Endpoint
	targets := make([]Target, 0, len(ep.Ports))
	for _, port := range ep.Ports {
		targets = append(targets, Target{
			Host:        ep.Host,
			Port:        port,
			UseTLS:      ep.TLS(),
			ImplicitTLS: ep.TLS() && port == 465,
		})
	}
	return targets
}

// Retryable classifies a delivery error. Connection, timeout and
// transient protocol errors drive the backoff loop; authentication
// failures and message rejections terminate the send immediately, since
// repeating them cannot succeed without a configuration change.
func Retryable(err error) bool {
	var sendErr *mail.SendError
	if errors.As(err, &sendErr) {
		return sendErr.IsTemp()
	}

	var protoErr *textproto.Error
	if errors.As(err, &protoErr) {
		return protoErr.Code < 500
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	// Dial failures, handshake teardowns and everything else unknown is
	// treated as transient.
	return true
}

// backoffDelay returns BaseDelay doubled per completed attempt, capped
// at MaxDelay when one is configured.
func backoffDelay(policy Policy, attempt int) time.Duration {
	delay := policy.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
	}
	if policy.MaxDelay > 0 && delay > policy.MaxDelay {
		delay = policy.MaxDelay
	}
	return delay
}

// sleepWithContext waits for the duration or until the context is
// cancelled.
func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

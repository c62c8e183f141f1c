// Package identity resolves the sending identity for one send operation.
//
// Resolution is a pure lookup over an already-loaded, immutable
// configuration: no I/O, no side effects. The result is a SendProfile,
// the sole object the delivery engine consumes.
package identity

import (
	"errors"
	"fmt"
	"strings"

	"github.com/junxit/tmail/internal/config"
	"github.com/junxit/tmail/internal/credential"
)

var (
	// ErrUnknownIdentity is returned when a requested identity name does
	// not exist in the configuration.
	ErrUnknownIdentity = errors.New("unknown identity")

	// ErrUnknownFromAddress is returned when no identity matches a
	// requested from-address.
	ErrUnknownFromAddress = errors.New("no identity configured for from address")

	// ErrNoIdentityConfigured is returned when no identity was requested,
	// no default is configured and the choice is ambiguous.
	ErrNoIdentityConfigured = errors.New("no identity configured")

	// ErrDanglingEndpointRef is returned when an identity references an
	// SMTP server absent from the endpoint table. This is a configuration
	// integrity error and is never retried.
	ErrDanglingEndpointRef = errors.New("identity references unknown SMTP server")
)

// Selector describes how the caller picked an identity for this send.
// At most one of Name and FromAddr is expected; Name wins when both are
// set. DisplayName, when non-empty, overrides the identity's stored
// display name for this send only.
type Selector struct {
	Name        string
	FromAddr    string
	DisplayName string
}

// SendProfile is the resolved join of identity, endpoint and credential
// for one send. It is constructed once per invocation and not mutated
// afterwards.
type SendProfile struct {
	Identity    config.Identity
	Endpoint    config.Endpoint
	Credential  credential.Credential
	DisplayName string
}

// From formats the From header value using the effective display name.
func (p *SendProfile) From() string {
	if p.DisplayName != "" {
		return fmt.Sprintf("%s <%s>", p.DisplayName, p.Identity.Email)
	}
	return p.Identity.Email
}

// Resolve picks the identity per the selector and resolves its endpoint
// reference. The returned profile carries no credential yet; the caller
// attaches one with Attach before handing the profile to the engine.
//
// Lookup order: explicit name, then from-address, then the configured
// default. When exactly one identity is configured it is used implicitly.
func Resolve(cfg *config.Config, sel Selector) (*SendProfile, error) {
	id, err := pick(cfg, sel)
	if err != nil {
		return nil, err
	}

	ep, ok := cfg.Endpoint(id.SMTPServer)
	if !ok {
		return nil, fmt.Errorf("%w: identity %q references %q",
			ErrDanglingEndpointRef, id.Name, id.SMTPServer)
	}

	displayName := id.DisplayName
	if sel.DisplayName != "" {
		displayName = sel.DisplayName
	}

	return &SendProfile{
		Identity:    id,
		Endpoint:    ep,
		DisplayName: displayName,
	}, nil
}

// Attach returns a copy of the profile with the credential set.
func (p *SendProfile) Attach(cred credential.Credential) *SendProfile {
	out := *p
	out.Credential = cred
	return &out
}

func pick(cfg *config.Config, sel Selector) (config.Identity, error) {
	if sel.Name != "" {
		id, ok := cfg.Identity(sel.Name)
		if !ok {
			return config.Identity{}, fmt.Errorf("%w: %q (available: %s)",
				ErrUnknownIdentity, sel.Name, strings.Join(cfg.IdentityNames(), ", "))
		}
		return id, nil
	}

	if sel.FromAddr != "" {
		id, ok := cfg.IdentityByEmail(sel.FromAddr)
		if !ok {
			return config.Identity{}, fmt.Errorf("%w: %q (available: %s)",
				ErrUnknownFromAddress, sel.FromAddr, strings.Join(cfg.IdentityNames(), ", "))
		}
		return id, nil
	}

	if name := cfg.Defaults.DefaultIdentity; name != "" {
		if id, ok := cfg.Identity(name); ok {
			return id, nil
		}
	}

	// A single configured identity is the implicit default.
	if len(cfg.Identities) == 1 {
		return cfg.Identities[0], nil
	}

	return config.Identity{}, ErrNoIdentityConfigured
}

// Package config provides YAML configuration loading for tmail with
// environment-variable overrides and defaults layering.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"dario.cat/mergo"
	"github.com/charmbracelet/log"
	"gopkg.in/yaml.v3"
)

// DefaultSMTPPort is used when an endpoint does not list any ports.
const DefaultSMTPPort = 587

// DefaultRetries is the number of delivery retries after the first attempt.
const DefaultRetries = 1

// CredentialMethod identifies how an endpoint's secret is obtained.
// Exactly one method is active per endpoint; the combination is validated
// at load time, not at use.
type CredentialMethod int

const (
	// MethodNone means the endpoint authenticates anonymously.
	MethodNone CredentialMethod = iota

	// MethodCommand runs an external command and uses its stdout as secret.
	MethodCommand

	// MethodPlain uses the configured password verbatim.
	MethodPlain

	// MethodBase64 base64-decodes the configured password.
	MethodBase64
)

// String returns the config-file spelling of the method.
func (m CredentialMethod) String() string {
	switch m {
	case MethodCommand:
		return "password_cmd"
	case MethodPlain:
		return "plain"
	case MethodBase64:
		return "base64"
	default:
		return "none"
	}
}

// Config holds the complete application configuration.
type Config struct {
	Defaults   Defaults   `yaml:"defaults"`
	Endpoints  []Endpoint `yaml:"smtp_servers"`
	Identities []Identity `yaml:"identities"`
}

// Defaults holds global default values. Pointer fields distinguish
// "unset" from explicit zero values, so layering never clobbers an
// explicit `retries: 0` or `interactive: false`.
type Defaults struct {
	Retries          *int   `yaml:"retries"`
	Interactive      *bool  `yaml:"interactive"`
	SkipConfirmation *bool  `yaml:"skip_confirmation"`
	DefaultIdentity  string `yaml:"default_identity"`
}

// Endpoint describes one SMTP server: host, the ordered list of candidate
// ports and the TLS mode. Ports are attempted in the listed order, not
// sorted numerically.
type Endpoint struct {
	Name             string `yaml:"name"`
	Host             string `yaml:"host"`
	Ports            []int  `yaml:"ports"`
	User             string `yaml:"user"`
	Password         string `yaml:"password"`
	PasswordCmd      string `yaml:"password_cmd"`
	PasswordEncoding string `yaml:"password_encoding"`
	UseTLS           *bool  `yaml:"use_tls"`
}

// TLS reports whether the endpoint uses TLS. Unset defaults to true.
func (e Endpoint) TLS() bool {
	return e.UseTLS == nil || *e.UseTLS
}

// Method returns the active credential method for the endpoint.
// Validate guarantees at most one is configured.
func (e Endpoint) Method() CredentialMethod {
	switch {
	case e.PasswordCmd != "":
		return MethodCommand
	case e.Password != "" && strings.EqualFold(e.PasswordEncoding, "base64"):
		return MethodBase64
	case e.Password != "":
		return MethodPlain
	default:
		return MethodNone
	}
}

// Identity is a named from-address profile referencing one endpoint.
type Identity struct {
	Name        string   `yaml:"name"`
	Email       string   `yaml:"email"`
	DisplayName string   `yaml:"display_name"`
	SMTPServer  string   `yaml:"smtp_server"`
	ReplyTo     []string `yaml:"reply_to"`
}

// RetryCount returns the effective retry count.
func (d Defaults) RetryCount() int {
	if d.Retries == nil {
		return DefaultRetries
	}
	return *d.Retries
}

// InteractiveEnabled returns the effective interactive setting.
func (d Defaults) InteractiveEnabled() bool {
	return d.Interactive == nil || *d.Interactive
}

// ConfirmationSkipped returns the effective skip_confirmation setting.
func (d Defaults) ConfirmationSkipped() bool {
	return d.SkipConfirmation != nil && *d.SkipConfirmation
}

// Endpoint finds an endpoint by friendly name, case-insensitively.
func (c *Config) Endpoint(name string) (Endpoint, bool) {
	for _, e := range c.Endpoints {
		if strings.EqualFold(e.Name, name) {
			return e, true
		}
	}
	return Endpoint{}, false
}

// Identity finds an identity by friendly name, case-insensitively.
func (c *Config) Identity(name string) (Identity, bool) {
	for _, id := range c.Identities {
		if strings.EqualFold(id.Name, name) {
			return id, true
		}
	}
	return Identity{}, false
}

// IdentityByEmail finds the first identity with the given from-address.
func (c *Config) IdentityByEmail(email string) (Identity, bool) {
	for _, id := range c.Identities {
		if strings.EqualFold(id.Email, email) {
			return id, true
		}
	}
	return Identity{}, false
}

// IdentityNames returns the friendly names of all configured identities.
func (c *Config) IdentityNames() []string {
	names := make([]string, 0, len(c.Identities))
	for _, id := range c.Identities {
		names = append(names, id.Name)
	}
	return names
}

// Load reads the YAML file at path, layers built-in defaults underneath it
// and environment variables on top, normalizes per-endpoint defaults and
// validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	checkPermissions(path)

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := mergo.Merge(cfg, defaultConfig(), mergo.WithoutDereference); err != nil {
		return nil, fmt.Errorf("failed to apply defaults: %w", err)
	}

	cfg.applyEnvVars()
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Empty returns a configuration holding defaults only, used when the
// config file is skipped.
func Empty() *Config {
	cfg := defaultConfig()
	cfg.applyEnvVars()
	return cfg
}

func defaultConfig() *Config {
	retries := DefaultRetries
	interactive := true
	skip := false
	return &Config{
		Defaults: Defaults{
			Retries:          &retries,
			Interactive:      &interactive,
			SkipConfirmation: &skip,
		},
	}
}

// applyEnvVars overrides configuration with environment variable values.
// Only non-empty environment variables override existing values.
func (c *Config) applyEnvVars() {
	if v := os.Getenv("TMAIL_DEFAULT_IDENTITY"); v != "" {
		c.Defaults.DefaultIdentity = v
	}
	if v := os.Getenv("TMAIL_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			c.Defaults.Retries = &n
		}
	}
	if v := os.Getenv("TMAIL_INTERACTIVE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Defaults.Interactive = &b
		}
	}
	if v := os.Getenv("TMAIL_SKIP_CONFIRMATION"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Defaults.SkipConfirmation = &b
		}
	}
}

// normalize fills per-entry defaults: the standard submission port for
// endpoints without ports, and the identity's own address as its reply-to
// list when none is configured.
func (c *Config) normalize() {
	for i := range c.Endpoints {
		if len(c.Endpoints[i].Ports) == 0 {
			c.Endpoints[i].Ports = []int{DefaultSMTPPort}
		}
	}
	for i := range c.Identities {
		if len(c.Identities[i].ReplyTo) == 0 && c.Identities[i].Email != "" {
			c.Identities[i].ReplyTo = []string{c.Identities[i].Email}
		}
	}
}

// Validate checks structural integrity: required fields, credential method
// exclusivity, endpoint references and the default identity.
func (c *Config) Validate() error {
	if len(c.Endpoints) == 0 {
		return fmt.Errorf("no SMTP servers configured")
	}
	if len(c.Identities) == 0 {
		return fmt.Errorf("no identities configured")
	}

	endpointNames := make([]string, 0, len(c.Endpoints))
	for _, e := range c.Endpoints {
		if e.Name == "" {
			return fmt.Errorf("SMTP server missing required 'name' field")
		}
		if e.Host == "" {
			return fmt.Errorf("SMTP server %q missing required 'host' field", e.Name)
		}
		if e.PasswordEncoding != "" &&
			!strings.EqualFold(e.PasswordEncoding, "plain") &&
			!strings.EqualFold(e.PasswordEncoding, "base64") {
			return fmt.Errorf("SMTP server %q has invalid password_encoding %q: must be 'plain' or 'base64'",
				e.Name, e.PasswordEncoding)
		}
		if e.Password != "" && e.PasswordCmd != "" {
			return fmt.Errorf("SMTP server %q configures both 'password' and 'password_cmd': exactly one credential method is allowed",
				e.Name)
		}
		endpointNames = append(endpointNames, e.Name)
	}

	for _, id := range c.Identities {
		if id.Name == "" {
			return fmt.Errorf("identity missing required 'name' field")
		}
		if id.Email == "" {
			return fmt.Errorf("identity %q missing required 'email' field", id.Name)
		}
		if id.SMTPServer == "" {
			return fmt.Errorf("identity %q missing required 'smtp_server' field", id.Name)
		}
		if _, ok := c.Endpoint(id.SMTPServer); !ok {
			return fmt.Errorf("identity %q references unknown SMTP server %q (available: %s)",
				id.Name, id.SMTPServer, strings.Join(endpointNames, ", "))
		}
	}

	if name := c.Defaults.DefaultIdentity; name != "" {
		if _, ok := c.Identity(name); !ok {
			return fmt.Errorf("default identity %q not found (available: %s)",
				name, strings.Join(c.IdentityNames(), ", "))
		}
	}
	return nil
}

// checkPermissions warns when the config file is readable by group or
// others, since it may hold passwords.
func checkPermissions(path string) {
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	mode := info.Mode().Perm()
	switch {
	case mode&0o006 != 0:
		log.Warn("config file is readable or writable by others; it may expose passwords",
			"path", path, "recommended", "chmod 600")
	case mode&0o060 != 0:
		log.Warn("config file is readable or writable by group",
			"path", path, "recommended", "chmod 600")
	}
}

package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/junxit/tmail/internal/composer"
	"github.com/junxit/tmail/internal/config"
	"github.com/junxit/tmail/internal/credential"
	"github.com/junxit/tmail/internal/delivery"
	"github.com/junxit/tmail/internal/identity"
	"github.com/junxit/tmail/internal/message"
)

func run(cmd *cobra.Command, recipients []string) error {
	if ignoreInterrupts {
		signal.Ignore(os.Interrupt)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if listAccounts {
		renderAccounts(cmd.OutOrStdout(), cfg)
		return nil
	}

	ctx := cmd.Context()

	// Resolve identity and endpoint, then the credential, exactly once
	// per send. Resolution errors are fatal before any build or delivery
	// work happens.
	profile, err := identity.Resolve(cfg, identity.Selector{
		Name:        identityName,
		FromAddr:    fromAddr,
		DisplayName: displayName,
	})
	if err != nil {
		return err
	}

	cred, err := credential.Resolve(ctx, profile.Endpoint)
	if err != nil {
		return err
	}
	profile = profile.Attach(cred)

	if replyTo != "" && !contains(profile.Identity.ReplyTo, replyTo) {
		log.Warn("reply-to override is not in the identity's configured list",
			"reply_to", replyTo,
			"allowed", strings.Join(profile.Identity.ReplyTo, ", "),
		)
	}

	in := message.Input{
		To:              recipients,
		Cc:              ccAddrs,
		Bcc:             bccAddrs,
		Subject:         subject,
		AttachmentPaths: attachPaths,
		ReplyToOverride: replyTo,
		DiscardEmpty:    discardEmpty,
	}

	stdinTTY := isatty.IsTerminal(os.Stdin.Fd())
	wantInteractive := effectiveInteractive(cmd, cfg) && stdinTTY

	if wantInteractive {
		composed, err := composer.Compose(subject)
		if err != nil {
			return err
		}
		if composed.Cancelled {
			fmt.Fprintln(cmd.OutOrStdout(), "Message composition cancelled.")
			return nil
		}
		in.Subject = composed.Subject
		in.Body = composed.Body
	} else {
		in.BodyReader = cmd.InOrStdin()
	}

	out, err := message.Build(profile, in)
	if err != nil {
		if errors.Is(err, message.ErrEmptyMessage) {
			log.Info("message body is empty, discarding")
			return nil
		}
		return err
	}

	policy := delivery.DefaultPolicy(effectiveRetries(cmd, cfg))
	engine := delivery.NewEngine(delivery.NewSMTPTransport())

	if dryRun {
		outcome, err := engine.Send(ctx, profile, out, policy, true)
		if err != nil {
			return err
		}
		renderPreview(cmd.OutOrStdout(), outcome.Preview)
		return nil
	}

	if !effectiveSkipConfirmation(cmd, cfg) && stdinTTY {
		if !composer.Confirm(os.Stdin, cmd.OutOrStdout(), out.Recipients()) {
			fmt.Fprintln(cmd.OutOrStdout(), "Message not sent.")
			return nil
		}
	}

	outcome, err := engine.Send(ctx, profile, out, policy, false)
	if err != nil {
		return err
	}

	return renderOutcome(cmd.OutOrStdout(), outcome)
}

func loadConfig() (*config.Config, error) {
	if noConfig {
		return config.Empty(), nil
	}

	path := configPath()
	cfg, err := config.Load(path)
	if err != nil {
		// A missing config file is survivable when the sender is fully
		// specified on the command line; resolution will fail later
		// with a precise error if it is not.
		if errors.Is(err, os.ErrNotExist) {
			log.Warn("config file not found", "path", path)
			return config.Empty(), nil
		}
		return nil, err
	}
	return cfg, nil
}

// effectiveInteractive layers the CLI flag over the config default.
func effectiveInteractive(cmd *cobra.Command, cfg *config.Config) bool {
	if cmd.Flags().Changed("interactive") {
		return interactive
	}
	return cfg.Defaults.InteractiveEnabled()
}

func effectiveSkipConfirmation(cmd *cobra.Command, cfg *config.Config) bool {
	if skipConfirmation {
		return true
	}
	return cfg.Defaults.ConfirmationSkipped()
}

func effectiveRetries(cmd *cobra.Command, cfg *config.Config) int {
	if cmd.Flags().Changed("retries") {
		return retries
	}
	return cfg.Defaults.RetryCount()
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if strings.EqualFold(item, v) {
			return true
		}
	}
	return false
}

// renderOutcome prints the terminal result and maps it to the process
// exit code via the returned error.
func renderOutcome(w io.Writer, outcome *delivery.Outcome) error {
	switch outcome.State {
	case delivery.StateSent:
		fmt.Fprintf(w, "Message sent via %s (attempt %d)\n",
			outcome.Target.Addr(), outcome.Attempts)
		return nil
	default:
		for _, f := range outcome.Failures {
			log.Error("delivery attempt failed",
				"attempt", f.Attempt,
				"target", f.Target.Addr(),
				"error", f.Err,
			)
		}
		return fmt.Errorf("failed to send after %d attempt(s): %w",
			outcome.Attempts, outcome.Err())
	}
}

func renderPreview(w io.Writer, p *delivery.Preview) {
	mode := "plaintext"
	switch {
	case p.Target.ImplicitTLS:
		mode = "tls"
	case p.Target.UseTLS:
		mode = "starttls"
	}

	fmt.Fprintln(w, "DRY RUN - message not sent")
	fmt.Fprintf(w, "From: %s\n", p.From)
	fmt.Fprintf(w, "To: %s\n", strings.Join(p.Recipients, ", "))
	fmt.Fprintf(w, "Subject: %s\n", p.Subject)
	fmt.Fprintf(w, "Server: %s (%s)\n", p.Target.Addr(), mode)
	fmt.Fprintf(w, "Size: %s\n", formatSize(p.Size))
}

func renderAccounts(w io.Writer, cfg *config.Config) {
	if len(cfg.Identities) == 0 {
		fmt.Fprintln(w, "No identities configured.")
		return
	}

	fmt.Fprintln(w, "SMTP servers:")
	for _, ep := range cfg.Endpoints {
		fmt.Fprintf(w, "  [%s]\n", ep.Name)
		fmt.Fprintf(w, "    Host: %s\n", ep.Host)
		fmt.Fprintf(w, "    Ports: %s\n", joinPorts(ep.Ports))
		fmt.Fprintf(w, "    TLS: %t\n", ep.TLS())
	}

	fmt.Fprintln(w, "\nIdentities:")
	for _, id := range cfg.Identities {
		marker := ""
		if strings.EqualFold(id.Name, cfg.Defaults.DefaultIdentity) {
			marker = " (default)"
		}
		fmt.Fprintf(w, "  [%s]%s\n", id.Name, marker)
		fmt.Fprintf(w, "    Email: %s\n", id.Email)
		if id.DisplayName != "" {
			fmt.Fprintf(w, "    Display name: %s\n", id.DisplayName)
		}
		fmt.Fprintf(w, "    SMTP server: %s\n", id.SMTPServer)
		fmt.Fprintf(w, "    Reply-To: %s\n", strings.Join(id.ReplyTo, ", "))
	}
}

func joinPorts(ports []int) string {
	parts := make([]string, 0, len(ports))
	for _, p := range ports {
		parts = append(parts, fmt.Sprintf("%d", p))
	}
	return strings.Join(parts, ", ")
}

// formatSize formats a byte count into a human-readable string.
func formatSize(n int64) string {
	const (
		kb = 1024
		mb = kb * 1024
	)
	switch {
	case n >= mb:
		return fmt.Sprintf("%.1f MB", float64(n)/float64(mb))
	case n >= kb:
		return fmt.Sprintf("%.1f KB", float64(n)/float64(kb))
	default:
		return fmt.Sprintf("%d B", n)
	}
}

/*
Package cmd provides the tmail command-line interface: mail(1)-compatible
flags, identity selection and the wiring from configuration to delivery.
*/
package cmd

import (
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
)

// Version is set via -ldflags at build time.
var Version = "dev"

var (
	subject          string
	ccAddrs          []string
	bccAddrs         []string
	fromAddr         string
	attachPaths      []string
	ignoreInterrupts bool
	verbose          bool
	debug            bool
	noConfig         bool
	discardEmpty     bool

	cfgFile          string
	identityName     string
	displayName      string
	replyTo          string
	interactive      bool
	skipConfirmation bool
	retries          int
	dryRun           bool
	listAccounts     bool
)

var rootCmd = &cobra.Command{
	Use:   "tmail [flags] recipient...",
	Short: "Send email from the command line",
	Long: `tmail sends email from the command line with mail(1)-compatible
flags and layered SMTP configuration.

Identities and SMTP servers live in ~/.tmail.yaml. Each identity picks a
from-address, display name and server; each server lists candidate ports
that are tried in order, with retries and exponential backoff on
transient failures.

Example:
  echo "body" | tmail -s "Hi" alice@example.com
  tmail -s "Report" -a report.pdf --identity work bob@example.com
  tmail --dry-run -s "Test" alice@example.com < body.txt`,
	Version:      Version,
	SilenceUsage: true,
	Args:         cobra.ArbitraryArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd, args)
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initLogger)

	flags := rootCmd.Flags()

	// mail-compatible options
	flags.StringVarP(&subject, "subject", "s", "", "subject line of the message")
	flags.StringArrayVarP(&ccAddrs, "cc", "c", nil, "carbon copy recipient (repeatable)")
	flags.StringArrayVarP(&bccAddrs, "bcc", "b", nil, "blind carbon copy recipient (repeatable)")
	flags.StringVarP(&fromAddr, "from", "r", "", "from/envelope sender address")
	flags.StringArrayVarP(&attachPaths, "attach", "a", nil, "attach file (repeatable)")
	flags.BoolVarP(&ignoreInterrupts, "ignore-interrupts", "i", false, "ignore terminal interrupt signals")
	flags.BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	flags.BoolVarP(&noConfig, "no-config", "n", false, "do not read the config file")
	flags.BoolVarP(&discardEmpty, "discard-empty", "E", false, "discard messages with an empty body")

	// tmail-specific options
	flags.StringVar(&cfgFile, "config", "", "path to config file (default ~/.tmail.yaml)")
	flags.StringVar(&identityName, "identity", "", "identity to use, by friendly name")
	flags.StringVar(&displayName, "display-name", "", "display name override for this message")
	flags.StringVar(&replyTo, "reply-to", "", "reply-to address override")
	flags.BoolVar(&interactive, "interactive", true, "compose the message in $EDITOR when on a terminal")
	flags.BoolVar(&skipConfirmation, "skip-confirmation", false, "skip the final send confirmation prompt")
	flags.IntVar(&retries, "retries", 0, "delivery retries after the first attempt")
	flags.BoolVar(&dryRun, "dry-run", false, "show what would be sent without sending")
	flags.BoolVar(&listAccounts, "list-accounts", false, "list configured identities and servers, then exit")
	flags.BoolVar(&debug, "debug", false, "debug output")
}

func initLogger() {
	switch {
	case debug:
		log.SetLevel(log.DebugLevel)
	case verbose:
		log.SetLevel(log.InfoLevel)
	default:
		log.SetLevel(log.WarnLevel)
	}
	log.SetReportTimestamp(false)
}

// configPath returns the effective config file location.
func configPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".tmail.yaml"
	}
	return filepath.Join(home, ".tmail.yaml")
}

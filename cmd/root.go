package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"mint/pak"
	"mint/provider"
	"mint/ui"
)

var rootCmd = &cobra.Command{
	Use:   "mint",
	Short: "Third-party mod integrator for Deep Rock Galactic",
	Long: `Mint fetches mods from mod.io, plain URLs or local files, merges them
into a single mod_P.pak and installs it into the game together with the
runtime hook.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Exit codes: 0 success, 1 user error, 2 transient error, 3 integrity
// error.
const (
	exitOK        = 0
	exitUser      = 1
	exitTransient = 2
	exitIntegrity = 3
)

func exitCodeFor(err error) int {
	if err == nil {
		return exitOK
	}

	var corrupt *pak.CorruptIndexError
	var truncated *pak.TruncatedEntryError
	var badHash *pak.BadHashError
	if errors.As(err, &corrupt) || errors.As(err, &truncated) || errors.As(err, &badHash) ||
		errors.Is(err, pak.ErrUnsupportedVersion) ||
		errors.Is(err, pak.ErrUnsupportedCompression) ||
		errors.Is(err, pak.ErrEncrypted) {
		return exitIntegrity
	}

	var unavailable *provider.UnavailableError
	var rateLimited *provider.RateLimitedError
	var status *provider.HTTPStatusError
	if errors.As(err, &unavailable) || errors.As(err, &rateLimited) || errors.As(err, &status) {
		return exitTransient
	}

	return exitUser
}

// Execute runs the CLI and exits with the mapped code.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	if err == nil {
		return
	}
	if errors.Is(err, context.Canceled) {
		// Cancellation is status, not failure.
		fmt.Fprintln(os.Stderr, "cancelled")
		os.Exit(exitOK)
	}
	fmt.Fprintln(os.Stderr, ui.Error("error: ")+err.Error())
	os.Exit(exitCodeFor(err))
}

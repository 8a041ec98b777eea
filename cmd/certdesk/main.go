// Command certdesk stages certificate files, runs them through CSV parsing or
// OCR extraction, lets an operator review and approve the results, and manages
// fraud logs and the blacklist on the verification backend.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dharsanguruparan/certdesk/internal/api"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a := &app{}
	if err := execute(ctx, a, newRootCommand(a)); err != nil {
		fmt.Fprintf(os.Stderr, "certdesk: %v\n", err)
		if api.IsUnauthorized(err) {
			fmt.Fprintln(os.Stderr, "certdesk: run \"certdesk login\" to authenticate")
		}
		os.Exit(1)
	}
}

// execute runs cmd and releases whatever the command opened, including when it
// failed.
func execute(ctx context.Context, a *app, cmd *cobra.Command) error {
	defer a.close()
	return cmd.ExecuteContext(ctx)
}

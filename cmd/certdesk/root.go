package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dharsanguruparan/certdesk/internal/api"
	"github.com/dharsanguruparan/certdesk/internal/config"
)

func newRootCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "certdesk",
		Short: "Certificate bulk-review and fraud desk",
		Long: `CertDesk stages certificate files (CSV sheets, PDFs and images), extracts their
data through CSV parsing or the OCR service, and submits reviewed records for bulk
approval. It also browses fraud logs and manages the blacklist.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd)
		},
	}
	cmd.PersistentFlags().StringVarP(&a.session, "session", "s", "", "Review session id (default from config)")
	cmd.AddCommand(
		newLoginCmd(a),
		newIntakeCmd(a),
		newProcessCmd(a),
		newRetryCmd(a),
		newStatusCmd(a),
		newSelectCmd(a),
		newEditCmd(a),
		newRejectCmd(a),
		newSubmitCmd(a),
		newResetCmd(a),
		newWatchCmd(a),
		newFraudCmd(a),
		newBlacklistCmd(a),
	)
	return cmd
}

func newLoginCmd(a *app) *cobra.Command {
	var username string
	var password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authenticate and store the bearer token",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if password == "" {
				password = os.Getenv("CERTDESK_PASSWORD")
			}
			if username == "" || password == "" {
				return fmt.Errorf("username and password are required")
			}
			if err := a.client.Health(ctx); err != nil {
				a.banner.Error(api.Message(err))
				return fmt.Errorf("backend %s unreachable: %w", a.cfg.APIBaseURL, err)
			}
			res, err := a.client.Login(ctx, username, password)
			if err != nil {
				a.banner.Error(api.Message(err))
				return err
			}
			if err := config.WriteToken(a.cfg.TokenFile, res.Token); err != nil {
				return err
			}
			a.client.SetToken(res.Token)
			fmt.Fprintf(a.out, "logged in as %s (%s)\n", res.User.Username, res.User.Role)
			return nil
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "Account username")
	cmd.Flags().StringVarP(&password, "password", "p", "", "Account password (or CERTDESK_PASSWORD)")
	return cmd
}

// confirm asks a yes/no question on in; anything but y/yes is a no.
func confirm(in io.Reader, out io.Writer, question string) bool {
	fmt.Fprintf(out, "%s [y/N]: ", question)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	}
	return false
}

package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/moltbot/moltbot-email/internal/config"
	"github.com/moltbot/moltbot-email/internal/mail"
)

func authorizeCmd() *cobra.Command {
	var accountID string

	cmd := &cobra.Command{
		Use:   "authorize",
		Short: "Authorize Gmail access and store the refresh token",
		Long:  "Prints the Google consent URL, exchanges the pasted authorization code for a refresh token, and writes it back to the config file.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}

			acct, ok := cfg.Accounts[accountID]
			if !ok {
				return fmt.Errorf("unknown account: %s", accountID)
			}
			if acct.Transport != "" && acct.Transport != "gmail" {
				return fmt.Errorf("account %s uses the %s transport, nothing to authorize", accountID, acct.Transport)
			}

			creds := acct.Credentials
			if creds == nil || creds.ClientID == "" || creds.ClientSecret == "" {
				return fmt.Errorf("missing Gmail OAuth2 credentials, run init first")
			}

			fmt.Printf("Open this URL in your browser to authorize moltbot-email:\n\n%s\n\n", mail.AuthURL(creds))
			fmt.Print("Paste the authorization code: ")

			reader := bufio.NewReader(os.Stdin)
			code, err := reader.ReadString('\n')
			if err != nil {
				return err
			}
			code = strings.TrimSpace(code)
			if code == "" {
				return fmt.Errorf("no authorization code provided")
			}

			token, err := mail.ExchangeCode(cmd.Context(), creds, code)
			if err != nil {
				return err
			}
			if token == "" {
				return fmt.Errorf("no refresh token returned; revoke access and try again")
			}

			creds.RefreshToken = token
			if err := cfg.Save(cfgFile); err != nil {
				return err
			}

			fmt.Println("\nAuthorization complete. Refresh token saved.")
			return nil
		},
	}

	cmd.Flags().StringVar(&accountID, "account", "default", "account to authorize")
	return cmd
}

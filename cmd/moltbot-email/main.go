// Command moltbot-email connects a Gmail (or IMAP) mailbox to the
// Moltbot agent host as an email channel: it polls for new mail,
// admits allow-listed senders, routes their messages into agent
// sessions, and sends agent replies back on the original thread.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/moltbot/moltbot-email/internal/channel"
	"github.com/moltbot/moltbot-email/internal/config"
	"github.com/moltbot/moltbot-email/internal/mail"
	"github.com/moltbot/moltbot-email/internal/policy"
	"github.com/moltbot/moltbot-email/internal/routing"
	"github.com/moltbot/moltbot-email/internal/subject"
)

var (
	cfgFile string
	verbose bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "moltbot-email",
		Short: "Email channel for Moltbot",
		Long:  "Poll a mailbox for new mail, route allow-listed senders into Moltbot agent sessions, and reply by email on the original thread.",
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.config/moltbot-email/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(probeCmd())
	rootCmd.AddCommand(sendCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(authorizeCmd())
	rootCmd.AddCommand(initCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run as daemon, polling all configured accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}

			logger := setupLogger()

			store, err := routing.OpenStore(cfg.Routing.StateDB)
			if err != nil {
				return fmt.Errorf("failed to open session store: %w", err)
			}
			defer store.Close()

			bridge := routing.NewBridge(cfg.Routing.HostCLI, cfg.Routing.SessionScope, store, logger)
			if !bridge.IsAvailable() {
				return fmt.Errorf("moltbot CLI not found at: %s", cfg.Routing.HostCLI)
			}

			plugin := channel.NewPlugin(cfg, bridge, nil, logger)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

			if err := plugin.StartAll(ctx); err != nil {
				return err
			}
			defer plugin.StopAll()

			logger.Info("moltbot-email started", "channel", plugin.ID())

			<-sigCh
			logger.Info("shutting down...")
			return nil
		},
	}
}

func probeCmd() *cobra.Command {
	var accountID string

	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Check whether an account is configured and authorized",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}

			acct, ok := cfg.Accounts[accountID]
			if !ok {
				return fmt.Errorf("unknown account: %s", accountID)
			}

			if err := channel.Probe(acct); err != nil {
				var cfgErr *channel.ConfigError
				if errors.As(err, &cfgErr) {
					fmt.Printf("not ready: %s\n", cfgErr.Reason)
					if cfgErr.AuthURL != "" {
						fmt.Printf("\nAuthorize at:\n%s\n", cfgErr.AuthURL)
					}
					return nil
				}
				return err
			}

			fmt.Println("ok")
			return nil
		},
	}

	cmd.Flags().StringVar(&accountID, "account", "default", "account to probe")
	return cmd
}

func sendCmd() *cobra.Command {
	var accountID, to string

	cmd := &cobra.Command{
		Use:   "send [text]",
		Short: "Send an email through a configured account",
		Long:  "Send a one-off email. The body comes from the argument or stdin; the recipient must pass the account's allow_to list.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}

			acct, ok := cfg.Accounts[accountID]
			if !ok {
				return fmt.Errorf("unknown account: %s", accountID)
			}

			body := strings.Join(args, " ")
			if body == "" {
				data, err := io.ReadAll(os.Stdin)
				if err != nil {
					return err
				}
				body = strings.TrimSpace(string(data))
			}
			if body == "" {
				return fmt.Errorf("empty message body")
			}

			recipient := to
			if recipient == "" {
				recipient = acct.DefaultRecipient
			}
			if recipient == "" {
				return fmt.Errorf("no recipient specified")
			}
			if !policy.RecipientAllowed(recipient, acct.AllowTo) {
				return fmt.Errorf("recipient %s not in allow_to list", recipient)
			}

			logger := setupLogger()

			ctx := cmd.Context()
			transport, err := channel.DefaultTransportFactory(ctx, acct, logger)
			if err != nil {
				return fmt.Errorf("failed to create transport: %w", err)
			}
			defer transport.Close()

			id, err := transport.Send(ctx, mail.Outbound{
				To:      recipient,
				Subject: subject.Synthesize(body, acct.SubjectPrefix),
				Body:    body,
			})
			if err != nil {
				return err
			}

			fmt.Printf("sent to %s (id: %s)\n", recipient, id)
			return nil
		},
	}

	cmd.Flags().StringVar(&accountID, "account", "default", "account to send from")
	cmd.Flags().StringVar(&to, "to", "", "recipient address (default: account's default_recipient)")
	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show account and session-store status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}

			for accountID, acct := range cfg.Accounts {
				state := "ready"
				if err := channel.Probe(acct); err != nil {
					var cfgErr *channel.ConfigError
					if errors.As(err, &cfgErr) {
						state = cfgErr.Reason
					} else {
						state = err.Error()
					}
				}
				fmt.Printf("%s: transport=%s interval=%s %s\n",
					accountID, acct.Transport, acct.PollInterval(), state)
			}

			store, err := routing.OpenStore(cfg.Routing.StateDB)
			if err != nil {
				return fmt.Errorf("failed to open session store: %w", err)
			}
			defer store.Close()

			count, err := store.SessionCount()
			if err != nil {
				return err
			}
			fmt.Printf("\nActive sessions: %d\n", count)
			return nil
		},
	}
}

func setupLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

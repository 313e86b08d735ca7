package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/moltbot/moltbot-email/internal/config"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212")).
			MarginBottom(1)

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42"))

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("243"))
)

func initCmd() *cobra.Command {
	var accountID string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Setup moltbot-email configuration",
		Long:  "Interactive wizard to configure a mailbox account. Can be re-run anytime to update settings.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(accountID)
		},
	}

	cmd.Flags().StringVar(&accountID, "account", "default", "account to configure")
	return cmd
}

func runInit(accountID string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		cfg = &config.Config{Accounts: map[string]*config.Account{}}
	} else {
		fmt.Println(infoStyle.Render("Existing config found. Current values shown as defaults.\n"))
	}

	acct, ok := cfg.Accounts[accountID]
	if !ok {
		acct = &config.Account{
			Enabled:        true,
			Transport:      "gmail",
			PollIntervalMs: config.DefaultPollIntervalMs,
			MaxFetch:       config.DefaultMaxFetch,
		}
		cfg.Accounts[accountID] = acct
	}

	fmt.Println(titleStyle.Render("📧 Mailbox"))

	transport := acct.Transport
	err = huh.NewSelect[string]().
		Title("How will this account receive mail?").
		Options(
			huh.NewOption("Gmail API (OAuth2)", "gmail"),
			huh.NewOption("Generic IMAP + SMTP", "imap"),
		).
		Value(&transport).
		Run()
	if err != nil {
		return err
	}
	acct.Transport = transport

	switch transport {
	case "gmail":
		if err := configureGmail(acct); err != nil {
			return err
		}
	case "imap":
		if err := configureIMAP(acct); err != nil {
			return err
		}
	}

	fmt.Println(titleStyle.Render("\n🛂 Admission policy"))
	if err := configurePolicy(acct); err != nil {
		return err
	}

	fmt.Println(titleStyle.Render("\n🤖 Moltbot host"))
	if err := configureRouting(&cfg.Routing); err != nil {
		return err
	}

	if err := cfg.Save(cfgFile); err != nil {
		return err
	}

	fmt.Println(successStyle.Render("\nConfiguration saved."))
	if transport == "gmail" && (acct.Credentials == nil || acct.Credentials.RefreshToken == "") {
		fmt.Println(infoStyle.Render("Run `moltbot-email authorize` to grant mailbox access."))
	}
	return nil
}

func configureGmail(acct *config.Account) error {
	if acct.Credentials == nil {
		acct.Credentials = &config.Credentials{}
	}
	creds := acct.Credentials

	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("OAuth2 client ID").
				Value(&creds.ClientID),
			huh.NewInput().
				Title("OAuth2 client secret").
				Value(&creds.ClientSecret).
				EchoMode(huh.EchoModePassword),
			huh.NewInput().
				Title("Redirect URI").
				Description("Leave empty for http://localhost").
				Value(&creds.RedirectURI),
		),
	).Run()
}

func configureIMAP(acct *config.Account) error {
	if acct.IMAP == nil {
		acct.IMAP = &config.IMAPConfig{Folder: "INBOX"}
	}
	if acct.SMTP == nil {
		acct.SMTP = &config.SMTPConfig{}
	}

	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("IMAP server").
				Description("host:port, e.g. imap.fastmail.com:993").
				Value(&acct.IMAP.Server),
			huh.NewInput().
				Title("IMAP username").
				Value(&acct.IMAP.Username),
			huh.NewInput().
				Title("Password command").
				Description("Shell command that prints the password, e.g. `pass show mail`").
				Value(&acct.IMAP.PasswordCmd),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("SMTP server").
				Description("host:port, e.g. smtp.fastmail.com:587").
				Value(&acct.SMTP.Server),
			huh.NewInput().
				Title("SMTP username").
				Value(&acct.SMTP.Username),
			huh.NewInput().
				Title("SMTP password command").
				Value(&acct.SMTP.PasswordCmd),
			huh.NewInput().
				Title("From address").
				Value(&acct.SMTP.From),
		),
	).Run()
}

func configurePolicy(acct *config.Account) error {
	allowFrom := strings.Join(acct.AllowFrom, ", ")
	allowTo := strings.Join(acct.AllowTo, ", ")
	interval := strconv.Itoa(acct.PollIntervalMs)

	err := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Allowed senders").
				Description("Comma-separated addresses, domains, or *. Empty denies all inbound mail.").
				Value(&allowFrom),
			huh.NewInput().
				Title("Allowed recipients").
				Description("Comma-separated addresses or *. Empty allows all outbound mail.").
				Value(&allowTo),
			huh.NewInput().
				Title("Poll interval (ms)").
				Value(&interval),
			huh.NewInput().
				Title("Subject prefix").
				Description("Optional, e.g. [Moltbot]").
				Value(&acct.SubjectPrefix),
			huh.NewInput().
				Title("Default recipient").
				Description("Optional fallback for outbound sends").
				Value(&acct.DefaultRecipient),
		),
	).Run()
	if err != nil {
		return err
	}

	acct.AllowFrom = splitList(allowFrom)
	acct.AllowTo = splitList(allowTo)
	if ms, err := strconv.Atoi(strings.TrimSpace(interval)); err == nil && ms > 0 {
		acct.PollIntervalMs = ms
	}
	return nil
}

func configureRouting(r *config.Routing) error {
	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Moltbot CLI path").
				Value(&r.HostCLI),
			huh.NewSelect[string]().
				Title("Session scope for email senders").
				Options(
					huh.NewOption("Direct message per sender", "dm"),
					huh.NewOption("Shared group session", "group"),
				).
				Value(&r.SessionScope),
		),
	).Run()
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

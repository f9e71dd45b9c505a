package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/deemkeen/ivory/domain"
	"github.com/deemkeen/ivory/util"
	"github.com/deemkeen/ivory/web"
	"github.com/spf13/cobra"
)

var (
	primaryColor = lipgloss.Color("#FF79C6")
	accentColor  = lipgloss.Color("#50FA7B")
	mutedColor   = lipgloss.Color("#6272A4")

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(primaryColor).
			Padding(0, 1)
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor)
	keyStyle = lipgloss.NewStyle().
			Foreground(mutedColor).
			Width(18)
	valueStyle = lipgloss.NewStyle().
			Foreground(accentColor)
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, log, database, err := openDatabase()
			if err != nil {
				return err
			}
			defer database.Close()
			defer log.Sync()

			version, err := database.CheckMigrationStatus()
			if err != nil {
				return err
			}
			fmt.Printf("Database schema at version %d\n", version)
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := loadConf()
			if err != nil {
				return err
			}
			if asJSON {
				masked := *conf
				masked.Conf.JwtSecret = mask(conf.Conf.JwtSecret)
				masked.Mail.Password = mask(conf.Mail.Password)
				fmt.Println(util.PrettyPrint(masked))
				return nil
			}
			fmt.Println(renderConf(conf))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}

type row struct{ key, value string }

func section(title string, rows ...row) string {
	lines := []string{titleStyle.Render(title)}
	for _, r := range rows {
		lines = append(lines, keyStyle.Render(r.key)+valueStyle.Render(r.value))
	}
	return strings.Join(lines, "\n")
}

func mask(secret string) string {
	if secret == "" {
		return "(unset)"
	}
	return "********"
}

func renderConf(conf *util.AppConfig) string {
	server := section("Server",
		row{"host", conf.Conf.Host},
		row{"httpPort", fmt.Sprint(conf.Conf.HttpPort)},
		row{"sslDomain", conf.Conf.SslDomain},
		row{"withAp", fmt.Sprint(conf.Conf.WithAp)},
		row{"closed", fmt.Sprint(conf.Conf.Closed)},
		row{"database", conf.Conf.Database},
		row{"jwtSecret", mask(conf.Conf.JwtSecret)},
		row{"debug", fmt.Sprint(conf.Conf.Debug)},
	)
	federation := section("Federation",
		row{"keyFetchTimeout", conf.Federation.KeyFetchTimeout.String()},
		row{"keyCacheTTL", conf.Federation.KeyCacheTTL.String()},
		row{"maxClockSkew", conf.Federation.MaxClockSkew.String()},
		row{"fanoutWorkers", fmt.Sprint(conf.Federation.FanoutWorkers)},
		row{"deliveryInterval", conf.Federation.DeliveryInterval.String()},
	)
	mailSection := section("Mail",
		row{"enabled", fmt.Sprint(conf.Mail.Enabled)},
		row{"host", conf.Mail.Host},
		row{"port", fmt.Sprint(conf.Mail.Port)},
		row{"username", conf.Mail.Username},
		row{"password", mask(conf.Mail.Password)},
		row{"from", conf.Mail.From},
	)
	header := titleStyle.Render(util.GetNameAndVersion())
	return panelStyle.Render(lipgloss.JoinVertical(lipgloss.Left, header, "", server, "", federation, "", mailSection))
}

func accountCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Manage local accounts",
	}
	cmd.AddCommand(accountCreateCmd(), accountTokenCmd())
	return cmd
}

func accountCreateCmd() *cobra.Command {
	var (
		email  string
		locked bool
		force  bool
	)
	cmd := &cobra.Command{
		Use:   "create <username>",
		Short: "Create a local actor with a fresh RSA keypair",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, log, database, err := openDatabase()
			if err != nil {
				return err
			}
			defer database.Close()
			defer log.Sync()

			if conf.Conf.Closed && !force {
				return fmt.Errorf("registrations are closed; pass --force to create %q anyway", args[0])
			}
			username := strings.ToLower(strings.TrimSpace(args[0]))
			if !validUsername(username) {
				return fmt.Errorf("invalid username %q: use a-z, 0-9 and _", args[0])
			}

			keys, err := util.GeneratePemKeypair(2048)
			if err != nil {
				return err
			}
			base := "https://" + conf.Conf.SslDomain
			uri := base + "/users/" + username
			actor := &domain.Actor{
				URI:            uri,
				Username:       username,
				Domain:         conf.Conf.SslDomain,
				Email:          email,
				InboxURI:       uri + "/inbox",
				SharedInboxURI: base + "/inbox",
				OutboxURI:      uri + "/outbox",
				FollowersURI:   uri + "/followers",
				PublicKeyPem:   keys.Public,
				PrivateKeyPem:  keys.Private,
				Locked:         locked,
			}
			if err := database.CreateLocalActor(context.Background(), actor); err != nil {
				return fmt.Errorf("creating %s: %w", username, err)
			}

			fmt.Println(panelStyle.Render(section("Account created",
				row{"handle", fmt.Sprintf("@%s@%s", username, conf.Conf.SslDomain)},
				row{"id", actor.Id.String()},
				row{"uri", actor.URI},
				row{"locked", fmt.Sprint(actor.Locked)},
			)))
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "address for mention mails")
	cmd.Flags().BoolVar(&locked, "locked", false, "manually approve followers")
	cmd.Flags().BoolVar(&force, "force", false, "create even when registrations are closed")
	return cmd
}

func accountTokenCmd() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token <username>",
		Short: "Issue a client API token for a local actor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, log, database, err := openDatabase()
			if err != nil {
				return err
			}
			defer database.Close()
			defer log.Sync()

			actor, err := database.ReadActorByUsername(context.Background(), args[0])
			if err != nil {
				return fmt.Errorf("reading %s: %w", args[0], err)
			}
			token, err := web.NewTokenAuth(conf.Conf.JwtSecret).Issue(actor.Id, ttl)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 30*24*time.Hour, "token lifetime")
	return cmd
}

func validUsername(username string) bool {
	if username == "" || len(username) > 30 {
		return false
	}
	for _, r := range username {
		if !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '_') {
			return false
		}
	}
	return true
}

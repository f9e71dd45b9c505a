package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/deemkeen/ivory/activitypub"
	"github.com/deemkeen/ivory/db"
	"github.com/deemkeen/ivory/mail"
	"github.com/deemkeen/ivory/notify"
	"github.com/deemkeen/ivory/stream"
	"github.com/deemkeen/ivory/timeline"
	"github.com/deemkeen/ivory/util"
	"github.com/deemkeen/ivory/web"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var configFile string

func main() {
	rootCmd := &cobra.Command{
		Use:     util.Name,
		Short:   "ActivityPub federation server",
		Long:    "ivory federates statuses, follows and notifications with other ActivityPub servers.",
		Version: util.GetVersion(),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path")

	rootCmd.AddCommand(serveCmd(), migrateCmd(), configCmd(), accountCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConf() (*util.AppConfig, error) {
	if configFile != "" {
		return util.ReadConfFile(configFile)
	}
	return util.ReadConf()
}

// openDatabase loads the config, builds the logger and opens the migrated database.
func openDatabase() (*util.AppConfig, *zap.Logger, *db.DB, error) {
	conf, err := loadConf()
	if err != nil {
		return nil, nil, nil, err
	}
	log, err := util.NewLogger(conf.Conf.Debug)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("building logger: %w", err)
	}
	database, err := db.Open(conf.Conf.Database, log)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := database.RunMigrations(); err != nil {
		database.Close()
		return nil, nil, nil, err
	}
	return conf, log, database, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server and the delivery worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func runServe() error {
	conf, log, database, err := openDatabase()
	if err != nil {
		return err
	}
	defer database.Close()
	defer log.Sync()

	log.Info("Starting "+util.GetNameAndVersion(),
		zap.String("domain", conf.Conf.SslDomain),
		zap.Bool("activitypub", conf.Conf.WithAp))

	hub := stream.NewHub(log)
	notifier := notify.NewEngine(database, hub, log)
	mailer := mail.NewSMTPMailer(conf, log)
	if !mailer.Enabled() {
		log.Info("Mention mails disabled")
	}
	timelines := timeline.NewEngine(database, mailer, hub, conf.Federation.FanoutWorkers, log)

	fetcher := activitypub.NewHTTPFetcher(&http.Client{Timeout: conf.Federation.KeyFetchTimeout})
	actors := activitypub.NewActors(database, fetcher, conf.Federation.KeyFetchTimeout, log)
	keys := activitypub.NewKeyResolver(database, fetcher, conf.Conf.SslDomain,
		conf.Federation.KeyFetchTimeout, conf.Federation.KeyCacheTTL, log)
	verifier := activitypub.NewVerifier(keys, conf.Federation.MaxClockSkew)
	outbox := activitypub.NewOutbox(database, actors, timelines, notifier, conf.Conf.SslDomain, log)
	inbox := activitypub.NewInbox(database, verifier, actors, outbox, timelines, notifier, log)
	server := web.NewServer(conf, database, timelines, notifier, outbox, inbox, hub, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(ctx)
		return nil
	})
	if conf.Conf.WithAp {
		worker := activitypub.NewDeliveryWorker(database, &http.Client{Timeout: 30 * time.Second},
			conf.Federation.DeliveryInterval, log)
		g.Go(func() error {
			worker.Start(ctx)
			return nil
		})
	}
	g.Go(func() error {
		return server.Run(ctx)
	})

	err = g.Wait()
	log.Info("Stopped", zap.Error(err))
	return err
}

package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/mailsweep/mailsweep/internal/ai"
	"github.com/mailsweep/mailsweep/internal/browser"
	"github.com/mailsweep/mailsweep/internal/classify"
	"github.com/mailsweep/mailsweep/internal/config"
	"github.com/mailsweep/mailsweep/internal/email"
	"github.com/mailsweep/mailsweep/internal/inbox"
	"github.com/mailsweep/mailsweep/internal/ledger"
	"github.com/mailsweep/mailsweep/internal/unsubscribe"
	"github.com/mailsweep/mailsweep/internal/web"
	"github.com/mailsweep/mailsweep/internal/worker"
)

var (
	cfgFile string
	logger  zerolog.Logger
)

func resolveConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return config.DefaultConfigPath()
}

func main() {
	godotenv.Load()

	logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		With().Timestamp().Logger()

	rootCmd := &cobra.Command{
		Use:   "mailsweep",
		Short: "mailsweep - automated email unsubscribing",
		Long: `mailsweep scans your inbox for subscription email and unsubscribes you
from it automatically, working through one-click links, JSON APIs, legacy
forms and, when nothing simpler works, a headless browser.`,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.mailsweep/config.yaml)")

	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(unsubscribeCmd())
	rootCmd.AddCommand(attemptsCmd())
	rootCmd.AddCommand(serveCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize configuration interactively",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit()
		},
	}
}

func sweepCmd() *cobra.Command {
	var days int
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Scan recent mail and unsubscribe from everything found",
		Long: `Fetch recent messages over IMAP, classify them, extract unsubscribe
targets and run an unsubscribe attempt for each message that has one.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSweep(days, dryRun)
		},
	}

	cmd.Flags().IntVar(&days, "days", 7, "How many days of mail to scan")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Ingest and classify, do not unsubscribe")

	return cmd
}

func unsubscribeCmd() *cobra.Command {
	var rawURL, messageID string

	cmd := &cobra.Command{
		Use:   "unsubscribe",
		Short: "Run a single unsubscribe attempt",
		RunE: func(cmd *cobra.Command, args []string) error {
			if rawURL == "" && messageID == "" {
				return fmt.Errorf("either --url or --message is required")
			}
			return runUnsubscribe(rawURL, messageID)
		},
	}

	cmd.Flags().StringVar(&rawURL, "url", "", "Unsubscribe URL (or mailto:) to attempt directly")
	cmd.Flags().StringVar(&messageID, "message", "", "Stored message ID to unsubscribe from")

	return cmd
}

func attemptsCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "attempts",
		Short: "Show recent unsubscribe attempts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAttempts(limit)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Number of attempts to show")

	return cmd
}

func serveCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the status dashboard and job runner",
		Long: `Start a local web server with a dashboard of recent attempts, a JSON
API, and a running worker pool that accepts new unsubscribe jobs.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "Address to listen on")

	return cmd
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("mailsweep configuration setup")
	fmt.Println("=============================")
	fmt.Println()

	cfg := &config.Config{}

	fmt.Println("Inbox (IMAP)")
	provider := prompt(reader, "  Provider (gmail/outlook/imap) [gmail]: ")
	if provider == "" {
		provider = "gmail"
	}
	cfg.Inbox.Provider = provider
	if provider == "imap" {
		cfg.Inbox.Server = prompt(reader, "  IMAP server: ")
		fmt.Sscanf(prompt(reader, "  IMAP port [993]: "), "%d", &cfg.Inbox.Port)
		if cfg.Inbox.Port == 0 {
			cfg.Inbox.Port = 993
		}
	}
	cfg.Inbox.Email = prompt(reader, "  Email address: ")
	cfg.Inbox.Password = prompt(reader, "  App password: ")

	fmt.Println()
	fmt.Println("AI backend")
	fmt.Println("  The API key is read from the ANTHROPIC_API_KEY environment variable.")
	cfg.AI.Model = prompt(reader, "  Model (empty for default): ")

	fmt.Println()
	fmt.Println("Outbound email (only needed for mailto: unsubscribe targets)")
	sendProvider := prompt(reader, "  Provider (smtp/resend/sendgrid, empty to skip): ")
	if sendProvider != "" {
		cfg.Email.Provider = sendProvider
		cfg.Email.From = cfg.Inbox.Email
		switch sendProvider {
		case "smtp":
			cfg.Email.SMTP.Host = prompt(reader, "  SMTP host [smtp.gmail.com]: ")
			if cfg.Email.SMTP.Host == "" {
				cfg.Email.SMTP.Host = "smtp.gmail.com"
			}
			cfg.Email.SMTP.Port = 465
			cfg.Email.SMTP.UseTLS = true
			cfg.Email.SMTP.Username = cfg.Inbox.Email
			cfg.Email.SMTP.Password = cfg.Inbox.Password
		case "resend", "sendgrid":
			cfg.Email.APIKey = prompt(reader, "  API key: ")
		}
	}

	configPath := resolveConfigPath()
	if err := config.Save(configPath, cfg); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	fmt.Println()
	fmt.Printf("Configuration saved to %s\n", configPath)
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Println("  1. export ANTHROPIC_API_KEY=... (or put it in .env)")
	fmt.Println("  2. mailsweep sweep --dry-run to preview")
	fmt.Println("  3. mailsweep sweep to unsubscribe")

	return nil
}

func prompt(reader *bufio.Reader, label string) string {
	fmt.Print(label)
	line, _ := reader.ReadString('\n')
	return strings.TrimSpace(line)
}

// loadConfig loads and validates the shared config.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, fmt.Errorf("failed to load config (run 'mailsweep init' first): %w", err)
	}
	return cfg, nil
}

func buildEngine(cfg *config.Config) (*unsubscribe.Engine, error) {
	completer, err := ai.NewClient(ai.Options{
		APIKeyEnv: cfg.AI.APIKeyEnv,
		Model:     cfg.AI.Model,
		Timeout:   time.Duration(cfg.AI.TimeoutSec) * time.Second,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}

	var sender email.Sender
	if cfg.Email.Provider != "" {
		if err := cfg.ValidateEmail(); err != nil {
			return nil, err
		}
		sender, err = email.NewSender(cfg.Email)
		if err != nil {
			return nil, err
		}
	}

	browserCfg := browser.DefaultConfig()
	browserCfg.Headless = cfg.Browser.Headless
	browserCfg.Timeout = time.Duration(cfg.Browser.TimeoutSec) * time.Second
	browserCfg.ScreenshotDir = cfg.Browser.ScreenshotDir

	return unsubscribe.NewEngine(unsubscribe.Options{
		Directives:   ai.NewDirectiveClient(completer, logger),
		Sender:       sender,
		Account:      cfg.Inbox.Email,
		Browser:      browserCfg,
		FetchTimeout: time.Duration(cfg.Worker.FetchTimeoutSec) * time.Second,
		Logger:       logger,
	}), nil
}

func runSweep(days int, dryRun bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	store, err := inbox.NewStore(inbox.DefaultDBPath())
	if err != nil {
		return err
	}
	defer store.Close()

	monitor := inbox.NewMonitor(cfg.Inbox, logger)
	if err := monitor.Connect(ctx); err != nil {
		return err
	}
	defer monitor.Disconnect()

	messages, err := monitor.FetchRecent(ctx, days)
	if err != nil {
		return err
	}
	fmt.Printf("Fetched %d messages from the last %d days\n", len(messages), days)

	completer, err := ai.NewClient(ai.Options{
		APIKeyEnv: cfg.AI.APIKeyEnv,
		Model:     cfg.AI.Model,
		Timeout:   time.Duration(cfg.AI.TimeoutSec) * time.Second,
		Logger:    logger,
	})
	var classifier *classify.Classifier
	if err != nil {
		logger.Warn().Err(err).Msg("AI unavailable, skipping classification")
	} else {
		classifier = classify.NewClassifier(completer, logger)
	}

	withLinks := 0
	for _, msg := range messages {
		if msg.MessageID == "" {
			continue
		}
		if err := store.Upsert(msg); err != nil {
			logger.Warn().Err(err).Str("message", msg.MessageID).Msg("failed to store message")
			continue
		}
		if msg.UnsubscribeURL != "" {
			withLinks++
		}

		if classifier != nil {
			result, err := classifier.Classify(ctx, msg.From, msg.Subject, msg.Body)
			if err != nil {
				logger.Debug().Err(err).Str("message", msg.MessageID).Msg("classification failed")
			} else if err := store.SetClassification(msg.MessageID, result.Category, result.Summary); err != nil {
				logger.Warn().Err(err).Msg("failed to store classification")
			}
		}
	}

	fmt.Printf("%d messages carry an unsubscribe target\n", withLinks)
	if dryRun {
		fmt.Println("Dry run: stopping before any unsubscribe attempt")
		return nil
	}

	engine, err := buildEngine(cfg)
	if err != nil {
		return err
	}

	led, err := ledger.NewStore(ledger.DefaultDBPath())
	if err != nil {
		return err
	}
	defer led.Close()

	runner := worker.NewRunner(cfg.Worker, store, led, engine, logger)
	runner.Start(ctx)

	enqueued := 0
	for _, msg := range messages {
		if msg.MessageID == "" || msg.UnsubscribeURL == "" {
			continue
		}
		if _, err := runner.Enqueue(msg.MessageID); err != nil {
			logger.Warn().Err(err).Str("message", msg.MessageID).Msg("enqueue failed")
			continue
		}
		enqueued++
	}
	fmt.Printf("Enqueued %d unsubscribe jobs, working...\n", enqueued)

	deadline := time.Now().Add(time.Duration(enqueued+1) * 3 * time.Minute)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(2 * time.Second):
		}
		if runner.Pending() == 0 {
			_, succeeded, failed, err := led.Stats()
			if err != nil {
				return err
			}
			fmt.Printf("Done: %d succeeded, %d failed\n", succeeded, failed)
			return nil
		}
	}
	return fmt.Errorf("timed out waiting for jobs to finish")
}

func runUnsubscribe(rawURL, messageID string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	engine, err := buildEngine(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	target := unsubscribe.Target{MessageID: messageID, URL: rawURL}
	if rawURL == "" {
		store, err := inbox.NewStore(inbox.DefaultDBPath())
		if err != nil {
			return err
		}
		defer store.Close()

		link, err := store.GetUnsubscribeLink(messageID)
		if err != nil {
			return err
		}
		if link == "" {
			return fmt.Errorf("message %s has no unsubscribe target", messageID)
		}
		target.URL = link
	}

	outcome := engine.Attempt(ctx, target)
	if outcome.Success {
		fmt.Printf("SUCCESS via %s\n", outcome.Method)
		return nil
	}
	fmt.Printf("FAILED: %s\n", outcome.Detail)
	fmt.Printf("You can try manually: %s\n", target.URL)
	return nil
}

func runAttempts(limit int) error {
	led, err := ledger.NewStore(ledger.DefaultDBPath())
	if err != nil {
		return err
	}
	defer led.Close()

	attempts, err := led.Recent(limit)
	if err != nil {
		return err
	}
	if len(attempts) == 0 {
		fmt.Println("No attempts recorded yet.")
		return nil
	}

	fmt.Printf("%-28s %-10s %-28s %s\n", "MESSAGE", "STATUS", "METHOD", "DETAIL")
	for _, a := range attempts {
		fmt.Printf("%-28s %-10s %-28s %s\n", truncateCol(a.MessageID, 28), a.Status, a.Method, a.Detail)
	}

	total, succeeded, failed, err := led.Stats()
	if err != nil {
		return err
	}
	fmt.Printf("\n%d total, %d succeeded, %d failed\n", total, succeeded, failed)
	return nil
}

func truncateCol(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func runServe(addr string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	engine, err := buildEngine(cfg)
	if err != nil {
		return err
	}

	store, err := inbox.NewStore(inbox.DefaultDBPath())
	if err != nil {
		return err
	}
	defer store.Close()

	led, err := ledger.NewStore(ledger.DefaultDBPath())
	if err != nil {
		return err
	}
	defer led.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	runner := worker.NewRunner(cfg.Worker, store, led, engine, logger)
	runner.Start(ctx)

	server, err := web.NewServer(led, runner, logger)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe(addr)
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutting down")
		return nil
	case err := <-errCh:
		return err
	}
}

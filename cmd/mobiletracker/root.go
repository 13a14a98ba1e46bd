package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jgoulah/mobiletracker/internal/config"
	"github.com/jgoulah/mobiletracker/internal/credentials"
	"github.com/jgoulah/mobiletracker/internal/history"
	"github.com/jgoulah/mobiletracker/internal/logger"
	"github.com/jgoulah/mobiletracker/internal/notify"
	"github.com/jgoulah/mobiletracker/internal/publisher"
	"github.com/jgoulah/mobiletracker/internal/scraper"
	"github.com/jgoulah/mobiletracker/internal/tracker"
)

var (
	setupMode   bool
	historyMode bool
	notifyMode  bool

	configDir    string
	settingsFile string
	headless     bool
	logLevel     string
)

var rootCmd = &cobra.Command{
	Use:   "mobiletracker",
	Short: "Track weekly Freedom Mobile data usage",
	Long: `mobiletracker logs into the Freedom Mobile account portal, reads the current
data usage from the dashboard and appends it to a local history.

Run with --config once to store your phone number and PIN in the system keychain.`,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func init() {
	rootCmd.Flags().BoolVar(&setupMode, "config", false, "Store your phone number and PIN")
	rootCmd.Flags().BoolVar(&historyMode, "history", false, "Show stored usage history")
	rootCmd.Flags().BoolVar(&notifyMode, "notify", false, "Send a desktop notification with the result")

	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", config.DefaultDir(), "directory for history, settings and debug files")
	rootCmd.PersistentFlags().StringVar(&settingsFile, "settings", "", "settings file (default is <config-dir>/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&headless, "headless", false, "Run Chrome without a window")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
}

// getSettingsPath returns the settings file path
func getSettingsPath() string {
	if settingsFile != "" {
		return settingsFile
	}
	return config.DefaultConfigPath(configDir)
}

func run(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := runTracker(ctx)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, credentials.ErrNotConfigured):
		fmt.Fprintln(os.Stderr, "⚠ No credentials configured. Run 'mobiletracker --config' first.")
	case errors.Is(err, context.Canceled):
		fmt.Fprintln(os.Stderr, "\n⚠ Interrupted")
	default:
		var verr *credentials.ValidationError
		if errors.As(err, &verr) {
			fmt.Fprintf(os.Stderr, "⚠ Invalid %s: %s\n", verr.Field, verr.Message)
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
	}
	return err
}

// Collaborators that talk to the outside world; tests replace them
var (
	stdin  io.Reader = os.Stdin
	stdout io.Writer = os.Stdout

	newScraper = func(cfg *config.Config, log *zap.Logger) tracker.Scraper {
		return scraper.NewPortal(
			scraper.NewChromeLauncher(cfg),
			scraper.NewLineReader(stdin, stdout),
			scraper.OptionsFromConfig(cfg, configDir),
			log,
		)
	}
	newNotifier = func(cfg *config.Config) tracker.Notifier {
		return notify.New(cfg.GetNotifySound())
	}
)

func runTracker(ctx context.Context) error {
	cfg, err := config.Load(getSettingsPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if headless {
		cfg.Portal.Headless = true
	}

	level := cfg.GetLogLevel()
	if logLevel != "" {
		level = logLevel
	}
	log, err := logger.New(level)
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck

	creds := credentials.NewStore(credentials.NewKeyringVault())

	if setupMode {
		return runSetup(creds, log)
	}

	store, err := history.Open(cfg.GetHistoryBackend(), configDir)
	if err != nil {
		return fmt.Errorf("opening history: %w", err)
	}
	defer store.Close()

	t := &tracker.Tracker{
		Credentials: creds,
		History:     store,
		Out:         stdout,
		Log:         log,
	}

	if historyMode {
		return t.ShowHistory()
	}

	// Nothing below may start a browser or open a connection without credentials
	if _, err := creds.Load(); err != nil {
		return err
	}

	t.Scraper = newScraper(cfg, log)
	if notifyMode {
		t.Notifier = newNotifier(cfg)
	}
	if pub := openPublisher(cfg, log); pub != nil {
		defer pub.Close()
		t.Publisher = pub
	}

	_, err = t.Scrape(ctx, notifyMode)
	return err
}

// runSetup stores the credentials and, on first run, writes a settings file
// with the defaults filled in
func runSetup(creds *credentials.Store, log *zap.Logger) error {
	t := &tracker.Tracker{Credentials: creds, Out: stdout, Log: log}
	if err := t.Setup(stdin); err != nil {
		return err
	}

	path := getSettingsPath()
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		return nil
	}
	if err := config.Save(path, config.Default()); err != nil {
		return fmt.Errorf("writing default settings: %w", err)
	}
	fmt.Fprintf(stdout, "✓ Default settings written to %s\n", path)
	return nil
}

// openPublisher returns nil when no destination is configured or the broker
// is unreachable
func openPublisher(cfg *config.Config, log *zap.Logger) *publisher.Publisher {
	if !cfg.MQTT.Enabled && !cfg.HomeAssistant.Enabled {
		return nil
	}
	pub, err := publisher.New(cfg.MQTT, cfg.HomeAssistant)
	if err != nil {
		log.Warn("creating publisher", zap.Error(err))
		fmt.Fprintf(stdout, "⚠ Publishing disabled: %v\n", err)
		return nil
	}
	if !pub.Enabled() {
		return nil
	}
	return pub
}

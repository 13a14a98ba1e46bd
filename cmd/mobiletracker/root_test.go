package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/zalando/go-keyring"
	"go.uber.org/zap"

	"github.com/jgoulah/mobiletracker/internal/config"
	"github.com/jgoulah/mobiletracker/internal/credentials"
	"github.com/jgoulah/mobiletracker/internal/tracker"
	"github.com/jgoulah/mobiletracker/pkg/models"
)

type countingScraper struct{ calls int }

func (s *countingScraper) Scrape(context.Context, credentials.Credentials) (models.Snapshot, error) {
	s.calls++
	return models.Snapshot{UsageGB: 4.5, PlanGB: 10}, nil
}

type countingNotifier struct{ calls int }

func (n *countingNotifier) Notify(context.Context, string, string) error {
	n.calls++
	return nil
}

type harness struct {
	dir      string
	out      *bytes.Buffer
	scraper  *countingScraper
	notifier *countingNotifier
}

// newHarness points the command at a temp directory, a mock keyring and
// fake browser and notifier, restoring the globals afterwards
func newHarness(t *testing.T, input string) *harness {
	t.Helper()
	keyring.MockInit()

	h := &harness{
		dir:      t.TempDir(),
		out:      &bytes.Buffer{},
		scraper:  &countingScraper{},
		notifier: &countingNotifier{},
	}

	oldIn, oldOut, oldScraper, oldNotifier := stdin, stdout, newScraper, newNotifier
	oldSetup, oldHistory, oldNotify := setupMode, historyMode, notifyMode
	oldDir, oldSettings, oldHeadless, oldLevel := configDir, settingsFile, headless, logLevel
	t.Cleanup(func() {
		stdin, stdout, newScraper, newNotifier = oldIn, oldOut, oldScraper, oldNotifier
		setupMode, historyMode, notifyMode = oldSetup, oldHistory, oldNotify
		configDir, settingsFile, headless, logLevel = oldDir, oldSettings, oldHeadless, oldLevel
	})

	stdin = strings.NewReader(input)
	stdout = h.out
	newScraper = func(*config.Config, *zap.Logger) tracker.Scraper { return h.scraper }
	newNotifier = func(*config.Config) tracker.Notifier { return h.notifier }
	configDir = h.dir
	settingsFile = ""
	headless = false
	logLevel = "error"
	setupMode, historyMode, notifyMode = false, false, false

	return h
}

func storeCredentials(t *testing.T) {
	t.Helper()
	s := credentials.NewStore(credentials.NewKeyringVault())
	if err := s.Save(credentials.Credentials{Phone: "6471234567", PIN: "1234"}); err != nil {
		t.Fatal(err)
	}
}

func TestRunTracker_ModePriority(t *testing.T) {
	tests := []struct {
		name                  string
		setup, history, alert bool
		configured            bool
		wantOutput            string
		wantScrapes           int
		wantNotifications     int
	}{
		{name: "setup wins over everything", setup: true, history: true, alert: true, wantOutput: "Credentials saved"},
		{name: "setup wins over history", setup: true, history: true, configured: true, wantOutput: "Credentials saved"},
		{name: "history wins over scrape", history: true, alert: true, configured: true, wantOutput: "No usage history found"},
		{name: "scrape with notification", alert: true, configured: true, wantOutput: "Weekly Data Summary", wantScrapes: 1, wantNotifications: 1},
		{name: "scrape without notification", configured: true, wantOutput: "Weekly Data Summary", wantScrapes: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, "6471234567\n4321\n")
			if tt.configured {
				storeCredentials(t)
			}
			setupMode, historyMode, notifyMode = tt.setup, tt.history, tt.alert

			if err := runTracker(context.Background()); err != nil {
				t.Fatalf("runTracker: %v", err)
			}

			if !strings.Contains(h.out.String(), tt.wantOutput) {
				t.Errorf("output missing %q:\n%s", tt.wantOutput, h.out.String())
			}
			if h.scraper.calls != tt.wantScrapes {
				t.Errorf("scrapes = %d, want %d", h.scraper.calls, tt.wantScrapes)
			}
			if h.notifier.calls != tt.wantNotifications {
				t.Errorf("notifications = %d, want %d", h.notifier.calls, tt.wantNotifications)
			}
		})
	}
}

func TestRunTracker_SetupWritesDefaultSettingsOnce(t *testing.T) {
	h := newHarness(t, "6471234567\n4321\n")
	setupMode = true
	path := filepath.Join(h.dir, "config.yaml")

	if err := runTracker(context.Background()); err != nil {
		t.Fatalf("runTracker: %v", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Portal.LoginURL != config.DefaultLoginURL || cfg.History.Backend != config.HistoryBackendJSON {
		t.Fatalf("default settings = %+v", cfg)
	}

	if err := os.WriteFile(path, []byte("log_level: debug\n"), 0600); err != nil {
		t.Fatal(err)
	}
	stdin = strings.NewReader("6471234567\n5555\n")
	if err := runTracker(context.Background()); err != nil {
		t.Fatalf("second setup: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "log_level: debug\n" {
		t.Fatalf("existing settings overwritten:\n%s", data)
	}
}

func TestRunTracker_SetupIgnoresHistoryBackend(t *testing.T) {
	h := newHarness(t, "6471234567\n4321\n")
	setupMode = true
	if err := os.WriteFile(filepath.Join(h.dir, "config.yaml"), []byte("history:\n  backend: sqlite\n"), 0600); err != nil {
		t.Fatal(err)
	}

	if err := runTracker(context.Background()); err != nil {
		t.Fatalf("runTracker: %v", err)
	}
	if _, err := os.Stat(filepath.Join(h.dir, "usage_history.db")); !os.IsNotExist(err) {
		t.Fatalf("setup created the history database (stat err=%v)", err)
	}
}

func TestRunTracker_InvalidSetupWritesNothing(t *testing.T) {
	h := newHarness(t, "12345\n4321\n")
	setupMode = true

	var verr *credentials.ValidationError
	if err := runTracker(context.Background()); !errors.As(err, &verr) {
		t.Fatalf("error = %v, want ValidationError", err)
	}
	if _, err := os.Stat(filepath.Join(h.dir, "config.yaml")); !os.IsNotExist(err) {
		t.Fatal("settings written after invalid setup")
	}
}

func TestRunTracker_NotConfiguredMakesNoConnections(t *testing.T) {
	h := newHarness(t, "")
	notifyMode = true

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	accepted := make(chan bool, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			conn.Close()
		}
		accepted <- err == nil
	}()

	settings := fmt.Sprintf("mqtt:\n  enabled: true\n  broker: %s\n", ln.Addr())
	if err := os.WriteFile(filepath.Join(h.dir, "config.yaml"), []byte(settings), 0600); err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	err = runTracker(context.Background())
	if !errors.Is(err, credentials.ErrNotConfigured) {
		t.Fatalf("error = %v, want ErrNotConfigured", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("missing credentials reported after %v", elapsed)
	}

	ln.Close()
	if <-accepted {
		t.Fatal("connected to the MQTT broker without credentials")
	}
	if h.scraper.calls != 0 || h.notifier.calls != 0 {
		t.Fatalf("scrapes=%d notifications=%d, want none", h.scraper.calls, h.notifier.calls)
	}
}

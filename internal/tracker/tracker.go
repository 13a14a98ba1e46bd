// Package tracker sequences the setup, history and scrape modes.
package tracker

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jgoulah/mobiletracker/internal/credentials"
	"github.com/jgoulah/mobiletracker/internal/history"
	"github.com/jgoulah/mobiletracker/internal/report"
	"github.com/jgoulah/mobiletracker/pkg/models"
	"go.uber.org/zap"
)

// CredentialStore keeps the portal login
type CredentialStore interface {
	Save(c credentials.Credentials) error
	Load() (credentials.Credentials, error)
}

// Scraper logs into the portal and returns the current usage
type Scraper interface {
	Scrape(ctx context.Context, creds credentials.Credentials) (models.Snapshot, error)
}

// Notifier posts a desktop alert
type Notifier interface {
	Notify(ctx context.Context, title, message string) error
}

// Publisher forwards new records to home automation
type Publisher interface {
	Publish(ctx context.Context, rec models.UsageRecord) error
}

// Tracker wires the components for one invocation. Notifier and Publisher
// may be nil.
type Tracker struct {
	Credentials CredentialStore
	History     history.Store
	Scraper     Scraper
	Notifier    Notifier
	Publisher   Publisher
	Out         io.Writer
	Log         *zap.Logger
	Now         func() time.Time
}

func (t *Tracker) now() time.Time {
	if t.Now != nil {
		return t.Now()
	}
	return time.Now()
}

func (t *Tracker) logger() *zap.Logger {
	if t.Log != nil {
		return t.Log
	}
	return zap.NewNop()
}

// Setup prompts for the phone number and PIN on in and stores them.
// Nothing is stored if either value is invalid.
func (t *Tracker) Setup(in io.Reader) error {
	reader := bufio.NewReader(in)

	fmt.Fprintln(t.Out)
	fmt.Fprintln(t.Out, "🔧 Freedom Mobile Tracker Setup")
	fmt.Fprintln(t.Out, "   Login method: Phone Number + PIN")
	fmt.Fprintln(t.Out)

	fmt.Fprint(t.Out, "   Enter your Freedom Mobile phone number (e.g. 6471234567): ")
	phone, err := readLine(reader)
	if err != nil {
		return err
	}
	phone, err = credentials.ValidatePhone(phone)
	if err != nil {
		return err
	}

	fmt.Fprint(t.Out, "   Enter your 4-digit PIN: ")
	pin, err := readLine(reader)
	if err != nil {
		return err
	}

	if err := t.Credentials.Save(credentials.Credentials{Phone: phone, PIN: pin}); err != nil {
		return err
	}

	fmt.Fprintln(t.Out)
	fmt.Fprintln(t.Out, "✓ Credentials saved securely in the system keychain")
	return nil
}

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		if err == io.EOF {
			return "", fmt.Errorf("reading input: unexpected end of input")
		}
		return "", fmt.Errorf("reading input: %w", err)
	}
	return strings.TrimSpace(line), nil
}

// ShowHistory prints every stored record
func (t *Tracker) ShowHistory() error {
	records, err := t.History.Load()
	if err != nil {
		return fmt.Errorf("loading history: %w", err)
	}
	return report.History(t.Out, records, t.now())
}

// Scrape fetches the current usage, stores it and prints the summary.
// With notify set, a desktop alert reports the outcome either way.
func (t *Tracker) Scrape(ctx context.Context, notify bool) (models.UsageRecord, error) {
	log := t.logger()

	creds, err := t.Credentials.Load()
	if err != nil {
		return models.UsageRecord{}, err
	}

	start := t.now()
	fmt.Fprintln(t.Out)
	fmt.Fprintln(t.Out, "🚀 Freedom Mobile Data Tracker")
	fmt.Fprintf(t.Out, "   %s\n\n", start.Format("Monday, January 02, 2006 at 03:04 PM"))

	snap, err := t.Scraper.Scrape(ctx, creds)
	if err != nil {
		log.Debug("scrape failed", zap.Error(err))
		fmt.Fprintf(t.Out, "\n⚠ Failed to scrape usage data: %v\n", err)
		if notify {
			t.notify(ctx, report.FailureTitle, report.FailureMessage)
		}
		return models.UsageRecord{}, err
	}

	rec := models.NewRecord(snap, t.now())
	if err := t.History.Append(rec); err != nil {
		return rec, fmt.Errorf("saving usage record: %w", err)
	}
	log.Info("usage recorded", zap.Float64("usage_gb", rec.UsageGB), zap.Float64("plan_gb", rec.PlanGB))

	fmt.Fprintln(t.Out)
	fmt.Fprintln(t.Out, report.Summary(rec))
	fmt.Fprintln(t.Out)

	if notify {
		if t.notify(ctx, report.NotificationTitle, report.NotificationMessage(rec)) {
			fmt.Fprintln(t.Out, "🔔 Notification sent!")
		}
	}

	if t.Publisher != nil {
		if err := t.Publisher.Publish(ctx, rec); err != nil {
			log.Warn("publishing usage record", zap.Error(err))
			fmt.Fprintf(t.Out, "⚠ Failed to publish usage: %v\n", err)
		} else {
			fmt.Fprintln(t.Out, "✓ Published usage")
		}
	}

	return rec, nil
}

// notify reports failures on the console without failing the run
func (t *Tracker) notify(ctx context.Context, title, message string) bool {
	if t.Notifier == nil {
		return false
	}
	// Still deliver the failure alert after an interrupt
	if err := t.Notifier.Notify(context.WithoutCancel(ctx), title, message); err != nil {
		t.logger().Warn("sending notification", zap.Error(err))
		fmt.Fprintf(t.Out, "⚠ Failed to send notification: %v\n", err)
		return false
	}
	return true
}

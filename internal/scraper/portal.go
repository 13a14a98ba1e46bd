package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jgoulah/mobiletracker/internal/config"
	"github.com/jgoulah/mobiletracker/internal/credentials"
	"github.com/jgoulah/mobiletracker/internal/extract"
	"github.com/jgoulah/mobiletracker/pkg/models"
	"go.uber.org/zap"
)

// State is one step of the portal login and extraction flow
type State string

const (
	StateLaunch           State = "launch"
	StateModeSelect       State = "mode_select"
	StateCredentialSubmit State = "credential_submit"
	StateOtpChannelSelect State = "otp_channel_select"
	StateOtpCodeEntry     State = "otp_code_entry"
	StateExtraction       State = "extraction"
	StateDone             State = "done"
)

// Debug artifact file names, written to the config directory
const (
	ExtractScreenshotFile = "debug_extract.png"
	ExtractHTMLFile       = "debug_extract.html"
	ErrorScreenshotFile   = "debug_error.png"
)

const (
	xpPhoneInput     = `//input[@id='msisdnInput']`
	xpPINInput       = `//input[@id='pinInput']`
	xpPhoneMode      = `//a[contains(., 'Phone Number')] | //span[contains(., 'Phone Number')] | //button[contains(., 'Phone Number')]`
	xpChannelSelect  = `//select[@id='maskedChannelList']`
	xpChannelOptions = `//select[@id='maskedChannelList']/option`
	xpInputs         = `//input`
)

func xpButton(label string) string {
	return fmt.Sprintf(`//button[contains(., '%s')]`, label)
}

// credentialInputIDs are never reused for the verification step
var credentialInputIDs = map[string]bool{
	"msisdnInput":   true,
	"pinInput":      true,
	"usernameInput": true,
	"passwordInput": true,
}

var (
	phoneEntryTypes = map[string]bool{"tel": true, "text": true, "number": true}
	codeEntryTypes  = map[string]bool{"text": true, "tel": true, "number": true, "password": true}
	submitLabels    = []string{"Verify", "Submit", "Confirm", "Next"}
)

// Options configures a Portal
type Options struct {
	Dir                string // where debug artifacts are written
	LoginURL           string
	VerificationMarker string
	StepTimeout        time.Duration
	LoginTimeout       time.Duration
	PollInterval       time.Duration
	DebugScreenshots   bool
	Out                io.Writer // progress output, os.Stdout if nil
}

// OptionsFromConfig builds portal options from the settings file
func OptionsFromConfig(cfg *config.Config, dir string) Options {
	return Options{
		Dir:                dir,
		LoginURL:           cfg.GetLoginURL(),
		VerificationMarker: cfg.GetVerificationMarker(),
		StepTimeout:        cfg.GetStepTimeout(),
		LoginTimeout:       cfg.GetLoginTimeout(),
		DebugScreenshots:   cfg.Portal.DebugScreenshots,
	}
}

// Portal logs into the account portal and reads the data usage
type Portal struct {
	launcher Launcher
	codes    CodeReader
	opts     Options
	log      *zap.Logger
}

// NewPortal creates a portal scraper
func NewPortal(launcher Launcher, codes CodeReader, opts Options, log *zap.Logger) *Portal {
	if opts.LoginURL == "" {
		opts.LoginURL = config.DefaultLoginURL
	}
	if opts.VerificationMarker == "" {
		opts.VerificationMarker = config.DefaultVerificationMarker
	}
	if opts.StepTimeout <= 0 {
		opts.StepTimeout = 20 * time.Second
	}
	if opts.LoginTimeout <= 0 {
		opts.LoginTimeout = 45 * time.Second
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 500 * time.Millisecond
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Portal{launcher: launcher, codes: codes, opts: opts, log: log}
}

// session is the state carried between steps of one scrape
type session struct {
	*Portal
	page        Page
	creds       credentials.Credentials
	phoneFilled string // key of the input given the phone number during verification
	snapshot    models.Snapshot
}

// Scrape runs the full flow and returns the usage snapshot. The browser is
// closed on every return path.
func (p *Portal) Scrape(ctx context.Context, creds credentials.Credentials) (models.Snapshot, error) {
	p.printf("🌐 Launching browser...\n")
	page, err := p.launcher.Launch(ctx)
	if err != nil {
		return models.Snapshot{}, &StepError{State: StateLaunch, Err: err}
	}
	defer func() {
		if err := page.Close(); err != nil {
			p.log.Debug("closing browser", zap.Error(err))
		}
		p.printf("🌐 Browser closed.\n")
	}()

	s := &session{Portal: p, page: page, creds: creds}

	state := StateLaunch
	for state != StateDone {
		p.log.Debug("entering state", zap.String("state", string(state)))

		next, err := s.step(ctx, state)
		if err != nil {
			var extractErr *ExtractionError
			if errors.As(err, &extractErr) {
				return models.Snapshot{}, err
			}
			return models.Snapshot{}, s.fail(ctx, state, err)
		}

		if p.opts.DebugScreenshots {
			s.saveScreenshot(ctx, fmt.Sprintf("debug_%s.png", state))
		}
		state = next
	}

	return s.snapshot, nil
}

func (s *session) step(ctx context.Context, state State) (State, error) {
	switch state {
	case StateLaunch:
		return s.launch(ctx)
	case StateModeSelect:
		return s.selectPhoneMode(ctx)
	case StateCredentialSubmit:
		return s.submitCredentials(ctx)
	case StateOtpChannelSelect:
		return s.selectOtpChannel(ctx)
	case StateOtpCodeEntry:
		return s.enterOtpCode(ctx)
	case StateExtraction:
		return s.extract(ctx)
	default:
		return StateDone, fmt.Errorf("unknown state %q", state)
	}
}

func (s *session) launch(ctx context.Context) (State, error) {
	s.printf("🔑 Logging into Freedom Mobile...\n")

	navCtx, cancel := context.WithTimeout(ctx, s.opts.LoginTimeout)
	defer cancel()
	if err := s.page.Navigate(navCtx, s.opts.LoginURL); err != nil {
		return "", err
	}

	// Either the phone field or the link switching to it
	err := s.wait(ctx, s.opts.StepTimeout, func(ctx context.Context) (bool, error) {
		if ok, err := s.exists(ctx, xpPhoneInput); ok || err != nil {
			return ok, err
		}
		return s.exists(ctx, xpPhoneMode)
	})
	if err != nil {
		return "", fmt.Errorf("waiting for login form: %w", err)
	}

	return StateModeSelect, nil
}

func (s *session) selectPhoneMode(ctx context.Context) (State, error) {
	link, err := s.firstVisible(ctx, xpPhoneMode)
	if err != nil {
		return "", err
	}
	if link != nil {
		if err := link.Click(ctx); err != nil {
			s.log.Debug("clicking phone number mode", zap.Error(err))
		} else {
			s.printf("   ✓ Switched to Phone Number login mode\n")
		}
	}

	if err := s.wait(ctx, s.opts.StepTimeout, func(ctx context.Context) (bool, error) {
		return s.exists(ctx, xpPhoneInput)
	}); err != nil {
		return "", fmt.Errorf("waiting for phone number field: %w", err)
	}

	return StateCredentialSubmit, nil
}

func (s *session) submitCredentials(ctx context.Context) (State, error) {
	phone, err := s.first(ctx, xpPhoneInput)
	if err != nil {
		return "", fmt.Errorf("finding phone number field: %w", err)
	}
	pin, err := s.first(ctx, xpPINInput)
	if err != nil {
		return "", fmt.Errorf("finding PIN field: %w", err)
	}

	if err := phone.Fill(ctx, s.creds.Phone); err != nil {
		return "", fmt.Errorf("entering phone number: %w", err)
	}
	s.printf("   ✓ Phone number entered\n")

	if err := pin.Fill(ctx, s.creds.PIN); err != nil {
		return "", fmt.Errorf("entering PIN: %w", err)
	}
	s.printf("   ✓ PIN entered\n")

	if err := pin.PressEnter(ctx); err != nil {
		return "", fmt.Errorf("submitting login form: %w", err)
	}
	s.printf("   ✓ Sign In submitted\n")
	s.printf("   ⏳ Waiting for verification page...\n")

	var url string
	err = s.wait(ctx, s.opts.LoginTimeout, func(ctx context.Context) (bool, error) {
		u, err := s.page.URL(ctx)
		if err != nil {
			return false, err
		}
		url = u
		return s.isVerification(u) || !strings.HasPrefix(u, s.opts.LoginURL), nil
	})
	if err != nil {
		return "", fmt.Errorf("waiting for login to complete: %w", err)
	}
	s.log.Debug("login submitted", zap.String("url", url))

	if s.isVerification(url) {
		s.printf("   🔐 OTP verification required\n")
		return StateOtpChannelSelect, nil
	}
	return StateExtraction, nil
}

func (s *session) selectOtpChannel(ctx context.Context) (State, error) {
	suffix := s.creds.Phone
	if len(suffix) > 2 {
		suffix = suffix[len(suffix)-2:]
	}
	s.printf("   Selecting phone ending in %s...\n", suffix)

	if err := s.wait(ctx, s.opts.StepTimeout, func(ctx context.Context) (bool, error) {
		return s.exists(ctx, xpChannelSelect)
	}); err != nil {
		return "", fmt.Errorf("waiting for verification channel list: %w", err)
	}

	sel, err := s.first(ctx, xpChannelSelect)
	if err != nil {
		return "", err
	}
	options, err := s.page.Find(ctx, xpChannelOptions)
	if err != nil {
		return "", err
	}

	selected := false
	for _, opt := range options {
		value := opt.Attr("value")
		if !strings.HasSuffix(value, suffix) || strings.Contains(value, "@") {
			continue
		}
		if err := sel.Select(ctx, value); err != nil {
			return "", fmt.Errorf("selecting verification channel: %w", err)
		}
		label, _ := opt.Text(ctx)
		s.printf("   ✓ Selected: %s\n", strings.TrimSpace(label))
		selected = true
		break
	}
	if !selected {
		s.printf("   ⚠ No SMS channel ending in %s, leaving the default\n", suffix)
	}

	// The portal asks for the full number before sending the code
	s.printf("   Entering phone number for verification...\n")
	var input Element
	err = s.wait(ctx, s.opts.StepTimeout, func(ctx context.Context) (bool, error) {
		in, err := s.firstEntryField(ctx, phoneEntryTypes, "")
		input = in
		return in != nil, err
	})
	if err != nil {
		s.printf("   ⚠ No phone number field on the verification page\n")
		s.log.Warn("verification phone field not found", zap.Error(err))
	} else {
		if err := input.Fill(ctx, s.creds.Phone); err != nil {
			return "", fmt.Errorf("entering verification phone number: %w", err)
		}
		s.phoneFilled = input.Key()
		s.printf("   ✓ Phone number entered\n")
	}

	if s.clickNext(ctx) {
		s.printf("   ✓ Clicked Next, SMS code is being sent to your phone...\n")
	} else {
		s.printf("   ⚠ Could not click Next button\n")
	}

	return StateOtpCodeEntry, nil
}

// clickNext prefers a real click on a usable button and falls back to a
// script click on any visible one
func (s *session) clickNext(ctx context.Context) bool {
	buttons, err := s.page.Find(ctx, xpButton("Next"))
	if err != nil {
		s.log.Warn("finding Next button", zap.Error(err))
		return false
	}

	for _, btn := range buttons {
		visible, _ := btn.Visible(ctx)
		enabled, _ := btn.Enabled(ctx)
		if visible && enabled && btn.Click(ctx) == nil {
			return true
		}
	}
	for _, btn := range buttons {
		visible, _ := btn.Visible(ctx)
		if visible && btn.ScriptClick(ctx) == nil {
			return true
		}
	}
	return false
}

func (s *session) enterOtpCode(ctx context.Context) (State, error) {
	s.printf("\n   📱 Check your phone for the SMS verification code!\n")
	code, err := s.codes.ReadCode(ctx, "   Enter the verification code: ")
	if err != nil {
		return "", err
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return "", errors.New("no verification code entered")
	}

	var input Element
	err = s.wait(ctx, s.opts.StepTimeout, func(ctx context.Context) (bool, error) {
		in, err := s.firstEntryField(ctx, codeEntryTypes, s.phoneFilled)
		input = in
		return in != nil, err
	})
	if err != nil {
		if errors.Is(err, ErrTimeout) {
			return "", errors.New("could not find verification code input field")
		}
		return "", err
	}

	if err := input.Fill(ctx, code); err != nil {
		return "", fmt.Errorf("entering verification code: %w", err)
	}
	s.printf("   ✓ Code entered\n")

	if label, ok := s.clickSubmit(ctx); ok {
		s.printf("   ✓ Clicked %s\n", label)
	} else {
		if err := input.PressEnter(ctx); err != nil {
			return "", fmt.Errorf("submitting verification code: %w", err)
		}
		s.printf("   ✓ Submitted via Enter key\n")
	}

	s.printf("   ⏳ Waiting for dashboard to load...\n")
	if err := s.wait(ctx, s.opts.LoginTimeout, func(ctx context.Context) (bool, error) {
		u, err := s.page.URL(ctx)
		return err == nil && !s.isVerification(u), err
	}); err != nil {
		return "", fmt.Errorf("waiting for verification to complete: %w", err)
	}

	return StateExtraction, nil
}

func (s *session) clickSubmit(ctx context.Context) (string, bool) {
	for _, label := range submitLabels {
		btn, err := s.firstVisible(ctx, xpButton(label))
		if err != nil || btn == nil {
			continue
		}
		if err := btn.Click(ctx); err != nil {
			s.log.Debug("clicking submit button", zap.String("label", label), zap.Error(err))
			continue
		}
		return label, true
	}
	return "", false
}

func (s *session) extract(ctx context.Context) (State, error) {
	s.printf("📊 Scraping data usage...\n")

	// Not fatal: the extractor still gets a chance at whatever has rendered
	if err := s.wait(ctx, s.opts.StepTimeout, func(ctx context.Context) (bool, error) {
		text, err := s.page.Text(ctx)
		return err == nil && strings.Contains(text, "GB"), err
	}); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		s.log.Warn("dashboard usage text did not appear", zap.Error(err))
	}

	html, err := s.page.HTML(ctx)
	if err != nil {
		return "", err
	}

	snap, found, err := extract.Extract(html)
	if err != nil {
		return "", err
	}
	if !found {
		return "", s.extractionFailed(ctx, html)
	}

	s.snapshot = snap
	return StateDone, nil
}

func (s *session) extractionFailed(ctx context.Context, html string) error {
	xerr := &ExtractionError{
		ScreenshotPath: s.saveScreenshot(ctx, ExtractScreenshotFile),
	}

	if path, err := s.writeArtifact(ExtractHTMLFile, []byte(html)); err != nil {
		s.log.Warn("saving page source", zap.Error(err))
	} else {
		xerr.HTMLPath = path
	}

	s.printf("⚠ Could not find usage data on the page.\n")
	if xerr.ScreenshotPath != "" {
		s.printf("   Debug screenshot: %s\n", xerr.ScreenshotPath)
	}
	if xerr.HTMLPath != "" {
		s.printf("   Debug HTML: %s\n", xerr.HTMLPath)
	}
	return xerr
}

func (s *session) fail(ctx context.Context, state State, err error) error {
	serr := &StepError{State: state, Err: err}
	serr.Screenshot = s.saveScreenshot(ctx, ErrorScreenshotFile)

	s.printf("⚠ Error during scraping: %v\n", err)
	if serr.Screenshot != "" {
		s.printf("   Debug screenshot: %s\n", serr.Screenshot)
	}
	return serr
}

// saveScreenshot writes a screenshot to the config directory and returns
// its path, or "" if it could not be taken
func (s *session) saveScreenshot(ctx context.Context, name string) string {
	// The flow context may already be done when capturing a failure
	shotCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	buf, err := s.page.Screenshot(shotCtx)
	if err != nil {
		s.log.Debug("capturing screenshot", zap.String("file", name), zap.Error(err))
		return ""
	}
	path, err := s.writeArtifact(name, buf)
	if err != nil {
		s.log.Warn("saving screenshot", zap.String("file", name), zap.Error(err))
		return ""
	}
	return path
}

func (s *session) writeArtifact(name string, data []byte) (string, error) {
	if err := os.MkdirAll(s.opts.Dir, 0755); err != nil {
		return "", fmt.Errorf("creating debug directory: %w", err)
	}
	path := filepath.Join(s.opts.Dir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("writing %s: %w", name, err)
	}
	return path, nil
}

func (p *Portal) printf(format string, args ...any) {
	fmt.Fprintf(p.opts.Out, format, args...)
}

func (p *Portal) wait(ctx context.Context, timeout time.Duration, cond func(context.Context) (bool, error)) error {
	return waitUntil(ctx, timeout, p.opts.PollInterval, cond)
}

func (p *Portal) isVerification(url string) bool {
	return strings.Contains(strings.ToLower(url), strings.ToLower(p.opts.VerificationMarker))
}

func (s *session) exists(ctx context.Context, xpath string) (bool, error) {
	elems, err := s.page.Find(ctx, xpath)
	return len(elems) > 0, err
}

func (s *session) first(ctx context.Context, xpath string) (Element, error) {
	elems, err := s.page.Find(ctx, xpath)
	if err != nil {
		return nil, err
	}
	if len(elems) == 0 {
		return nil, fmt.Errorf("no element matches %s", xpath)
	}
	return elems[0], nil
}

// firstVisible returns the first visible match, or nil if there is none
func (s *session) firstVisible(ctx context.Context, xpath string) (Element, error) {
	elems, err := s.page.Find(ctx, xpath)
	if err != nil {
		return nil, err
	}
	for _, el := range elems {
		if ok, err := el.Visible(ctx); err == nil && ok {
			return el, nil
		}
	}
	return nil, nil
}

// firstEntryField returns the first visible input of one of the given types
// that is not a login credential field. The input keyed avoid is skipped
// unless it is the only candidate.
func (s *session) firstEntryField(ctx context.Context, types map[string]bool, avoid string) (Element, error) {
	inputs, err := s.page.Find(ctx, xpInputs)
	if err != nil {
		return nil, err
	}

	var fallback Element
	for _, in := range inputs {
		if credentialInputIDs[in.Attr("id")] {
			continue
		}
		typ := strings.ToLower(in.Attr("type"))
		if typ == "" {
			typ = "text"
		}
		if !types[typ] {
			continue
		}
		if ok, err := in.Visible(ctx); err != nil || !ok {
			continue
		}
		if avoid != "" && in.Key() == avoid {
			fallback = in
			continue
		}
		return in, nil
	}
	return fallback, nil
}

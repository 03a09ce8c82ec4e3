// Package email retrieves one-time login codes from an IMAP mailbox.
package email

import (
	"regexp"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/axiomgo/axiom/internal/config"
)

const otpSubject = "Your Axiom security code"

// recentWindow bounds how far back each poll looks for unseen OTP mail.
const recentWindow = 3 * time.Minute

var (
	subjectPattern = regexp.MustCompile(`Your Axiom security code is (\d{6})\b`)

	// Ordered: most specific plain-text forms first, then HTML wrappers.
	bodyPatterns = []*regexp.Regexp{
		regexp.MustCompile(`Your Axiom security code is[:\s]+\b(\d{6})\b`),
		regexp.MustCompile(`Your security code is[:\s]+\b(\d{6})\b`),
		regexp.MustCompile(`security code[:\s]+\b(\d{6})\b`),
		regexp.MustCompile(`<span[^>]*>(\d{6})</span>`),
		regexp.MustCompile(`<b>(\d{6})</b>`),
		regexp.MustCompile(`<strong>(\d{6})</strong>`),
	}

	bareCodePattern = regexp.MustCompile(`\b(\d{6})\b`)
)

// Fetcher polls an IMAP mailbox for unseen Axiom security-code emails.
// Polling blocks between checks, so callers on a hot path should run
// WaitForOTP on its own goroutine.
type Fetcher struct {
	addr     string
	email    string
	password string
	logger   zerolog.Logger
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithLogger attaches a logger; the default discards everything.
func WithLogger(logger zerolog.Logger) Option {
	return func(f *Fetcher) {
		f.logger = logger
	}
}

// NewFetcher creates a fetcher for the given IMAP address ("host:port",
// implicit TLS) and mailbox credentials.
func NewFetcher(addr, email, password string, opts ...Option) *Fetcher {
	f := &Fetcher{
		addr:     addr,
		email:    email,
		password: password,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// NewFetcherFromEnv creates a fetcher from the INBOX_LV_* environment
// variables. Missing mailbox credentials are an error; the account is never
// hardcoded.
func NewFetcherFromEnv(opts ...Option) (*Fetcher, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if !cfg.Mailbox.Configured() {
		return nil, errors.New("email.NewFetcherFromEnv: mailbox credentials not set")
	}
	return NewFetcher(cfg.Mailbox.Addr, cfg.Mailbox.Email, cfg.Mailbox.Password, opts...), nil
}

// FetchOTP looks for an unseen OTP email and returns its code, or "" when no
// matching message exists. A found message is flagged seen so it is never
// redeemed twice.
func (f *Fetcher) FetchOTP() (string, error) {
	return f.fetchSince(time.Time{})
}

// FetchOTPRecent behaves like FetchOTP but only considers messages received
// within the given window.
func (f *Fetcher) FetchOTPRecent(window time.Duration) (string, error) {
	return f.fetchSince(time.Now().Add(-window))
}

// WaitForOTP polls the mailbox until a code arrives or the timeout elapses.
// A timeout returns ("", nil) rather than an error so callers can fall back
// to prompting the user.
func (f *Fetcher) WaitForOTP(timeout, interval time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)

	for attempt := 1; ; attempt++ {
		code, err := f.FetchOTPRecent(recentWindow)
		if err != nil {
			return "", err
		}
		if code != "" {
			f.logger.Debug().Int("attempt", attempt).Msg("otp received")
			return code, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			f.logger.Warn().Dur("timeout", timeout).Msg("no otp received before timeout")
			return "", nil
		}
		f.logger.Debug().Int("attempt", attempt).Dur("remaining", remaining).Msg("no otp yet")

		if remaining < interval {
			time.Sleep(remaining)
		} else {
			time.Sleep(interval)
		}
	}
}

func (f *Fetcher) connect() (*imapclient.Client, error) {
	c, err := imapclient.DialTLS(f.addr, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "email.Fetcher dial %s", f.addr)
	}
	if err := c.Login(f.email, f.password).Wait(); err != nil {
		_ = c.Close()
		return nil, errors.Wrap(err, "email.Fetcher login")
	}
	return c, nil
}

func (f *Fetcher) fetchSince(since time.Time) (string, error) {
	c, err := f.connect()
	if err != nil {
		return "", err
	}
	defer func() {
		_ = c.Logout().Wait()
		_ = c.Close()
	}()

	if _, err := c.Select("INBOX", nil).Wait(); err != nil {
		return "", errors.Wrap(err, "email.Fetcher select INBOX")
	}

	criteria := &imap.SearchCriteria{
		NotFlag: []imap.Flag{imap.FlagSeen},
		Header: []imap.SearchCriteriaHeaderField{
			{Key: "Subject", Value: otpSubject},
		},
	}
	if !since.IsZero() {
		criteria.Since = since
	}

	data, err := c.Search(criteria, nil).Wait()
	if err != nil {
		return "", errors.Wrap(err, "email.Fetcher search")
	}

	nums := data.AllSeqNums()
	if len(nums) == 0 {
		return "", nil
	}

	latest := nums[0]
	for _, n := range nums[1:] {
		if n > latest {
			latest = n
		}
	}
	seq := imap.SeqSetNum(latest)

	// Subject fast path avoids downloading the body.
	msgs, err := c.Fetch(seq, &imap.FetchOptions{Envelope: true}).Collect()
	if err != nil {
		return "", errors.Wrap(err, "email.Fetcher fetch envelope")
	}
	if len(msgs) > 0 && msgs[0].Envelope != nil {
		if code := extractOTPFromSubject(msgs[0].Envelope.Subject); code != "" {
			return code, f.markSeen(c, seq)
		}
	}

	section := &imap.FetchItemBodySection{}
	msgs, err = c.Fetch(seq, &imap.FetchOptions{
		BodySection: []*imap.FetchItemBodySection{section},
	}).Collect()
	if err != nil {
		return "", errors.Wrap(err, "email.Fetcher fetch body")
	}
	if len(msgs) == 0 {
		return "", nil
	}

	code := ExtractOTP(string(msgs[0].FindBodySection(section)))
	if code == "" {
		return "", nil
	}
	return code, f.markSeen(c, seq)
}

func (f *Fetcher) markSeen(c *imapclient.Client, seq imap.SeqSet) error {
	err := c.Store(seq, &imap.StoreFlags{
		Op:     imap.StoreFlagsAdd,
		Silent: true,
		Flags:  []imap.Flag{imap.FlagSeen},
	}, nil).Close()
	return errors.Wrap(err, "email.Fetcher mark seen")
}

func extractOTPFromSubject(subject string) string {
	if m := subjectPattern.FindStringSubmatch(subject); m != nil {
		return m[1]
	}
	return ""
}

// ExtractOTP pulls a six-digit security code out of an email body. It tries
// the known plain-text and HTML shapes first, then falls back to any bare
// six-digit token provided the body mentions a security code at all.
func ExtractOTP(body string) string {
	for _, re := range bodyPatterns {
		if m := re.FindStringSubmatch(body); m != nil {
			return m[1]
		}
	}

	if strings.Contains(body, "security code") || strings.Contains(body, "Your Axiom") {
		if m := bareCodePattern.FindStringSubmatch(body); m != nil {
			return m[1]
		}
	}

	return ""
}

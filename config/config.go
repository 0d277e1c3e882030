package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pevans/flatwatch/history"
	"github.com/pevans/flatwatch/notify"
	"github.com/pevans/flatwatch/scraper"
	"github.com/pevans/flatwatch/site"
)

// HistoryDisabled turns off run history.
const HistoryDisabled = "none"

// Settings is the process-wide configuration. It is loaded once at
// startup and not modified afterwards.
type Settings struct {
	SitesDir       string
	DataDir        string
	UserAgent      string
	RequestTimeout time.Duration

	LogLevel string
	LogFile  string

	HistoryDriver string
	HistoryDSN    string

	EmailFrom string
	Accounts  []notify.Account

	PollInterval time.Duration
	Listen       string
}

// Defaults returns the settings used when nothing is configured.
func Defaults() *Settings {
	return &Settings{
		SitesDir:       "sites",
		DataDir:        "data",
		UserAgent:      scraper.DefaultUserAgent,
		RequestTimeout: 30 * time.Second,
		LogLevel:       "info",
		HistoryDriver:  history.DriverSQLite,
		EmailFrom:      notify.DefaultFrom,
		PollInterval:   time.Hour,
		Listen:         ":8080",
	}
}

// Load builds the settings from defaults, the config file at path (or the
// default location when empty) and the environment, in increasing order of
// precedence. A .env file in the working directory is loaded into the
// environment first; variables already set are not overridden.
func Load(path string) (*Settings, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	settings := Defaults()

	file, err := LoadConfigFile(path)
	if err != nil {
		return nil, err
	}
	if file != nil {
		if err := settings.applyFile(file); err != nil {
			return nil, err
		}
	}

	if err := settings.applyEnv(); err != nil {
		return nil, err
	}

	if err := settings.Validate(); err != nil {
		return nil, err
	}

	return settings, nil
}

func (s *Settings) applyFile(f *FileConfig) error {
	setString(&s.SitesDir, f.SitesDir)
	setString(&s.DataDir, f.DataDir)
	setString(&s.UserAgent, f.UserAgent)
	setString(&s.LogLevel, f.Log.Level)
	setString(&s.LogFile, f.Log.File)
	setString(&s.HistoryDriver, f.History.Driver)
	setString(&s.HistoryDSN, f.History.DSN)
	setString(&s.EmailFrom, f.Email.From)
	setString(&s.Listen, f.Daemon.Listen)

	if err := setDuration(&s.RequestTimeout, "request_timeout", f.RequestTimeout); err != nil {
		return err
	}
	if err := setDuration(&s.PollInterval, "daemon.poll_interval", f.Daemon.PollInterval); err != nil {
		return err
	}

	for i, a := range f.Email.Accounts {
		if a.APIKey == "" || a.To == "" {
			return fmt.Errorf("email.accounts[%d]: api_key and to are required", i)
		}
		s.Accounts = append(s.Accounts, notify.Account{APIKey: a.APIKey, Recipient: a.To})
	}

	return nil
}

func (s *Settings) applyEnv() error {
	setString(&s.SitesDir, os.Getenv("FLATWATCH_SITES_DIR"))
	setString(&s.DataDir, os.Getenv("FLATWATCH_DATA_DIR"))
	setString(&s.UserAgent, os.Getenv("FLATWATCH_USER_AGENT"))
	setString(&s.LogLevel, os.Getenv("FLATWATCH_LOG_LEVEL"))
	setString(&s.LogFile, os.Getenv("FLATWATCH_LOG_FILE"))
	setString(&s.HistoryDriver, os.Getenv("FLATWATCH_HISTORY_DRIVER"))
	setString(&s.HistoryDSN, os.Getenv("FLATWATCH_HISTORY_DSN"))
	setString(&s.EmailFrom, os.Getenv("EMAIL_FROM"))
	setString(&s.Listen, os.Getenv("FLATWATCH_LISTEN"))

	if err := setDuration(&s.RequestTimeout, "FLATWATCH_REQUEST_TIMEOUT", os.Getenv("FLATWATCH_REQUEST_TIMEOUT")); err != nil {
		return err
	}
	if err := setDuration(&s.PollInterval, "FLATWATCH_POLL_INTERVAL", os.Getenv("FLATWATCH_POLL_INTERVAL")); err != nil {
		return err
	}

	accounts, err := AccountsFromEnv(os.Getenv)
	if err != nil {
		return err
	}
	if len(accounts) > 0 {
		s.Accounts = accounts
	}

	return nil
}

// AccountsFromEnv reads email accounts from RESEND_API_KEY and EMAIL_TO
// (comma separated, one account per recipient) and from numbered
// RESEND_API_KEY_n / EMAIL_TO_n pairs starting at 1.
func AccountsFromEnv(getenv func(string) string) ([]notify.Account, error) {
	var accounts []notify.Account

	add := func(keyVar, toVar string) error {
		key := strings.TrimSpace(getenv(keyVar))
		to := getenv(toVar)
		if key == "" {
			return nil
		}
		recipients := splitList(to)
		if len(recipients) == 0 {
			return fmt.Errorf("%s is set but %s is empty", keyVar, toVar)
		}
		for _, r := range recipients {
			accounts = append(accounts, notify.Account{APIKey: key, Recipient: r})
		}
		return nil
	}

	if err := add("RESEND_API_KEY", "EMAIL_TO"); err != nil {
		return nil, err
	}
	for n := 1; getenv("RESEND_API_KEY_"+strconv.Itoa(n)) != ""; n++ {
		suffix := "_" + strconv.Itoa(n)
		if err := add("RESEND_API_KEY"+suffix, "EMAIL_TO"+suffix); err != nil {
			return nil, err
		}
	}

	return accounts, nil
}

// Validate checks values that cannot be caught while parsing.
func (s *Settings) Validate() error {
	minTimeout := site.MinRequestTimeout * time.Second
	maxTimeout := site.MaxRequestTimeout * time.Second
	if s.RequestTimeout < minTimeout || s.RequestTimeout > maxTimeout {
		return fmt.Errorf("request timeout must be between %s and %s, got %s", minTimeout, maxTimeout, s.RequestTimeout)
	}
	if s.PollInterval < time.Minute {
		return fmt.Errorf("poll interval must be at least 1m, got %s", s.PollInterval)
	}

	switch s.HistoryDriver {
	case history.DriverSQLite, HistoryDisabled:
	case history.DriverPostgres:
		if s.HistoryDSN == "" {
			return errors.New("FLATWATCH_HISTORY_DSN is required for the postgres history driver")
		}
	default:
		return fmt.Errorf("history driver must be sqlite3, postgres or none, got %q", s.HistoryDriver)
	}

	return nil
}

// HistoryEnabled reports whether runs should be recorded.
func (s *Settings) HistoryEnabled() bool {
	return s.HistoryDriver != HistoryDisabled
}

// HistorySource returns the data source for the history database. sqlite
// defaults to history.db in the data directory.
func (s *Settings) HistorySource() string {
	if s.HistoryDSN == "" && s.HistoryDriver == history.DriverSQLite {
		return filepath.Join(s.DataDir, "history.db")
	}
	return s.HistoryDSN
}

// Recipients returns the distinct recipient addresses.
func (s *Settings) Recipients() []string {
	seen := make(map[string]bool)
	var out []string
	for _, a := range s.Accounts {
		if !seen[a.Recipient] {
			seen[a.Recipient] = true
			out = append(out, a.Recipient)
		}
	}
	return out
}

func setString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, name, v string) error {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	// Bare numbers are seconds
	if n, err := strconv.Atoi(v); err == nil {
		*dst = time.Duration(n) * time.Second
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", name, v, err)
	}
	*dst = d
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

package config

import (
	"os"
	"testing"
	"time"

	"github.com/pevans/flatwatch/notify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv blanks every variable Load reads so the host environment does
// not leak into tests.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		"FLATWATCH_SITES_DIR", "FLATWATCH_DATA_DIR", "FLATWATCH_USER_AGENT",
		"FLATWATCH_REQUEST_TIMEOUT", "FLATWATCH_LOG_LEVEL", "FLATWATCH_LOG_FILE",
		"FLATWATCH_HISTORY_DRIVER", "FLATWATCH_HISTORY_DSN", "FLATWATCH_POLL_INTERVAL",
		"FLATWATCH_LISTEN", "EMAIL_FROM", "RESEND_API_KEY", "EMAIL_TO",
		"RESEND_API_KEY_1", "EMAIL_TO_1",
	} {
		t.Setenv(name, "")
	}
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}

// TestLoad_Defaults verifies the settings used without any configuration
func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	setupHome(t, "")

	s, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "sites", s.SitesDir)
	assert.Equal(t, "data", s.DataDir)
	assert.Equal(t, 30*time.Second, s.RequestTimeout)
	assert.Equal(t, "info", s.LogLevel)
	assert.Equal(t, notify.DefaultFrom, s.EmailFrom)
	assert.Equal(t, time.Hour, s.PollInterval)
	assert.True(t, s.HistoryEnabled())
	assert.Equal(t, "data/history.db", s.HistorySource())
	assert.Empty(t, s.Accounts)
}

// TestLoad_EnvOverridesFile verifies environment variables take precedence
func TestLoad_EnvOverridesFile(t *testing.T) {
	clearEnv(t)
	setupHome(t, `sites_dir: file-sites
data_dir: file-data
request_timeout: 5s
email:
  accounts:
    - api_key: file-key
      to: file@example.com
`)
	t.Setenv("FLATWATCH_SITES_DIR", "env-sites")
	t.Setenv("FLATWATCH_REQUEST_TIMEOUT", "12")
	t.Setenv("RESEND_API_KEY", "env-key")
	t.Setenv("EMAIL_TO", "a@example.com, b@example.com")

	s, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "env-sites", s.SitesDir)
	assert.Equal(t, "file-data", s.DataDir)
	assert.Equal(t, 12*time.Second, s.RequestTimeout)
	assert.Equal(t, []notify.Account{
		{APIKey: "env-key", Recipient: "a@example.com"},
		{APIKey: "env-key", Recipient: "b@example.com"},
	}, s.Accounts)
}

// TestLoad_FileAccounts verifies accounts from the file are used when the
// environment has none
func TestLoad_FileAccounts(t *testing.T) {
	clearEnv(t)
	setupHome(t, `email:
  accounts:
    - api_key: k1
      to: one@example.com
`)

	s, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, []notify.Account{{APIKey: "k1", Recipient: "one@example.com"}}, s.Accounts)
	assert.Equal(t, []string{"one@example.com"}, s.Recipients())
}

// TestLoad_Invalid verifies bad values are rejected
func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"bad duration", map[string]string{"FLATWATCH_REQUEST_TIMEOUT": "soon"}},
		{"zero timeout", map[string]string{"FLATWATCH_REQUEST_TIMEOUT": "0"}},
		{"sub-second timeout", map[string]string{"FLATWATCH_REQUEST_TIMEOUT": "500ms"}},
		{"timeout above site limit", map[string]string{"FLATWATCH_REQUEST_TIMEOUT": "5m"}},
		{"short poll", map[string]string{"FLATWATCH_POLL_INTERVAL": "5s"}},
		{"unknown driver", map[string]string{"FLATWATCH_HISTORY_DRIVER": "mongo"}},
		{"postgres without dsn", map[string]string{"FLATWATCH_HISTORY_DRIVER": "postgres"}},
		{"key without recipient", map[string]string{"RESEND_API_KEY": "k"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			setupHome(t, "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := Load("")
			assert.Error(t, err)
		})
	}
}

// TestAccountsFromEnv verifies plain and numbered account variables
func TestAccountsFromEnv(t *testing.T) {
	env := map[string]string{
		"RESEND_API_KEY":   "main",
		"EMAIL_TO":         "me@example.com",
		"RESEND_API_KEY_1": "first",
		"EMAIL_TO_1":       "x@example.com,y@example.com",
		"RESEND_API_KEY_2": "second",
		"EMAIL_TO_2":       "z@example.com",
		// Numbering stops at the first gap
		"RESEND_API_KEY_4": "ignored",
		"EMAIL_TO_4":       "ignored@example.com",
	}

	accounts, err := AccountsFromEnv(func(k string) string { return env[k] })
	require.NoError(t, err)
	assert.Equal(t, []notify.Account{
		{APIKey: "main", Recipient: "me@example.com"},
		{APIKey: "first", Recipient: "x@example.com"},
		{APIKey: "first", Recipient: "y@example.com"},
		{APIKey: "second", Recipient: "z@example.com"},
	}, accounts)
}

// TestAccountsFromEnv_Empty verifies no variables means no accounts
func TestAccountsFromEnv_Empty(t *testing.T) {
	accounts, err := AccountsFromEnv(func(string) string { return "" })
	require.NoError(t, err)
	assert.Empty(t, accounts)
}

// TestHistorySource verifies explicit DSNs are kept
func TestHistorySource(t *testing.T) {
	s := Defaults()
	s.HistoryDSN = "/tmp/h.db"
	assert.Equal(t, "/tmp/h.db", s.HistorySource())

	s.HistoryDriver = HistoryDisabled
	assert.False(t, s.HistoryEnabled())
}

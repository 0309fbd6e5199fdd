package credential

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/profile-validator/internal/random"
	"github.com/JakeFAU/profile-validator/internal/validator"
)

func TestParseCookiesBareToken(t *testing.T) {
	t.Parallel()

	cookies := ParseCookies("  AQEDAT123  ", "li_at", ".linkedin.com")
	require.Len(t, cookies, 1)
	require.Equal(t, "li_at", cookies[0].Name)
	require.Equal(t, "AQEDAT123", cookies[0].Value)
	require.Equal(t, ".linkedin.com", cookies[0].Domain)
	require.True(t, cookies[0].Secure)
}

func TestParseCookiesHeaderForm(t *testing.T) {
	t.Parallel()

	cookies := ParseCookies(`li_at=abc; JSESSIONID="ajax:1"; broken; =x`, "li_at", "")
	require.Len(t, cookies, 2)
	require.Equal(t, "JSESSIONID", cookies[1].Name)
	require.Equal(t, "ajax:1", cookies[1].Value)
}

func TestParseCookiesEmpty(t *testing.T) {
	t.Parallel()

	require.Nil(t, ParseCookies("", "li_at", ""))
	require.Nil(t, ParseCookies("token", "", ""))
}

func TestEnvSessionsSortedBySuffix(t *testing.T) {
	t.Parallel()

	env := []string{
		"LINKEDIN_COOKIE10=ten",
		"LINKEDIN_COOKIE2=two",
		"OTHER=skip",
		"LINKEDIN_COOKIE1=one",
		"LINKEDIN_COOKIE3=",
	}
	sessions := envSessions("LINKEDIN_COOKIE", env)
	require.Equal(t, []Session{
		{ID: "account_1", Cookie: "one"},
		{ID: "account_2", Cookie: "two"},
		{ID: "account_10", Cookie: "ten"},
	}, sessions)
	require.Nil(t, envSessions("", env))
}

func TestEnvSessionsRequireNumericSuffix(t *testing.T) {
	t.Parallel()

	env := []string{
		"LINKEDIN_COOKIE_DOMAIN=.linkedin.com",
		"LINKEDIN_COOKIE_NAME=li_at",
		"LINKEDIN_COOKIE_2=two",
		"LINKEDIN_COOKIEX=skip",
		"LINKEDIN_COOKIE=bare",
		"LINKEDIN_COOKIE-1=dash",
		"LINKEDIN_COOKIE1=one",
	}
	sessions := envSessions("LINKEDIN_COOKIE", env)
	require.Equal(t, []Session{
		{ID: "account_1", Cookie: "one"},
		{ID: "account_2", Cookie: "two"},
	}, sessions)
	require.Nil(t, envSessions("LINKEDIN_COOKIE", []string{"LINKEDIN_COOKIE_DOMAIN=.linkedin.com"}))
}

func TestLoadFromDotEnvAndConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("PVTEST_COOKIE1=tok1\nPVTEST_COOKIE2=tok2\n"), 0o600))
	t.Cleanup(func() {
		_ = os.Unsetenv("PVTEST_COOKIE1")
		_ = os.Unsetenv("PVTEST_COOKIE2")
	})

	creds, err := Load(SourceConfig{
		EnvPrefix:  "PVTEST_COOKIE",
		DotEnv:     path,
		Sessions:   []Session{{ID: "primary", Cookie: "li_at=cfg"}, {ID: "account_1", Cookie: "dup"}},
		CookieName: "li_at",
		UserAgents: []string{"agent-x"},
	}, random.NewSeeded(1), nil)
	require.NoError(t, err)
	require.Len(t, creds, 3)
	require.Equal(t, "primary", creds[0].ID)
	require.Equal(t, "account_1", creds[1].ID)
	require.Equal(t, "dup", creds[1].Cookies[0].Value, "config sessions win over env duplicates")
	require.Equal(t, "account_2", creds[2].ID)
	require.Equal(t, "agent-x", creds[2].UserAgent)
}

func TestLoadFailsWithoutCredentials(t *testing.T) {
	t.Parallel()

	_, err := Load(SourceConfig{EnvPrefix: "PVTEST_NOTHING_SET_", CookieName: "li_at"}, nil, nil)
	require.ErrorIs(t, err, validator.ErrNoCredentialsConfigured)
}

func TestLoadMissingDotEnvIsIgnored(t *testing.T) {
	t.Parallel()

	creds, err := Load(SourceConfig{
		DotEnv:     filepath.Join(t.TempDir(), "absent.env"),
		Sessions:   []Session{{ID: "a", Cookie: "tok"}},
		CookieName: "li_at",
	}, nil, nil)
	require.NoError(t, err)
	require.Len(t, creds, 1)
	require.NotEmpty(t, creds[0].UserAgent)
}

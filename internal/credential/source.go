package credential

import (
	"fmt"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/JakeFAU/profile-validator/internal/random"
	"github.com/JakeFAU/profile-validator/internal/validator"
)

// DefaultUserAgents is used when no user agents are configured.
var DefaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
}

// Session is a configured authentication payload.
type Session struct {
	ID     string `mapstructure:"id"`
	Cookie string `mapstructure:"cookie"`
}

// SourceConfig controls where credentials are read from and how payloads
// become cookies.
type SourceConfig struct {
	// EnvPrefix selects variables such as LINKEDIN_COOKIE1 or LINKEDIN_COOKIE_2.
	// Only all-digit suffixes count.
	EnvPrefix string
	// DotEnv is an optional .env file loaded before the environment is scanned.
	DotEnv string
	// Sessions are payloads supplied through the config file.
	Sessions []Session
	// CookieName names the session cookie when a payload is a bare token.
	CookieName   string
	CookieDomain string
	UserAgents   []string
}

// Load gathers credentials from the config file and the environment. Config
// sessions come first, then environment variables sorted by suffix. An empty
// result is a configuration error.
func Load(cfg SourceConfig, src random.Source, logger *zap.Logger) ([]validator.Credential, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if src == nil {
		src = random.New()
	}
	if cfg.DotEnv != "" {
		if err := godotenv.Load(cfg.DotEnv); err != nil && !os.IsNotExist(err) {
			return nil, validator.NewConfigurationError("credentials.dotenv", fmt.Errorf("load %s: %w", cfg.DotEnv, err))
		}
	}

	sessions := append([]Session(nil), cfg.Sessions...)
	sessions = append(sessions, envSessions(cfg.EnvPrefix, os.Environ())...)

	agents := cfg.UserAgents
	if len(agents) == 0 {
		agents = DefaultUserAgents
	}

	creds := make([]validator.Credential, 0, len(sessions))
	seen := make(map[string]struct{}, len(sessions))
	for _, s := range sessions {
		if _, dup := seen[s.ID]; dup {
			logger.Warn("duplicate credential ignored", zap.String("credential", s.ID))
			continue
		}
		cookies := ParseCookies(s.Cookie, cfg.CookieName, cfg.CookieDomain)
		if len(cookies) == 0 {
			logger.Warn("credential has no usable cookie", zap.String("credential", s.ID))
			continue
		}
		seen[s.ID] = struct{}{}
		creds = append(creds, validator.Credential{
			ID:        s.ID,
			Cookies:   cookies,
			UserAgent: agents[random.Pick(src, len(agents))],
		})
	}
	if len(creds) == 0 {
		return nil, validator.NewConfigurationError("credentials", validator.ErrNoCredentialsConfigured)
	}
	logger.Info("loaded credentials", zap.Int("count", len(creds)))
	return creds, nil
}

// envSessions turns PREFIX<n>=payload and PREFIX_<n>=payload variables into
// sessions named account_<n>, ordered by n. The suffix must be all digits,
// so settings that share the prefix (PREFIX_DOMAIN) are not sessions.
func envSessions(prefix string, environ []string) []Session {
	if prefix == "" {
		return nil
	}
	type numbered struct {
		n       int
		session Session
	}
	var found []numbered
	for _, kv := range environ {
		key, val, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, prefix) {
			continue
		}
		suffix := strings.TrimPrefix(key, prefix)
		suffix = strings.TrimPrefix(suffix, "_")
		val = strings.TrimSpace(val)
		if !isDigits(suffix) || val == "" {
			continue
		}
		n, err := strconv.Atoi(suffix)
		if err != nil {
			continue
		}
		found = append(found, numbered{n: n, session: Session{ID: "account_" + suffix, Cookie: val}})
	}
	sort.SliceStable(found, func(i, j int) bool { return found[i].n < found[j].n })

	out := make([]Session, 0, len(found))
	for _, f := range found {
		out = append(out, f.session)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// ParseCookies accepts either a bare token, stored under cookieName, or a
// "k1=v1; k2=v2" cookie header.
func ParseCookies(payload, cookieName, domain string) []*http.Cookie {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return nil
	}
	if !strings.Contains(payload, "=") {
		if cookieName == "" {
			return nil
		}
		return []*http.Cookie{newCookie(cookieName, payload, domain)}
	}
	var out []*http.Cookie
	for _, part := range strings.Split(payload, ";") {
		name, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		name = strings.TrimSpace(name)
		value = strings.TrimSpace(value)
		if !ok || name == "" || value == "" {
			continue
		}
		out = append(out, newCookie(name, value, domain))
	}
	return out
}

func newCookie(name, value, domain string) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    strings.Trim(value, `"`),
		Domain:   domain,
		Path:     "/",
		HttpOnly: true,
		Secure:   true,
	}
}

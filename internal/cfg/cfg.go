// Package cfg defines the service configuration.
//
// Every field is a flag with its default inline. FillFromEnv then fills
// flags that were not passed on the command line from GUESTGATE_* variables,
// and FillFromLegacyEnv from the unprefixed names the serverless functions
// used (TELEGRAM_BOT_TOKEN, IPINFO_TOKEN, ...). Precedence is CLI flag,
// prefixed env, legacy env, default.
package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/invitation-dn/guestgate/internal/log"
)

// EnvPrefix is prepended to upper-cased flag names to form env keys.
const EnvPrefix = "GUESTGATE_"

var ErrInvalidConfig = errors.New("invalid config")

type App struct {
	// logging and ops
	LogJSON           bool
	LogLevel          string
	StacktraceLevel   string
	IncludeErrorLinks bool
	MaxErrorLinks     int
	HTTPPort          int
	AdminPort         int
	EnablePprof       bool
	EnablePyroscope   bool
	EnableTracing     bool
	PyroServer        string
	PyroTenantID      string
	OTLPEndpoint      string
	TraceSample       float64
	DrainPeriod       time.Duration
	ShutdownTimeout   time.Duration
	AWSRegion         string

	// public listener
	SiteDir        string
	CSP            string
	TrustedHops    int
	ClientIPHeader string
	GlobalRate     float64
	GlobalBurst    int
	MaxVisitors    int

	// gate policy
	AllowedOrigins   string
	AllowedCountries string
	SuspiciousASNs   string
	GateLimit        int
	GateWindow       time.Duration
	GateMode         string
	NotifyLimit      int
	NotifyWindow     time.Duration
	VisitorMax       int
	GuestAPIKey      string
	PentestRateKey   string
	DevModeSecret    string
	RequireNotifier  bool

	// ip intelligence
	IPInfoToken      string
	IPInfoURL        string
	GeoCacheTTL      time.Duration
	GeoCacheMax      int
	AllowGeoOverride bool
	GeoFailOpen      bool

	// notification routes
	TelegramAPIURL          string
	OutboundTimeout         time.Duration
	TelegramBotToken        string
	TelegramChatID          string
	AnalyticsBotToken       string
	AnalyticsChatID         string
	SuspectBotToken         string
	SuspectChatID           string
	AdminBotToken           string
	AdminChatID             string
	DiscordWebhookURL       string
	AnalyticsDiscordWebhook string
	SuspectDiscordWebhook   string
	AdminDiscordWebhook     string
}

// Register binds all config fields to fs with defaults inline.
func Register(fs *flag.FlagSet, c *App) {
	fs.BoolVar(&c.LogJSON, "log-json", true, "JSON logs (true) or logfmt (false)")
	fs.StringVar(&c.LogLevel, "log-level", "info", "debug|info|warn|error")
	fs.StringVar(&c.StacktraceLevel, "stacktrace-level", "error", "debug|info|warn|error")
	fs.BoolVar(&c.IncludeErrorLinks, "include-error-links", true, "Include error links in log messages")
	fs.IntVar(&c.MaxErrorLinks, "max-error-links", 5, "max error chain depth (1..64)")
	fs.IntVar(&c.HTTPPort, "http-port", 8080, "public listen TCP port (1..65535)")
	fs.IntVar(&c.AdminPort, "admin-port", 9000, "admin listen TCP port (1..65535)")
	fs.BoolVar(&c.EnablePprof, "enable-pprof", false, "Enable pprof (admin port only)")
	fs.BoolVar(&c.EnableTracing, "enable-tracing", false, "Enable OTLP tracing and push to otlp-endpoint")
	fs.BoolVar(&c.EnablePyroscope, "enable-pyroscope", false, "Enable pushing Pyroscope data to -pyro-server")
	fs.StringVar(&c.PyroServer, "pyro-server", "", "pyroscope server url to push to")
	fs.StringVar(&c.PyroTenantID, "pyro-tenant", "", "tenant (x-scope-orgid) to use for pyro-server")
	fs.StringVar(&c.OTLPEndpoint, "otlp-endpoint", "", "OTLP gRPC endpoint (host:port)")
	fs.Float64Var(&c.TraceSample, "trace-sample", 0.0, "trace sampling ratio (0..1)")
	fs.DurationVar(&c.DrainPeriod, "drain-period", 5*time.Second, "time between failing readiness and closing listeners")
	fs.DurationVar(&c.ShutdownTimeout, "shutdown-timeout", 15*time.Second, "max time to finish in-flight requests")
	fs.StringVar(&c.AWSRegion, "aws-region", "", "AWS region for ssm:/kms: secret references (default from AWS config chain)")

	fs.StringVar(&c.SiteDir, "site-dir", "", "directory with the built invitation site (index.html); empty serves the maintenance page")
	fs.StringVar(&c.CSP, "csp", "", "Content-Security-Policy override for the site")
	fs.IntVar(&c.TrustedHops, "trusted-hops", 1, "reverse proxies in front of the server (0..10)")
	fs.StringVar(&c.ClientIPHeader, "client-ip-header", "", "edge header carrying the client IP, e.g. CF-Connecting-IP")
	fs.Float64Var(&c.GlobalRate, "global-rate", 10, "flood guard refill rate per IP (requests/second)")
	fs.IntVar(&c.GlobalBurst, "global-burst", 30, "flood guard bucket size per IP")
	fs.IntVar(&c.MaxVisitors, "max-visitors", 100000, "max IPs tracked by the flood guard")

	fs.StringVar(&c.AllowedOrigins, "allowed-origins", "https://invitation-dn.netlify.app,http://localhost:3000", "comma-separated origin prefixes allowed to call the API")
	fs.StringVar(&c.AllowedCountries, "allowed-countries", "ID,SG,MY", "comma-separated ISO country codes admitted by the gate")
	fs.StringVar(&c.SuspiciousASNs, "suspicious-asns", "14061,16509,14618,15169,8075,13335,174,9009,3223,53667", "comma-separated ASNs treated as hosting/VPN")
	fs.IntVar(&c.GateLimit, "gate-limit", 10, "guest-count requests per IP per window")
	fs.DurationVar(&c.GateWindow, "gate-window", 10*time.Minute, "guest-count rate window")
	fs.StringVar(&c.GateMode, "gate-mode", "sliding", "guest-count window mode: sliding|fixed")
	fs.IntVar(&c.NotifyLimit, "notify-limit", 5, "notification submissions per IP per window")
	fs.DurationVar(&c.NotifyWindow, "notify-window", 10*time.Minute, "notification rate window")
	fs.IntVar(&c.VisitorMax, "visitor-max", 50000, "max visitor fingerprints kept in memory")
	fs.StringVar(&c.GuestAPIKey, "guest-api-key", "", "API key accepted for admin actions")
	fs.StringVar(&c.PentestRateKey, "pentest-rate-key", "", "API key that bypasses the gate rate limit (empty disables)")
	fs.StringVar(&c.DevModeSecret, "dev-mode-secret", "", "referer ?devMode= value that skips tracking (empty disables)")
	fs.BoolVar(&c.RequireNotifier, "require-notifier", false, "report not ready until RSVP/guestbook notifications have a target")

	fs.StringVar(&c.IPInfoToken, "ipinfo-token", "", "ipinfo.io token (empty disables geo lookups)")
	fs.StringVar(&c.IPInfoURL, "ipinfo-url", "https://ipinfo.io", "ipinfo base URL")
	fs.DurationVar(&c.GeoCacheTTL, "geo-cache-ttl", time.Hour, "how long a geo lookup is reused")
	fs.IntVar(&c.GeoCacheMax, "geo-cache-max", 10000, "max cached geo lookups")
	fs.BoolVar(&c.AllowGeoOverride, "allow-geo-override", false, "honour the X-Geo-Mock header (staging/pentest only)")
	fs.BoolVar(&c.GeoFailOpen, "geo-fail-open", false, "admit visitors whose country could not be resolved")

	fs.StringVar(&c.TelegramAPIURL, "telegram-api-url", "https://api.telegram.org", "Telegram Bot API base URL")
	fs.DurationVar(&c.OutboundTimeout, "outbound-timeout", 5*time.Second, "timeout for Telegram, Discord and ipinfo calls")
	fs.StringVar(&c.TelegramBotToken, "telegram-bot-token", "", "bot token for RSVP/guestbook notifications")
	fs.StringVar(&c.TelegramChatID, "telegram-chat-id", "", "chat id for RSVP/guestbook notifications")
	fs.StringVar(&c.AnalyticsBotToken, "analytics-bot-token", "", "bot token for visitor reports")
	fs.StringVar(&c.AnalyticsChatID, "analytics-chat-id", "", "chat id for visitor reports")
	fs.StringVar(&c.SuspectBotToken, "suspect-bot-token", "", "bot token for suspicious visitor reports")
	fs.StringVar(&c.SuspectChatID, "suspect-chat-id", "", "chat id for suspicious visitor reports")
	fs.StringVar(&c.AdminBotToken, "admin-bot-token", "", "bot token for spam/flood alerts")
	fs.StringVar(&c.AdminChatID, "admin-chat-id", "", "chat id for spam/flood alerts")
	fs.StringVar(&c.DiscordWebhookURL, "discord-webhook-url", "", "Discord webhook for RSVP/guestbook notifications")
	fs.StringVar(&c.AnalyticsDiscordWebhook, "analytics-discord-webhook", "", "Discord webhook for visitor reports")
	fs.StringVar(&c.SuspectDiscordWebhook, "suspect-discord-webhook", "", "Discord webhook for suspicious visitor reports")
	fs.StringVar(&c.AdminDiscordWebhook, "admin-discord-webhook", "", "Discord webhook for spam/flood alerts")
}

// FillFromEnv sets any flag not passed on the CLI from the environment.
// Flag "foo-bar" maps to PREFIX_FOO_BAR. Invalid values are reported and
// ignored.
func FillFromEnv(fs *flag.FlagSet, prefix string, logf func(string, ...any)) {
	explicit := explicitFlags(fs)
	fs.VisitAll(func(f *flag.Flag) {
		key := EnvKey(prefix, f.Name)
		val, ok := os.LookupEnv(key)
		if !ok {
			return
		}
		if explicit[f.Name] {
			if logf != nil {
				logf("flag -%s: cli value overrides env %s", f.Name, key)
			}
			return
		}
		setOrRestore(fs, f, key, val, logf)
	})
}

// LegacyEnv maps flags to the variable names of the serverless deployment.
var LegacyEnv = map[string]string{
	"telegram-bot-token":    "TELEGRAM_BOT_TOKEN",
	"telegram-chat-id":      "TELEGRAM_CHAT_ID",
	"analytics-bot-token":   "ANALYTICS_BOT_TOKEN",
	"analytics-chat-id":     "ANALYTICS_CHAT_ID",
	"suspect-bot-token":     "SUSPECT_BOT_TOKEN",
	"suspect-chat-id":       "SUSPECT_CHAT_ID",
	"admin-bot-token":       "ADMIN_TELEGRAM_BOT_TOKEN",
	"admin-chat-id":         "ADMIN_TELEGRAM_CHAT_ID",
	"discord-webhook-url":   "DISCORD_WEBHOOK_URL",
	"ipinfo-token":          "IPINFO_TOKEN",
	"allowed-countries":     "ALLOWED_COUNTRIES",
	"guest-api-key":         "GUEST_API_KEY",
	"pentest-rate-key":      "PENTEST_RATE_KEY",
	"dev-mode-secret":       "DEV_MODE_SECRET",
}

// FillFromLegacyEnv applies LegacyEnv for flags that neither the CLI nor the
// prefixed environment set.
func FillFromLegacyEnv(fs *flag.FlagSet, prefix string, logf func(string, ...any)) {
	explicit := explicitFlags(fs)
	for name, key := range LegacyEnv {
		f := fs.Lookup(name)
		if f == nil || explicit[name] {
			continue
		}
		if _, ok := os.LookupEnv(EnvKey(prefix, name)); ok {
			continue
		}
		if val, ok := os.LookupEnv(key); ok {
			setOrRestore(fs, f, key, val, logf)
		}
	}
}

func EnvKey(prefix, flagName string) string {
	return prefix + strings.ReplaceAll(strings.ToUpper(flagName), "-", "_")
}

func explicitFlags(fs *flag.FlagSet) map[string]bool {
	m := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { m[f.Name] = true })
	return m
}

func setOrRestore(fs *flag.FlagSet, f *flag.Flag, key, val string, logf func(string, ...any)) {
	prev := f.Value.String()
	if err := fs.Set(f.Name, val); err != nil {
		_ = fs.Set(f.Name, prev)
		if logf != nil {
			logf("flag -%s: ignoring invalid env %s: %v", f.Name, key, err)
		}
	}
}

// SplitList splits a comma-separated value, trimming blanks and dropping
// empty items.
func SplitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c App) Origins() []string { return SplitList(c.AllowedOrigins) }

func (c App) Countries() []string {
	list := SplitList(c.AllowedCountries)
	for i := range list {
		list[i] = strings.ToUpper(list[i])
	}
	return list
}

func (c App) ASNs() []string {
	list := SplitList(c.SuspiciousASNs)
	for i := range list {
		list[i] = strings.TrimPrefix(strings.ToUpper(list[i]), "AS")
	}
	return list
}

// SecretValues lists every configured credential so the logger can mask
// them.
func (c App) SecretValues() []string {
	var out []string
	for _, s := range []string{
		c.GuestAPIKey, c.PentestRateKey, c.DevModeSecret, c.IPInfoToken,
		c.TelegramBotToken, c.AnalyticsBotToken, c.SuspectBotToken, c.AdminBotToken,
		c.DiscordWebhookURL, c.AnalyticsDiscordWebhook, c.SuspectDiscordWebhook,
		c.AdminDiscordWebhook,
	} {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// SecretFields maps flag names to the fields that may hold ssm: or kms:
// references.
func (c *App) SecretFields() map[string]*string {
	return map[string]*string{
		"guest-api-key":             &c.GuestAPIKey,
		"pentest-rate-key":          &c.PentestRateKey,
		"dev-mode-secret":           &c.DevModeSecret,
		"ipinfo-token":              &c.IPInfoToken,
		"telegram-bot-token":        &c.TelegramBotToken,
		"analytics-bot-token":       &c.AnalyticsBotToken,
		"suspect-bot-token":         &c.SuspectBotToken,
		"admin-bot-token":           &c.AdminBotToken,
		"discord-webhook-url":       &c.DiscordWebhookURL,
		"analytics-discord-webhook": &c.AnalyticsDiscordWebhook,
		"suspect-discord-webhook":   &c.SuspectDiscordWebhook,
		"admin-discord-webhook":     &c.AdminDiscordWebhook,
	}
}

// Validate reports every invalid field at once, wrapped in
// ErrInvalidConfig.
func Validate(c App) error {
	var errs []error

	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.HTTPPort))
	}
	if c.AdminPort < 1 || c.AdminPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid ADMIN_PORT %d (must be 1..65535)", c.AdminPort))
	}
	if c.AdminPort == c.HTTPPort {
		errs = append(errs, fmt.Errorf("ADMIN_PORT and HTTP_PORT must differ (both %d)", c.HTTPPort))
	}

	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err))
	}
	if c.StacktraceLevel != "" {
		if _, err := log.ParseLevel(c.StacktraceLevel); err != nil {
			errs = append(errs, fmt.Errorf("invalid STACKTRACE_LEVEL %q: %w", c.StacktraceLevel, err))
		}
	}
	if c.IncludeErrorLinks && (c.MaxErrorLinks < 1 || c.MaxErrorLinks > 64) {
		errs = append(errs, fmt.Errorf("MAX_ERROR_LINKS must be 1..64 (got %d)", c.MaxErrorLinks))
	}

	if c.TraceSample < 0 || c.TraceSample > 1 {
		errs = append(errs, fmt.Errorf("invalid TRACE_SAMPLE %.3f (must be 0..1)", c.TraceSample))
	}
	if c.EnablePyroscope {
		if c.PyroServer == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER required when ENABLE_PYROSCOPE=true"))
		} else if !isHTTPURL(c.PyroServer) {
			errs = append(errs, fmt.Errorf("PYRO_SERVER must be a URL (got %q)", c.PyroServer))
		}
		if c.PyroTenantID == "" {
			errs = append(errs, fmt.Errorf("PYRO_TENANT required when ENABLE_PYROSCOPE=true"))
		}
	}
	if c.EnableTracing {
		if c.OTLPEndpoint == "" {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT required when ENABLE_TRACING=true"))
		} else if _, _, err := net.SplitHostPort(c.OTLPEndpoint); err != nil {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT must be host:port (got %q): %v", c.OTLPEndpoint, err))
		}
	}
	if c.DrainPeriod < 0 {
		errs = append(errs, fmt.Errorf("DRAIN_PERIOD must not be negative"))
	}
	if c.ShutdownTimeout <= 0 {
		errs = append(errs, fmt.Errorf("SHUTDOWN_TIMEOUT must be positive"))
	}

	if c.TrustedHops < 0 || c.TrustedHops > 10 {
		errs = append(errs, fmt.Errorf("TRUSTED_HOPS must be 0..10 (got %d)", c.TrustedHops))
	}
	if c.GlobalRate <= 0 || c.GlobalBurst < 1 {
		errs = append(errs, fmt.Errorf("GLOBAL_RATE and GLOBAL_BURST must be positive"))
	}

	origins := c.Origins()
	if len(origins) == 0 {
		errs = append(errs, fmt.Errorf("ALLOWED_ORIGINS must list at least one origin"))
	}
	for _, o := range origins {
		if !isHTTPURL(o) {
			errs = append(errs, fmt.Errorf("ALLOWED_ORIGINS entry %q is not an http(s) origin", o))
		}
	}
	for _, cc := range c.Countries() {
		if len(cc) != 2 {
			errs = append(errs, fmt.Errorf("ALLOWED_COUNTRIES entry %q is not a 2-letter code", cc))
		}
	}
	for _, asn := range c.ASNs() {
		if _, err := strconv.ParseUint(asn, 10, 32); err != nil {
			errs = append(errs, fmt.Errorf("SUSPICIOUS_ASNS entry %q is not numeric", asn))
		}
	}
	if c.GateLimit < 1 || c.GateWindow <= 0 {
		errs = append(errs, fmt.Errorf("GATE_LIMIT and GATE_WINDOW must be positive"))
	}
	if c.GateMode != "sliding" && c.GateMode != "fixed" {
		errs = append(errs, fmt.Errorf("GATE_MODE must be sliding or fixed (got %q)", c.GateMode))
	}
	if c.NotifyLimit < 1 || c.NotifyWindow <= 0 {
		errs = append(errs, fmt.Errorf("NOTIFY_LIMIT and NOTIFY_WINDOW must be positive"))
	}
	if c.VisitorMax < 1 {
		errs = append(errs, fmt.Errorf("VISITOR_MAX must be positive"))
	}

	if !isHTTPURL(c.IPInfoURL) {
		errs = append(errs, fmt.Errorf("IPINFO_URL must be a URL (got %q)", c.IPInfoURL))
	}
	if c.GeoCacheTTL <= 0 || c.GeoCacheMax < 1 {
		errs = append(errs, fmt.Errorf("GEO_CACHE_TTL and GEO_CACHE_MAX must be positive"))
	}
	if !isHTTPURL(c.TelegramAPIURL) {
		errs = append(errs, fmt.Errorf("TELEGRAM_API_URL must be a URL (got %q)", c.TelegramAPIURL))
	}
	if c.OutboundTimeout <= 0 {
		errs = append(errs, fmt.Errorf("OUTBOUND_TIMEOUT must be positive"))
	}

	for _, p := range []struct{ name, token, chat string }{
		{"TELEGRAM", c.TelegramBotToken, c.TelegramChatID},
		{"ANALYTICS", c.AnalyticsBotToken, c.AnalyticsChatID},
		{"SUSPECT", c.SuspectBotToken, c.SuspectChatID},
		{"ADMIN", c.AdminBotToken, c.AdminChatID},
	} {
		if (p.token == "") != (p.chat == "") {
			errs = append(errs, fmt.Errorf("%s bot token and chat id must be set together", p.name))
		}
	}
	for name, hook := range map[string]string{
		"DISCORD_WEBHOOK_URL":       c.DiscordWebhookURL,
		"ANALYTICS_DISCORD_WEBHOOK": c.AnalyticsDiscordWebhook,
		"SUSPECT_DISCORD_WEBHOOK":   c.SuspectDiscordWebhook,
		"ADMIN_DISCORD_WEBHOOK":     c.AdminDiscordWebhook,
	} {
		// secret references are resolved later
		if hook != "" && !isSecretRef(hook) && !isHTTPURL(hook) {
			errs = append(errs, fmt.Errorf("%s must be a URL", name))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

func isHTTPURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func isSecretRef(s string) bool {
	return strings.HasPrefix(s, "ssm:") || strings.HasPrefix(s, "kms:")
}

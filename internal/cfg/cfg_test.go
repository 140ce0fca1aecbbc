package cfg

import (
	"errors"
	"flag"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func wantErrContains(t *testing.T, err error, sub string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error containing %q, got <nil>", sub)
	}
	if !strings.Contains(err.Error(), sub) {
		t.Fatalf("error %q does not contain %q", err.Error(), sub)
	}
}

func newFlagSet(t *testing.T, args []string) (*flag.FlagSet, *App) {
	t.Helper()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	c := &App{}
	Register(fs, c)
	if err := fs.Parse(args); err != nil {
		t.Fatalf("flag parse: %v", err)
	}
	return fs, c
}

func TestRegister_Defaults(t *testing.T) {
	_, c := newFlagSet(t, nil)

	if !c.LogJSON || c.LogLevel != "info" || c.StacktraceLevel != "error" {
		t.Fatalf("logging defaults: %+v", c)
	}
	if c.HTTPPort != 8080 || c.AdminPort != 9000 {
		t.Fatalf("ports = %d/%d", c.HTTPPort, c.AdminPort)
	}
	if c.GateLimit != 10 || c.GateWindow != 10*time.Minute || c.GateMode != "sliding" {
		t.Fatalf("gate defaults = %d %v %s", c.GateLimit, c.GateWindow, c.GateMode)
	}
	if c.NotifyLimit != 5 || c.NotifyWindow != 10*time.Minute {
		t.Fatalf("notify defaults = %d %v", c.NotifyLimit, c.NotifyWindow)
	}
	if !reflect.DeepEqual(c.Countries(), []string{"ID", "SG", "MY"}) {
		t.Fatalf("countries = %v", c.Countries())
	}
	if got := c.ASNs(); len(got) != 10 || got[0] != "14061" || got[9] != "53667" {
		t.Fatalf("asns = %v", got)
	}
	if c.PentestRateKey != "" || c.AllowGeoOverride || c.GeoFailOpen {
		t.Fatal("bypass knobs must default off")
	}
	if err := Validate(*c); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestFillFromEnv(t *testing.T) {
	t.Setenv("GUESTGATE_HTTP_PORT", "8181")
	t.Setenv("GUESTGATE_GATE_WINDOW", "5m")
	t.Setenv("GUESTGATE_ALLOW_GEO_OVERRIDE", "true")
	t.Setenv("GUESTGATE_LOG_LEVEL", "debug")

	fs, c := newFlagSet(t, []string{"-log-level=warn"})
	var notes []string
	FillFromEnv(fs, EnvPrefix, func(f string, a ...any) { notes = append(notes, f) })

	if c.HTTPPort != 8181 || c.GateWindow != 5*time.Minute || !c.AllowGeoOverride {
		t.Fatalf("env not applied: %+v", c)
	}
	if c.LogLevel != "warn" {
		t.Fatalf("cli should win over env, got %q", c.LogLevel)
	}
	if len(notes) != 1 {
		t.Fatalf("notes = %v", notes)
	}
}

func TestFillFromEnv_InvalidIgnored(t *testing.T) {
	t.Setenv("GUESTGATE_HTTP_PORT", "eighty")
	fs, c := newFlagSet(t, nil)
	var notes []string
	FillFromEnv(fs, EnvPrefix, func(f string, a ...any) { notes = append(notes, f) })
	if c.HTTPPort != 8080 {
		t.Fatalf("port = %d, want default kept", c.HTTPPort)
	}
	if len(notes) != 1 || !strings.Contains(notes[0], "ignoring invalid env") {
		t.Fatalf("notes = %v", notes)
	}
}

func TestFillFromLegacyEnv(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "legacy-token")
	t.Setenv("ADMIN_TELEGRAM_CHAT_ID", "-100123")
	t.Setenv("IPINFO_TOKEN", "legacy-ipinfo")
	t.Setenv("GUESTGATE_IPINFO_TOKEN", "prefixed-ipinfo")
	t.Setenv("ALLOWED_COUNTRIES", "ID")

	fs, c := newFlagSet(t, []string{"-allowed-countries=ID,SG"})
	FillFromEnv(fs, EnvPrefix, nil)
	FillFromLegacyEnv(fs, EnvPrefix, nil)

	if c.TelegramBotToken != "legacy-token" || c.AdminChatID != "-100123" {
		t.Fatalf("legacy names not applied: %q %q", c.TelegramBotToken, c.AdminChatID)
	}
	if c.IPInfoToken != "prefixed-ipinfo" {
		t.Fatalf("prefixed env should beat legacy, got %q", c.IPInfoToken)
	}
	if c.AllowedCountries != "ID,SG" {
		t.Fatalf("cli should beat legacy, got %q", c.AllowedCountries)
	}
}

func TestEnvKey(t *testing.T) {
	if got := EnvKey(EnvPrefix, "suspect-bot-token"); got != "GUESTGATE_SUSPECT_BOT_TOKEN" {
		t.Fatalf("EnvKey = %q", got)
	}
}

func TestSplitListAndHelpers(t *testing.T) {
	if got := SplitList(" a, ,b ,, c "); !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Fatalf("SplitList = %v", got)
	}
	if SplitList("") != nil {
		t.Fatal("empty list should be nil")
	}
	c := App{AllowedCountries: "id, sg", SuspiciousASNs: "AS13335, 174"}
	if !reflect.DeepEqual(c.Countries(), []string{"ID", "SG"}) {
		t.Fatalf("countries = %v", c.Countries())
	}
	if !reflect.DeepEqual(c.ASNs(), []string{"13335", "174"}) {
		t.Fatalf("asns = %v", c.ASNs())
	}
}

func TestSecretValues(t *testing.T) {
	c := App{GuestAPIKey: "guest-key", SuspectBotToken: "123:abc", AdminDiscordWebhook: "https://discord.test/hook"}
	got := c.SecretValues()
	if len(got) != 3 {
		t.Fatalf("secrets = %v", got)
	}
}

func TestValidate_Tooling(t *testing.T) {
	_, c := newFlagSet(t, []string{
		"-enable-pyroscope=true",
		"-pyro-server=https://pyro:4040",
		"-pyro-tenant=guests",
		"-enable-tracing=true",
		"-otlp-endpoint=otel:4317",
		"-trace-sample=0.2",
	})
	if err := Validate(*c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_InvalidCombined(t *testing.T) {
	_, c := newFlagSet(t, []string{
		"-http-port=0",
		"-admin-port=70000",
		"-log-level=nope",
		"-trace-sample=2.0",
		"-enable-tracing=true",
		"-otlp-endpoint=otel",
		"-max-error-links=0",
		"-trusted-hops=-1",
		"-allowed-origins=ftp://nope",
		"-allowed-countries=IDN",
		"-suspicious-asns=AS13335,cloud",
		"-gate-mode=leaky",
		"-notify-limit=0",
		"-telegram-bot-token=123:abc",
		"-admin-discord-webhook=not a url",
	})

	err := Validate(*c)
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("err = %v, want ErrInvalidConfig", err)
	}
	for _, sub := range []string{
		"invalid HTTP_PORT",
		"invalid ADMIN_PORT",
		"invalid LOG_LEVEL",
		"invalid TRACE_SAMPLE",
		"OTLP_ENDPOINT must be host:port",
		"MAX_ERROR_LINKS",
		"TRUSTED_HOPS",
		`ALLOWED_ORIGINS entry "ftp://nope"`,
		`ALLOWED_COUNTRIES entry "IDN"`,
		`SUSPICIOUS_ASNS entry "CLOUD"`,
		"GATE_MODE",
		"NOTIFY_LIMIT",
		"TELEGRAM bot token and chat id",
		"ADMIN_DISCORD_WEBHOOK must be a URL",
	} {
		wantErrContains(t, err, sub)
	}
}

func TestValidate_SecretRefWebhook(t *testing.T) {
	_, c := newFlagSet(t, []string{"-discord-webhook-url=ssm:/guestgate/discord"})
	if err := Validate(*c); err != nil {
		t.Fatalf("secret references should pass validation: %v", err)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("GUESTGATE_TEST_DOTENV=from-file\nGUESTGATE_TEST_PRESET=from-file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("GUESTGATE_TEST_PRESET", "from-env")
	t.Cleanup(func() { _ = os.Unsetenv("GUESTGATE_TEST_DOTENV") })

	loaded, err := LoadDotEnv(path, true)
	if err != nil || !loaded {
		t.Fatalf("LoadDotEnv = %v, %v", loaded, err)
	}
	if os.Getenv("GUESTGATE_TEST_DOTENV") != "from-file" {
		t.Fatal("value from file not loaded")
	}
	if os.Getenv("GUESTGATE_TEST_PRESET") != "from-env" {
		t.Fatal(".env must not override existing variables")
	}
}

func TestLoadDotEnv_Missing(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope.env")
	if loaded, err := LoadDotEnv(missing, false); err != nil || loaded {
		t.Fatalf("optional missing file: %v, %v", loaded, err)
	}
	if _, err := LoadDotEnv(missing, true); err == nil {
		t.Fatal("required missing file should error")
	}
}

func TestSecretFields(t *testing.T) {
	fs, c := newFlagSet(t, []string{"-telegram-bot-token", "ssm:/guestgate/bot"})
	fields := c.SecretFields()
	for name := range fields {
		if fs.Lookup(name) == nil {
			t.Errorf("secret field %q is not a flag", name)
		}
	}
	p := fields["telegram-bot-token"]
	if p == nil || *p != "ssm:/guestgate/bot" {
		t.Fatalf("telegram-bot-token field = %v", p)
	}
	*p = "123:resolved"
	if c.TelegramBotToken != "123:resolved" {
		t.Fatal("SecretFields must point at the config fields")
	}
}

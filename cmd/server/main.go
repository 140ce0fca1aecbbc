package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/invitation-dn/guestgate/internal/cfg"
	"github.com/invitation-dn/guestgate/internal/gatehttp"
	"github.com/invitation-dn/guestgate/internal/geo"
	"github.com/invitation-dn/guestgate/internal/health"
	"github.com/invitation-dn/guestgate/internal/httpmw"
	"github.com/invitation-dn/guestgate/internal/httpserver"
	"github.com/invitation-dn/guestgate/internal/log"
	"github.com/invitation-dn/guestgate/internal/metrics"
	"github.com/invitation-dn/guestgate/internal/notify"
	"github.com/invitation-dn/guestgate/internal/opshttp"
	"github.com/invitation-dn/guestgate/internal/otelx"
	"github.com/invitation-dn/guestgate/internal/prof"
	"github.com/invitation-dn/guestgate/internal/ratelimit"
	"github.com/invitation-dn/guestgate/internal/screen"
	"github.com/invitation-dn/guestgate/internal/secrets"
	"github.com/invitation-dn/guestgate/internal/sitehandler"
	v "github.com/invitation-dn/guestgate/internal/version"
	"github.com/invitation-dn/guestgate/internal/visitor"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	vi := v.Get()

	var (
		conf        cfg.App
		showVersion bool
		envFile     string
	)
	cfg.Register(flag.CommandLine, &conf)
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")
	flag.StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment (missing is fine)")
	flag.Parse()

	if showVersion {
		fmt.Println(vi.String())
		os.Exit(0)
	}

	stderrf := func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	}

	// .env never overrides variables already in the environment
	if _, err := cfg.LoadDotEnv(envFile, envFile != ".env"); err != nil {
		stderrf("config error: %v", err)
		os.Exit(1)
	}
	cfg.FillFromEnv(flag.CommandLine, cfg.EnvPrefix, stderrf)
	cfg.FillFromLegacyEnv(flag.CommandLine, cfg.EnvPrefix, stderrf)

	if err := cfg.Validate(conf); err != nil {
		stderrf("config error: %v", err)
		os.Exit(1)
	}

	// resolve ssm:/kms: references before anything can log them
	fields := conf.SecretFields()
	var refs []string
	for _, p := range fields {
		refs = append(refs, *p)
	}
	if secrets.AnyRef(refs...) {
		rctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		resolver, err := secrets.New(rctx, conf.AWSRegion)
		if err == nil {
			err = resolver.ResolveAll(rctx, fields)
		}
		cancel()
		if err != nil {
			stderrf("secret resolution failed: %v", err)
			os.Exit(1)
		}
	}

	lvl, _ := log.ParseLevel(conf.LogLevel)
	stackLvl, _ := log.ParseLevel(conf.StacktraceLevel)
	lg, err := log.New(log.Options{
		App:               v.AppName,
		Version:           vi.Version,
		Level:             lvl,
		StacktraceLevel:   stackLvl,
		JsonFormat:        conf.LogJSON,
		MaxErrorLinks:     conf.MaxErrorLinks,
		IncludeErrorLinks: conf.IncludeErrorLinks,
		Secrets:           conf.SecretValues(),
	})
	if err != nil {
		stderrf("logger init error: %v", err)
		os.Exit(1)
	}
	defer lg.Sync()
	L := lg.With("component", "server")
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"build_id", vi.BuildId,
		"go_version", vi.GoVersion,
		"http_port", conf.HTTPPort,
		"admin_port", conf.AdminPort,
		"site_dir", conf.SiteDir,
		"allowed_origins", conf.Origins(),
		"allowed_countries", conf.Countries(),
		"gate_limit", conf.GateLimit,
		"gate_window", conf.GateWindow,
		"gate_mode", conf.GateMode,
		"notify_limit", conf.NotifyLimit,
		"notify_window", conf.NotifyWindow,
		"trusted_hops", conf.TrustedHops,
		"geo_enabled", conf.IPInfoToken != "",
		"allow_geo_override", conf.AllowGeoOverride,
		"geo_fail_open", conf.GeoFailOpen,
		"enable_pprof", conf.EnablePprof,
		"enable_pyroscope", conf.EnablePyroscope,
		"enable_tracing", conf.EnableTracing,
	)

	m := metrics.New()
	m.SetBuildInfoFromVersion("server", vi)

	stopProf, err := prof.Start(ctx, prof.Options{
		Enabled:       conf.EnablePyroscope,
		AppName:       v.AppName,
		ServerAddress: conf.PyroServer,
		TenantID:      conf.PyroTenantID,
		Tags: map[string]string{
			"component": "server",
			"version":   vi.Version,
			"commit":    vi.Commit,
		},
		OnActive: m.SetProfilingActive,
	})
	if err != nil {
		L.Error(ctx, err, "pyroscope start failed", "pyro_server", conf.PyroServer)
	}
	defer stopProf()

	// the collector runs on localhost
	shutdownOTEL, err := otelx.Init(ctx, otelx.Options{
		Enabled:   conf.EnableTracing,
		Endpoint:  conf.OTLPEndpoint,
		Insecure:  true,
		Sample:    conf.TraceSample,
		Service:   v.AppName,
		Component: "server",
		Version:   vi.Version,
	})
	if err != nil {
		L.Error(ctx, err, "otel init failed, tracing disabled")
		shutdownOTEL, _ = otelx.Init(ctx, otelx.Options{})
	}

	// flood guard on every public request
	flood := ratelimit.New(ctx,
		ratelimit.WithRate(conf.GlobalRate, conf.GlobalBurst),
		ratelimit.WithMaxVisitors(conf.MaxVisitors),
		ratelimit.WithOnDenied(func(string) { m.IncRateLimitDenied("global") }),
		ratelimit.WithOnFirstDenied(func(ip string) {
			L.Warn(ctx, "rate limit triggered", "limiter", "global", "ip", ip)
		}),
		ratelimit.WithOnCapacity(func(string) {
			m.IncRateLimitCapacity()
			L.Warn(ctx, "rate limit capacity reached, rejecting new visitors until some are evicted")
		}),
	)

	gateMode := ratelimit.Sliding
	if conf.GateMode == ratelimit.Fixed.String() {
		gateMode = ratelimit.Fixed
	}
	gateLimiter := ratelimit.NewWindow(ctx, conf.GateLimit, conf.GateWindow, ratelimit.WithMode(gateMode))
	notifyLimiter := ratelimit.NewWindow(ctx, conf.NotifyLimit, conf.NotifyWindow)
	for name, w := range map[string]*ratelimit.WindowLimiter{"gate": gateLimiter, "notify": notifyLimiter} {
		L.Info(ctx, "window limiter", "limiter", name, "max", w.Max(), "window", w.Window().String())
	}

	tracker := visitor.NewTracker(visitor.WithMaxRecords(conf.VisitorMax))
	m.TrackVisitors(tracker.Len)

	geoResolver := geo.NewCachedResolver(
		geo.NewIPInfoClient(conf.IPInfoURL, conf.IPInfoToken, conf.OutboundTimeout),
		geo.WithTTL(conf.GeoCacheTTL),
		geo.WithMaxEntries(conf.GeoCacheMax),
		geo.WithOnLookup(m.IncGeoLookup),
	)
	m.TrackGeoCache(geoResolver.Len)

	outbound := notify.NewHTTPClient(conf.OutboundTimeout)
	notifier := notify.New(
		&notify.Telegram{BaseURL: conf.TelegramAPIURL, HTTPClient: outbound},
		&notify.Discord{HTTPClient: outbound},
		notifyRoutes(conf),
	)
	notifier.OnDelivery = func(ch notify.Channel, target string, d time.Duration, err error) {
		m.ObserveNotification(string(ch), target, d.Seconds(), err)
	}
	for _, ch := range []notify.Channel{notify.ChannelGuest, notify.ChannelAnalytics, notify.ChannelSuspect, notify.ChannelAdmin} {
		if !notifier.Configured(ch) {
			L.Warn(ctx, "notification channel has no target", "channel", string(ch))
		}
	}

	api := gatehttp.NewAPI(gatehttp.Options{
		AllowedOrigins: conf.Origins(),
		Policy: screen.Policy{
			AllowedCountries: conf.Countries(),
			SuspiciousASNs:   conf.ASNs(),
			GeoFailOpen:      conf.GeoFailOpen,
		},
		GuestAPIKey:      conf.GuestAPIKey,
		PentestRateKey:   conf.PentestRateKey,
		DevModeSecret:    conf.DevModeSecret,
		AllowGeoOverride: conf.AllowGeoOverride,
		GateLimiter:      gateLimiter,
		NotifyLimiter:    notifyLimiter,
		Tracker:          tracker,
		Geo:              geoResolver,
		Notifier:         notifier,
		Logger:           L,
		OnDecision: func(endpoint, outcome string) {
			m.ObserveDecision(endpoint, outcome)
			if outcome == "rate_limited" {
				limiter := "gate"
				if endpoint == gatehttp.EndpointNotify {
					limiter = "notify"
				}
				m.IncRateLimitDenied(limiter)
			}
		},
		OnSuspicious: m.IncSuspicious,
	})

	site := sitehandler.NewDirSite(conf.SiteDir)
	if !site.Ready() {
		L.Warn(ctx, "no site to serve, maintenance page active until index.html appears", "site_dir", conf.SiteDir)
	}
	siteHandler, err := sitehandler.New(&sitehandler.Options{Logger: L, Site: site})
	if err != nil {
		L.Error(ctx, err, "failed to create site handler")
		os.Exit(1)
	}

	var gate health.ShutdownGate
	readiness := health.All(gate.Readiness())
	if conf.RequireNotifier {
		readiness = health.All(gate.Readiness(), health.Configured(
			func() bool { return notifier.Configured(notify.ChannelGuest) },
			"no guest notification target configured",
		))
	}
	liveness := health.Fixed(true, "")

	publicStop, err := httpserver.Start(ctx, &httpserver.Options{
		Logger:       L,
		Port:         conf.HTTPPort,
		UseRecoverMW: true,
		OnPanic:      m.IncHttpPanic,
		CSP:          conf.CSP,
		ClientIPOpts: httpmw.ClientIPOptions{
			TrustedHops: conf.TrustedHops,
			Header:      conf.ClientIPHeader,
		},
		RateLimitMW: flood.Middleware,
		MetricsMW:   m.Middleware,
		Health:      liveness,
		Readiness:   readiness,
		Routes:      []httpserver.RouteRegistrar{api},
		Fallback:    siteHandler,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start public http listener")
		os.Exit(1)
	}

	// ops listener rejects public peers; it must not be reachable by guests
	opsStop, err := opshttp.Start(ctx, L, &opshttp.Options{
		Port:        conf.AdminPort,
		Metrics:     m.Handler(),
		EnablePprof: conf.EnablePprof,
		Health:      liveness,
		Readiness:   readiness,
		OnPanic:     m.IncHttpPanic,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		_ = publicStop(context.Background())
		os.Exit(1)
	}

	if err := notifySystemd(); err != nil {
		// worst case systemd kills us after its start timeout
		L.Warn(ctx, "failed to notify systemd of readiness", "error", err)
	}

	<-ctx.Done()
	stop()
	bg := context.Background()
	L.Info(bg, "shutdown signal received")

	gate.Set("draining")
	L.Info(bg, "shutdown gate closed, draining", "drain_period", conf.DrainPeriod)

	forceCh := make(chan os.Signal, 1)
	signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-time.After(conf.DrainPeriod):
		L.Info(bg, "drain period complete")
	case <-forceCh:
		L.Warn(bg, "second signal received, skipping drain")
	}
	signal.Stop(forceCh)

	shutdownCtx, cancel := context.WithTimeout(bg, conf.ShutdownTimeout)
	defer cancel()

	if err := publicStop(shutdownCtx); err != nil {
		L.Error(bg, err, "public http server shutdown")
	}
	if err := opsStop(shutdownCtx); err != nil {
		L.Error(bg, err, "ops http server shutdown")
	}
	if err := shutdownOTEL(shutdownCtx); err != nil {
		L.Error(bg, err, "otel shutdown")
	}

	L.Info(bg, "shutdown complete")
}

func notifyRoutes(c cfg.App) map[notify.Channel]notify.Route {
	return map[notify.Channel]notify.Route{
		notify.ChannelGuest: {
			TelegramToken:  c.TelegramBotToken,
			TelegramChatID: c.TelegramChatID,
			DiscordWebhook: c.DiscordWebhookURL,
		},
		notify.ChannelAnalytics: {
			TelegramToken:  c.AnalyticsBotToken,
			TelegramChatID: c.AnalyticsChatID,
			DiscordWebhook: c.AnalyticsDiscordWebhook,
		},
		notify.ChannelSuspect: {
			TelegramToken:  c.SuspectBotToken,
			TelegramChatID: c.SuspectChatID,
			DiscordWebhook: c.SuspectDiscordWebhook,
		},
		notify.ChannelAdmin: {
			TelegramToken:  c.AdminBotToken,
			TelegramChatID: c.AdminChatID,
			DiscordWebhook: c.AdminDiscordWebhook,
		},
	}
}

// notifySystemd sends READY=1 when started as a Type=notify unit.
func notifySystemd() error {
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return nil
	}
	conn, err := net.Dial("unixgram", addr)
	if err != nil {
		return fmt.Errorf("systemd notify: dial: %w", err)
	}
	if _, err := conn.Write([]byte("READY=1")); err != nil {
		_ = conn.Close()
		return fmt.Errorf("systemd notify: write: %w", err)
	}
	return conn.Close()
}

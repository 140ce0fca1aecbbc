package log

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
)

const redacted = "[redacted]"

// telegram bot tokens are embedded in api.telegram.org URL paths
var botTokenRe = regexp.MustCompile(`bot\d{5,}:[A-Za-z0-9_-]{20,}`)

// minimum length for a configured secret to be masked, shorter values would
// shred unrelated text
const minSecretLen = 6

// Redact masks Telegram bot tokens and any of the given secrets in s.
func Redact(s string, secrets ...string) string {
	s = botTokenRe.ReplaceAllString(s, "bot"+redacted)
	for _, sec := range secrets {
		if len(sec) < minSecretLen {
			continue
		}
		s = strings.ReplaceAll(s, sec, redacted)
	}
	return s
}

type redactHandler struct {
	next    slog.Handler
	secrets []string
}

func (h redactHandler) Enabled(ctx context.Context, lvl slog.Level) bool {
	return h.next.Enabled(ctx, lvl)
}

func (h redactHandler) Handle(ctx context.Context, r slog.Record) error {
	out := slog.NewRecord(r.Time, r.Level, Redact(r.Message, h.secrets...), r.PC)
	r.Attrs(func(a slog.Attr) bool {
		out.AddAttrs(h.attr(a))
		return true
	})
	return h.next.Handle(ctx, out)
}

func (h redactHandler) attr(a slog.Attr) slog.Attr {
	v := a.Value.Resolve()
	switch v.Kind() {
	case slog.KindString:
		return slog.String(a.Key, Redact(v.String(), h.secrets...))
	case slog.KindGroup:
		group := v.Group()
		attrs := make([]any, 0, len(group))
		for _, g := range group {
			attrs = append(attrs, h.attr(g))
		}
		return slog.Group(a.Key, attrs...)
	case slog.KindAny:
		switch x := v.Any().(type) {
		case error:
			return slog.String(a.Key, Redact(x.Error(), h.secrets...))
		case []string:
			cp := make([]string, len(x))
			for i, s := range x {
				cp[i] = Redact(s, h.secrets...)
			}
			return slog.Any(a.Key, cp)
		}
	}
	return slog.Attr{Key: a.Key, Value: v}
}

func (h redactHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clean := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		clean[i] = h.attr(a)
	}
	return redactHandler{next: h.next.WithAttrs(clean), secrets: h.secrets}
}

func (h redactHandler) WithGroup(name string) slog.Handler {
	return redactHandler{next: h.next.WithGroup(name), secrets: h.secrets}
}

// Package screen holds the stateless heuristics the gate and the
// notification relay apply to every request. Nothing here performs I/O.
package screen

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	MinUserAgentLen = 10

	MinFormDuration = 2 * time.Second
	MaxFormDuration = time.Hour
)

// ErrSuspiciousTiming is returned by FormTiming for forms filled too fast
// or left open too long.
var ErrSuspiciousTiming = errors.New("suspicious form timing")

var (
	suspiciousUA = regexp.MustCompile(`(?i)(bot|curl|python|wget|scrapy|headless|phantom|selenium|spider|httpclient|axios|go-http|node-fetch|java|libwww|perl|ruby|powershell|http_request|fetch|postman|insomnia)`)

	guestParamChars   = regexp.MustCompile(`[^a-zA-Z0-9 _-]`)
	guestParamPattern = regexp.MustCompile(`(?i)<|script|\{|\}|\$|\(|\)|select|union|insert|update|delete|drop|--|/\*`)

	blacklist = []*regexp.Regexp{
		regexp.MustCompile(`(?i)promo|diskon|gratis|admin|test|dummy|iklan|penawaran|hadiah|bonus|tawaran|pinjaman|asuransi|investasi|tiktok|instagram|wa\.me|bit\.ly|shopee|tokopedia|bukalapak|gmail\.com|yahoo\.com|hotmail\.com|outlook\.com|gmx\.com|protonmail\.com|icloud\.com|mail\.ru|qq\.com|163\.com|126\.com|sina\.com|sohu\.com|aliyun\.com|foxmail\.com|example\.com|tempmail|mailinator|guerrillamail|10minutemail|disposable|spambot|www\.|http`),
		regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`),
	}

	suspiciousContent = []*regexp.Regexp{
		regexp.MustCompile(`(?is)<script\b.*?</script>`),
		regexp.MustCompile(`(?i)javascript:`),
		regexp.MustCompile(`(?i)on\w+\s*=`),
		regexp.MustCompile(`(?i)(select|insert|update|delete|drop|create|alter|exec|union)`),
		regexp.MustCompile(`\+?\d{1,4}[-.\s]?\(?\d{1,3}\)?[-.\s]?\d{1,4}[-.\s]?\d{1,4}[-.\s]?\d{1,9}`),
	}
)

// SuspiciousUserAgent reports whether ua looks like a script, crawler or
// headless browser. It flags the request; it does not block it.
func SuspiciousUserAgent(ua string) bool {
	return suspiciousUA.MatchString(ua)
}

// ValidUserAgent rejects empty and implausibly short user agents.
func ValidUserAgent(ua string) bool {
	return len(ua) >= MinUserAgentLen
}

// Honeypot reports whether any hidden form field was filled in.
func Honeypot(fields ...string) bool {
	for _, f := range fields {
		if f != "" {
			return true
		}
	}
	return false
}

// FormTiming checks the gap between the client-reported form start and
// submit times, both epoch milliseconds. Missing or non-numeric values
// skip the check.
func FormTiming(start, submit string) error {
	if start == "" || submit == "" {
		return nil
	}
	s, err1 := strconv.ParseFloat(strings.TrimSpace(start), 64)
	e, err2 := strconv.ParseFloat(strings.TrimSpace(submit), 64)
	if err1 != nil || err2 != nil {
		return nil
	}
	d := time.Duration((e - s) * float64(time.Millisecond))
	if d < MinFormDuration || d > MaxFormDuration {
		return ErrSuspiciousTiming
	}
	return nil
}

// GuestParamSuspicious inspects the ?to= guest name. "-" and "" mean no
// guest parameter and are never suspicious.
func GuestParamSuspicious(p string) bool {
	if p == "" || p == "-" {
		return false
	}
	return guestParamChars.MatchString(p) || guestParamPattern.MatchString(p)
}

// Blacklisted matches spam vocabulary, mail and URL markers, and any e-mail
// address.
func Blacklisted(text string) bool {
	text = strings.ToLower(text)
	for _, re := range blacklist {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// SuspiciousContent matches markup injection, SQL keywords and phone
// numbers.
func SuspiciousContent(text string) bool {
	text = strings.ToLower(text)
	for _, re := range suspiciousContent {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// Telegram legacy Markdown only treats these as entity markers, and only
// outside code blocks.
var markdownEscaper = strings.NewReplacer(
	"_", `\_`,
	"*", `\*`,
	"`", "\\`",
	"[", `\[`,
)

// EscapeMarkdown backslash-escapes the legacy Telegram Markdown entity
// markers in s, for text placed outside a code block.
func EscapeMarkdown(s string) string {
	if s == "" {
		return ""
	}
	return markdownEscaper.Replace(s)
}

// codeBlockQuote replaces backticks, the only character that can end a
// code block early. Escapes are not processed inside code blocks.
var codeBlockQuote = strings.NewReplacer("`", "'")

// CodeSafe returns s fit for a Telegram code block or inline code span.
func CodeSafe(s string) string {
	return codeBlockQuote.Replace(s)
}

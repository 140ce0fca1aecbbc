// Package notify relays guest submissions and visitor reports to Telegram
// chats and Discord webhooks.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/invitation-dn/guestgate/internal/xerrors"
)

const (
	DefaultTelegramURL = "https://api.telegram.org"
	DefaultTimeout     = 5 * time.Second

	// ParseMode is the Telegram formatting mode of every message sent.
	ParseMode = "Markdown"

	maxResponseBody = 64 << 10
)

// NewHTTPClient returns the outbound client shared by both targets.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{
		Timeout: timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport,
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return "notify " + r.URL.Host
			}),
		),
	}
}

// Telegram posts to the Bot API sendMessage method.
type Telegram struct {
	BaseURL    string
	HTTPClient *http.Client
}

type telegramRequest struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
}

func (t *Telegram) Send(ctx context.Context, token, chatID, text string) error {
	base := strings.TrimRight(t.BaseURL, "/")
	if base == "" {
		base = DefaultTelegramURL
	}
	endpoint := base + "/bot" + token + "/sendMessage"

	payload, err := json.Marshal(telegramRequest{ChatID: chatID, Text: text, ParseMode: ParseMode})
	if err != nil {
		return xerrors.Wrap(err, "encode telegram message")
	}
	status, body, err := post(ctx, t.HTTPClient, endpoint, payload)
	if err != nil {
		return xerrors.Wrap(redactURL(err, token), "telegram sendMessage")
	}

	var r telegramResponse
	_ = json.Unmarshal(body, &r)
	if status < 200 || status > 299 || !r.OK {
		if r.Description != "" {
			return xerrors.Newf("telegram sendMessage: status %d: %s", status, r.Description)
		}
		return xerrors.Newf("telegram sendMessage: status %d", status)
	}
	return nil
}

// Discord posts embeds to an incoming webhook.
type Discord struct {
	HTTPClient *http.Client
}

type EmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type Embed struct {
	Title     string       `json:"title"`
	Color     int          `json:"color"`
	Fields    []EmbedField `json:"fields"`
	Timestamp string       `json:"timestamp,omitempty"`
}

type discordRequest struct {
	Embeds []Embed `json:"embeds"`
}

func (d *Discord) Send(ctx context.Context, webhookURL string, embed Embed) error {
	payload, err := json.Marshal(discordRequest{Embeds: []Embed{embed}})
	if err != nil {
		return xerrors.Wrap(err, "encode discord embed")
	}
	status, _, err := post(ctx, d.HTTPClient, webhookURL, payload)
	if err != nil {
		return xerrors.Wrap(redactURL(err, webhookPath(webhookURL)), "discord webhook")
	}
	if status < 200 || status > 299 {
		return xerrors.Newf("discord webhook: status %d", status)
	}
	return nil
}

func post(ctx context.Context, hc *http.Client, endpoint string, payload []byte) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	return resp.StatusCode, body, nil
}

// webhookPath is the secret part of a Discord webhook URL.
func webhookPath(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Path == "" || u.Path == "/" {
		return raw
	}
	return u.Path
}

// redactURL removes secret from the URL carried by a transport error.
func redactURL(err error, secret string) error {
	var ue *url.Error
	if secret == "" || !errors.As(err, &ue) {
		return err
	}
	return fmt.Errorf("%s %q: %w", ue.Op, strings.ReplaceAll(ue.URL, secret, "REDACTED"), ue.Err)
}

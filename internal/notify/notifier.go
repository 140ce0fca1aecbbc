package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/invitation-dn/guestgate/internal/log"
)

// ErrNotConfigured marks a target with no credentials for the channel.
var ErrNotConfigured = errors.New("notification target not configured")

type Channel string

const (
	ChannelGuest     Channel = "guest"
	ChannelAnalytics Channel = "analytics"
	ChannelSuspect   Channel = "suspect"
	ChannelAdmin     Channel = "admin"
)

const (
	TargetTelegram = "telegram"
	TargetDiscord  = "discord"
)

// Route holds the credentials of one channel. Empty fields disable that
// target.
type Route struct {
	TelegramToken  string
	TelegramChatID string
	DiscordWebhook string
}

func (r Route) hasTelegram() bool { return r.TelegramToken != "" && r.TelegramChatID != "" }
func (r Route) hasDiscord() bool  { return r.DiscordWebhook != "" }

// fallbacks lists, per channel, the channels whose credentials are used when
// its own are missing.
var fallbacks = map[Channel][]Channel{
	ChannelAnalytics: {ChannelGuest},
}

// Targets selects which transports Notify uses.
type Targets int

const (
	All Targets = iota
	TelegramOnly
	DiscordOnly
)

// ParseTargets maps the relay's platform field. Unknown values mean All.
func ParseTargets(platform string) Targets {
	switch platform {
	case "telegram":
		return TelegramOnly
	case "discord":
		return DiscordOnly
	}
	return All
}

func (t Targets) telegram() bool { return t == All || t == TelegramOnly }
func (t Targets) discord() bool  { return t == All || t == DiscordOnly }

// Message is what to send. A nil Embed skips Discord, an empty Text skips
// Telegram.
type Message struct {
	Text  string
	Embed *Embed
}

// Delivery error codes. They are safe to show to clients; the full error
// stays in Err and the log.
const (
	CodeNotConfigured  = "not_configured"
	CodeDeliveryFailed = "delivery_failed"
)

type Delivery struct {
	Attempted bool   `json:"attempted"`
	Sent      bool   `json:"sent"`
	Error     string `json:"error,omitempty"`
	Err       error  `json:"-"`
}

type Result struct {
	Telegram Delivery `json:"telegram"`
	Discord  Delivery `json:"discord"`
}

// OK reports whether every attempted delivery went through.
func (r Result) OK() bool {
	return (!r.Telegram.Attempted || r.Telegram.Sent) && (!r.Discord.Attempted || r.Discord.Sent)
}

// Notifier fans a Message out to the targets configured for a channel.
type Notifier struct {
	telegram *Telegram
	discord  *Discord
	routes   map[Channel]Route

	// OnDelivery is called after every attempted send.
	OnDelivery func(ch Channel, target string, d time.Duration, err error)
}

func New(tg *Telegram, dc *Discord, routes map[Channel]Route) *Notifier {
	cp := make(map[Channel]Route, len(routes))
	for k, v := range routes {
		cp[k] = v
	}
	return &Notifier{telegram: tg, discord: dc, routes: cp}
}

// Route resolves the effective credentials of ch. Telegram token and chat id
// fall back together so a token is never paired with another bot's chat.
func (n *Notifier) Route(ch Channel) Route {
	r := n.routes[ch]
	for _, fb := range fallbacks[ch] {
		alt := n.routes[fb]
		if !r.hasTelegram() && alt.hasTelegram() {
			r.TelegramToken, r.TelegramChatID = alt.TelegramToken, alt.TelegramChatID
		}
		if !r.hasDiscord() && alt.hasDiscord() {
			r.DiscordWebhook = alt.DiscordWebhook
		}
	}
	return r
}

// Configured reports whether ch has at least one usable target.
func (n *Notifier) Configured(ch Channel) bool {
	r := n.Route(ch)
	return r.hasTelegram() || r.hasDiscord()
}

// Notify delivers msg on ch. Failures are reported per target in the Result
// and logged; Notify itself never fails.
func (n *Notifier) Notify(ctx context.Context, ch Channel, msg Message, targets Targets) Result {
	route := n.Route(ch)
	L := log.FromContext(ctx)

	var (
		res Result
		wg  sync.WaitGroup
	)
	if targets.telegram() && msg.Text != "" && route.hasTelegram() && n.telegram != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res.Telegram = n.deliver(ctx, L, ch, TargetTelegram, func() error {
				return n.telegram.Send(ctx, route.TelegramToken, route.TelegramChatID, msg.Text)
			})
		}()
	}
	if targets.discord() && msg.Embed != nil && route.hasDiscord() && n.discord != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res.Discord = n.deliver(ctx, L, ch, TargetDiscord, func() error {
				return n.discord.Send(ctx, route.DiscordWebhook, *msg.Embed)
			})
		}()
	}
	wg.Wait()

	if targets.telegram() && !route.hasTelegram() {
		res.Telegram.Error, res.Telegram.Err = CodeNotConfigured, ErrNotConfigured
	}
	if targets.discord() && !route.hasDiscord() {
		res.Discord.Error, res.Discord.Err = CodeNotConfigured, ErrNotConfigured
	}
	return res
}

func (n *Notifier) deliver(ctx context.Context, L log.Logger, ch Channel, target string, send func() error) Delivery {
	start := time.Now()
	err := send()
	if n.OnDelivery != nil {
		n.OnDelivery(ch, target, time.Since(start), err)
	}
	if err != nil {
		L.Error(ctx, err, "notification delivery failed", "channel", string(ch), "target", target)
		return Delivery{Attempted: true, Error: CodeDeliveryFailed, Err: err}
	}
	return Delivery{Attempted: true, Sent: true}
}

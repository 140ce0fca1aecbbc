package gatehttp

import (
	"bytes"
	"errors"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/invitation-dn/guestgate/internal/httpmw"
	"github.com/invitation-dn/guestgate/internal/log"
	"github.com/invitation-dn/guestgate/internal/notify"
	"github.com/invitation-dn/guestgate/internal/screen"
)

const (
	MaxNameLen    = 50
	MaxMessageLen = 300

	msgEmptyBody         = "Request body kosong atau tidak valid."
	msgForbiddenContent  = "Konten terlarang terdeteksi."
	msgNameTooLong       = "Nama terlalu panjang (maksimal 50 karakter)."
	msgMessageTooLong    = "Pesan terlalu panjang (maksimal 300 karakter)."
	msgBadRequest        = "Bad Request"
	msgInvalidContent    = "Konten tidak valid terdeteksi."
	msgNotifyRateLimited = "Terlalu banyak permintaan dari IP ini. Coba lagi nanti."
	msgVisitDisabled     = "Visit tracking disabled."
)

type notificationResponse struct {
	Success bool          `json:"success"`
	Results notify.Result `json:"results"`
}

// HandleNotification validates a guest form post and relays it to the guest
// channel.
func (api *API) HandleNotification(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	L := log.FromContextOr(ctx, api.logger)
	decide := func(outcome string) { api.decide(EndpointNotify, outcome) }
	ip := httpmw.ClientIPFromContext(ctx)

	raw, err := readBody(r)
	if errors.Is(err, errTooLarge) {
		decide("too_large")
		writeError(ctx, w, http.StatusRequestEntityTooLarge, msgTooLarge)
		return
	}
	if err != nil || len(bytes.TrimSpace(raw)) == 0 {
		decide("empty_body")
		writeError(ctx, w, http.StatusBadRequest, msgEmptyBody)
		return
	}
	body, err := decodeObject(raw)
	if err != nil {
		decide("invalid_json")
		writeError(ctx, w, http.StatusBadRequest, msgInvalidJSON)
		return
	}

	sub := notify.Submission{
		Type:           field(body, "type"),
		Name:           field(body, "name", "nama"),
		Message:        field(body, "message", "pesan"),
		Attendance:     field(body, "attendance", "kehadiran"),
		Guests:         field(body, "guests", "jumlahTamu"),
		FoodPreference: field(body, "foodPreference", "preferensiMakanan"),
	}
	text := sub.Name + " " + sub.Message

	if screen.Blacklisted(text) {
		decide("blacklisted")
		api.suspicious("blacklist")
		L.Warn(ctx, "blacklisted content rejected", "sample", truncate(strings.ToLower(text), 100))
		api.opts.Notifier.Notify(ctx, notify.ChannelAdmin, notify.Message{Text: notify.SpamAlert(ip, sub)}, notify.TelegramOnly)
		writeError(ctx, w, http.StatusBadRequest, msgForbiddenContent)
		return
	}
	if screen.Honeypot(field(body, "website"), field(body, "contact_number")) {
		decide("honeypot")
		writeError(ctx, w, http.StatusBadRequest, msgBotDetected)
		return
	}
	if screen.FormTiming(field(body, "formStart"), field(body, "formSubmit")) != nil {
		decide("form_timing")
		writeError(ctx, w, http.StatusBadRequest, msgFormTiming)
		return
	}

	if utf8.RuneCountInString(sub.Name) > MaxNameLen {
		decide("name_too_long")
		writeError(ctx, w, http.StatusBadRequest, msgNameTooLong)
		return
	}
	if utf8.RuneCountInString(sub.Message) > MaxMessageLen {
		decide("message_too_long")
		writeError(ctx, w, http.StatusBadRequest, msgMessageTooLong)
		return
	}
	if (sub.Type == notify.TypeRSVP || sub.Type == notify.TypeGuestbook) && strings.TrimSpace(sub.Name) == "" {
		decide("missing_name")
		writeError(ctx, w, http.StatusBadRequest, msgBadRequest)
		return
	}
	if screen.SuspiciousContent(text) {
		decide("suspicious_content")
		api.suspicious("content")
		L.Warn(ctx, "suspicious content rejected", "sample", truncate(strings.ToLower(text), 100))
		writeError(ctx, w, http.StatusBadRequest, msgInvalidContent)
		return
	}

	if d := api.opts.NotifyLimiter.Take(ip); !d.Allowed {
		decide("rate_limited")
		L.Warn(ctx, "notification flood", "count", d.Count)
		api.opts.Notifier.Notify(ctx, notify.ChannelAdmin, notify.Message{Text: notify.FloodAlert(ip, sub, d.Count)}, notify.TelegramOnly)
		setRetryAfter(w, d.RetryAfter)
		writeError(ctx, w, http.StatusTooManyRequests, msgNotifyRateLimited)
		return
	}

	if r.Method != http.MethodPost {
		decide("method_not_allowed")
		writeText(w, http.StatusMethodNotAllowed, msgMethodNotAllow)
		return
	}

	if sub.Type == notify.TypeVisit {
		decide("visit_ignored")
		writeJSON(ctx, w, http.StatusOK, messageResponse{Success: true, Info: msgVisitDisabled})
		return
	}

	embed := notify.SubmissionEmbed(sub, api.now())
	res := api.opts.Notifier.Notify(ctx, notify.ChannelGuest,
		notify.Message{Text: notify.SubmissionText(sub), Embed: &embed},
		notify.ParseTargets(field(body, "platform")),
	)
	if res.OK() {
		decide("relayed")
	} else {
		decide("relay_failed")
	}
	L.Info(ctx, "submission relayed",
		"type", sub.Type,
		"telegram_sent", res.Telegram.Sent,
		"discord_sent", res.Discord.Sent,
	)
	writeJSON(ctx, w, http.StatusOK, notificationResponse{Success: true, Results: res})
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

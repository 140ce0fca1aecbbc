package notify

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/invitation-dn/guestgate/internal/geo"
	"github.com/invitation-dn/guestgate/internal/screen"
	"github.com/invitation-dn/guestgate/internal/visitor"
)

// EmbedColor is the accent of every submission embed.
const EmbedColor = 0x00bfff

const fence = "```"

// Submission types understood by the relay.
const (
	TypeRSVP      = "rsvp"
	TypeGuestbook = "guestbook"
	TypeVisit     = "visit"
)

// Submission is a guest form post after field aliasing. Values are raw;
// each formatter quotes them for its target.
type Submission struct {
	Type           string
	Name           string
	Message        string
	Attendance     string
	Guests         string
	FoodPreference string
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// jsTime renders t the way browsers print Date.toISOString.
func jsTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}

// SubmissionText is the Telegram body for a guest submission.
func SubmissionText(sub Submission) string {
	v := func(s string) string { return screen.CodeSafe(orDash(s)) }
	lines := []string{fence}
	switch sub.Type {
	case TypeRSVP:
		lines = append(lines,
			"RSVP Baru:",
			"Nama: "+v(sub.Name),
			"Kehadiran: "+v(sub.Attendance),
			"Jumlah Tamu: "+v(sub.Guests),
			"Preferensi Makanan: "+v(sub.FoodPreference),
			"Pesan: "+v(sub.Message),
		)
	case TypeGuestbook:
		lines = append(lines,
			"Buku Tamu Baru:",
			"Nama: "+v(sub.Name),
			"Pesan: "+v(sub.Message),
		)
	default:
		lines = append(lines,
			"Nama: "+v(sub.Name),
			"Pesan: "+v(sub.Message),
		)
	}
	lines = append(lines, fence)
	return strings.Join(lines, "\n")
}

// SubmissionEmbed is the Discord embed for a guest submission.
func SubmissionEmbed(sub Submission, now time.Time) Embed {
	e := Embed{Color: EmbedColor, Timestamp: jsTime(now)}
	switch sub.Type {
	case TypeRSVP:
		e.Title = "RSVP Baru"
		e.Fields = []EmbedField{
			{Name: "Nama", Value: orDash(sub.Name), Inline: true},
			{Name: "Kehadiran", Value: orDash(sub.Attendance), Inline: true},
			{Name: "Jumlah Tamu", Value: orDash(sub.Guests), Inline: true},
			{Name: "Preferensi Makanan", Value: orDash(sub.FoodPreference), Inline: true},
			{Name: "Pesan", Value: orDash(sub.Message)},
		}
	case TypeGuestbook:
		e.Title = "Buku Tamu Baru"
		e.Fields = []EmbedField{
			{Name: "Nama", Value: orDash(sub.Name), Inline: true},
			{Name: "Pesan", Value: orDash(sub.Message)},
		}
	default:
		e.Title = "Pesan Baru"
		e.Fields = []EmbedField{
			{Name: "Nama", Value: orDash(sub.Name), Inline: true},
			{Name: "Pesan", Value: orDash(sub.Message)},
		}
	}
	return e
}

// SpamAlert tells the admin chat that blacklisted content was rejected.
func SpamAlert(ip string, sub Submission) string {
	return "⚠ *SPAM/BLACKLIST DETECTED*\n" +
		"IP: " + screen.EscapeMarkdown(ip) + "\n" +
		"Name: " + screen.EscapeMarkdown(sub.Name) + "\n" +
		"Message: " + screen.EscapeMarkdown(sub.Message) + "\n" +
		"Type: " + screen.EscapeMarkdown(orDash(sub.Type)) + "\n"
}

// FloodAlert tells the admin chat that an IP hit the relay rate limit.
func FloodAlert(ip string, sub Submission, count int) string {
	return "🚨 *RATE LIMIT/FLOOD DETECTED*\n" +
		"IP: " + screen.EscapeMarkdown(ip) + "\n" +
		"Type: " + screen.EscapeMarkdown(orDash(sub.Type)) + "\n" +
		"Name: " + screen.EscapeMarkdown(orDash(sub.Name)) + "\n" +
		"Message: " + screen.EscapeMarkdown(orDash(sub.Message)) + "\n" +
		"Count: " + strconv.Itoa(count) + "\n"
}

// Visit is everything the gate knows about one guest-count request.
type Visit struct {
	IP         string
	Time       time.Time
	UserAgent  string
	Agent      visitor.Agent
	Referer    string
	GuestParam string
	History    visitor.Snapshot
	Geo        geo.Info
	Verdict    screen.Verdict
	// Body is the decoded request body, included for suspicious visits.
	Body map[string]any
	// RequestCount is the gate limiter count for the IP.
	RequestCount int
}

func (v Visit) header() string {
	switch {
	case v.Verdict.Suspicious:
		return "❗ *SUSPICIOUS ACCESS DETECTED!*"
	case v.History.Kind == visitor.KindReturningNewSession:
		return "⭮ *Sesi Baru Pengunjung Lama*"
	case v.History.Kind == visitor.KindReturning:
		return "⭠ *Pengunjung Kembali*"
	}
	return "◻ *Pengunjung Baru*"
}

// queryString returns the query of the referer without its fragment.
func queryString(ref string) string {
	_, after, ok := strings.Cut(ref, "?")
	if !ok {
		return ""
	}
	qs, _, _ := strings.Cut(after, "#")
	return qs
}

// sanitizedBody drops honeypot and credential fields.
func sanitizedBody(body map[string]any) string {
	if body == nil {
		return ""
	}
	cp := make(map[string]any, len(body))
	for k, val := range body {
		switch k {
		case "website", "apiKey":
			continue
		}
		cp[k] = val
	}
	b, err := json.Marshal(cp)
	if err != nil {
		return ""
	}
	return string(b)
}

// formatDuration renders d as "Xm Ys" rounded to the second.
func formatDuration(d time.Duration) string {
	sec := int(d.Round(time.Second) / time.Second)
	return fmt.Sprintf("%dm %ds", sec/60, sec%60)
}

// VisitReport is the Telegram visitor report for the analytics or suspect
// channel. Every request-derived value is passed through CodeSafe so a
// hostile header cannot close the code block.
func VisitReport(v Visit) string {
	q := screen.CodeSafe
	g := v.Geo
	latest := v.History.Latest()
	session := latest.SessionID
	if len(session) > 8 {
		session = session[:8]
	}

	lines := []string{
		fence,
		v.header(),
		"> *IP:* `" + q(v.IP) + "`",
		"> *Waktu:* `" + jsTime(v.Time) + "`",
		"> *Browser:* `" + q(v.Agent.Browser) + "`",
		"> *OS:* `" + q(v.Agent.OS) + "`",
		"> *Perangkat:* `" + q(v.Agent.Device) + "`",
		"> *Referrer:* `" + q(orDash(v.Referer)) + "`",
	}
	if v.GuestParam != "" && v.GuestParam != "-" {
		lines = append(lines, "◯ *Tamu:* `"+q(v.GuestParam)+"`")
	}

	if v.Verdict.Suspicious {
		lines = append(lines, "# *User-Agent:* `"+q(v.UserAgent)+"`")
		if qs := queryString(v.Referer); qs != "" {
			lines = append(lines, "# *Query String:* `?"+q(qs)+"`")
		}
		if body := sanitizedBody(v.Body); body != "" {
			lines = append(lines, "# *Body:* `"+q(body)+"`")
		}
		count := v.RequestCount
		if count < 1 {
			count = 1
		}
		lines = append(lines,
			fmt.Sprintf("# *Request IP (10m):* %dx", count),
			"# *Org/ASN:* "+q(g.Org)+" (AS"+q(g.ASN)+")",
		)
		if screen.GuestParamSuspicious(v.GuestParam) {
			lines = append(lines, "# *Guest Param Suspicious:* `"+q(v.GuestParam)+"`")
		}
	}

	lines = append(lines,
		"⭮ *Statistik Kunjungan:*",
		"• *Kunjungan ke:* `"+strconv.Itoa(v.History.VisitCount)+"`",
		"• *Pertama kali:* `"+v.History.FirstVisit.UTC().Format(time.DateOnly)+"`",
		"• *Bagian:* `"+q(orDash(latest.Section))+"`",
		"• *ID Sesi:* `"+q(session)+"...`",
	)
	if v.History.AvgSessionDuration > 0 {
		lines = append(lines, "• *Durasi rata-rata:* `"+formatDuration(v.History.AvgSessionDuration)+"`")
	}

	mark := "✔"
	if v.Verdict.Suspicious {
		mark = "❗"
	}
	lines = append(lines,
		"◻ *Lokasi:*",
		mark+" `"+q(g.City+", "+g.Region+", "+g.Country+" ("+g.CountryCode+")")+"`",
		"# *ISP/ASN:* `"+q(g.ISP+" (AS"+g.ASN+")")+"`",
	)
	if v.Verdict.Suspicious {
		lines = append(lines, "❗ *Alasan:* "+q(v.Verdict.Details()))
	}
	lines = append(lines, fence)
	return strings.Join(lines, "\n")
}

package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestTelegram_Send(t *testing.T) {
	var (
		gotPath string
		gotReq  telegramRequest
		gotCT   string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotCT = r.Header.Get("Content-Type")
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &gotReq)
		_, _ = w.Write([]byte(`{"ok":true,"result":{}}`))
	}))
	defer srv.Close()

	tg := &Telegram{BaseURL: srv.URL, HTTPClient: NewHTTPClient(time.Second)}
	if err := tg.Send(context.Background(), "123:abc", "-100200", "hello"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if gotPath != "/bot123:abc/sendMessage" {
		t.Fatalf("path = %q", gotPath)
	}
	if gotCT != "application/json" {
		t.Fatalf("content-type = %q", gotCT)
	}
	want := telegramRequest{ChatID: "-100200", Text: "hello", ParseMode: "Markdown"}
	if gotReq != want {
		t.Fatalf("request = %+v", gotReq)
	}
}

func TestTelegram_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{"bad request", http.StatusBadRequest, `{"ok":false,"error_code":400,"description":"Bad Request: can't parse entities"}`, "can't parse entities"},
		{"ok false on 200", http.StatusOK, `{"ok":false,"description":"chat not found"}`, "chat not found"},
		{"server error no body", http.StatusBadGateway, ``, "status 502"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			tg := &Telegram{BaseURL: srv.URL, HTTPClient: srv.Client()}
			err := tg.Send(context.Background(), "tok", "chat", "x")
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want substring %q", err, tt.want)
			}
		})
	}
}

func TestTelegram_TransportErrorRedactsToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	base := srv.URL
	srv.Close()

	tg := &Telegram{BaseURL: base, HTTPClient: NewHTTPClient(time.Second)}
	err := tg.Send(context.Background(), "999:secret-bot-token", "chat", "x")
	if err == nil {
		t.Fatal("expected error")
	}
	if strings.Contains(err.Error(), "secret-bot-token") {
		t.Fatalf("token leaked: %v", err)
	}
}

func TestDiscord_Send(t *testing.T) {
	var got discordRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	dc := &Discord{HTTPClient: srv.Client()}
	embed := Embed{Title: "RSVP Baru", Color: EmbedColor, Fields: []EmbedField{{Name: "Nama", Value: "Budi", Inline: true}}}
	if err := dc.Send(context.Background(), srv.URL+"/api/webhooks/1/abc", embed); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(got.Embeds) != 1 || got.Embeds[0].Title != "RSVP Baru" || got.Embeds[0].Color != 0x00bfff {
		t.Fatalf("payload = %+v", got)
	}
}

func TestDiscord_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	dc := &Discord{HTTPClient: srv.Client()}
	err := dc.Send(context.Background(), srv.URL+"/api/webhooks/1/abc", Embed{})
	if err == nil || !strings.Contains(err.Error(), "404") {
		t.Fatalf("err = %v", err)
	}
}

func TestDiscord_TransportErrorRedactsWebhook(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	base := srv.URL
	srv.Close()

	dc := &Discord{HTTPClient: NewHTTPClient(time.Second)}
	err := dc.Send(context.Background(), base+"/api/webhooks/42/hook-secret", Embed{})
	if err == nil {
		t.Fatal("expected error")
	}
	if strings.Contains(err.Error(), "hook-secret") {
		t.Fatalf("webhook leaked: %v", err)
	}
}

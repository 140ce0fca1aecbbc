package prof

import (
	"context"
	"strings"
	"testing"

	"github.com/invitation-dn/guestgate/internal/log"
)

// Disabled path

func TestStart_Disabled(t *testing.T) {
	var active []bool
	stop, err := Start(context.Background(), Options{
		Enabled:  false,
		OnActive: func(b bool) { active = append(active, b) },
	})
	if err != nil {
		t.Fatalf("Start disabled: %v", err)
	}
	stop()
	stop()
	if len(active) != 0 {
		t.Fatalf("OnActive called while disabled: %v", active)
	}
}

func TestStart_Disabled_WithLogger(t *testing.T) {
	ctx := log.WithContext(context.Background(), log.Nop())
	stop, err := Start(ctx, Options{Enabled: false, ServerAddress: "nonsense", BlockProfileRate: 999})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	stop()
}

// Enabled - validation

func TestStart_Enabled_InvalidServerAddress(t *testing.T) {
	for _, addr := range []string{"", "localhost:4040", "ftp://pyro", "http://"} {
		stop, err := Start(context.Background(), Options{Enabled: true, ServerAddress: addr, AppName: "test"})
		if err == nil {
			t.Fatalf("%q: expected error", addr)
		}
		if !strings.Contains(err.Error(), "invalid server address") {
			t.Fatalf("%q: error = %q", addr, err.Error())
		}
		if stop == nil {
			t.Fatalf("%q: stop func must be non-nil on error", addr)
		}
		stop()
		stop()
	}
}

func TestValidAddress(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"http://pyroscope:4040", true},
		{"https://profiles.example.com", true},
		{"pyroscope:4040", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := validAddress(tt.in); got != tt.want {
			t.Errorf("validAddress(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

// Enabled - unreachable server

func TestStart_Enabled_UnreachableServer(t *testing.T) {
	// the agent uploads in the background, so an unreachable server only
	// surfaces later through the agent logger
	var active []bool
	stop, err := Start(context.Background(), Options{
		Enabled:       true,
		ServerAddress: "http://127.0.0.1:1",
		AppName:       "guestgate-test",
		OnActive:      func(b bool) { active = append(active, b) },
	})
	if stop == nil {
		t.Fatal("stop func should always be non-nil")
	}
	stop()
	stop()
	if err == nil && (len(active) != 2 || !active[0] || active[1]) {
		t.Fatalf("OnActive sequence = %v, want [true false]", active)
	}
}

func TestAgentLogger(t *testing.T) {
	a := agentLogger{ctx: context.Background(), l: log.Nop()}
	a.Infof("upload %d", 1)
	a.Debugf("tick")
	a.Errorf("upload failed: %s", "boom")
}

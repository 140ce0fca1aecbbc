package xerrors

import (
	"errors"
	"runtime"
	"strings"
	"testing"
)

var errSentinel = errors.New("sentinel")

func stackHas(pcs []uintptr, fn string) bool {
	frames := runtime.CallersFrames(pcs)
	for {
		fr, more := frames.Next()
		if strings.Contains(fr.Function, fn) {
			return true
		}
		if !more {
			return false
		}
	}
}

func TestNew_MessageAndStack(t *testing.T) {
	err := New("telegram unreachable")
	if err.Error() != "telegram unreachable" {
		t.Fatalf("Error() = %q", err.Error())
	}
	var st stackTracer
	if !errors.As(err, &st) {
		t.Fatal("New should carry a stack")
	}
	if !stackHas(st.StackPCs(), "TestNew_MessageAndStack") {
		t.Fatal("stack should include the caller")
	}
}

func TestNewf_Formats(t *testing.T) {
	err := Newf("status %d from %s", 502, "discord")
	if err.Error() != "status 502 from discord" {
		t.Fatalf("Error() = %q", err.Error())
	}
}

func TestWrap(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil stays nil", nil, ""},
		{"prefixes message", errSentinel, "lookup 203.0.113.9: sentinel"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Wrap(tt.err, "lookup 203.0.113.9")
			if tt.err == nil {
				if got != nil {
					t.Fatalf("Wrap(nil) = %v, want nil", got)
				}
				return
			}
			if got.Error() != tt.want {
				t.Fatalf("Error() = %q, want %q", got.Error(), tt.want)
			}
			if !errors.Is(got, errSentinel) {
				t.Fatal("errors.Is should see through Wrap")
			}
		})
	}
}

func TestWrapf_RecordsCallerPC(t *testing.T) {
	err := Wrapf(errSentinel, "send to %s", "suspect")
	var hp interface{ PC() uintptr }
	if !errors.As(err, &hp) {
		t.Fatal("Wrapf should expose PC")
	}
	fn := runtime.FuncForPC(hp.PC())
	if fn == nil || !strings.Contains(fn.Name(), "TestWrapf_RecordsCallerPC") {
		t.Fatalf("PC does not point at caller: %v", fn)
	}
}

func TestEnsureTrace_DoesNotDoubleWrap(t *testing.T) {
	if EnsureTrace(nil) != nil {
		t.Fatal("EnsureTrace(nil) should be nil")
	}

	first := EnsureTrace(errSentinel)
	if first == errSentinel {
		t.Fatal("EnsureTrace should add a stack to a bare error")
	}
	if again := EnsureTrace(first); again != first {
		t.Fatal("EnsureTrace should return an already-traced error unchanged")
	}

	wrapped := Wrap(first, "outer")
	if EnsureTrace(wrapped) != wrapped {
		t.Fatal("stack deeper in the chain should be detected")
	}
}

func TestWithStack(t *testing.T) {
	if WithStack(nil) != nil {
		t.Fatal("WithStack(nil) should be nil")
	}
	err := WithStack(errSentinel)
	if !errors.Is(err, errSentinel) {
		t.Fatal("WithStack should unwrap to cause")
	}
}

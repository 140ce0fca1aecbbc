package pathutil

import "testing"

func TestHasDotSegments(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"/normal/path", false},
		{"/path/./here", true},
		{"/path/../up", true},
		{"..", true},
		{"/...", false},
		{"/.well-known/x", false},
		{"/path/to/.", true},
	}
	for _, tt := range tests {
		if got := HasDotSegments(tt.path); got != tt.want {
			t.Errorf("HasDotSegments(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestCleanURLPath(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"", "/", true},
		{"/", "/", true},
		{"gallery", "/gallery", true},
		{"/static/js/main.js", "/static/js/main.js", true},
		{"/a//b/", "/a/b/", true},
		{"/rsvp/", "/rsvp/", true},
		{"/../etc/passwd", "", false},
		{"/a/./b", "", false},
		{"/a..b", "", false},
		{"/a\\b", "", false},
		{"/a\x00b", "", false},
	}
	for _, tt := range tests {
		got, ok := CleanURLPath(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("CleanURLPath(%q) = (%q, %v), want (%q, %v)", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func FuzzCleanURLPath(f *testing.F) {
	for _, s := range []string{"/", "/a/../b", "/static/x.js", "a\\b", "/./"} {
		f.Add(s)
	}
	f.Fuzz(func(t *testing.T, p string) {
		clean, ok := CleanURLPath(p)
		if !ok {
			return
		}
		if clean == "" || clean[0] != '/' || HasDotSegments(clean) {
			t.Fatalf("CleanURLPath(%q) = %q", p, clean)
		}
	})
}

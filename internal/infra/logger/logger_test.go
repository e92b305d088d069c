package logger

import "testing"

func TestNewAcceptsKnownFormats(t *testing.T) {
	for _, format := range []string{"", "json", "console"} {
		log, err := New("info", format)
		if err != nil {
			t.Fatalf("new logger with format %q: %v", format, err)
		}
		_ = log.Sync()
	}
}

func TestNewRejectsBadInput(t *testing.T) {
	if _, err := New("loud", "json"); err == nil {
		t.Fatalf("expected invalid level error")
	}
	if _, err := New("info", "xml"); err == nil {
		t.Fatalf("expected invalid format error")
	}
}

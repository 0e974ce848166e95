package logutil

import (
	"strings"
	"testing"
)

func TestSanitizeForLog_StripsNewlines(t *testing.T) {
	got := SanitizeForLog("ls\nFAKE LOG LINE\r\tend")
	if strings.ContainsAny(got, "\n\r\t") {
		t.Fatalf("control characters left in %q", got)
	}
	if got != "ls FAKE LOG LINE  end" {
		t.Errorf("got %q", got)
	}
}

func TestSanitizeForLog_DropsControlChars(t *testing.T) {
	got := SanitizeForLog("a\x00b\x1bc\x7f")
	if got != "abc" {
		t.Errorf("got %q, want %q", got, "abc")
	}
}

func TestSanitizeForLog_Truncates(t *testing.T) {
	got := SanitizeForLog(strings.Repeat("x", 500))
	if len(got) != maxLogField+3 {
		t.Errorf("len = %d, want %d", len(got), maxLogField+3)
	}
	if !strings.HasSuffix(got, "...") {
		t.Errorf("expected truncation marker, got %q", got[len(got)-5:])
	}
}

func TestShortID(t *testing.T) {
	if got := ShortID("0123456789abcdef"); got != "01234567" {
		t.Errorf("ShortID = %q", got)
	}
	if got := ShortID("abc"); got != "abc" {
		t.Errorf("ShortID(short) = %q", got)
	}
}

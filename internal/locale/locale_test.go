package locale_test

import (
	"testing"

	"github.com/MrWong99/talkback/internal/locale"
)

func TestTag(t *testing.T) {
	tests := map[string]string{
		"ja":    "ja-JP",
		"EN":    "en-US",
		"zht":   "zh-TW",
		"zh":    "zh-CN",
		"es":    "es-ES",
		"":      "ja-JP",
		"pt-BR": "pt-BR",
	}
	for in, want := range tests {
		if got := locale.Tag(in); got != want {
			t.Errorf("Tag(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestISO639(t *testing.T) {
	tests := map[string]string{
		"ja":    "ja",
		"zht":   "zh",
		"zh-TW": "zh",
		"EN":    "en",
		"":      "ja",
	}
	for in, want := range tests {
		if got := locale.ISO639(in); got != want {
			t.Errorf("ISO639(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSupported(t *testing.T) {
	if !locale.Supported("vi") || locale.Supported("xx") {
		t.Error("unexpected Supported result")
	}
}

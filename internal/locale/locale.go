// Package locale maps the short language codes used in configuration to the
// tags expected by recognition and synthesis backends.
package locale

import "strings"

// tags maps short codes to BCP-47 tags.
var tags = map[string]string{
	"ja":  "ja-JP",
	"en":  "en-US",
	"ko":  "ko-KR",
	"zh":  "zh-CN",
	"zht": "zh-TW",
	"th":  "th-TH",
	"vi":  "vi-VN",
	"id":  "id-ID",
	"es":  "es-ES",
}

// Default is the language used when none is configured.
const Default = "ja"

// Tag returns the BCP-47 tag for a short code. Unknown codes are returned
// unchanged so that full tags ("pt-BR") pass through; an empty code maps to
// the tag of [Default].
func Tag(code string) string {
	if code == "" {
		code = Default
	}
	if t, ok := tags[strings.ToLower(code)]; ok {
		return t
	}
	return code
}

// ISO639 returns the two-letter language of a short code or tag, the form
// Whisper-style transcribers accept ("zht" and "zh-TW" both give "zh").
func ISO639(code string) string {
	if code == "" {
		code = Default
	}
	code = strings.ToLower(code)
	if len(code) > 2 {
		code = code[:2]
	}
	return code
}

// Supported reports whether code is one of the known short codes.
func Supported(code string) bool {
	_, ok := tags[strings.ToLower(code)]
	return ok
}

package sanitize

import (
	"net/url"
	"strings"
	"unicode"
	"unicode/utf8"
)

const maxFilenameBytes = 200

// stripped covers header injection (CR, LF, NUL), Content-Disposition
// breakouts (quotes) and path separators.
var stripped = strings.NewReplacer(
	"\x00", "",
	"\n", "",
	"\r", "",
	`"`, "",
	`'`, "",
	`\`, "",
	"/", "",
)

// SanitizeFilename removes characters that could inject headers, escape a
// quoted parameter or act as a path separator. The result is never empty
// and never longer than 200 bytes.
func SanitizeFilename(filename string) string {
	result := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, stripped.Replace(filename))

	result = strings.Trim(strings.TrimSpace(result), ".")
	if result == "" {
		return "download"
	}
	return truncate(result, maxFilenameBytes)
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// SanitizeForHeader is SanitizeFilename with every non-ASCII rune replaced
// by an underscore, for the plain filename= parameter.
func SanitizeForHeader(filename string) string {
	return strings.Map(func(r rune) rune {
		if r > unicode.MaxASCII {
			return '_'
		}
		return r
	}, SanitizeFilename(filename))
}

// ContentDisposition builds an inline or attachment header value carrying
// both an ASCII fallback and the RFC 5987 UTF-8 name.
func ContentDisposition(attachment bool, filename string) string {
	disposition := "inline"
	if attachment {
		disposition = "attachment"
	}
	safe := SanitizeFilename(filename)
	ascii := SanitizeForHeader(safe)
	value := disposition + `; filename="` + ascii + `"`
	if ascii != safe {
		value += "; filename*=UTF-8''" + strings.ReplaceAll(url.QueryEscape(safe), "+", "%20")
	}
	return value
}

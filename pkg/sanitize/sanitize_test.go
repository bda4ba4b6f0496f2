package sanitize

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "normal filename",
			input:    "document.pdf",
			expected: "document.pdf",
		},
		{
			name:     "filename with path traversal",
			input:    "../../../etc/passwd",
			expected: "etcpasswd",
		},
		{
			name:     "filename with null byte",
			input:    "file\x00.txt",
			expected: "file.txt",
		},
		{
			name:     "filename with newlines",
			input:    "file\nname.txt",
			expected: "filename.txt",
		},
		{
			name:     "filename with carriage return",
			input:    "file\rname.txt",
			expected: "filename.txt",
		},
		{
			name:     "filename with quotes",
			input:    `file"name.txt`,
			expected: "filename.txt",
		},
		{
			name:     "empty string",
			input:    "",
			expected: "download",
		},
		{
			name:     "only dots",
			input:    "...",
			expected: "download",
		},
		{
			name:     "unicode characters preserved",
			input:    "日本語.txt",
			expected: "日本語.txt",
		},
		{
			name:     "filename with spaces",
			input:    "my document.pdf",
			expected: "my document.pdf",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := SanitizeFilename(tt.input)
			if result != tt.expected {
				t.Errorf("SanitizeFilename(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestSanitizeForHeader(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "normal filename",
			input:    "hello-world.txt",
			expected: "hello-world.txt",
		},
		{
			name:     "filename with quotes",
			input:    `file" name.txt`,
			expected: "file name.txt",
		},
		{
			name:     "filename with newlines",
			input:    "file\nname.txt",
			expected: "filename.txt",
		},
		{
			name:     "filename with carriage return",
			input:    "file\rname.txt",
			expected: "filename.txt",
		},
		{
			name:     "filename with mixed special chars",
			input:    "file\r\n\"name\".txt",
			expected: "filename.txt",
		},
		{
			name:     "empty string",
			input:    "",
			expected: "download",
		},
		{
			name:     "unicode characters replaced",
			input:    "日本語.txt",
			expected: "___.txt",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := SanitizeForHeader(tt.input)
			if result != tt.expected {
				t.Errorf("SanitizeForHeader(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestSanitizeFilename_LengthLimit(t *testing.T) {
	result := SanitizeFilename(strings.Repeat("a", 300))
	if len(result) != maxFilenameBytes {
		t.Errorf("expected filename length %d, got %d", maxFilenameBytes, len(result))
	}

	// 199 ASCII bytes followed by a 3-byte rune must not be split.
	result = SanitizeFilename(strings.Repeat("a", 199) + "日本")
	if !utf8.ValidString(result) {
		t.Fatalf("truncation produced invalid UTF-8: %q", result)
	}
	if len(result) != 199 {
		t.Errorf("expected truncation at the rune boundary, got %d bytes", len(result))
	}
}

func TestContentDisposition(t *testing.T) {
	tests := []struct {
		name       string
		attachment bool
		input      string
		expected   string
	}{
		{
			name:       "inline ascii",
			input:      "report.pdf",
			expected:   `inline; filename="report.pdf"`,
		},
		{
			name:       "attachment ascii",
			attachment: true,
			input:      "report.pdf",
			expected:   `attachment; filename="report.pdf"`,
		},
		{
			name:       "quotes stripped",
			attachment: true,
			input:      "evil\"; filename=\"x.exe",
			expected:   `attachment; filename="evil; filename=x.exe"`,
		},
		{
			name:       "unicode keeps utf-8 name",
			attachment: true,
			input:      "résumé final.pdf",
			expected:   `attachment; filename="r_sum_ final.pdf"; filename*=UTF-8''r%C3%A9sum%C3%A9%20final.pdf`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ContentDisposition(tt.attachment, tt.input); got != tt.expected {
				t.Errorf("ContentDisposition(%v, %q) = %q, want %q", tt.attachment, tt.input, got, tt.expected)
			}
		})
	}
}

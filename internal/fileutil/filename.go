package fileutil

import (
	"path/filepath"
	"regexp"
	"strings"
)

var (
	illegalChars = regexp.MustCompile(`[\/\\:*?"<>|]`)
	whitespace   = regexp.MustCompile(`[\s_]+`)
)

// SanitizeStem makes input safe for use as a filename stem. Illegal
// characters become underscores, runs of whitespace become a hyphen and the
// result is capped at 80 bytes. Empty results fall back to "recording".
func SanitizeStem(input string) string {
	sanitized := illegalChars.ReplaceAllString(input, "_")
	sanitized = whitespace.ReplaceAllString(sanitized, "-")
	sanitized = strings.Trim(sanitized, "-.")

	if len(sanitized) > 80 {
		sanitized = strings.TrimRight(sanitized[:80], "-")
	}
	if sanitized == "" {
		return "recording"
	}
	return sanitized
}

// OutputBase derives the extensionless output path for an audio file. An
// empty outDir places the transcript next to the input.
func OutputBase(outDir, input string) string {
	stem := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	stem = SanitizeStem(stem)
	if outDir == "" {
		outDir = filepath.Dir(input)
	}
	return filepath.Join(outDir, stem)
}

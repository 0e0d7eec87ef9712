package objectstore

import (
	"path/filepath"
	"strings"
	"unicode"
)

// minioPrefixRoot is the default bucket of prefixes when the caller supplies
// no custom prefix, mirroring the original adapter's MINIO_PREFIX_ROOT.
const minioPrefixRoot = "mineru"

// allowedPrefixSpecialChars mirrors the original adapter's fixed allowlist of
// punctuation that survives slug normalization untouched. '/' is kept so a
// multi-segment custom prefix is preserved rather than flattened.
var allowedPrefixSpecialChars = map[rune]bool{
	'/': true, '_': true, '-': true, '—': true, '–': true, '·': true,
	'，': true, '。': true, '、': true, '（': true, '）': true,
	'【': true, '】': true, '《': true, '》': true,
}

// SanitizePrefixComponent normalizes a path component for use in a MinIO
// object prefix: letters, digits, and the punctuation allowlist are kept,
// whitespace and everything else become '_', runs of '/' or '_' collapse to
// one, and leading/trailing '/' or '_' are stripped.
func SanitizePrefixComponent(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case allowedPrefixSpecialChars[r]:
			b.WriteRune(r)
		case unicode.IsLetter(r), unicode.IsNumber(r):
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}

	cleaned := collapseRuns(b.String(), '/')
	cleaned = collapseRuns(cleaned, '_')
	return strings.Trim(cleaned, "/_")
}

func collapseRuns(s string, r rune) string {
	var b strings.Builder
	b.Grow(len(s))
	prevWasR := false
	for _, c := range s {
		if c == r {
			if prevWasR {
				continue
			}
			prevWasR = true
		} else {
			prevWasR = false
		}
		b.WriteRune(c)
	}
	return b.String()
}

// BuildPrefix resolves the upload prefix for a job: the sanitized basename
// always forms the final segment, under either a caller-supplied custom
// prefix or the "mineru" default, matching build_minio_prefix's
// "{custom}/{base}" contract so two uploads sharing a custom prefix don't
// collide at the same object-store location.
func BuildPrefix(filename, customPrefix string) string {
	base := filepath.Base(filename)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	baseClean := SanitizePrefixComponent(base)
	if baseClean == "" {
		baseClean = "document"
	}

	if strings.TrimSpace(customPrefix) != "" {
		if customClean := SanitizePrefixComponent(customPrefix); customClean != "" {
			return customClean + "/" + baseClean
		}
	}
	return minioPrefixRoot + "/" + baseClean
}

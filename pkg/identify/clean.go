package identify

import (
	"path"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// videoExtensions are the file extensions treated as playable media.
var videoExtensions = map[string]bool{
	".mkv": true, ".mp4": true, ".avi": true, ".m4v": true, ".mov": true,
	".wmv": true, ".flv": true, ".ts": true, ".m2ts": true,
}

// Precompiled cleaning patterns, applied in a single deterministic pass.
var (
	prefixRe    = regexp.MustCompile(`(?i)^(\[[^\]]*\]|\([^)]*\)|[\w.-]+\.[a-z]{2,6}\s+-\s+)[\s._-]*`)
	camelRe     = regexp.MustCompile(`([a-z])([A-Z])`)
	yearRe      = regexp.MustCompile(`\b(19|20)\d{2}\b`)
	yearRangeRe = regexp.MustCompile(`\b(19|20)\d{2}[\s-]+(19|20)\d{2}\b`)
	stopRe      = regexp.MustCompile(`(?i)\b(1080p|720p|2160p|4k|s\d+e\d+|s\d+|seasons?\s*\d+|\d+\s*seasons?|temporada\s*\d+|saison\s*\d+|\d+x\d+|episodes?\s*\d+|e\d+|parts?\s*\d+|vol(ume)?\s*\d+|bluray|blu-ray|web-dl|webdl|h264|h265|x264|x265|remux|multi|vff|custom|dts|dd5|ddp5|esub|webrip|hdtv|avc|hevc|aac|truehd|atmos|criterion|repack|proper|internal|limited|extended|uncut|completa|complete|pol|eng|ita|ger|fra|spa|esp|rus|ukr)\b`)
	genericRe   = regexp.MustCompile(`(?i)^(episode|season|part|volume|vol)\s*(\d+|[a-z])?$`)
	digitsRe    = regexp.MustCompile(`^\d+$`)
)

// IsVideoFile reports whether a path looks like a playable media file.
// Samples, trailers and other extras are never treated as playable.
func IsVideoFile(p string) bool {
	lower := strings.ToLower(p)
	if strings.Contains(lower, "sample") || strings.Contains(lower, "trailer") ||
		strings.Contains(lower, "extra") || strings.Contains(lower, "bonus") ||
		strings.Contains(lower, "featurette") {
		return false
	}
	return videoExtensions[path.Ext(lower)]
}

// CleanName reduces a release name to a searchable title plus an optional
// four-digit year. The steps run in a fixed order: tracker-prefix strip,
// CamelCase split, extension strip, punctuation normalisation, year
// extraction, stopword cut.
func CleanName(name string) (string, string) {
	title := name

	// Strip one or more bracketed/site prefixes from the front.
	for i := 0; i < 3; i++ {
		loc := prefixRe.FindStringIndex(title)
		if loc == nil {
			break
		}
		title = title[loc[1]:]
	}

	title = camelRe.ReplaceAllString(title, "$1 $2")

	if ext := strings.ToLower(path.Ext(title)); videoExtensions[ext] {
		title = title[:len(title)-len(ext)]
	}

	title = strings.ReplaceAll(title, ".", " ")
	title = strings.ReplaceAll(title, "_", " ")
	title = strings.Join(strings.Fields(title), " ")

	// Prefer the segment after "aka"; it is usually the English title.
	if pos := strings.Index(strings.ToLower(title), " aka "); pos >= 0 {
		after := strings.TrimSpace(title[pos+5:])
		if after != "" {
			title = after
		}
	}

	year := extractYear(title)

	// Cut technical metadata. A marker at the very front is stripped and the
	// scan continues; anywhere else it truncates the title.
	for {
		loc := stopRe.FindStringIndex(title)
		if loc == nil {
			break
		}
		if loc[0] == 0 {
			title = strings.TrimLeft(title[loc[1]:], " -_.")
			if title == "" {
				break
			}
			continue
		}
		title = title[:loc[0]]
		break
	}

	// Truncate before the year unless it opens the title or is part of a range.
	if loc := findValidYear(title); loc != nil && loc[0] > 0 && !yearRangeRe.MatchString(title) {
		title = title[:loc[0]]
	}

	title = strings.TrimRight(title, " -_.([")
	return strings.TrimSpace(title), year
}

// extractYear returns the first plausible year in s, "" when absent.
func extractYear(s string) string {
	if loc := findValidYear(s); loc != nil {
		return s[loc[0]:loc[1]]
	}
	return ""
}

// findValidYear locates the first four-digit year within [1900, current+1].
func findValidYear(s string) []int {
	offset := 0
	for {
		loc := yearRe.FindStringIndex(s[offset:])
		if loc == nil {
			return nil
		}
		start, end := offset+loc[0], offset+loc[1]
		y, err := strconv.Atoi(s[start:end])
		if err == nil && y >= 1900 && y <= time.Now().Year()+1 {
			return []int{start, end}
		}
		offset = end
	}
}

// isGenericTitle rejects titles that survived cleaning but carry no
// searchable signal: long digit runs, tiny numbers, bare episode markers.
func isGenericTitle(s string) bool {
	if s == "" {
		return true
	}
	if digitsRe.MatchString(s) {
		if len(s) >= 5 {
			return true
		}
		if n, err := strconv.Atoi(s); err == nil && n < 10 {
			return true
		}
	}
	return genericRe.MatchString(s)
}

// NormalizeTitle folds a title for exact-match comparison: lowercase,
// diacritics folded, " and " standardised to "&", only alphanumerics and
// "&" kept.
func NormalizeTitle(s string) string {
	lower := strings.ToLower(s)
	lower = strings.ReplaceAll(lower, " and ", " & ")

	var b strings.Builder
	for _, c := range lower {
		switch c {
		case 'à', 'á', 'â', 'ã', 'ä', 'å':
			c = 'a'
		case 'è', 'é', 'ê', 'ë':
			c = 'e'
		case 'ì', 'í', 'î', 'ï':
			c = 'i'
		case 'ò', 'ó', 'ô', 'õ', 'ö':
			c = 'o'
		case 'ù', 'ú', 'û', 'ü':
			c = 'u'
		case 'ñ':
			c = 'n'
		case 'ç':
			c = 'c'
		}
		if ('a' <= c && c <= 'z') || ('0' <= c && c <= '9') || c == '&' {
			b.WriteRune(c)
		}
	}
	return b.String()
}

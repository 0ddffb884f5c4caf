package skill

import (
	"regexp"
	"strings"
)

// Verdict is a categorical answer parsed from a model reply.
type Verdict int

const (
	VerdictUnparsable Verdict = iota
	VerdictArchive
	VerdictKeep
)

func (v Verdict) String() string {
	switch v {
	case VerdictArchive:
		return "ARCHIVE"
	case VerdictKeep:
		return "KEEP"
	default:
		return "UNPARSABLE"
	}
}

// ParseVerdict looks for ARCHIVE or KEEP anywhere in reply, case-insensitively.
// When both appear, the earlier one wins. Neither yields VerdictUnparsable.
func ParseVerdict(reply string) Verdict {
	up := strings.ToUpper(reply)
	a := strings.Index(up, "ARCHIVE")
	k := strings.Index(up, "KEEP")
	switch {
	case a < 0 && k < 0:
		return VerdictUnparsable
	case k < 0:
		return VerdictArchive
	case a < 0:
		return VerdictKeep
	case a < k:
		return VerdictArchive
	default:
		return VerdictKeep
	}
}

// ExtractToken returns the first match of re in reply.
func ExtractToken(re *regexp.Regexp, reply string) (string, bool) {
	m := re.FindString(reply)
	return m, m != ""
}

// FirstLine returns the first non-blank line of reply with surrounding quotes
// and whitespace removed, or "" if the reply has none or the line exceeds max
// runes.
func FirstLine(reply string, max int) string {
	for _, line := range strings.Split(reply, "\n") {
		line = strings.TrimSpace(line)
		line = strings.Trim(line, "\"'`")
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if max > 0 && len([]rune(line)) > max {
			return ""
		}
		return line
	}
	return ""
}

// containsAny reports whether s contains any of the keywords.
func containsAny(s string, keywords []string) (string, bool) {
	for _, kw := range keywords {
		if kw != "" && strings.Contains(s, kw) {
			return kw, true
		}
	}
	return "", false
}

// shellQuote wraps s in single quotes for a POSIX shell.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

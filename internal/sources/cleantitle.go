package sources

import (
	"regexp"
	"strings"
)

var (
	titleNoise    = regexp.MustCompile(`(?i)\b(free\s+download|download|epub|pdf|e-?book)\b`)
	emptyBrackets = regexp.MustCompile(`\(\s*\)|\[\s*\]`)
	trailingBy    = regexp.MustCompile(`(?i)^(.*\S)\s+by\s+(\S.*)$`)
)

const titleTrim = " \t-–—|:,;/"

// StripTitleNoise removes download-site noise ("EPUB", "PDF", "Free
// Download", "Download", "eBook") from a scraped title.
func StripTitleNoise(raw string) string {
	s := collapseSpace(raw)
	s = titleNoise.ReplaceAllString(s, " ")
	s = emptyBrackets.ReplaceAllString(s, " ")
	return strings.Trim(collapseSpace(s), titleTrim)
}

// CleanTitle strips noise like StripTitleNoise and splits off a trailing
// "by Author". The returned author is "" when the title carried none.
func CleanTitle(raw string) (title, author string) {
	s := StripTitleNoise(raw)
	if m := trailingBy.FindStringSubmatch(s); m != nil {
		candidate := strings.Trim(m[2], titleTrim)
		head := strings.Trim(m[1], titleTrim)
		// Long tails are more likely subtitle text than a name.
		if head != "" && candidate != "" && len(strings.Fields(candidate)) <= 5 {
			return collapseSpace(head), collapseSpace(candidate)
		}
	}
	return collapseSpace(s), ""
}

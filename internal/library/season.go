package library

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	// "Season 2", "S02", "2nd Season", "Part 2"
	seasonWordRe = regexp.MustCompile(`\b(?:season\s*|s)(\d{1,2})\b`)
	seasonOrdRe  = regexp.MustCompile(`\b(\d{1,2})(?:st|nd|rd|th)\s*season\b`)
	seasonPartRe = regexp.MustCompile(`\bpart\s*(\d{1,2})\b`)
	// "第2季", "第2期"
	seasonCnNumRe = regexp.MustCompile(`第\s*(\d{1,2})\s*[季期]`)
	seasonTailRe  = regexp.MustCompile(`\s(\d{1,2})$`)
)

var cnDigits = map[rune]int{'一': 1, '二': 2, '三': 3, '四': 4, '五': 5, '六': 6, '七': 7, '八': 8, '九': 9, '十': 10}

var romanSuffixes = []struct {
	suffix string
	season int
}{
	{" ii", 2}, {" iii", 3}, {" iv", 4}, {" v", 5}, {" vi", 6},
}

// InferSeason 从标题中解析季度号，解析不到时 ok 为 false
func InferSeason(title string) (season int, ok bool) {
	t := strings.ToLower(strings.TrimSpace(title))
	if t == "" {
		return 0, false
	}

	for _, re := range []*regexp.Regexp{seasonWordRe, seasonOrdRe, seasonPartRe, seasonCnNumRe} {
		if m := re.FindStringSubmatch(t); len(m) > 1 {
			if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
				return n, true
			}
		}
	}

	// 第二季 / 第十期
	if i := strings.Index(t, "第"); i >= 0 {
		rest := []rune(t[i+len("第"):])
		if len(rest) >= 2 && (rest[1] == '季' || rest[1] == '期') {
			if n, found := cnDigits[rest[0]]; found {
				return n, true
			}
		}
	}

	for _, r := range romanSuffixes {
		if strings.HasSuffix(t, r.suffix) {
			return r.season, true
		}
	}

	if m := seasonTailRe.FindStringSubmatch(t); len(m) > 1 {
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
			return n, true
		}
	}
	return 0, false
}

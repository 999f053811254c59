package filter

import (
	"strings"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Only Latin combining marks are stripped; kana voicing marks survive and
// are recomposed by NFKC, which also folds full-width forms.
func isLatinMark(r rune) bool {
	return r >= 0x0300 && r <= 0x036F
}

func fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.Predicate(isLatinMark)), norm.NFKC)
	res, _, err := transform.String(t, s)
	if err != nil {
		res = s
	}
	return strings.ToLower(strings.TrimSpace(res))
}

// allowList matches text against folded keywords. A nil list matches
// everything.
type allowList struct {
	items []string
}

func buildAllowList(values []string) *allowList {
	if len(values) == 0 {
		return nil
	}
	items := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		k := fold(v)
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		items = append(items, k)
	}
	if len(items) == 0 {
		return nil
	}
	return &allowList{items: items}
}

func (a *allowList) Matches(text string) bool {
	if a == nil {
		return true
	}
	text = fold(text)
	for _, k := range a.items {
		if strings.Contains(text, k) {
			return true
		}
	}
	return false
}

func buildSet(values []string) map[string]struct{} {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		set[v] = struct{}{}
	}
	if len(set) == 0 {
		return nil
	}
	return set
}

package policy

import (
	"strconv"
	"strings"
)

// ExpandRange expands a range selector expression like "104,204,311-318" into
// a concrete ID list. Tokens containing '-' are parsed as two integers and
// expanded inclusively; other tokens are kept literally. Malformed tokens are
// silently skipped - the expansion exists only for the "expands to N targets"
// hint and is never sent in place of the raw selector string.
func ExpandRange(raw string) []string {
	var out []string
	for _, token := range strings.Split(raw, ",") {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}
		if strings.Contains(token, "-") {
			parts := strings.SplitN(token, "-", 2)
			lo, errLo := strconv.Atoi(strings.TrimSpace(parts[0]))
			hi, errHi := strconv.Atoi(strings.TrimSpace(parts[1]))
			if errLo != nil || errHi != nil {
				continue
			}
			for v := lo; v <= hi; v++ {
				out = append(out, strconv.Itoa(v))
			}
			continue
		}
		out = append(out, token)
	}
	return out
}

// ExpandList splits a list selector into its non-empty comma-separated IDs.
func ExpandList(raw string) []string {
	var out []string
	for _, token := range strings.Split(raw, ",") {
		token = strings.TrimSpace(token)
		if token != "" {
			out = append(out, token)
		}
	}
	return out
}

// TargetCount returns the advisory target count for a selector, or -1 when
// the count is not knowable client-side (query selectors are opaque to us and
// interpreted by the backend).
func TargetCount(sel Selector) int {
	switch sel.Mode {
	case SelectorList:
		return len(ExpandList(sel.Value))
	case SelectorRange:
		return len(ExpandRange(sel.Value))
	default:
		return -1
	}
}

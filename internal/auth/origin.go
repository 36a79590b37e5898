package auth

import "strings"

// OriginList is the set of trusted origins: exact entries plus trailing-*
// wildcard patterns such as "expo://*" or "http://10.0.1.*". An empty list
// trusts every origin.
type OriginList struct {
	exact    map[string]struct{}
	prefixes []string
}

// NewOriginList builds an allow-list from configured patterns. Blank
// entries are dropped.
func NewOriginList(patterns []string) OriginList {
	list := OriginList{exact: make(map[string]struct{})}
	for _, pattern := range patterns {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
			list.prefixes = append(list.prefixes, prefix)
			continue
		}
		list.exact[pattern] = struct{}{}
	}
	return list
}

// Allows reports whether the origin is trusted. The empty origin is always
// allowed; requests without an Origin header are same-origin or
// server-to-server.
func (l OriginList) Allows(origin string) bool {
	if origin == "" {
		return true
	}
	if len(l.exact) == 0 && len(l.prefixes) == 0 {
		return true
	}
	if _, ok := l.exact[origin]; ok {
		return true
	}
	for _, prefix := range l.prefixes {
		if strings.HasPrefix(origin, prefix) {
			return true
		}
	}
	return false
}

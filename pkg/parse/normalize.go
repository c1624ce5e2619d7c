package parse

import (
	"strconv"
	"strings"
)

// AbsoluteURL resolves href against base. Absolute http(s) links are returned
// unchanged, protocol-relative links get https, root-relative links are
// prefixed with base. Anything else is returned as-is.
func AbsoluteURL(base, href string) string {
	href = strings.TrimSpace(href)
	switch {
	case strings.HasPrefix(href, "http://"), strings.HasPrefix(href, "https://"):
		return href
	case strings.HasPrefix(href, "//"):
		return "https:" + href
	case strings.HasPrefix(href, "/"):
		return strings.TrimRight(base, "/") + href
	}
	return href
}

// AppendOffset adds offset=n to u, respecting an existing query string.
func AppendOffset(u string, n int) string {
	sep := "?"
	if strings.Contains(u, "?") {
		sep = "&"
	}
	return u + sep + "offset=" + strconv.Itoa(n)
}

// PageURL addresses listing page number page (1-based). The first page has no
// offset parameter; page n > 1 carries offset=n-1.
func PageURL(u string, page int) string {
	if page <= 1 {
		return u
	}
	return AppendOffset(u, page-1)
}

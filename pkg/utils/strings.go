package utils

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// CollapseWhitespace trims s and replaces every whitespace run with a single space.
func CollapseWhitespace(s string) string {
	return strings.Join(strings.FieldsFunc(s, unicode.IsSpace), " ")
}

// TitleCase lowercases s and upper-cases the first letter of each word.
func TitleCase(s string) string {
	// Casers keep state, so each call gets its own.
	return cases.Title(language.English).String(strings.ToLower(CollapseWhitespace(s)))
}

// DedupeFold returns values with empty entries dropped and case-insensitive
// duplicates removed, keeping the first spelling seen.
func DedupeFold(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = CollapseWhitespace(v)
		if v == "" {
			continue
		}
		key := strings.ToLower(v)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, v)
	}
	return out
}

// AppendUnique appends v to list unless it is empty or already present.
func AppendUnique(list []string, v string) []string {
	if v == "" {
		return list
	}
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}

package util

import (
	"path"
	"strings"
	"unicode"
)

// SanitizeFileName reduces name to a single path element safe to echo in a
// Content-Disposition header. It never returns an empty string.
func SanitizeFileName(name string) string {
	s := strings.ReplaceAll(strings.TrimSpace(name), "\\", "/")
	s = path.Base(s)
	s = strings.Map(func(r rune) rune {
		switch {
		case r == '"' || r == ';':
			return '_'
		case unicode.IsControl(r):
			return -1
		}
		return r
	}, s)
	s = strings.TrimSpace(s)
	if s == "" || s == "." || s == ".." || s == "/" {
		return "download"
	}
	return s
}

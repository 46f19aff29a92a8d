package transformer

import (
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// Unescape decodes the backslash escapes used in relation files and returns
// the NFC form of the result.
//
// Supported escapes: \t \n \r \" \' \\ \uXXXX \UXXXXXXXX. An unknown or
// truncated escape is kept verbatim. Surrounding quotes are preserved; use
// Unquote to strip them.
func Unescape(s string) string {
	if strings.IndexByte(s, '\\') < 0 {
		if isASCII(s) {
			return s
		}
		return norm.NFC.String(s)
	}

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' || i+1 >= len(s) {
			b.WriteByte(c)
			continue
		}
		switch s[i+1] {
		case 't':
			b.WriteByte('\t')
			i++
		case 'n':
			b.WriteByte('\n')
			i++
		case 'r':
			b.WriteByte('\r')
			i++
		case '"', '\'', '\\':
			b.WriteByte(s[i+1])
			i++
		case 'u', 'U':
			width := 4
			if s[i+1] == 'U' {
				width = 8
			}
			if r, ok := hexRune(s, i+2, width); ok {
				b.WriteRune(r)
				i += 1 + width
				continue
			}
			b.WriteByte(c)
		default:
			b.WriteByte(c)
		}
	}
	return norm.NFC.String(b.String())
}

// Unquote strips one pair of surrounding double quotes and a trailing
// datatype or language tag ("x"@en, "x"^^xsd:string).
func Unquote(s string) string {
	if len(s) < 2 || s[0] != '"' {
		return s
	}
	end := strings.LastIndexByte(s, '"')
	if end <= 0 {
		return s
	}
	return s[1:end]
}

func hexRune(s string, start, width int) (rune, bool) {
	if start+width > len(s) {
		return 0, false
	}
	v, err := strconv.ParseUint(s[start:start+width], 16, 32)
	if err != nil || !utf8.ValidRune(rune(v)) {
		return 0, false
	}
	return rune(v), true
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

package assetref

import "strings"

const escapeChar = '$'

// escapes maps the characters that are unsafe in file names to the digit
// that follows the escape character. The escape character itself is
// escaped first so the mapping stays reversible.
var escapes = [...]rune{'$', ':', '/', '\\', '*', '?', '"', '<', '>', '|'}

// Sanitize turns ref into a string usable as a file name. Characters
// like ':', '/', '\' and '*' are replaced with "$1", "$2", "$3", "$4" and
// so on, and '$' itself with "$0".
func Sanitize(ref string) string {
	var b strings.Builder
	b.Grow(len(ref))
	for _, r := range ref {
		if digit := escapeDigit(r); digit >= 0 {
			b.WriteRune(escapeChar)
			b.WriteByte(byte('0' + digit))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Desanitize restores a ref produced by Sanitize.
func Desanitize(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c == escapeChar && i+1 < len(name) && name[i+1] >= '0' && name[i+1] <= '9' {
			b.WriteRune(escapes[name[i+1]-'0'])
			i++
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

func escapeDigit(r rune) int {
	for i, e := range escapes {
		if e == r {
			return i
		}
	}
	return -1
}

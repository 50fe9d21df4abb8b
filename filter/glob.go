// glob.go - compile the rule glob dialect to regexp
//
// (c) 2024- Sudhi Herle <sudhi@herle.net>
//
// Licensing Terms: GPLv2
//
// If you need a commercial license for this work, please contact
// the author.
//
// This software does not come with any express or implied
// warranty; it is provided "as is". No claim  is made to its
// suitability for any purpose.

package filter

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

const (
	// MaxBraceExpansions caps {a,b,c..d} expansion against
	// adversarial patterns.
	MaxBraceExpansions = 10000

	// MaxParseDepth caps merge-file recursion.
	MaxParseDepth = 64
)

// compileGlob translates one (brace-free) glob pattern to an anchored
// regexp. '*' stays within a path segment, '**' crosses segments
// (a leading "**/" also matches no directory at all), '?' matches one
// non-separator character, classes support negation and POSIX names,
// backslash escapes the next character.
func compileGlob(pat string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteByte('^')

	rs := []rune(pat)
	for i := 0; i < len(rs); i++ {
		c := rs[i]
		switch c {
		case '\\':
			if i+1 < len(rs) {
				i++
				b.WriteString(regexp.QuoteMeta(string(rs[i])))
			} else {
				b.WriteString(`\\`)
			}

		case '*':
			if i == 0 && len(rs) > 2 && rs[1] == '*' && rs[2] == '/' {
				i += 2
				b.WriteString(`(?:.*/)?`)
			} else if i+1 < len(rs) && rs[i+1] == '*' {
				i++
				b.WriteString(`.*`)
			} else {
				b.WriteString(`[^/]*`)
			}

		case '?':
			b.WriteString(`[^/]`)

		case '[':
			cls, next, err := translateClass(rs, i)
			if err != nil {
				return nil, err
			}
			b.WriteString(cls)
			i = next

		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
		}
	}

	b.WriteByte('$')
	re, err := regexp.Compile(b.String())
	if err != nil {
		return nil, &ParseError{Kind: BadGlob, Rule: pat, Err: err}
	}
	return re, nil
}

// translateClass consumes a [...] class starting at rs[start] ('[')
// and returns its regexp form and the index of the closing bracket.
// A negated class never matches '/'; a positive class has '/' dropped
// so a class can't sneak across a separator.
func translateClass(rs []rune, start int) (string, int, error) {
	i := start + 1
	negated := false
	if i < len(rs) && (rs[i] == '!' || rs[i] == '^') {
		negated = true
		i++
	}

	var members []rune
	closed := false
	for ; i < len(rs); i++ {
		c := rs[i]
		if c == '\\' && i+1 < len(rs) {
			i++
			members = append(members, rs[i])
			continue
		}
		if c == ']' && len(members) > 0 {
			closed = true
			break
		}
		if c == '[' && i+2 < len(rs) && rs[i+1] == ':' {
			// POSIX class name
			end := -1
			for j := i + 2; j+1 < len(rs); j++ {
				if rs[j] == ':' && rs[j+1] == ']' {
					end = j
					break
				}
			}
			if end > 0 {
				name := string(rs[i+2 : end])
				if rep, ok := posixClass(name); ok {
					members = append(members, []rune(rep)...)
					i = end + 1
					continue
				}
			}
		}
		members = append(members, c)
	}
	if !closed {
		return "", 0, &ParseError{Kind: BadGlob, Rule: string(rs),
			Err: fmt.Errorf("unterminated character class")}
	}

	var b strings.Builder
	b.WriteByte('[')
	if negated {
		b.WriteByte('^')
		b.WriteByte('/')
	}
	for _, c := range members {
		if !negated && c == '/' {
			continue
		}
		switch c {
		case ']', '\\', '^':
			b.WriteByte('\\')
			b.WriteRune(c)
		default:
			b.WriteRune(c)
		}
	}
	b.WriteByte(']')
	return b.String(), i, nil
}

// posixClass expands a POSIX class name to its member set.
func posixClass(name string) (string, bool) {
	switch name {
	case "alnum":
		return "0-9A-Za-z", true
	case "alpha":
		return "A-Za-z", true
	case "digit":
		return "0-9", true
	case "lower":
		return "a-z", true
	case "upper":
		return "A-Z", true
	case "xdigit":
		return "0-9A-Fa-f", true
	case "space":
		return "\t\n\r\v\f ", true
	case "punct":
		return "!-/:-@\\[-`{-~", true
	case "blank":
		return "\t ", true
	case "cntrl":
		return "\x00-\x1f\x7f", true
	case "graph":
		return "!-~", true
	case "print":
		return " -~", true
	}
	return "", false
}

// expandBraces expands {a,b}, {1..9}, {01..20}, {a..f}, and {0..9..2}
// alternations lexically, capped at MaxBraceExpansions results. An
// unbalanced brace is taken literally.
func expandBraces(pat string) ([]string, error) {
	var out []string
	count := 0
	if err := expandInner("", pat, &out, &count); err != nil {
		return nil, err
	}
	return out, nil
}

func expandInner(prefix, pat string, out *[]string, count *int) error {
	start := strings.IndexByte(pat, '{')
	if start < 0 {
		*count++
		if *count > MaxBraceExpansions {
			return &ParseError{Kind: TooManyExpansions, Rule: pat}
		}
		*out = append(*out, prefix+pat)
		return nil
	}

	depth := 0
	end := -1
	for i := start; i < len(pat); i++ {
		switch pat[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				end = i
			}
		}
		if end >= 0 {
			break
		}
	}
	if end < 0 {
		// unbalanced: literal
		*count++
		if *count > MaxBraceExpansions {
			return &ParseError{Kind: TooManyExpansions, Rule: pat}
		}
		*out = append(*out, prefix+pat)
		return nil
	}

	pre := pat[:start]
	body := pat[start+1 : end]
	suffix := pat[end+1:]

	var parts []string
	var part strings.Builder
	d := 0
	for _, c := range body {
		switch c {
		case '{':
			d++
			part.WriteRune(c)
		case '}':
			d--
			part.WriteRune(c)
		case ',':
			if d == 0 {
				parts = append(parts, part.String())
				part.Reset()
				continue
			}
			part.WriteRune(c)
		default:
			part.WriteRune(c)
		}
	}
	parts = append(parts, part.String())

	var expanded []string
	for _, p := range parts {
		if rng, err := expandRange(p); err != nil {
			return err
		} else if rng != nil {
			expanded = append(expanded, rng...)
		} else {
			expanded = append(expanded, p)
		}
	}

	for _, p := range expanded {
		if err := expandInner(prefix+pre+p, suffix, out, count); err != nil {
			return err
		}
		if *count > MaxBraceExpansions {
			return &ParseError{Kind: TooManyExpansions, Rule: pat}
		}
	}
	return nil
}

// expandRange handles a..b and a..b..step bodies; returns nil when
// the body isn't a range.
func expandRange(part string) ([]string, error) {
	fields := strings.Split(part, "..")
	if len(fields) < 2 || len(fields) > 3 {
		return nil, nil
	}

	lo, hi := fields[0], fields[1]
	step := int64(1)
	if len(fields) == 3 {
		s, err := strconv.ParseInt(fields[2], 10, 64)
		if err != nil || s == 0 {
			return nil, nil
		}
		step = s
	}

	if a, err1 := strconv.ParseInt(lo, 10, 64); err1 == nil {
		b, err2 := strconv.ParseInt(hi, 10, 64)
		if err2 != nil {
			return nil, nil
		}
		if (step > 0 && a > b) || (step < 0 && a < b) {
			return nil, nil
		}
		width := max(len(lo), len(hi))
		var out []string
		emit := func(i int64) error {
			if width > 1 {
				out = append(out, fmt.Sprintf("%0*d", width, i))
			} else {
				out = append(out, strconv.FormatInt(i, 10))
			}
			if len(out) > MaxBraceExpansions {
				return &ParseError{Kind: TooManyExpansions, Rule: part}
			}
			return nil
		}
		if step > 0 {
			for i := a; i <= b; i += step {
				if err := emit(i); err != nil {
					return nil, err
				}
			}
		} else {
			for i := a; i >= b; i += step {
				if err := emit(i); err != nil {
					return nil, err
				}
			}
		}
		return out, nil
	}

	if len(lo) == 1 && len(hi) == 1 {
		a, b := rune(lo[0]), rune(hi[0])
		if a > b || step <= 0 {
			return nil, nil
		}
		var out []string
		for c := a; c <= b; c += rune(step) {
			out = append(out, string(c))
			if len(out) > MaxBraceExpansions {
				return nil, &ParseError{Kind: TooManyExpansions, Rule: part}
			}
		}
		return out, nil
	}
	return nil, nil
}

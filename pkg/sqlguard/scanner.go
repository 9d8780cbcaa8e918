// Package sqlguard statically validates candidate SQL and rewrites it
// for tenant isolation. Both operations are pure functions over the SQL
// text: no database, no network, deterministic and replayable.
package sqlguard

import "strings"

// scanResult is the lexical view of one SQL string. masked has the same
// length as the input with string-literal interiors, quoted-identifier
// interiors, and whole comments blanked to spaces, so structural scans
// (keywords, semicolons, parentheses) cannot be fooled by quoted text.
type scanResult struct {
	masked              string
	comments            []string
	unterminatedString  bool
	unterminatedComment bool
}

const (
	stateNormal = iota
	stateString
	stateQuotedIdent
	stateLineComment
	stateBlockComment
)

// scan performs a single pass over the SQL text. It understands single
// quotes with '' escapes, double-quoted identifiers, -- line comments,
// and /* */ block comments (non-nested).
func scan(sql string) scanResult {
	masked := []byte(sql)
	var res scanResult
	var comment strings.Builder

	state := stateNormal
	for i := 0; i < len(sql); i++ {
		c := sql[i]

		switch state {
		case stateNormal:
			switch {
			case c == '\'':
				state = stateString
			case c == '"':
				state = stateQuotedIdent
			case c == '-' && i+1 < len(sql) && sql[i+1] == '-':
				state = stateLineComment
				comment.Reset()
				comment.WriteString("--")
				masked[i] = ' '
				masked[i+1] = ' '
				i++
			case c == '/' && i+1 < len(sql) && sql[i+1] == '*':
				state = stateBlockComment
				comment.Reset()
				comment.WriteString("/*")
				masked[i] = ' '
				masked[i+1] = ' '
				i++
			}

		case stateString:
			if c == '\'' {
				if i+1 < len(sql) && sql[i+1] == '\'' {
					// escaped quote, stays inside the literal
					masked[i] = ' '
					masked[i+1] = ' '
					i++
				} else {
					state = stateNormal
				}
			} else {
				masked[i] = ' '
			}

		case stateQuotedIdent:
			if c == '"' {
				state = stateNormal
			} else {
				masked[i] = ' '
			}

		case stateLineComment:
			if c == '\n' {
				state = stateNormal
				res.comments = append(res.comments, comment.String())
			} else {
				comment.WriteByte(c)
				masked[i] = ' '
			}

		case stateBlockComment:
			if c == '*' && i+1 < len(sql) && sql[i+1] == '/' {
				comment.WriteString("*/")
				masked[i] = ' '
				masked[i+1] = ' '
				i++
				state = stateNormal
				res.comments = append(res.comments, comment.String())
			} else {
				comment.WriteByte(c)
				masked[i] = ' '
			}
		}
	}

	switch state {
	case stateString, stateQuotedIdent:
		res.unterminatedString = true
	case stateLineComment:
		// a line comment may legally end at end-of-input
		res.comments = append(res.comments, comment.String())
	case stateBlockComment:
		res.unterminatedComment = true
		res.comments = append(res.comments, comment.String())
	}

	res.masked = string(masked)
	return res
}

// balancedParens reports whether parentheses balance in the masked text.
func balancedParens(masked string) bool {
	depth := 0
	for i := 0; i < len(masked); i++ {
		switch masked[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth < 0 {
				return false
			}
		}
	}
	return depth == 0
}

// isWordByte reports whether b can be part of an identifier or keyword.
func isWordByte(b byte) bool {
	return b == '_' || b == '$' ||
		(b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

// wordToken is one identifier/keyword token with its byte span.
type wordToken struct {
	upper string
	start int
	end   int // exclusive
}

// wordTokens extracts identifier/keyword tokens from masked text in the
// half-open range [from, to).
func wordTokens(masked string, from, to int) []wordToken {
	var toks []wordToken
	i := from
	for i < to {
		if isWordByte(masked[i]) && (masked[i] < '0' || masked[i] > '9') {
			j := i
			for j < to && isWordByte(masked[j]) {
				j++
			}
			toks = append(toks, wordToken{upper: strings.ToUpper(masked[i:j]), start: i, end: j})
			i = j
		} else {
			i++
		}
	}
	return toks
}

// nextNonSpace returns the first non-whitespace byte at or after i, or 0
// when the range is exhausted.
func nextNonSpace(masked string, i, to int) (byte, int) {
	for ; i < to; i++ {
		switch masked[i] {
		case ' ', '\t', '\n', '\r':
		default:
			return masked[i], i
		}
	}
	return 0, to
}

// prevNonSpace returns the last non-whitespace byte before i, or 0 when
// there is none.
func prevNonSpace(masked string, i int) byte {
	for j := i - 1; j >= 0; j-- {
		switch masked[j] {
		case ' ', '\t', '\n', '\r':
		default:
			return masked[j]
		}
	}
	return 0
}

package command

import (
	"strings"
)

// Tokenize splits a command line on unquoted whitespace. Single quotes
// group literally; double quotes group and honour backslash escapes; a
// backslash outside quotes escapes the next character.
func Tokenize(line string) ([]string, error) {
	var (
		tokens  []string
		cur     strings.Builder
		inToken bool
		quote   rune
		escaped bool
	)

	for _, r := range line {
		switch {
		case escaped:
			cur.WriteRune(r)
			escaped = false
		case quote == '\'':
			if r == '\'' {
				quote = 0
			} else {
				cur.WriteRune(r)
			}
		case quote == '"':
			switch r {
			case '"':
				quote = 0
			case '\\':
				escaped = true
			default:
				cur.WriteRune(r)
			}
		case r == '\\':
			escaped = true
			inToken = true
		case r == '\'' || r == '"':
			quote = r
			inToken = true
		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
			if inToken {
				tokens = append(tokens, cur.String())
				cur.Reset()
				inToken = false
			}
		default:
			cur.WriteRune(r)
			inToken = true
		}
	}

	if quote != 0 {
		return nil, malformed(line, "unterminated %c quote", quote)
	}
	if escaped {
		return nil, malformed(line, "dangling backslash at end of line")
	}
	if inToken {
		tokens = append(tokens, cur.String())
	}
	return tokens, nil
}

// Quote returns tok in a form Tokenize reads back as the same single token
func Quote(tok string) string {
	if tok == "" {
		return `""`
	}
	if !strings.ContainsAny(tok, " \t\r\n'\"\\") {
		return tok
	}
	var b strings.Builder
	b.Grow(len(tok) + 2)
	b.WriteByte('"')
	for _, r := range tok {
		if r == '"' || r == '\\' {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	b.WriteByte('"')
	return b.String()
}

// Join quotes each token and joins them into one command line
func Join(tokens []string) string {
	quoted := make([]string, len(tokens))
	for i, tok := range tokens {
		quoted[i] = Quote(tok)
	}
	return strings.Join(quoted, " ")
}

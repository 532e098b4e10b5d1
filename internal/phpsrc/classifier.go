// Package phpsrc decides whether PHP source text can be safely re-included
// into a running worker. Source that only defines anonymous classes and
// closures gets a fresh identity on every include; source declaring named
// classes, interfaces, traits or enums would collide with the definitions
// already loaded and therefore requires a worker restart.
package phpsrc

import (
	"strings"

	"github.com/moduhost/workerd/internal/detector"
)

// Classifier implements detector.Classifier with a minimal PHP lexer. It
// never returns anything other than ChangeRebindable or ChangeClassFile.
type Classifier struct{}

// Classify scans the token stream of source for a named class, interface,
// trait or enum declaration. Anonymous classes at point of use
// (new class {...}) do not count.
func (Classifier) Classify(source []byte) detector.ChangeType {
	if HasNamedDeclaration(source) {
		return detector.ChangeClassFile
	}
	return detector.ChangeRebindable
}

type tokenKind int

const (
	tokenWord tokenKind = iota
	tokenVariable
	tokenPunct
)

type token struct {
	kind tokenKind
	text string
}

// HasNamedDeclaration reports whether the source declares at least one named
// class-like type inside a PHP region.
func HasNamedDeclaration(source []byte) bool {
	tokens := lex(source)
	for i, t := range tokens {
		if t.kind != tokenWord {
			continue
		}
		switch strings.ToLower(t.text) {
		case "class", "interface", "trait", "enum":
		default:
			continue
		}

		// A named declaration is the keyword followed by a plain
		// identifier. Anonymous classes are followed by "(", "{",
		// "extends" or "implements" after "new".
		if i+1 >= len(tokens) || tokens[i+1].kind != tokenWord {
			continue
		}
		next := strings.ToLower(tokens[i+1].text)
		if next == "extends" || next == "implements" {
			continue
		}
		if precededByNew(tokens, i) || precededByAccessor(tokens, i) {
			continue
		}
		return true
	}
	return false
}

// precededByNew reports whether the declaration keyword at index i follows a
// "new" keyword, allowing for anonymous-class modifiers (new readonly class).
func precededByNew(tokens []token, i int) bool {
	for j := i - 1; j >= 0; j-- {
		t := tokens[j]
		if t.kind != tokenWord {
			return false
		}
		switch strings.ToLower(t.text) {
		case "new":
			return true
		case "readonly", "final", "abstract":
			continue
		default:
			return false
		}
	}
	return false
}

// precededByAccessor reports member or constant access such as Foo::class
// and $obj->class, which reuse the keyword without declaring anything.
func precededByAccessor(tokens []token, i int) bool {
	if i == 0 {
		return false
	}
	prev := tokens[i-1]
	return prev.kind == tokenPunct && (prev.text == "::" || prev.text == "->" || prev.text == "?->")
}

// lex produces the significant PHP tokens of source. Text outside <?php /
// <?= regions, comments, strings and heredoc bodies are skipped. The lexer
// is deliberately lossy: it only needs to preserve enough structure to find
// declaration keywords and their neighbors.
func lex(source []byte) []token {
	var tokens []token
	src := string(source)
	n := len(src)
	i := 0
	inPHP := false

	for i < n {
		if !inPHP {
			open := strings.Index(src[i:], "<?")
			if open < 0 {
				break
			}
			i += open + 2
			if strings.HasPrefix(src[i:], "php") {
				i += 3
			} else if strings.HasPrefix(src[i:], "=") {
				i++
			}
			inPHP = true
			continue
		}

		c := src[i]
		switch {
		case c == '?' && i+1 < n && src[i+1] == '>':
			inPHP = false
			i += 2

		case c == ' ' || c == '\t' || c == '\r' || c == '\n':
			i++

		case c == '/' && i+1 < n && src[i+1] == '/':
			i = skipLineComment(src, i+2)

		case c == '#' && i+1 < n && src[i+1] == '[':
			i = skipAttribute(src, i+2)

		case c == '#':
			i = skipLineComment(src, i+1)

		case c == '/' && i+1 < n && src[i+1] == '*':
			if end := strings.Index(src[i+2:], "*/"); end >= 0 {
				i += 2 + end + 2
			} else {
				i = n
			}

		case c == '\'' || c == '"' || c == '`':
			i = skipQuoted(src, i+1, c)

		case c == '<' && strings.HasPrefix(src[i:], "<<<"):
			i = skipHeredoc(src, i+3)

		case c == '$':
			start := i
			i++
			for i < n && isIdentByte(src[i]) {
				i++
			}
			tokens = append(tokens, token{tokenVariable, src[start:i]})

		case isIdentStart(c):
			start := i
			for i < n && isIdentByte(src[i]) {
				i++
			}
			tokens = append(tokens, token{tokenWord, src[start:i]})

		case c == ':' && i+1 < n && src[i+1] == ':':
			tokens = append(tokens, token{tokenPunct, "::"})
			i += 2

		case c == '-' && i+1 < n && src[i+1] == '>':
			tokens = append(tokens, token{tokenPunct, "->"})
			i += 2

		case c == '?' && i+2 < n && src[i+1] == '-' && src[i+2] == '>':
			tokens = append(tokens, token{tokenPunct, "?->"})
			i += 3

		default:
			tokens = append(tokens, token{tokenPunct, string(c)})
			i++
		}
	}
	return tokens
}

func skipLineComment(src string, i int) int {
	for i < len(src) {
		if src[i] == '\n' {
			return i + 1
		}
		// A closing tag ends the comment and the PHP region; leave it
		// for the main loop.
		if src[i] == '?' && i+1 < len(src) && src[i+1] == '>' {
			return i
		}
		i++
	}
	return i
}

// skipAttribute consumes a #[...] attribute group with balanced brackets.
func skipAttribute(src string, i int) int {
	depth := 1
	for i < len(src) && depth > 0 {
		switch src[i] {
		case '[':
			depth++
		case ']':
			depth--
		case '\'', '"':
			i = skipQuoted(src, i+1, src[i])
			continue
		}
		i++
	}
	return i
}

func skipQuoted(src string, i int, quote byte) int {
	for i < len(src) {
		switch src[i] {
		case '\\':
			i += 2
		case quote:
			return i + 1
		default:
			i++
		}
	}
	return i
}

// skipHeredoc consumes a heredoc or nowdoc body. i points just past "<<<".
func skipHeredoc(src string, i int) int {
	n := len(src)
	for i < n && (src[i] == ' ' || src[i] == '\t') {
		i++
	}
	quoted := byte(0)
	if i < n && (src[i] == '\'' || src[i] == '"') {
		quoted = src[i]
		i++
	}
	start := i
	for i < n && isIdentByte(src[i]) {
		i++
	}
	label := src[start:i]
	if label == "" {
		return i
	}
	if quoted != 0 && i < n && src[i] == quoted {
		i++
	}
	// Advance to the start of the next line, then look line by line for
	// the terminating label (PHP 7.3+ allows leading indentation).
	for i < n && src[i] != '\n' {
		i++
	}
	for i < n {
		i++ // past the newline
		j := i
		for j < n && (src[j] == ' ' || src[j] == '\t') {
			j++
		}
		if strings.HasPrefix(src[j:], label) {
			end := j + len(label)
			if end >= n || !isIdentByte(src[end]) {
				return end
			}
		}
		for i < n && src[i] != '\n' {
			i++
		}
	}
	return i
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c >= 0x80
}

func isIdentByte(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}

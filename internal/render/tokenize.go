// Package render turns demultiplexed message text into styled output.
//
// Each line is tokenized once by an explicit grammar:
//
//	line    = [speaker ":"] { plain | action }
//	action  = "*" { any char except "*" } "*"
//
// so substitution never applies twice to the same text. Rendering only
// affects presentation; it never changes a message's channel.
package render

import (
	"sort"
	"strings"
)

// TokenKind classifies a run of text within a line.
type TokenKind int

const (
	TokenPlain TokenKind = iota
	TokenAction
	TokenSpeaker
)

func (k TokenKind) String() string {
	switch k {
	case TokenPlain:
		return "plain"
	case TokenAction:
		return "action"
	case TokenSpeaker:
		return "speaker"
	default:
		return "unknown"
	}
}

// Token is one run of a line. For TokenAction, Text excludes the
// surrounding asterisks. For TokenSpeaker, Text is the name without colon.
type Token struct {
	Kind TokenKind
	Text string
}

// Tokenize splits one line into tokens. A speaker label is recognized only
// at the very start of the line and only for names in speakers. An
// unmatched "*" is plain text.
func Tokenize(line string, speakers []string) []Token {
	var tokens []Token
	rest := line

	if name, ok := matchSpeaker(rest, speakers); ok {
		tokens = append(tokens, Token{Kind: TokenSpeaker, Text: name})
		rest = rest[len(name)+1:]
	}

	var plain strings.Builder
	flush := func() {
		if plain.Len() > 0 {
			tokens = append(tokens, Token{Kind: TokenPlain, Text: plain.String()})
			plain.Reset()
		}
	}

	for len(rest) > 0 {
		open := strings.IndexByte(rest, '*')
		if open < 0 {
			plain.WriteString(rest)
			break
		}
		closeRel := strings.IndexByte(rest[open+1:], '*')
		if closeRel < 0 {
			plain.WriteString(rest)
			break
		}
		plain.WriteString(rest[:open])
		flush()
		tokens = append(tokens, Token{Kind: TokenAction, Text: rest[open+1 : open+1+closeRel]})
		rest = rest[open+1+closeRel+1:]
	}
	flush()
	return tokens
}

// matchSpeaker returns the longest configured name that prefixes line and
// is immediately followed by a colon.
func matchSpeaker(line string, speakers []string) (string, bool) {
	if len(speakers) == 0 {
		return "", false
	}
	names := append([]string(nil), speakers...)
	sort.Slice(names, func(i, j int) bool { return len(names[i]) > len(names[j]) })
	for _, name := range names {
		if name == "" {
			continue
		}
		if strings.HasPrefix(line, name+":") {
			return name, true
		}
	}
	return "", false
}

// Lines splits message text into display lines.
func Lines(text string) []string {
	return strings.Split(text, "\n")
}

// Package proxyconf edits the reverse-proxy configuration file that routes
// tenant hostnames to toolbox workers.
package proxyconf

import (
	"strings"
)

// SplitBlocks cuts text into top-level brace-balanced blocks. A block ends on
// the line where the running brace depth returns to zero; text that never
// balances is kept as a trailing block. Line terminators are preserved, so
// JoinBlocks(SplitBlocks(t)) == t for any t.
//
// Braces are counted per line without regard to quoting or comments.
func SplitBlocks(text string) []string {
	var (
		blocks []string
		buf    strings.Builder
		depth  int
	)
	for len(text) > 0 {
		line := text
		if i := strings.IndexByte(text, '\n'); i >= 0 {
			line = text[:i+1]
		}
		text = text[len(line):]

		buf.WriteString(line)
		depth += strings.Count(line, "{") - strings.Count(line, "}")
		if depth == 0 {
			blocks = append(blocks, buf.String())
			buf.Reset()
		}
	}
	if buf.Len() > 0 {
		blocks = append(blocks, buf.String())
	}
	return blocks
}

func JoinBlocks(blocks []string) string {
	return strings.Join(blocks, "")
}

// IsServerBlock reports whether block is a "server { ... }" directive.
func IsServerBlock(block string) bool {
	s := strings.TrimLeft(block, " \t\r\n")
	if !strings.HasPrefix(s, "server") {
		return false
	}
	rest := s[len("server"):]
	return rest != "" && (rest[0] == '{' || rest[0] == ' ' || rest[0] == '\t' || rest[0] == '\r' || rest[0] == '\n')
}

// ServerNames returns the arguments of every server_name directive in block,
// in order of appearance.
func ServerNames(block string) []string {
	var names []string
	for _, args := range directiveArgs(block, "server_name") {
		names = append(names, args...)
	}
	return names
}

// directiveArgs returns the argument lists of every occurrence of directive.
// Comments are skipped. A directive ends at ';' or at a brace and may span
// lines.
func directiveArgs(block, directive string) [][]string {
	var b strings.Builder
	for _, line := range strings.SplitAfter(block, "\n") {
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i] + "\n"
		}
		b.WriteString(line)
	}
	stmts := strings.FieldsFunc(b.String(), func(r rune) bool {
		return r == ';' || r == '{' || r == '}'
	})
	var out [][]string
	for _, stmt := range stmts {
		fields := strings.Fields(stmt)
		if len(fields) == 0 || fields[0] != directive {
			continue
		}
		out = append(out, fields[1:])
	}
	return out
}

func hasServerName(block, hostname string) bool {
	for _, name := range ServerNames(block) {
		if strings.EqualFold(name, hostname) {
			return true
		}
	}
	return false
}

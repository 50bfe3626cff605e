package session

import (
	"regexp"
	"strings"
)

// ANSI CSI/OSC-style escapes that matter for readability. Matches the
// classic ESC [@-_] ... final-byte shape.
var ansiEscape = regexp.MustCompile(`\x1b[@-_][0-?]*[ -/]*[@-~]`)

// normalizeNewlines folds PTY CRLF line endings to LF and drops stray
// carriage returns.
func normalizeNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "")
}

// stripControlChars removes terminal escape sequences, bells and
// backspace edits.
func stripControlChars(s string) string {
	s = ansiEscape.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, "\a", "")
	// Apply backspaces: each \b erases the character before it.
	for strings.Contains(s, "\b") {
		idx := strings.Index(s, "\b")
		if idx > 0 {
			s = s[:idx-1] + s[idx+1:]
		} else {
			s = s[1:]
		}
	}
	return s
}

// sanitizer turns a raw PTY capture into the output the caller sees:
// no prompts, no sentinel lines, no echoed input. The transformation is
// deterministic and pinned by tests.
type sanitizer struct {
	ps1 string
	ps2 string
}

// clean sanitizes raw output of one command. echoed lists input that
// readline may have echoed back (the command itself and the sentinel
// wrapper). Prompts go first: a multi-line command is echoed with PS2
// interleaved, and only after prompt removal does it match the input
// verbatim. Each echoed string is then excised once, as a standalone
// line block; nothing happens if the shell did not echo.
func (sz sanitizer) clean(raw string, echoed ...string) string {
	s := normalizeNewlines(raw)
	s = stripControlChars(s)

	if sz.ps2 != "" {
		s = strings.ReplaceAll(s, sz.ps2, "")
	}
	if sz.ps1 != "" {
		s = strings.ReplaceAll(s, sz.ps1, "")
	}

	for _, e := range echoed {
		if e == "" {
			continue
		}
		s = exciseLineBlock(s, normalizeNewlines(e))
	}

	return strings.TrimLeft(s, "\n")
}

// exciseLineBlock removes the first occurrence of block that sits on
// its own line boundaries, together with its trailing newline. Verbatim
// match only: fuzzy matching against partial echoes would risk eating
// real output.
func exciseLineBlock(s, block string) string {
	idx := findLine(s, block)
	if idx < 0 {
		return s
	}
	end := idx + len(block)
	if end < len(s) && s[end] == '\n' {
		end++
	}
	return s[:idx] + s[end:]
}

// findMarker locates the first occurrence of marker within s that ends
// at a line boundary ('\n', '\r', or end-of-buffer) and returns its
// start index, or -1. The prefix is deliberately unconstrained: the
// shell prints its prompt immediately before reading a buffered
// sentinel line, and output without a trailing newline glues onto the
// same line too. Echoed input is still rejected, because there the
// marker text is followed by the rest of the echoed command.
func findMarker(s, marker string) int {
	from := 0
	for {
		idx := strings.Index(s[from:], marker)
		if idx < 0 {
			return -1
		}
		idx += from
		end := idx + len(marker)
		if end == len(s) || s[end] == '\n' || s[end] == '\r' {
			return idx
		}
		from = end
	}
}

// findLine locates marker within s such that it starts at a line start
// and ends at a line end, and returns the start index, or -1. This
// keeps echoed input (where the marker text is mid-line) from matching.
func findLine(s, marker string) int {
	from := 0
	for {
		idx := strings.Index(s[from:], marker)
		if idx < 0 {
			return -1
		}
		idx += from
		atLineStart := idx == 0 || s[idx-1] == '\n'
		end := idx + len(marker)
		atLineEnd := end == len(s) || s[end] == '\n' || s[end] == '\r'
		if atLineStart && atLineEnd {
			return idx
		}
		from = idx + len(marker)
	}
}

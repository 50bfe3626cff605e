package session

import (
	"strings"

	"mvdan.cc/sh/v3/syntax"

	"github.com/swe-agent/swe-rex/pkg/types"
)

// CheckSyntax parses command with a bash grammar and rejects anything
// that is not a complete statement: open quotes, open heredocs,
// trailing pipes or &&/||, backslash continuations, unterminated
// substitutions. An incomplete command would put the interactive shell
// into PS2 and wedge every later command, so the check is conservative:
// any parse failure rejects.
func CheckSyntax(command string) error {
	trimmed := strings.TrimSpace(command)
	if trimmed == "" {
		return nil
	}
	allComments := true
	for _, line := range strings.Split(trimmed, "\n") {
		l := strings.TrimSpace(line)
		if l != "" && !strings.HasPrefix(l, "#") {
			allComments = false
			break
		}
	}
	if allComments {
		return nil
	}

	parser := syntax.NewParser(syntax.Variant(syntax.LangBash))
	_, err := parser.Parse(strings.NewReader(command), "")
	if err == nil {
		return nil
	}
	if syntax.IsIncomplete(err) {
		return types.NewBashIncorrectSyntaxError(command, "command is incomplete: "+err.Error())
	}
	return types.NewBashIncorrectSyntaxError(command, err.Error())
}

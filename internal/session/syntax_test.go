package session

import (
	"testing"

	"github.com/swe-agent/swe-rex/pkg/types"
)

func TestCheckSyntaxAccepts(t *testing.T) {
	commands := []string{
		"",
		"   ",
		"echo hello",
		"ls -la | grep foo",
		"for i in 1 2 3; do echo $i; done",
		"x=$(date); echo $x",
		"cat <<EOF\nhello\nEOF",
		"echo 'quoted string'",
		"true && echo yes || echo no",
		"# just a comment",
		"# first\n# second",
		"if true; then\n  echo ok\nfi",
	}
	for _, cmd := range commands {
		if err := CheckSyntax(cmd); err != nil {
			t.Errorf("CheckSyntax(%q) = %v, want nil", cmd, err)
		}
	}
}

func TestCheckSyntaxRejectsIncomplete(t *testing.T) {
	commands := []string{
		"echo 'unterminated",
		`echo "unterminated`,
		"cat <<EOF\nno terminator",
		"ls |",
		"true &&",
		"echo foo \\",
		"if true; then echo ok",
		"echo $(date",
	}
	for _, cmd := range commands {
		err := CheckSyntax(cmd)
		if err == nil {
			t.Errorf("CheckSyntax(%q) = nil, want BashIncorrectSyntaxError", cmd)
			continue
		}
		if !types.IsKind(err, types.KindBashIncorrectSyntax) {
			t.Errorf("CheckSyntax(%q) returned wrong kind: %v", cmd, err)
		}
	}
}

func TestCheckSyntaxRejectsInvalid(t *testing.T) {
	// Not incomplete, just wrong. Conservative behavior: still rejected.
	err := CheckSyntax("fi")
	if !types.IsKind(err, types.KindBashIncorrectSyntax) {
		t.Errorf("expected BashIncorrectSyntaxError for stray fi, got %v", err)
	}
}

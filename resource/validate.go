package resource

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedIndent marks a command list whose indentation does not
// describe a valid block structure.
var ErrMalformedIndent = errors.New("resource: malformed indent")

// IsElseMarker reports whether c separates the arms of a branch opened
// at branchIndent.
func IsElseMarker(c *EventCommand, branchIndent int) bool {
	if c == nil || c.Kind != KindComment || c.Indent != branchIndent+1 {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(c.ParamString("text")), ElseMarker)
}

// ValidatePage checks that indentation in page forms well-nested blocks:
// no negative indent, the first command at indent 0, indent never grows by
// more than one level, and it only grows right after a block opener. An
// else marker must sit directly under a branch, and a branch
// may hold only one.
func ValidatePage(page *EventPage) error {
	if page == nil {
		return nil
	}
	// stack[d-1] is the block whose body lives at indent d.
	type block struct {
		kind     CommandKind
		sawElse  bool
		openedAt int
	}
	var stack []block
	prevIndent := 0
	var prev *EventCommand
	for i, c := range page.List {
		if c == nil {
			return fmt.Errorf("%w: nil command at %d", ErrMalformedIndent, i)
		}
		if c.Indent < 0 {
			return fmt.Errorf("%w: negative indent at %d", ErrMalformedIndent, i)
		}
		if i == 0 && c.Indent != 0 {
			return fmt.Errorf("%w: first command at indent %d", ErrMalformedIndent, c.Indent)
		}
		if i > 0 && c.Indent > prevIndent {
			if c.Indent != prevIndent+1 {
				return fmt.Errorf("%w: indent jumps from %d to %d at %d", ErrMalformedIndent, prevIndent, c.Indent, i)
			}
			if !prev.Kind.OpensBlock() {
				return fmt.Errorf("%w: indent grows after %s at %d", ErrMalformedIndent, prev.Kind, i)
			}
			stack = append(stack, block{kind: prev.Kind, openedAt: i - 1})
		}
		// Outdent closes every block deeper than the current command.
		for len(stack) > c.Indent {
			stack = stack[:len(stack)-1]
		}
		if c.Kind == KindComment && IsElseMarker(c, c.Indent-1) && len(stack) == c.Indent && c.Indent > 0 {
			top := &stack[len(stack)-1]
			if top.kind != KindConditionalBranch {
				return fmt.Errorf("%w: else marker inside %s at %d", ErrMalformedIndent, top.kind, i)
			}
			if top.sawElse {
				return fmt.Errorf("%w: second else for branch at %d", ErrMalformedIndent, top.openedAt)
			}
			top.sawElse = true
		}
		prevIndent = c.Indent
		prev = c
	}
	return nil
}

// ValidateEvent validates every page of ev.
func ValidateEvent(ev *GameEvent) error {
	for i, p := range ev.Pages {
		if err := ValidatePage(p); err != nil {
			return fmt.Errorf("event %d page %d: %w", ev.ID, i, err)
		}
	}
	return nil
}

// ABOUTME: Heuristic resolution of interrupts from later events in the stream
// ABOUTME: The next user message settles plan approvals; tool results settle questions and workspace proposals

package thread

import (
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/2389/coven-chat/internal/document"
)

// Phrases are the tool-result texts that reveal how an interrupt was
// settled. Matching is case-insensitive substring search.
type Phrases struct {
	Answered []string `yaml:"answered" toml:"answered"`
	Skipped  []string `yaml:"skipped" toml:"skipped"`
	Approved []string `yaml:"approved" toml:"approved"`
	Rejected []string `yaml:"rejected" toml:"rejected"`
}

// DefaultPhrases returns the phrases the gateway's tools emit.
func DefaultPhrases() Phrases {
	return Phrases{
		Answered: []string{"User answered", "User responded"},
		Skipped:  []string{"skipped"},
		Approved: []string{"Workspace created"},
		Rejected: []string{"declined", "rejected"},
	}
}

// resolver tracks interrupts seen in the stream that no decision has
// settled yet.
type resolver struct {
	phrases Phrases
	open    []*document.Interrupt
}

func (r *resolver) track(ins []*document.Interrupt) {
	r.open = append(r.open, ins...)
}

// prune drops interrupts resolved by any path.
func (r *resolver) prune() {
	kept := r.open[:0]
	for _, in := range r.open {
		if !in.Status.Resolved() {
			kept = append(kept, in)
		}
	}
	r.open = kept
}

// userMessage settles pending plan approvals. Empty content approves all of
// them; otherwise the oldest is rejected with the content as feedback and
// the message is consumed.
func (r *resolver) userMessage(content string) (resolved []*document.Interrupt, consumed bool) {
	r.prune()
	for _, in := range r.open {
		if in.Kind != document.KindPlanApproval {
			continue
		}
		if content == "" {
			in.Resolve(document.StatusApproved)
			resolved = append(resolved, in)
			continue
		}
		in.Resolve(document.StatusRejected)
		in.Feedback = content
		resolved = append(resolved, in)
		consumed = true
		break
	}
	r.prune()
	return resolved, consumed
}

// toolResult settles the oldest question or workspace interrupt whose
// resolution phrase appears in content.
func (r *resolver) toolResult(content string) []*document.Interrupt {
	r.prune()
	for _, in := range r.open {
		switch {
		case in.Kind.IsQuestion():
			if rest, ok := match(content, r.phrases.Answered); ok {
				in.Resolve(document.StatusAnswered)
				in.Answer = rest
			} else if _, ok := match(content, r.phrases.Skipped); ok {
				in.Resolve(document.StatusSkipped)
			} else {
				continue
			}
		case in.Kind == document.KindCreateWorkspace:
			if _, ok := match(content, r.phrases.Approved); ok {
				in.Resolve(document.StatusApproved)
			} else if _, ok := match(content, r.phrases.Rejected); ok {
				in.Resolve(document.StatusRejected)
			} else {
				continue
			}
		default:
			continue
		}
		resolved := []*document.Interrupt{in}
		r.prune()
		return resolved
	}
	return nil
}

// match reports whether any phrase occurs in content, ignoring case, and
// returns the text after the first occurrence, trimmed of separators.
func match(content string, phrases []string) (string, bool) {
	for _, p := range phrases {
		if p == "" {
			continue
		}
		if _, end := indexFold(content, p); end >= 0 {
			return strings.Trim(content[end:], " :\t\n\"'"), true
		}
	}
	return "", false
}

// indexFold returns the byte span of the first case-insensitive occurrence
// of substr in s, or -1, -1. Offsets index s itself, so they stay valid when
// case mapping changes a rune's encoded length.
func indexFold(s, substr string) (int, int) {
	n := utf8.RuneCountInString(substr)
	for i := range s {
		j := i
		for k := 0; k < n && j < len(s); k++ {
			_, size := utf8.DecodeRuneInString(s[j:])
			j += size
		}
		if strings.EqualFold(s[i:j], substr) {
			return i, j
		}
	}
	return -1, -1
}

// Claim hands interrupts to the user: later events in the stream no longer
// settle them.
func (t *Thread) Claim(ins ...*document.Interrupt) {
	t.resolver.open = slices.DeleteFunc(t.resolver.open, func(in *document.Interrupt) bool {
		return slices.Contains(ins, in)
	})
}

// Unresolved returns the interrupts still pending, oldest first.
func (t *Thread) Unresolved() []*document.Interrupt {
	t.resolver.prune()
	return append([]*document.Interrupt(nil), t.resolver.open...)
}

// Package prompt assembles the message list sent to the language model:
// the policy prompt, matched knowledge references, a budget-trimmed slice
// of the conversation and the new user message.
package prompt

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/MikeSquared-Agency/concierge/internal/chat"
	"github.com/MikeSquared-Agency/concierge/internal/knowledge"
	"github.com/MikeSquared-Agency/concierge/internal/llm"
)

const (
	DefaultMaxTurns   = 30
	DefaultCharBudget = 12000
	DefaultMaxSources = 3
)

// Options bounds the assembled context. Zero values take the defaults.
type Options struct {
	MaxTurns   int
	CharBudget int
	MaxSources int
}

func (o Options) withDefaults() Options {
	if o.MaxTurns <= 0 {
		o.MaxTurns = DefaultMaxTurns
	}
	if o.CharBudget <= 0 {
		o.CharBudget = DefaultCharBudget
	}
	if o.MaxSources <= 0 {
		o.MaxSources = DefaultMaxSources
	}
	return o
}

type Assembler struct {
	system string
	kb     *knowledge.Base
	opts   Options
}

// New builds an assembler. kb may be nil, in which case no references are
// ever attached.
func New(system string, kb *knowledge.Base, opts Options) *Assembler {
	return &Assembler{system: system, kb: kb, opts: opts.withDefaults()}
}

// Payload is the assembled request context.
type Payload struct {
	Messages []llm.Message
	Sources  []knowledge.Scored
	// Included and Dropped count prior turns kept and trimmed away.
	Included int
	Dropped  int
}

// Build assembles [system, knowledge?, ...history, newMessage]. history
// holds prior turns only; the new message is passed separately and is
// always present in the result.
func (a *Assembler) Build(history []chat.Message, newMessage string) Payload {
	recent := selectRecent(history, a.opts.MaxTurns)
	kept := trimToBudget(recent, newMessage, a.opts.CharBudget)

	var p Payload
	p.Included = len(kept)
	p.Dropped = len(history) - len(kept)

	if a.system != "" {
		p.Messages = append(p.Messages, llm.Text(llm.RoleSystem, a.system))
	}

	p.Sources = a.kb.Rank(newMessage, a.opts.MaxSources)
	if len(p.Sources) > 0 {
		p.Messages = append(p.Messages, llm.Text(llm.RoleSystem, knowledgeTurn(p.Sources)))
	}

	for _, m := range kept {
		p.Messages = append(p.Messages, llm.Text(roleFor(m.Sender), m.Body))
	}
	p.Messages = append(p.Messages, llm.Text(llm.RoleUser, newMessage))
	return p
}

// selectRecent returns at most k of the newest turns, oldest first.
func selectRecent(history []chat.Message, k int) []chat.Message {
	sorted := make([]chat.Message, len(history))
	copy(sorted, history)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})
	if len(sorted) > k {
		sorted = sorted[len(sorted)-k:]
	}
	return sorted
}

// trimToBudget walks from the newest turn backwards and keeps turns while
// the running character count, starting with the new message, stays within
// budget. The first turn that would overflow ends the walk, so the kept
// slice is always a contiguous suffix.
func trimToBudget(history []chat.Message, newMessage string, budget int) []chat.Message {
	total := utf8.RuneCountInString(newMessage)
	start := len(history)
	for i := len(history) - 1; i >= 0; i-- {
		n := utf8.RuneCountInString(history[i].Body)
		if total+n > budget {
			break
		}
		total += n
		start = i
	}
	return history[start:]
}

func roleFor(sender chat.SenderKind) llm.Role {
	switch sender {
	case chat.SenderAssistant, chat.SenderAdmin:
		return llm.RoleAssistant
	default:
		return llm.RoleUser
	}
}

func knowledgeTurn(sources []knowledge.Scored) string {
	var b strings.Builder
	b.WriteString("Reference material relevant to the user's question:\n")
	citations := make([]string, len(sources))
	for i, s := range sources {
		fmt.Fprintf(&b, "- %s: %s", s.Citation, s.Summary)
		if s.Link != "" {
			fmt.Fprintf(&b, " (%s)", s.Link)
		}
		b.WriteString("\n")
		citations[i] = s.Citation
	}
	fmt.Fprintf(&b, "\nEnd your answer with a short \"Sources\" section that names only the citations above you actually relied on (%s). Never cite any other source.",
		strings.Join(citations, "; "))
	return b.String()
}

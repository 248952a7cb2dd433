package prompt

import (
	"fmt"
	"sort"
	"strings"

	"github.com/theapemachine/minne/pkg/convo"
	"github.com/theapemachine/minne/pkg/errors"
)

/*
DefaultPreamble is the assistant's standing instruction, sent as the
first system message of every prompt.
*/
const DefaultPreamble = `Du är en hjälpsam AI-assistent som kan:
- Svara på frågor om AI och maskininlärning
- Förklara koncept på ett tydligt sätt
- Ge exempel och analogier
- Anpassa svaret efter användarens nivå`

// MemoryHeader introduces the retrieved-fragment block.
const MemoryHeader = "Tidigare relevanta interaktioner:"

/*
Assembler builds the provider prompt from a memory bundle and the new
user message. Messages are ordered preamble, retrieved fragments,
recent turns, new message. When the estimate exceeds the token budget
it drops recent turns oldest first, then fragments least similar
first; the preamble and the new message are never dropped.
*/
type Assembler struct {
	preamble     string
	budget       int
	maxFragments int
}

type AssemblerOption func(*Assembler)

func NewAssembler(options ...AssemblerOption) *Assembler {
	assembler := &Assembler{
		preamble:     DefaultPreamble,
		budget:       6000,
		maxFragments: 5,
	}

	for _, option := range options {
		option(assembler)
	}

	return assembler
}

// WithPreamble replaces the standing system instruction.
func WithPreamble(preamble string) AssemblerOption {
	return func(assembler *Assembler) {
		assembler.preamble = preamble
	}
}

// WithTokenBudget sets the prompt's token ceiling.
func WithTokenBudget(budget int) AssemblerOption {
	return func(assembler *Assembler) {
		assembler.budget = budget
	}
}

// WithMaxFragments caps how many retrieved fragments are included.
func WithMaxFragments(n int) AssemblerOption {
	return func(assembler *Assembler) {
		assembler.maxFragments = n
	}
}

func (assembler *Assembler) Assemble(bundle convo.MemoryBundle, message string) (convo.Prompt, *errors.Error) {
	fixed := convo.EstimateTokens(assembler.preamble) + convo.EstimateTokens(message)
	if fixed > assembler.budget {
		return convo.Prompt{}, errors.ErrContextTooLarge.WithMessagef(
			"message and preamble need %d tokens, budget is %d", fixed, assembler.budget,
		)
	}

	fragments := append([]convo.MemoryFragment(nil), bundle.Related...)
	sort.SliceStable(fragments, func(i, j int) bool {
		if fragments[i].Score != fragments[j].Score {
			return fragments[i].Score > fragments[j].Score
		}
		return fragments[i].CreatedAt.After(fragments[j].CreatedAt)
	})

	if len(fragments) > assembler.maxFragments {
		fragments = fragments[:assembler.maxFragments]
	}

	turns := append([]convo.Turn(nil), bundle.Recent...)

	// Trimming always terminates: with nothing left to drop the
	// prompt is just preamble + message, which passed the fixed check.
	for {
		prompt := assembler.compose(fragments, turns, message)
		if prompt.EstimatedTokens <= assembler.budget {
			return prompt, nil
		}

		if len(turns) > 0 {
			turns = turns[1:]
			continue
		}

		fragments = fragments[:len(fragments)-1]
	}
}

func (assembler *Assembler) compose(
	fragments []convo.MemoryFragment, turns []convo.Turn, message string,
) convo.Prompt {
	var prompt convo.Prompt

	if assembler.preamble != "" {
		prompt.Append(convo.RoleSystem, assembler.preamble)
	}

	if len(fragments) > 0 {
		prompt.Append(convo.RoleSystem, memoryBlock(fragments))
	}

	for _, turn := range turns {
		prompt.Append(turn.Role, turn.Content)
	}

	prompt.Append(convo.RoleUser, message)
	return prompt
}

func memoryBlock(fragments []convo.MemoryFragment) string {
	var block strings.Builder

	block.WriteString(MemoryHeader)
	for i, fragment := range fragments {
		fmt.Fprintf(&block, "\n%d. %s", i+1, fragment.Text)
	}

	return block.String()
}

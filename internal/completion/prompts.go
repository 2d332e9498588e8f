package completion

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"canvas/api/internal/workspace"
)

// BuildChatContext describes the blocks of a workspace, one line each.
func BuildChatContext(blocks []workspace.Block) string {
	lines := make([]string, 0, len(blocks))
	for _, b := range blocks {
		lines = append(lines, describeBlock(b))
	}
	return strings.Join(lines, "\n")
}

func describeBlock(b workspace.Block) string {
	switch c := b.Content.(type) {
	case workspace.Text:
		return fmt.Sprintf("Note (%s): %s", b.Title, c.Content)
	case workspace.Dataset:
		return fmt.Sprintf("Dataset (%s): %s", b.Title, c.Description)
	default:
		return fmt.Sprintf("Image (%s)", b.Title)
	}
}

// FlashcardContext combines the blocks with the last five chat turns.
func FlashcardContext(blocks []workspace.Block, history []workspace.Message) string {
	parts := make([]string, 0, len(blocks)+5)
	for _, b := range blocks {
		parts = append(parts, describeBlock(b))
	}
	if len(history) > 5 {
		history = history[len(history)-5:]
	}
	for _, m := range history {
		speaker := "AI"
		if m.Role == workspace.RoleUser {
			speaker = "User"
		}
		parts = append(parts, speaker+": "+m.Content)
	}
	return strings.Join(parts, "\n\n")
}

// FlashcardPrompt asks for cards in the Front:/Back: block format.
func FlashcardPrompt(context string) string {
	return `Generate flashcards from the following content. Extract the most important concepts, definitions, formulas, or steps. Create short, focused flashcards (one idea per card).

Format each flashcard as:
Front: [Clear question, cue, or fill-in-the-blank]
Back: [Concise answer with optional tiny explanation/example]

Content to analyze:
` + context + `

Return ONLY the flashcards in this exact format (one flashcard per block):
---
Front: [question]
Back: [answer]
---`
}

var (
	frontPattern = regexp.MustCompile(`(?is)Front:\s*(.+?)(?:\n|Back:)`)
	backPattern  = regexp.MustCompile(`(?is)Back:\s*(.+?)(?:\n|$)`)
)

// FallbackFront titles the single card made from an unparseable response.
const FallbackFront = "Generated from workspace content"

// ParseFlashcards extracts cards from a "---" separated response. When no
// block has both sides, the whole response becomes one card.
func ParseFlashcards(text string, now time.Time) []workspace.Flashcard {
	ms := strconv.FormatInt(now.UnixMilli(), 10)
	var cards []workspace.Flashcard
	for idx, block := range nonBlank(strings.Split(text, "---")) {
		front := frontPattern.FindStringSubmatch(block)
		back := backPattern.FindStringSubmatch(block)
		if front == nil || back == nil {
			continue
		}
		cards = append(cards, workspace.Flashcard{
			ID:    ms + "-" + strconv.Itoa(idx),
			Front: strings.TrimSpace(front[1]),
			Back:  strings.TrimSpace(back[1]),
		})
	}
	if len(cards) > 0 {
		return cards
	}

	back := text
	if r := []rune(text); len(r) > 200 {
		back = string(r[:200]) + "..."
	}
	return []workspace.Flashcard{{ID: ms, Front: FallbackFront, Back: back}}
}

func nonBlank(parts []string) []string {
	out := parts[:0]
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			out = append(out, p)
		}
	}
	return out
}

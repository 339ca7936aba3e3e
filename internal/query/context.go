package query

import (
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/Aman-CERP/searchme/internal/llm"
	"github.com/Aman-CERP/searchme/internal/session"
)

// systemPrompt frames the retrieved excerpts for the model.
const systemPrompt = `You are a helpful assistant answering questions about the user's local files.
Answer using the file excerpts below. Cite the file paths you rely on and quote
exact values where they matter. If the excerpts do not contain the answer, say
so plainly instead of guessing.`

// minSnippetChars is the smallest truncated hit block worth sending.
const minSnippetChars = 200

// attrLabels lists the attributes shown to the model and in fallback output.
var attrLabels = []struct{ key, label string }{
	{"title", "Title"},
	{"artist", "Artist"},
	{"album", "Album"},
	{"year", "Year"},
	{"page_count", "Pages"},
	{"sheet_count", "Sheets"},
}

// BuildContext assembles the chat messages for one question.
//
// budget bounds the characters of history and hit blocks together. Up to a
// quarter of it goes to the most recent turns that fit whole; the rest is
// filled with hits in the given order, the last one possibly truncated. The
// question is always sent in full as the final user message.
func BuildContext(question string, hits []Hit, history []session.Turn, budget int) []llm.Message {
	if budget <= 0 {
		budget = DefaultConfig().ContextChars
	}

	historyBudget := budget / 4
	used := 0
	var turns []session.Turn
	for i := len(history) - 1; i >= 0; i-- {
		n := utf8.RuneCountInString(history[i].Text)
		if used+n > historyBudget {
			break
		}
		used += n
		turns = append(turns, history[i])
	}
	slices.Reverse(turns)

	remaining := budget - used
	var ctxText strings.Builder
	for i, h := range hits {
		if h.Record == nil {
			continue
		}
		block := formatHit(i+1, h)
		n := utf8.RuneCountInString(block)
		if n > remaining {
			if remaining >= minSnippetChars {
				ctxText.WriteString(truncateRunes(block, remaining))
				ctxText.WriteString("\n")
			}
			break
		}
		ctxText.WriteString(block)
		ctxText.WriteString("\n")
		remaining -= n
	}

	system := systemPrompt
	if ctxText.Len() > 0 {
		system += "\n\nRelevant files:\n\n" + strings.TrimRight(ctxText.String(), "\n")
	} else {
		system += "\n\nNo file excerpts fit in the context window."
	}

	messages := make([]llm.Message, 0, len(turns)+2)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: system})
	for _, t := range turns {
		role := llm.RoleUser
		if t.Role == session.RoleAssistant {
			role = llm.RoleAssistant
		}
		messages = append(messages, llm.Message{Role: role, Content: t.Text})
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: question})
	return messages
}

// formatHit renders one hit as a numbered block.
func formatHit(n int, h Hit) string {
	rec := h.Record
	var b strings.Builder
	fmt.Fprintf(&b, "[%d] File: %s (score %.2f)\n", n, rec.Path, h.Score)
	if rec.Section != "" {
		fmt.Fprintf(&b, "Section: %s\n", rec.Section)
	}
	for _, a := range attrLabels {
		if v := rec.Attributes[a.key]; v != "" {
			fmt.Fprintf(&b, "%s: %s\n", a.label, v)
		}
	}
	if dim := dimensions(rec.Attributes); dim != "" {
		fmt.Fprintf(&b, "Dimensions: %s\n", dim)
	}
	if content := collapse(rec.Snippet); content != "" {
		fmt.Fprintf(&b, "Content: %s\n", content)
	}
	return b.String()
}

func dimensions(attrs map[string]string) string {
	w, h := attrs["width"], attrs["height"]
	if w == "" || h == "" {
		return ""
	}
	return w + "x" + h
}

// collapse joins s onto one line.
func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

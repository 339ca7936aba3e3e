package query

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/searchme/internal/llm"
	"github.com/Aman-CERP/searchme/internal/session"
	"github.com/Aman-CERP/searchme/internal/store"
)

func hit(path, snippet string, score float32) Hit {
	return Hit{Record: &store.Record{Path: path, Snippet: snippet}, Score: score}
}

func TestBuildContext_Layout(t *testing.T) {
	// Given: two hits and one previous exchange
	hits := []Hit{
		{Record: &store.Record{
			Path:       "/music/song.mp3",
			Snippet:    "Audio song.mp3\nTitle: Blue",
			Attributes: map[string]string{"title": "Blue", "artist": "Joni"},
		}, Score: 0.9},
		{Record: &store.Record{
			Path:       "/pics/cat.png",
			Snippet:    "Image cat.png",
			Attributes: map[string]string{"width": "640", "height": "480"},
		}, Score: 0.5},
	}
	history := []session.Turn{
		{Role: session.RoleUser, Text: "do I have any Joni songs?"},
		{Role: session.RoleAssistant, Text: "Yes, one."},
	}

	// When: building the messages
	msgs := BuildContext("which album?", hits, history, 4000)

	// Then: system context, history in order, then the question
	require.Len(t, msgs, 4)
	assert.Equal(t, llm.RoleSystem, msgs[0].Role)
	sys := msgs[0].Content
	assert.Contains(t, sys, "[1] File: /music/song.mp3 (score 0.90)")
	assert.Contains(t, sys, "Artist: Joni")
	assert.Contains(t, sys, "Content: Audio song.mp3 Title: Blue")
	assert.Contains(t, sys, "[2] File: /pics/cat.png")
	assert.Contains(t, sys, "Dimensions: 640x480")
	assert.Less(t, strings.Index(sys, "[1]"), strings.Index(sys, "[2]"))

	assert.Equal(t, llm.Message{Role: llm.RoleUser, Content: "do I have any Joni songs?"}, msgs[1])
	assert.Equal(t, llm.Message{Role: llm.RoleAssistant, Content: "Yes, one."}, msgs[2])
	assert.Equal(t, llm.Message{Role: llm.RoleUser, Content: "which album?"}, msgs[3])
}

func TestBuildContext_BudgetPrefersHigherScores(t *testing.T) {
	// Given: three hits of 400 characters each and room for about two
	long := strings.Repeat("x", 400)
	hits := []Hit{
		hit("/a.txt", long, 0.9),
		hit("/b.txt", long, 0.8),
		hit("/c.txt", long, 0.7),
	}

	// When: building with a 1000 character budget
	msgs := BuildContext("q", hits, nil, 1000)

	// Then: the best two are included and the third is cut or dropped
	sys := msgs[0].Content
	assert.Contains(t, sys, "/a.txt")
	assert.Contains(t, sys, "/b.txt")
	assert.NotContains(t, sys, "/c.txt")
}

func TestBuildContext_TruncatesLastHit(t *testing.T) {
	hits := []Hit{
		hit("/a.txt", strings.Repeat("a", 300), 0.9),
		hit("/b.txt", strings.Repeat("b", 2000), 0.8),
	}

	msgs := BuildContext("q", hits, nil, 1000)

	sys := msgs[0].Content
	assert.Contains(t, sys, "/b.txt")
	assert.Less(t, strings.Count(sys, "b"), 1000)
}

func TestBuildContext_HistoryKeepsMostRecent(t *testing.T) {
	// Given: more history than a quarter of the budget
	var history []session.Turn
	for i := 0; i < 10; i++ {
		history = append(history, session.Turn{Role: session.RoleUser, Text: fmt.Sprintf("turn-%d %s", i, strings.Repeat("y", 40))})
	}

	// When: building with a 400 character budget (100 for history)
	msgs := BuildContext("q", nil, history, 400)

	// Then: only the latest turns that fit are sent, oldest first
	require.Len(t, msgs, 4)
	assert.True(t, strings.HasPrefix(msgs[1].Content, "turn-8"))
	assert.True(t, strings.HasPrefix(msgs[2].Content, "turn-9"))
	assert.Equal(t, "q", msgs[3].Content)
}

func TestBuildContext_QuestionAlwaysSent(t *testing.T) {
	question := strings.Repeat("why ", 500)

	msgs := BuildContext(question, []Hit{hit("/a.txt", "text", 1)}, nil, 10)

	require.Len(t, msgs, 2)
	assert.Equal(t, question, msgs[1].Content)
	assert.Contains(t, msgs[0].Content, "No file excerpts")
}

func TestTruncateRunes(t *testing.T) {
	assert.Equal(t, "héll", truncateRunes("héllo", 4))
	assert.Equal(t, "héllo", truncateRunes("héllo", 10))
	assert.Equal(t, "", truncateRunes("héllo", 0))
}

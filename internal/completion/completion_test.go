package completion

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"canvas/api/internal/workspace"
)

func TestClientForwardsKeyAndPayload(t *testing.T) {
	var (
		gotKey  string
		gotBody Request
	)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-Api-Key")
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text":"hello"}`))
	}))
	defer ts.Close()

	client := New(ts.URL, 5*time.Second)
	req, err := NewRequest(ActionChat, ChatPayload{NewMessage: "hi", Context: "ctx"})
	require.NoError(t, err)

	raw, err := client.Do(context.Background(), "sk-secret", req)
	require.NoError(t, err)

	var resp TextResponse
	require.NoError(t, json.Unmarshal(raw, &resp))
	assert.Equal(t, "hello", resp.Text)
	assert.Equal(t, "sk-secret", gotKey)
	assert.Equal(t, ActionChat, gotBody.Action)
	assert.JSONEq(t, `{"history":null,"newMessage":"hi","context":"ctx"}`, string(gotBody.Payload))
}

func TestClientOmitsEmptyKey(t *testing.T) {
	seen := true
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, seen = r.Header["X-Api-Key"]
		_, _ = w.Write([]byte(`{}`))
	}))
	defer ts.Close()

	_, err := New(ts.URL, time.Second).Do(context.Background(), "", Request{Action: ActionAnalyzeText})
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestClientUpstreamFailures(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"model overloaded"}`))
	}))
	defer ts.Close()

	_, err := New(ts.URL, time.Second).Do(context.Background(), "", Request{Action: ActionChat})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUpstream))
	var upstream *UpstreamError
	require.True(t, errors.As(err, &upstream))
	assert.Equal(t, 500, upstream.Status)
	assert.Equal(t, "model overloaded", upstream.Message)

	ts.Close()
	_, err = New(ts.URL, time.Second).Do(context.Background(), "", Request{Action: ActionChat})
	assert.ErrorIs(t, err, ErrUpstream)
}

func TestClientRejectsUnknownAction(t *testing.T) {
	_, err := New("http://127.0.0.1:1", time.Second).Do(context.Background(), "", Request{Action: "generateImage"})
	assert.ErrorIs(t, err, ErrUnknownAction)
}

func TestBuildChatContext(t *testing.T) {
	blocks := []workspace.Block{
		workspace.NewTextBlock("1", "Ideas", "ship it"),
		workspace.NewDatasetBlock("2", "Sales", "s.csv", 3, nil, "monthly sales"),
		workspace.NewImageBlock("3", "Logo", "https://example.com/l.png", "image/png"),
	}
	assert.Equal(t, "Note (Ideas): ship it\nDataset (Sales): monthly sales\nImage (Logo)", BuildChatContext(blocks))
}

func TestFlashcardContextKeepsLastFiveTurns(t *testing.T) {
	now := time.UnixMilli(0)
	var history []workspace.Message
	for i := 0; i < 7; i++ {
		role := workspace.RoleUser
		if i%2 == 1 {
			role = workspace.RoleModel
		}
		history = append(history, workspace.NewMessage(string(rune('a'+i)), role, string(rune('A'+i)), now))
	}
	got := FlashcardContext([]workspace.Block{workspace.NewTextBlock("1", "T", "body")}, history)
	assert.Equal(t, "Note (T): body\n\nUser: C\n\nAI: D\n\nUser: E\n\nAI: F\n\nUser: G", got)
	assert.Contains(t, FlashcardPrompt(got), "Content to analyze:\n"+got)
}

func TestParseFlashcards(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	text := "---\nFront: What is Go?\nBack: A language\n---\nfront: Who made it?\nback: Google\n---\nnoise\n---"

	cards := ParseFlashcards(text, now)
	require.Len(t, cards, 2)
	assert.Equal(t, workspace.Flashcard{ID: "1700000000000-0", Front: "What is Go?", Back: "A language"}, cards[0])
	assert.Equal(t, "Who made it?", cards[1].Front)
	assert.Equal(t, "Google", cards[1].Back)
}

func TestParseFlashcardsFallback(t *testing.T) {
	now := time.UnixMilli(42)

	cards := ParseFlashcards("just prose", now)
	require.Len(t, cards, 1)
	assert.Equal(t, workspace.Flashcard{ID: "42", Front: FallbackFront, Back: "just prose"}, cards[0])

	long := strings.Repeat("x", 250)
	cards = ParseFlashcards(long, now)
	require.Len(t, cards, 1)
	assert.Equal(t, strings.Repeat("x", 200)+"...", cards[0].Back)

	exact := strings.Repeat("y", 200)
	assert.Equal(t, exact, ParseFlashcards(exact, now)[0].Back)
}

func TestHistory(t *testing.T) {
	msgs := []workspace.Message{workspace.NewMessage("1", workspace.RoleUser, "hi", time.UnixMilli(0))}
	assert.Equal(t, []HistoryEntry{{Role: workspace.RoleUser, Content: "hi"}}, History(msgs))
}

package completion

import "canvas/api/internal/workspace"

// HistoryEntry is one prior chat turn sent with a chat request.
type HistoryEntry struct {
	Role    workspace.Role `json:"role"`
	Content string         `json:"content"`
}

type ChatPayload struct {
	History    []HistoryEntry `json:"history"`
	NewMessage string         `json:"newMessage"`
	Context    string         `json:"context"`
}

type AnalyzeTextPayload struct {
	Text string `json:"text"`
}

type AnalyzeImagePayload struct {
	Base64Data string `json:"base64Data"`
	MimeType   string `json:"mimeType"`
	Prompt     string `json:"prompt"`
}

type ChartPayload struct {
	DatasetDescription string `json:"datasetDescription"`
}

// TextResponse is returned by the chat and analyzeImage actions.
type TextResponse struct {
	Text string `json:"text"`
}

// History converts chat messages to request history.
func History(messages []workspace.Message) []HistoryEntry {
	out := make([]HistoryEntry, 0, len(messages))
	for _, m := range messages {
		out = append(out, HistoryEntry{Role: m.Role, Content: m.Content})
	}
	return out
}

// Package workspace defines the per-user document: content blocks, chat
// history and the artifacts derived from them.
package workspace

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultIcon   = "layers"
	GreetingText  = "New workspace ready. Add notes or ask anything."
	greetingIDTag = "-greet"
)

type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

func (r *Role) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	switch Role(s) {
	case RoleUser, RoleModel:
		*r = Role(s)
		return nil
	}
	return fmt.Errorf("unknown role %q", s)
}

type Message struct {
	ID        string `json:"id"`
	Role      Role   `json:"role"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

// NewMessage stamps a message with now in Unix milliseconds.
func NewMessage(id string, role Role, content string, now time.Time) Message {
	return Message{ID: id, Role: role, Content: content, Timestamp: now.UnixMilli()}
}

type Flashcard struct {
	ID    string `json:"id"`
	Front string `json:"front"`
	Back  string `json:"back"`
}

type Breakdown struct {
	Summary     string   `json:"summary"`
	KeyPoints   []string `json:"keyPoints"`
	ActionItems []string `json:"actionItems"`
	Tags        []string `json:"tags"`
}

type ChartConfig struct {
	Type     string           `json:"type"`
	Title    string           `json:"title"`
	Data     []map[string]any `json:"data"`
	XAxisKey string           `json:"xAxisKey"`
	DataKey  string           `json:"dataKey"`
}

type Workspace struct {
	ID             string        `json:"id"`
	UserID         string        `json:"userId"`
	Name           string        `json:"name"`
	Icon           string        `json:"icon"`
	LastActive     time.Time     `json:"lastActive"`
	Blocks         []Block       `json:"blocks"`
	ChatHistory    []Message     `json:"chatHistory"`
	Breakdown      *Breakdown    `json:"breakdown"`
	Visualizations []ChartConfig `json:"visualizations"`
	Flashcards     []Flashcard   `json:"flashcards"`
	CreatedAt      time.Time     `json:"createdAt"`
}

// Document is the part of a workspace persisted as one JSON value.
type Document struct {
	Blocks         []Block       `json:"blocks"`
	ChatHistory    []Message     `json:"chatHistory"`
	Breakdown      *Breakdown    `json:"breakdown"`
	Visualizations []ChartConfig `json:"visualizations"`
	Flashcards     []Flashcard   `json:"flashcards"`
}

// New builds a fresh workspace seeded with the greeting message. The caller
// assigns the id.
func New(id, userID, name, icon string, now time.Time) Workspace {
	icon = strings.TrimSpace(icon)
	if icon == "" {
		icon = DefaultIcon
	}
	return Workspace{
		ID:         id,
		UserID:     userID,
		Name:       strings.TrimSpace(name),
		Icon:       icon,
		LastActive: now,
		Blocks:     []Block{},
		ChatHistory: []Message{
			{
				ID:        strconv.FormatInt(now.UnixMilli(), 10) + greetingIDTag,
				Role:      RoleModel,
				Content:   GreetingText,
				Timestamp: now.UnixMilli(),
			},
		},
		Visualizations: []ChartConfig{},
		Flashcards:     []Flashcard{},
		CreatedAt:      now,
	}
}

func (w Workspace) Document() Document {
	return Document{
		Blocks:         w.Blocks,
		ChatHistory:    w.ChatHistory,
		Breakdown:      w.Breakdown,
		Visualizations: w.Visualizations,
		Flashcards:     w.Flashcards,
	}.normalized()
}

// SetDocument replaces the document fields of w.
func (w *Workspace) SetDocument(doc Document) {
	doc = doc.normalized()
	w.Blocks = doc.Blocks
	w.ChatHistory = doc.ChatHistory
	w.Breakdown = doc.Breakdown
	w.Visualizations = doc.Visualizations
	w.Flashcards = doc.Flashcards
}

// Block returns the block with id and its index, or -1.
func (w Workspace) Block(id string) (Block, int) {
	for i, b := range w.Blocks {
		if b.ID == id {
			return b, i
		}
	}
	return Block{}, -1
}

// Clone returns a copy whose slices can be mutated independently.
func (w Workspace) Clone() Workspace {
	out := w
	out.Blocks = append([]Block(nil), w.Blocks...)
	out.ChatHistory = append([]Message(nil), w.ChatHistory...)
	out.Visualizations = append([]ChartConfig(nil), w.Visualizations...)
	out.Flashcards = append([]Flashcard(nil), w.Flashcards...)
	if w.Breakdown != nil {
		b := *w.Breakdown
		out.Breakdown = &b
	}
	out.SetDocument(out.Document())
	return out
}

func (d Document) normalized() Document {
	if d.Blocks == nil {
		d.Blocks = []Block{}
	}
	if d.ChatHistory == nil {
		d.ChatHistory = []Message{}
	}
	if d.Visualizations == nil {
		d.Visualizations = []ChartConfig{}
	}
	if d.Flashcards == nil {
		d.Flashcards = []Flashcard{}
	}
	return d
}

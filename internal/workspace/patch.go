package workspace

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Patch is a sparse update. Nil fields are left untouched. Breakdown is
// tri-state: absent, explicit null (clear), or a value.
type Patch struct {
	Name           *string
	Icon           *string
	Blocks         *[]Block
	ChatHistory    *[]Message
	Visualizations *[]ChartConfig
	Flashcards     *[]Flashcard

	breakdownSet bool
	breakdown    *Breakdown
}

// SetBreakdown marks the breakdown as supplied. A nil value clears it.
func (p *Patch) SetBreakdown(b *Breakdown) {
	p.breakdownSet = true
	p.breakdown = b
}

// Breakdown reports the supplied breakdown and whether one was supplied.
func (p Patch) Breakdown() (*Breakdown, bool) {
	return p.breakdown, p.breakdownSet
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.Name == nil && p.Icon == nil && p.Blocks == nil && p.ChatHistory == nil &&
		p.Visualizations == nil && p.Flashcards == nil && !p.breakdownSet
}

// TouchesDocument reports whether any JSON document field is supplied.
func (p Patch) TouchesDocument() bool {
	return p.Blocks != nil || p.ChatHistory != nil || p.Visualizations != nil ||
		p.Flashcards != nil || p.breakdownSet
}

func (p Patch) Validate() error {
	if p.Name != nil && strings.TrimSpace(*p.Name) == "" {
		return fmt.Errorf("name must not be empty")
	}
	return nil
}

// Apply overwrites the supplied fields of ws and refreshes LastActive.
func (p Patch) Apply(ws Workspace, now time.Time) Workspace {
	out := ws.Clone()
	if p.Name != nil {
		out.Name = strings.TrimSpace(*p.Name)
	}
	if p.Icon != nil {
		out.Icon = strings.TrimSpace(*p.Icon)
	}
	if p.Blocks != nil {
		out.Blocks = append([]Block{}, (*p.Blocks)...)
	}
	if p.ChatHistory != nil {
		out.ChatHistory = append([]Message{}, (*p.ChatHistory)...)
	}
	if p.Visualizations != nil {
		out.Visualizations = append([]ChartConfig{}, (*p.Visualizations)...)
	}
	if p.Flashcards != nil {
		out.Flashcards = append([]Flashcard{}, (*p.Flashcards)...)
	}
	if p.breakdownSet {
		out.Breakdown = p.breakdown
	}
	out.LastActive = now
	return out
}

// DocumentJSON renders only the supplied document fields, suitable for a
// JSONB merge.
func (p Patch) DocumentJSON() ([]byte, error) {
	fields := map[string]any{}
	if p.Blocks != nil {
		fields["blocks"] = nonNil(*p.Blocks)
	}
	if p.ChatHistory != nil {
		fields["chatHistory"] = nonNil(*p.ChatHistory)
	}
	if p.Visualizations != nil {
		fields["visualizations"] = nonNil(*p.Visualizations)
	}
	if p.Flashcards != nil {
		fields["flashcards"] = nonNil(*p.Flashcards)
	}
	if p.breakdownSet {
		fields["breakdown"] = p.breakdown
	}
	return json.Marshal(fields)
}

func (p Patch) MarshalJSON() ([]byte, error) {
	fields := map[string]any{}
	if p.Name != nil {
		fields["name"] = *p.Name
	}
	if p.Icon != nil {
		fields["icon"] = *p.Icon
	}
	doc, err := p.DocumentJSON()
	if err != nil {
		return nil, err
	}
	var docFields map[string]json.RawMessage
	if err := json.Unmarshal(doc, &docFields); err != nil {
		return nil, err
	}
	for k, v := range docFields {
		fields[k] = v
	}
	return json.Marshal(fields)
}

func (p *Patch) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var out Patch
	decode := func(key string, target any) error {
		if err := json.Unmarshal(raw[key], target); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		return nil
	}
	for key, value := range raw {
		isNull := bytes.Equal(bytes.TrimSpace(value), []byte("null"))
		switch key {
		case "name":
			if isNull {
				continue
			}
			var s string
			if err := decode(key, &s); err != nil {
				return err
			}
			out.Name = &s
		case "icon":
			if isNull {
				continue
			}
			var s string
			if err := decode(key, &s); err != nil {
				return err
			}
			out.Icon = &s
		case "blocks":
			if isNull {
				continue
			}
			var v []Block
			if err := decode(key, &v); err != nil {
				return err
			}
			out.Blocks = &v
		case "chatHistory":
			if isNull {
				continue
			}
			var v []Message
			if err := decode(key, &v); err != nil {
				return err
			}
			out.ChatHistory = &v
		case "visualizations":
			if isNull {
				continue
			}
			var v []ChartConfig
			if err := decode(key, &v); err != nil {
				return err
			}
			out.Visualizations = &v
		case "flashcards":
			if isNull {
				continue
			}
			var v []Flashcard
			if err := decode(key, &v); err != nil {
				return err
			}
			out.Flashcards = &v
		case "breakdown":
			if isNull {
				out.SetBreakdown(nil)
				continue
			}
			var v Breakdown
			if err := decode(key, &v); err != nil {
				return err
			}
			out.SetBreakdown(&v)
		}
	}
	*p = out
	return nil
}

// FullPatch captures every mutable field of ws, as sent by an auto-save.
func FullPatch(ws Workspace) Patch {
	doc := ws.Document()
	p := Patch{
		Name:           &ws.Name,
		Icon:           &ws.Icon,
		Blocks:         &doc.Blocks,
		ChatHistory:    &doc.ChatHistory,
		Visualizations: &doc.Visualizations,
		Flashcards:     &doc.Flashcards,
	}
	p.SetBreakdown(doc.Breakdown)
	return p
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

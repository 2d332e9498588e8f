package workspace

import (
	"encoding/json"
	"fmt"
)

type Kind string

const (
	KindText    Kind = "text"
	KindImage   Kind = "image"
	KindDataset Kind = "dataset"
)

// Content is the variant payload of a Block. Exactly one of Text, Image or
// Dataset.
type Content interface {
	Kind() Kind
	isContent()
}

type Text struct {
	Content string `json:"content"`
}

type Image struct {
	Src      string `json:"src"`
	MimeType string `json:"mimeType"`
	Analysis string `json:"analysis,omitempty"`
}

type Dataset struct {
	FileName    string   `json:"fileName"`
	RowCount    int      `json:"rowCount"`
	Columns     []string `json:"columns"`
	Description string   `json:"description"`
}

func (Text) Kind() Kind    { return KindText }
func (Image) Kind() Kind   { return KindImage }
func (Dataset) Kind() Kind { return KindDataset }

func (Text) isContent()    {}
func (Image) isContent()   {}
func (Dataset) isContent() {}

// Block is one unit of user content inside a workspace. On the wire it is a
// flat object discriminated by "type".
type Block struct {
	ID      string
	Title   string
	Content Content
}

func NewTextBlock(id, title, content string) Block {
	return Block{ID: id, Title: title, Content: Text{Content: content}}
}

func NewImageBlock(id, title, src, mimeType string) Block {
	return Block{ID: id, Title: title, Content: Image{Src: src, MimeType: mimeType}}
}

func NewDatasetBlock(id, title, fileName string, rowCount int, columns []string, description string) Block {
	return Block{ID: id, Title: title, Content: Dataset{
		FileName:    fileName,
		RowCount:    rowCount,
		Columns:     columns,
		Description: description,
	}}
}

// Kind returns the variant tag, or "" for a block without content.
func (b Block) Kind() Kind {
	if b.Content == nil {
		return ""
	}
	return b.Content.Kind()
}

type blockHeader struct {
	ID    string `json:"id"`
	Type  Kind   `json:"type"`
	Title string `json:"title"`
}

func (b Block) MarshalJSON() ([]byte, error) {
	header := blockHeader{ID: b.ID, Type: b.Kind(), Title: b.Title}
	switch c := b.Content.(type) {
	case Text:
		return json.Marshal(struct {
			blockHeader
			Text
		}{header, c})
	case Image:
		return json.Marshal(struct {
			blockHeader
			Image
		}{header, c})
	case Dataset:
		if c.Columns == nil {
			c.Columns = []string{}
		}
		return json.Marshal(struct {
			blockHeader
			Dataset
		}{header, c})
	default:
		return nil, fmt.Errorf("block %q: missing content", b.ID)
	}
}

func (b *Block) UnmarshalJSON(data []byte) error {
	var header blockHeader
	if err := json.Unmarshal(data, &header); err != nil {
		return err
	}
	if header.ID == "" {
		return fmt.Errorf("block: id is required")
	}
	var content Content
	switch header.Type {
	case KindText:
		var c Text
		if err := json.Unmarshal(data, &c); err != nil {
			return fmt.Errorf("text block %q: %w", header.ID, err)
		}
		content = c
	case KindImage:
		var c Image
		if err := json.Unmarshal(data, &c); err != nil {
			return fmt.Errorf("image block %q: %w", header.ID, err)
		}
		content = c
	case KindDataset:
		var c Dataset
		if err := json.Unmarshal(data, &c); err != nil {
			return fmt.Errorf("dataset block %q: %w", header.ID, err)
		}
		content = c
	default:
		return fmt.Errorf("block %q: unknown type %q", header.ID, header.Type)
	}
	*b = Block{ID: header.ID, Title: header.Title, Content: content}
	return nil
}

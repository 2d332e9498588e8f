package shell

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"canvas/api/internal/client"
	"canvas/api/internal/completion"
	"canvas/api/internal/workspace"
)

const (
	DefaultWorkspaceName = "My Workspace"
	emptyReply           = "I couldn't generate a response."
	imagePrompt          = "Describe this image."
	genericDataset       = "Generic dataset"
)

var (
	ErrLastWorkspace  = errors.New("keep at least one workspace")
	ErrNoActive       = errors.New("no active workspace")
	ErrUnknown        = errors.New("workspace not found")
	ErrBlockNotFound  = errors.New("block not found")
	ErrWrongBlockKind = errors.New("block has the wrong type")
	ErrMessageMissing = errors.New("message not found")
	ErrBlankName      = errors.New("name must not be empty")
	ErrImageData      = errors.New("image data unavailable")
)

// API is the remote side of the controller.
type API interface {
	ListWorkspaces(ctx context.Context) ([]workspace.Workspace, error)
	CreateWorkspace(ctx context.Context, name, icon string) (workspace.Workspace, error)
	UpdateWorkspace(ctx context.Context, id string, patch workspace.Patch) (workspace.Workspace, error)
	DeleteWorkspace(ctx context.Context, id string) error
	Complete(ctx context.Context, action completion.Action, payload, out any) error
}

// ImageSource loads the bytes behind an image block src that is not a data
// URL, such as an uploaded /media path.
type ImageSource interface {
	FetchImage(ctx context.Context, src string) ([]byte, string, error)
}

type ControllerOptions struct {
	Saver  SaverOptions
	Images ImageSource
	Clock  clockwork.Clock
	Logger zerolog.Logger
}

// Controller owns the signed-in user's workspaces. Every mutation updates
// memory first and then queues a full auto-save of the workspace.
type Controller struct {
	api    API
	saver  *Saver
	images ImageSource
	clock  clockwork.Clock
	log    zerolog.Logger
	seq    atomic.Uint64

	mu         sync.Mutex
	workspaces []workspace.Workspace
	activeID   string
}

func NewController(api API, opts ControllerOptions) *Controller {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Saver.Clock == nil {
		opts.Saver.Clock = opts.Clock
	}
	c := &Controller{api: api, images: opts.Images, clock: opts.Clock, log: opts.Logger}
	opts.Saver.Logger = opts.Logger
	c.saver = NewSaver(func(ctx context.Context, id string, patch workspace.Patch) error {
		_, err := api.UpdateWorkspace(ctx, id, patch)
		return err
	}, opts.Saver)
	return c
}

// Mount loads the workspace list, creating the default workspace for a new
// account, and activates the first one.
func (c *Controller) Mount(ctx context.Context) error {
	items, err := c.api.ListWorkspaces(ctx)
	if err != nil {
		return fmt.Errorf("list workspaces: %w", err)
	}
	if len(items) == 0 {
		ws, err := c.api.CreateWorkspace(ctx, DefaultWorkspaceName, workspace.DefaultIcon)
		if err != nil {
			return fmt.Errorf("create default workspace: %w", err)
		}
		items = []workspace.Workspace{ws}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.workspaces = items
	c.activeID = items[0].ID
	return nil
}

// Close writes every pending auto-save.
func (c *Controller) Close(ctx context.Context) error {
	return c.saver.FlushAll(ctx)
}

func (c *Controller) Workspaces() []workspace.Workspace {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]workspace.Workspace, len(c.workspaces))
	for i, ws := range c.workspaces {
		out[i] = ws.Clone()
	}
	return out
}

func (c *Controller) Active() (workspace.Workspace, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx := c.indexLocked(c.activeID)
	if idx < 0 {
		return workspace.Workspace{}, false
	}
	return c.workspaces[idx].Clone(), true
}

// Saving reports whether an auto-save for id has not been written yet.
func (c *Controller) Saving(id string) bool {
	return c.saver.Pending(id)
}

// Switch makes id active after flushing the outgoing workspace.
func (c *Controller) Switch(ctx context.Context, id string) error {
	c.mu.Lock()
	if c.indexLocked(id) < 0 {
		c.mu.Unlock()
		return ErrUnknown
	}
	outgoing := c.activeID
	c.mu.Unlock()

	if outgoing != "" && outgoing != id {
		if err := c.saver.Flush(ctx, outgoing); err != nil {
			c.log.Warn().Err(err).Str("workspace_id", outgoing).Msg("flush before switch failed")
		}
	}

	c.mu.Lock()
	c.activeID = id
	c.mu.Unlock()
	return nil
}

// CreateWorkspace adds a workspace on the server and activates it.
func (c *Controller) CreateWorkspace(ctx context.Context, name, icon string) (workspace.Workspace, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return workspace.Workspace{}, ErrBlankName
	}
	ws, err := c.api.CreateWorkspace(ctx, name, icon)
	if err != nil {
		return workspace.Workspace{}, err
	}
	c.mu.Lock()
	outgoing := c.activeID
	c.workspaces = append(c.workspaces, ws)
	c.activeID = ws.ID
	c.mu.Unlock()
	if outgoing != "" {
		if err := c.saver.Flush(ctx, outgoing); err != nil {
			c.log.Warn().Err(err).Str("workspace_id", outgoing).Msg("flush before switch failed")
		}
	}
	return ws.Clone(), nil
}

// Delete removes id. The last remaining workspace cannot be deleted.
func (c *Controller) Delete(ctx context.Context, id string) error {
	c.mu.Lock()
	if c.indexLocked(id) < 0 {
		c.mu.Unlock()
		return ErrUnknown
	}
	if len(c.workspaces) <= 1 {
		c.mu.Unlock()
		return ErrLastWorkspace
	}
	c.mu.Unlock()

	pending := c.saver.Pending(id)
	c.saver.Cancel(id)
	if err := c.api.DeleteWorkspace(ctx, id); err != nil {
		if pending {
			c.requeue(id)
		}
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if idx := c.indexLocked(id); idx >= 0 {
		c.workspaces = append(c.workspaces[:idx], c.workspaces[idx+1:]...)
	}
	if c.activeID == id {
		c.activeID = ""
		if len(c.workspaces) > 0 {
			c.activeID = c.workspaces[0].ID
		}
	}
	return nil
}

// requeue schedules the in-memory state of id after a failed delete.
func (c *Controller) requeue(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if idx := c.indexLocked(id); idx >= 0 {
		c.saver.Schedule(id, workspace.FullPatch(c.workspaces[idx].Clone()))
	}
}

// Rename changes the name of any workspace.
func (c *Controller) Rename(id, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrBlankName
	}
	return c.mutate(id, func(ws *workspace.Workspace) error {
		ws.Name = name
		return nil
	})
}

// DefaultBlock returns the placeholder content for a new block of kind.
func (c *Controller) DefaultBlock(kind workspace.Kind) (workspace.Block, error) {
	id := c.newID()
	switch kind {
	case workspace.KindText:
		return workspace.NewTextBlock(id, "New Note", ""), nil
	case workspace.KindImage:
		return workspace.NewImageBlock(id, "New Image", "https://picsum.photos/400/300", "image/jpeg"), nil
	case workspace.KindDataset:
		return workspace.NewDatasetBlock(id, "New Dataset", "data.csv", 150,
			[]string{"Date", "Sales", "Region"}, "Monthly sales data for North America region"), nil
	}
	return workspace.Block{}, fmt.Errorf("unknown block type %q", kind)
}

// AddBlock appends b to the active workspace, assigning an id when empty.
func (c *Controller) AddBlock(b workspace.Block) (workspace.Block, error) {
	if b.ID == "" {
		b.ID = c.newID()
	}
	err := c.mutateActive(func(ws *workspace.Workspace) error {
		ws.Blocks = append(ws.Blocks, b)
		return nil
	})
	return b, err
}

// UpdateBlock replaces the block with the same id.
func (c *Controller) UpdateBlock(b workspace.Block) error {
	return c.mutateActive(func(ws *workspace.Workspace) error {
		_, idx := ws.Block(b.ID)
		if idx < 0 {
			return ErrBlockNotFound
		}
		ws.Blocks[idx] = b
		return nil
	})
}

func (c *Controller) RemoveBlock(id string) error {
	return c.mutateActive(func(ws *workspace.Workspace) error {
		_, idx := ws.Block(id)
		if idx < 0 {
			return ErrBlockNotFound
		}
		ws.Blocks = append(ws.Blocks[:idx], ws.Blocks[idx+1:]...)
		return nil
	})
}

func (c *Controller) AppendMessage(role workspace.Role, content string) (workspace.Message, error) {
	msg := workspace.NewMessage(c.newID(), role, content, c.clock.Now())
	err := c.mutateActive(func(ws *workspace.Workspace) error {
		ws.ChatHistory = append(ws.ChatHistory, msg)
		return nil
	})
	return msg, err
}

// SetBreakdown replaces the breakdown. Nil clears it.
func (c *Controller) SetBreakdown(b *workspace.Breakdown) error {
	return c.mutateActive(func(ws *workspace.Workspace) error {
		ws.Breakdown = b
		return nil
	})
}

// AddVisualization puts v in front of the existing visualizations.
func (c *Controller) AddVisualization(v workspace.ChartConfig) error {
	return c.mutateActive(func(ws *workspace.Workspace) error {
		ws.Visualizations = append([]workspace.ChartConfig{v}, ws.Visualizations...)
		return nil
	})
}

func (c *Controller) SetFlashcards(cards []workspace.Flashcard) error {
	return c.mutateActive(func(ws *workspace.Workspace) error {
		ws.Flashcards = append([]workspace.Flashcard{}, cards...)
		return nil
	})
}

func (c *Controller) RemoveFlashcard(id string) error {
	return c.mutateActive(func(ws *workspace.Workspace) error {
		kept := ws.Flashcards[:0]
		for _, f := range ws.Flashcards {
			if f.ID != id {
				kept = append(kept, f)
			}
		}
		ws.Flashcards = kept
		return nil
	})
}

// PinMessage copies a chat message into a new text note.
func (c *Controller) PinMessage(messageID string) (workspace.Block, error) {
	var note workspace.Block
	err := c.mutateActive(func(ws *workspace.Workspace) error {
		for _, m := range ws.ChatHistory {
			if m.ID == messageID {
				note = workspace.NewTextBlock(c.newID(), "Pinned message", m.Content)
				ws.Blocks = append(ws.Blocks, note)
				return nil
			}
		}
		return ErrMessageMissing
	})
	return note, err
}

// SaveLastReply copies the most recent model message into a new text note.
func (c *Controller) SaveLastReply() (workspace.Block, error) {
	var note workspace.Block
	err := c.mutateActive(func(ws *workspace.Workspace) error {
		for i := len(ws.ChatHistory) - 1; i >= 0; i-- {
			if m := ws.ChatHistory[i]; m.Role == workspace.RoleModel {
				note = workspace.NewTextBlock(c.newID(), "AI Note", m.Content)
				ws.Blocks = append(ws.Blocks, note)
				return nil
			}
		}
		return ErrMessageMissing
	})
	return note, err
}

// Chat sends text with the chat history and block context. The reply, or an
// error message when the request fails, is appended as a model message.
func (c *Controller) Chat(ctx context.Context, text string) (workspace.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return workspace.Message{}, nil
	}

	var (
		id      string
		payload completion.ChatPayload
	)
	userMsg := workspace.NewMessage(c.newID(), workspace.RoleUser, text, c.clock.Now())
	err := c.mutateActive(func(ws *workspace.Workspace) error {
		id = ws.ID
		payload = completion.ChatPayload{
			History:    completion.History(ws.ChatHistory),
			NewMessage: text,
			Context:    completion.BuildChatContext(ws.Blocks),
		}
		ws.ChatHistory = append(ws.ChatHistory, userMsg)
		return nil
	})
	if err != nil {
		return workspace.Message{}, err
	}

	var resp completion.TextResponse
	callErr := c.api.Complete(ctx, completion.ActionChat, payload, &resp)
	content := resp.Text
	switch {
	case callErr != nil:
		content = "**Error:** " + errorText(callErr)
	case strings.TrimSpace(content) == "":
		content = emptyReply
	}

	reply := workspace.NewMessage(c.newID(), workspace.RoleModel, content, c.clock.Now())
	// the user may have switched away while waiting
	if err := c.mutate(id, func(ws *workspace.Workspace) error {
		ws.ChatHistory = append(ws.ChatHistory, reply)
		return nil
	}); err != nil {
		return workspace.Message{}, err
	}
	return reply, callErr
}

// AskNote asks about a text note using its first two lines.
func (c *Controller) AskNote(ctx context.Context, blockID string) (workspace.Message, error) {
	ws, ok := c.Active()
	if !ok {
		return workspace.Message{}, ErrNoActive
	}
	b, idx := ws.Block(blockID)
	if idx < 0 {
		return workspace.Message{}, ErrBlockNotFound
	}
	text, ok := b.Content.(workspace.Text)
	if !ok {
		return workspace.Message{}, ErrWrongBlockKind
	}
	var lines []string
	for _, l := range strings.Split(text.Content, "\n") {
		if l != "" {
			lines = append(lines, l)
		}
	}
	snippet := "(empty note)"
	if preview := strings.TrimSpace(strings.Join(lines[:min(2, len(lines))], " ")); preview != "" {
		snippet = preview + " ..."
	}
	return c.Chat(ctx, fmt.Sprintf("Question about note %q: %s", b.Title, snippet))
}

// AnalyzeText replaces the breakdown with the structure of a text note.
func (c *Controller) AnalyzeText(ctx context.Context, blockID string) (workspace.Breakdown, error) {
	id, b, err := c.activeBlock(blockID)
	if err != nil {
		return workspace.Breakdown{}, err
	}
	text, ok := b.Content.(workspace.Text)
	if !ok {
		return workspace.Breakdown{}, ErrWrongBlockKind
	}
	var out workspace.Breakdown
	if err := c.api.Complete(ctx, completion.ActionAnalyzeText, completion.AnalyzeTextPayload{Text: text.Content}, &out); err != nil {
		return workspace.Breakdown{}, err
	}
	err = c.mutate(id, func(ws *workspace.Workspace) error {
		bd := out
		ws.Breakdown = &bd
		return nil
	})
	return out, err
}

// RecommendChart asks for a chart for a dataset block and prepends it.
func (c *Controller) RecommendChart(ctx context.Context, blockID string) (workspace.ChartConfig, error) {
	id, b, err := c.activeBlock(blockID)
	if err != nil {
		return workspace.ChartConfig{}, err
	}
	ds, ok := b.Content.(workspace.Dataset)
	if !ok {
		return workspace.ChartConfig{}, ErrWrongBlockKind
	}
	desc := ds.Description
	if strings.TrimSpace(desc) == "" {
		desc = genericDataset
	}
	var out workspace.ChartConfig
	if err := c.api.Complete(ctx, completion.ActionChartRecommendation, completion.ChartPayload{DatasetDescription: desc}, &out); err != nil {
		return workspace.ChartConfig{}, err
	}
	err = c.mutate(id, func(ws *workspace.Workspace) error {
		ws.Visualizations = append([]workspace.ChartConfig{out}, ws.Visualizations...)
		return nil
	})
	return out, err
}

// AnalyzeImage describes an image block, keeps the description on the
// block and posts it to the chat.
func (c *Controller) AnalyzeImage(ctx context.Context, blockID string) (string, error) {
	id, b, err := c.activeBlock(blockID)
	if err != nil {
		return "", err
	}
	img, ok := b.Content.(workspace.Image)
	if !ok {
		return "", ErrWrongBlockKind
	}
	data, mimeType, err := c.imageData(ctx, img)
	if err != nil {
		return "", err
	}

	var resp completion.TextResponse
	payload := completion.AnalyzeImagePayload{Base64Data: data, MimeType: mimeType, Prompt: imagePrompt}
	if err := c.api.Complete(ctx, completion.ActionAnalyzeImage, payload, &resp); err != nil {
		return "", err
	}

	msg := workspace.NewMessage(c.newID(), workspace.RoleModel, "**Vision Analysis:** "+resp.Text, c.clock.Now())
	err = c.mutate(id, func(ws *workspace.Workspace) error {
		if current, idx := ws.Block(blockID); idx >= 0 {
			if ci, ok := current.Content.(workspace.Image); ok {
				ci.Analysis = resp.Text
				current.Content = ci
				ws.Blocks[idx] = current
			}
		}
		ws.ChatHistory = append(ws.ChatHistory, msg)
		return nil
	})
	return resp.Text, err
}

// GenerateFlashcards turns notes and recent chat into flashcards appended to
// the existing deck.
func (c *Controller) GenerateFlashcards(ctx context.Context) ([]workspace.Flashcard, error) {
	ws, ok := c.Active()
	if !ok {
		return nil, ErrNoActive
	}
	content := completion.FlashcardContext(ws.Blocks, ws.ChatHistory)
	payload := completion.ChatPayload{
		History:    []completion.HistoryEntry{},
		NewMessage: completion.FlashcardPrompt(content),
		Context:    content,
	}
	var resp completion.TextResponse
	if err := c.api.Complete(ctx, completion.ActionChat, payload, &resp); err != nil {
		return nil, err
	}
	cards := completion.ParseFlashcards(resp.Text, c.clock.Now())
	err := c.mutate(ws.ID, func(w *workspace.Workspace) error {
		w.Flashcards = append(w.Flashcards, cards...)
		return nil
	})
	return cards, err
}

func (c *Controller) imageData(ctx context.Context, img workspace.Image) (string, string, error) {
	if rest, ok := strings.CutPrefix(img.Src, "data:"); ok {
		header, data, found := strings.Cut(rest, ",")
		if !found {
			return "", "", ErrImageData
		}
		mimeType := img.MimeType
		if mt, _, _ := strings.Cut(header, ";"); mt != "" {
			mimeType = mt
		}
		return data, mimeType, nil
	}
	if c.images == nil {
		return "", "", ErrImageData
	}
	raw, mimeType, err := c.images.FetchImage(ctx, img.Src)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrImageData, err)
	}
	if mimeType == "" {
		mimeType = img.MimeType
	}
	return base64.StdEncoding.EncodeToString(raw), mimeType, nil
}

func (c *Controller) activeBlock(blockID string) (string, workspace.Block, error) {
	ws, ok := c.Active()
	if !ok {
		return "", workspace.Block{}, ErrNoActive
	}
	b, idx := ws.Block(blockID)
	if idx < 0 {
		return "", workspace.Block{}, ErrBlockNotFound
	}
	return ws.ID, b, nil
}

func (c *Controller) mutateActive(fn func(*workspace.Workspace) error) error {
	c.mu.Lock()
	id := c.activeID
	c.mu.Unlock()
	if id == "" {
		return ErrNoActive
	}
	return c.mutate(id, fn)
}

// mutate applies fn to a copy of workspace id and, when it succeeds,
// stores the copy and queues its auto-save.
func (c *Controller) mutate(id string, fn func(*workspace.Workspace) error) error {
	c.mu.Lock()
	idx := c.indexLocked(id)
	if idx < 0 {
		c.mu.Unlock()
		return ErrUnknown
	}
	next := c.workspaces[idx].Clone()
	if err := fn(&next); err != nil {
		c.mu.Unlock()
		return err
	}
	next.LastActive = c.clock.Now()
	c.workspaces[idx] = next
	patch := workspace.FullPatch(next.Clone())
	c.saver.Schedule(id, patch)
	c.mu.Unlock()
	return nil
}

func (c *Controller) indexLocked(id string) int {
	for i, ws := range c.workspaces {
		if ws.ID == id {
			return i
		}
	}
	return -1
}

func (c *Controller) newID() string {
	return strconv.FormatInt(c.clock.Now().UnixMilli(), 10) + "-" + strconv.FormatUint(c.seq.Add(1), 10)
}

func errorText(err error) string {
	var apiErr *client.APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return err.Error()
}

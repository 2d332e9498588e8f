package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"canvas/api/internal/shell"
	"canvas/api/internal/workspace"
)

const (
	anonymousHelp = "Commands: signin, signup, exit"
	sessionHelp   = `Commands:
  ls | use <n> | new <name> | rename <name> | rm <n>
  blocks | note <title> | dataset <title> | image <url> | edit <n> | del <n>
  chat <text> | ask <n> | analyze <n> | chart <n> | vision <n> | history | pin <n> | save
  cards | deck | uncard <n>
  profile [edit] | apikey [status|set|rm] | logout | exit`
)

// dispatch runs one command and reports whether the loop should stop.
func (a *App) dispatch(ctx context.Context, cmd, arg string) bool {
	switch cmd {
	case "exit", "quit":
		a.println("Bye!")
		return true
	case "help":
		if a.ctrl == nil {
			a.println(anonymousHelp)
		} else {
			a.println(sessionHelp)
		}
		return false
	}

	if a.ctrl == nil {
		switch cmd {
		case "signin", "login":
			a.signIn(ctx)
		case "signup", "register":
			a.signUp(ctx)
		default:
			a.println("Unknown command: " + cmd + ". Sign in first, or type 'help'.")
		}
		return false
	}

	var err error
	switch cmd {
	case "ls":
		a.listWorkspaces()
	case "use":
		err = a.use(ctx, arg)
	case "new":
		_, err = a.ctrl.CreateWorkspace(ctx, arg, "")
	case "rename":
		err = a.rename(arg)
	case "rm":
		err = a.remove(ctx, arg)
	case "blocks":
		a.listBlocks()
	case "note":
		err = a.addNote(arg)
	case "dataset":
		err = a.addDataset(arg)
	case "image":
		err = a.addImage(arg)
	case "edit":
		err = a.editBlock(arg)
	case "del":
		err = a.deleteBlock(arg)
	case "chat":
		err = a.chat(ctx, arg)
	case "ask":
		err = a.ask(ctx, arg)
	case "analyze":
		err = a.analyze(ctx, arg)
	case "chart":
		err = a.chart(ctx, arg)
	case "vision":
		err = a.vision(ctx, arg)
	case "cards":
		err = a.cards(ctx)
	case "deck":
		a.deck()
	case "uncard":
		err = a.uncard(arg)
	case "pin":
		err = a.pin(arg)
	case "save":
		err = a.saveReply()
	case "profile":
		err = a.profile(ctx, arg)
	case "apikey":
		err = a.apiKey(ctx, arg)
	case "history":
		a.history()
	case "logout":
		a.unmount(ctx)
		a.auth.Logout()
		a.println("Signed out.")
	default:
		a.println("Unknown command: " + cmd)
	}
	if err != nil {
		a.report(err)
	}
	return false
}

func (a *App) signIn(ctx context.Context) {
	a.auth.ShowSignIn()
	email, err := readLine(a.in, a.out, "Email")
	if err != nil {
		return
	}
	password, err := readSecret(a.in, a.out, "Password")
	if err != nil {
		return
	}
	if err := a.auth.SignIn(ctx, email, password); err != nil {
		a.report(err)
		return
	}
	a.afterAuth(ctx)
}

func (a *App) signUp(ctx context.Context) {
	a.auth.ShowSignUp()
	name, err := readLine(a.in, a.out, "Name")
	if err != nil {
		return
	}
	email, err := readLine(a.in, a.out, "Email")
	if err != nil {
		return
	}
	password, err := readSecret(a.in, a.out, "Password")
	if err != nil {
		return
	}
	if err := a.auth.SignUp(ctx, email, password, name); err != nil {
		a.report(err)
		return
	}
	a.afterAuth(ctx)
}

func (a *App) afterAuth(ctx context.Context) {
	a.println("Signed in as " + a.auth.User().Email)
	if err := a.mount(ctx); err != nil {
		a.report(err)
	}
}

func (a *App) listWorkspaces() {
	active, _ := a.ctrl.Active()
	for i, ws := range a.ctrl.Workspaces() {
		marker := " "
		if ws.ID == active.ID {
			marker = ">"
		}
		a.println(fmt.Sprintf("%s %d. %s (%d blocks)", marker, i+1, ws.Name, len(ws.Blocks)))
	}
}

func (a *App) use(ctx context.Context, arg string) error {
	ws, err := a.workspaceAt(arg)
	if err != nil {
		return err
	}
	return a.ctrl.Switch(ctx, ws.ID)
}

func (a *App) rename(name string) error {
	ws, ok := a.ctrl.Active()
	if !ok {
		return shell.ErrNoActive
	}
	return a.ctrl.Rename(ws.ID, name)
}

func (a *App) remove(ctx context.Context, arg string) error {
	ws, err := a.workspaceAt(arg)
	if err != nil {
		return err
	}
	answer, err := readLine(a.in, a.out, fmt.Sprintf("Delete workspace %q? (y/N)", ws.Name))
	if err != nil || !strings.EqualFold(answer, "y") {
		return err
	}
	return a.ctrl.Delete(ctx, ws.ID)
}

func (a *App) listBlocks() {
	ws, ok := a.ctrl.Active()
	if !ok {
		return
	}
	if len(ws.Blocks) == 0 {
		a.println("No blocks yet. Try 'note <title>'.")
	}
	for i, b := range ws.Blocks {
		a.println(fmt.Sprintf("%d. [%s] %s%s", i+1, b.Kind(), b.Title, blockSummary(b)))
	}
}

func blockSummary(b workspace.Block) string {
	switch c := b.Content.(type) {
	case workspace.Text:
		first, _, _ := strings.Cut(c.Content, "\n")
		if first == "" {
			return ""
		}
		return ": " + first
	case workspace.Image:
		return ": " + c.Src
	case workspace.Dataset:
		return fmt.Sprintf(": %s, %d rows", c.FileName, c.RowCount)
	}
	return ""
}

func (a *App) addNote(title string) error {
	block, err := a.ctrl.DefaultBlock(workspace.KindText)
	if err != nil {
		return err
	}
	if title != "" {
		block.Title = title
	}
	content, err := readMultiline(a.in, a.out, "Note text")
	if err != nil {
		return err
	}
	block.Content = workspace.Text{Content: content}
	_, err = a.ctrl.AddBlock(block)
	return err
}

func (a *App) addDataset(title string) error {
	block, err := a.ctrl.DefaultBlock(workspace.KindDataset)
	if err != nil {
		return err
	}
	if title != "" {
		block.Title = title
	}
	desc, err := readLine(a.in, a.out, "Description")
	if err != nil {
		return err
	}
	ds := block.Content.(workspace.Dataset)
	if desc != "" {
		ds.Description = desc
	}
	block.Content = ds
	_, err = a.ctrl.AddBlock(block)
	return err
}

func (a *App) addImage(src string) error {
	block, err := a.ctrl.DefaultBlock(workspace.KindImage)
	if err != nil {
		return err
	}
	if src != "" {
		img := block.Content.(workspace.Image)
		img.Src = src
		block.Content = img
	}
	_, err = a.ctrl.AddBlock(block)
	return err
}

func (a *App) editBlock(arg string) error {
	block, err := a.blockAt(arg)
	if err != nil {
		return err
	}
	text, ok := block.Content.(workspace.Text)
	if !ok {
		return shell.ErrWrongBlockKind
	}
	a.println("Current text:\n" + text.Content)
	content, err := readMultiline(a.in, a.out, "New text")
	if err != nil {
		return err
	}
	block.Content = workspace.Text{Content: content}
	return a.ctrl.UpdateBlock(block)
}

func (a *App) deleteBlock(arg string) error {
	block, err := a.blockAt(arg)
	if err != nil {
		return err
	}
	return a.ctrl.RemoveBlock(block.ID)
}

func (a *App) chat(ctx context.Context, text string) error {
	reply, err := a.ctrl.Chat(ctx, text)
	if reply.Content != "" {
		a.println(reply.Content)
	}
	if err != nil {
		a.log.Debug().Err(err).Msg("chat failed")
	}
	return nil
}

func (a *App) ask(ctx context.Context, arg string) error {
	block, err := a.blockAt(arg)
	if err != nil {
		return err
	}
	reply, err := a.ctrl.AskNote(ctx, block.ID)
	if reply.Content != "" {
		a.println(reply.Content)
	}
	if err != nil {
		a.log.Debug().Err(err).Msg("ask failed")
	}
	return nil
}

func (a *App) analyze(ctx context.Context, arg string) error {
	block, err := a.blockAt(arg)
	if err != nil {
		return err
	}
	bd, err := a.ctrl.AnalyzeText(ctx, block.ID)
	if err != nil {
		return err
	}
	a.println("Summary: " + bd.Summary)
	for _, p := range bd.KeyPoints {
		a.println("  - " + p)
	}
	if len(bd.ActionItems) > 0 {
		a.println("Action items:")
		for _, item := range bd.ActionItems {
			a.println("  [ ] " + item)
		}
	}
	if len(bd.Tags) > 0 {
		a.println("Tags: " + strings.Join(bd.Tags, ", "))
	}
	return nil
}

func (a *App) chart(ctx context.Context, arg string) error {
	block, err := a.blockAt(arg)
	if err != nil {
		return err
	}
	cfg, err := a.ctrl.RecommendChart(ctx, block.ID)
	if err != nil {
		return err
	}
	a.println(fmt.Sprintf("%s chart %q: %s by %s (%d points)", cfg.Type, cfg.Title, cfg.DataKey, cfg.XAxisKey, len(cfg.Data)))
	return nil
}

func (a *App) vision(ctx context.Context, arg string) error {
	block, err := a.blockAt(arg)
	if err != nil {
		return err
	}
	text, err := a.ctrl.AnalyzeImage(ctx, block.ID)
	if err != nil {
		return err
	}
	a.println(text)
	return nil
}

func (a *App) cards(ctx context.Context) error {
	cards, err := a.ctrl.GenerateFlashcards(ctx)
	if err != nil {
		return err
	}
	for _, c := range cards {
		a.println("Q: " + c.Front)
		a.println("A: " + c.Back)
	}
	return nil
}

func (a *App) deck() {
	ws, ok := a.ctrl.Active()
	if !ok {
		return
	}
	if len(ws.Flashcards) == 0 {
		a.println("No flashcards yet. Try 'cards'.")
	}
	for i, c := range ws.Flashcards {
		a.println(fmt.Sprintf("%d. Q: %s | A: %s", i+1, c.Front, c.Back))
	}
}

func (a *App) uncard(arg string) error {
	ws, ok := a.ctrl.Active()
	if !ok {
		return shell.ErrNoActive
	}
	n, err := strconv.Atoi(arg)
	if err != nil || n < 1 || n > len(ws.Flashcards) {
		return fmt.Errorf("no flashcard %q; see 'deck'", arg)
	}
	return a.ctrl.RemoveFlashcard(ws.Flashcards[n-1].ID)
}

func (a *App) saveReply() error {
	note, err := a.ctrl.SaveLastReply()
	if err != nil {
		return err
	}
	a.println("Saved reply as note " + strconv.Quote(note.Title) + ".")
	return nil
}

func (a *App) pin(arg string) error {
	ws, ok := a.ctrl.Active()
	if !ok {
		return shell.ErrNoActive
	}
	n := 0
	if _, err := fmt.Sscan(arg, &n); err != nil || n < 1 || n > len(ws.ChatHistory) {
		return fmt.Errorf("no message %q; see 'history'", arg)
	}
	_, err := a.ctrl.PinMessage(ws.ChatHistory[n-1].ID)
	return err
}

func (a *App) history() {
	ws, ok := a.ctrl.Active()
	if !ok {
		return
	}
	for i, m := range ws.ChatHistory {
		a.println(fmt.Sprintf("%d. %s: %s", i+1, m.Role, m.Content))
	}
}

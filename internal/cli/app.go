// Package cli is the interactive terminal front end for a canvas server.
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"canvas/api/internal/client"
	"canvas/api/internal/shell"
	"canvas/api/internal/workspace"
)

type Options struct {
	In     io.Reader
	Out    io.Writer
	Cache  shell.Cache
	Saver  shell.SaverOptions
	Clock  clockwork.Clock
	Logger zerolog.Logger
}

type App struct {
	api  *client.Client
	auth *shell.AuthMachine
	ctrl *shell.Controller
	opts Options
	in   *bufio.Reader
	out  io.Writer
	log  zerolog.Logger
}

func New(api *client.Client, opts Options) *App {
	if opts.In == nil {
		opts.In = os.Stdin
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	return &App{
		api:  api,
		auth: shell.NewAuthMachine(api, opts.Cache, opts.Logger),
		opts: opts,
		in:   bufio.NewReader(opts.In),
		out:  opts.Out,
		log:  opts.Logger,
	}
}

// Run restores the cached session and serves commands until exit or EOF.
// Pending auto-saves are written before it returns.
func (a *App) Run(ctx context.Context) error {
	if a.auth.Start(ctx) == shell.StateAuthenticated {
		a.println("Signed in as " + a.auth.User().Email)
		if err := a.mount(ctx); err != nil {
			a.println("Could not load workspaces: " + err.Error())
		}
	} else {
		a.println("Welcome to Canvas. Type 'signin', 'signup' or 'help'.")
	}
	defer a.unmount(context.WithoutCancel(ctx))

	for {
		if _, err := fmt.Fprint(a.out, a.prompt()); err != nil {
			return err
		}
		line, err := a.readCommand(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		cmd, arg, _ := strings.Cut(line, " ")
		if cmd == "" {
			continue
		}
		if quit := a.dispatch(ctx, cmd, strings.TrimSpace(arg)); quit {
			return nil
		}
	}
}

// readCommand waits for the next input line or for ctx to end. Prompts
// inside a command read the reader directly.
func (a *App) readCommand(ctx context.Context) (string, error) {
	type result struct {
		line string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		line, err := a.in.ReadString('\n')
		if err != nil && len(line) > 0 && errors.Is(err, io.EOF) {
			err = nil
		}
		ch <- result{strings.TrimSpace(line), err}
	}()
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-ch:
		return r.line, r.err
	}
}

func (a *App) prompt() string {
	if a.ctrl == nil {
		return "canvas> "
	}
	ws, ok := a.ctrl.Active()
	if !ok {
		return "canvas> "
	}
	marker := ""
	if a.ctrl.Saving(ws.ID) {
		marker = "*"
	}
	return fmt.Sprintf("canvas [%s%s]> ", ws.Name, marker)
}

func (a *App) mount(ctx context.Context) error {
	saver := a.opts.Saver
	saver.OnError = func(id string, err error) {
		a.println(fmt.Sprintf("Auto-save of %s failed: %v", id, err))
	}
	ctrl := shell.NewController(a.api, shell.ControllerOptions{
		Saver:  saver,
		Images: a.api,
		Clock:  a.opts.Clock,
		Logger: a.log,
	})
	if err := ctrl.Mount(ctx); err != nil {
		return err
	}
	a.ctrl = ctrl
	return nil
}

func (a *App) unmount(ctx context.Context) {
	if a.ctrl == nil {
		return
	}
	if err := a.ctrl.Close(ctx); err != nil {
		a.println("Some changes could not be saved: " + err.Error())
	}
	a.ctrl = nil
}

func (a *App) println(s string) {
	fmt.Fprintln(a.out, s)
}

// report prints err in the form the API gave it.
func (a *App) report(err error) {
	var apiErr *client.APIError
	switch {
	case errors.As(err, &apiErr):
		a.println("Error: " + apiErr.Message)
	case client.IsNetwork(err):
		a.println("Error: server unreachable")
	default:
		a.println("Error: " + err.Error())
	}
}

// blockAt resolves a 1-based block number in the active workspace.
func (a *App) blockAt(arg string) (workspace.Block, error) {
	ws, ok := a.ctrl.Active()
	if !ok {
		return workspace.Block{}, shell.ErrNoActive
	}
	n, err := strconv.Atoi(arg)
	if err != nil || n < 1 || n > len(ws.Blocks) {
		return workspace.Block{}, fmt.Errorf("no block %q; see 'blocks'", arg)
	}
	return ws.Blocks[n-1], nil
}

func (a *App) workspaceAt(arg string) (workspace.Workspace, error) {
	items := a.ctrl.Workspaces()
	n, err := strconv.Atoi(arg)
	if err != nil || n < 1 || n > len(items) {
		return workspace.Workspace{}, fmt.Errorf("no workspace %q; see 'ls'", arg)
	}
	return items[n-1], nil
}

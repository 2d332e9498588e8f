package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"canvas/api/internal/app"
	"canvas/api/internal/auth"
	"canvas/api/internal/authpw"
	"canvas/api/internal/completion"
	"canvas/api/internal/secretbox"
	"canvas/api/internal/store"
	"canvas/api/internal/workspace"
)

const testSecret = "client-test-secret-0123456789ab"

func newAPI(t *testing.T, completer app.Completer) *httptest.Server {
	t.Helper()
	mem := store.NewMemoryStore()
	box, err := secretbox.New([]byte(testSecret))
	require.NoError(t, err)
	accounts, err := authpw.NewService(mem, box, authpw.Options{Cost: bcrypt.MinCost, Logger: zerolog.Nop()})
	require.NoError(t, err)

	svc, err := app.NewService(app.Options{
		Store:      mem,
		Accounts:   accounts,
		Tokens:     auth.NewService([]byte(testSecret), time.Hour, clockwork.NewRealClock()),
		Completion: completer,
		Logger:     zerolog.Nop(),
	})
	require.NoError(t, err)
	server := httptest.NewServer(app.NewHTTPServer(svc, app.ServerOptions{Logger: zerolog.Nop()}).Handler())
	t.Cleanup(func() {
		server.Close()
		svc.Close()
	})
	return server
}

func TestSessionAndWorkspaceRoundTrip(t *testing.T) {
	api := newAPI(t, nil)
	ctx := context.Background()
	c := New(api.URL, nil)

	session, err := c.SignUp(ctx, "alice@example.com", "secret1", "Alice")
	require.NoError(t, err)
	assert.NotEmpty(t, session.Token)
	assert.Equal(t, session.Token, c.Token())
	assert.Equal(t, "alice@example.com", session.User.Email)

	user, err := c.Verify(ctx)
	require.NoError(t, err)
	assert.Equal(t, session.User.ID, user.ID)

	items, err := c.ListWorkspaces(ctx)
	require.NoError(t, err)
	assert.Empty(t, items)

	ws, err := c.CreateWorkspace(ctx, "My Workspace", "")
	require.NoError(t, err)
	assert.Equal(t, workspace.DefaultIcon, ws.Icon)

	ws.Blocks = append(ws.Blocks, workspace.NewTextBlock("b1", "Note", "remember the milk"))
	ws.Flashcards = []workspace.Flashcard{{ID: "f1", Front: "Q", Back: "A"}}
	updated, err := c.UpdateWorkspace(ctx, ws.ID, workspace.FullPatch(ws))
	require.NoError(t, err)
	require.Len(t, updated.Blocks, 1)
	assert.Equal(t, workspace.Text{Content: "remember the milk"}, updated.Blocks[0].Content)

	items, err = c.ListWorkspaces(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, ws.Flashcards, items[0].Flashcards)

	require.NoError(t, c.DeleteWorkspace(ctx, ws.ID))
	err = c.DeleteWorkspace(ctx, ws.ID)
	require.Error(t, err)
	assert.True(t, IsNotFound(err), "got %v", err)
}

func TestProfileAndAPIKey(t *testing.T) {
	api := newAPI(t, nil)
	ctx := context.Background()
	c := New(api.URL, nil)
	_, err := c.SignUp(ctx, "bob@example.com", "secret1", "Bob")
	require.NoError(t, err)

	bio := "hello"
	user, err := c.UpdateProfile(ctx, ProfileUpdate{Name: "Robert", Bio: &bio})
	require.NoError(t, err)
	assert.Equal(t, "Robert", user.Name)
	assert.Equal(t, "hello", user.Bio)

	masked, err := c.SetAPIKey(ctx, "sk-test-1234567890")
	require.NoError(t, err)
	assert.Equal(t, "sk-t••••••••••••7890", masked)

	status, err := c.APIKeyStatus(ctx)
	require.NoError(t, err)
	assert.True(t, status.HasKey)

	require.NoError(t, c.RemoveAPIKey(ctx))
	status, err = c.APIKeyStatus(ctx)
	require.NoError(t, err)
	assert.False(t, status.HasKey)
}

func TestErrorClassification(t *testing.T) {
	api := newAPI(t, nil)
	ctx := context.Background()

	anon := New(api.URL, nil)
	_, err := anon.ListWorkspaces(ctx)
	require.Error(t, err)
	assert.True(t, IsUnauthorized(err))
	assert.False(t, IsNetwork(err))

	_, err = anon.SignIn(ctx, "nobody@example.com", "whatever")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "INVALID_CREDENTIALS", apiErr.Code)
	assert.Empty(t, anon.Token())

	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL
	dead.Close()
	offline := New(deadURL, &http.Client{Timeout: time.Second})
	_, err = offline.Verify(ctx)
	require.Error(t, err)
	assert.True(t, IsNetwork(err))
	assert.False(t, IsUnauthorized(err))
}

type stubCompleter struct {
	apiKey string
	req    completion.Request
}

func (s *stubCompleter) Do(_ context.Context, apiKey string, req completion.Request) (json.RawMessage, error) {
	s.apiKey = apiKey
	s.req = req
	return json.RawMessage(`{"text":"pong"}`), nil
}

func TestComplete(t *testing.T) {
	stub := &stubCompleter{}
	api := newAPI(t, stub)
	ctx := context.Background()
	c := New(api.URL, nil)
	_, err := c.SignUp(ctx, "carol@example.com", "secret1", "Carol")
	require.NoError(t, err)

	var out completion.TextResponse
	err = c.Complete(ctx, completion.ActionChat, completion.ChatPayload{NewMessage: "ping"}, &out)
	require.NoError(t, err)
	assert.Equal(t, "pong", out.Text)
	assert.Equal(t, completion.ActionChat, stub.req.Action)
	assert.Contains(t, string(stub.req.Payload), `"ping"`)
	assert.Empty(t, stub.apiKey)
}

func TestFetchImageSendsTokenOnlyToAPI(t *testing.T) {
	var auth []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = append(auth, r.Header.Get("Authorization"))
		if r.URL.Path == "/media/missing.png" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"success":false,"code":"NOT_FOUND","error":"Not found"}`))
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("png-bytes"))
	}))
	defer srv.Close()

	c := New(srv.URL, nil)
	c.SetToken("tok")
	data, mimeType, err := c.FetchImage(context.Background(), "/media/u1/a.png")
	require.NoError(t, err)
	assert.Equal(t, "png-bytes", string(data))
	assert.Equal(t, "image/png", mimeType)

	_, _, err = c.FetchImage(context.Background(), srv.URL+"/elsewhere.png")
	require.NoError(t, err)

	_, _, err = c.FetchImage(context.Background(), "/media/missing.png")
	assert.True(t, IsNotFound(err))

	assert.Equal(t, []string{"Bearer tok", "", "Bearer tok"}, auth)
}

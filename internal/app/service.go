package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"canvas/api/internal/auth"
	"canvas/api/internal/authpw"
	"canvas/api/internal/completion"
	"canvas/api/internal/export"
	"canvas/api/internal/history"
	"canvas/api/internal/media"
	"canvas/api/internal/metrics"
	"canvas/api/internal/search"
	"canvas/api/internal/store"
	"canvas/api/internal/util"
	"canvas/api/internal/workspace"
)

type Searcher interface {
	Search(ctx context.Context, q search.Query) search.Response
	IndexWorkspace(ws workspace.Workspace) error
	RemoveWorkspace(id string) error
}

type HistoryStore interface {
	Record(ws workspace.Workspace, author, message string) (history.Commit, bool, error)
	History(workspaceID string, limit int) ([]history.Commit, error)
	Remove(workspaceID string) error
}

type Exporter interface {
	Export(ctx context.Context, ws workspace.Workspace, format export.Format) (*export.Result, error)
}

type Completer interface {
	Do(ctx context.Context, apiKey string, req completion.Request) (json.RawMessage, error)
}

type Mailer interface {
	IsConfigured() bool
	SendWelcome(to, userName string) error
}

type ImageFetcher interface {
	Fetch(ctx context.Context, rawURL string) ([]byte, string, error)
}

// Options wires the service. Store, Accounts and Tokens are required; the
// rest are optional and their routes answer 503 when absent.
type Options struct {
	Store      store.Store
	Accounts   *authpw.Service
	Tokens     *auth.Service
	Search     Searcher
	History    HistoryStore
	Export     Exporter
	Completion Completer
	Media      media.Storage
	Importer   ImageFetcher
	Mailer     Mailer
	Metrics    *metrics.Collector
	Clock      clockwork.Clock
	Logger     zerolog.Logger
}

// Service is the request boundary: it owns every operation the HTTP layer
// exposes and the side effects that follow a write.
type Service struct {
	store      store.Store
	accounts   *authpw.Service
	tokens     *auth.Service
	search     Searcher
	history    HistoryStore
	export     Exporter
	completion Completer
	media      media.Storage
	importer   ImageFetcher
	mailer     Mailer
	metrics    *metrics.Collector
	clock      clockwork.Clock
	log        zerolog.Logger

	jobs      chan func()
	wg        sync.WaitGroup
	closeOnce sync.Once
}

const backgroundQueueSize = 256

func NewService(opts Options) (*Service, error) {
	if opts.Store == nil {
		return nil, errors.New("store is required")
	}
	if opts.Accounts == nil {
		return nil, errors.New("account service is required")
	}
	if opts.Tokens == nil {
		return nil, errors.New("token service is required")
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Export == nil {
		opts.Export = export.NewService()
	}
	s := &Service{
		store:      opts.Store,
		accounts:   opts.Accounts,
		tokens:     opts.Tokens,
		search:     opts.Search,
		history:    opts.History,
		export:     opts.Export,
		completion: opts.Completion,
		media:      opts.Media,
		importer:   opts.Importer,
		mailer:     opts.Mailer,
		metrics:    opts.Metrics,
		clock:      opts.Clock,
		log:        opts.Logger,
		jobs:       make(chan func(), backgroundQueueSize),
	}
	s.wg.Add(1)
	go s.runJobs()
	return s, nil
}

// Close waits for queued side effects to finish. The service must not be
// used afterwards.
func (s *Service) Close() {
	s.closeOnce.Do(func() {
		close(s.jobs)
		s.wg.Wait()
	})
}

// runJobs executes side effects one at a time so index updates and history
// commits land in write order.
func (s *Service) runJobs() {
	defer s.wg.Done()
	for job := range s.jobs {
		job()
	}
}

func (s *Service) enqueue(kind string, job func() error) {
	run := func() {
		if err := job(); err != nil {
			s.log.Error().Err(err).Str("kind", kind).Msg("background job failed")
			s.sideEffectFailed(kind)
		}
	}
	select {
	case s.jobs <- run:
	default:
		s.log.Warn().Str("kind", kind).Msg("background queue full, dropping job")
		s.sideEffectFailed(kind)
	}
}

func (s *Service) sideEffectFailed(kind string) {
	if s.metrics != nil {
		s.metrics.RecordSideEffectFailure(kind)
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

type AuthResult struct {
	Token string
	User  store.User
}

func (s *Service) SignUp(ctx context.Context, req authpw.SignUpRequest) (AuthResult, error) {
	user, err := s.accounts.SignUp(ctx, req)
	s.recordAuth("signup", err)
	if err != nil {
		return AuthResult{}, err
	}
	token, err := s.tokens.Issue(auth.Identity{UserID: user.ID, Email: user.Email})
	if err != nil {
		return AuthResult{}, fmt.Errorf("issue token: %w", err)
	}
	if s.mailer != nil && s.mailer.IsConfigured() {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.mailer.SendWelcome(user.Email, user.Name); err != nil {
				s.log.Error().Err(err).Str("user_id", user.ID).Msg("send welcome email")
				s.sideEffectFailed("email")
			}
		}()
	}
	return AuthResult{Token: token, User: user}, nil
}

func (s *Service) SignIn(ctx context.Context, req authpw.SignInRequest) (AuthResult, error) {
	user, err := s.accounts.SignIn(ctx, req)
	s.recordAuth("signin", err)
	if err != nil {
		return AuthResult{}, err
	}
	token, err := s.tokens.Issue(auth.Identity{UserID: user.ID, Email: user.Email})
	if err != nil {
		return AuthResult{}, fmt.Errorf("issue token: %w", err)
	}
	return AuthResult{Token: token, User: user}, nil
}

func (s *Service) recordAuth(event string, err error) {
	if s.metrics != nil {
		s.metrics.RecordAuthAttempt(event, err == nil)
	}
}

// Authenticate verifies a bearer token. The user record is not consulted;
// routes that need it load it themselves.
func (s *Service) Authenticate(token string) (auth.Identity, error) {
	return s.tokens.Verify(token)
}

func (s *Service) CurrentUser(ctx context.Context, userID string) (store.User, error) {
	return s.accounts.Get(ctx, userID)
}

func (s *Service) UpdateProfile(ctx context.Context, userID string, update authpw.ProfileUpdate) (store.User, error) {
	return s.accounts.UpdateProfile(ctx, userID, update)
}

func (s *Service) APIKeyStatus(ctx context.Context, userID string) (authpw.APIKeyStatus, error) {
	return s.accounts.APIKeyStatus(ctx, userID)
}

func (s *Service) SetAPIKey(ctx context.Context, userID, key string) (string, error) {
	return s.accounts.SetAPIKey(ctx, userID, key)
}

func (s *Service) RemoveAPIKey(ctx context.Context, userID string) error {
	return s.accounts.RemoveAPIKey(ctx, userID)
}

func (s *Service) ListWorkspaces(ctx context.Context, userID string) ([]workspace.Workspace, error) {
	items, err := s.store.ListWorkspaces(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list workspaces: %w", err)
	}
	return items, nil
}

func (s *Service) CreateWorkspace(ctx context.Context, identity auth.Identity, name, icon string) (workspace.Workspace, error) {
	if strings.TrimSpace(name) == "" {
		return workspace.Workspace{}, validationError("name", "name is required")
	}
	ws := workspace.New(util.NewID("ws"), identity.UserID, name, icon, s.now())
	created, err := s.store.CreateWorkspace(ctx, ws)
	if err != nil {
		return workspace.Workspace{}, fmt.Errorf("create workspace: %w", err)
	}
	s.recordWrite("create")
	s.afterWrite(created, identity, "Create workspace")
	return created, nil
}

func (s *Service) UpdateWorkspace(ctx context.Context, identity auth.Identity, id string, patch workspace.Patch) (workspace.Workspace, error) {
	if strings.TrimSpace(id) == "" {
		return workspace.Workspace{}, validationError("id", "id is required")
	}
	if err := patch.Validate(); err != nil {
		return workspace.Workspace{}, validationError("name", err.Error())
	}
	updated, err := s.store.UpdateWorkspace(ctx, id, identity.UserID, patch, s.now())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return workspace.Workspace{}, errNotFound
		}
		return workspace.Workspace{}, fmt.Errorf("update workspace: %w", err)
	}
	s.recordWrite("update")
	s.afterWrite(updated, identity, "Update workspace")
	return updated, nil
}

func (s *Service) DeleteWorkspace(ctx context.Context, identity auth.Identity, id string) error {
	if strings.TrimSpace(id) == "" {
		return validationError("id", "id is required")
	}
	if err := s.store.DeleteWorkspace(ctx, id, identity.UserID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return errNotFound
		}
		return fmt.Errorf("delete workspace: %w", err)
	}
	s.recordWrite("delete")
	if s.search != nil {
		s.enqueue("search_index", func() error { return s.search.RemoveWorkspace(id) })
	}
	if s.history != nil {
		s.enqueue("history", func() error { return s.history.Remove(id) })
	}
	return nil
}

func (s *Service) afterWrite(ws workspace.Workspace, identity auth.Identity, message string) {
	if s.search != nil {
		s.enqueue("search_index", func() error { return s.search.IndexWorkspace(ws) })
	}
	if s.history != nil {
		s.enqueue("history", func() error {
			_, _, err := s.history.Record(ws, identity.Email, message)
			return err
		})
	}
}

func (s *Service) recordWrite(op string) {
	if s.metrics != nil {
		s.metrics.RecordWorkspaceWrite(op)
	}
}

func (s *Service) SearchWorkspaces(ctx context.Context, userID, text string, limit int) search.Response {
	text = strings.TrimSpace(text)
	if text == "" || s.search == nil {
		return search.Response{Results: []search.Result{}, Query: text}
	}
	return s.search.Search(ctx, search.Query{UserID: userID, Text: text, Limit: limit})
}

// WorkspaceHistory lists snapshot commits, newest first. An owned
// workspace without snapshots yields an empty list.
func (s *Service) WorkspaceHistory(ctx context.Context, userID, id string, limit int) ([]history.Commit, error) {
	if strings.TrimSpace(id) == "" {
		return nil, validationError("id", "id is required")
	}
	if _, err := s.store.GetWorkspace(ctx, id, userID); err != nil {
		return nil, err
	}
	if s.history == nil {
		return nil, errHistoryUnavailable
	}
	commits, err := s.history.History(id, limit)
	if errors.Is(err, history.ErrNoHistory) {
		return []history.Commit{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("workspace history: %w", err)
	}
	return commits, nil
}

func (s *Service) ExportWorkspace(ctx context.Context, userID, id, format string) (*export.Result, error) {
	if strings.TrimSpace(id) == "" {
		return nil, validationError("id", "id is required")
	}
	f, err := export.ParseFormat(format)
	if err != nil {
		return nil, err
	}
	ws, err := s.store.GetWorkspace(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	return s.export.Export(ctx, ws, f)
}

// Complete forwards one action to the completion service with the caller's
// stored API key, when there is one.
func (s *Service) Complete(ctx context.Context, userID string, action completion.Action, payload json.RawMessage) (json.RawMessage, error) {
	if !action.Valid() {
		return nil, completion.ErrUnknownAction
	}
	if s.completion == nil {
		return nil, errCompletionUnavailable
	}
	apiKey, err := s.accounts.APIKey(ctx, userID)
	if err != nil && !errors.Is(err, authpw.ErrNoAPIKey) {
		return nil, err
	}
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}

	started := s.clock.Now()
	result, err := s.completion.Do(ctx, apiKey, completion.Request{Action: action, Payload: payload})
	if s.metrics != nil {
		s.metrics.ObserveCompletion(s.clock.Since(started))
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

type Upload struct {
	Src      string `json:"src"`
	MimeType string `json:"mimeType"`
}

func (s *Service) UploadImage(ctx context.Context, userID string, data []byte) (Upload, error) {
	if s.media == nil {
		return Upload{}, errStorageUnavailable
	}
	mime, err := media.Sniff(data)
	if err != nil {
		return Upload{}, err
	}
	return s.putImage(ctx, userID, data, mime)
}

// ImportImage fetches a remote image through the SSRF guard and stores it.
func (s *Service) ImportImage(ctx context.Context, userID, rawURL string) (Upload, error) {
	if s.media == nil || s.importer == nil {
		return Upload{}, errStorageUnavailable
	}
	if strings.TrimSpace(rawURL) == "" {
		return Upload{}, validationError("url", "url is required")
	}
	data, mime, err := s.importer.Fetch(ctx, rawURL)
	if err != nil {
		if errors.Is(err, media.ErrTooLarge) || errors.Is(err, media.ErrNotImage) {
			return Upload{}, err
		}
		s.log.Warn().Err(err).Str("user_id", userID).Msg("image import failed")
		return Upload{}, validationError("url", "Image could not be fetched")
	}
	return s.putImage(ctx, userID, data, mime)
}

func (s *Service) putImage(ctx context.Context, userID string, data []byte, mime string) (Upload, error) {
	key, err := s.media.Put(ctx, userID, data, mime)
	if err != nil {
		return Upload{}, fmt.Errorf("store image: %w", err)
	}
	return Upload{Src: "/media/" + key, MimeType: mime}, nil
}

// OpenMedia returns a stored image if it belongs to userID. Keys owned by
// someone else look missing.
func (s *Service) OpenMedia(ctx context.Context, userID, key string) (media.Object, error) {
	if s.media == nil {
		return media.Object{}, errStorageUnavailable
	}
	if !media.OwnedBy(key, userID) {
		return media.Object{}, errNotFound
	}
	return s.media.Get(ctx, key)
}

func (s *Service) now() time.Time {
	return s.clock.Now().UTC()
}

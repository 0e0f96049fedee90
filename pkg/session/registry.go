package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/entrhq/browser-api/pkg/browser"
	"github.com/entrhq/browser-api/pkg/logging"
)

// Observer is notified of registry changes. Implementations must be safe for
// concurrent use.
type Observer interface {
	SessionLaunched(sessionID string)
	SessionClosed(sessionID string)
	PageCreated(sessionID, pageID string)
}

// Options configures a Registry.
type Options struct {
	// Launch is passed to the engine for every new session
	Launch browser.LaunchOptions

	// MaxSessions caps live sessions; 0 means unlimited
	MaxSessions int

	// Observer receives lifecycle notifications; may be nil
	Observer Observer

	// Logger may be nil
	Logger *logging.Logger
}

// Registry maps session ids to live browser sessions. It is the only shared mutable
// state in the service.
type Registry struct {
	engine browser.Engine
	opts   Options
	logger *logging.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	// launching holds ids whose browser is starting, so a concurrent launch of the
	// same id is rejected rather than racing the insert
	launching map[string]struct{}
}

// NewRegistry creates an empty registry launching browsers from engine.
func NewRegistry(engine browser.Engine, opts Options) *Registry {
	return &Registry{
		engine:    engine,
		opts:      opts,
		logger:    opts.Logger,
		sessions:  make(map[string]*Session),
		launching: make(map[string]struct{}),
	}
}

// Launch starts a browser and registers it under id.
func (r *Registry) Launch(ctx context.Context, id string) (*Session, error) {
	r.mu.Lock()
	if _, exists := r.sessions[id]; exists {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %q", ErrSessionExists, id)
	}
	if _, pending := r.launching[id]; pending {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %q", ErrSessionExists, id)
	}
	if r.opts.MaxSessions > 0 && len(r.sessions)+len(r.launching) >= r.opts.MaxSessions {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w (%d)", ErrSessionLimit, r.opts.MaxSessions)
	}
	r.launching[id] = struct{}{}
	r.mu.Unlock()

	handle, err := r.engine.Launch(ctx, r.opts.Launch)

	r.mu.Lock()
	delete(r.launching, id)
	if err != nil {
		r.mu.Unlock()
		return nil, err
	}
	s := newSession(id, handle)
	r.sessions[id] = s
	r.mu.Unlock()

	r.logger.Infof("session launched: id=%s", id)
	if r.opts.Observer != nil {
		r.opts.Observer.SessionLaunched(id)
	}
	return s, nil
}

// Get returns the session registered under id.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return nil, &NotFoundError{SessionID: id}
	}
	return s, nil
}

// ResolvePage returns the page pageID of session sessionID, opening it if it does not
// exist yet. Concurrent calls for the same new page open it once.
func (r *Registry) ResolvePage(ctx context.Context, sessionID, pageID string) (browser.PageHandle, error) {
	s, err := r.Get(sessionID)
	if err != nil {
		return nil, err
	}

	page, created, err := s.resolvePage(ctx, pageID)
	if err != nil {
		return nil, err
	}
	if created {
		r.logger.Debugf("page created: session=%s page=%s", sessionID, pageID)
		if r.opts.Observer != nil {
			r.opts.Observer.PageCreated(sessionID, pageID)
		}
	}
	return page, nil
}

// Page returns an existing page without creating it.
func (r *Registry) Page(sessionID, pageID string) (browser.PageHandle, error) {
	s, err := r.Get(sessionID)
	if err != nil {
		return nil, err
	}

	return s.page(pageID)
}

// Close closes the session's pages in creation order, then its browser, and only then
// unregisters it. When a close fails the session stays registered with whatever is
// still open, and the error is returned.
func (r *Registry) Close(ctx context.Context, id string) error {
	s, err := r.Get(id)
	if err != nil {
		return err
	}

	err = s.close(func() {
		r.mu.Lock()
		if r.sessions[id] == s {
			delete(r.sessions, id)
		}
		r.mu.Unlock()
	})
	if err != nil {
		if !IsNotFound(err) {
			r.logger.Warnf("session close failed: id=%s: %v", id, err)
		}
		return err
	}

	r.logger.Infof("session closed: id=%s", id)
	if r.opts.Observer != nil {
		r.opts.Observer.SessionClosed(id)
	}
	return nil
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// List returns a snapshot of live sessions ordered by creation time.
func (r *Registry) List() []Info {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	infos := make([]Info, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, s.info())
	}
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].CreatedAt.Equal(infos[j].CreatedAt) {
			return infos[i].ID < infos[j].ID
		}
		return infos[i].CreatedAt.Before(infos[j].CreatedAt)
	})
	return infos
}

// CloseAll closes every live session concurrently. It is meant for shutdown.
func (r *Registry) CloseAll(ctx context.Context) error {
	r.mu.Lock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	errs := make([]error, len(ids))
	var g errgroup.Group
	for i, id := range ids {
		g.Go(func() error {
			if err := r.Close(ctx, id); err != nil && !IsNotFound(err) {
				errs[i] = fmt.Errorf("session %q: %w", id, err)
			}
			return nil
		})
	}
	g.Wait()

	return errors.Join(errs...)
}

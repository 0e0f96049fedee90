package session

import (
	"context"
	"sync"
	"time"

	"github.com/entrhq/browser-api/pkg/browser"
)

// Session is one launched browser and the pages opened in it.
type Session struct {
	// ID is the caller-supplied key
	ID string

	// CreatedAt is when the browser was launched
	CreatedAt time.Time

	browser browser.BrowserHandle

	// mu serializes page creation and closing, and guards pages/order/closed
	mu     sync.Mutex
	pages  map[string]browser.PageHandle
	order  []string
	closed bool
}

func newSession(id string, handle browser.BrowserHandle) *Session {
	return &Session{
		ID:        id,
		CreatedAt: time.Now(),
		browser:   handle,
		pages:     make(map[string]browser.PageHandle),
	}
}

// page returns the page registered under id.
func (s *Session) page(id string) (browser.PageHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, &NotFoundError{SessionID: s.ID}
	}
	page, ok := s.pages[id]
	if !ok {
		return nil, &NotFoundError{SessionID: s.ID, PageID: id}
	}
	return page, nil
}

// PageIDs returns page ids in creation order.
func (s *Session) PageIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...)
}

// resolvePage returns the page under id, opening it first when absent.
// created reports whether a new page was opened.
func (s *Session) resolvePage(ctx context.Context, id string) (page browser.PageHandle, created bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, false, &NotFoundError{SessionID: s.ID}
	}
	if page, ok := s.pages[id]; ok {
		return page, false, nil
	}

	page, err = s.browser.NewPage(ctx)
	if err != nil {
		return nil, false, err
	}
	s.pages[id] = page
	s.order = append(s.order, id)
	return page, true, nil
}

// close closes every page in creation order, then the browser, stopping at the first
// failure. Pages that did close are forgotten, so a retry only touches what is left.
// onClosed runs under the session lock once everything has closed; a session that is
// already closed reports NotFoundError.
func (s *Session) close(onClosed func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return &NotFoundError{SessionID: s.ID}
	}

	for len(s.order) > 0 {
		id := s.order[0]
		if err := s.pages[id].Close(); err != nil {
			return &closeError{target: "page " + id, err: err}
		}
		delete(s.pages, id)
		s.order = s.order[1:]
	}
	if err := s.browser.Close(); err != nil {
		return &closeError{target: "browser", err: err}
	}

	s.closed = true
	onClosed()
	return nil
}

type closeError struct {
	target string
	err    error
}

func (e *closeError) Error() string { return "failed to close " + e.target + ": " + e.err.Error() }
func (e *closeError) Unwrap() error { return e.err }

// Info is a point-in-time description of a session.
type Info struct {
	ID        string    `json:"sessionId"`
	CreatedAt time.Time `json:"createdAt"`
	Pages     []string  `json:"pages"`
}

func (s *Session) info() Info {
	pages := s.PageIDs()
	if pages == nil {
		pages = []string{}
	}
	return Info{ID: s.ID, CreatedAt: s.CreatedAt, Pages: pages}
}

package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"floodbuddy/internal/models"
)

var (
	ErrAuthInProgress  = errors.New("authentication already in progress")
	ErrAlreadySignedIn = errors.New("already signed in")
)

// Session is the client's view of a signed-in user.
type Session struct {
	UserID string `json:"uid"`
	Email  string `json:"email"`
}

// Authenticator is the identity service boundary.
type Authenticator interface {
	SignIn(ctx context.Context, email, password string) (Session, error)
	Register(ctx context.Context, email, password string) (Session, error)
	SignOut(ctx context.Context) error
}

type State int

const (
	StateSignedOut State = iota
	StateAuthenticating
	StateSignedIn
	StateAuthFailed
)

func (s State) String() string {
	switch s {
	case StateSignedOut:
		return "signed_out"
	case StateAuthenticating:
		return "authenticating"
	case StateSignedIn:
		return "signed_in"
	case StateAuthFailed:
		return "auth_failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Change is delivered to observers whenever the flow settles in SignedIn or
// SignedOut. Session is nil on sign-out.
type Change struct {
	State   State
	Session *Session
}

type Flow struct {
	auth Authenticator
	log  zerolog.Logger

	mu        sync.Mutex
	state     State
	current   *Session
	errMsg    string
	observers map[int]func(Change)
	nextID    int
}

func NewFlow(auth Authenticator, log zerolog.Logger) *Flow {
	return &Flow{
		auth:      auth,
		log:       log.With().Str("component", "session_flow").Logger(),
		observers: make(map[int]func(Change)),
	}
}

func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// ErrorMessage is the message left by the last failed attempt, cleared on
// the next attempt.
func (f *Flow) ErrorMessage() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.errMsg
}

func (f *Flow) Current() (Session, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.current == nil {
		return Session{}, false
	}
	return *f.current, true
}

// OnChange registers fn and returns its unsubscribe handle. fn runs on the
// goroutine that changed the state.
func (f *Flow) OnChange(fn func(Change)) func() {
	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.observers[id] = fn
	f.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.observers, id)
			f.mu.Unlock()
		})
	}
}

func (f *Flow) SignIn(ctx context.Context, email, password string) (Session, error) {
	return f.authenticate(ctx, "sign_in", email, password, models.SignInFailedMessage, f.auth.SignIn)
}

func (f *Flow) Register(ctx context.Context, email, password string) (Session, error) {
	return f.authenticate(ctx, "register", email, password, models.RegisterFailedMessage, f.auth.Register)
}

// SignOut always ends SignedOut locally; a failure at the identity service
// is returned for logging only.
func (f *Flow) SignOut(ctx context.Context) error {
	err := f.auth.SignOut(ctx)
	if err != nil {
		f.log.Warn().Err(err).Msg("remote sign-out failed")
	}

	f.mu.Lock()
	wasSignedIn := f.state == StateSignedIn
	f.state = StateSignedOut
	f.current = nil
	f.mu.Unlock()

	if wasSignedIn {
		f.notify(Change{State: StateSignedOut})
	}
	return err
}

func (f *Flow) authenticate(ctx context.Context, action, email, password, failMsg string, call func(context.Context, string, string) (Session, error)) (Session, error) {
	f.mu.Lock()
	switch f.state {
	case StateAuthenticating:
		f.mu.Unlock()
		return Session{}, ErrAuthInProgress
	case StateSignedIn:
		f.mu.Unlock()
		return Session{}, ErrAlreadySignedIn
	}
	f.state = StateAuthenticating
	f.errMsg = ""
	f.mu.Unlock()

	email = strings.TrimSpace(email)
	var (
		sess Session
		err  error
	)
	if email == "" || password == "" {
		err = errors.New("email and password are required")
	} else {
		sess, err = call(ctx, email, password)
	}

	if err != nil {
		f.log.Info().Err(err).Str("action", action).Stringer("state", StateAuthFailed).Msg("authentication failed")
		f.fail(failMsg)
		return Session{}, &models.AuthError{Message: failMsg, Err: err}
	}

	f.mu.Lock()
	f.state = StateSignedIn
	f.current = &sess
	f.mu.Unlock()

	f.log.Info().Str("action", action).Str("user_id", sess.UserID).Msg("signed in")
	f.notify(Change{State: StateSignedIn, Session: &sess})
	return sess, nil
}

// fail settles AuthFailed back into SignedOut, keeping msg for display.
func (f *Flow) fail(msg string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errMsg = msg
	f.state = StateSignedOut
	f.current = nil
}

func (f *Flow) notify(change Change) {
	f.mu.Lock()
	observers := make([]func(Change), 0, len(f.observers))
	for _, fn := range f.observers {
		observers = append(observers, fn)
	}
	f.mu.Unlock()

	for _, fn := range observers {
		fn(change)
	}
}

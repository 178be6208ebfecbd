package flow

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"floodbuddy/internal/models"
)

var (
	ErrInvalidTransition = errors.New("invalid report flow transition")
	ErrStreamEnded       = errors.New("report stream ended")
)

// ReportStore is the document store as seen by the flow: append-only
// create, fetch-all, and a full-snapshot subscription released with ctx.
type ReportStore interface {
	Create(ctx context.Context, loc models.Location, severity models.Severity) (models.Report, error)
	List(ctx context.Context) ([]models.Report, error)
	Subscribe(ctx context.Context) (<-chan models.Snapshot, error)
}

type State int

const (
	StateIdle State = iota
	StateSeverityChosen
	StateConfirming
	StateSubmitted
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSeverityChosen:
		return "severity_chosen"
	case StateConfirming:
		return "confirming"
	case StateSubmitted:
		return "submitted"
	case StateCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Confirmation is what the severity-specific confirmation surface shows.
// Location is nil until the first fix arrives.
type Confirmation struct {
	Severity models.SeverityInfo
	Location *models.Location
}

// Controller mediates between severity selection, the latest device fix and
// the report store. Location fixes arrive on their own goroutine, so state is
// guarded by mu.
type Controller struct {
	store ReportStore
	log   zerolog.Logger

	mu       sync.Mutex
	state    State
	pending  models.Severity
	location *models.Location
}

func NewController(store ReportStore, log zerolog.Logger) *Controller {
	return &Controller{
		store: store,
		log:   log.With().Str("component", "report_flow").Logger(),
	}
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// UpdateLocation records the latest fix; the newest always wins.
func (c *Controller) UpdateLocation(loc models.Location) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.location = &loc
}

func (c *Controller) CurrentLocation() (models.Location, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.location == nil {
		return models.Location{}, false
	}
	return *c.location, true
}

// TrackLocation feeds fixes into the controller until ctx ends or fixes closes.
func (c *Controller) TrackLocation(ctx context.Context, fixes <-chan models.Location) {
	for {
		select {
		case <-ctx.Done():
			return
		case loc, ok := <-fixes:
			if !ok {
				return
			}
			c.UpdateLocation(loc)
		}
	}
}

// SelectSeverity opens the confirmation surface for severity. Picking again
// before confirming replaces the pending choice.
func (c *Controller) SelectSeverity(severity models.Severity) error {
	if !severity.Valid() {
		return models.ErrInvalidSeverity
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateIdle && c.state != StateSeverityChosen {
		return fmt.Errorf("%w: select severity while %s", ErrInvalidTransition, c.state)
	}
	c.transition(StateSeverityChosen)
	c.pending = severity
	return nil
}

func (c *Controller) Confirmation() (Confirmation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateSeverityChosen && c.state != StateConfirming {
		return Confirmation{}, fmt.Errorf("%w: confirm while %s", ErrInvalidTransition, c.state)
	}
	c.transition(StateConfirming)

	info, _ := c.pending.Info()
	conf := Confirmation{Severity: info}
	if c.location != nil {
		loc := *c.location
		conf.Location = &loc
	}
	return conf, nil
}

// Submit sends the pending severity with the latest fix. On any failure the
// controller stays in Confirming so the user can press submit again.
func (c *Controller) Submit(ctx context.Context) (models.Report, error) {
	c.mu.Lock()
	if c.state != StateConfirming {
		state := c.state
		c.mu.Unlock()
		return models.Report{}, fmt.Errorf("%w: submit while %s", ErrInvalidTransition, state)
	}
	severity := c.pending
	var loc *models.Location
	if c.location != nil {
		fix := *c.location
		loc = &fix
	}
	c.transition(StateSubmitted)
	c.mu.Unlock()

	report, err := c.SubmitReport(ctx, loc, severity)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.transition(StateConfirming)
		return models.Report{}, err
	}
	c.pending = 0
	c.transition(StateIdle)
	return report, nil
}

// SubmitReport validates before touching the store: a missing fix, an
// unknown severity or out-of-range coordinates never reach Create.
func (c *Controller) SubmitReport(ctx context.Context, loc *models.Location, severity models.Severity) (models.Report, error) {
	if err := models.ValidateSubmission(loc, severity); err != nil {
		c.log.Warn().Err(err).Int("severity", int(severity)).Msg("report refused")
		return models.Report{}, err
	}

	report, err := c.store.Create(ctx, *loc, severity)
	if err != nil {
		c.log.Error().Err(err).Int("severity", int(severity)).Msg("report submit failed")
		var writeErr *models.StoreWriteError
		if errors.As(err, &writeErr) {
			return models.Report{}, err
		}
		return models.Report{}, &models.StoreWriteError{Err: err}
	}

	c.log.Info().Str("report_id", report.ID).Str("severity", severity.Label()).Msg("report submitted")
	return report, nil
}

// Cancel discards the pending severity.
func (c *Controller) Cancel() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case StateIdle:
		return nil
	case StateSeverityChosen, StateConfirming:
		c.transition(StateCancelled)
		c.pending = 0
		c.transition(StateIdle)
		return nil
	default:
		return fmt.Errorf("%w: cancel while %s", ErrInvalidTransition, c.state)
	}
}

// Observe opens a full-snapshot stream. Calling it again after the stream
// ends starts a new one.
func (c *Controller) Observe(ctx context.Context) (<-chan models.Snapshot, error) {
	return c.store.Subscribe(ctx)
}

// Render hands the marker set of every delivered snapshot to draw. It returns
// nil when ctx ends and ErrStreamEnded when the store closes the stream.
func (c *Controller) Render(ctx context.Context, draw func([]models.Marker)) error {
	snapshots, err := c.Observe(ctx)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case snap, ok := <-snapshots:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return ErrStreamEnded
			}
			draw(Markers(snap))
		}
	}
}

// transition must be called with mu held.
func (c *Controller) transition(to State) {
	c.log.Debug().Stringer("from", c.state).Stringer("to", to).Msg("flow transition")
	c.state = to
}

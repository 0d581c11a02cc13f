package experiment

import (
	"errors"
	"time"

	"github.com/dmitrymomot/experimentkit/pkg/statemachine"
)

// Action is a lifecycle command applied to an experiment.
type Action string

const (
	ActionStart    Action = "start"
	ActionPause    Action = "pause"
	ActionResume   Action = "resume"
	ActionComplete Action = "complete"
	ActionStop     Action = "stop"
)

type change struct {
	exp *Experiment
	now time.Time
}

var lifecycle = statemachine.NewBuilder[Status, Action, *change]().
	Permit(ActionStart, StatusRunning, StatusDraft).
	Permit(ActionPause, StatusPaused, StatusRunning).
	Permit(ActionResume, StatusRunning, StatusPaused).
	Permit(ActionComplete, StatusCompleted, StatusRunning, StatusPaused).
	Permit(ActionStop, StatusStopped, StatusDraft, StatusRunning, StatusPaused).
	OnEnter(StatusRunning, func(c *change, _, _ Status) error {
		if c.exp.StartDate == nil {
			start := c.now
			c.exp.StartDate = &start
		}
		return nil
	}).
	OnEnter(StatusCompleted, setEndDate).
	OnEnter(StatusStopped, setEndDate).
	MustBuild()

func setEndDate(c *change, _, _ Status) error {
	end := c.now
	c.exp.EndDate = &end
	return nil
}

// CanTransition reports whether action is allowed from status.
func CanTransition(status Status, action Action) bool {
	return lifecycle.CanFire(status, action)
}

// AvailableActions lists the actions allowed from status.
func AvailableActions(status Status) []Action {
	return lifecycle.Events(status)
}

// Transition applies action to e in place. Starting sets StartDate when it is
// unset; completing and stopping set EndDate.
func Transition(e *Experiment, action Action, now time.Time) error {
	next, err := lifecycle.Fire(&change{exp: e, now: now}, e.Status, action)
	if err != nil {
		return errors.Join(ErrInvalidTransition, err)
	}
	e.Status = next
	e.UpdatedAt = now
	return nil
}

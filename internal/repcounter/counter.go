// Package repcounter turns a stream of pose frames into repetition counts.
//
// A Counter is owned by exactly one participant for one session. It is not safe
// for concurrent use: the per-frame pipeline drives it synchronously.
package repcounter

import (
	"errors"
	"fmt"
	"math"

	"github.com/mossy-p/repsync/internal/exercise"
	"github.com/mossy-p/repsync/internal/pose"
)

var ErrFrameDropped = errors.New("frame dropped")

const defaultMinConfidence = 0.5

// Direction is the phase the counter is waiting for.
type Direction int

const (
	WaitingForExtension Direction = iota
	WaitingForContraction
)

func (d Direction) String() string {
	if d == WaitingForContraction {
		return "waiting_for_contraction"
	}
	return "waiting_for_extension"
}

// State is a snapshot of the counter.
type State struct {
	Direction Direction
	Count     int
}

// EventKind distinguishes what a step produced.
type EventKind int

const (
	EventNone EventKind = iota
	EventArmed
	EventRep
	EventReset
)

// Event is the outcome of one observation.
type Event struct {
	Kind  EventKind
	Count int
}

// FeedbackSink receives audible/visual feedback. Implementations must not block.
type FeedbackSink interface {
	OnRep(count int)
	OnReset()
}

type nopSink struct{}

func (nopSink) OnRep(int) {}
func (nopSink) OnReset()  {}

type Option func(*Counter)

// WithMinConfidence drops frames whose overall confidence is below c.
func WithMinConfidence(c float64) Option {
	return func(rc *Counter) { rc.minConfidence = c }
}

// WithMinVisibility treats landmarks below v as missing.
func WithMinVisibility(v float64) Option {
	return func(rc *Counter) { rc.minVisibility = v }
}

// Counter is the hysteresis state machine parametrized by an exercise profile.
type Counter struct {
	profile exercise.Profile
	sink    FeedbackSink

	minConfidence float64
	minVisibility float64

	direction  Direction
	count      int
	hasCounted bool
}

// New returns a fresh counter in WaitingForExtension with count 0.
func New(profile exercise.Profile, sink FeedbackSink, opts ...Option) *Counter {
	if sink == nil {
		sink = nopSink{}
	}
	c := &Counter{
		profile:       profile,
		sink:          sink,
		minConfidence: defaultMinConfidence,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Counter) Profile() exercise.Profile {
	return c.profile
}

func (c *Counter) State() State {
	return State{Direction: c.direction, Count: c.count}
}

// Observe computes the profile's joint angles from the frame and advances the
// machine. Unusable frames return ErrFrameDropped and leave the state untouched.
func (c *Counter) Observe(f *pose.Frame) (Event, error) {
	if f == nil || len(f.Skeleton) == 0 {
		return Event{}, fmt.Errorf("no skeleton: %w", ErrFrameDropped)
	}
	if f.Confidence < c.minConfidence {
		return Event{}, fmt.Errorf("confidence %.2f: %w", f.Confidence, ErrFrameDropped)
	}

	primary := make([]int, len(c.profile.Primary))
	for i, joint := range c.profile.Primary {
		deg, err := f.Skeleton.JointAngle(joint, f.Width, f.Height, c.minVisibility)
		if err != nil {
			return Event{}, fmt.Errorf("%w: %w", ErrFrameDropped, err)
		}
		primary[i] = round(deg)
	}

	postural := make([]int, len(c.profile.Postural))
	for i, band := range c.profile.Postural {
		deg, err := f.Skeleton.JointAngle(band.Joint, f.Width, f.Height, c.minVisibility)
		if err != nil {
			return Event{}, fmt.Errorf("%w: %w", ErrFrameDropped, err)
		}
		postural[i] = round(deg)
	}

	return c.Step(primary, postural), nil
}

// Step advances the machine with already rounded angles, ordered as the
// profile's Primary and Postural slices.
func (c *Counter) Step(primary, postural []int) Event {
	if len(primary) != len(c.profile.Primary) || len(postural) != len(c.profile.Postural) {
		return Event{}
	}

	stable := c.posturalHolds(postural)

	switch c.direction {
	case WaitingForExtension:
		if stable && all(primary, c.profile.Extended.Satisfied) {
			c.direction = WaitingForContraction
			c.hasCounted = false
			return Event{Kind: EventArmed, Count: c.count}
		}
	case WaitingForContraction:
		if c.profile.SingleCrossing && c.hasCounted {
			return Event{}
		}
		if stable && all(primary, c.profile.Contracted.Satisfied) {
			c.count++
			c.direction = WaitingForExtension
			c.hasCounted = true
			c.sink.OnRep(c.count)
			return Event{Kind: EventRep, Count: c.count}
		}
	}
	return Event{}
}

// Reset zeroes the count and re-arms the machine.
func (c *Counter) Reset() Event {
	c.count = 0
	c.direction = WaitingForExtension
	c.hasCounted = false
	c.sink.OnReset()
	return Event{Kind: EventReset}
}

func (c *Counter) posturalHolds(angles []int) bool {
	for i, band := range c.profile.Postural {
		if !band.Contains(angles[i]) {
			return false
		}
	}
	return true
}

func all(angles []int, pred func(int) bool) bool {
	for _, a := range angles {
		if !pred(a) {
			return false
		}
	}
	return true
}

func round(deg float64) int {
	return int(math.Round(deg))
}

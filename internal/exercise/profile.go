package exercise

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mossy-p/repsync/internal/pose"
)

var ErrUnknownExercise = errors.New("unknown exercise")

// Kind enumerates the supported exercises.
type Kind int

const (
	BicepCurl Kind = iota + 1
	Squat
	PushUp
	Crunch
)

var kindNames = map[Kind]string{
	BicepCurl: "bicep-curl",
	Squat:     "squat",
	PushUp:    "push-up",
	Crunch:    "crunch",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// ParseKind resolves a wire name into a Kind.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "bicep-curl", "bicep_curl", "bicepcurls", "bicep-curls":
		return BicepCurl, nil
	case "squat", "squats":
		return Squat, nil
	case "push-up", "pushup", "push-ups", "pushups":
		return PushUp, nil
	case "crunch", "crunches":
		return Crunch, nil
	}
	return 0, fmt.Errorf("%q: %w", s, ErrUnknownExercise)
}

func (k Kind) MarshalText() ([]byte, error) {
	if _, ok := kindNames[k]; !ok {
		return nil, fmt.Errorf("kind %d: %w", int(k), ErrUnknownExercise)
	}
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(b []byte) error {
	parsed, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Op is a threshold comparison.
type Op int

const (
	AtMost Op = iota
	AtLeast
	Below
	Above
)

// Threshold is satisfied by an integer angle when the comparison holds.
type Threshold struct {
	Op      Op
	Degrees int
}

func (t Threshold) Satisfied(angle int) bool {
	switch t.Op {
	case AtMost:
		return angle <= t.Degrees
	case AtLeast:
		return angle >= t.Degrees
	case Below:
		return angle < t.Degrees
	case Above:
		return angle > t.Degrees
	}
	return false
}

// Band is an inclusive stability range for an auxiliary joint.
type Band struct {
	Joint    pose.Triple
	Min, Max int
}

func (b Band) Contains(angle int) bool {
	return angle >= b.Min && angle <= b.Max
}

// Profile is the immutable rep-counting configuration for one exercise.
type Profile struct {
	Kind       Kind
	Primary    []pose.Triple
	Contracted Threshold
	Extended   Threshold
	Postural   []Band
	// SingleCrossing counts once per down crossing and re-arms only on the
	// next up detection.
	SingleCrossing bool
}


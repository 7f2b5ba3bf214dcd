package exercise

import (
	"fmt"

	"github.com/mossy-p/repsync/internal/pose"
)

var (
	leftElbow  = pose.Triple{A: pose.LeftShoulder, B: pose.LeftElbow, C: pose.LeftWrist}
	rightElbow = pose.Triple{A: pose.RightShoulder, B: pose.RightElbow, C: pose.RightWrist}
	leftKnee   = pose.Triple{A: pose.LeftHip, B: pose.LeftKnee, C: pose.LeftAnkle}
	rightKnee  = pose.Triple{A: pose.RightHip, B: pose.RightKnee, C: pose.RightAnkle}
	leftHip    = pose.Triple{A: pose.LeftShoulder, B: pose.LeftHip, C: pose.LeftKnee}
	rightHip   = pose.Triple{A: pose.RightShoulder, B: pose.RightHip, C: pose.RightKnee}
)

func hips(min, max int) []Band {
	return []Band{
		{Joint: leftHip, Min: min, Max: max},
		{Joint: rightHip, Min: min, Max: max},
	}
}

var profiles = map[Kind]Profile{
	BicepCurl: {
		Kind:       BicepCurl,
		Primary:    []pose.Triple{leftElbow, rightElbow},
		Contracted: Threshold{Op: AtMost, Degrees: 20},
		Extended:   Threshold{Op: AtLeast, Degrees: 90},
		Postural:   hips(170, 180),
	},
	Squat: {
		Kind:       Squat,
		Primary:    []pose.Triple{leftKnee, rightKnee},
		Contracted: Threshold{Op: AtMost, Degrees: 110},
		Extended:   Threshold{Op: AtLeast, Degrees: 150},
		Postural:   hips(140, 180),
	},
	// released as soon as the elbows leave the contracted range
	PushUp: {
		Kind:       PushUp,
		Primary:    []pose.Triple{leftElbow, rightElbow},
		Contracted: Threshold{Op: AtMost, Degrees: 60},
		Extended:   Threshold{Op: Above, Degrees: 60},
		Postural:   hips(160, 180),
	},
	Crunch: {
		Kind:           Crunch,
		Primary:        []pose.Triple{rightHip},
		Contracted:     Threshold{Op: Below, Degrees: 50},
		Extended:       Threshold{Op: Above, Degrees: 130},
		SingleCrossing: true,
	},
}

// Lookup returns the profile for an exercise.
func Lookup(k Kind) (Profile, error) {
	p, ok := profiles[k]
	if !ok {
		return Profile{}, fmt.Errorf("kind %d: %w", int(k), ErrUnknownExercise)
	}
	return p, nil
}

// Resolve parses a wire name and returns its profile.
func Resolve(name string) (Profile, error) {
	k, err := ParseKind(name)
	if err != nil {
		return Profile{}, err
	}
	return Lookup(k)
}

// Kinds lists supported exercises in a stable order.
func Kinds() []Kind {
	return []Kind{BicepCurl, Squat, PushUp, Crunch}
}

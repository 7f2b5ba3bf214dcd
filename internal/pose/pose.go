package pose

import (
	"errors"
	"fmt"
	"math"
)

var ErrMissingLandmark = errors.New("missing landmark")

// Keypoint is a normalized (0..1) 2D landmark position as delivered by the pose oracle.
type Keypoint struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Visibility float64 `json:"visibility,omitempty"`
}

// Scale converts a normalized keypoint into frame pixel coordinates.
func (k Keypoint) Scale(width, height float64) Keypoint {
	return Keypoint{X: k.X * width, Y: k.Y * height, Visibility: k.Visibility}
}

func (k Keypoint) valid() bool {
	return !math.IsNaN(k.X) && !math.IsNaN(k.Y) && !math.IsInf(k.X, 0) && !math.IsInf(k.Y, 0)
}

// Skeleton is the ordered list of keypoints for one processed frame.
type Skeleton []Keypoint

// Point returns the landmark scaled to pixel coordinates. minVisibility of 0 disables
// the visibility check.
func (s Skeleton) Point(l Landmark, width, height, minVisibility float64) (Keypoint, error) {
	if l < 0 || int(l) >= len(s) {
		return Keypoint{}, fmt.Errorf("%s: %w", l, ErrMissingLandmark)
	}
	k := s[l]
	if !k.valid() || k.Visibility < minVisibility {
		return Keypoint{}, fmt.Errorf("%s: %w", l, ErrMissingLandmark)
	}
	return k.Scale(width, height), nil
}

// Frame is one pose oracle callback.
type Frame struct {
	Skeleton   Skeleton `json:"landmarks"`
	Width      float64  `json:"width"`
	Height     float64  `json:"height"`
	Confidence float64  `json:"confidence"`
}

// Angle returns the angle at vertex p2 formed by p2->p1 and p2->p3, in degrees within
// [0,180]. ok is false when either vector has zero length.
func Angle(p1, p2, p3 Keypoint) (float64, bool) {
	if (p1.X == p2.X && p1.Y == p2.Y) || (p3.X == p2.X && p3.Y == p2.Y) {
		return 0, false
	}

	h1 := math.Atan2(p1.Y-p2.Y, p1.X-p2.X)
	h3 := math.Atan2(p3.Y-p2.Y, p3.X-p2.X)
	deg := math.Abs(h1-h3) * 180 / math.Pi
	if deg > 180 {
		deg = 360 - deg
	}
	return deg, true
}

// JointAngle resolves a triple on the skeleton and returns the angle at its vertex.
func (s Skeleton) JointAngle(t Triple, width, height, minVisibility float64) (float64, error) {
	a, err := s.Point(t.A, width, height, minVisibility)
	if err != nil {
		return 0, err
	}
	b, err := s.Point(t.B, width, height, minVisibility)
	if err != nil {
		return 0, err
	}
	c, err := s.Point(t.C, width, height, minVisibility)
	if err != nil {
		return 0, err
	}
	deg, ok := Angle(a, b, c)
	if !ok {
		return 0, fmt.Errorf("%s: degenerate joint: %w", t, ErrMissingLandmark)
	}
	return deg, nil
}

// Package posetest builds synthetic skeletons for tests.
package posetest

import (
	"math"

	"github.com/mossy-p/repsync/internal/pose"
)

// CurlFrame builds a skeleton whose elbows bend to elbow degrees and whose
// hips (shoulder-hip-knee) open to hip degrees, on both sides.
func CurlFrame(elbow, hip float64) *pose.Frame {
	s := make(pose.Skeleton, pose.SkeletonSize)
	place := func(shoulder, elbowL, wrist, hipL, knee pose.Landmark, x float64) {
		sh := pose.Keypoint{X: x, Y: 0.2, Visibility: 1}
		el := pose.Keypoint{X: x, Y: 0.35, Visibility: 1}
		wr := bend(el, elbow, 0.15)
		hp := pose.Keypoint{X: x, Y: 0.5, Visibility: 1}
		kn := bend(hp, hip, 0.3)
		s[shoulder], s[elbowL], s[wrist], s[hipL], s[knee] = sh, el, wr, hp, kn
	}
	place(pose.LeftShoulder, pose.LeftElbow, pose.LeftWrist, pose.LeftHip, pose.LeftKnee, 0.6)
	place(pose.RightShoulder, pose.RightElbow, pose.RightWrist, pose.RightHip, pose.RightKnee, 0.4)
	return &pose.Frame{Skeleton: s, Width: 640, Height: 640, Confidence: 0.9}
}

// CurlSequence returns the frames of n full curls starting and ending extended.
func CurlSequence(n int) []*pose.Frame {
	frames := []*pose.Frame{CurlFrame(170, 175)}
	for i := 0; i < n; i++ {
		frames = append(frames, CurlFrame(95, 175), CurlFrame(20, 175), CurlFrame(95, 175), CurlFrame(170, 175))
	}
	return frames
}

// bend places a point length away from joint so that the angle it forms with
// the point straight above the joint is degrees.
func bend(joint pose.Keypoint, degrees, length float64) pose.Keypoint {
	r := degrees * math.Pi / 180
	return pose.Keypoint{
		X:          joint.X + length*math.Sin(r),
		Y:          joint.Y - length*math.Cos(r),
		Visibility: 1,
	}
}

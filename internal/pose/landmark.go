package pose

// Landmark is an index into a Skeleton following the 33-point MediaPipe body schema.
type Landmark int

const (
	Nose Landmark = iota
	LeftEyeInner
	LeftEye
	LeftEyeOuter
	RightEyeInner
	RightEye
	RightEyeOuter
	LeftEar
	RightEar
	MouthLeft
	MouthRight
	LeftShoulder
	RightShoulder
	LeftElbow
	RightElbow
	LeftWrist
	RightWrist
	LeftPinky
	RightPinky
	LeftIndex
	RightIndex
	LeftThumb
	RightThumb
	LeftHip
	RightHip
	LeftKnee
	RightKnee
	LeftAnkle
	RightAnkle
	LeftHeel
	RightHeel
	LeftFootIndex
	RightFootIndex
)

// SkeletonSize is the number of landmarks the pose oracle delivers per frame.
const SkeletonSize = 33

var landmarkNames = [SkeletonSize]string{
	"nose", "left_eye_inner", "left_eye", "left_eye_outer",
	"right_eye_inner", "right_eye", "right_eye_outer",
	"left_ear", "right_ear", "mouth_left", "mouth_right",
	"left_shoulder", "right_shoulder", "left_elbow", "right_elbow",
	"left_wrist", "right_wrist", "left_pinky", "right_pinky",
	"left_index", "right_index", "left_thumb", "right_thumb",
	"left_hip", "right_hip", "left_knee", "right_knee",
	"left_ankle", "right_ankle", "left_heel", "right_heel",
	"left_foot_index", "right_foot_index",
}

func (l Landmark) String() string {
	if l < 0 || int(l) >= SkeletonSize {
		return "unknown"
	}
	return landmarkNames[l]
}

// Triple names the three landmarks forming a joint; B is the vertex.
type Triple struct {
	A, B, C Landmark
}

func (t Triple) String() string {
	return t.A.String() + "-" + t.B.String() + "-" + t.C.String()
}

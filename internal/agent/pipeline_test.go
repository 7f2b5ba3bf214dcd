package agent

import (
	"testing"

	"github.com/mossy-p/repsync/internal/exercise"
	"github.com/mossy-p/repsync/internal/pose"
	"github.com/mossy-p/repsync/internal/pose/posetest"
	"github.com/mossy-p/repsync/internal/repcounter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	counts []int
}

func (p *recordingPublisher) Publish(count int) {
	p.counts = append(p.counts, count)
}

func newCurlPipeline(t *testing.T) (*Pipeline, *recordingPublisher) {
	t.Helper()
	profile, err := exercise.Lookup(exercise.BicepCurl)
	require.NoError(t, err)
	pub := &recordingPublisher{}
	return NewPipeline(repcounter.New(profile, nil), pub), pub
}

func TestPipeline_PublishesEachRep(t *testing.T) {
	p, pub := newCurlPipeline(t)

	reps := 0
	for _, frame := range posetest.CurlSequence(3) {
		if ev := p.Process(frame); ev.Kind == repcounter.EventRep {
			reps++
		}
	}

	assert.Equal(t, 3, reps)
	assert.Equal(t, []int{1, 2, 3}, pub.counts)
	assert.Equal(t, 3, p.State().Count)
}

func TestPipeline_DropsUnusableFrames(t *testing.T) {
	p, pub := newCurlPipeline(t)

	lowConfidence := posetest.CurlFrame(20, 175)
	lowConfidence.Confidence = 0.1

	ev := p.Process(&pose.Frame{})
	assert.Equal(t, repcounter.EventNone, ev.Kind)
	p.Process(lowConfidence)

	assert.Equal(t, 2, p.Dropped())
	assert.Empty(t, pub.counts)
	assert.Equal(t, repcounter.WaitingForExtension, p.State().Direction)
}

func TestPipeline_ResetPublishesZero(t *testing.T) {
	p, pub := newCurlPipeline(t)

	for _, frame := range posetest.CurlSequence(2) {
		p.Process(frame)
	}
	ev := p.Reset()

	assert.Equal(t, repcounter.EventReset, ev.Kind)
	assert.Equal(t, []int{1, 2, 0}, pub.counts)
	assert.Zero(t, p.State().Count)
}

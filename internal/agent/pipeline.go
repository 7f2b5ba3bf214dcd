package agent

import (
	"errors"

	"github.com/mossy-p/repsync/internal/pose"
	"github.com/mossy-p/repsync/internal/repcounter"
	log "github.com/sirupsen/logrus"
)

// CountPublisher receives every count change.
type CountPublisher interface {
	Publish(count int)
}

// Pipeline feeds frames through a rep counter and publishes count changes.
// It is not safe for concurrent use: one pipeline serves one camera.
type Pipeline struct {
	counter   *repcounter.Counter
	publisher CountPublisher
	dropped   int
}

func NewPipeline(counter *repcounter.Counter, publisher CountPublisher) *Pipeline {
	return &Pipeline{counter: counter, publisher: publisher}
}

// Process handles one frame. Unusable frames are dropped without error.
func (p *Pipeline) Process(frame *pose.Frame) repcounter.Event {
	ev, err := p.counter.Observe(frame)
	if err != nil {
		if errors.Is(err, repcounter.ErrFrameDropped) {
			p.dropped++
			log.WithError(err).Trace("frame dropped")
		}
		return repcounter.Event{Kind: repcounter.EventNone, Count: p.counter.State().Count}
	}
	if ev.Kind == repcounter.EventRep {
		p.publisher.Publish(ev.Count)
	}
	return ev
}

// Reset zeroes the counter and publishes the reset count.
func (p *Pipeline) Reset() repcounter.Event {
	ev := p.counter.Reset()
	p.publisher.Publish(ev.Count)
	return ev
}

func (p *Pipeline) State() repcounter.State {
	return p.counter.State()
}

// Dropped returns the number of frames that could not be used.
func (p *Pipeline) Dropped() int {
	return p.dropped
}

package feedback

import (
	"strconv"

	"github.com/mossy-p/repsync/internal/repcounter"
	log "github.com/sirupsen/logrus"
)

// ResetPhrase is announced instead of a number when the count is reset.
const ResetPhrase = "Please start again"

// Speaker voices a phrase. Implementations must return promptly.
type Speaker interface {
	Say(phrase string)
}

// Announcer turns counter events into spoken phrases.
type Announcer struct {
	speaker Speaker
}

func NewAnnouncer(s Speaker) *Announcer {
	return &Announcer{speaker: s}
}

func (a *Announcer) OnRep(count int) {
	a.speaker.Say(strconv.Itoa(count))
}

func (a *Announcer) OnReset() {
	a.speaker.Say(ResetPhrase)
}

// LogSpeaker writes phrases to the logger.
type LogSpeaker struct {
	Exercise string
}

func (l LogSpeaker) Say(phrase string) {
	log.WithField("exercise", l.Exercise).Infof("announce: %s", phrase)
}

// Multi fans events out to several sinks in order.
type Multi []repcounter.FeedbackSink

func (m Multi) OnRep(count int) {
	for _, s := range m {
		s.OnRep(count)
	}
}

func (m Multi) OnReset() {
	for _, s := range m {
		s.OnReset()
	}
}

// Func adapts plain functions into a sink; nil fields are skipped.
type Func struct {
	Rep   func(count int)
	Reset func()
}

func (f Func) OnRep(count int) {
	if f.Rep != nil {
		f.Rep(count)
	}
}

func (f Func) OnReset() {
	if f.Reset != nil {
		f.Reset()
	}
}

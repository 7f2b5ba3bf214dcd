package agent

import (
	"sync"

	log "github.com/sirupsen/logrus"
)

// CountSender writes a count to the session.
type CountSender interface {
	SendCount(count int) error
}

// Publisher reports counts without blocking the frame loop. Counts published
// faster than they can be written are coalesced: only the latest is sent. A
// reset to zero is never coalesced away, since the server only accepts a lower
// count when it is zero.
type Publisher struct {
	sender CountSender

	mu      sync.Mutex
	latest  int
	pending bool
	reset   bool

	wake chan struct{}
	stop chan struct{}
	done chan struct{}
	once sync.Once
}

func NewPublisher(sender CountSender) *Publisher {
	p := &Publisher{
		sender: sender,
		wake:   make(chan struct{}, 1),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go p.run()
	return p
}

// Publish records count as the latest value to report.
func (p *Publisher) Publish(count int) {
	p.mu.Lock()
	p.latest = count
	p.pending = true
	if count == 0 {
		p.reset = true
	}
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Close flushes the latest unsent count and stops the publisher.
func (p *Publisher) Close() {
	p.once.Do(func() { close(p.stop) })
	<-p.done
}

func (p *Publisher) run() {
	defer close(p.done)
	for {
		select {
		case <-p.wake:
			p.flush()
		case <-p.stop:
			p.flush()
			return
		}
	}
}

func (p *Publisher) flush() {
	p.mu.Lock()
	if !p.pending {
		p.mu.Unlock()
		return
	}
	count, reset := p.latest, p.reset
	p.pending, p.reset = false, false
	p.mu.Unlock()

	if reset && count != 0 {
		p.send(0)
	}
	p.send(count)
}

func (p *Publisher) send(count int) {
	if err := p.sender.SendCount(count); err != nil {
		// the next count supersedes this one
		log.WithError(err).WithField("count", count).Warn("failed to publish count")
	}
}

package adapter

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dtalk/dtalk-ack-adapter/broker/message"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var (
	sweepFrequency    = 1 * time.Second
	finishedRetention = 10 * time.Minute
)

// pendingBuffer is the number of acks queued for a command before PROGRESS
// updates start being dropped.
const pendingBuffer = 32

// CommandKey identifies one command invocation.
type CommandKey struct {
	DeviceID int32
	CmdSn    int64
}

// KeyOf returns the key of the command that ack responds to.
func KeyOf(ack *message.Ack) CommandKey {
	return CommandKey{DeviceID: ack.DeviceID, CmdSn: ack.CmdSn}
}

func (k CommandKey) String() string {
	return fmt.Sprintf("device%d@%d", k.DeviceID, k.CmdSn)
}

// Correlation is the outcome of delivering an ack to the tracker.
type Correlation int

const (
	// Uncorrelated means that the command is not tracked here.
	Uncorrelated Correlation = iota

	// Correlated means that the ack was queued for its command.
	Correlated

	// Late means that the command already finished.
	Late
)

func (c Correlation) String() string {
	switch c {
	case Correlated:
		return "correlated"
	case Late:
		return "late"
	default:
		return "uncorrelated"
	}
}

// Pending is a command awaiting its terminal ack.
type Pending struct {
	Key      CommandKey
	timeout  time.Duration
	deadline time.Time
	acks     chan *message.Ack
}

// Acks returns the acks received for the command. The channel is closed
// after the terminal ack.
func (p *Pending) Acks() <-chan *message.Ack {
	return p.acks
}

// Wait blocks until the terminal ack is received.
func (p *Pending) Wait(ctx context.Context) (*message.Ack, error) {
	var last *message.Ack
	for {
		select {
		case ack, ok := <-p.acks:
			if !ok {
				if last == nil || !last.Status.Terminal() {
					return nil, errors.Errorf("%s was released before completion", p.Key)
				}
				return last, nil
			}
			last = ack
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// push queues ack without blocking. Terminal acks make room by dropping the
// oldest queued ack; other acks are dropped when the queue is full.
func (p *Pending) push(ack *message.Ack) bool {
	select {
	case p.acks <- ack:
		return true
	default:
	}
	if !ack.Status.Terminal() {
		return false
	}
	select {
	case <-p.acks:
	default:
	}
	p.acks <- ack
	return true
}

// Tracker correlates acks with the commands issued by this process, keyed by
// device and command sequence number. Commands that do not see a terminal ack
// before their deadline are finished with a TIMEOUT ack made locally.
type Tracker struct {
	logger    logrus.FieldLogger
	now       func() time.Time
	pending   map[CommandKey]*Pending
	finished  map[CommandKey]time.Time
	onTimeout func(*message.Ack)
	stopCh    chan chan struct{}
	sync.Mutex
}

// NewTracker returns a usable tracker.
func NewTracker(logger logrus.FieldLogger) *Tracker {
	t := newTracker(logger)
	go t.loop()
	return t
}

func newTracker(logger logrus.FieldLogger) *Tracker {
	return &Tracker{
		logger:   logger,
		now:      time.Now,
		pending:  make(map[CommandKey]*Pending),
		finished: make(map[CommandKey]time.Time),
		stopCh:   make(chan chan struct{}),
	}
}

// OnTimeout registers a function called with every TIMEOUT ack made by the
// tracker.
func (t *Tracker) OnTimeout(fn func(*message.Ack)) {
	t.Lock()
	defer t.Unlock()
	t.onTimeout = fn
}

// Track starts tracking a command. A non-positive timeout disables the
// deadline.
func (t *Tracker) Track(deviceID int32, cmdSn int64, timeout time.Duration) (*Pending, error) {
	key := CommandKey{DeviceID: deviceID, CmdSn: cmdSn}
	t.Lock()
	defer t.Unlock()
	if _, ok := t.pending[key]; ok {
		return nil, errors.Errorf("%s is already tracked", key)
	}
	p := &Pending{
		Key:     key,
		timeout: timeout,
		acks:    make(chan *message.Ack, pendingBuffer),
	}
	if timeout > 0 {
		p.deadline = t.now().Add(timeout)
	}
	t.pending[key] = p
	delete(t.finished, key)
	return p, nil
}

// Release stops tracking a command without waiting for its terminal ack.
func (t *Tracker) Release(key CommandKey) {
	t.Lock()
	defer t.Unlock()
	if p, ok := t.pending[key]; ok {
		t.finish(key, p)
	}
}

// Deliver hands an ack to the command it responds to.
func (t *Tracker) Deliver(ack *message.Ack) Correlation {
	key := KeyOf(ack)
	t.Lock()
	defer t.Unlock()
	p, ok := t.pending[key]
	if !ok {
		if _, done := t.finished[key]; done {
			return Late
		}
		return Uncorrelated
	}
	if !p.push(ack) {
		t.logger.WithField("command", key.String()).Warn("Ack queue is full, dropping ", ack.Status)
	}
	if ack.Status.Terminal() {
		t.finish(key, p)
	}
	return Correlated
}

// finish must be called with the lock held.
func (t *Tracker) finish(key CommandKey, p *Pending) {
	delete(t.pending, key)
	close(p.acks)
	t.finished[key] = t.now()
}

// Len returns the number of outstanding commands.
func (t *Tracker) Len() int {
	t.Lock()
	defer t.Unlock()
	return len(t.pending)
}

// sweep finishes the commands whose deadline has passed and forgets the
// commands that finished long ago.
func (t *Tracker) sweep() {
	var expired []*message.Ack

	t.Lock()
	now := t.now()
	for key, p := range t.pending {
		if p.deadline.IsZero() || now.Before(p.deadline) {
			continue
		}
		ack := new(message.Ack).
			SetDeviceID(key.DeviceID).
			SetCmdSn(key.CmdSn).
			SetStatus(message.StatusTimeout).
			SetStatusMessage(fmt.Sprintf("no terminal ack within %s", p.timeout))
		p.push(ack)
		t.finish(key, p)
		expired = append(expired, ack)
	}
	for key, at := range t.finished {
		if now.Sub(at) > finishedRetention {
			delete(t.finished, key)
		}
	}
	onTimeout := t.onTimeout
	t.Unlock()

	for _, ack := range expired {
		t.logger.WithField("command", KeyOf(ack).String()).Warn("Command timed out")
		if onTimeout != nil {
			onTimeout(ack)
		}
	}
}

func (t *Tracker) loop() {
	ticker := time.NewTicker(sweepFrequency)
	defer ticker.Stop()
	for {
		select {
		case ch := <-t.stopCh:
			close(ch)
			return
		case <-ticker.C:
			t.sweep()
		}
	}
}

// Log writes the outstanding commands to the logger.
func (t *Tracker) Log() {
	t.Lock()
	defer t.Unlock()
	for key, p := range t.pending {
		t.logger.WithFields(logrus.Fields{
			"command":  key.String(),
			"deadline": p.deadline,
			"queued":   len(p.acks),
		}).Warn("Outstanding command found")
	}
}

func (t *Tracker) Stop() {
	ch := make(chan struct{})
	t.stopCh <- ch
	<-ch
}

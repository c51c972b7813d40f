package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dtalk/dtalk-ack-adapter/broker"
	"github.com/dtalk/dtalk-ack-adapter/broker/message"
	"github.com/dtalk/dtalk-ack-adapter/s3"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Adapter is the core of the adapter.
//
// It uses a broker to subscribe to the ack queue, hands every ack to the
// tracker of outstanding commands, records the last state of each command and
// archives the final acks. It employs an internal storage.
type Adapter struct {
	logger     logrus.FieldLogger
	broker     *broker.Broker
	tracker    *Tracker
	s3         s3.ObjectStorage
	archiveURI string
	storage    Storage
	now        func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	stop   chan chan struct{}
}

func New(
	logger logrus.FieldLogger,
	broker *broker.Broker,
	tracker *Tracker,
	s3 s3.ObjectStorage,
	archiveURI string,
	storage Storage) *Adapter {

	c := &Adapter{
		logger:     logger,
		broker:     broker,
		tracker:    tracker,
		s3:         s3,
		archiveURI: archiveURI,
		storage:    storage,
		now:        time.Now,
		stop:       make(chan chan struct{}),
	}

	c.ctx, c.cancel = context.WithCancel(context.Background())

	c.broker.SubscribeAll(c.handleAck)
	c.tracker.OnTimeout(c.handleTimeout)

	return c
}

// Tracker returns the tracker of outstanding commands.
func (c *Adapter) Tracker() *Tracker {
	return c.tracker
}

// Command returns the last known state of a command.
func (c *Adapter) Command(ctx context.Context, deviceID int32, cmdSn int64) (*CommandState, error) {
	return c.storage.GetCommandState(ctx, deviceID, cmdSn)
}

func (c *Adapter) Run() {
	go c.broker.Run()
	c.loop()
}

func (c *Adapter) loop() {
	select {
	case ch := <-c.stop:
		c.cancel()
		c.broker.Stop()
		c.tracker.Stop()
		close(ch)
		return
	}
}

func (c *Adapter) Stop() {
	ch := make(chan struct{})
	c.stop <- ch
	<-ch
}

func (c *Adapter) handleAck(ack *message.Ack) error {
	logger := c.logger.WithField("command", KeyOf(ack).String())
	switch c.tracker.Deliver(ack) {
	case Late:
		logger.WithField("status", ack.Status).Debug("Ignoring ack of a finished command")
		return nil
	case Uncorrelated:
		logger.Debug("Ack does not match an outstanding command")
	}
	return c.record(c.ctx, ack)
}

func (c *Adapter) handleTimeout(ack *message.Ack) {
	if err := c.record(c.ctx, ack); err != nil {
		c.logger.WithField("command", KeyOf(ack).String()).WithError(err).Error("Failed to record timeout")
	}
}

// record stores the state carried by ack and archives it when final.
func (c *Adapter) record(ctx context.Context, ack *message.Ack) error {
	summary, err := ack.Message()
	if err != nil {
		return err
	}
	logger := c.logger.WithField("command", KeyOf(ack).String())
	logger.Info(summary)

	state := NewCommandState(ack, summary, c.now())
	if err := c.storage.SaveCommandState(ctx, state); err != nil {
		if err == ErrCommandFinished {
			logger.WithField("status", ack.Status).Debug("Command state is final already")
			return nil
		}
		return errors.Wrap(err, "failed to save command state")
	}

	if !ack.Status.Terminal() || c.s3 == nil || c.archiveURI == "" {
		return nil
	}
	blob, err := json.Marshal(ack)
	if err != nil {
		return err
	}
	uri := archiveLocation(c.archiveURI, ack)
	if err := c.s3.Upload(ctx, bytes.NewReader(blob), uri); err != nil {
		return err
	}
	logger.WithField("uri", uri).Debug("Ack archived")
	return nil
}

// archiveLocation returns the URI of the archived copy of a final ack.
func archiveLocation(base string, ack *message.Ack) string {
	return fmt.Sprintf("%s/device%d/%d/%s.json", strings.TrimSuffix(base, "/"), ack.DeviceID, ack.CmdSn, ack.Status)
}

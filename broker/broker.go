package broker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	bErrors "github.com/dtalk/dtalk-ack-adapter/broker/errors"
	"github.com/dtalk/dtalk-ack-adapter/broker/message"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
	"github.com/aws/aws-sdk-go/service/sns"
	"github.com/aws/aws-sdk-go/service/sns/snsiface"
	"github.com/aws/aws-sdk-go/service/sqs"
	"github.com/aws/aws-sdk-go/service/sqs/sqsiface"
	"github.com/cenkalti/backoff/v3"
	"github.com/sirupsen/logrus"
)

const (
	// maxNumberOfMessages is the number of messages that we want to receive
	// from SQS incoming batches.
	maxNumberOfMessages = 1

	// waitTimeSeconds is the longest we're waiting on each SQS receive poll.
	waitTimeSeconds = 1

	// Message attributes carried next to the ack payload.
	attrAckID            = "ackId"
	attrErrorCode        = "errorCode"
	attrErrorDescription = "errorDescription"
)

// Broker exchanges acks through SQS and SNS.
//
// Acks are received from sqsQueueMainURL and sent to an internal channel
// (messages). The channel is unbuffered so the receiver controls how often we
// are going to receive from SQS. Each message is handled on its own
// goroutine.
//
// The message processor will:
//
// * Validate and decode the ack payload.
//
// * Reject acks that have been delivered before, using the ackId attribute.
//
// * Run the handler subscribed to the ack status and capture the returned
// error.
//
// Undecodable acks are forwarded to the invalid topic and acks whose handler
// failed to the error topic. Messages are deleted from SQS as soon as they're
// processed, including failures.
type Broker struct {
	logger             logrus.FieldLogger
	validator          message.Validator
	sqsClient          sqsiface.SQSAPI
	sqsQueueMainURL    string
	snsClient          snsiface.SNSAPI
	snsTopicMainARN    string
	snsTopicInvalidARN string
	snsTopicErrorARN   string
	ctx                context.Context
	cancel             context.CancelFunc
	messages           chan *sqs.Message
	stop               chan chan struct{}
	metrics            *Metrics
	newBackOff         func() backoff.BackOff
	subscriptions
	repository
}

// New returns a usable Broker. The local data repository is disabled when
// dynamodbTable is empty.
func New(
	logger logrus.FieldLogger, validator message.Validator,
	sqsClient sqsiface.SQSAPI, sqsQueueMainURL string,
	snsClient snsiface.SNSAPI, snsTopicMainARN, snsTopicInvalidARN, snsTopicErrorARN string,
	dynamodbClient dynamodbiface.DynamoDBAPI, dynamodbTable string,
	metrics *Metrics) *Broker {
	if metrics == nil {
		metrics = NewMetrics()
	}
	b := &Broker{
		logger:             logger,
		validator:          validator,
		sqsClient:          sqsClient,
		sqsQueueMainURL:    sqsQueueMainURL,
		snsClient:          snsClient,
		snsTopicMainARN:    snsTopicMainARN,
		snsTopicInvalidARN: snsTopicInvalidARN,
		snsTopicErrorARN:   snsTopicErrorARN,
		messages:           make(chan *sqs.Message),
		stop:               make(chan chan struct{}),
		metrics:            metrics,
		newBackOff:         defaultBackOff,
		repository:         repository{client: dynamodbClient, table: dynamodbTable},
	}
	b.ctx, b.cancel = context.WithCancel(context.Background())
	b.subscriptions.s = make(map[message.Status]AckHandler)

	go b.processor()

	return b
}

func defaultBackOff() backoff.BackOff {
	return &backoff.ExponentialBackOff{
		InitialInterval:     200 * time.Millisecond,
		RandomizationFactor: 0.5,
		Multiplier:          1.5,
		MaxInterval:         5 * time.Second,
		MaxElapsedTime:      30 * time.Second,
		Clock:               backoff.SystemClock,
	}
}

// Run starts the processing.
func (b *Broker) Run() {
	b.loop()
}

// processor of delivered messages. Processing is performed in two phases:
//
// Phase 1: validate, decode and record the delivery in the local data
// repository. This is blocking so duplicates are detected before the next
// message is received.
//
// Phase 2: launch a goroutine to hand the ack to a handler.
func (b *Broker) processor() {
	for m := range b.messages {
		ack, err := b.openMessage(m)
		if err != nil {
			b.deleteMessage(m.ReceiptHandle)
			continue
		}
		go b.processMessage(m, ack)
	}
}

// loop sends messages received from sqsQueueMainURL to the internal messages
// channel.
func (b *Broker) loop() {
	for {
		select {
		case ch := <-b.stop:
			b.cancel()
			close(b.messages)
			close(ch)
			return
		default:
			out, err := b.sqsClient.ReceiveMessageWithContext(b.ctx, &sqs.ReceiveMessageInput{
				QueueUrl:              aws.String(b.sqsQueueMainURL),
				MaxNumberOfMessages:   aws.Int64(maxNumberOfMessages),
				WaitTimeSeconds:       aws.Int64(waitTimeSeconds),
				MessageAttributeNames: aws.StringSlice([]string{"All"}),
			})
			if err != nil {
				b.logger.Errorf("Error receiving a message from SQS: %s", err)
				time.Sleep(1 * time.Second)
			} else {
				for _, m := range out.Messages {
					b.messages <- m
				}
			}
		}
	}
}

// openMessage performs initial validation and returns the underlying ack.
func (b *Broker) openMessage(m *sqs.Message) (*message.Ack, error) {
	b.metrics.IncomingAcks.Inc()

	var stream = []byte(aws.StringValue(m.Body))

	// We give up when the validator reports validation issues, but we'll
	// continue in case of other errors.
	result, err := b.validator.Validate(b.ctx, stream)
	var validErr = &message.ValidationError{}
	if errors.As(err, validErr) {
		b.invalidMessage(m, bErrors.NewWithError(bErrors.GENERR001, err))
		b.logger.Warning("Ack did not pass validation: ", validErr)
		return nil, err
	}
	if err != nil {
		b.logger.Warning("Validator reported a problem: ", err)
	} else {
		stream = result
	}

	ack, err := message.Decode(stream)
	if err != nil {
		b.invalidMessage(m, bErrors.NewWithError(bErrors.GENERR001, err))
		return nil, err
	}
	if ack.Status == message.StatusUnset {
		b.invalidMessage(m, bErrors.NewWithError(bErrors.GENERR001, message.ErrInvalidState))
		return nil, message.ErrInvalidState
	}

	id := deliveryID(m)
	seen, err := b.seenBeforeOrStore(b.ctx, id, ack)

	// Not having access to the local data repository should not be a reason
	// to prevent its processing.
	if err != nil {
		b.logger.Warning("Local data repository check failed: ", err)
		return ack, nil
	}

	if seen {
		b.logger.WithField("ackId", id).Warning("Ack found in the local data repository.")
		b.metrics.DuplicateAcks.Inc()
		return nil, errors.New("ack seen")
	}

	return ack, nil
}

// deliveryID returns the ackId attribute set by the publisher, or the SQS
// message ID when the publisher did not set one.
func deliveryID(m *sqs.Message) string {
	if attr, ok := m.MessageAttributes[attrAckID]; ok && attr != nil {
		if id := aws.StringValue(attr.StringValue); id != "" {
			return id
		}
	}
	return aws.StringValue(m.MessageId)
}

// processMessage hands the ack to the handler.
func (b *Broker) processMessage(m *sqs.Message, ack *message.Ack) {
	logger := b.logger.WithFields(logrus.Fields{
		"ackId":    deliveryID(m),
		"deviceId": ack.DeviceID,
		"cmdSn":    ack.CmdSn,
		"status":   ack.Status.String(),
	})

	var (
		err error
		wg  sync.WaitGroup
	)

	// Run the handler in panic recovery mode.
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("handler goroutine panic! %s %s", r, debug.Stack())
			}
		}()
		err = b.handleAck(ack)
	}()
	wg.Wait()

	if err != nil {
		logger.Error("Handler failure: ", err)
		b.errorMessage(m, bErrors.NewWithError(bErrors.GENERR006, err))
		return
	}

	b.deleteMessage(m.ReceiptHandle)
}

// deleteMessage does best effort to delete a message from SQS.
func (b *Broker) deleteMessage(receiptHandle *string) {
	_, err := b.sqsClient.DeleteMessageWithContext(b.ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(b.sqsQueueMainURL),
		ReceiptHandle: receiptHandle,
	})
	if err != nil {
		b.logger.Error("Message could not be removed from SQS: ", err)
	}
}

// publishMessage puts a message into a SNS topic, retrying with exponential
// backoff unless the error is permanent.
func (b *Broker) publishMessage(ctx context.Context, topicARN string, payload string, attrs map[string]string) error {
	input := &sns.PublishInput{
		Message:  aws.String(payload),
		TopicArn: aws.String(topicARN),
	}
	if len(attrs) > 0 {
		input.MessageAttributes = make(map[string]*sns.MessageAttributeValue, len(attrs))
		for k, v := range attrs {
			input.MessageAttributes[k] = &sns.MessageAttributeValue{
				DataType:    aws.String("String"),
				StringValue: aws.String(v),
			}
		}
	}
	return backoff.Retry(func() error {
		_, err := b.snsClient.PublishWithContext(ctx, input)
		if err != nil && permanentPublishError(err) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(b.newBackOff(), ctx))
}

func permanentPublishError(err error) bool {
	aerr, ok := err.(awserr.Error)
	if !ok {
		return false
	}
	switch aerr.Code() {
	case sns.ErrCodeInvalidParameterException,
		sns.ErrCodeInvalidParameterValueException,
		sns.ErrCodeNotFoundException,
		sns.ErrCodeAuthorizationErrorException:
		return true
	}
	return false
}

func errorAttributes(cause error) map[string]string {
	code, description := bErrors.Describe(cause)
	return map[string]string{
		attrErrorCode:        code,
		attrErrorDescription: description,
	}
}

// invalidMessage puts a message into the invalid topic.
func (b *Broker) invalidMessage(m *sqs.Message, cause error) {
	b.metrics.InvalidAcks.Inc()

	arn := b.snsTopicInvalidARN
	if arn == "" {
		b.logger.WithField("error-queue", "invalid[disabled]").Warn(cause)
		return
	}

	if err := b.publishMessage(b.ctx, arn, aws.StringValue(m.Body), errorAttributes(cause)); err != nil {
		b.logger.Error("A message could not be sent to the invalid topic: ", err)
		return
	}
	b.logger.Debug("Message sent to the invalid topic")
}

// errorMessage puts a message into the error topic.
func (b *Broker) errorMessage(m *sqs.Message, cause error) {
	defer b.deleteMessage(m.ReceiptHandle)

	arn := b.snsTopicErrorARN
	if arn == "" {
		b.logger.WithField("error-queue", "error[disabled]").Warn(cause)
		return
	}

	attrs := errorAttributes(cause)
	attrs[attrAckID] = deliveryID(m)
	if err := b.publishMessage(b.ctx, arn, aws.StringValue(m.Body), attrs); err != nil {
		b.logger.WithField("cause", cause).Error("A message could not be sent to the error topic: ", err)
		return
	}
	b.logger.Debug("Message sent to the error topic")
}

// Publish sends an ack to the main topic. The ack must have a status.
func (b *Broker) Publish(ctx context.Context, ack *message.Ack) error {
	if ack == nil || !ack.Status.Valid() {
		return message.ErrInvalidState
	}
	payload, err := ack.MarshalJSON()
	if err != nil {
		return err
	}
	attrs := map[string]string{attrAckID: message.NewAckID()}
	if err := b.publishMessage(ctx, b.snsTopicMainARN, string(payload), attrs); err != nil {
		return err
	}
	b.metrics.OutgoingAcks.Inc()
	return nil
}

// Stop blocks until the broker terminates.
func (b *Broker) Stop() {
	ch := make(chan struct{})
	b.stop <- ch
	<-ch
}

package broker

import (
	"context"
	"time"

	"github.com/dtalk/dtalk-ack-adapter/broker/message"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
	"github.com/pkg/errors"
)

// repositoryMessage is the record kept in the local data repository for each
// ack delivery.
type repositoryMessage struct {
	AckID    string `dynamodbav:"ID"`
	CmdSn    int64  `dynamodbav:"cmdSn"`
	DeviceID int32  `dynamodbav:"deviceId"`
	Status   string `dynamodbav:"status"`
	Received string `dynamodbav:"received"`
}

type repository struct {
	client dynamodbiface.DynamoDBAPI
	table  string
	now    func() time.Time
}

func (r *repository) enabled() bool {
	return r.client != nil && r.table != ""
}

// seenBeforeOrStore decides whether a delivery is known to this repository
// and records it otherwise. The conditional write makes the check atomic
// across adapter instances.
func (r *repository) seenBeforeOrStore(ctx context.Context, id string, ack *message.Ack) (bool, error) {
	if !r.enabled() {
		return false, nil
	}
	if id == "" {
		return false, errors.New("delivery has no identifier")
	}
	rMsg, err := r.toRepoMessage(id, ack)
	if err != nil {
		return false, err
	}
	item, err := dynamodbattribute.MarshalMap(rMsg)
	if err != nil {
		return false, errors.Wrap(err, "failed to marshal repository record")
	}
	_, err = r.client.PutItemWithContext(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(r.table),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(ID)"),
	})
	if aerr, ok := err.(awserr.Error); ok && aerr.Code() == dynamodb.ErrCodeConditionalCheckFailedException {
		return true, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "failed to store repository record")
	}
	return false, nil
}

func (r *repository) toRepoMessage(id string, ack *message.Ack) (*repositoryMessage, error) {
	if ack == nil {
		return nil, errors.New("ack is nil")
	}
	now := time.Now
	if r.now != nil {
		now = r.now
	}
	return &repositoryMessage{
		AckID:    id,
		CmdSn:    ack.CmdSn,
		DeviceID: ack.DeviceID,
		Status:   ack.Status.String(),
		Received: now().UTC().Format(time.RFC3339Nano),
	}, nil
}

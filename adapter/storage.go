package adapter

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

var (
	// ErrCommandNotFound is returned when the command has no state recorded.
	ErrCommandNotFound = errors.New("command not found")

	// ErrCommandFinished is returned when a non-final state would replace
	// the final state of a command.
	ErrCommandFinished = errors.New("command already finished")
)

// CommandState is the last known state of a command.
type CommandState struct {
	Command       string `dynamodbav:"command" json:"command"`
	DeviceID      int32  `dynamodbav:"deviceId" json:"deviceId"`
	CmdSn         int64  `dynamodbav:"cmdSn" json:"cmdSn"`
	Status        string `dynamodbav:"status" json:"status"`
	Terminal      bool   `dynamodbav:"terminal" json:"terminal"`
	Summary       string `dynamodbav:"summary" json:"summary"`
	Value         string `dynamodbav:"value,omitempty" json:"value,omitempty"`
	StatusMessage string `dynamodbav:"statusMessage,omitempty" json:"statusMessage,omitempty"`
	Updated       string `dynamodbav:"updated" json:"updated"`
}

// NewCommandState captures the state carried by ack.
func NewCommandState(ack *message.Ack, summary string, updated time.Time) *CommandState {
	state := &CommandState{
		Command:       KeyOf(ack).String(),
		DeviceID:      ack.DeviceID,
		CmdSn:         ack.CmdSn,
		Status:        ack.Status.String(),
		Terminal:      ack.Status.Terminal(),
		Summary:       summary,
		StatusMessage: ack.StatusMessage,
		Updated:       updated.UTC().Format(time.RFC3339),
	}
	if !ack.Value.IsNull() {
		state.Value = ack.Value.String()
	}
	return state
}

type Storage interface {
	SaveCommandState(ctx context.Context, state *CommandState) error
	GetCommandState(ctx context.Context, deviceID int32, cmdSn int64) (*CommandState, error)
}

type storageDynamoDBImpl struct {
	DynamoDB dynamodbiface.DynamoDBAPI
	Table    string
}

var _ Storage = (*storageDynamoDBImpl)(nil)

func NewStorageDynamoDB(client dynamodbiface.DynamoDBAPI, table string) *storageDynamoDBImpl {
	return &storageDynamoDBImpl{
		DynamoDB: client,
		Table:    table,
	}
}

// SaveCommandState stores the state unless a final state was stored before.
func (s *storageDynamoDBImpl) SaveCommandState(ctx context.Context, state *CommandState) error {
	item, err := dynamodbattribute.MarshalMap(state)
	if err != nil {
		return err
	}
	input := &dynamodb.PutItemInput{
		TableName:           aws.String(s.Table),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(#command) OR #terminal = :false"),
		ExpressionAttributeNames: map[string]*string{
			"#command":  aws.String("command"),
			"#terminal": aws.String("terminal"),
		},
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
			":false": {BOOL: aws.Bool(false)},
		},
	}
	_, err = s.DynamoDB.PutItemWithContext(ctx, input)
	if aerr, ok := err.(awserr.Error); ok && aerr.Code() == dynamodb.ErrCodeConditionalCheckFailedException {
		return ErrCommandFinished
	}
	return err
}

func (s *storageDynamoDBImpl) GetCommandState(ctx context.Context, deviceID int32, cmdSn int64) (*CommandState, error) {
	key := CommandKey{DeviceID: deviceID, CmdSn: cmdSn}
	var input = &dynamodb.GetItemInput{
		TableName: aws.String(s.Table),
		Key: map[string]*dynamodb.AttributeValue{
			"command": {S: aws.String(key.String())},
		},
	}
	output, err := s.DynamoDB.GetItemWithContext(ctx, input)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get %s", key)
	}
	if output.Item == nil {
		return nil, ErrCommandNotFound
	}
	state := &CommandState{}
	if err := dynamodbattribute.UnmarshalMap(output.Item, state); err != nil {
		return nil, err
	}
	return state, nil
}

package integration

import (
	"context"
	"io/ioutil"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/dtalk/dtalk-ack-adapter/adapter"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/sns"
	"github.com/aws/aws-sdk-go/service/sqs"
)

func awsSession(endpoint string) *session.Session {
	config := aws.NewConfig()
	config = config.WithEndpoint(endpoint)
	config = config.WithRegion(awsRegion)
	if *flagDebug {
		config = config.WithLogLevel(aws.LogDebugWithHTTPBody)
	}
	config = config.WithCredentials(credentials.NewStaticCredentials(
		awsAccessKeyID, awsSecretAccessKey, awsTokenKey))
	config = config.WithS3ForcePathStyle(true)
	config.DisableSSL = aws.Bool(true)
	return session.Must(session.NewSession(config))
}

func s3Client() *s3.S3 {
	return s3.New(awsSession(awsS3Endpoint))
}

func dynamodbClient() *dynamodb.DynamoDB {
	return dynamodb.New(awsSession(awsDynamoDBEndpoint))
}

func sqsClient() *sqs.SQS {
	return sqs.New(awsSession(awsSQSEndpoint))
}

func snsClient() *sns.SNS {
	return sns.New(awsSession(awsSNSEndpoint))
}

// sendMessage sends a message to the main queue. A non-empty ackID is sent as
// the delivery identifier.
func sendMessage(t *testing.T, body, ackID string) {
	t.Helper()
	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(awsQueueMain),
		MessageBody: aws.String(body),
	}
	if ackID != "" {
		input.MessageAttributes = map[string]*sqs.MessageAttributeValue{
			"ackId": {DataType: aws.String("String"), StringValue: aws.String(ackID)},
		}
	}
	if _, err := awsSQSClient.SendMessage(input); err != nil {
		t.Fatal(err)
	}
}

func purgeQueue(t *testing.T, queueURL string) {
	t.Helper()
	_, err := awsSQSClient.PurgeQueue(&sqs.PurgeQueueInput{
		QueueUrl: aws.String(queueURL),
	})
	if err != nil {
		t.Fatal("Cannot purge the queue: ", err)
	}
}

func purgeDynamoDBTable(t *testing.T, table, key string) {
	t.Helper()
	res, err := awsDynamoDBClient.Scan(&dynamodb.ScanInput{
		TableName:            aws.String(table),
		ProjectionExpression: aws.String("#k"),
		ExpressionAttributeNames: map[string]*string{
			"#k": aws.String(key),
		},
	})
	if err != nil {
		t.Fatal("Cannot scan table: ", err)
	}
	for _, item := range res.Items {
		_, err := awsDynamoDBClient.DeleteItem(&dynamodb.DeleteItemInput{
			TableName: aws.String(table),
			Key:       item,
		})
		if err != nil {
			t.Fatal("Cannot delete item: ", err)
		}
	}
}

func countDynamoDBItems(t *testing.T, table string) int64 {
	t.Helper()
	res, err := awsDynamoDBClient.Scan(&dynamodb.ScanInput{
		TableName: aws.String(table),
		Select:    aws.String(dynamodb.SelectCount),
	})
	if err != nil {
		t.Fatal("Cannot scan table: ", err)
	}
	return aws.Int64Value(res.Count)
}

// waitForCommandState polls the state store until the command reaches the
// given status.
func waitForCommandState(t *testing.T, deviceID int32, cmdSn int64, status string) *adapter.CommandState {
	t.Helper()
	storage := adapter.NewStorageDynamoDB(awsDynamoDBClient, awsCommandsTable)
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		state, err := storage.GetCommandState(context.Background(), deviceID, cmdSn)
		if err == nil && state.Status == status {
			return state
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("Command device%d@%d did not reach %s", deviceID, cmdSn, status)
	return nil
}

func getObject(t *testing.T, key string) string {
	t.Helper()
	res, err := awsS3Client.GetObject(&s3.GetObjectInput{
		Bucket: aws.String(awsBucket),
		Key:    aws.String(key),
	})
	if err != nil {
		t.Fatal("Cannot read object from S3:", err)
	}
	defer res.Body.Close()
	blob, err := ioutil.ReadAll(res.Body)
	if err != nil {
		t.Fatal(err)
	}
	return string(blob)
}

// postForm submits a form to the HTTP API of the server, retrying while the
// server is starting up.
func postForm(t *testing.T, path string, form url.Values) *http.Response {
	t.Helper()
	var lastErr error
	for i := 0; i < 40; i++ {
		res, err := http.PostForm(serverAddr+path, form)
		if err == nil {
			return res
		}
		lastErr = err
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatal("Cannot reach the server:", lastErr)
	return nil
}

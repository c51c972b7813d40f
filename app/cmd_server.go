package app

import (
	"net"
	"net/http"
	"os"
	"strconv"

	"github.com/dtalk/dtalk-ack-adapter/adapter"
	"github.com/dtalk/dtalk-ack-adapter/broker"
	"github.com/dtalk/dtalk-ack-adapter/broker/message"
	"github.com/dtalk/dtalk-ack-adapter/s3"
	"github.com/dtalk/dtalk-ack-adapter/version"

	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/sns"
	"github.com/aws/aws-sdk-go/service/sqs"
	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func NewCmdServer(logger logrus.FieldLogger, config *Config) *cobra.Command {
	return &cobra.Command{
		Use:   "server",
		Short: "Start the application server",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger.WithField("v", version.VERSION).Info("Starting server...")
			return doServer(logger, config)
		},
	}
}

func doServer(logger logrus.FieldLogger, config *Config) error {
	var (
		a        *adapter.Adapter
		b        *broker.Broker
		registry = prometheus.NewRegistry()
	)
	var g run.Group
	{
		var err error
		a, b, err = server(logger, config, registry)
		if err != nil {
			return err
		}

		g.Add(func() error {
			a.Run()
			return nil
		}, func(error) {
			a.Stop()
		})
	}
	{
		ln, err := net.Listen("tcp", config.HTTP.Listen)
		if err != nil {
			return err
		}
		logger.WithField("addr", ln.Addr().String()).Info("HTTP server listening")

		api := newAPI(logger.WithField("component", "api"), b, a.Tracker(), a, registry, config.Adapter.CommandTimeout)

		g.Add(func() error {
			return http.Serve(ln, api.handler())
		}, func(error) {
			ln.Close()
		})
	}
	{
		cancel := make(chan struct{})

		g.Add(func() error {
			err := interrupt(cancel, a.Tracker())
			logger.Warn("Shutting down...")
			return err
		}, func(error) {
			close(cancel)
		})
	}

	return g.Run()
}

func server(logger logrus.FieldLogger, config *Config, registry *prometheus.Registry) (*adapter.Adapter, *broker.Broker, error) {
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	metrics := broker.NewMetrics()
	if err := metrics.Register(registry); err != nil {
		return nil, nil, err
	}

	var dynamodbClient *dynamodb.DynamoDB
	{
		sess, err := awsSession(logger, config.AWS.DynamoDBProfile, config.AWS.DynamoDBEndpoint)
		if err != nil {
			return nil, nil, err
		}
		dynamodbClient = dynamodb.New(sess)
	}

	var brClient *broker.Broker
	{
		validator, err := message.NewValidator(config.Adapter.ValidationMode)
		if err != nil {
			return nil, nil, err
		}

		sess, err := awsSession(logger, config.AWS.SQSProfile, config.AWS.SQSEndpoint)
		if err != nil {
			return nil, nil, err
		}
		sqsClient := sqs.New(sess)

		sess, err = awsSession(logger, config.AWS.SNSProfile, config.AWS.SNSEndpoint)
		if err != nil {
			return nil, nil, err
		}
		snsClient := sns.New(sess)

		brClient = broker.New(
			logger.WithField("component", "broker"),
			validator,
			sqsClient, config.Adapter.QueueRecvMainAddr,
			snsClient, config.Adapter.QueueSendMainAddr, config.Adapter.QueueSendInvalidAddr, config.Adapter.QueueSendErrorAddr,
			dynamodbClient, config.Adapter.RepositoryTable,
			metrics)
	}

	var s3Client s3.ObjectStorage
	if config.Adapter.ArchiveURI != "" {
		sess, err := awsSession(logger, config.AWS.S3Profile, config.AWS.S3Endpoint)
		if err != nil {
			return nil, nil, err
		}
		s3Client = s3.New(sess)
	}

	var storage adapter.Storage
	{
		storage = adapter.NewStorageDynamoDB(dynamodbClient, config.Adapter.CommandsTable)
	}

	tracker := adapter.NewTracker(logger.WithField("component", "tracker"))

	return adapter.New(logger, brClient, tracker, s3Client, config.Adapter.ArchiveURI, storage), brClient, nil
}

type logrusProxy struct {
	logger logrus.FieldLogger
}

func (l logrusProxy) Log(args ...interface{}) {
	l.logger.WithField("client", "aws").Debug(args...)
}

// awsSession returns a session using NewSessionWithOptions meaning that it
// relies on the SDK defaults but also the user config files and environment.
//
// AWS_S3_FORCE_PATH_STYLE is a made-up environment string that the SDK does
// not look up. It is only needed when S3 is emulated locally.
func awsSession(logger logrus.FieldLogger, profile, endpoint string) (*session.Session, error) {
	options := session.Options{}
	if profile != "" {
		options.Profile = profile
	}
	if endpoint != "" {
		options.Config.WithEndpoint(endpoint)
	}
	if res, ok := os.LookupEnv("AWS_S3_FORCE_PATH_STYLE"); ok {
		enabled, _ := strconv.ParseBool(res)
		options.Config.WithS3ForcePathStyle(enabled)
	}
	if logrus.GetLevel() == logrus.DebugLevel {
		options.Config.WithCredentialsChainVerboseErrors(true)
	}
	options.Config.WithLogger(logrusProxy{logger: logger})
	return session.NewSessionWithOptions(options)
}

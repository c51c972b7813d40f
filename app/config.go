package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/dtalk/dtalk-ack-adapter/broker/message"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"github.com/spf13/viper"
)

const defaultConfig = `# DTalk Ack Adapter

################################## LOGGING ####################################

[logging]

#
# Logging verbosity level.
# Supported values: "DEBUG", "INFO", "WARN", "ERROR", "FATAL" or "PANIC".
#
level = "INFO"

################################## ADAPTER ####################################

[adapter]

#
# Name of the table used to store the last state of each command (DynamoDB).
#
commands_table = "dtalk_ack_adapter_commands"

#
# Name of the table used to detect duplicate deliveries (DynamoDB).
# Leave empty to disable duplicate detection.
#
repository_table = "dtalk_ack_adapter_local_data_repository"

#
# Ack validation supports three modes:
#
#   validation_mode="strict"
#   Invalid acks are rejected and forwarded to the invalid topic.
#   The validation errors are logged in DEBUG mode.
#
#   validation_mode="warnings"
#   Invalid acks are processed.
#   The validation errors are logged in DEBUG mode.
#
#   validation_mode="disabled"
#   Ack validation will not be performed.
#
validation_mode = "strict"

#
# Time given to a device to send a terminal ack, e.g. "30s" or "5m".
# Commands without a terminal ack are finished with TIMEOUT.
#
command_timeout = "30s"

#
# S3 location where terminal acks are archived, e.g. "s3://bucket/acks".
# Leave empty to disable the archive.
#
archive_uri = ""

#
# AWS SQS queue URL, e.g. "https://queue.amazonaws.com/80398EXAMPLE/MyQueue".
#
# The adapter will subscribe to this queue.
#
queue_recv_main_addr = ""

#
# AWS SNS topic ARN, e.g. "arn:aws:sns:us-east-2:444455556666:acks".
#
# The adapter will publish to these topics.
#
queue_send_main_addr = ""
queue_send_error_addr = ""
queue_send_invalid_addr = ""

################################## HTTP #######################################

[http]

#
# Address of the HTTP server (health, metrics, profiling and API).
#
listen = ":6060"

################################## AWS ########################################

[aws]

s3_profile = ""
s3_endpoint = ""

dynamodb_profile = ""
dynamodb_endpoint = ""

sqs_profile = ""
sqs_endpoint = ""

sns_profile = ""
sns_endpoint = ""
`

type Config struct {
	v *viper.Viper

	// source is the configuration file merged over the defaults, if any.
	source string

	Logging struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"logging"`

	Adapter struct {
		RepositoryTable      string        `mapstructure:"repository_table"`
		CommandsTable        string        `mapstructure:"commands_table"`
		ValidationMode       string        `mapstructure:"validation_mode"`
		CommandTimeout       time.Duration `mapstructure:"command_timeout"`
		ArchiveURI           string        `mapstructure:"archive_uri"`
		QueueRecvMainAddr    string        `mapstructure:"queue_recv_main_addr"`
		QueueSendMainAddr    string        `mapstructure:"queue_send_main_addr"`
		QueueSendErrorAddr   string        `mapstructure:"queue_send_error_addr"`
		QueueSendInvalidAddr string        `mapstructure:"queue_send_invalid_addr"`
	} `mapstructure:"adapter"`

	HTTP struct {
		Listen string `mapstructure:"listen"`
	} `mapstructure:"http"`

	AWS struct {
		S3Profile        string `mapstructure:"s3_profile"`
		S3Endpoint       string `mapstructure:"s3_endpoint"`
		DynamoDBProfile  string `mapstructure:"dynamodb_profile"`
		DynamoDBEndpoint string `mapstructure:"dynamodb_endpoint"`
		SQSProfile       string `mapstructure:"sqs_profile"`
		SQSEndpoint      string `mapstructure:"sqs_endpoint"`
		SNSProfile       string `mapstructure:"sns_profile"`
		SNSEndpoint      string `mapstructure:"sns_endpoint"`
	} `mapstructure:"aws"`
}

func (c Config) Validate() error {
	switch c.Adapter.ValidationMode {
	case message.ValidationModeStrict, message.ValidationModeWarnings, message.ValidationModeDisabled:
	default:
		return errors.Errorf("unknown validation mode %q", c.Adapter.ValidationMode)
	}
	if c.Adapter.CommandTimeout < 0 {
		return errors.Errorf("negative command timeout %s", c.Adapter.CommandTimeout)
	}
	if uri := c.Adapter.ArchiveURI; uri != "" && !strings.HasPrefix(uri, "s3://") {
		return errors.Errorf("archive URI %q is not an s3:// location", uri)
	}
	return nil
}

// String renders the configuration in TOML.
func (c Config) String() string {
	if c.v == nil {
		return ""
	}
	const name = "/config.toml"
	fs := afero.NewMemMapFs()
	c.v.SetFs(fs)
	defer c.v.SetFs(afero.NewOsFs())
	if err := c.v.WriteConfigAs(name); err != nil {
		return err.Error()
	}
	blob, err := afero.ReadFile(fs, name)
	if err != nil {
		return err.Error()
	}
	return string(blob)
}

// Source describes where the configuration was loaded from.
func (c Config) Source() string {
	if c.source == "" {
		return "built-in defaults and environment"
	}
	return c.source
}

func loadConfig(c *Config) error {
	v := viper.New()

	v.SetEnvPrefix("DTALK_ACK_ADAPTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("dtalk-ack-adapter")
	v.SetConfigType("toml")
	v.AddConfigPath("$HOME/.config/")
	v.AddConfigPath("/etc/dtalk/")

	if configFile != "" {
		v.SetConfigFile(configFile)
	}

	// Read our default configuration.
	if err := v.ReadConfig(strings.NewReader(defaultConfig)); err != nil {
		panic(fmt.Sprintf("default configuration: %v", err)) // Not in the user path.
	}

	// Include configuration file provided by the user.
	if err := v.MergeInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return err
		}
	} else {
		c.source = v.ConfigFileUsed()
	}

	if err := v.Unmarshal(&c); err != nil {
		return errors.Wrap(err, "configuration unmarshaling failed")
	}

	if err := c.Validate(); err != nil {
		return errors.Wrap(err, "config did not pass validation")
	}

	c.v = v

	return nil
}

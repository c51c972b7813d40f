package app

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/dtalk/dtalk-ack-adapter/broker/message"
	"github.com/dtalk/dtalk-ack-adapter/s3"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

var (
	file   string
	format string

	// appFs is where local documents are read from.
	appFs = afero.NewOsFs()

	// newObjectStorage returns the client used for s3:// documents.
	newObjectStorage = func(config *Config) (s3.ObjectStorage, error) {
		sess, err := awsSession(logrus.StandardLogger(), config.AWS.S3Profile, config.AWS.S3Endpoint)
		if err != nil {
			return nil, err
		}
		return s3.New(sess), nil
	}
)

// Output formats of the decode command.
const (
	formatText    = "text"
	formatLogfmt  = "logfmt"
	formatSummary = "summary"
	formatJSON    = "json"
)

func NewCmdDecode(out io.Writer, config *Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "decode",
		Short: "Validate and print an ack JSON document",
		RunE: func(cmd *cobra.Command, args []string) error {
			return doDecode(context.Background(), out, config)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "File path or s3:// URI")
	cmd.Flags().StringVar(&format, "format", formatText, "Output format (text, logfmt, summary, json)")

	return cmd
}

func doDecode(ctx context.Context, out io.Writer, config *Config) error {
	if file == "" {
		return errors.New("parameter empty")
	}
	data, err := readDocument(ctx, config, file)
	if err != nil {
		return errors.Wrap(err, "cannot read file")
	}

	validator, err := message.NewValidator(message.ValidationModeStrict)
	if err != nil {
		return err
	}
	if _, err := validator.Validate(ctx, data); err != nil {
		if verr, ok := err.(message.ValidationError); ok {
			fmt.Fprintln(out, "The ack is invalid!")
			for _, issue := range verr.Errors {
				fmt.Fprintf(out, "%s: %s\n", issue.Path, issue.Message)
			}
		}
		return errors.Wrap(err, "validation failed")
	}

	ack, err := message.Decode(data)
	if err != nil {
		return err
	}

	var text string
	switch format {
	case formatText, "":
		text = ack.String()
	case formatSummary:
		if text, err = ack.Message(); err != nil {
			return err
		}
	case formatLogfmt:
		blob, err := ack.Logfmt()
		if err != nil {
			return err
		}
		text = string(blob)
	case formatJSON:
		blob, err := ack.MarshalJSON()
		if err != nil {
			return err
		}
		text = string(blob)
	default:
		return errors.Errorf("unknown format %q", format)
	}
	_, err = fmt.Fprintln(out, text)
	return err
}

func readDocument(ctx context.Context, config *Config, path string) ([]byte, error) {
	if !strings.HasPrefix(path, "s3://") {
		return afero.ReadFile(appFs, path)
	}
	storage, err := newObjectStorage(config)
	if err != nil {
		return nil, err
	}
	buf := &aws.WriteAtBuffer{}
	if _, err := storage.Download(ctx, buf, path); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

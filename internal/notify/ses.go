package notify

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	sestypes "github.com/aws/aws-sdk-go-v2/service/ses/types"
)

// SESAPI defines the SES operations used for reports.
type SESAPI interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// SESNotifier sends plain-text email through SES.
type SESNotifier struct {
	client SESAPI
}

// NewSESNotifier creates an SES notifier from a loaded SDK config.
func NewSESNotifier(cfg aws.Config) *SESNotifier {
	return &SESNotifier{client: ses.NewFromConfig(cfg)}
}

// NewSESNotifierWithClient creates an SES notifier around an existing client.
func NewSESNotifierWithClient(client SESAPI) *SESNotifier {
	return &SESNotifier{client: client}
}

// Name returns "ses".
func (s *SESNotifier) Name() string {
	return "ses"
}

// Send emails msg to its To and Cc recipients.
func (s *SESNotifier) Send(ctx context.Context, msg Message) error {
	_, err := s.client.SendEmail(ctx, &ses.SendEmailInput{
		Source: aws.String(msg.Sender),
		Destination: &sestypes.Destination{
			ToAddresses: msg.To,
			CcAddresses: msg.Cc,
		},
		Message: &sestypes.Message{
			Subject: &sestypes.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
			Body: &sestypes.Body{
				Text: &sestypes.Content{Data: aws.String(msg.Body), Charset: aws.String("UTF-8")},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	return nil
}

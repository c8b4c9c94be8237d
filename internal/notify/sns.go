package notify

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
)

// snsSubjectLimit is the longest subject SNS accepts.
const snsSubjectLimit = 100

// SNSAPI defines the SNS operations used for reports.
type SNSAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSNotifier publishes reports to a topic.
type SNSNotifier struct {
	client   SNSAPI
	topicARN string
}

// NewSNSNotifier creates an SNS notifier from a loaded SDK config.
func NewSNSNotifier(cfg aws.Config, topicARN string) *SNSNotifier {
	return &SNSNotifier{client: sns.NewFromConfig(cfg), topicARN: topicARN}
}

// NewSNSNotifierWithClient creates an SNS notifier around an existing client.
func NewSNSNotifierWithClient(client SNSAPI, topicARN string) *SNSNotifier {
	return &SNSNotifier{client: client, topicARN: topicARN}
}

// Name returns "sns".
func (s *SNSNotifier) Name() string {
	return "sns"
}

// Send publishes msg. Recipients are managed by the topic subscriptions.
func (s *SNSNotifier) Send(ctx context.Context, msg Message) error {
	subject := truncateSubject(msg.Subject, snsSubjectLimit)

	_, err := s.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(s.topicARN),
		Subject:  aws.String(subject),
		Message:  aws.String(msg.Body),
	})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", s.topicARN, err)
	}
	return nil
}

// truncateSubject cuts s to at most limit bytes without splitting a rune.
func truncateSubject(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

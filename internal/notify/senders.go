package notify

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	sestypes "github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/aws/aws-sdk-go-v2/service/sns"

	awsclient "voxnote/internal/common/aws"
)

// Recipient resolves a user ID to a delivery address. Kept as a function so
// callers decide where addresses live (users table, directory service).
type Recipient func(ctx context.Context, userID string) (string, error)

func alertSubject(threshold int) string {
	if threshold >= 100 {
		return "Your transcription minutes are used up"
	}
	return "You're close to your monthly transcription limit"
}

func alertBody(threshold int, used, limit float64) string {
	if threshold >= 100 {
		return fmt.Sprintf(
			"You've used all %.0f transcription minutes included in your plan this month (%.1f consumed). Upgrade your plan to keep transcribing.",
			limit, used,
		)
	}
	return fmt.Sprintf(
		"You've used %.1f of your %.0f monthly transcription minutes. Consider upgrading before you run out.",
		used, limit,
	)
}

// EmailSender delivers quota alerts over SES.
type EmailSender struct {
	ses       *awsclient.SESClient
	from      string
	recipient Recipient
}

func NewEmailSender(client *awsclient.SESClient, from string, recipient Recipient) *EmailSender {
	return &EmailSender{ses: client, from: from, recipient: recipient}
}

func (s *EmailSender) SendQuotaAlert(ctx context.Context, userID string, threshold int, used, limit float64) error {
	to, err := s.recipient(ctx, userID)
	if err != nil {
		return fmt.Errorf("resolve recipient: %w", err)
	}

	_, err = s.ses.SendEmail(ctx, &ses.SendEmailInput{
		Source: aws.String(s.from),
		Destination: &sestypes.Destination{
			ToAddresses: []string{to},
		},
		Message: &sestypes.Message{
			Subject: &sestypes.Content{Data: aws.String(alertSubject(threshold))},
			Body: &sestypes.Body{
				Text: &sestypes.Content{Data: aws.String(alertBody(threshold, used, limit))},
			},
		},
	})
	return err
}

// TopicSender publishes quota alerts to an SNS topic for downstream fan-out.
type TopicSender struct {
	sns      *awsclient.SNSClient
	topicARN string
}

func NewTopicSender(client *awsclient.SNSClient, topicARN string) *TopicSender {
	return &TopicSender{sns: client, topicARN: topicARN}
}

func (s *TopicSender) SendQuotaAlert(ctx context.Context, userID string, threshold int, used, limit float64) error {
	msg := fmt.Sprintf(
		`{"userId":%q,"threshold":%d,"usedMinutes":%.2f,"limitMinutes":%.2f}`,
		userID, threshold, used, limit,
	)
	_, err := s.sns.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(s.topicARN),
		Subject:  aws.String(alertSubject(threshold)),
		Message:  aws.String(msg),
	})
	return err
}

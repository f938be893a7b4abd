package utils

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/ses"
	"github.com/sirupsen/logrus"
)

// SESMailer sends invitation emails through AWS SES
type SESMailer struct {
	client     *ses.SES
	sender     string
	baseDomain string
}

// NewSESMailer creates a mailer for the given AWS region. sender is the
// verified from-address; baseDomain builds the accept-invitation link.
func NewSESMailer(region, sender, baseDomain string) (*SESMailer, error) {
	sess, err := session.NewSession(&aws.Config{
		Region: aws.String(region),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	return &SESMailer{
		client:     ses.New(sess),
		sender:     sender,
		baseDomain: baseDomain,
	}, nil
}

// SendInvitation emails an invitation link to the invitee
func (m *SESMailer) SendInvitation(ctx context.Context, email, tenantName, role, token string) error {
	acceptURL := fmt.Sprintf("https://app.%s/invitations/accept?token=%s", m.baseDomain, token)
	subject := fmt.Sprintf("You've been invited to join %s", tenantName)
	body := fmt.Sprintf(
		"You have been invited to join %s as a %s.\n\nAccept the invitation here: %s\n\nThis link expires; if it has, ask your administrator to send a new one.",
		tenantName, role, acceptURL,
	)

	input := &ses.SendEmailInput{
		Source: aws.String(m.sender),
		Destination: &ses.Destination{
			ToAddresses: []*string{aws.String(email)},
		},
		Message: &ses.Message{
			Subject: &ses.Content{Charset: aws.String("UTF-8"), Data: aws.String(subject)},
			Body: &ses.Body{
				Text: &ses.Content{Charset: aws.String("UTF-8"), Data: aws.String(body)},
			},
		},
	}

	if _, err := m.client.SendEmailWithContext(ctx, input); err != nil {
		return fmt.Errorf("failed to send invitation email to %s: %w", email, err)
	}

	logrus.WithFields(logrus.Fields{
		"email":  email,
		"tenant": tenantName,
	}).Info("Invitation email sent")
	return nil
}

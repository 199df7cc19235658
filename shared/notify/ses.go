package notify

import (
	"bytes"
	"context"
	"fmt"
	"text/template"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/ses"
	"github.com/aws/aws-sdk-go/service/ses/sesiface"

	"github.com/pavitra93/go-school-tenancy/shared/utils"
)

var welcomeTemplate = template.Must(template.New("welcome").Parse(`Hello {{.RecipientName}},

{{if .InviterName}}{{.InviterName}} has created{{else}}We have created{{end}} your {{.Role}} account for {{.TenantName}}.

Sign in with:
  School code:        {{.TenantCode}}
  Email:              {{.RecipientEmail}}
  Temporary password: {{.TemporaryPassword}}
{{if .PortalURL}}
Portal: {{.PortalURL}}
{{end}}
You will be asked to choose a new password the first time you sign in.
`))

// SESNotifier emails welcome notices through Amazon SES
type SESNotifier struct {
	client  sesiface.SESAPI
	sender  string
	breaker *utils.CircuitBreaker
}

// NewSESNotifier creates an SES client for region sending from sender
func NewSESNotifier(region, sender string, breaker *utils.CircuitBreaker) (*SESNotifier, error) {
	sess, err := session.NewSession(&aws.Config{
		Region: aws.String(region),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}
	return newSESNotifier(ses.New(sess), sender, breaker), nil
}

func newSESNotifier(client sesiface.SESAPI, sender string, breaker *utils.CircuitBreaker) *SESNotifier {
	return &SESNotifier{client: client, sender: sender, breaker: breaker}
}

// SendWelcomeNotice renders and sends the welcome email
func (n *SESNotifier) SendWelcomeNotice(ctx context.Context, notice WelcomeNotice) error {
	var body bytes.Buffer
	if err := welcomeTemplate.Execute(&body, notice); err != nil {
		return fmt.Errorf("failed to render welcome email: %w", err)
	}

	input := &ses.SendEmailInput{
		Source: aws.String(n.sender),
		Destination: &ses.Destination{
			ToAddresses: []*string{aws.String(notice.RecipientEmail)},
		},
		Message: &ses.Message{
			Subject: &ses.Content{
				Charset: aws.String("UTF-8"),
				Data:    aws.String(fmt.Sprintf("Welcome to %s", notice.TenantName)),
			},
			Body: &ses.Body{
				Text: &ses.Content{
					Charset: aws.String("UTF-8"),
					Data:    aws.String(body.String()),
				},
			},
		},
	}

	return n.breaker.Call(func() error {
		_, err := n.client.SendEmailWithContext(ctx, input)
		if err != nil {
			return fmt.Errorf("ses send email: %w", err)
		}
		return nil
	})
}

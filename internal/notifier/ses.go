package notifier

import (
	"bytes"
	"context"
	htmltemplate "html/template"
	"text/template"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/go-faster/errors"

	"github.com/xenking/kart-checkout/internal/domain/notify"
)

type emailTemplate struct {
	subject *template.Template
	text    *template.Template
	html    *htmltemplate.Template
}

var emailTemplates = map[string]emailTemplate{
	notify.TemplateOrderConfirmation: {
		subject: template.Must(template.New("subject").Parse(
			`Order {{index . "order_id"}} confirmed`)),
		text: template.Must(template.New("text").Parse(
			`Hi {{index . "customer_name"}},

Thank you for your order!
- Order: {{index . "order_id"}}
- Total: {{index . "total"}}
{{- if index . "discount_code"}}
- Discount {{index . "discount_code"}}: -{{index . "discount_amount"}}
{{- end}}
- Shipping address: {{index . "shipping_address"}}
- Payment: {{index . "payment_method"}}
`)),
		html: htmltemplate.Must(htmltemplate.New("html").Parse(
			`<html><body>
<p>Hi {{index . "customer_name"}},</p>
<p>Thank you for your order!</p>
<ul>
<li>Order: {{index . "order_id"}}</li>
<li>Total: {{index . "total"}}</li>
{{- if index . "discount_code"}}
<li>Discount {{index . "discount_code"}}: -{{index . "discount_amount"}}</li>
{{- end}}
<li>Shipping address: {{index . "shipping_address"}}</li>
<li>Payment: {{index . "payment_method"}}</li>
</ul>
</body></html>`)),
	},
}

type sesAPI interface {
	SendEmail(ctx context.Context, in *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// SESSender delivers notifications as email through Amazon SES.
type SESSender struct {
	client sesAPI
	sender string
}

// NewSESSender loads the default AWS credential chain for region.
func NewSESSender(ctx context.Context, region, sender string) (*SESSender, error) {
	if sender == "" {
		return nil, errors.New("ses driver requires a sender address")
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, errors.Wrap(err, "load aws config")
	}
	return &SESSender{client: ses.NewFromConfig(cfg), sender: sender}, nil
}

// Send implements notify.Sender.
func (s *SESSender) Send(ctx context.Context, msg notify.Message) error {
	if msg.Recipient == "" {
		return errors.New("recipient address is empty")
	}
	tmpl, ok := emailTemplates[msg.Template]
	if !ok {
		return errors.Wrap(notify.ErrUnknownTemplate, msg.Template)
	}

	var subject, text, html bytes.Buffer
	if err := tmpl.subject.Execute(&subject, msg.Data); err != nil {
		return errors.Wrap(err, "render subject")
	}
	if err := tmpl.text.Execute(&text, msg.Data); err != nil {
		return errors.Wrap(err, "render text body")
	}
	if err := tmpl.html.Execute(&html, msg.Data); err != nil {
		return errors.Wrap(err, "render html body")
	}

	_, err := s.client.SendEmail(ctx, &ses.SendEmailInput{
		Source:      aws.String(s.sender),
		Destination: &types.Destination{ToAddresses: []string{msg.Recipient}},
		Message: &types.Message{
			Subject: &types.Content{Charset: aws.String("UTF-8"), Data: aws.String(subject.String())},
			Body: &types.Body{
				Text: &types.Content{Charset: aws.String("UTF-8"), Data: aws.String(text.String())},
				Html: &types.Content{Charset: aws.String("UTF-8"), Data: aws.String(html.String())},
			},
		},
	})
	if err != nil {
		return errors.Wrap(err, "ses send email")
	}
	return nil
}

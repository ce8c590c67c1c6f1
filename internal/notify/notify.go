// Package notify delivers transactional email from named templates.
package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"
	"text/template"

	"golang.org/x/time/rate"
)

const TemplateSignupVerification = "signup-verification"

// Parameter names understood by the templates.
const (
	ParamName    = "name"
	ParamEmail   = "user_email"
	ParamCode    = "verification_code"
	ParamMessage = "message"
)

var (
	ErrUnknownTemplate = errors.New("unknown template")
	ErrMissingParam    = errors.New("missing template parameter")
	// ErrRateLimited is retryable: the caller may send again later.
	ErrRateLimited = errors.New("too many emails, try again later")
)

// Sender sends one message rendered from templateID.
type Sender interface {
	Send(ctx context.Context, templateID string, params map[string]string) error
}

type Message struct {
	To      string
	Subject string
	Body    string
}

type emailTemplate struct {
	subject  string
	body     *template.Template
	required []string
}

var templates = map[string]emailTemplate{
	TemplateSignupVerification: {
		subject: "Your verification code",
		body: template.Must(template.New(TemplateSignupVerification).Parse(
			`Hello {{.name}},

{{with .message}}{{.}}

{{end}}Your verification code is {{.verification_code}}.
`)),
		required: []string{ParamName, ParamEmail, ParamCode},
	},
}

// Render resolves templateID with params into a Message addressed to the
// user_email parameter.
func Render(templateID string, params map[string]string) (Message, error) {
	tpl, ok := templates[templateID]
	if !ok {
		return Message{}, fmt.Errorf("%w: %s", ErrUnknownTemplate, templateID)
	}
	for _, p := range tpl.required {
		if strings.TrimSpace(params[p]) == "" {
			return Message{}, fmt.Errorf("%w: %s", ErrMissingParam, p)
		}
	}
	var buf bytes.Buffer
	if err := tpl.body.Execute(&buf, params); err != nil {
		return Message{}, fmt.Errorf("render %s: %w", templateID, err)
	}
	return Message{To: params[ParamEmail], Subject: tpl.subject, Body: buf.String()}, nil
}

type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	From     string `yaml:"from"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// SMTPSender sends over plain SMTP, with PLAIN auth when a username is set.
type SMTPSender struct {
	cfg      SMTPConfig
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewSMTPSender(cfg SMTPConfig) *SMTPSender {
	return &SMTPSender{cfg: cfg, sendMail: smtp.SendMail}
}

var _ Sender = (*SMTPSender)(nil)

func (s *SMTPSender) Send(ctx context.Context, templateID string, params map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg, err := Render(templateID, params)
	if err != nil {
		return err
	}
	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}
	raw := "From: " + s.cfg.From + "\r\n" +
		"To: " + msg.To + "\r\n" +
		"Subject: " + msg.Subject + "\r\n" +
		"MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n" +
		msg.Body
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	if err := s.sendMail(addr, auth, s.cfg.From, []string{msg.To}, []byte(raw)); err != nil {
		return fmt.Errorf("smtp send to %s: %w", msg.To, err)
	}
	return nil
}

// LogSender renders the message and logs it instead of sending. For dev.
type LogSender struct {
	log *slog.Logger
}

func NewLogSender(log *slog.Logger) *LogSender {
	if log == nil {
		log = slog.Default()
	}
	return &LogSender{log: log}
}

func (s *LogSender) Send(ctx context.Context, templateID string, params map[string]string) error {
	msg, err := Render(templateID, params)
	if err != nil {
		return err
	}
	s.log.InfoContext(ctx, "email", "template", templateID, "to", msg.To, "subject", msg.Subject, "body", msg.Body)
	return nil
}

// RateLimited bounds the send rate of the wrapped Sender. Sends beyond the
// budget fail fast with ErrRateLimited.
type RateLimited struct {
	next    Sender
	limiter *rate.Limiter
}

func NewRateLimited(next Sender, perSecond float64, burst int) *RateLimited {
	return &RateLimited{next: next, limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

func (r *RateLimited) Send(ctx context.Context, templateID string, params map[string]string) error {
	if !r.limiter.Allow() {
		return ErrRateLimited
	}
	return r.next.Send(ctx, templateID, params)
}

// Observed reports the outcome of every send to record.
type Observed struct {
	next   Sender
	record func(templateID, outcome string)
}

func NewObserved(next Sender, record func(templateID, outcome string)) *Observed {
	return &Observed{next: next, record: record}
}

func (o *Observed) Send(ctx context.Context, templateID string, params map[string]string) error {
	err := o.next.Send(ctx, templateID, params)
	switch {
	case err == nil:
		o.record(templateID, "sent")
	case errors.Is(err, ErrRateLimited):
		o.record(templateID, "rate_limited")
	default:
		o.record(templateID, "failed")
	}
	return err
}

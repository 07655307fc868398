package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wneessen/go-mail"

	"peakload/internal/config"
	"peakload/internal/metrics"
	"peakload/internal/report"
	"peakload/internal/types"
)

// ChannelEmail is the delivery channel dimension reported by the mailer.
const ChannelEmail = "email"

const defaultSMTPTimeout = 15 * time.Second

// MailerConfig holds the SMTP relay settings.
type MailerConfig struct {
	Host     string
	Port     int
	Username string
	Password types.SecretString
	From     string
	FromName string
	SSL      bool
	Timeout  time.Duration
	Subject  string
}

// MailerConfigFrom builds a MailerConfig from the SMTP section and the
// configured subject.
func MailerConfigFrom(smtp config.SMTPConfig, subject string) MailerConfig {
	return MailerConfig{
		Host:     smtp.Host,
		Port:     smtp.Port,
		Username: smtp.Username,
		Password: smtp.Password,
		From:     smtp.From,
		FromName: smtp.FromName,
		SSL:      smtp.SSL,
		Timeout:  smtp.Timeout,
		Subject:  subject,
	}
}

// smtpSender is the subset of *mail.Client used by Mailer.
type smtpSender interface {
	DialAndSendWithContext(ctx context.Context, messages ...*mail.Msg) error
}

// Mailer sends advisory emails over SMTP.
type Mailer struct {
	cfg     MailerConfig
	client  smtpSender
	metrics metrics.DeliveryMetrics
	logger  types.Logger
}

// NewMailer validates cfg and builds the SMTP client. No connection is made
// until the first Send.
func NewMailer(cfg MailerConfig, m metrics.DeliveryMetrics, logger types.Logger) (*Mailer, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultSMTPTimeout
	}

	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithTimeout(cfg.Timeout),
	}
	if cfg.SSL {
		opts = append(opts, mail.WithSSL())
	} else {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSOpportunistic))
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password.Unmask()),
		)
	}

	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeValidationInvalidConfig, "invalid SMTP client settings", err)
	}
	return newMailerWithClient(cfg, client, m, logger), nil
}

func newMailerWithClient(cfg MailerConfig, client smtpSender, m metrics.DeliveryMetrics, logger types.Logger) *Mailer {
	if m == nil {
		m = metrics.NoopMetrics{}
	}
	if logger == nil {
		logger = types.NewSlogLogger(nil)
	}
	return &Mailer{cfg: cfg, client: client, metrics: m, logger: logger}
}

func (c MailerConfig) validate() error {
	var missing []string
	if c.Host == "" {
		missing = append(missing, "SMTP_HOST")
	}
	if c.Port <= 0 {
		missing = append(missing, "SMTP_PORT")
	}
	if c.From == "" {
		missing = append(missing, "SMTP_FROM")
	}
	if len(missing) > 0 {
		return types.NewAppErrorWithDetails(types.ErrCodeValidationMissingField,
			"SMTP settings are incomplete", nil,
			map[string]any{"missing": missing})
	}
	return nil
}

// Body renders the plain-text email body: the capacity limit, one advice
// line per day and the fixed-format summary.
func Body(result *types.AdvisoryResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Run %s\nCapacity limit: %d\n", result.RunID, result.CapacityLimit)
	fmt.Fprintf(&b, "Days over capacity: %d of %d\n\n", result.TriggeredDays(), len(result.Records))
	for _, advice := range report.Advise(result.Records) {
		marker := "  "
		if advice.Warning {
			marker = "! "
		}
		b.WriteString(marker + advice.Message + "\n")
	}
	b.WriteString("\n")
	b.WriteString(report.Summary(result.Records))
	b.WriteString("\n")
	return b.String()
}

// Send emails the advisory for result to recipients with the spreadsheet
// export attached.
func (m *Mailer) Send(ctx context.Context, result *types.AdvisoryResult, recipients []string) error {
	start := time.Now()
	defer func() { m.metrics.RecordLatency(ctx, ChannelEmail, time.Since(start)) }()

	if len(recipients) == 0 {
		m.metrics.RecordDelivery(ctx, ChannelEmail, metrics.ResultSkipped)
		return types.NewAppError(types.ErrCodeValidationMissingField, "no email recipients configured", nil)
	}

	msg, err := m.buildMessage(result, recipients)
	if err != nil {
		m.metrics.RecordDelivery(ctx, ChannelEmail, metrics.ResultFailure)
		return err
	}

	if err := m.client.DialAndSendWithContext(ctx, msg); err != nil {
		m.metrics.RecordDelivery(ctx, ChannelEmail, metrics.ResultFailure)
		return classifySendError(err)
	}

	m.metrics.RecordDelivery(ctx, ChannelEmail, metrics.ResultSuccess)
	m.logger.Info("advisory email sent",
		"run_id", result.RunID,
		"recipients", len(recipients),
		"triggered_days", result.TriggeredDays(),
	)
	return nil
}

func (m *Mailer) buildMessage(result *types.AdvisoryResult, recipients []string) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.FromFormat(m.cfg.FromName, m.cfg.From); err != nil {
		return nil, types.NewAppError(types.ErrCodeValidationInvalidConfig, "invalid sender address", err)
	}
	if err := msg.To(recipients...); err != nil {
		return nil, types.NewAppError(types.ErrCodeEmailRejected, "invalid recipient address", err)
	}

	subject := m.cfg.Subject
	if subject == "" {
		subject = "Peak load advisory"
	}
	if n := result.TriggeredDays(); n > 0 {
		subject = fmt.Sprintf("%s: %d day(s) over capacity", subject, n)
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextPlain, Body(result))

	attachment, err := report.XLSXAttachment(result)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to render spreadsheet export", err)
	}
	msg.AttachReadSeeker(attachment.Filename, bytes.NewReader(attachment.Content),
		mail.WithFileContentType(mail.ContentType(attachment.ContentType)))

	chart, err := report.PNGAttachment(result)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalUnexpected, "failed to render trend chart", err)
	}
	msg.AttachReadSeeker(chart.Filename, bytes.NewReader(chart.Content),
		mail.WithFileContentType(mail.ContentType(chart.ContentType)))

	return msg, nil
}

// classifySendError maps SMTP failures onto error codes: permanent 5xx
// rejections become email_rejected, everything else is retryable.
func classifySendError(err error) error {
	var sendErr *mail.SendError
	if errors.As(err, &sendErr) && !sendErr.IsTemp() {
		return types.NewAppError(types.ErrCodeEmailRejected, "SMTP server rejected the message", err)
	}
	return types.NewAppError(types.ErrCodeUpstreamEmailProvider, "SMTP delivery failed", err)
}

// IsRetryable reports whether a Send error may succeed on a later attempt.
func IsRetryable(err error) bool {
	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		return true
	}
	return strings.HasPrefix(string(appErr.Code), "upstream_")
}

package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	gomail "github.com/wneessen/go-mail"
	"golang.org/x/time/rate"

	"github.com/keithlinneman/natours-api/internal/log"
	"github.com/keithlinneman/natours-api/internal/xerrors"
)

// Results reported through Options.OnResult.
const (
	ResultSent      = "sent"
	ResultFailed    = "failed"
	ResultThrottled = "throttled"
)

const DefaultFrom = "Natours <noreply@natours.dev>"

var ErrThrottled = errors.New("notify: send throttled")

type Message struct {
	To      string
	Subject string
	Text    string
}

type Sender interface {
	Send(ctx context.Context, m Message) error
}

type Options struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string // default DefaultFrom

	// Rate is the sustained sends per second, Burst the bucket size.
	// Rate <= 0 disables throttling.
	Rate  float64
	Burst int

	// DialTimeout bounds the connect and every SMTP command. Default 10s.
	DialTimeout time.Duration

	Logger   log.Logger
	OnResult func(result string)
}

type transport func(ctx context.Context, msg *gomail.Msg) error

// SMTP delivers mail through a go-mail client. Each Send dials its own
// connection, so one SMTP is safe for concurrent use.
type SMTP struct {
	client   *gomail.Client
	from     string
	limiter  *rate.Limiter
	timeout  time.Duration
	logger   log.Logger
	onResult func(string)
	send     transport
	now      func() time.Time
}

var _ Sender = (*SMTP)(nil)

func NewSMTP(opts Options) (*SMTP, error) {
	if opts.Host == "" {
		return nil, xerrors.New("notify: smtp host is required")
	}
	if opts.Port < 1 || opts.Port > 65535 {
		return nil, xerrors.Newf("notify: invalid smtp port %d", opts.Port)
	}
	if opts.From == "" {
		opts.From = DefaultFrom
	}
	if err := gomail.NewMsg().From(opts.From); err != nil {
		return nil, xerrors.Wrapf(err, "notify: parse from address %q", opts.From)
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}

	copts := []gomail.Option{
		gomail.WithTLSPolicy(gomail.TLSOpportunistic),
		gomail.WithPort(opts.Port),
		gomail.WithTimeout(opts.DialTimeout),
	}
	if opts.Username != "" {
		copts = append(copts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(opts.Username),
			gomail.WithPassword(opts.Password),
		)
	}
	client, err := gomail.NewClient(opts.Host, copts...)
	if err != nil {
		return nil, xerrors.Wrap(err, "notify: build smtp client")
	}

	s := &SMTP{
		client:   client,
		from:     opts.From,
		timeout:  opts.DialTimeout,
		logger:   opts.Logger,
		onResult: opts.OnResult,
		now:      time.Now,
	}
	s.send = func(ctx context.Context, msg *gomail.Msg) error {
		return client.DialAndSendWithContext(ctx, msg)
	}
	if opts.Rate > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(opts.Rate), burst)
	}
	return s, nil
}

// Send waits for a throttle token, then delivers m. A context that ends
// before a token is available yields ErrThrottled.
func (s *SMTP) Send(ctx context.Context, m Message) error {
	msg, err := s.compose(m)
	if err != nil {
		s.report(ResultFailed)
		return err
	}

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			s.report(ResultThrottled)
			return fmt.Errorf("%w: %w", ErrThrottled, err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.send(ctx, msg); err != nil {
		s.report(ResultFailed)
		return xerrors.Wrapf(err, "notify: send to %s", m.To)
	}
	s.report(ResultSent)
	s.logger.Debug(ctx, "email sent", "to", m.To, "subject", m.Subject)
	return nil
}

func (s *SMTP) report(result string) {
	if s.onResult != nil {
		s.onResult(result)
	}
}

func (s *SMTP) compose(m Message) (*gomail.Msg, error) {
	if strings.ContainsAny(m.Subject, "\r\n") {
		return nil, xerrors.New("notify: subject contains a line break")
	}
	msg := gomail.NewMsg()
	if err := msg.From(s.from); err != nil {
		return nil, xerrors.Wrapf(err, "notify: parse from address %q", s.from)
	}
	if err := msg.To(m.To); err != nil {
		return nil, xerrors.Wrapf(err, "notify: parse recipient %q", m.To)
	}
	msg.Subject(m.Subject)
	msg.SetDateWithValue(s.now().UTC())
	msg.SetBodyString(gomail.TypeTextPlain, strings.ReplaceAll(m.Text, "\r\n", "\n"))
	return msg, nil
}

// Package errctl renders every failure that reaches the error channel as the
// API's JSON envelope. Development responses carry full diagnostics;
// production responses only ever expose operational messages.
package errctl

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/keithlinneman/natours-api/internal/apperr"
	"github.com/keithlinneman/natours-api/internal/httpmw"
	"github.com/keithlinneman/natours-api/internal/log"
	"github.com/keithlinneman/natours-api/internal/xerrors"
)

type Mode string

const (
	ModeDevelopment Mode = "development"
	ModeProduction  Mode = "production"
)

// GenericMessage is the only message an unclassified error produces in
// production.
const GenericMessage = "Something went very wrong!"

type Options struct {
	Mode   Mode
	Logger log.Logger
	// OnRendered is called after each response is written, for metrics.
	OnRendered func(kind apperr.Kind, status int)
}

type Controller struct {
	mode       Mode
	logger     log.Logger
	onRendered func(kind apperr.Kind, status int)
}

var _ httpmw.Renderer = (*Controller)(nil)

func New(opts Options) *Controller {
	if opts.Mode != ModeDevelopment {
		opts.Mode = ModeProduction
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	return &Controller{mode: opts.Mode, logger: opts.Logger, onRendered: opts.OnRendered}
}

// envelope is the client-facing error body. The diagnostic fields are only
// populated in development.
type envelope struct {
	Status  string  `json:"status"`
	Message string  `json:"message"`
	Error   *detail `json:"error,omitempty"`
	Stack   string  `json:"stack,omitempty"`
}

type detail struct {
	Type          string   `json:"type"`
	StatusCode    int      `json:"statusCode"`
	IsOperational bool     `json:"isOperational"`
	Kind          string   `json:"kind"`
	Chain         []string `json:"chain,omitempty"`
}

// Render writes exactly one response for err. It never panics; if building
// the body fails a fixed minimal 500 is written instead.
func (c *Controller) Render(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	wrote := false
	defer func() {
		v := recover()
		if v == nil {
			return
		}
		c.logger.Error(ctx, fmt.Errorf("panic while rendering error: %v", v), "error controller failed",
			"original_error_type", fmt.Sprintf("%T", err),
		)
		if !wrote {
			httpmw.WriteMinimal500(w)
			c.rendered(apperr.KindUnclassified, http.StatusInternalServerError)
		}
	}()

	if err == nil {
		err = xerrors.New("nil error forwarded")
	}

	op, kind := apperr.Classify(err)
	status := http.StatusInternalServerError
	statusClass := apperr.StatusError
	message := GenericMessage
	if op != nil {
		status, statusClass, message = op.StatusCode(), op.Status(), op.Message()
	}

	c.record(r, err, kind, status)

	env := envelope{Status: statusClass, Message: message}
	if c.mode == ModeDevelopment {
		if op == nil {
			// development shows the raw message of programming errors too
			env.Message = err.Error()
		}
		env.Error = &detail{
			Type:          fmt.Sprintf("%T", err),
			StatusCode:    status,
			IsOperational: op != nil,
			Kind:          kind.String(),
			Chain:         log.ErrorChain(err),
		}
		env.Stack = stackFor(err, op)
	}

	body, encErr := encode(env)
	if encErr != nil {
		c.logger.Error(ctx, encErr, "error envelope encoding failed")
		wrote = true
		httpmw.WriteMinimal500(w)
		c.rendered(kind, http.StatusInternalServerError)
		return
	}

	h := w.Header()
	h.Del("Content-Length")
	h.Set("Content-Type", "application/json; charset=utf-8")
	h.Set("Cache-Control", "no-store")
	wrote = true
	w.WriteHeader(status)
	_, _ = w.Write(body)
	c.rendered(kind, status)
}

func (c *Controller) rendered(kind apperr.Kind, status int) {
	if c.onRendered != nil {
		c.onRendered(kind, status)
	}
}

// record logs and traces the failure. Unclassified errors and 5xx are logged
// at error level with full detail; expected client errors at debug.
func (c *Controller) record(r *http.Request, err error, kind apperr.Kind, status int) {
	ctx := r.Context()
	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		span.RecordError(err)
		span.SetAttributes(
			attribute.String("error.kind", kind.String()),
			attribute.Bool("error.operational", kind != apperr.KindUnclassified),
		)
		if status >= 500 {
			span.SetStatus(codes.Error, kind.String())
		}
	}

	L := log.FromContextOr(ctx, c.logger)
	kv := []any{"kind", kind.String(), "http.response.status_code", status}
	switch {
	case kind == apperr.KindUnclassified:
		L.Error(ctx, err, "unhandled error", kv...)
	case status >= 500:
		L.Error(ctx, err, "request failed", kv...)
	default:
		L.Debug(ctx, "request rejected", append(kv, "err", err.Error())...)
	}
}

func stackFor(err error, op *apperr.OperationalError) string {
	if s := xerrors.Stack(err); s != "" {
		return s
	}
	if op != nil {
		return xerrors.RenderPCs(op.StackPCs())
	}
	return ""
}

// encode recovers from panicking MarshalJSON implementations in the chain.
func encode(env envelope) (b []byte, err error) {
	defer func() {
		if v := recover(); v != nil {
			b, err = nil, fmt.Errorf("encode error envelope: panic: %v", v)
		}
	}()
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(env); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/MEMAtest/horizon-scanner-backend-sub006/internal/core/domain"
	"github.com/MEMAtest/horizon-scanner-backend-sub006/internal/core/ports"
	"github.com/MEMAtest/horizon-scanner-backend-sub006/internal/infrastructure/resilience"
)

const (
	DefaultEventsSubject  = "enforcement.pipeline.events"
	DefaultControlSubject = "enforcement.pipeline.control"
)

// Bus publishes pipeline events and carries pause/resume/cancel commands
// between the CLI and a running pipeline.
type Bus struct {
	conn           *nats.Conn
	eventsSubject  string
	controlSubject string
	executor       *resilience.Executor
}

type Options struct {
	EventsSubject        string
	ControlSubject       string
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	ResilienceExecutor   *resilience.Executor
}

func New(url string) (*Bus, error) {
	return NewWithOptions(url, Options{})
}

func NewWithOptions(url string, options Options) (*Bus, error) {
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	retryOnFailedConnect := true
	if options.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *options.RetryOnFailedConnect
	}
	eventsSubject := options.EventsSubject
	if eventsSubject == "" {
		eventsSubject = DefaultEventsSubject
	}
	controlSubject := options.ControlSubject
	if controlSubject == "" {
		controlSubject = DefaultControlSubject
	}

	conn, err := nats.Connect(
		url,
		nats.Name("enforcement-pipeline"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Bus{
		conn:           conn,
		eventsSubject:  eventsSubject,
		controlSubject: controlSubject,
		executor:       options.ResilienceExecutor,
	}, nil
}

func (b *Bus) Close() {
	if b.conn != nil {
		b.conn.Close()
	}
}

// PublishEvent sends the event on "<events subject>.<kind>" so consumers can
// filter with wildcards.
func (b *Bus) PublishEvent(ctx context.Context, ev domain.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return b.publish(ctx, "nats.publish.event", eventSubject(b.eventsSubject, ev.Kind), ev.Stage, data)
}

// PublishControl sends a pipeline command to whichever process is running.
func (b *Bus) PublishControl(ctx context.Context, command string) error {
	cmd, err := ParseCommand(command)
	if err != nil {
		return err
	}
	if err := b.publish(ctx, "nats.publish.control", b.controlSubject, "", []byte(cmd)); err != nil {
		return err
	}
	if err := b.conn.FlushTimeout(2 * time.Second); err != nil {
		return publishFailure(b.controlSubject, "", fmt.Errorf("flush: %w", err))
	}
	return nil
}

func (b *Bus) publish(ctx context.Context, op, subject string, stage domain.Stage, data []byte) error {
	call := func(_ context.Context) error {
		return b.conn.Publish(subject, data)
	}

	var err error
	if b.executor != nil {
		err = b.executor.Execute(ctx, op, call, classifyPublishError)
	} else {
		err = call(ctx)
	}
	return publishFailure(subject, stage, err)
}

// SubscribeControl applies incoming commands to ctrl until ctx is done.
func (b *Bus) SubscribeControl(ctx context.Context, ctrl ports.PipelineController) error {
	sub, err := b.conn.Subscribe(b.controlSubject, func(msg *nats.Msg) {
		if ctx.Err() != nil {
			return
		}
		cmd, err := Dispatch(ctrl, msg.Data)
		if err != nil {
			slog.Warn("pipeline_control_rejected", "data", string(msg.Data), "error", err)
			return
		}
		slog.Info("pipeline_control_applied", "command", cmd)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}

	if err := b.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	return nil
}

const (
	CommandPause  = "pause"
	CommandResume = "resume"
	CommandCancel = "cancel"
)

func ParseCommand(raw string) (string, error) {
	cmd := strings.ToLower(strings.TrimSpace(raw))
	switch cmd {
	case CommandPause, CommandResume, CommandCancel:
		return cmd, nil
	default:
		return "", domain.WrapError(domain.ErrInvalidInput, "pipeline command", fmt.Errorf("unknown command %q", raw))
	}
}

// Dispatch applies one control message to ctrl.
func Dispatch(ctrl ports.PipelineController, data []byte) (string, error) {
	cmd, err := ParseCommand(string(data))
	if err != nil {
		return "", err
	}
	switch cmd {
	case CommandPause:
		ctrl.Pause()
	case CommandResume:
		ctrl.Resume()
	case CommandCancel:
		ctrl.Cancel()
	}
	return cmd, nil
}

func eventSubject(base string, kind domain.EventKind) string {
	if kind == "" {
		return base
	}
	return base + "." + string(kind)
}

package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/gabrielabritta/argo/broadcast"
	"github.com/gabrielabritta/argo/component"
	"github.com/gabrielabritta/argo/errors"
	"github.com/gabrielabritta/argo/metric"
	"github.com/gabrielabritta/argo/mqttclient"
	"github.com/gabrielabritta/argo/pkg/worker"
	"github.com/gabrielabritta/argo/statecache"
	"github.com/gabrielabritta/argo/store"
	"github.com/gabrielabritta/argo/telemetry"
)

// Commands the server itself publishes; an inbound echo of one is normal
// and logged at debug, anything else is logged and ignored.
var knownCommands = map[string]struct{}{
	"move":          {},
	"start_mission": {},
}

// RoverStateRefresher is the optional registry hook that opportunistically
// mirrors battery/sensors/alerts from ingested telemetry.
type RoverStateRefresher interface {
	RefreshRoverState(ctx context.Context, identifier string, battery float64, sensors, alerts json.RawMessage) error
}

// Deps carries the pipeline's collaborators. Broker, Cache, Recorder, and
// Broadcaster are required; the rest are optional.
type Deps struct {
	Broker      mqttclient.Broker
	Cache       statecache.Cache
	Recorder    store.Recorder
	Broadcaster broadcast.Broadcaster
	Refresher   RoverStateRefresher

	Logger          *slog.Logger
	Metrics         *metric.Metrics
	MetricsRegistry *metric.MetricsRegistry
}

// Config tunes the pipeline.
type Config struct {
	TopicFilter string
	QoS         byte
	Workers     int
	QueueSize   int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		TopicFilter: "substations/+/rovers/+/+",
		QoS:         1,
		Workers:     4,
		QueueSize:   1024,
	}
}

// message is one unit of work through the pool.
type message struct {
	topic   string
	payload []byte
}

// Pipeline subscribes to the rover topic tree and drives every message
// through route → decode → cache → store → broadcast on a worker pool, so
// a slow write for one rover never stalls the others.
type Pipeline struct {
	cfg     Config
	deps    Deps
	decoder *Decoder
	pool    *worker.Pool[message]
	logger  *slog.Logger

	running   atomic.Bool
	startTime time.Time

	received  atomic.Int64
	dropped   atomic.Int64
	errsCount atomic.Int64
	lastMsg   atomic.Value // time.Time
}

var _ component.Discoverable = (*Pipeline)(nil)
var _ component.LifecycleComponent = (*Pipeline)(nil)

// New builds the pipeline. Zero-value Config fields fall back to defaults.
func New(cfg Config, deps Deps) *Pipeline {
	def := DefaultConfig()
	if cfg.TopicFilter == "" {
		cfg.TopicFilter = def.TopicFilter
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	p := &Pipeline{
		cfg:     cfg,
		deps:    deps,
		decoder: NewDecoder(),
		logger:  logger.With("component", "Ingest"),
	}

	var poolOpts []worker.Option[message]
	if deps.MetricsRegistry != nil {
		poolOpts = append(poolOpts,
			worker.WithMetricsRegistry[message](deps.MetricsRegistry, "argo_ingest"))
	}
	p.pool = worker.NewPool(cfg.Workers, cfg.QueueSize, p.process, poolOpts...)
	return p
}

// Meta returns the component metadata.
func (p *Pipeline) Meta() component.Metadata {
	return component.Metadata{
		Name:        "ingest-pipeline",
		Type:        "processor",
		Description: fmt.Sprintf("telemetry ingestion pipeline on %s (%d workers)", p.cfg.TopicFilter, p.cfg.Workers),
		Version:     "1.0.0",
	}
}

// InputPorts returns the MQTT subscription this component consumes.
func (p *Pipeline) InputPorts() []component.Port {
	return []component.Port{{
		Name:        "mqtt_rover_tree",
		Direction:   component.DirectionInput,
		Topic:       p.cfg.TopicFilter,
		Required:    true,
		Description: "rover telemetry/image/boxes/commands messages",
	}}
}

// OutputPorts returns where decoded updates go.
func (p *Pipeline) OutputPorts() []component.Port {
	return []component.Port{
		{
			Name:        "viewer_groups",
			Direction:   component.DirectionOutput,
			Description: "per-rover broadcast groups",
		},
		{
			Name:        "durable_store",
			Direction:   component.DirectionOutput,
			Description: "telemetry snapshots and sensor readings",
		},
	}
}

// Health reports pipeline liveness.
func (p *Pipeline) Health() component.HealthStatus {
	running := p.running.Load()
	var uptime time.Duration
	if running {
		uptime = time.Since(p.startTime)
	}
	return component.HealthStatus{
		Healthy:    running,
		LastCheck:  time.Now(),
		ErrorCount: int(p.errsCount.Load()),
		Uptime:     uptime,
	}
}

// DataFlow returns throughput metrics for discovery.
func (p *Pipeline) DataFlow() component.FlowMetrics {
	received := p.received.Load()
	var perSecond, errorRate float64
	if uptime := time.Since(p.startTime).Seconds(); p.running.Load() && uptime > 0 {
		perSecond = float64(received) / uptime
	}
	if received > 0 {
		errorRate = float64(p.errsCount.Load()) / float64(received)
	}
	last, _ := p.lastMsg.Load().(time.Time)
	return component.FlowMetrics{
		MessagesPerSecond: perSecond,
		ErrorRate:         errorRate,
		LastActivity:      last,
	}
}

// Initialize validates dependencies.
func (p *Pipeline) Initialize() error {
	if p.deps.Broker == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Ingest", "Initialize", "broker cannot be nil")
	}
	if p.deps.Cache == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Ingest", "Initialize", "cache cannot be nil")
	}
	if p.deps.Recorder == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Ingest", "Initialize", "recorder cannot be nil")
	}
	if p.deps.Broadcaster == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Ingest", "Initialize", "broadcaster cannot be nil")
	}
	return nil
}

// Start launches the worker pool and subscribes to the topic tree.
func (p *Pipeline) Start(ctx context.Context) error {
	if p.running.Load() {
		return nil
	}
	if err := p.pool.Start(ctx); err != nil {
		return errors.Wrap(err, "Ingest", "Start", "worker pool start failed")
	}

	err := p.deps.Broker.Subscribe(ctx, p.cfg.TopicFilter, p.cfg.QoS, p.handleMessage)
	if err != nil {
		_ = p.pool.Stop(time.Second)
		return errors.Wrap(err, "Ingest", "Start", "subscribe to "+p.cfg.TopicFilter+" failed")
	}

	p.running.Store(true)
	p.startTime = time.Now()
	p.logger.Info("ingestion started", "filter", p.cfg.TopicFilter, "workers", p.cfg.Workers)
	return nil
}

// Stop drains in-flight messages and shuts the pool down.
func (p *Pipeline) Stop(timeout time.Duration) error {
	if !p.running.Load() {
		return nil
	}
	p.running.Store(false)
	if err := p.pool.Stop(timeout); err != nil {
		return errors.Wrap(err, "Ingest", "Stop", "worker pool drain failed")
	}
	return nil
}

// handleMessage is the transport callback: it only enqueues. Overload
// sheds by dropping the newest message rather than queuing unboundedly.
func (p *Pipeline) handleMessage(_ context.Context, topic string, payload []byte) {
	p.received.Add(1)
	p.lastMsg.Store(time.Now())
	if p.deps.Metrics != nil {
		p.deps.Metrics.RecordMessageReceived("ingest", "raw")
	}

	if err := p.pool.Submit(message{topic: topic, payload: payload}); err != nil {
		p.dropped.Add(1)
		p.logger.Warn("message dropped", "topic", topic, "reason", err)
	}
}

// process runs on a pool worker. Any returned error has already been
// handled (logged, counted); it only feeds the pool's failure counter.
func (p *Pipeline) process(ctx context.Context, msg message) error {
	start := time.Now()

	route, err := ParseTopic(msg.topic)
	if err != nil {
		p.errsCount.Add(1)
		if errors.Is(err, errors.ErrUnknownKind) {
			// Forward-compat skip, not an error condition.
			p.logger.Info("skipping unrecognized message kind", "topic", msg.topic)
		} else {
			p.logger.Warn("dropping message with malformed topic", "topic", msg.topic)
		}
		p.recordOutcome("route", "dropped", start, err)
		return err
	}

	logger := p.logger.With("substation", route.SubstationID, "rover", route.RoverID, "kind", route.Kind.String())

	var procErr error
	switch route.Kind {
	case telemetry.KindTelemetry:
		procErr = p.processTelemetry(ctx, route, msg.payload, logger)
	case telemetry.KindImage:
		procErr = p.processImage(ctx, route, msg.payload, logger)
	case telemetry.KindBoxes:
		procErr = p.processBoxes(ctx, route, msg.payload, logger)
	case telemetry.KindCommands:
		procErr = p.processCommand(msg.payload, logger)
	}

	status := "success"
	if procErr != nil {
		p.errsCount.Add(1)
		status = "error"
	}
	p.recordOutcome(route.Kind.String(), status, start, procErr)
	return procErr
}

func (p *Pipeline) recordOutcome(kind, status string, start time.Time, err error) {
	if p.deps.Metrics == nil {
		return
	}
	p.deps.Metrics.RecordMessageProcessed("ingest", kind, status)
	p.deps.Metrics.RecordProcessingDuration("ingest", kind, time.Since(start))
	if err != nil {
		p.deps.Metrics.RecordError("ingest", errors.Classify(err).String())
	}
}

// processTelemetry is the full path: decode, cache, durable write, then
// fan-out gated on the write having committed.
func (p *Pipeline) processTelemetry(ctx context.Context, route Route, payload []byte, logger *slog.Logger) error {
	rec, warnings, err := p.decoder.DecodeTelemetry(payload)
	if err != nil {
		logger.Warn("telemetry decode failed", "error", err)
		return err
	}
	for _, w := range warnings {
		logger.Warn("telemetry field failed numeric coercion, using zero",
			"field", w.Field, "value", fmt.Sprintf("%v", w.Value))
	}

	encoded, err := json.Marshal(rec)
	if err != nil {
		logger.Error("telemetry re-encode failed", "error", err)
		return errors.WrapInvalid(errors.ErrDecodeFailed, "Ingest", "processTelemetry", "re-encode failed")
	}

	// Cache write is best-effort: ingestion continues without it.
	if err := p.deps.Cache.Put(ctx, route.Kind, route.SubstationID, route.RoverID, encoded); err != nil {
		logger.Warn("cache write skipped", "error", err)
	}

	snap, err := p.deps.Recorder.RecordTelemetry(ctx, route.RoverID, rec)
	if err != nil {
		// No fan-out for data that was not durably recorded, and no retry:
		// the next sample supersedes this one.
		if errors.Is(err, errors.ErrRoverNotFound) {
			logger.Warn("telemetry rejected: rover not registered")
		} else {
			logger.Error("durable write failed, update not fanned out", "error", err)
		}
		return err
	}

	if p.deps.Refresher != nil {
		if err := p.deps.Refresher.RefreshRoverState(ctx, route.RoverID, rec.Battery, nil, nil); err != nil {
			logger.Warn("registry state refresh failed", "error", err)
		}
	}

	env, err := telemetry.MarshalEnvelope(telemetry.KindTelemetry, rec)
	if err != nil {
		logger.Error("envelope marshal failed", "error", err)
		return err
	}
	delivered := p.deps.Broadcaster.Publish(telemetry.GroupName(route.RoverID), env)
	logger.Debug("telemetry recorded and fanned out",
		"snapshot_id", snap.ID, "viewers", delivered)
	return nil
}

// processImage caches and fans out a camera frame. Independent of
// durability; frames are a cache-only live stream.
func (p *Pipeline) processImage(ctx context.Context, route Route, payload []byte, logger *slog.Logger) error {
	frame := p.decoder.DecodeImage(payload)

	encoded, err := json.Marshal(frame)
	if err != nil {
		return errors.WrapInvalid(errors.ErrDecodeFailed, "Ingest", "processImage", "re-encode failed")
	}
	if err := p.deps.Cache.Put(ctx, route.Kind, route.SubstationID, route.RoverID, encoded); err != nil {
		logger.Warn("cache write skipped", "error", err)
	}

	env, err := telemetry.MarshalEnvelope(telemetry.KindImage, frame)
	if err != nil {
		return err
	}
	p.deps.Broadcaster.Publish(telemetry.GroupName(route.RoverID), env)
	return nil
}

// processBoxes caches and fans out detection results after JSON
// validation. Independent of durability.
func (p *Pipeline) processBoxes(ctx context.Context, route Route, payload []byte, logger *slog.Logger) error {
	boxes, err := p.decoder.DecodeBoxes(payload)
	if err != nil {
		logger.Warn("boxes decode failed", "error", err)
		return err
	}

	encoded, err := json.Marshal(boxes)
	if err != nil {
		return errors.WrapInvalid(errors.ErrDecodeFailed, "Ingest", "processBoxes", "re-encode failed")
	}
	if err := p.deps.Cache.Put(ctx, route.Kind, route.SubstationID, route.RoverID, encoded); err != nil {
		logger.Warn("cache write skipped", "error", err)
	}

	env, err := telemetry.MarshalEnvelope(telemetry.KindBoxes, boxes)
	if err != nil {
		return err
	}
	p.deps.Broadcaster.Publish(telemetry.GroupName(route.RoverID), env)
	return nil
}

// processCommand decodes an inbound command message. The server is the
// usual publisher on this kind, so inbound traffic is either an echo of
// our own command or future firmware chatter; both are logged, neither is
// acted on here.
func (p *Pipeline) processCommand(payload []byte, logger *slog.Logger) error {
	cmd, err := p.decoder.DecodeCommand(payload)
	if err != nil {
		logger.Warn("command decode failed", "error", err)
		return err
	}
	if _, known := knownCommands[cmd.Name]; known {
		logger.Debug("observed command", "command", cmd.Name)
	} else {
		logger.Info("ignoring unrecognized command", "command", cmd.Name)
	}
	return nil
}

// Stats exposes worker pool statistics.
func (p *Pipeline) Stats() worker.PoolStats {
	return p.pool.Stats()
}

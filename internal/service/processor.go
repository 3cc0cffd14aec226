// Package service wires the packet engine to its inputs and outputs: the
// processor decodes and monitors packets, the link server feeds it from TCP.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/resident-x/go-tmtc/internal/alarm"
	"github.com/resident-x/go-tmtc/internal/cache"
	"github.com/resident-x/go-tmtc/internal/command"
	"github.com/resident-x/go-tmtc/internal/config"
	"github.com/resident-x/go-tmtc/internal/domain"
	"github.com/resident-x/go-tmtc/internal/extractor"
	"github.com/resident-x/go-tmtc/internal/metrics"
	"github.com/resident-x/go-tmtc/internal/pubsub"
	"github.com/resident-x/go-tmtc/internal/schema"
	"github.com/resident-x/go-tmtc/internal/subscription"
)

// Packet sources used as metric labels.
const (
	SourceLink = "link"
	SourceAPI  = "api"
)

// ErrUnknownContainer is returned when a container is requested by a name
// the schema does not define.
var ErrUnknownContainer = errors.New("unknown container")

// Packet is the published view of one processed packet.
type Packet struct {
	Source     string                   `json:"source"`
	ReceivedAt time.Time                `json:"received_at"`
	SizeBytes  int                      `json:"size_bytes"`
	SizeBits   int                      `json:"size_bits"`
	Containers []string                 `json:"containers"`
	Parameters []*domain.ParameterValue `json:"parameters"`
	Arguments  []*domain.ArgumentValue  `json:"arguments,omitempty"`
}

// Container returns the innermost matched container.
func (p *Packet) Container() string {
	if len(p.Containers) == 0 {
		return ""
	}
	return p.Containers[len(p.Containers)-1]
}

// Processor runs packets through extraction, monitoring, the last-value
// cache, metrics and the message publisher. It is safe for concurrent use.
type Processor struct {
	cfg       *config.Config
	db        *schema.Database
	root      *schema.SequenceContainer
	sub       *subscription.Subscription
	cache     *cache.LastValueCache
	stats     *domain.ContainerRegistry
	extractor *extractor.Extractor
	checker   *alarm.Checker
	alarms    *AlarmMonitor
	commands  *command.Builder
	publisher domain.MessagePublisher
	metrics   *metrics.Metrics
	logger    zerolog.Logger
	now       func() time.Time
}

// NewProcessor creates a processor for db. m may be nil.
func NewProcessor(cfg *config.Config, db *schema.Database, publisher domain.MessagePublisher, m *metrics.Metrics) (*Processor, error) {
	root := db.RootContainer()
	if name := cfg.Processing.RootContainer; name != "" {
		c, ok := db.Container(name)
		if !ok {
			return nil, fmt.Errorf("root container %q: %w", name, ErrUnknownContainer)
		}
		root = c
	}
	if publisher == nil {
		publisher = pubsub.NewNoopPublisher()
	}

	// parameters are subscribed one by one so they can be dropped one by one
	sub := subscription.New(db)
	sub.AddParameters(db.Parameters())
	lvc := cache.New(db, cfg.Processing.CacheHistorySize)
	stats := domain.NewContainerRegistry()
	alarms := NewAlarmMonitor(publisher, pubsub.Topic(cfg.MQTT.Topic, "alarms"))

	p := &Processor{
		cfg:       cfg,
		db:        db,
		root:      root,
		sub:       sub,
		cache:     lvc,
		stats:     stats,
		checker:   alarm.NewChecker(alarms),
		alarms:    alarms,
		publisher: publisher,
		metrics:   m,
		logger:    log.With().Str("component", "processor").Logger(),
		now:       time.Now,
	}
	p.extractor = extractor.New(db, sub, lvc, extractor.Options{
		IgnoreOutOfContainerEntries: cfg.Processing.IgnoreOutOfContainerEntries,
		MaxRepeatCount:              cfg.Processing.MaxRepeatCount,
		ExpirationTolerance:         cfg.Processing.ExpirationTolerance,
	}).WithStats(stats)
	p.commands = command.NewBuilder(db, lvc, command.Options{
		MaxSizeBytes: cfg.Command.MaxSizeBytes,
		AppendCRC:    cfg.Command.AppendCRC,
	})
	return p, nil
}

// Process decodes one received packet from the root container and
// delivers its values.
func (p *Processor) Process(ctx context.Context, source string, data []byte) (*Packet, error) {
	start := time.Now()
	pkt, values, err := p.decode(ctx, source, data, p.root, true)
	if err != nil {
		p.recordError("no_root_container")
		return nil, err
	}

	p.cache.Put(values)
	if p.metrics != nil {
		p.metrics.RecordPacket(source, len(data), pkt.Containers, values, time.Since(start))
	}

	topic := pubsub.Topic(p.cfg.MQTT.Topic, "packets")
	if p.cfg.Processing.PublishTopicPerContainer && pkt.Container() != "" {
		topic = pubsub.Topic(topic, pkt.Container())
	}
	if err := p.publisher.Publish(ctx, topic, pkt); err != nil {
		p.logger.Error().Str("topic", topic).Err(err).Msg("Failed to publish packet")
	}

	p.logger.Debug().
		Str("source", source).
		Str("container", pkt.Container()).
		Int("parameters", len(pkt.Parameters)).
		Msg("Processed packet")
	return pkt, nil
}

// Decode extracts data starting at the named container, or the root
// container when name is empty, without delivering the values anywhere.
// Alarms are evaluated but not reported.
func (p *Processor) Decode(ctx context.Context, data []byte, name string) (*Packet, error) {
	c := p.root
	if name != "" {
		var ok bool
		if c, ok = p.db.Container(name); !ok {
			return nil, fmt.Errorf("%q: %w", name, ErrUnknownContainer)
		}
	}
	pkt, _, err := p.decode(ctx, "decode", data, c, false)
	return pkt, err
}

func (p *Processor) decode(ctx context.Context, source string, data []byte, c *schema.SequenceContainer, report bool) (*Packet, []*domain.ParameterValue, error) {
	now := p.now()
	x := p.extractor
	if !report {
		// one-off decodes must not count as receptions
		x = extractor.New(p.db, nil, p.cache, extractor.Options{
			IgnoreOutOfContainerEntries: p.cfg.Processing.IgnoreOutOfContainerEntries,
			MaxRepeatCount:              p.cfg.Processing.MaxRepeatCount,
			ExpirationTolerance:         p.cfg.Processing.ExpirationTolerance,
		})
	}
	res, err := x.Extract(data, c, now, time.Time{})
	if err != nil {
		return nil, nil, err
	}

	if report {
		p.checker.Check(ctx, res.Parameters, res.Context)
	} else {
		alarm.NewChecker(nil).Check(ctx, res.Parameters, res.Context)
	}

	pkt := &Packet{
		Source:     source,
		ReceivedAt: now,
		SizeBytes:  len(data),
		SizeBits:   res.SizeInBits,
		Containers: make([]string, 0, len(res.Containers)),
		Parameters: res.Parameters,
		Arguments:  res.Arguments,
	}
	for _, mc := range res.Containers {
		pkt.Containers = append(pkt.Containers, mc.Name)
	}
	return pkt, res.Parameters, nil
}

// BuildCommand encodes a command and accounts for it in the metrics.
func (p *Processor) BuildCommand(name string, assignments map[string]string) (*command.Result, error) {
	res, err := p.commands.BuildByName(name, assignments)
	if p.metrics != nil {
		p.metrics.RecordCommand(name, err == nil)
	}
	return res, err
}

func (p *Processor) recordError(reason string) {
	if p.metrics != nil {
		p.metrics.RecordPacketError(reason)
	}
}

// Database returns the schema the processor decodes with.
func (p *Processor) Database() *schema.Database { return p.db }

// Subscription returns the live subscription of the processor.
func (p *Processor) Subscription() *subscription.Subscription { return p.sub }

// Cache returns the last-value cache fed by Process.
func (p *Processor) Cache() *cache.LastValueCache { return p.cache }

// Stats returns the container reception statistics.
func (p *Processor) Stats() domain.StatsRegistry { return p.stats }

// Alarms returns the alarm monitor.
func (p *Processor) Alarms() *AlarmMonitor { return p.alarms }

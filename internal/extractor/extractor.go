// Package extractor walks the container tree of a packet and decodes the
// subscribed entries into parameter values.
package extractor

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/resident-x/go-tmtc/internal/bitbuf"
	"github.com/resident-x/go-tmtc/internal/calib"
	"github.com/resident-x/go-tmtc/internal/codec"
	"github.com/resident-x/go-tmtc/internal/condition"
	"github.com/resident-x/go-tmtc/internal/domain"
	"github.com/resident-x/go-tmtc/internal/schema"
	"github.com/resident-x/go-tmtc/internal/subscription"
	"github.com/resident-x/go-tmtc/internal/value"
)

const (
	// DefaultMaxRepeatCount bounds the number of occurrences of a repeated
	// entry or array.
	DefaultMaxRepeatCount = 10000

	// DefaultExpirationTolerance multiplies the max interval of a container
	// to obtain the expiration of its values.
	DefaultExpirationTolerance = 1.9

	maxNesting = 64
)

// ErrUnresolved is returned when a dynamic count or size has no value.
var ErrUnresolved = errors.New("dynamic value not available")

// ErrNoRootContainer is returned by Extract when neither the caller nor the
// schema names a container to start from.
var ErrNoRootContainer = errors.New("no root container")

// Options tune the traversal.
type Options struct {
	// IgnoreOutOfContainerEntries silently stops a container at the first
	// entry located past the end of the packet.
	IgnoreOutOfContainerEntries bool
	MaxRepeatCount              int
	ExpirationTolerance         float64
}

// DefaultOptions returns the options used when none are configured.
func DefaultOptions() Options {
	return Options{
		MaxRepeatCount:      DefaultMaxRepeatCount,
		ExpirationTolerance: DefaultExpirationTolerance,
	}
}

// Result is what a packet yielded.
type Result struct {
	Parameters []*domain.ParameterValue
	// Arguments are found when decoding command containers.
	Arguments []*domain.ArgumentValue
	// Containers are the matched containers, outermost first.
	Containers []*schema.SequenceContainer
	// SizeInBits is the furthest bit position reached.
	SizeInBits int
	// Context holds the delivered values for follow-up condition
	// evaluation, for example alarm context selection.
	Context *condition.Context
}

// Extractor decodes packets. It is safe for concurrent use; every call
// works on its own cursor and condition context.
type Extractor struct {
	db        *schema.Database
	sub       *subscription.Subscription
	snapshot  func() *subscription.Snapshot
	evaluator *condition.Evaluator
	stats     domain.StatsRegistry
	opts      Options
	logger    zerolog.Logger
}

// New creates an extractor. A nil subscription decodes every entry, a nil
// cache restricts conditions to the values of the packet itself.
func New(db *schema.Database, sub *subscription.Subscription, cache domain.ParameterCache, opts Options) *Extractor {
	if opts.MaxRepeatCount <= 0 {
		opts.MaxRepeatCount = DefaultMaxRepeatCount
	}
	if opts.ExpirationTolerance <= 0 {
		opts.ExpirationTolerance = DefaultExpirationTolerance
	}
	x := &Extractor{
		db:        db,
		sub:       sub,
		evaluator: condition.NewEvaluator(cache),
		opts:      opts,
		logger:    log.With().Str("component", "extractor").Logger(),
	}
	if sub != nil {
		x.snapshot = sub.Snapshot
	}
	return x
}

// WithStats makes the extractor count every matched container in r.
func (x *Extractor) WithStats(r domain.StatsRegistry) *Extractor {
	x.stats = r
	return x
}

// Extract decodes data starting at container c, or at the root container
// of the schema when c is nil. Decoding problems never fail the packet:
// they are logged and whatever could be extracted is returned.
func (x *Extractor) Extract(data []byte, c *schema.SequenceContainer, acquisition, generation time.Time) (*Result, error) {
	if c == nil {
		c = x.db.RootContainer()
	}
	if c == nil {
		return nil, ErrNoRootContainer
	}
	if generation.IsZero() {
		generation = acquisition
	}

	p := &packet{
		x:           x,
		buf:         bitbuf.New(data),
		ctx:         x.evaluator.NewContext(),
		result:      &Result{},
		acquisition: acquisition,
		generation:  generation,
	}
	// one subscription state for the whole packet
	if x.snapshot != nil {
		p.sub = x.snapshot()
	}
	p.result.Context = p.ctx

	// a derived container is decoded together with its bases
	chain := c.Hierarchy()
	end := 0
	for i := len(chain) - 1; i >= 0; i-- {
		p.enter(chain[i])
		if pos := p.container(chain[i], 0); pos > end {
			end = pos
		}
	}
	if pos := p.derived(c, 0); pos > end {
		end = pos
	}
	p.result.SizeInBits = end

	if x.stats != nil {
		for _, mc := range p.result.Containers {
			x.stats.Record(mc.Name, acquisition, generation)
		}
	}
	return p.result, nil
}

// packet is the state of one Extract call.
type packet struct {
	x      *Extractor
	sub    *subscription.Snapshot
	buf    *bitbuf.Buffer
	ctx    *condition.Context
	result *Result

	acquisition time.Time
	generation  time.Time
	expiration  time.Duration
	depth       int
}

func (p *packet) entries(c *schema.SequenceContainer) []schema.SequenceEntry {
	if p.sub == nil {
		return c.Entries
	}
	return p.sub.Entries(c)
}

func (p *packet) derivedOf(c *schema.SequenceContainer) []*schema.SequenceContainer {
	if p.sub == nil {
		return c.Derived()
	}
	return p.sub.Derived(c)
}

func (p *packet) enter(c *schema.SequenceContainer) {
	p.result.Containers = append(p.result.Containers, c)
	if c.MaxInterval > 0 {
		p.expiration = time.Duration(float64(c.MaxInterval) * p.x.opts.ExpirationTolerance)
	}
}

// extract decodes c and the first matching derived container at the cursor
// and returns the furthest position reached.
func (p *packet) extract(c *schema.SequenceContainer) int {
	if p.depth >= maxNesting {
		p.x.logger.Warn().Str("container", c.Name).Msg("Container nesting too deep")
		return p.buf.Position()
	}
	p.depth++
	defer func() { p.depth-- }()

	start := p.buf.Position()
	p.enter(c)
	end := p.container(c, start)
	if pos := p.derived(c, start); pos > end {
		end = pos
	}
	p.buf.SetPosition(end)
	return end
}

// derived extracts the first derived container of c whose restriction
// holds. The cursor is left where c ended.
func (p *packet) derived(c *schema.SequenceContainer, start int) int {
	end := p.buf.Position()
	for _, d := range p.derivedOf(c) {
		if d.Restriction == nil {
			p.x.logger.Warn().Str("container", d.Name).Str("base", c.Name).Msg("Derived container without restriction is never selected")
			continue
		}
		if !p.ctx.Matches(d.Restriction) {
			continue
		}
		p.depth++
		p.enter(d)
		if pos := p.container(d, start); pos > end {
			end = pos
		}
		if pos := p.derived(d, start); pos > end {
			end = pos
		}
		p.depth--
		break
	}
	p.buf.SetPosition(end)
	return end
}

// container decodes the subscribed entries of c, whose first bit is start,
// and leaves the cursor at the furthest position reached.
func (p *packet) container(c *schema.SequenceContainer, start int) int {
	end := p.buf.Position()
	for _, e := range p.entries(c) {
		base := e.Entry()
		if base.IncludeCondition != nil && !p.ctx.Matches(base.IncludeCondition) {
			continue
		}

		pos := base.LocationBits
		if base.Location == schema.LocationContainerStart {
			pos += start
		} else {
			pos += p.buf.Position()
		}
		if pos < start || pos > p.buf.SizeInBits() {
			ev := p.x.logger.Warn()
			if p.x.opts.IgnoreOutOfContainerEntries {
				ev = p.x.logger.Debug()
			}
			ev.Str("container", c.Name).
				Str("entry", e.Name()).
				Int("bit_offset", pos).
				Int("packet_bits", p.buf.SizeInBits()).
				Msg("Entry outside the packet")
			break
		}
		p.buf.SetPosition(pos)

		if err := p.entry(c, e); err != nil {
			p.x.logger.Warn().
				Err(err).
				Str("container", c.Name).
				Str("entry", e.Name()).
				Int("bit_offset", pos).
				Msg("Entry decoding failed, skipping the rest of the container")
			if p.buf.Position() > end {
				end = p.buf.Position()
			}
			break
		}
		if p.buf.Position() > end {
			end = p.buf.Position()
		}
	}
	p.buf.SetPosition(end)
	return end
}

// entry decodes all occurrences of e. A returned error truncates the
// container.
func (p *packet) entry(c *schema.SequenceContainer, e schema.SequenceEntry) error {
	rep := e.Entry().Repeat
	if rep == nil {
		return p.occurrence(e)
	}

	count, ok := p.ctx.Integer(rep.Count)
	if !ok {
		p.x.logger.Warn().Str("container", c.Name).Str("entry", e.Name()).Msg("Repeat count not available, entry skipped")
		return nil
	}
	if err := p.checkRepeat(e, count, rep.OffsetBits); err != nil {
		p.x.logger.Warn().Err(err).Str("container", c.Name).Str("entry", e.Name()).Msg("Repeat count rejected, entry skipped")
		return nil
	}
	for i := int64(0); i < count; i++ {
		if i > 0 {
			if err := p.buf.Skip(rep.OffsetBits); err != nil {
				return err
			}
		}
		if err := p.occurrence(e); err != nil {
			return fmt.Errorf("occurrence %d: %w", i, err)
		}
	}
	return nil
}

func (p *packet) checkRepeat(e schema.SequenceEntry, count int64, offset int) error {
	remaining := int64(p.buf.RemainingBits())
	switch {
	case count < 0:
		return fmt.Errorf("negative count %d", count)
	case count > int64(p.x.opts.MaxRepeatCount):
		return fmt.Errorf("count %d exceeds %d", count, p.x.opts.MaxRepeatCount)
	case count > remaining:
		return fmt.Errorf("count %d exceeds the %d remaining bits", count, remaining)
	}
	if size := EntrySize(e); size > 0 && count > 0 {
		need := count*int64(size) + (count-1)*int64(offset)
		if need > remaining {
			return fmt.Errorf("%d occurrences need %d bits, %d remaining", count, need, remaining)
		}
	}
	return nil
}

func (p *packet) occurrence(e schema.SequenceEntry) error {
	switch entry := e.(type) {
	case *schema.ParameterEntry:
		return p.parameter(entry.Parameter)
	case *schema.ArgumentEntry:
		return p.argument(entry.Argument)
	case *schema.ContainerEntry:
		start := p.buf.Position()
		end := p.extract(entry.Container)
		if n := entry.Container.SizeInBits; n >= 0 {
			end = start + n
		}
		if end > p.buf.SizeInBits() {
			return fmt.Errorf("%w: container %s ends at bit %d", bitbuf.ErrOutOfRange, entry.Container.Name, end)
		}
		p.buf.SetPosition(end)
		return nil
	case *schema.FixedValueEntry:
		return p.fixed(entry)
	}
	return fmt.Errorf("%w: entry type %T", schema.ErrUnsupported, e)
}

func (p *packet) parameter(prm *schema.Parameter) error {
	start := p.buf.Position()
	pv := &domain.ParameterValue{
		Parameter:       prm,
		BitOffset:       start,
		AcquisitionTime: p.acquisition,
		GenerationTime:  p.generation,
		Expiration:      p.expiration,
	}

	raw, err := p.decode(prm.Type)
	if err != nil {
		if !recoverable(err) {
			return err
		}
		pv.Status = domain.Invalid
		p.x.logger.Warn().Err(err).Str("parameter", prm.Name).Int("bit_offset", start).Msg("Parameter marked invalid")
		size := TypeSize(prm.Type)
		if size < 0 {
			p.add(pv)
			return err
		}
		pv.BitSize = size
		p.buf.SetPosition(start + size)
		p.add(pv)
		return nil
	}

	pv.Raw = raw
	pv.BitSize = p.buf.Position() - start
	eng, err := calib.ToEngineering(prm.Type, raw, p.ctx)
	if err != nil {
		pv.Status = domain.Invalid
		p.x.logger.Warn().Err(err).Str("parameter", prm.Name).Str("raw", raw.String()).Msg("Calibration failed")
	} else {
		pv.Eng = eng
	}
	p.add(pv)
	return nil
}

func (p *packet) add(pv *domain.ParameterValue) {
	p.ctx.Add(pv)
	p.result.Parameters = append(p.result.Parameters, pv)
}

func (p *packet) argument(a *schema.Argument) error {
	raw, err := p.decode(a.Type)
	if err != nil {
		return err
	}
	av := &domain.ArgumentValue{Argument: a, Raw: raw}
	if av.Eng, err = calib.ToEngineering(a.Type, raw, p.ctx); err != nil {
		p.x.logger.Warn().Err(err).Str("argument", a.Name).Msg("Calibration failed")
	}
	p.result.Arguments = append(p.result.Arguments, av)
	return nil
}

// decode reads the raw value of dt. Aggregates and arrays have no encoding
// of their own and are decoded member by member.
func (p *packet) decode(dt schema.DataType) (value.Value, error) {
	switch t := dt.(type) {
	case *schema.AggregateType:
		members := make([]value.Member, 0, len(t.Members))
		for _, m := range t.Members {
			v, err := p.decode(m.Type)
			if err != nil {
				return value.None, fmt.Errorf("member %s: %w", m.Name, err)
			}
			members = append(members, value.Member{Name: m.Name, Value: v})
		}
		return value.Aggregate(members), nil
	case *schema.ArrayType:
		n := int64(1)
		for _, d := range t.Dimensions {
			k, ok := p.ctx.Integer(d)
			if !ok {
				return value.None, fmt.Errorf("%w: array %s dimension", ErrUnresolved, t.Name)
			}
			if k < 0 {
				return value.None, fmt.Errorf("%w: array %s dimension %d", bitbuf.ErrOutOfRange, t.Name, k)
			}
			n *= k
			if n > int64(p.x.opts.MaxRepeatCount) || n > int64(p.buf.RemainingBits()) {
				return value.None, fmt.Errorf("%w: array %s of %d elements", bitbuf.ErrOutOfRange, t.Name, n)
			}
		}
		elems := make([]value.Value, 0, n)
		for i := int64(0); i < n; i++ {
			v, err := p.decode(t.ElementType)
			if err != nil {
				return value.None, fmt.Errorf("element %d: %w", i, err)
			}
			elems = append(elems, v)
		}
		return value.Array(elems), nil
	}
	return codec.Decode(dt.Base().Encoding, p.buf)
}

func (p *packet) fixed(e *schema.FixedValueEntry) error {
	n := e.SizeInBits
	if n > p.buf.RemainingBits() {
		return fmt.Errorf("%w: fixed value %s needs %d bits", bitbuf.ErrOutOfRange, e.Label, n)
	}
	if n > 64 {
		return p.buf.Skip(n)
	}
	p.buf.SetByteOrder(bitbuf.BigEndian)
	got, err := p.buf.GetBits(n)
	if err != nil {
		return err
	}
	if want := e.Pattern(); got != want {
		p.x.logger.Debug().
			Str("entry", e.Label).
			Uint64("expected", want).
			Uint64("actual", got).
			Msg("Fixed value mismatch")
	}
	return nil
}

// recoverable errors invalidate one value without stopping the container
// when the size of the field is known.
func recoverable(err error) bool {
	return errors.Is(err, codec.ErrMisaligned) ||
		errors.Is(err, codec.ErrNoTerminator) ||
		errors.Is(err, ErrUnresolved)
}

// TypeSize returns the encoded size of dt in bits, or -1 when it depends on
// the packet.
func TypeSize(dt schema.DataType) int {
	switch t := dt.(type) {
	case *schema.AggregateType:
		total := 0
		for _, m := range t.Members {
			n := TypeSize(m.Type)
			if n < 0 {
				return -1
			}
			total += n
		}
		return total
	case *schema.ArrayType:
		count := int64(1)
		for _, d := range t.Dimensions {
			if d.IsDynamic() {
				return -1
			}
			count *= d.Fixed
		}
		n := TypeSize(t.ElementType)
		if n < 0 {
			return -1
		}
		return int(count) * n
	}
	if enc := dt.Base().Encoding; enc != nil {
		return enc.SizeInBits()
	}
	return -1
}

// EntrySize returns the size of one occurrence of e in bits, or -1 when it
// is not fixed.
func EntrySize(e schema.SequenceEntry) int {
	switch entry := e.(type) {
	case *schema.ParameterEntry:
		return TypeSize(entry.Parameter.Type)
	case *schema.ArgumentEntry:
		return TypeSize(entry.Argument.Type)
	case *schema.ContainerEntry:
		return entry.Container.SizeInBits
	case *schema.FixedValueEntry:
		return entry.SizeInBits
	}
	return -1
}

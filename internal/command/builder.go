// Package command encodes telecommands from their schema definition and a
// set of argument assignments.
package command

import (
	"errors"
	"fmt"
	"sort"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/resident-x/go-tmtc/internal/bitbuf"
	"github.com/resident-x/go-tmtc/internal/calib"
	"github.com/resident-x/go-tmtc/internal/codec"
	"github.com/resident-x/go-tmtc/internal/condition"
	"github.com/resident-x/go-tmtc/internal/domain"
	"github.com/resident-x/go-tmtc/internal/protocol"
	"github.com/resident-x/go-tmtc/internal/schema"
	"github.com/resident-x/go-tmtc/internal/value"
)

// DefaultMaxSizeBytes bounds the size of an encoded command.
const DefaultMaxSizeBytes = 4096

var (
	// ErrAbstractCommand is returned when building an abstract command.
	ErrAbstractCommand = errors.New("abstract command cannot be built")
	// ErrUnknownCommand is returned by BuildByName for names not in the
	// schema.
	ErrUnknownCommand = errors.New("unknown command")
	// ErrUnknownArgument is returned for assignments to arguments the
	// command does not have.
	ErrUnknownArgument = errors.New("unknown argument")
	// ErrAssigned is returned when a value is given for an argument the
	// command definition already fixes.
	ErrAssigned = errors.New("argument is fixed by the command definition")
	// ErrUnset is returned when an argument has neither a value nor a
	// default.
	ErrUnset = errors.New("no value and no default")
	// ErrNoValue is returned when a parameter entry of the command has no
	// usable value in the cache.
	ErrNoValue = errors.New("parameter has no value")
	// ErrTooLarge is returned when the command does not fit MaxSizeBytes.
	ErrTooLarge = errors.New("command too large")
)

// ArgumentError reports a failure tied to one argument.
type ArgumentError struct {
	Argument string
	Err      error
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("argument %s: %v", e.Argument, e.Err)
}

func (e *ArgumentError) Unwrap() error { return e.Err }

// Options configure the builder.
type Options struct {
	MaxSizeBytes int
	// AppendCRC appends a CRC-16/CCITT-FALSE of the encoded command.
	AppendCRC bool
}

// DefaultOptions returns the options used when none are configured.
func DefaultOptions() Options {
	return Options{MaxSizeBytes: DefaultMaxSizeBytes}
}

// Result is an encoded command.
type Result struct {
	Command *schema.MetaCommand
	Binary  []byte
	// Arguments holds every argument of the command, those of the outermost
	// base first.
	Arguments []*domain.ArgumentValue
}

// Argument returns the resolved value of the named argument.
func (r *Result) Argument(name string) (*domain.ArgumentValue, bool) {
	for _, av := range r.Arguments {
		if av.Argument.Name == name {
			return av, true
		}
	}
	return nil, false
}

// Builder encodes commands. It is safe for concurrent use.
type Builder struct {
	db        *schema.Database
	evaluator *condition.Evaluator
	crc       *protocol.Checksum
	opts      Options
	logger    zerolog.Logger
}

// NewBuilder creates a builder. cache supplies the values of parameter
// entries, include conditions and dynamic repeat counts; it may be nil.
func NewBuilder(db *schema.Database, cache domain.ParameterCache, opts Options) *Builder {
	if opts.MaxSizeBytes <= 0 {
		opts.MaxSizeBytes = DefaultMaxSizeBytes
	}
	b := &Builder{
		db:        db,
		evaluator: condition.NewEvaluator(cache),
		opts:      opts,
		logger:    log.With().Str("component", "command").Logger(),
	}
	if opts.AppendCRC {
		b.crc = protocol.NewChecksum()
	}
	return b
}

// BuildByName looks the command up in the schema and builds it.
func (b *Builder) BuildByName(name string, assignments map[string]string) (*Result, error) {
	mc, ok := b.db.Command(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, name)
	}
	return b.Build(mc, assignments)
}

// Build resolves the arguments of mc and encodes it. assignments maps
// argument names to their textual values. Nothing is returned on error.
func (b *Builder) Build(mc *schema.MetaCommand, assignments map[string]string) (*Result, error) {
	if mc.Abstract {
		return nil, fmt.Errorf("%w: %s", ErrAbstractCommand, mc.Name)
	}

	ctx := b.evaluator.NewContext()
	args, err := b.resolve(mc, assignments, ctx)
	if err != nil {
		return nil, err
	}

	enc := &encoder{
		b:      b,
		buf:    bitbuf.New(make([]byte, b.opts.MaxSizeBytes)),
		ctx:    ctx,
		values: make(map[*schema.Argument]*domain.ArgumentValue, len(args)),
	}
	for _, av := range args {
		enc.values[av.Argument] = av
	}

	var chain []*schema.MetaCommand
	for cur := mc; cur != nil; cur = cur.Base {
		chain = append(chain, cur)
	}
	for i := len(chain) - 1; i >= 0; i-- {
		c := chain[i].Container
		if c == nil {
			continue
		}
		if err := enc.container(c, 0); err != nil {
			if errors.Is(err, bitbuf.ErrOutOfRange) {
				err = fmt.Errorf("%w: exceeds %d bytes: %v", ErrTooLarge, b.opts.MaxSizeBytes, err)
			}
			return nil, fmt.Errorf("command %s: %w", mc.Name, err)
		}
		if n := c.SizeInBits; n > enc.end {
			enc.end = n
		}
	}

	size := (enc.end + 7) / 8
	if size > b.opts.MaxSizeBytes {
		return nil, fmt.Errorf("%w: %s needs %d bytes, limit is %d", ErrTooLarge, mc.Name, size, b.opts.MaxSizeBytes)
	}
	binary := make([]byte, size)
	copy(binary, enc.buf.Bytes())
	if b.crc != nil {
		binary = b.crc.Append(binary)
	}

	b.logger.Debug().
		Str("command", mc.Name).
		Int("size", len(binary)).
		Int("arguments", len(args)).
		Msg("Command built")

	return &Result{Command: mc, Binary: binary, Arguments: args}, nil
}

// resolve picks the value of every argument: the inherited assignment, the
// explicit value, the argument default or the type default, in that order.
func (b *Builder) resolve(mc *schema.MetaCommand, assignments map[string]string, ctx *condition.Context) ([]*domain.ArgumentValue, error) {
	names := make([]string, 0, len(assignments))
	for name := range assignments {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if _, ok := mc.Argument(name); !ok {
			return nil, &ArgumentError{Argument: name, Err: ErrUnknownArgument}
		}
	}

	fixed := mc.AllAssignments()
	all := mc.AllArguments()
	out := make([]*domain.ArgumentValue, 0, len(all))
	for _, a := range all {
		text, err := argumentText(a, assignments, fixed)
		if err != nil {
			return nil, &ArgumentError{Argument: a.Name, Err: err}
		}
		eng, err := ParseValue(a.Type, text)
		if err != nil {
			return nil, &ArgumentError{Argument: a.Name, Err: err}
		}
		raw, err := calib.ToRaw(a.Type, eng, ctx)
		if err != nil {
			return nil, &ArgumentError{Argument: a.Name, Err: err}
		}
		out = append(out, &domain.ArgumentValue{Argument: a, Raw: raw, Eng: eng})
	}
	return out, nil
}

func argumentText(a *schema.Argument, explicit, fixed map[string]string) (string, error) {
	s, given := explicit[a.Name]
	if v, ok := fixed[a.Name]; ok {
		if given {
			return "", ErrAssigned
		}
		return v, nil
	}
	if given {
		return s, nil
	}
	if a.InitialValue != nil {
		return *a.InitialValue, nil
	}
	if v, ok := a.Type.Base().Initial(); ok {
		return v, nil
	}
	return "", ErrUnset
}

// encoder writes the entries of one command.
type encoder struct {
	b      *Builder
	buf    *bitbuf.Buffer
	ctx    *condition.Context
	values map[*schema.Argument]*domain.ArgumentValue
	// end is the furthest bit written.
	end   int
	depth int
}

func (e *encoder) container(c *schema.SequenceContainer, start int) error {
	for _, entry := range c.Entries {
		eb := entry.Entry()
		if eb.IncludeCondition != nil && !e.ctx.Matches(eb.IncludeCondition) {
			continue
		}
		pos := e.buf.Position() + eb.LocationBits
		if eb.Location == schema.LocationContainerStart {
			pos = start + eb.LocationBits
		}
		if pos < 0 {
			return fmt.Errorf("entry %s: negative location %d", entry.Name(), pos)
		}
		e.buf.SetPosition(pos)
		if err := e.entry(entry); err != nil {
			return fmt.Errorf("entry %s: %w", entry.Name(), err)
		}
	}
	return nil
}

func (e *encoder) entry(entry schema.SequenceEntry) error {
	rep := entry.Entry().Repeat
	if rep == nil {
		return e.occurrence(entry)
	}
	count, ok := e.ctx.Integer(rep.Count)
	if !ok {
		return errors.New("repeat count not available")
	}
	if count < 0 || count > int64(e.b.opts.MaxSizeBytes)*8 {
		return fmt.Errorf("repeat count %d rejected", count)
	}
	for i := int64(0); i < count; i++ {
		if i > 0 {
			e.buf.SetPosition(e.buf.Position() + rep.OffsetBits)
		}
		if err := e.occurrence(entry); err != nil {
			return fmt.Errorf("occurrence %d: %w", i, err)
		}
	}
	return nil
}

func (e *encoder) occurrence(entry schema.SequenceEntry) error {
	var err error
	switch se := entry.(type) {
	case *schema.ArgumentEntry:
		av, ok := e.values[se.Argument]
		if !ok {
			return fmt.Errorf("%w: %s does not belong to the command", ErrUnknownArgument, se.Argument.Name)
		}
		err = e.value(se.Argument.Type, av.Raw)
	case *schema.ParameterEntry:
		pv, ok := e.ctx.Lookup(&schema.ParameterInstanceRef{Parameter: se.Parameter})
		if !ok || pv.Status == domain.Invalid || !pv.Raw.IsValid() {
			return fmt.Errorf("%w: %s", ErrNoValue, se.Parameter.Name)
		}
		if err = e.value(se.Parameter.Type, pv.Raw); err == nil {
			// later restrictions see the value as delivered
			e.ctx.Add(pv)
		}
	case *schema.FixedValueEntry:
		err = e.fixed(se)
	case *schema.ContainerEntry:
		err = e.embedded(se.Container)
	default:
		err = fmt.Errorf("%w: entry type %T", schema.ErrUnsupported, entry)
	}
	if err != nil {
		return err
	}
	if p := e.buf.Position(); p > e.end {
		e.end = p
	}
	return nil
}

// embedded writes a container entry the way the extractor reads one: the
// entries of c, then those of its first derived container whose restriction
// holds, all relative to the start of c.
func (e *encoder) embedded(c *schema.SequenceContainer) error {
	if e.depth >= 64 {
		return fmt.Errorf("container %s nested too deeply", c.Name)
	}
	e.depth++
	defer func() { e.depth-- }()

	start := e.buf.Position()
	if err := e.level(c, start); err != nil {
		return err
	}
	if n := c.SizeInBits; n >= 0 {
		end := start + n
		if end > e.buf.SizeInBits() {
			return fmt.Errorf("%w: container %s ends at bit %d", bitbuf.ErrOutOfRange, c.Name, end)
		}
		e.buf.SetPosition(end)
	}
	return nil
}

// level writes c and the first matching derived container, leaving the
// cursor at the furthest bit written by them.
func (e *encoder) level(c *schema.SequenceContainer, start int) error {
	outer := e.end
	e.end = e.buf.Position()
	if err := e.container(c, start); err != nil {
		return fmt.Errorf("container %s: %w", c.Name, err)
	}
	e.buf.SetPosition(e.end)
	if e.end < outer {
		e.end = outer
	}

	for _, d := range c.Derived() {
		if d.Restriction == nil || !e.ctx.Matches(d.Restriction) {
			continue
		}
		return e.level(d, start)
	}
	return nil
}

func (e *encoder) value(dt schema.DataType, raw value.Value) error {
	switch t := dt.(type) {
	case *schema.AggregateType:
		for _, m := range t.Members {
			mv, ok := raw.Member(m.Name)
			if !ok {
				return fmt.Errorf("member %s missing", m.Name)
			}
			if err := e.value(m.Type, mv); err != nil {
				return fmt.Errorf("member %s: %w", m.Name, err)
			}
		}
		return nil
	case *schema.ArrayType:
		for i, ev := range raw.Elements() {
			if err := e.value(t.ElementType, ev); err != nil {
				return fmt.Errorf("element %d: %w", i, err)
			}
		}
		return nil
	}
	return codec.Encode(dt.Base().Encoding, e.buf, raw)
}

// fixed writes the pattern of a fixed value entry, right aligned in its
// field.
func (e *encoder) fixed(f *schema.FixedValueEntry) error {
	e.buf.SetByteOrder(bitbuf.BigEndian)
	n := f.SizeInBits
	if n <= 64 {
		return e.buf.PutBits(f.Pattern(), n)
	}
	src := bitbuf.New(f.Value)
	for pad := n - src.SizeInBits(); pad > 0; {
		k := min(pad, 64)
		if err := e.buf.PutBits(0, k); err != nil {
			return err
		}
		pad -= k
		n -= k
	}
	src.SetPosition(src.SizeInBits() - n)
	for n > 0 {
		k := min(n, 64)
		v, err := src.GetBits(k)
		if err != nil {
			return err
		}
		if err := e.buf.PutBits(v, k); err != nil {
			return err
		}
		n -= k
	}
	return nil
}

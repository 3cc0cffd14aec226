// Package schema provides the read-only telemetry and telecommand model:
// parameters, data types and encodings, containers and commands.
//
// A Database is built once, finalized, and then shared by reference between
// all packet processing goroutines. Nothing in it is mutated after
// Finalize returns.
package schema

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/resident-x/go-tmtc/internal/bitbuf"
	"github.com/resident-x/go-tmtc/internal/value"
)

// ErrUnsupported is returned by Finalize for encoding and type combinations
// that have no decode or encode path.
var ErrUnsupported = errors.New("unsupported schema construct")

// Database is the arena holding the whole schema graph.
type Database struct {
	parameters []*Parameter
	containers []*SequenceContainer
	commands   []*MetaCommand

	parameterByName map[string]*Parameter
	containerByName map[string]*SequenceContainer
	commandByName   map[string]*MetaCommand

	root *SequenceContainer

	// telemetry containers followed by command containers, by index
	all []*SequenceContainer

	// indexed by parameter / container index
	parameterEntries [][]*ParameterEntry
	containerEntries [][]*ContainerEntry

	finalized bool
}

// NewDatabase returns an empty database.
func NewDatabase() *Database {
	return &Database{
		parameterByName: make(map[string]*Parameter),
		containerByName: make(map[string]*SequenceContainer),
		commandByName:   make(map[string]*MetaCommand),
	}
}

// AddParameter registers a parameter.
func (db *Database) AddParameter(p *Parameter) error {
	if p.Name == "" {
		return fmt.Errorf("parameter without name")
	}
	if _, dup := db.parameterByName[p.Name]; dup {
		return fmt.Errorf("duplicate parameter %s", p.Name)
	}
	db.parameterByName[p.Name] = p
	db.parameters = append(db.parameters, p)
	return nil
}

// AddContainer registers a telemetry container.
func (db *Database) AddContainer(c *SequenceContainer) error {
	if c.Name == "" {
		return fmt.Errorf("container without name")
	}
	if _, dup := db.containerByName[c.Name]; dup {
		return fmt.Errorf("duplicate container %s", c.Name)
	}
	db.containerByName[c.Name] = c
	db.containers = append(db.containers, c)
	return nil
}

// AddCommand registers a command.
func (db *Database) AddCommand(mc *MetaCommand) error {
	if mc.Name == "" {
		return fmt.Errorf("command without name")
	}
	if _, dup := db.commandByName[mc.Name]; dup {
		return fmt.Errorf("duplicate command %s", mc.Name)
	}
	db.commandByName[mc.Name] = mc
	db.commands = append(db.commands, mc)
	return nil
}

// SetRootContainer sets the container used for packets that do not name
// one explicitly.
func (db *Database) SetRootContainer(c *SequenceContainer) {
	db.root = c
}

// RootContainer returns the root container.
func (db *Database) RootContainer() *SequenceContainer { return db.root }

// Parameter looks up a parameter by name.
func (db *Database) Parameter(name string) (*Parameter, bool) {
	p, ok := db.parameterByName[name]
	return p, ok
}

// Container looks up a telemetry container by name.
func (db *Database) Container(name string) (*SequenceContainer, bool) {
	c, ok := db.containerByName[name]
	return c, ok
}

// Command looks up a command by name.
func (db *Database) Command(name string) (*MetaCommand, bool) {
	mc, ok := db.commandByName[name]
	return mc, ok
}

// Parameters returns all parameters in registration order.
func (db *Database) Parameters() []*Parameter { return db.parameters }

// Containers returns all telemetry containers in registration order.
func (db *Database) Containers() []*SequenceContainer { return db.containers }

// Commands returns all commands in registration order.
func (db *Database) Commands() []*MetaCommand { return db.commands }

// AllContainers returns the telemetry containers followed by the command
// containers, so that AllContainers()[c.Index()] == c.
func (db *Database) AllContainers() []*SequenceContainer { return db.all }

// ParameterEntries returns the entries placing p, in any container.
func (db *Database) ParameterEntries(p *Parameter) []*ParameterEntry {
	if p.index < 0 || p.index >= len(db.parameterEntries) {
		return nil
	}
	return db.parameterEntries[p.index]
}

// ContainerEntries returns the entries embedding c.
func (db *Database) ContainerEntries(c *SequenceContainer) []*ContainerEntry {
	if c.index < 0 || c.index >= len(db.containerEntries) {
		return nil
	}
	return db.containerEntries[c.index]
}

// IsFinalized reports whether Finalize succeeded.
func (db *Database) IsFinalized() bool { return db.finalized }

// Finalize assigns indexes, links derived containers, validates inheritance
// and encodings and types the literals of all conditions.
func (db *Database) Finalize() error {
	for i, p := range db.parameters {
		p.index = i
		if p.Type == nil {
			return fmt.Errorf("parameter %s has no type", p.Name)
		}
		if err := checkDataType(p.Type); err != nil {
			return fmt.Errorf("parameter %s: %w", p.Name, err)
		}
	}

	all := make([]*SequenceContainer, 0, len(db.containers)+len(db.commands))
	all = append(all, db.containers...)
	for _, mc := range db.commands {
		if mc.Container == nil {
			mc.Container = NewSequenceContainer(mc.Name)
		}
	}
	for i, mc := range db.commands {
		mc.index = i
		if err := checkCommandChain(mc, len(db.commands)); err != nil {
			return err
		}
		if mc.Container.Base == nil && mc.Base != nil && mc.Base.Container != nil {
			mc.Container.Base = mc.Base.Container
		}
		all = append(all, mc.Container)
		for _, a := range mc.Arguments {
			if a.Type == nil {
				return fmt.Errorf("command %s argument %s has no type", mc.Name, a.Name)
			}
			if err := checkDataType(a.Type); err != nil {
				return fmt.Errorf("command %s argument %s: %w", mc.Name, a.Name, err)
			}
		}
	}

	for i, c := range all {
		c.index = i
		c.derived = nil
	}
	db.all = all
	db.parameterEntries = make([][]*ParameterEntry, len(db.parameters))
	db.containerEntries = make([][]*ContainerEntry, len(all))

	for _, c := range all {
		if err := checkContainerChain(c, len(all)); err != nil {
			return err
		}
		if c.Base != nil && (c.Base.index >= len(all) || all[c.Base.index] != c.Base) {
			return fmt.Errorf("container %s: base %s is not registered", c.Name, c.Base.Name)
		}
		for i, e := range c.Entries {
			base := e.Entry()
			base.parent = c
			base.index = i
			if err := db.linkEntry(c, e); err != nil {
				return err
			}
		}
		if err := db.typeCriteria(c.Restriction); err != nil {
			return fmt.Errorf("container %s restriction: %w", c.Name, err)
		}
	}
	for _, c := range db.containers {
		if c.Base != nil {
			c.Base.derived = append(c.Base.derived, c)
		}
	}

	for _, p := range db.parameters {
		if err := db.typeDataTypeCriteria(p.Type); err != nil {
			return fmt.Errorf("parameter %s: %w", p.Name, err)
		}
	}

	if db.root == nil && len(db.containers) > 0 {
		for _, c := range db.containers {
			if c.Base == nil {
				db.root = c
				break
			}
		}
	}

	db.finalized = true
	return nil
}

func (db *Database) linkEntry(c *SequenceContainer, e SequenceEntry) error {
	base := e.Entry()
	switch entry := e.(type) {
	case *ParameterEntry:
		if entry.Parameter == nil {
			return fmt.Errorf("container %s entry %d: missing parameter", c.Name, base.index)
		}
		if db.parameterByName[entry.Parameter.Name] != entry.Parameter {
			return fmt.Errorf("container %s: parameter %s is not registered", c.Name, entry.Parameter.Name)
		}
		db.parameterEntries[entry.Parameter.index] = append(db.parameterEntries[entry.Parameter.index], entry)
	case *ContainerEntry:
		if entry.Container == nil {
			return fmt.Errorf("container %s entry %d: missing container", c.Name, base.index)
		}
		if db.containerByName[entry.Container.Name] != entry.Container {
			return fmt.Errorf("container %s: embedded container %s is not registered", c.Name, entry.Container.Name)
		}
		db.containerEntries[entry.Container.index] = append(db.containerEntries[entry.Container.index], entry)
	case *ArgumentEntry:
		if entry.Argument == nil {
			return fmt.Errorf("container %s entry %d: missing argument", c.Name, base.index)
		}
	case *FixedValueEntry:
		if entry.SizeInBits <= 0 || entry.SizeInBits > len(entry.Value)*8 {
			return fmt.Errorf("container %s fixed entry %s: size %d does not fit %d value bytes",
				c.Name, entry.Label, entry.SizeInBits, len(entry.Value))
		}
	default:
		return fmt.Errorf("%w: entry type %T", ErrUnsupported, e)
	}

	if err := db.typeCriteria(base.IncludeCondition); err != nil {
		return fmt.Errorf("container %s entry %s include condition: %w", c.Name, e.Name(), err)
	}
	if base.Repeat != nil {
		if err := db.checkIntegerValue(base.Repeat.Count); err != nil {
			return fmt.Errorf("container %s entry %s repeat: %w", c.Name, e.Name(), err)
		}
	}
	return nil
}

func (db *Database) checkIntegerValue(v IntegerValue) error {
	if v.Dynamic == nil {
		return nil
	}
	if v.Dynamic.Parameter == nil {
		return fmt.Errorf("dynamic value without parameter")
	}
	if _, ok := db.parameterByName[v.Dynamic.Parameter.Name]; !ok {
		return fmt.Errorf("parameter %s is not registered", v.Dynamic.Parameter.Name)
	}
	return nil
}

func checkContainerChain(c *SequenceContainer, limit int) error {
	steps := 0
	for cur := c.Base; cur != nil; cur = cur.Base {
		if cur == c || steps > limit {
			return fmt.Errorf("container %s: inheritance cycle", c.Name)
		}
		steps++
	}
	return nil
}

func checkCommandChain(mc *MetaCommand, limit int) error {
	steps := 0
	for cur := mc.Base; cur != nil; cur = cur.Base {
		if cur == mc || steps > limit {
			return fmt.Errorf("command %s: inheritance cycle", mc.Name)
		}
		steps++
	}
	return nil
}

func (db *Database) typeDataTypeCriteria(dt DataType) error {
	_, ctxCals := Calibrators(dt.Base().Encoding)
	for _, cc := range ctxCals {
		if err := db.typeCriteria(cc.Context); err != nil {
			return fmt.Errorf("context calibrator: %w", err)
		}
	}
	switch t := dt.(type) {
	case *IntegerType:
		for _, a := range t.ContextAlarms {
			if err := db.typeCriteria(a.Context); err != nil {
				return fmt.Errorf("context alarm: %w", err)
			}
		}
	case *FloatType:
		for _, a := range t.ContextAlarms {
			if err := db.typeCriteria(a.Context); err != nil {
				return fmt.Errorf("context alarm: %w", err)
			}
		}
	case *EnumeratedType:
		for _, a := range t.ContextAlarms {
			if err := db.typeCriteria(a.Context); err != nil {
				return fmt.Errorf("context alarm: %w", err)
			}
		}
	case *ArrayType:
		for _, d := range t.Dimensions {
			if err := db.checkIntegerValue(d); err != nil {
				return fmt.Errorf("array dimension: %w", err)
			}
		}
	}
	return nil
}

// typeCriteria converts comparison literals to typed values.
func (db *Database) typeCriteria(mc MatchCriteria) error {
	var firstErr error
	walkCriteria(mc, func(c *Comparison) {
		if firstErr != nil {
			return
		}
		if c.Ref.Parameter == nil {
			firstErr = fmt.Errorf("comparison without parameter")
			return
		}
		if _, ok := db.parameterByName[c.Ref.Parameter.Name]; !ok {
			firstErr = fmt.Errorf("parameter %s is not registered", c.Ref.Parameter.Name)
			return
		}
		if c.Right != nil {
			if c.Right.Parameter == nil {
				firstErr = fmt.Errorf("comparison of %s without right parameter", c.Ref.Parameter.Name)
			}
			return
		}
		v, err := LiteralValue(c.Ref.Parameter.Type, c.Ref.UseCalibrated, c.Literal)
		if err != nil {
			firstErr = fmt.Errorf("comparison of %s: %w", c.Ref.Parameter.Name, err)
			return
		}
		c.Value = v
	})
	return firstErr
}

// LiteralValue converts s to a value comparable with the raw or engineering
// values of dt.
func LiteralValue(dt DataType, calibrated bool, s string) (value.Value, error) {
	s = strings.TrimSpace(s)
	if !calibrated {
		switch enc := dt.Base().Encoding.(type) {
		case *IntegerDataEncoding:
			return parseNumberLiteral(s, enc.Encoding != bitbuf.Unsigned)
		case *FloatDataEncoding:
			return parseNumberLiteral(s, true)
		case *StringDataEncoding:
			return value.String(s), nil
		case *BinaryDataEncoding:
			return parseBinaryLiteral(s)
		case *BooleanDataEncoding:
			return parseBoolLiteral(s, "", "")
		}
		return value.None, fmt.Errorf("%w: raw comparison on %s", ErrUnsupported, dt.Base().Name)
	}

	switch t := dt.(type) {
	case *IntegerType:
		return parseNumberLiteral(s, t.Signed)
	case *FloatType:
		return parseNumberLiteral(s, true)
	case *StringType, *EnumeratedType:
		return value.String(s), nil
	case *BinaryType:
		return parseBinaryLiteral(s)
	case *BooleanType:
		return parseBoolLiteral(s, t.OneString, t.ZeroString)
	case *AbsoluteTimeType:
		ts, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return value.None, fmt.Errorf("invalid time literal %q: %w", s, err)
		}
		return value.Timestamp(ts), nil
	}
	return value.None, fmt.Errorf("%w: comparison on %T", ErrUnsupported, dt)
}

func parseNumberLiteral(s string, signed bool) (value.Value, error) {
	if signed {
		if i, err := strconv.ParseInt(s, 0, 64); err == nil {
			return value.Int64(i), nil
		}
	} else if u, err := strconv.ParseUint(s, 0, 64); err == nil {
		return value.Uint64(u), nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return value.None, fmt.Errorf("invalid numeric literal %q", s)
	}
	return value.Float64(f), nil
}

func parseBinaryLiteral(s string) (value.Value, error) {
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return value.None, fmt.Errorf("invalid hex literal %q: %w", s, err)
	}
	return value.Binary(b), nil
}

func parseBoolLiteral(s, one, zero string) (value.Value, error) {
	switch {
	case one != "" && s == one:
		return value.Bool(true), nil
	case zero != "" && s == zero:
		return value.Bool(false), nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return value.None, fmt.Errorf("invalid boolean literal %q", s)
	}
	return value.Bool(b), nil
}

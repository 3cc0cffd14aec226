package schema

import (
	"encoding/hex"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/resident-x/go-tmtc/internal/bitbuf"
)

// Document is the YAML form of a schema.
type Document struct {
	RootContainer string         `yaml:"root_container"`
	Types         []TypeDoc      `yaml:"types"`
	Parameters    []ParameterDoc `yaml:"parameters"`
	Containers    []ContainerDoc `yaml:"containers"`
	Commands      []CommandDoc   `yaml:"commands"`
}

// TypeDoc describes a data type. Kind is one of integer, float, string,
// binary, boolean, enumerated, absolute_time, aggregate or array.
type TypeDoc struct {
	Name         string        `yaml:"name"`
	Kind         string        `yaml:"kind"`
	Unit         string        `yaml:"unit"`
	InitialValue *string       `yaml:"initial_value"`
	Signed       bool          `yaml:"signed"`
	SizeInBits   int           `yaml:"size_in_bits"`
	Encoding     *EncodingDoc  `yaml:"encoding"`
	ValidRange   *RangeDoc     `yaml:"valid_range"`
	SizeRange    *RangeDoc     `yaml:"size_range"`
	Enumeration  []EnumDoc     `yaml:"enumeration"`
	OneString    string        `yaml:"one_string"`
	ZeroString   string        `yaml:"zero_string"`
	Epoch        string        `yaml:"epoch"`
	Scale        float64       `yaml:"scale"`
	Offset       float64       `yaml:"offset"`
	Members      []MemberDoc   `yaml:"members"`
	ElementType  string        `yaml:"element_type"`
	Dimensions   []IntValueDoc `yaml:"dimensions"`
	DefaultAlarm *AlarmDoc     `yaml:"default_alarm"`
	ContextAlarm []AlarmDoc    `yaml:"context_alarms"`
}

// EncodingDoc describes a data encoding. Kind is one of integer, float,
// string, binary or boolean.
type EncodingDoc struct {
	Kind               string          `yaml:"kind"`
	Bits               int             `yaml:"bits"`
	Signedness         string          `yaml:"signedness"`
	ByteOrder          string          `yaml:"byte_order"`
	Float              string          `yaml:"float"`
	String             *EncodingDoc    `yaml:"string"`
	SizeType           string          `yaml:"size_type"`
	SizeTagBits        int             `yaml:"size_tag_bits"`
	TerminationChar    *int            `yaml:"termination_char"`
	MaxSizeInBits      int             `yaml:"max_size_bits"`
	Calibrator         *CalibratorDoc  `yaml:"calibrator"`
	ContextCalibrators []ContextCalDoc `yaml:"context_calibrators"`
}

// CalibratorDoc is either a polynomial or a spline.
type CalibratorDoc struct {
	Polynomial []float64        `yaml:"polynomial"`
	Spline     []SplinePointDoc `yaml:"spline"`
}

// SplinePointDoc is one spline breakpoint.
type SplinePointDoc struct {
	Raw float64 `yaml:"raw"`
	Eng float64 `yaml:"eng"`
}

// ContextCalDoc is a calibrator applying under a condition.
type ContextCalDoc struct {
	Context    *ConditionDoc  `yaml:"context"`
	Calibrator *CalibratorDoc `yaml:"calibrator"`
}

// RangeDoc is an interval. Missing bounds are unbounded.
type RangeDoc struct {
	Min          *float64 `yaml:"min"`
	Max          *float64 `yaml:"max"`
	MinExclusive bool     `yaml:"min_exclusive"`
	MaxExclusive bool     `yaml:"max_exclusive"`
}

// EnumDoc is one enumeration value or range.
type EnumDoc struct {
	Value       int64  `yaml:"value"`
	MaxValue    *int64 `yaml:"max_value"`
	Label       string `yaml:"label"`
	Description string `yaml:"description"`
}

// MemberDoc is an aggregate member.
type MemberDoc struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
}

// AlarmDoc is a numeric or enumeration alarm.
type AlarmDoc struct {
	Context       *ConditionDoc   `yaml:"context"`
	MinViolations int             `yaml:"min_violations"`
	AutoAck       bool            `yaml:"auto_ack"`
	Latching      bool            `yaml:"latching"`
	Watch         *RangeDoc       `yaml:"watch"`
	Warning       *RangeDoc       `yaml:"warning"`
	Distress      *RangeDoc       `yaml:"distress"`
	Critical      *RangeDoc       `yaml:"critical"`
	Severe        *RangeDoc       `yaml:"severe"`
	DefaultLevel  string          `yaml:"default_level"`
	States        []AlarmStateDoc `yaml:"states"`
}

// AlarmStateDoc assigns an alarm level to an enumeration label.
type AlarmStateDoc struct {
	Label string `yaml:"label"`
	Level string `yaml:"level"`
}

// ConditionDoc is a comparison, or a list of conditions under and/or.
type ConditionDoc struct {
	Parameter  string         `yaml:"parameter"`
	Instance   int            `yaml:"instance"`
	Calibrated *bool          `yaml:"calibrated"`
	Op         string         `yaml:"op"`
	Value      *string        `yaml:"value"`
	Ref        *RefDoc        `yaml:"ref"`
	And        []ConditionDoc `yaml:"and"`
	Or         []ConditionDoc `yaml:"or"`
}

// RefDoc references a parameter instance.
type RefDoc struct {
	Parameter  string `yaml:"parameter"`
	Instance   int    `yaml:"instance"`
	Calibrated *bool  `yaml:"calibrated"`
}

// IntValueDoc is a fixed integer, written as a plain scalar, or a
// parameter value with an optional linear adjustment.
type IntValueDoc struct {
	Fixed      *int64   `yaml:"fixed"`
	Parameter  string   `yaml:"parameter"`
	Instance   int      `yaml:"instance"`
	Calibrated *bool    `yaml:"calibrated"`
	Slope      *float64 `yaml:"slope"`
	Intercept  float64  `yaml:"intercept"`
}

// UnmarshalYAML accepts a scalar as a fixed value.
func (d *IntValueDoc) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		var v int64
		if err := node.Decode(&v); err != nil {
			return err
		}
		d.Fixed = &v
		return nil
	}
	type plain IntValueDoc
	return node.Decode((*plain)(d))
}

// ParameterDoc describes a parameter.
type ParameterDoc struct {
	Name        string `yaml:"name"`
	Type        string `yaml:"type"`
	Description string `yaml:"description"`
}

// ContainerDoc describes a sequence container.
type ContainerDoc struct {
	Name        string        `yaml:"name"`
	Description string        `yaml:"description"`
	Base        string        `yaml:"base"`
	Restriction *ConditionDoc `yaml:"restriction"`
	SizeInBits  *int          `yaml:"size_in_bits"`
	MaxInterval time.Duration `yaml:"max_interval"`
	Abstract    bool          `yaml:"abstract"`
	Entries     []EntryDoc    `yaml:"entries"`
}

// EntryDoc describes a sequence entry. Exactly one of Parameter, Container,
// Argument and Fixed is set.
type EntryDoc struct {
	Parameter  string        `yaml:"parameter"`
	Container  string        `yaml:"container"`
	Argument   string        `yaml:"argument"`
	Fixed      *FixedDoc     `yaml:"fixed"`
	Location   string        `yaml:"location"`
	OffsetBits int           `yaml:"offset_bits"`
	Include    *ConditionDoc `yaml:"include"`
	Repeat     *RepeatDoc    `yaml:"repeat"`
}

// FixedDoc is a literal bit pattern given in hex.
type FixedDoc struct {
	Label string `yaml:"label"`
	Hex   string `yaml:"hex"`
	Bits  int    `yaml:"bits"`
}

// RepeatDoc repeats an entry.
type RepeatDoc struct {
	Count      IntValueDoc `yaml:"count"`
	OffsetBits int         `yaml:"offset_bits"`
}

// CommandDoc describes a command.
type CommandDoc struct {
	Name        string            `yaml:"name"`
	Description string            `yaml:"description"`
	Base        string            `yaml:"base"`
	Abstract    bool              `yaml:"abstract"`
	Arguments   []ArgumentDoc     `yaml:"arguments"`
	Assignments map[string]string `yaml:"assignments"`
	Entries     []EntryDoc        `yaml:"entries"`
}

// ArgumentDoc describes a command argument.
type ArgumentDoc struct {
	Name         string  `yaml:"name"`
	Type         string  `yaml:"type"`
	Description  string  `yaml:"description"`
	InitialValue *string `yaml:"initial_value"`
}

// LoadFile reads and finalizes the schema stored in path.
func LoadFile(path string) (*Database, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open schema: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Load reads and finalizes a YAML schema.
func Load(r io.Reader) (*Database, error) {
	var doc Document
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to parse schema: %w", err)
	}
	return Build(&doc)
}

// Build turns a document into a finalized database.
func Build(doc *Document) (*Database, error) {
	b := &builder{
		doc:       doc,
		db:        NewDatabase(),
		typeDocs:  make(map[string]*TypeDoc),
		types:     make(map[string]DataType),
		resolving: make(map[string]bool),
	}
	if err := b.build(); err != nil {
		return nil, err
	}
	if err := b.db.Finalize(); err != nil {
		return nil, err
	}
	return b.db, nil
}

type builder struct {
	doc       *Document
	db        *Database
	typeDocs  map[string]*TypeDoc
	types     map[string]DataType
	resolving map[string]bool

	// conditions reference parameters that may be declared later, so they
	// are built once every parameter exists
	pending []func() error
}

func (b *builder) build() error {
	for i := range b.doc.Types {
		td := &b.doc.Types[i]
		if _, dup := b.typeDocs[td.Name]; dup {
			return fmt.Errorf("duplicate type %s", td.Name)
		}
		b.typeDocs[td.Name] = td
	}

	for _, pd := range b.doc.Parameters {
		dt, err := b.typeByName(pd.Type)
		if err != nil {
			return fmt.Errorf("parameter %s: %w", pd.Name, err)
		}
		if err := b.db.AddParameter(&Parameter{Name: pd.Name, Description: pd.Description, Type: dt}); err != nil {
			return err
		}
	}

	for _, cd := range b.doc.Containers {
		c := NewSequenceContainer(cd.Name)
		c.Description = cd.Description
		c.MaxInterval = cd.MaxInterval
		c.Abstract = cd.Abstract
		if cd.SizeInBits != nil {
			c.SizeInBits = *cd.SizeInBits
		}
		if err := b.db.AddContainer(c); err != nil {
			return err
		}
	}
	for _, cd := range b.doc.Containers {
		c, _ := b.db.Container(cd.Name)
		if cd.Base != "" {
			base, ok := b.db.Container(cd.Base)
			if !ok {
				return fmt.Errorf("container %s: unknown base %s", cd.Name, cd.Base)
			}
			c.Base = base
		}
		if cd.Restriction != nil {
			restriction := cd.Restriction
			b.pending = append(b.pending, func() error {
				mc, err := b.condition(restriction)
				if err != nil {
					return fmt.Errorf("container %s restriction: %w", c.Name, err)
				}
				c.Restriction = mc
				return nil
			})
		}
		if err := b.entries(c, cd.Entries, nil); err != nil {
			return err
		}
	}

	for _, cd := range b.doc.Commands {
		mc := &MetaCommand{
			Name:        cd.Name,
			Description: cd.Description,
			Abstract:    cd.Abstract,
			Container:   NewSequenceContainer(cd.Name),
		}
		for _, ad := range cd.Arguments {
			dt, err := b.typeByName(ad.Type)
			if err != nil {
				return fmt.Errorf("command %s argument %s: %w", cd.Name, ad.Name, err)
			}
			mc.Arguments = append(mc.Arguments, &Argument{
				Name:         ad.Name,
				Description:  ad.Description,
				Type:         dt,
				InitialValue: ad.InitialValue,
			})
		}
		names := make([]string, 0, len(cd.Assignments))
		for name := range cd.Assignments {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			mc.Assignments = append(mc.Assignments, ArgumentAssignment{Name: name, Value: cd.Assignments[name]})
		}
		if err := b.db.AddCommand(mc); err != nil {
			return err
		}
	}
	for _, cd := range b.doc.Commands {
		mc, _ := b.db.Command(cd.Name)
		if cd.Base != "" {
			base, ok := b.db.Command(cd.Base)
			if !ok {
				return fmt.Errorf("command %s: unknown base %s", cd.Name, cd.Base)
			}
			mc.Base = base
		}
		if err := b.entries(mc.Container, cd.Entries, mc); err != nil {
			return err
		}
		for _, a := range mc.Assignments {
			if _, ok := mc.Argument(a.Name); !ok {
				return fmt.Errorf("command %s: assignment to unknown argument %s", mc.Name, a.Name)
			}
		}
	}

	for _, fn := range b.pending {
		if err := fn(); err != nil {
			return err
		}
	}

	if b.doc.RootContainer != "" {
		root, ok := b.db.Container(b.doc.RootContainer)
		if !ok {
			return fmt.Errorf("unknown root container %s", b.doc.RootContainer)
		}
		b.db.SetRootContainer(root)
	}
	return nil
}

func (b *builder) entries(c *SequenceContainer, docs []EntryDoc, mc *MetaCommand) error {
	for i, ed := range docs {
		var e SequenceEntry
		set := 0
		if ed.Parameter != "" {
			set++
			p, ok := b.db.Parameter(ed.Parameter)
			if !ok {
				return fmt.Errorf("container %s entry %d: unknown parameter %s", c.Name, i, ed.Parameter)
			}
			e = &ParameterEntry{Parameter: p}
		}
		if ed.Container != "" {
			set++
			sub, ok := b.db.Container(ed.Container)
			if !ok {
				return fmt.Errorf("container %s entry %d: unknown container %s", c.Name, i, ed.Container)
			}
			e = &ContainerEntry{Container: sub}
		}
		if ed.Argument != "" {
			set++
			if mc == nil {
				return fmt.Errorf("container %s entry %d: argument entry outside a command", c.Name, i)
			}
			a, ok := mc.Argument(ed.Argument)
			if !ok {
				return fmt.Errorf("command %s entry %d: unknown argument %s", mc.Name, i, ed.Argument)
			}
			e = &ArgumentEntry{Argument: a}
		}
		if ed.Fixed != nil {
			set++
			raw, err := hex.DecodeString(strings.TrimPrefix(ed.Fixed.Hex, "0x"))
			if err != nil {
				return fmt.Errorf("container %s entry %d: invalid fixed value: %w", c.Name, i, err)
			}
			bits := ed.Fixed.Bits
			if bits == 0 {
				bits = len(raw) * 8
			}
			e = &FixedValueEntry{Label: ed.Fixed.Label, Value: raw, SizeInBits: bits}
		}
		if set != 1 {
			return fmt.Errorf("container %s entry %d: exactly one of parameter, container, argument or fixed is required", c.Name, i)
		}

		base := e.Entry()
		base.LocationBits = ed.OffsetBits
		switch ed.Location {
		case "", "previous_entry":
			base.Location = LocationPreviousEntry
		case "container_start":
			base.Location = LocationContainerStart
		default:
			return fmt.Errorf("container %s entry %d: unknown location %q", c.Name, i, ed.Location)
		}
		if ed.Repeat != nil {
			count, err := b.intValue(ed.Repeat.Count)
			if err != nil {
				return fmt.Errorf("container %s entry %d repeat: %w", c.Name, i, err)
			}
			base.Repeat = &Repeat{Count: count, OffsetBits: ed.Repeat.OffsetBits}
		}
		if ed.Include != nil {
			include := ed.Include
			b.pending = append(b.pending, func() error {
				cond, err := b.condition(include)
				if err != nil {
					return fmt.Errorf("container %s entry %s include: %w", c.Name, e.Name(), err)
				}
				base.IncludeCondition = cond
				return nil
			})
		}
		c.AddEntry(e)
	}
	return nil
}

func (b *builder) typeByName(name string) (DataType, error) {
	if dt, ok := b.types[name]; ok {
		return dt, nil
	}
	td, ok := b.typeDocs[name]
	if !ok {
		return nil, fmt.Errorf("unknown type %q", name)
	}
	if b.resolving[name] {
		return nil, fmt.Errorf("type %s refers to itself", name)
	}
	b.resolving[name] = true
	defer delete(b.resolving, name)

	dt, err := b.dataType(td)
	if err != nil {
		return nil, fmt.Errorf("type %s: %w", name, err)
	}
	b.types[name] = dt
	return dt, nil
}

func (b *builder) dataType(td *TypeDoc) (DataType, error) {
	base := BaseType{Name: td.Name, Unit: td.Unit, InitialValue: td.InitialValue}
	if td.Encoding != nil {
		enc, err := b.encoding(td.Encoding, td.Signed)
		if err != nil {
			return nil, err
		}
		base.Encoding = enc
	}

	switch td.Kind {
	case "integer":
		t := &IntegerType{BaseType: base, Signed: td.Signed, SizeInBits: td.SizeInBits}
		if td.ValidRange != nil {
			lo, hi := td.ValidRange.bounds()
			t.ValidRange = &IntegerRange{Min: clampInt(lo), Max: clampInt(hi)}
		}
		def, ctx, err := b.numericAlarms(td)
		if err != nil {
			return nil, err
		}
		t.DefaultAlarm, t.ContextAlarms = def, ctx
		return t, nil
	case "float":
		t := &FloatType{BaseType: base, SizeInBits: td.SizeInBits}
		if td.ValidRange != nil {
			t.ValidRange = td.ValidRange.floatRange()
		}
		def, ctx, err := b.numericAlarms(td)
		if err != nil {
			return nil, err
		}
		t.DefaultAlarm, t.ContextAlarms = def, ctx
		return t, nil
	case "string":
		return &StringType{BaseType: base, SizeRange: td.SizeRange.intRange()}, nil
	case "binary":
		return &BinaryType{BaseType: base, SizeRange: td.SizeRange.intRange()}, nil
	case "boolean":
		return &BooleanType{BaseType: base, OneString: td.OneString, ZeroString: td.ZeroString}, nil
	case "enumerated":
		t := &EnumeratedType{BaseType: base}
		for _, ed := range td.Enumeration {
			e := Enumeration{Value: ed.Value, MaxValue: ed.Value, Label: ed.Label, Description: ed.Description}
			if ed.MaxValue != nil {
				e.MaxValue = *ed.MaxValue
			}
			t.Values = append(t.Values, e)
		}
		if td.DefaultAlarm != nil {
			a, err := b.enumAlarm(td.DefaultAlarm)
			if err != nil {
				return nil, err
			}
			t.DefaultAlarm = a
		}
		for i := range td.ContextAlarm {
			a, err := b.enumAlarm(&td.ContextAlarm[i])
			if err != nil {
				return nil, err
			}
			t.ContextAlarms = append(t.ContextAlarms, a)
		}
		return t, nil
	case "absolute_time":
		t := &AbsoluteTimeType{BaseType: base, Scale: td.Scale, Offset: td.Offset}
		if td.Epoch != "" {
			epoch, err := parseEpoch(td.Epoch)
			if err != nil {
				return nil, err
			}
			t.Epoch = epoch
		} else {
			t.Epoch = time.Unix(0, 0).UTC()
		}
		return t, nil
	case "aggregate":
		t := &AggregateType{BaseType: base}
		for _, md := range td.Members {
			mt, err := b.typeByName(md.Type)
			if err != nil {
				return nil, fmt.Errorf("member %s: %w", md.Name, err)
			}
			t.Members = append(t.Members, AggregateMember{Name: md.Name, Type: mt})
		}
		return t, nil
	case "array":
		et, err := b.typeByName(td.ElementType)
		if err != nil {
			return nil, fmt.Errorf("element type: %w", err)
		}
		t := &ArrayType{BaseType: base, ElementType: et}
		for _, dd := range td.Dimensions {
			iv, err := b.intValue(dd)
			if err != nil {
				return nil, fmt.Errorf("dimension: %w", err)
			}
			t.Dimensions = append(t.Dimensions, iv)
		}
		return t, nil
	}
	return nil, fmt.Errorf("unknown type kind %q", td.Kind)
}

func (b *builder) encoding(ed *EncodingDoc, signed bool) (DataEncoding, error) {
	order := bitbuf.BigEndian
	switch ed.ByteOrder {
	case "", "big", "big_endian":
	case "little", "little_endian":
		order = bitbuf.LittleEndian
	default:
		return nil, fmt.Errorf("unknown byte order %q", ed.ByteOrder)
	}

	def, ctx, err := b.calibrators(ed)
	if err != nil {
		return nil, err
	}

	switch ed.Kind {
	case "integer":
		sign := bitbuf.Unsigned
		if signed {
			sign = bitbuf.TwosComplement
		}
		switch ed.Signedness {
		case "":
		case "unsigned":
			sign = bitbuf.Unsigned
		case "twos_complement":
			sign = bitbuf.TwosComplement
		case "ones_complement":
			sign = bitbuf.OnesComplement
		case "sign_magnitude":
			sign = bitbuf.SignMagnitude
		default:
			return nil, fmt.Errorf("unknown signedness %q", ed.Signedness)
		}
		return &IntegerDataEncoding{Bits: ed.Bits, Encoding: sign, ByteOrder: order,
			DefaultCalibrator: def, ContextCalibrators: ctx}, nil
	case "float":
		enc := &FloatDataEncoding{Bits: ed.Bits, ByteOrder: order, DefaultCalibrator: def, ContextCalibrators: ctx}
		if enc.Bits == 0 {
			enc.Bits = 32
		}
		switch ed.Float {
		case "", "ieee754":
			enc.Encoding = FloatIEEE754
		case "milstd1750a":
			enc.Encoding = FloatMILSTD1750A
		case "string":
			enc.Encoding = FloatStringEncoded
			if ed.String == nil {
				return nil, fmt.Errorf("string encoded float without string encoding")
			}
			se, err := stringEncoding(ed.String)
			if err != nil {
				return nil, err
			}
			enc.StringEncoding = se
		default:
			return nil, fmt.Errorf("unknown float encoding %q", ed.Float)
		}
		return enc, nil
	case "string":
		return stringEncoding(ed)
	case "binary":
		se, err := stringEncoding(ed)
		if err != nil {
			return nil, err
		}
		return &BinaryDataEncoding{
			SizeType:        se.SizeType,
			Bits:            se.Bits,
			SizeTagBits:     se.SizeTagBits,
			TerminationChar: se.TerminationChar,
			MaxSizeInBits:   se.MaxSizeInBits,
		}, nil
	case "boolean":
		return &BooleanDataEncoding{Bits: ed.Bits, ByteOrder: order}, nil
	}
	return nil, fmt.Errorf("unknown encoding kind %q", ed.Kind)
}

func stringEncoding(ed *EncodingDoc) (*StringDataEncoding, error) {
	se := &StringDataEncoding{Bits: ed.Bits, SizeTagBits: ed.SizeTagBits, MaxSizeInBits: ed.MaxSizeInBits}
	switch ed.SizeType {
	case "", "fixed":
		se.SizeType = SizeFixed
	case "leading_size":
		se.SizeType = SizeLeadingSize
		if se.SizeTagBits == 0 {
			se.SizeTagBits = 16
		}
	case "termination_char":
		se.SizeType = SizeTerminationChar
	default:
		return nil, fmt.Errorf("unknown size type %q", ed.SizeType)
	}
	if ed.TerminationChar != nil {
		if *ed.TerminationChar < 0 || *ed.TerminationChar > 255 {
			return nil, fmt.Errorf("termination char %d out of byte range", *ed.TerminationChar)
		}
		se.TerminationChar = byte(*ed.TerminationChar)
	}
	return se, nil
}

func (b *builder) calibrators(ed *EncodingDoc) (Calibrator, []ContextCalibrator, error) {
	def, err := calibrator(ed.Calibrator)
	if err != nil {
		return nil, nil, err
	}
	var ctx []ContextCalibrator
	for i, cd := range ed.ContextCalibrators {
		cal, err := calibrator(cd.Calibrator)
		if err != nil {
			return nil, nil, err
		}
		if cal == nil || cd.Context == nil {
			return nil, nil, fmt.Errorf("context calibrator %d needs a context and a calibrator", i)
		}
		ctx = append(ctx, ContextCalibrator{Calibrator: cal})
	}
	for i, cd := range ed.ContextCalibrators {
		b.deferContext(cd.Context, &ctx[i].Context)
	}
	return def, ctx, nil
}

func calibrator(cd *CalibratorDoc) (Calibrator, error) {
	switch {
	case cd == nil:
		return nil, nil
	case len(cd.Polynomial) > 0 && len(cd.Spline) > 0:
		return nil, fmt.Errorf("calibrator is both polynomial and spline")
	case len(cd.Polynomial) > 0:
		return &PolynomialCalibrator{Coefficients: cd.Polynomial}, nil
	case len(cd.Spline) > 0:
		sc := &SplineCalibrator{}
		for i, p := range cd.Spline {
			if i > 0 && p.Raw <= cd.Spline[i-1].Raw {
				return nil, fmt.Errorf("spline points must have increasing raw values")
			}
			sc.Points = append(sc.Points, SplinePoint{Raw: p.Raw, Calibrated: p.Eng})
		}
		return sc, nil
	}
	return nil, fmt.Errorf("empty calibrator")
}

func (b *builder) numericAlarms(td *TypeDoc) (*NumericAlarm, []*NumericAlarm, error) {
	var def *NumericAlarm
	if td.DefaultAlarm != nil {
		def = b.numericAlarm(td.DefaultAlarm)
	}
	var ctx []*NumericAlarm
	for i := range td.ContextAlarm {
		ad := &td.ContextAlarm[i]
		if ad.Context == nil {
			return nil, nil, fmt.Errorf("context alarm %d without context", i)
		}
		ctx = append(ctx, b.numericAlarm(ad))
	}
	return def, ctx, nil
}

func (b *builder) numericAlarm(ad *AlarmDoc) *NumericAlarm {
	a := &NumericAlarm{
		AlarmProperties: alarmProperties(ad),
		Ranges: AlarmRanges{
			Watch:    ad.Watch.floatRange(),
			Warning:  ad.Warning.floatRange(),
			Distress: ad.Distress.floatRange(),
			Critical: ad.Critical.floatRange(),
			Severe:   ad.Severe.floatRange(),
		},
	}
	b.deferContext(ad.Context, &a.Context)
	return a
}

func (b *builder) enumAlarm(ad *AlarmDoc) (*EnumerationAlarm, error) {
	a := &EnumerationAlarm{AlarmProperties: alarmProperties(ad)}
	if ad.DefaultLevel != "" {
		l, ok := ParseAlarmLevel(ad.DefaultLevel)
		if !ok {
			return nil, fmt.Errorf("unknown alarm level %q", ad.DefaultLevel)
		}
		a.DefaultLevel = l
	}
	for _, st := range ad.States {
		l, ok := ParseAlarmLevel(st.Level)
		if !ok {
			return nil, fmt.Errorf("unknown alarm level %q", st.Level)
		}
		a.Items = append(a.Items, EnumerationAlarmItem{Label: st.Label, Level: l})
	}
	b.deferContext(ad.Context, &a.Context)
	return a, nil
}

func (b *builder) deferContext(cd *ConditionDoc, dst *MatchCriteria) {
	if cd == nil {
		return
	}
	b.pending = append(b.pending, func() error {
		mc, err := b.condition(cd)
		if err != nil {
			return fmt.Errorf("context: %w", err)
		}
		*dst = mc
		return nil
	})
}

func alarmProperties(ad *AlarmDoc) AlarmProperties {
	minViolations := ad.MinViolations
	if minViolations == 0 {
		minViolations = 1
	}
	return AlarmProperties{MinViolations: minViolations, AutoAck: ad.AutoAck, Latching: ad.Latching}
}

func (b *builder) condition(cd *ConditionDoc) (MatchCriteria, error) {
	switch {
	case len(cd.And) > 0:
		out := &ANDedConditions{}
		for i := range cd.And {
			sub, err := b.condition(&cd.And[i])
			if err != nil {
				return nil, err
			}
			out.Criteria = append(out.Criteria, sub)
		}
		return out, nil
	case len(cd.Or) > 0:
		out := &ORedConditions{}
		for i := range cd.Or {
			sub, err := b.condition(&cd.Or[i])
			if err != nil {
				return nil, err
			}
			out.Criteria = append(out.Criteria, sub)
		}
		return out, nil
	}

	ref, err := b.ref(cd.Parameter, cd.Instance, cd.Calibrated)
	if err != nil {
		return nil, err
	}
	op := OpEqual
	if cd.Op != "" {
		if op, err = ParseOperator(cd.Op); err != nil {
			return nil, err
		}
	}
	c := &Comparison{Ref: *ref, Op: op}
	switch {
	case cd.Ref != nil:
		right, err := b.ref(cd.Ref.Parameter, cd.Ref.Instance, cd.Ref.Calibrated)
		if err != nil {
			return nil, err
		}
		c.Right = right
	case cd.Value != nil:
		c.Literal = *cd.Value
	default:
		return nil, fmt.Errorf("comparison of %s needs a value or a ref", cd.Parameter)
	}
	return c, nil
}

func (b *builder) ref(name string, instance int, calibrated *bool) (*ParameterInstanceRef, error) {
	p, ok := b.db.Parameter(name)
	if !ok {
		return nil, fmt.Errorf("unknown parameter %q", name)
	}
	ref := &ParameterInstanceRef{Parameter: p, Instance: instance, UseCalibrated: true}
	if calibrated != nil {
		ref.UseCalibrated = *calibrated
	}
	return ref, nil
}

func (b *builder) intValue(d IntValueDoc) (IntegerValue, error) {
	if d.Fixed != nil {
		if d.Parameter != "" {
			return IntegerValue{}, fmt.Errorf("value is both fixed and dynamic")
		}
		return FixedInteger(*d.Fixed), nil
	}
	if d.Parameter == "" {
		return IntegerValue{}, fmt.Errorf("value needs fixed or parameter")
	}
	// dynamic values are resolved against parameters, which exist by the
	// time types are resolved lazily from parameter declarations
	p, ok := b.db.Parameter(d.Parameter)
	var ref *ParameterInstanceRef
	if ok {
		ref = &ParameterInstanceRef{Parameter: p, Instance: d.Instance, UseCalibrated: true}
	} else {
		ref = &ParameterInstanceRef{Parameter: &Parameter{Name: d.Parameter}, Instance: d.Instance, UseCalibrated: true}
		b.pending = append(b.pending, func() error {
			p, ok := b.db.Parameter(d.Parameter)
			if !ok {
				return fmt.Errorf("unknown parameter %q", d.Parameter)
			}
			ref.Parameter = p
			return nil
		})
	}
	if d.Calibrated != nil {
		ref.UseCalibrated = *d.Calibrated
	}
	iv := IntegerValue{Dynamic: ref}
	if d.Slope != nil || d.Intercept != 0 {
		slope := 1.0
		if d.Slope != nil {
			slope = *d.Slope
		}
		iv.Adjustment = &LinearAdjustment{Slope: slope, Intercept: d.Intercept}
	}
	return iv, nil
}

func (r *RangeDoc) bounds() (float64, float64) {
	lo, hi := math.Inf(-1), math.Inf(1)
	if r.Min != nil {
		lo = *r.Min
	}
	if r.Max != nil {
		hi = *r.Max
	}
	return lo, hi
}

func (r *RangeDoc) floatRange() *FloatRange {
	if r == nil {
		return nil
	}
	lo, hi := r.bounds()
	return &FloatRange{Min: lo, Max: hi, MinInclusive: !r.MinExclusive, MaxInclusive: !r.MaxExclusive}
}

func (r *RangeDoc) intRange() *IntegerRange {
	if r == nil {
		return nil
	}
	lo, hi := r.bounds()
	return &IntegerRange{Min: clampInt(lo), Max: clampInt(hi)}
}

func clampInt(f float64) int64 {
	switch {
	case f <= math.MinInt64:
		return math.MinInt64
	case f >= math.MaxInt64:
		return math.MaxInt64
	}
	return int64(f)
}

func parseEpoch(s string) (time.Time, error) {
	switch strings.ToUpper(s) {
	case "UNIX", "POSIX":
		return time.Unix(0, 0).UTC(), nil
	case "J2000":
		return time.Date(2000, 1, 1, 11, 58, 55, 816000000, time.UTC), nil
	case "GPS":
		return time.Date(1980, 1, 6, 0, 0, 0, 0, time.UTC), nil
	case "TAI":
		return time.Date(1958, 1, 1, 0, 0, 0, 0, time.UTC), nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid epoch %q: %w", s, err)
	}
	return t, nil
}

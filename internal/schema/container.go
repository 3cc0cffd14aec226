package schema

import (
	"time"
)

// Parameter is a telemetry leaf.
type Parameter struct {
	Name        string
	Description string
	Type        DataType

	index int
}

// Index returns the dense index assigned by Database.Finalize.
func (p *Parameter) Index() int { return p.index }

// Argument is a command argument.
type Argument struct {
	Name         string
	Description  string
	Type         DataType
	InitialValue *string
}

// ReferenceLocation tells where the location of an entry is counted from.
type ReferenceLocation int

const (
	LocationContainerStart ReferenceLocation = iota
	LocationPreviousEntry
)

// String returns the string representation of the reference location.
func (l ReferenceLocation) String() string {
	switch l {
	case LocationContainerStart:
		return "container_start"
	case LocationPreviousEntry:
		return "previous_entry"
	default:
		return "unknown"
	}
}

// Repeat makes an entry occur Count times, with OffsetBits between the end
// of one occurrence and the start of the next.
type Repeat struct {
	Count      IntegerValue
	OffsetBits int
}

// EntryBase holds the placement attributes common to all entries.
type EntryBase struct {
	Location         ReferenceLocation
	LocationBits     int
	IncludeCondition MatchCriteria
	Repeat           *Repeat

	parent *SequenceContainer
	index  int
}

// Entry returns the placement attributes.
func (b *EntryBase) Entry() *EntryBase { return b }

// Parent returns the container the entry belongs to.
func (b *EntryBase) Parent() *SequenceContainer { return b.parent }

// Index returns the position of the entry in its container.
func (b *EntryBase) Index() int { return b.index }

// SequenceEntry is one field placement. The set of implementations is
// closed: *ParameterEntry, *ArgumentEntry, *ContainerEntry and
// *FixedValueEntry.
type SequenceEntry interface {
	Entry() *EntryBase
	Name() string
	sequenceEntry()
}

// ParameterEntry places a parameter.
type ParameterEntry struct {
	EntryBase
	Parameter *Parameter
}

func (e *ParameterEntry) Name() string { return e.Parameter.Name }
func (*ParameterEntry) sequenceEntry() {}

// ArgumentEntry places a command argument.
type ArgumentEntry struct {
	EntryBase
	Argument *Argument
}

func (e *ArgumentEntry) Name() string { return e.Argument.Name }
func (*ArgumentEntry) sequenceEntry() {}

// ContainerEntry embeds another container.
type ContainerEntry struct {
	EntryBase
	Container *SequenceContainer
}

func (e *ContainerEntry) Name() string { return e.Container.Name }
func (*ContainerEntry) sequenceEntry() {}

// FixedValueEntry is a literal bit pattern. The pattern is the low
// SizeInBits bits of Value read as a big-endian number.
type FixedValueEntry struct {
	EntryBase
	Label      string
	Value      []byte
	SizeInBits int
}

func (e *FixedValueEntry) Name() string { return e.Label }

// Pattern returns the low bits of Value, at most 64 of them.
func (e *FixedValueEntry) Pattern() uint64 {
	b := e.Value
	if len(b) > 8 {
		b = b[len(b)-8:]
	}
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	n := e.SizeInBits
	if n >= 64 {
		return v
	}
	return v & (1<<uint(n) - 1)
}
func (*FixedValueEntry) sequenceEntry() {}

// SequenceContainer is an ordered set of entries with optional single
// inheritance.
type SequenceContainer struct {
	Name        string
	Description string
	Entries     []SequenceEntry
	Base        *SequenceContainer
	// Restriction must hold for the container to be chosen when extracting
	// its base.
	Restriction MatchCriteria
	// SizeInBits is the fixed size of the container, or -1 when unknown.
	SizeInBits int
	// MaxInterval is the expected maximum time between two instances; it
	// drives the expiration of the values extracted from the container.
	MaxInterval time.Duration
	Abstract    bool

	index   int
	derived []*SequenceContainer
}

// NewSequenceContainer returns a container of unknown size.
func NewSequenceContainer(name string) *SequenceContainer {
	return &SequenceContainer{Name: name, SizeInBits: -1}
}

// AddEntry appends an entry.
func (c *SequenceContainer) AddEntry(e SequenceEntry) {
	base := e.Entry()
	base.parent = c
	base.index = len(c.Entries)
	c.Entries = append(c.Entries, e)
}

// Index returns the dense index assigned by Database.Finalize.
func (c *SequenceContainer) Index() int { return c.index }

// Derived returns the containers inheriting directly from c, in declaration
// order.
func (c *SequenceContainer) Derived() []*SequenceContainer { return c.derived }

// Hierarchy returns c followed by its base containers.
func (c *SequenceContainer) Hierarchy() []*SequenceContainer {
	var out []*SequenceContainer
	for cur := c; cur != nil; cur = cur.Base {
		out = append(out, cur)
	}
	return out
}

// ArgumentAssignment fixes an inherited argument to a literal value.
type ArgumentAssignment struct {
	Name  string
	Value string
}

// MetaCommand is a command definition.
type MetaCommand struct {
	Name        string
	Description string
	Base        *MetaCommand
	Abstract    bool
	Arguments   []*Argument
	Assignments []ArgumentAssignment
	Container   *SequenceContainer

	index int
}

// Index returns the dense index assigned by Database.Finalize.
func (mc *MetaCommand) Index() int { return mc.index }

// Argument finds an argument declared by mc or one of its bases.
func (mc *MetaCommand) Argument(name string) (*Argument, bool) {
	for cur := mc; cur != nil; cur = cur.Base {
		for _, a := range cur.Arguments {
			if a.Name == name {
				return a, true
			}
		}
	}
	return nil, false
}

// AllArguments returns the arguments of the whole inheritance chain, those
// of the outermost base first.
func (mc *MetaCommand) AllArguments() []*Argument {
	var chain []*MetaCommand
	for cur := mc; cur != nil; cur = cur.Base {
		chain = append(chain, cur)
	}
	var out []*Argument
	for i := len(chain) - 1; i >= 0; i-- {
		out = append(out, chain[i].Arguments...)
	}
	return out
}

// AllAssignments returns the argument assignments of the whole chain keyed
// by argument name. Assignments closer to mc win.
func (mc *MetaCommand) AllAssignments() map[string]string {
	out := make(map[string]string)
	for cur := mc; cur != nil; cur = cur.Base {
		for _, a := range cur.Assignments {
			if _, seen := out[a.Name]; !seen {
				out[a.Name] = a.Value
			}
		}
	}
	return out
}

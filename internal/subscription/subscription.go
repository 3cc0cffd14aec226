// Package subscription selects which container entries are decoded.
//
// Readers take an immutable snapshot without locking. Writers serialize on a
// mutex and publish a rebuilt snapshot.
package subscription

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/resident-x/go-tmtc/internal/schema"
)

// Snapshot is an immutable state of a Subscription. A packet decoded
// against one snapshot never observes a concurrent change.
type Snapshot struct {
	// indexed by container index
	entries    [][]schema.SequenceEntry
	derived    [][]*schema.SequenceContainer
	subscribed []bool
	parameters []*schema.Parameter
}

// Subscription is the set of parameters and containers of interest,
// expanded to every entry needed to decode them.
type Subscription struct {
	db *schema.Database

	mu         sync.Mutex
	parameters map[*schema.Parameter]struct{}
	containers map[*schema.SequenceContainer]struct{}
	all        bool

	current atomic.Pointer[Snapshot]
	logger  zerolog.Logger
}

// New returns an empty subscription over db.
func New(db *schema.Database) *Subscription {
	s := &Subscription{
		db:         db,
		parameters: make(map[*schema.Parameter]struct{}),
		containers: make(map[*schema.SequenceContainer]struct{}),
		logger:     log.With().Str("component", "subscription").Logger(),
	}
	s.current.Store(s.build())
	return s
}

// AddParameter subscribes p together with everything needed to locate and
// decode it.
func (s *Subscription) AddParameter(p *schema.Parameter) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.parameters[p] = struct{}{}
	s.publish()
}

// AddParameters subscribes several parameters with a single rebuild.
func (s *Subscription) AddParameters(ps []*schema.Parameter) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range ps {
		s.parameters[p] = struct{}{}
	}
	s.publish()
}

// AddContainer subscribes every entry of c and of its base containers.
func (s *Subscription) AddContainer(c *schema.SequenceContainer) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.containers[c] = struct{}{}
	s.publish()
}

// AddAll subscribes the whole schema.
func (s *Subscription) AddAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.all = true
	s.publish()
}

// RemoveParameter drops p. Entries still needed by other subscribed items
// stay subscribed.
func (s *Subscription) RemoveParameter(p *schema.Parameter) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.parameters, p)
	s.publish()
}

// RemoveParameters drops several parameters with a single rebuild.
func (s *Subscription) RemoveParameters(ps []*schema.Parameter) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range ps {
		delete(s.parameters, p)
	}
	s.publish()
}

// RemoveContainer drops a container added with AddContainer.
func (s *Subscription) RemoveContainer(c *schema.SequenceContainer) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.containers, c)
	s.publish()
}

// Snapshot returns the current state.
func (s *Subscription) Snapshot() *Snapshot {
	return s.current.Load()
}

// Entries returns the subscribed entries of c in container order.
func (s *Subscription) Entries(c *schema.SequenceContainer) []schema.SequenceEntry {
	return s.Snapshot().Entries(c)
}

// Derived returns the subscribed containers inheriting directly from c, in
// declaration order.
func (s *Subscription) Derived(c *schema.SequenceContainer) []*schema.SequenceContainer {
	return s.Snapshot().Derived(c)
}

// IsSubscribed reports whether c takes part in decoding.
func (s *Subscription) IsSubscribed(c *schema.SequenceContainer) bool {
	return s.Snapshot().IsSubscribed(c)
}

// Parameters returns the parameters whose entries are subscribed.
func (s *Subscription) Parameters() []*schema.Parameter {
	return s.Snapshot().Parameters()
}

// Entries returns the subscribed entries of c in container order.
func (snap *Snapshot) Entries(c *schema.SequenceContainer) []schema.SequenceEntry {
	if c.Index() >= len(snap.entries) {
		return nil
	}
	return snap.entries[c.Index()]
}

// Derived returns the subscribed containers inheriting directly from c.
func (snap *Snapshot) Derived(c *schema.SequenceContainer) []*schema.SequenceContainer {
	if c.Index() >= len(snap.derived) {
		return nil
	}
	return snap.derived[c.Index()]
}

// IsSubscribed reports whether c takes part in decoding.
func (snap *Snapshot) IsSubscribed(c *schema.SequenceContainer) bool {
	return c.Index() < len(snap.subscribed) && snap.subscribed[c.Index()]
}

// Parameters returns the parameters whose entries are subscribed.
func (snap *Snapshot) Parameters() []*schema.Parameter {
	return snap.parameters
}

func (s *Subscription) publish() {
	snap := s.build()
	s.current.Store(snap)
	s.logger.Debug().Int("parameters", len(snap.parameters)).Msg("Subscription updated")
}

// builder expands subscribed items into entries. It runs under s.mu.
type builder struct {
	db         *schema.Database
	entries    []map[int]bool
	containers []bool
	whole      []bool
	// parameters expanded so far, and parameters with a subscribed entry
	parameters []bool
	decoded    []bool
}

func (s *Subscription) build() *Snapshot {
	all := s.db.AllContainers()
	b := &builder{
		db:         s.db,
		entries:    make([]map[int]bool, len(all)),
		containers: make([]bool, len(all)),
		whole:      make([]bool, len(all)),
		parameters: make([]bool, len(s.db.Parameters())),
		decoded:    make([]bool, len(s.db.Parameters())),
	}

	if s.all {
		for _, c := range s.db.Containers() {
			b.addWholeContainer(c)
		}
	}
	for c := range s.containers {
		b.addWholeContainer(c)
	}
	for p := range s.parameters {
		b.addParameter(p)
	}

	snap := &Snapshot{
		entries:    make([][]schema.SequenceEntry, len(all)),
		derived:    make([][]*schema.SequenceContainer, len(all)),
		subscribed: b.containers,
	}
	for i, c := range all {
		if len(b.entries[i]) > 0 {
			idx := make([]int, 0, len(b.entries[i]))
			for k := range b.entries[i] {
				idx = append(idx, k)
			}
			sort.Ints(idx)
			for _, k := range idx {
				snap.entries[i] = append(snap.entries[i], c.Entries[k])
			}
		}
		for _, d := range c.Derived() {
			if b.containers[d.Index()] {
				snap.derived[i] = append(snap.derived[i], d)
			}
		}
	}
	for i, p := range s.db.Parameters() {
		if b.decoded[i] {
			snap.parameters = append(snap.parameters, p)
		}
	}
	return snap
}

func (b *builder) addParameter(p *schema.Parameter) {
	idx := p.Index()
	if idx < 0 || idx >= len(b.parameters) || b.parameters[idx] {
		return
	}
	b.parameters[idx] = true
	for _, e := range b.db.ParameterEntries(p) {
		b.addEntry(e.Parent(), e.Index())
	}
	b.addTypeDependencies(p.Type)
}

func (b *builder) addWholeContainer(c *schema.SequenceContainer) {
	for cur := c; cur != nil; cur = cur.Base {
		if b.whole[cur.Index()] {
			return
		}
		b.whole[cur.Index()] = true
		for i, e := range cur.Entries {
			b.addEntry(cur, i)
			if ce, ok := e.(*schema.ContainerEntry); ok {
				b.addWholeContainer(ce.Container)
			}
		}
		b.addContainer(cur)
	}
}

// addContainer makes c reachable from the root: through its base chain or
// through the entries embedding it.
func (b *builder) addContainer(c *schema.SequenceContainer) {
	if b.containers[c.Index()] {
		return
	}
	b.containers[c.Index()] = true
	b.addCriteria(c.Restriction)
	if c.Base != nil {
		b.addContainer(c.Base)
		return
	}
	for _, ce := range b.db.ContainerEntries(c) {
		b.addEntry(ce.Parent(), ce.Index())
	}
}

func (b *builder) addEntry(c *schema.SequenceContainer, i int) {
	set := b.entries[c.Index()]
	if set == nil {
		set = make(map[int]bool)
		b.entries[c.Index()] = set
	}
	if set[i] {
		return
	}
	set[i] = true
	b.addContainer(c)

	e := c.Entries[i]
	base := e.Entry()
	b.addCriteria(base.IncludeCondition)
	if base.Repeat != nil {
		b.addIntegerValue(base.Repeat.Count)
	}
	if entry, ok := e.(*schema.ParameterEntry); ok {
		b.decoded[entry.Parameter.Index()] = true
		b.addTypeDependencies(entry.Parameter.Type)
	}

	// a relative location depends on where the previous entry ended
	if base.Location == schema.LocationPreviousEntry {
		b.addPrevious(c, i)
	}
}

func (b *builder) addPrevious(c *schema.SequenceContainer, i int) {
	if i > 0 {
		b.addEntry(c, i-1)
		return
	}
	for base := c.Base; base != nil; base = base.Base {
		if n := len(base.Entries); n > 0 {
			b.addEntry(base, n-1)
			return
		}
	}
}

func (b *builder) addCriteria(mc schema.MatchCriteria) {
	for _, ref := range schema.References(mc) {
		b.addParameter(ref.Parameter)
	}
}

func (b *builder) addIntegerValue(v schema.IntegerValue) {
	if v.Dynamic != nil {
		b.addParameter(v.Dynamic.Parameter)
	}
}

func (b *builder) addTypeDependencies(dt schema.DataType) {
	switch t := dt.(type) {
	case *schema.AggregateType:
		for _, m := range t.Members {
			b.addTypeDependencies(m.Type)
		}
		return
	case *schema.ArrayType:
		for _, d := range t.Dimensions {
			b.addIntegerValue(d)
		}
		b.addTypeDependencies(t.ElementType)
		return
	case *schema.IntegerType:
		for _, a := range t.ContextAlarms {
			b.addCriteria(a.Context)
		}
	case *schema.FloatType:
		for _, a := range t.ContextAlarms {
			b.addCriteria(a.Context)
		}
	case *schema.EnumeratedType:
		for _, a := range t.ContextAlarms {
			b.addCriteria(a.Context)
		}
	}
	_, contexts := schema.Calibrators(dt.Base().Encoding)
	for _, cc := range contexts {
		b.addCriteria(cc.Context)
	}
}

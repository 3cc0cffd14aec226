package command

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/resident-x/go-tmtc/internal/domain"
	"github.com/resident-x/go-tmtc/internal/extractor"
	"github.com/resident-x/go-tmtc/internal/protocol"
	"github.com/resident-x/go-tmtc/internal/schema"
	"github.com/resident-x/go-tmtc/internal/value"
	"github.com/resident-x/go-tmtc/mocks"
)

const commandSchema = `
types:
  - {name: u3, kind: integer, encoding: {kind: integer, bits: 3}}
  - {name: u8, kind: integer, encoding: {kind: integer, bits: 8}}
  - {name: u16, kind: integer, encoding: {kind: integer, bits: 16}}
  - name: percent
    kind: integer
    encoding: {kind: integer, bits: 8}
    valid_range: {min: 0, max: 100}
  - name: mode
    kind: enumerated
    initial_value: SAFE
    encoding: {kind: integer, bits: 8}
    enumeration:
      - {value: 0, label: SAFE}
      - {value: 1, label: RUN}
  - name: volts
    kind: float
    encoding: {kind: integer, bits: 8, calibrator: {polynomial: [0, 0.5]}}
  - name: name
    kind: string
    encoding: {kind: string, size_type: leading_size, size_tag_bits: 8}
    size_range: {min: 1, max: 4}
  - name: point
    kind: aggregate
    members:
      - {name: x, type: u8}
      - {name: y, type: u8}
parameters:
  - {name: counter, type: u8}
commands:
  - name: header
    abstract: true
    arguments:
      - {name: apid, type: u16}
      - {name: seq, type: u8, initial_value: "0"}
    entries:
      - {fixed: {label: sync, hex: "1ACF", bits: 16}}
      - {argument: apid}
      - {argument: seq}
  - name: set_mode
    base: header
    assignments: {apid: "0x0101"}
    arguments:
      - {name: mode, type: mode}
    entries:
      - {argument: mode}
  - name: set_power
    base: header
    assignments: {apid: "0x0102"}
    arguments:
      - {name: level, type: percent}
      - {name: voltage, type: volts}
    entries:
      - {argument: level}
      - {argument: voltage}
  - name: rename
    arguments:
      - {name: label, type: name}
    entries:
      - {argument: label}
  - name: move
    arguments:
      - {name: target, type: point}
    entries:
      - {argument: target}
  - name: packed
    arguments:
      - {name: a, type: u3}
      - {name: b, type: u3}
    entries:
      - {fixed: {label: spare, hex: "03", bits: 2}}
      - {argument: a}
      - {argument: b}
  - name: echo
    entries:
      - {parameter: counter}
  - name: placed
    arguments:
      - {name: a, type: u8}
    entries:
      - {argument: a, location: container_start, offset_bits: 16}
`

func load(t *testing.T) *schema.Database {
	t.Helper()
	db, err := schema.Load(strings.NewReader(commandSchema))
	require.NoError(t, err)
	return db
}

func command(t *testing.T, db *schema.Database, name string) *schema.MetaCommand {
	t.Helper()
	mc, ok := db.Command(name)
	require.True(t, ok, name)
	return mc
}

func TestModeCommand(t *testing.T) {
	db := load(t)
	b := NewBuilder(db, nil, DefaultOptions())
	mc := command(t, db, "set_mode")

	tests := []struct {
		name        string
		assignments map[string]string
		expected    []byte
	}{
		{"type default", nil, []byte{0x1A, 0xCF, 0x01, 0x01, 0x00, 0x00}},
		{"explicit", map[string]string{"mode": "RUN"}, []byte{0x1A, 0xCF, 0x01, 0x01, 0x00, 0x01}},
		{"explicit base argument", map[string]string{"mode": "RUN", "seq": "7"}, []byte{0x1A, 0xCF, 0x01, 0x01, 0x07, 0x01}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := b.Build(mc, tt.assignments)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, res.Binary)
		})
	}

	_, err := b.Build(mc, map[string]string{"mode": "INVALID"})
	require.Error(t, err)
	var argErr *ArgumentError
	require.True(t, errors.As(err, &argErr))
	assert.Equal(t, "mode", argErr.Argument)
	assert.ErrorIs(t, err, ErrInvalid)
	assert.Contains(t, err.Error(), "SAFE, RUN")
}

func TestResolvedArguments(t *testing.T) {
	db := load(t)
	res, err := NewBuilder(db, nil, DefaultOptions()).Build(command(t, db, "set_mode"), map[string]string{"mode": "RUN"})
	require.NoError(t, err)

	names := make([]string, 0, len(res.Arguments))
	for _, av := range res.Arguments {
		names = append(names, av.Argument.Name)
	}
	assert.Equal(t, []string{"apid", "seq", "mode"}, names, "outermost base arguments first")

	apid, ok := res.Argument("apid")
	require.True(t, ok)
	assert.Equal(t, uint64(0x0101), apid.Eng.Uint64())

	mode, ok := res.Argument("mode")
	require.True(t, ok)
	assert.Equal(t, value.Enumerated(1, "RUN"), mode.Eng)
	assert.Equal(t, int64(1), mode.Raw.Int64())
}

func TestArgumentResolutionErrors(t *testing.T) {
	db := load(t)
	b := NewBuilder(db, nil, DefaultOptions())

	tests := []struct {
		name        string
		command     string
		assignments map[string]string
		argument    string
		err         error
	}{
		{"abstract", "header", nil, "", ErrAbstractCommand},
		{"fixed by definition", "set_mode", map[string]string{"apid": "5"}, "apid", ErrAssigned},
		{"unknown argument", "set_mode", map[string]string{"speed": "1"}, "speed", ErrUnknownArgument},
		{"no default", "set_power", map[string]string{"voltage": "1"}, "level", ErrUnset},
		{"above valid range", "set_power", map[string]string{"level": "101", "voltage": "1"}, "level", ErrOutOfRange},
		{"negative unsigned", "set_power", map[string]string{"level": "-1", "voltage": "1"}, "level", ErrOutOfRange},
		{"not a number", "set_power", map[string]string{"level": "high", "voltage": "1"}, "level", ErrInvalid},
		{"string too long", "rename", map[string]string{"label": "ABCDE"}, "label", ErrOutOfRange},
		{"string too short", "rename", map[string]string{"label": ""}, "label", ErrOutOfRange},
		{"missing member", "move", map[string]string{"target": `{"x": 1}`}, "target", ErrInvalid},
		{"extra member", "move", map[string]string{"target": `{"x": 1, "y": 2, "z": 3}`}, "target", ErrInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := b.Build(command(t, db, tt.command), tt.assignments)
			assert.Nil(t, res)
			require.ErrorIs(t, err, tt.err)
			if tt.argument != "" {
				var argErr *ArgumentError
				require.True(t, errors.As(err, &argErr))
				assert.Equal(t, tt.argument, argErr.Argument)
			}
		})
	}
}

func TestCalibratedArgument(t *testing.T) {
	db := load(t)
	res, err := NewBuilder(db, nil, DefaultOptions()).Build(command(t, db, "set_power"), map[string]string{
		"level":   "100",
		"voltage": "12.5",
	})
	require.NoError(t, err)
	// 12.5 V through y = 0.5x gives raw 25
	assert.Equal(t, []byte{0x1A, 0xCF, 0x01, 0x02, 0x00, 100, 25}, res.Binary)
}

func TestStringAndAggregateArguments(t *testing.T) {
	db := load(t)
	b := NewBuilder(db, nil, DefaultOptions())

	res, err := b.Build(command(t, db, "rename"), map[string]string{"label": "AB"})
	require.NoError(t, err)
	assert.Equal(t, []byte{2, 'A', 'B'}, res.Binary)

	res, err = b.Build(command(t, db, "move"), map[string]string{"target": `{"y": "7", "x": 3}`})
	require.NoError(t, err)
	assert.Equal(t, []byte{3, 7}, res.Binary)
}

func TestSubByteFieldsTrimmed(t *testing.T) {
	db := load(t)
	res, err := NewBuilder(db, nil, DefaultOptions()).Build(command(t, db, "packed"), map[string]string{"a": "5", "b": "2"})
	require.NoError(t, err)
	// 11 101 010 -> one byte
	assert.Equal(t, []byte{0xEA}, res.Binary)
}

func TestLocationFromContainerStart(t *testing.T) {
	db := load(t)
	res, err := NewBuilder(db, nil, DefaultOptions()).Build(command(t, db, "placed"), map[string]string{"a": "9"})
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 9}, res.Binary)
}

func TestParameterEntryFromCache(t *testing.T) {
	db := load(t)
	counter, ok := db.Parameter("counter")
	require.True(t, ok)

	cache := mocks.NewMockParameterCache(t)
	cache.EXPECT().GetInstance(counter, 0).Return(&domain.ParameterValue{
		Parameter: counter,
		Raw:       value.Uint32(42),
		Eng:       value.Uint32(42),
	}, true).Once()

	res, err := NewBuilder(db, cache, DefaultOptions()).Build(command(t, db, "echo"), nil)
	require.NoError(t, err)
	assert.Equal(t, []byte{42}, res.Binary)

	empty := mocks.NewMockParameterCache(t)
	empty.EXPECT().GetInstance(counter, 0).Return(nil, false).Once()
	_, err = NewBuilder(db, empty, DefaultOptions()).Build(command(t, db, "echo"), nil)
	assert.ErrorIs(t, err, ErrNoValue)
}

func TestAppendCRC(t *testing.T) {
	db := load(t)
	opts := DefaultOptions()
	opts.AppendCRC = true

	res, err := NewBuilder(db, nil, opts).Build(command(t, db, "set_mode"), map[string]string{"mode": "RUN"})
	require.NoError(t, err)
	require.Len(t, res.Binary, 8)

	body, err := protocol.NewChecksum().Verify(res.Binary)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x1A, 0xCF, 0x01, 0x01, 0x00, 0x01}, body)
}

func TestMaxSize(t *testing.T) {
	db := load(t)
	_, err := NewBuilder(db, nil, Options{MaxSizeBytes: 4}).Build(command(t, db, "set_mode"), nil)
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestBuildByName(t *testing.T) {
	db := load(t)
	b := NewBuilder(db, nil, DefaultOptions())

	res, err := b.BuildByName("set_mode", nil)
	require.NoError(t, err)
	assert.Equal(t, "set_mode", res.Command.Name)

	_, err = b.BuildByName("reboot", nil)
	assert.ErrorIs(t, err, ErrUnknownCommand)
}

func TestBuiltCommandDecodes(t *testing.T) {
	db := load(t)
	mc := command(t, db, "set_power")
	res, err := NewBuilder(db, nil, DefaultOptions()).Build(mc, map[string]string{
		"level":   "80",
		"voltage": "3",
		"seq":     "9",
	})
	require.NoError(t, err)

	// the command container inherits the header container of its base
	x := extractor.New(db, nil, nil, extractor.DefaultOptions())
	decoded, err := x.Extract(res.Binary, mc.Container, time.Now(), time.Time{})
	require.NoError(t, err)
	assert.Equal(t, len(res.Binary)*8, decoded.SizeInBits)

	got := make(map[string]value.Value)
	for _, av := range decoded.Arguments {
		got[av.Argument.Name] = av.Eng
	}
	require.Len(t, got, 4)
	assert.Equal(t, uint64(0x0102), got["apid"].Uint64())
	assert.Equal(t, uint64(9), got["seq"].Uint64())
	assert.Equal(t, uint64(80), got["level"].Uint64())
	assert.InDelta(t, 3.0, got["voltage"].Float64(), 1e-9)
}

const embeddingSchema = `
types:
  - {name: u8, kind: integer, encoding: {kind: integer, bits: 8}}
parameters:
  - {name: kind, type: u8}
containers:
  - name: b
    entries:
      - {fixed: {hex: "AA", bits: 8}}
      - {parameter: kind}
  - name: d
    base: b
    restriction: {parameter: kind, value: "1"}
    entries:
      - {fixed: {hex: "BB", bits: 8}}
commands:
  - name: wrap_base
    arguments:
      - {name: a, type: u8, initial_value: "7"}
    entries:
      - {container: b}
      - {argument: a}
  - name: wrap_derived
    arguments:
      - {name: a, type: u8, initial_value: "7"}
    entries:
      - {container: d}
      - {argument: a}
`

func TestEmbeddedContainerRoundTrip(t *testing.T) {
	db, err := schema.Load(strings.NewReader(embeddingSchema))
	require.NoError(t, err)
	kind, ok := db.Parameter("kind")
	require.True(t, ok)

	tests := []struct {
		name    string
		command string
		want    []byte
	}{
		// b, then d selected by its restriction, then the argument
		{"base with matching derived", "wrap_base", []byte{0xAA, 0x01, 0xBB, 0x07}},
		// only the entries of d, as an embedded d is read
		{"derived container", "wrap_derived", []byte{0xBB, 0x07}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cache := mocks.NewMockParameterCache(t)
			cache.EXPECT().GetInstance(kind, 0).Return(&domain.ParameterValue{
				Parameter: kind,
				Raw:       value.Uint32(1),
				Eng:       value.Uint32(1),
			}, true).Maybe()

			mc := command(t, db, tt.command)
			res, err := NewBuilder(db, cache, DefaultOptions()).Build(mc, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Binary)

			x := extractor.New(db, nil, nil, extractor.DefaultOptions())
			decoded, err := x.Extract(res.Binary, mc.Container, time.Now(), time.Time{})
			require.NoError(t, err)
			assert.Equal(t, len(tt.want)*8, decoded.SizeInBits)
			require.Len(t, decoded.Arguments, 1)
			assert.Equal(t, uint64(7), decoded.Arguments[0].Raw.Uint64())
		})
	}
}

func TestParseValue(t *testing.T) {
	db := load(t)
	mc := command(t, db, "set_power")
	level, _ := mc.Argument("level")
	voltage, _ := mc.Argument("voltage")

	v, err := ParseValue(level.Type, " 0x10 ")
	require.NoError(t, err)
	assert.Equal(t, uint64(16), v.Uint64())

	v, err = ParseValue(voltage.Type, "1e1")
	require.NoError(t, err)
	assert.Equal(t, 10.0, v.Float64())

	_, err = ParseValue(level.Type, "1.5")
	assert.ErrorIs(t, err, ErrInvalid, "integers never fall back to floats")
}

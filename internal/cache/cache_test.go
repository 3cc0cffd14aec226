package cache

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/resident-x/go-tmtc/internal/domain"
	"github.com/resident-x/go-tmtc/internal/schema"
	"github.com/resident-x/go-tmtc/internal/value"
)

func testDatabase(t *testing.T) (*schema.Database, *schema.Parameter, *schema.Parameter) {
	t.Helper()
	u8 := &schema.IntegerType{BaseType: schema.BaseType{Encoding: &schema.IntegerDataEncoding{Bits: 8}}}
	a := &schema.Parameter{Name: "a", Type: u8}
	b := &schema.Parameter{Name: "b", Type: u8}
	db := schema.NewDatabase()
	require.NoError(t, db.AddParameter(a))
	require.NoError(t, db.AddParameter(b))
	require.NoError(t, db.Finalize())
	return db, a, b
}

func sample(p *schema.Parameter, v uint32) *domain.ParameterValue {
	return &domain.ParameterValue{Parameter: p, Raw: value.Uint32(v), Eng: value.Uint32(v)}
}

func TestGetInstance(t *testing.T) {
	db, a, b := testDatabase(t)
	c := New(db, 3)

	_, ok := c.Get(a)
	assert.False(t, ok)

	c.Put([]*domain.ParameterValue{sample(a, 1), sample(b, 10)})
	c.Put([]*domain.ParameterValue{sample(a, 2)})
	c.Put([]*domain.ParameterValue{sample(a, 3)})
	c.Put([]*domain.ParameterValue{sample(a, 4)})

	tests := []struct {
		instance int
		expected uint64
		found    bool
	}{
		{0, 4, true},
		{-1, 3, true},
		{-2, 2, true},
		{-3, 0, false},
		{1, 0, false},
	}
	for _, tt := range tests {
		pv, ok := c.GetInstance(a, tt.instance)
		assert.Equal(t, tt.found, ok, "instance %d", tt.instance)
		if tt.found {
			assert.Equal(t, tt.expected, pv.Eng.Uint64(), "instance %d", tt.instance)
		}
	}

	pv, ok := c.Get(b)
	require.True(t, ok)
	assert.Equal(t, uint64(10), pv.Eng.Uint64())

	assert.Len(t, c.Values(), 2)
	history := c.History(a, 10)
	require.Len(t, history, 3)
	assert.Equal(t, uint64(4), history[0].Eng.Uint64())
}

func TestLastWriterWins(t *testing.T) {
	db, a, _ := testDatabase(t)
	c := New(db, 0)

	c.Put([]*domain.ParameterValue{sample(a, 1), sample(a, 2)})
	pv, ok := c.Get(a)
	require.True(t, ok)
	assert.Equal(t, uint64(2), pv.Eng.Uint64())
}

func TestUnknownParameterIgnored(t *testing.T) {
	db, _, _ := testDatabase(t)
	c := New(db, 2)
	stranger := &schema.Parameter{Name: "x"}

	c.Put([]*domain.ParameterValue{{Parameter: stranger}})
	_, ok := c.Get(stranger)
	assert.False(t, ok)
}

func TestConcurrentAccess(t *testing.T) {
	db, a, _ := testDatabase(t)
	c := New(db, 4)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.Put([]*domain.ParameterValue{sample(a, uint32(i*100+j))})
			}
		}(i)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.GetInstance(a, -1)
			}
		}()
	}
	wg.Wait()

	assert.Len(t, c.History(a, 10), 4)
}

package lifecycle

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type withSnapshot struct {
	Name string
	Snapshot
}

type withoutSnapshot struct {
	Name string
}

func TestSnapshot_PutGet(t *testing.T) {
	var s Snapshot
	_, ok := s.Get("ssn")
	assert.False(t, ok)
	assert.Zero(t, s.Len())

	s.Put("ssn", []byte("c1"))
	s.Put("dob", nil)

	v, ok := s.Get("ssn")
	require.True(t, ok)
	assert.Equal(t, []byte("c1"), v)
	assert.Equal(t, []string{"dob", "ssn"}, s.Columns())

	s.Reset()
	assert.Zero(t, s.Len())
	assert.Empty(t, s.Columns())
}

func TestSnapshotOf(t *testing.T) {
	m := &withSnapshot{}
	s, ok := SnapshotOf(m)
	require.True(t, ok)
	s.Put("ssn", "x")

	v, _ := m.Snapshot.Get("ssn")
	assert.Equal(t, "x", v)

	_, ok = SnapshotOf(&withoutSnapshot{})
	assert.False(t, ok)
}

func TestCarriesSnapshot(t *testing.T) {
	assert.True(t, CarriesSnapshot(reflect.TypeOf(withSnapshot{})))
	assert.True(t, CarriesSnapshot(reflect.TypeOf(&withSnapshot{})))
	assert.False(t, CarriesSnapshot(reflect.TypeOf(withoutSnapshot{})))
}

func TestReadBeforeDecryption_FallsBackToCurrent(t *testing.T) {
	rec := newMemRecord().set("ssn", "plain", stringType)

	v, err := ReadBeforeDecryption(rec, "ssn")
	require.NoError(t, err)
	assert.Equal(t, "plain", v)

	rec.snapshot.Put("ssn", nil)
	v, err = ReadBeforeDecryption(rec, "ssn")
	require.NoError(t, err)
	assert.Equal(t, "plain", v)

	rec.snapshot.Put("ssn", []byte("cipher"))
	v, err = ReadBeforeDecryption(rec, "ssn")
	require.NoError(t, err)
	assert.Equal(t, []byte("cipher"), v)
}

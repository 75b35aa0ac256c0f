package sample

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestValueNative(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	id := uuid.New()

	cases := []struct {
		name string
		v    Value
		want interface{}
	}{
		{"null", NewNull(), nil},
		{"bool", NewBool(true), true},
		{"int64", NewInt64(-7), int64(-7)},
		{"uint64", NewUint64(7), uint64(7)},
		{"float32", NewFloat32(1.5), float32(1.5)},
		{"float64", NewFloat64(2.5), float64(2.5)},
		{"decimal", NewDecimal("1.230"), "1.230"},
		{"string", NewString("hi"), "hi"},
		{"timestamp", NewTimestamp(now), now},
		{"uuid", NewUUID(id), id.String()},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, c.v.Native())
		})
	}
}

func TestValueArrayRecurses(t *testing.T) {
	arr := NewArray([]Value{NewInt64(1), NewInt64(2), NewInt64(3)})
	native, ok := arr.Native().([]interface{})
	assert.True(t, ok)
	assert.Equal(t, []interface{}{int64(1), int64(2), int64(3)}, native)
}

func TestSampleCarriesServerID(t *testing.T) {
	s := Sample{
		ServerID:       "plc-1",
		NodeID:         "ns=2;s=Temp",
		ReceiveTimeUTC: time.Now().UTC(),
		Value:          NewFloat64(21.5),
		Quality:        QualityGood,
	}
	assert.Equal(t, "plc-1", s.ServerID)
	assert.Equal(t, QualityGood, s.Quality)
}

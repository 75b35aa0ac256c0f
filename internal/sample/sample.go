// Package sample defines the Sample record produced by an OPC UA monitored
// item change notification and the polymorphic Value it carries.
package sample

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Quality is a coarse label describing how much an operator should trust a
// Sample's Value. It is distinct from StatusCode, which carries the raw
// OPC UA status.
type Quality string

const (
	QualityGood        Quality = "good"
	QualityUncertain   Quality = "uncertain"
	QualityBad         Quality = "bad"
	QualityUnspecified Quality = "unspecified"
)

// Kind discriminates the tagged union held by Value.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInt64
	KindUint64
	KindFloat32
	KindFloat64
	KindDecimal
	KindString
	KindBytes
	KindTimestamp
	KindUUID
	KindArray
)

// Value is a tagged variant over the primitive set the OPC UA layer can
// deliver. Exactly one field is meaningful for a given Kind; Array recurses
// into a homogeneous slice of Value. Decimal is string-backed to avoid
// float precision loss on values the source server already treats as
// fixed-point. Encoders for Value live with each sink, not here (§9).
type Value struct {
	Kind    Kind
	Bool    bool
	Int64   int64
	Uint64  uint64
	Float32 float32
	Float64 float64
	Decimal string
	Str     string
	Bytes   []byte
	Time    time.Time
	UUID    uuid.UUID
	Array   []Value
}

func NewNull() Value                { return Value{Kind: KindNull} }
func NewBool(v bool) Value          { return Value{Kind: KindBool, Bool: v} }
func NewInt64(v int64) Value        { return Value{Kind: KindInt64, Int64: v} }
func NewUint64(v uint64) Value       { return Value{Kind: KindUint64, Uint64: v} }
func NewFloat32(v float32) Value    { return Value{Kind: KindFloat32, Float32: v} }
func NewFloat64(v float64) Value    { return Value{Kind: KindFloat64, Float64: v} }
func NewDecimal(v string) Value     { return Value{Kind: KindDecimal, Decimal: v} }
func NewString(v string) Value      { return Value{Kind: KindString, Str: v} }
func NewBytes(v []byte) Value       { return Value{Kind: KindBytes, Bytes: v} }
func NewTimestamp(v time.Time) Value { return Value{Kind: KindTimestamp, Time: v} }
func NewUUID(v uuid.UUID) Value      { return Value{Kind: KindUUID, UUID: v} }
func NewArray(vs []Value) Value      { return Value{Kind: KindArray, Array: vs} }

// Native returns a plain Go value suitable for generic inspection (logging,
// tests). Sinks should use their own encoders, not this, for persistence.
func (v Value) Native() interface{} {
	switch v.Kind {
	case KindNull:
		return nil
	case KindBool:
		return v.Bool
	case KindInt64:
		return v.Int64
	case KindUint64:
		return v.Uint64
	case KindFloat32:
		return v.Float32
	case KindFloat64:
		return v.Float64
	case KindDecimal:
		return v.Decimal
	case KindString:
		return v.Str
	case KindBytes:
		return v.Bytes
	case KindTimestamp:
		return v.Time
	case KindUUID:
		return v.UUID.String()
	case KindArray:
		out := make([]interface{}, len(v.Array))
		for i, e := range v.Array {
			out[i] = e.Native()
		}
		return out
	default:
		return fmt.Sprintf("<unknown kind %d>", v.Kind)
	}
}

// Sample is an immutable record produced per OPC UA value change. Once
// enqueued into the ingress queue it must not be mutated.
type Sample struct {
	ServerID       string
	ServerName     string
	ReceiveTimeUTC time.Time
	NodeID         string
	DisplayName    string
	BrowsePath     string
	DataType       string
	Value          Value
	SourceTime     *time.Time
	ServerTime     *time.Time
	StatusCode     uint32
	Quality        Quality
}

package opcua

import (
	"time"

	"github.com/gopcua/opcua/ua"

	"github.com/fieldpulse/daqagent/internal/sample"
)

// decodeVariant converts an OPC UA DataValue's Variant into this domain's
// tagged sample.Value, covering the primitive set a PLC-facing server
// typically exposes. Types outside that set fall through to a stringified
// representation rather than being dropped.
func decodeVariant(dv *ua.DataValue) sample.Value {
	if dv == nil || dv.Value == nil {
		return sample.NewNull()
	}

	v := dv.Value.Value()
	switch x := v.(type) {
	case nil:
		return sample.NewNull()
	case bool:
		return sample.NewBool(x)
	case int8:
		return sample.NewInt64(int64(x))
	case int16:
		return sample.NewInt64(int64(x))
	case int32:
		return sample.NewInt64(int64(x))
	case int64:
		return sample.NewInt64(x)
	case uint8:
		return sample.NewUint64(uint64(x))
	case uint16:
		return sample.NewUint64(uint64(x))
	case uint32:
		return sample.NewUint64(uint64(x))
	case uint64:
		return sample.NewUint64(x)
	case float32:
		return sample.NewFloat32(x)
	case float64:
		return sample.NewFloat64(x)
	case string:
		return sample.NewString(x)
	case []byte:
		return sample.NewBytes(x)
	case time.Time:
		return sample.NewTimestamp(x)
	case []bool:
		return arrayOf(x, func(e bool) sample.Value { return sample.NewBool(e) })
	case []int32:
		return arrayOf(x, func(e int32) sample.Value { return sample.NewInt64(int64(e)) })
	case []float64:
		return arrayOf(x, func(e float64) sample.Value { return sample.NewFloat64(e) })
	case []string:
		return arrayOf(x, func(e string) sample.Value { return sample.NewString(e) })
	default:
		return sample.NewString(dv.Value.String())
	}
}

func arrayOf[T any](elems []T, conv func(T) sample.Value) sample.Value {
	out := make([]sample.Value, len(elems))
	for i, e := range elems {
		out[i] = conv(e)
	}
	return sample.NewArray(out)
}

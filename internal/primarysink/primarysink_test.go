package primarysink

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/fieldpulse/daqagent/internal/sample"
)

func TestEncodeValuePrimitivesAreNative(t *testing.T) {
	assert.Equal(t, nil, encodeValue(sample.NewNull()))
	assert.Equal(t, true, encodeValue(sample.NewBool(true)))
	assert.Equal(t, int64(-7), encodeValue(sample.NewInt64(-7)))
	assert.Equal(t, uint64(7), encodeValue(sample.NewUint64(7)))
	assert.Equal(t, float64(1.5), encodeValue(sample.NewFloat32(1.5)))
	assert.Equal(t, 3.14, encodeValue(sample.NewFloat64(3.14)))
	assert.Equal(t, "hello", encodeValue(sample.NewString("hello")))
	assert.Equal(t, []byte{1, 2, 3}, encodeValue(sample.NewBytes([]byte{1, 2, 3})))
}

func TestEncodeValueDecimalIsStringBacked(t *testing.T) {
	assert.Equal(t, "19.99", encodeValue(sample.NewDecimal("19.99")))
}

func TestEncodeValueTimestampIsUTC(t *testing.T) {
	local := time.Now()
	got := encodeValue(sample.NewTimestamp(local))
	asTime, ok := got.(time.Time)
	assert.True(t, ok)
	assert.Equal(t, time.UTC, asTime.Location())
}

func TestEncodeValueUUIDIsCanonicalLowercaseString(t *testing.T) {
	id := uuid.New()
	got := encodeValue(sample.NewUUID(id))
	assert.Equal(t, id.String(), got)
}

func TestEncodeValueArrayRecurses(t *testing.T) {
	v := sample.NewArray([]sample.Value{sample.NewInt64(1), sample.NewString("x")})
	got, ok := encodeValue(v).(bson.A)
	assert.True(t, ok)
	assert.Equal(t, bson.A{int64(1), "x"}, got)
}

func TestEncodeValueUnrecognizedKindIsStringified(t *testing.T) {
	v := sample.Value{Kind: sample.Kind(99)}
	got := encodeValue(v)
	_, isString := got.(string)
	assert.True(t, isString)
}

func TestToDocumentPreservesIdentityAndTimestamps(t *testing.T) {
	src := time.Now().Add(-time.Second)
	srv := time.Now()
	s := sample.Sample{
		ServerID:       "srv-1",
		ServerName:     "Line 3 PLC",
		ReceiveTimeUTC: time.Now().UTC(),
		NodeID:         "ns=2;s=Temperature",
		DisplayName:    "Temperature",
		BrowsePath:     "/Line3/Temperature",
		DataType:       "Float",
		Value:          sample.NewFloat64(72.5),
		SourceTime:     &src,
		ServerTime:     &srv,
		StatusCode:     0,
		Quality:        sample.QualityGood,
	}

	doc := toDocument(s)
	assert.Equal(t, "srv-1", doc.ServerID)
	assert.Equal(t, "ns=2;s=Temperature", doc.NodeID)
	assert.Equal(t, 72.5, doc.Value)
	assert.Equal(t, "good", doc.Quality)
	assert.NotNil(t, doc.SourceTime)
	assert.NotNil(t, doc.ServerTime)
}

func TestWriteEmptyBatchIsNoOp(t *testing.T) {
	s := &Sink{}
	accepted, rejected, err := s.Write(nil, nil)
	assert.NoError(t, err)
	assert.Zero(t, accepted)
	assert.Zero(t, rejected)
}

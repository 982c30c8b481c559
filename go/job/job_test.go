package job

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValue_UnmarshalJSON_Number(t *testing.T) {
	var v Value
	require.NoError(t, json.Unmarshal([]byte("5.25"), &v))
	assert.Equal(t, Value(5.25), v)
	assert.True(t, v.IsRepresentable())
}

func TestValue_UnmarshalJSON_Null(t *testing.T) {
	var v Value
	require.NoError(t, json.Unmarshal([]byte("null"), &v))
	assert.True(t, math.IsNaN(float64(v)))
	assert.False(t, v.IsRepresentable())
}

func TestValue_UnmarshalJSON_NaNString(t *testing.T) {
	var v Value
	require.NoError(t, json.Unmarshal([]byte(`"NaN"`), &v))
	assert.True(t, math.IsNaN(float64(v)))
}

func TestValue_UnmarshalJSON_Invalid(t *testing.T) {
	var v Value
	assert.Error(t, json.Unmarshal([]byte(`"bogus"`), &v))
}

func TestValue_MarshalJSON(t *testing.T) {
	b, err := json.Marshal(Value(1.5))
	require.NoError(t, err)
	assert.Equal(t, "1.5", string(b))

	b, err = json.Marshal(Value(math.NaN()))
	require.NoError(t, err)
	assert.Equal(t, "null", string(b))
}

func TestValue_Infinity(t *testing.T) {
	assert.False(t, Value(math.Inf(1)).IsRepresentable())
	assert.False(t, Value(math.Inf(-1)).IsRepresentable())
}

func TestIsMetricNotFound(t *testing.T) {
	err := &MetricNotFoundError{MetricName: "validate_drp.AM1"}
	assert.True(t, IsMetricNotFound(err))
	assert.False(t, IsMetricNotFound(ErrJobNotFound))
	assert.Contains(t, err.Error(), "validate_drp.AM1")
}

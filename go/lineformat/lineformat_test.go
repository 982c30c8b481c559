package lineformat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSanitize(t *testing.T) {
	assert.Equal(t, "HSC-R", Sanitize("HSC-R"))
	assert.Equal(t, "two_words", Sanitize("two words"))
	assert.Equal(t, `a\,b`, Sanitize("a,b"))
	assert.Equal(t, `a\=b`, Sanitize("a=b"))
	assert.Equal(t, `db\,_name\=x`, Sanitize("db, name=x"))
	assert.Equal(t, "42", Sanitize(42))
}

func TestFormatFloat(t *testing.T) {
	assert.Equal(t, "5.0", FormatFloat(5))
	assert.Equal(t, "0.25", FormatFloat(0.25))
	assert.Equal(t, "-3.0", FormatFloat(-3))
	assert.Equal(t, "1e+20", FormatFloat(1e20))
	assert.Equal(t, "0.0", FormatFloat(0))
}

func TestTimestamp(t *testing.T) {
	ts := time.Date(2021, time.March, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, int64(1614600000000000000), Timestamp(ts))
}

func TestLine(t *testing.T) {
	line := Line("validate_drp", []string{"filter=HSC-R", "tract=8766"}, []string{"AM1=5.2", `url="https://example.com/job/1"`}, 1614600000000000000)
	assert.Equal(t, `validate_drp,filter=HSC-R,tract=8766 AM1=5.2,url="https://example.com/job/1" 1614600000000000000`, line)
}

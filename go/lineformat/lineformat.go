// Package lineformat renders InfluxDB line protocol lines.
//
// See https://docs.influxdata.com/influxdb/v1.8/write_protocols/ for the
// line syntax and the escaping rules implemented here.
package lineformat

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Sanitize makes a value safe for use as a tag key, tag value or field key.
//
// Spaces are replaced with underscores, commas and equal signs are escaped
// with a backslash.
func Sanitize(v interface{}) string {
	s := fmt.Sprint(v)
	s = strings.ReplaceAll(s, " ", "_")
	s = strings.ReplaceAll(s, ",", `\,`)
	s = strings.ReplaceAll(s, "=", `\=`)
	return s
}

// FormatFloat formats a float64 field value. Integral values keep a trailing
// ".0" so that the sink always parses the field as a float.
func FormatFloat(v float64) string {
	s := strconv.FormatFloat(v, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eE") && !strings.Contains(s, "Inf") && s != "NaN" {
		s += ".0"
	}
	return s
}

// Timestamp returns t in nanosecond-precision Unix time, as required by the
// line protocol.
func Timestamp(t time.Time) int64 {
	return t.UnixNano()
}

// Line renders one line for the given series name, tags, fields, and
// timestamp. Tags and fields must already be sanitized and rendered as
// "key=value" tokens.
func Line(series string, tags, fields []string, timestamp int64) string {
	return fmt.Sprintf("%s,%s %s %d", series, strings.Join(tags, ","), strings.Join(fields, ","), timestamp)
}

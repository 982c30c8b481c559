package job

import (
	"errors"
	"fmt"
)

// ErrJobNotFound is returned by Store lookups when no job matches.
var ErrJobNotFound = errors.New("job not found")

// MetricNotFoundError is returned by Store.Create when a measurement
// references a metric that is not in the catalog.
type MetricNotFoundError struct {
	MetricName string
}

func (e *MetricNotFoundError) Error() string {
	return fmt.Sprintf("metric %q not found; it must be registered before measurements reference it", e.MetricName)
}

// IsMetricNotFound returns true if err is a MetricNotFoundError.
func IsMetricNotFound(err error) bool {
	var target *MetricNotFoundError
	return errors.As(err, &target)
}

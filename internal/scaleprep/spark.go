package scaleprep

import (
	"context"

	"github.com/cockroachdb/errors"
)

// PopulateSparkData would clone the spark blackboard rows for each entity id.
// Spark detail tables are not modelled yet, so it always fails rather than
// pretend success.
func (p *Prep) PopulateSparkData(ctx context.Context, numApps int, entityIDs []string) (int, error) {
	return 0, sparkNotImplemented()
}

func sparkNotImplemented() error {
	return errors.WithHint(
		errors.Wrap(ErrNotImplemented, "spark detail tables"),
		"rerun with --event-instances-only to seed spark event instances alone")
}

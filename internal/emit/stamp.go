package emit

import (
	"fmt"
	"strconv"
	"time"

	"github.com/Masterminds/semver/v3"
)

// SourceDateEpochEnv names the reproducible-builds timestamp override.
const SourceDateEpochEnv = "SOURCE_DATE_EPOCH"

// BuildTime returns the timestamp to record in a stamped manifest. When
// SOURCE_DATE_EPOCH is set it wins over the clock.
func BuildTime(getenv func(string) string, now func() time.Time) (time.Time, error) {
	if raw := getenv(SourceDateEpochEnv); raw != "" {
		secs, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid %s %q: %w", SourceDateEpochEnv, raw, err)
		}
		return time.Unix(secs, 0).UTC(), nil
	}
	return now().UTC(), nil
}

// CheckRequires verifies that the manifest schema version satisfies a
// project's semver constraint. An empty constraint accepts any version.
func CheckRequires(constraint string) error {
	if constraint == "" {
		return nil
	}
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return fmt.Errorf("invalid requires constraint %q: %w", constraint, err)
	}
	v := semver.MustParse(SchemaVersion)
	if ok, errs := c.Validate(v); !ok {
		if len(errs) > 0 {
			return fmt.Errorf("manifest schema %s does not satisfy %q: %w", SchemaVersion, constraint, errs[0])
		}
		return fmt.Errorf("manifest schema %s does not satisfy %q", SchemaVersion, constraint)
	}
	return nil
}

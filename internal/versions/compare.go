package versions

import "github.com/Masterminds/semver/v3"

// Satisfies reports whether current is at least minimum.
// A non-semver current (a "dev" build) satisfies every minimum; an invalid
// minimum is never satisfied.
func Satisfies(current, minimum string) bool {
	if minimum == "" {
		return true
	}
	cur, err := semver.NewVersion(current)
	if err != nil {
		return true
	}
	minVer, err := semver.NewVersion(minimum)
	if err != nil {
		return false
	}
	return !minVer.GreaterThan(cur)
}

package rollback

import (
	"fmt"
	"sort"

	"github.com/Masterminds/semver/v3"
)

// PreviousVersion picks the rollback target: the highest release strictly
// below current. Prereleases are skipped; rolling back onto a release
// candidate trades one incident for another.
func PreviousVersion(current string, available []string) (string, error) {
	cur, err := semver.NewVersion(current)
	if err != nil {
		return "", fmt.Errorf("rollback: parse current version %q: %w", current, err)
	}

	var candidates []*semver.Version
	for _, raw := range available {
		v, err := semver.NewVersion(raw)
		if err != nil {
			continue
		}
		if v.Prerelease() != "" {
			continue
		}
		if v.LessThan(cur) {
			candidates = append(candidates, v)
		}
	}
	if len(candidates) == 0 {
		return "", fmt.Errorf("rollback: no version below %s among %d candidates", current, len(available))
	}
	sort.Sort(semver.Collection(candidates))
	return candidates[len(candidates)-1].Original(), nil
}

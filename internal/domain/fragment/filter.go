package fragment

import (
	"strings"

	"github.com/samber/lo"
)

// ValidTripleCut reports whether some fragment of the serialized cut graph
// carries three attachment points.  Three cuts along a path leave two
// two-point fragments and no usable core.
func ValidTripleCut(serialized string) bool {
	return lo.SomeBy(strings.Split(serialized, "."), func(f string) bool {
		return strings.Count(f, "*") >= 3
	})
}

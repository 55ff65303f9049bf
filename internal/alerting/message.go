package alerting

import (
	"fmt"
	"strings"

	"viewpulse/internal/model"
)

const testPrefix = "[TEST] "

// RenderMessage builds the default alert text for an item crossing a tier.
func RenderMessage(item model.TrackedItem, tier model.Tier, rate int64) string {
	return fmt.Sprintf("%s alert for %q: %d views since the last poll (%s threshold %d)",
		strings.ToUpper(tier.String()), item.DisplayName(), rate, tier, item.ThresholdFor(tier))
}

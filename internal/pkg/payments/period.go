package payments

import (
	"time"

	"github.com/marketfit/paygate/app/models"
)

// PeriodEnd computes the end of a billing period from its start. Month and
// year intervals use fixed 30- and 365-day spans per interval count; calendar
// month arithmetic is intentionally not applied so local periods line up with
// the provider's fixed-cycle accounting. Unrecognized intervals fall back to a
// single 30-day period.
func PeriodEnd(start time.Time, interval string, count int) time.Time {
	switch interval {
	case models.PlanIntervalMonth:
		return start.AddDate(0, 0, 30*count)
	case models.PlanIntervalYear:
		return start.AddDate(0, 0, 365*count)
	default:
		return start.AddDate(0, 0, 30)
	}
}

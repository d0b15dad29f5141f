package provider

import (
	"context"
	"net/url"
	"time"

	"github.com/jgoulah/itrontap/pkg/models"
)

// Wire shape for one row of the Interval endpoint. Usage is a pointer
// because the portal publishes placeholder rows with a null usage up to a
// day ahead of real data.
type usageDetailJSON struct {
	Date  string   `json:"Date"`
	Usage *float64 `json:"Usage"`
}

// UsageSince fetches all hourly usage for a service point from the given
// timestamp through now. A nil from falls back to the service point's start
// date, the absolute floor for backfills.
//
// The portal caps each Interval request at one day, so the range is paged
// one calendar day at a time, inclusive on both ends; that bounds each
// response regardless of how long the total range is. Row order within a
// response is not guaranteed and null usage normalizes to zero. A failure
// on any page aborts the whole fetch: the caller retries the full range on
// its next cycle rather than stitching partial results.
func (c *Client) UsageSince(ctx context.Context, sp models.ServicePoint, from *time.Time) ([]models.UsageDetail, error) {
	loc := c.muni.Location()
	floor := sp.StartDate
	if from != nil {
		floor = from.In(loc)
	}
	// Pages are whole calendar days, so the floor drops to midnight;
	// iterating from a later clock time than now's would skip the current
	// day's request entirely.
	day := time.Date(floor.Year(), floor.Month(), floor.Day(), 0, 0, 0, 0, loc)

	var usages []models.UsageDetail
	for ; !day.After(c.Now()); day = day.AddDate(0, 0, 1) {
		query := url.Values{}
		query.Set("servicePointId", sp.ID)
		query.Set("accountId", sp.Account.ID)
		query.Set("skipHours", "0")
		query.Set("takeHours", "24")
		query.Set("endDate", day.Format("2006-01-02"))

		var details []usageDetailJSON
		intervalURL := c.apiURL("UsageData/Interval") + "?" + query.Encode()
		if err := c.getJSON(ctx, "usage interval", intervalURL, &details); err != nil {
			return nil, err
		}

		for _, detail := range details {
			ts, err := c.convertDate(detail.Date)
			if err != nil {
				return nil, &ConnectError{Op: "usage interval", Err: err}
			}
			var usage float64
			if detail.Usage != nil {
				usage = *detail.Usage
			}
			usages = append(usages, models.UsageDetail{Timestamp: ts, Usage: usage})
		}
	}

	c.log.Debug("usage fetched", "service_point", sp.ID, "intervals", len(usages))
	return usages, nil
}

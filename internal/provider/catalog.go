package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/url"

	"github.com/jgoulah/itrontap/pkg/models"
)

// bundleEndDateLayout is the timestamp format the Bundle endpoint expects in
// its endDate query parameter.
const bundleEndDateLayout = "01/02/06 03:04:05 PM"

// Wire shapes for the UserAccounts endpoint. Field names follow the portal's
// JSON exactly.
type userAccountJSON struct {
	AccountKey int    `json:"AccountKey"`
	AccountID  string `json:"AccountID"`
	Customer   struct {
		CustomerFirstName string `json:"CustomerFirstName"`
		CustomerLastName  string `json:"CustomerLastName"`
	} `json:"Customer"`
	ServicePointAccountLinks []servicePointLinkJSON `json:"ServicePointAccountLinks"`
}

type servicePointLinkJSON struct {
	StartDate    string `json:"StartDate"`
	ServicePoint struct {
		ServicePointID string `json:"ServicePointID"`
		TimeZoneID     string `json:"TimeZoneID"`
		CommodityType  string `json:"CommodityType"`
		CommodityType1 struct {
			UsageUnitID  string `json:"UsageUnitID"`
			DemandUnitID string `json:"DemandUnitID"`
		} `json:"CommodityType1"`
		Location struct {
			AddressLine1 string `json:"AddressLine1"`
			AddressLine2 string `json:"AddressLine2"`
			City         string `json:"City"`
			PostalCode   string `json:"PostalCode"`
		} `json:"Location"`
		ServicePointMeterLinks []struct {
			Meter struct {
				MeterNumber string `json:"MeterNumber"`
			} `json:"Meter"`
		} `json:"ServicePointMeterLinks"`
	} `json:"ServicePoint"`
}

// Wire shape for the Bundle endpoint (latest reading + 30-day statistics).
type bundleJSON struct {
	ServicePointID string `json:"ServicePointID"`
	DailyData      struct {
		RecentRegisterRead struct {
			DialReadingValue   json.Number `json:"DialReadingValue"`
			NumberOfBlackDials json.Number `json:"NumberOfBlackDials"`
			ReadingTime        string      `json:"ReadingTime"`
		} `json:"RecentRegisterRead"`
		Statistics struct {
			LowestUsage  statisticsDetailJSON `json:"LowestUsage"`
			HighestUsage statisticsDetailJSON `json:"HighestUsage"`
			AverageUsage statisticsDetailJSON `json:"AverageUsage"`
			LowestFlow   statisticsDetailJSON `json:"LowestFlow"`
			HighestFlow  statisticsDetailJSON `json:"HighestFlow"`
		} `json:"Statistics"`
	} `json:"DailyData"`
}

type statisticsDetailJSON struct {
	WeekdayStatistic statisticsEntryJSON `json:"WeekdayStatistic"`
	WeekendStatistic statisticsEntryJSON `json:"WeekendStatistic"`
	AlldayStatistic  statisticsEntryJSON `json:"AlldayStatistic"`
}

type statisticsEntryJSON struct {
	Value float64 `json:"Value"`
	Date  string  `json:"Date"`
}

// DiscoverServicePoints fetches every account the session can access, the
// service points linked to each, and for each service point a bundle with
// the latest meter reading and the provider's 30-day statistics rollup.
//
// Catalog state is rebuilt in full on every call; there is no incremental
// diffing at this layer. A service point without a linked meter, or an empty
// catalog after a successful call, means the provider contract changed and
// the cycle fails rather than silently writing partial data.
func (c *Client) DiscoverServicePoints(ctx context.Context) ([]models.ServicePoint, error) {
	var accounts []userAccountJSON
	if err := c.getJSON(ctx, "user accounts", c.apiURL("Account/UserAccounts"), &accounts); err != nil {
		return nil, err
	}

	endDate := c.Now().Format(bundleEndDateLayout)

	var points []models.ServicePoint
	for _, ua := range accounts {
		account := models.Account{
			Key: ua.AccountKey,
			ID:  ua.AccountID,
			Customer: models.Customer{
				FirstName: ua.Customer.CustomerFirstName,
				LastName:  ua.Customer.CustomerLastName,
			},
		}

		for _, link := range ua.ServicePointAccountLinks {
			sp, err := c.buildServicePoint(ctx, account, link, endDate)
			if err != nil {
				return nil, err
			}
			points = append(points, sp)
		}
	}

	if len(points) == 0 {
		return nil, &ConnectError{
			Op:  "catalog",
			Err: fmt.Errorf("portal returned no service points for the account"),
		}
	}

	c.log.Debug("catalog discovered", "service_points", len(points))
	return points, nil
}

func (c *Client) buildServicePoint(ctx context.Context, account models.Account, link servicePointLinkJSON, endDate string) (models.ServicePoint, error) {
	point := link.ServicePoint
	if len(point.ServicePointMeterLinks) == 0 {
		return models.ServicePoint{}, &ConnectError{
			Op:  "catalog",
			Err: fmt.Errorf("service point %s has no linked meter", point.ServicePointID),
		}
	}

	unit := models.UnitUnsupported
	if point.CommodityType1.UsageUnitID == "GAL" {
		unit = models.UnitGallon
	}
	meterType := models.MeterTypeUnsupported
	if point.CommodityType == "Water" {
		meterType = models.MeterTypeWater
	}

	query := url.Values{}
	query.Set("accountId", account.ID)
	query.Set("servicepointid", point.ServicePointID)
	query.Set("endDate", endDate)

	var bundles []bundleJSON
	bundleURL := c.apiURL("UsageData/Bundle") + "?" + query.Encode()
	if err := c.getJSON(ctx, "usage bundle", bundleURL, &bundles); err != nil {
		return models.ServicePoint{}, err
	}
	if len(bundles) == 0 {
		return models.ServicePoint{}, &ConnectError{
			Op:  "usage bundle",
			Err: fmt.Errorf("no bundle returned for service point %s", point.ServicePointID),
		}
	}

	// The portal returns one bundle per service point queried; take the one
	// matching this service point and refuse mismatches.
	bundle := bundles[0]
	if bundle.ServicePointID != point.ServicePointID {
		return models.ServicePoint{}, &ConnectError{
			Op:  "usage bundle",
			Err: fmt.Errorf("bundle for service point %s does not match requested %s", bundle.ServicePointID, point.ServicePointID),
		}
	}

	meter, err := c.buildMeter(point.ServicePointMeterLinks[0].Meter.MeterNumber, meterType, bundle)
	if err != nil {
		return models.ServicePoint{}, &ConnectError{Op: "usage bundle", Err: err}
	}

	startDate, err := c.convertDate(link.StartDate)
	if err != nil {
		return models.ServicePoint{}, &ConnectError{Op: "catalog", Err: err}
	}

	return models.ServicePoint{
		ID:        point.ServicePointID,
		Timezone:  point.TimeZoneID,
		StartDate: startDate,
		Meter:     meter,
		Location: models.Location{
			Address: fmt.Sprintf("%s %s", point.Location.AddressLine1, point.Location.AddressLine2),
			City:    point.Location.City,
			Zip:     point.Location.PostalCode,
		},
		Commodity: models.Commodity{
			Type:   point.CommodityType,
			Unit:   unit,
			Demand: point.CommodityType1.DemandUnitID,
		},
		Account: account,
	}, nil
}

func (c *Client) buildMeter(meterNumber string, meterType models.MeterType, bundle bundleJSON) (models.Meter, error) {
	read := bundle.DailyData.RecentRegisterRead

	dial, err := read.DialReadingValue.Float64()
	if err != nil {
		return models.Meter{}, fmt.Errorf("dial reading for meter %s: %w", meterNumber, err)
	}
	blackDials, err := read.NumberOfBlackDials.Float64()
	if err != nil {
		return models.Meter{}, fmt.Errorf("black dial count for meter %s: %w", meterNumber, err)
	}

	readingTime, err := c.convertDate(read.ReadingTime)
	if err != nil {
		return models.Meter{}, fmt.Errorf("reading time for meter %s: %w", meterNumber, err)
	}

	stats, err := c.buildStatistics(bundle.DailyData.Statistics.LowestUsage,
		bundle.DailyData.Statistics.HighestUsage,
		bundle.DailyData.Statistics.AverageUsage,
		bundle.DailyData.Statistics.LowestFlow,
		bundle.DailyData.Statistics.HighestFlow)
	if err != nil {
		return models.Meter{}, fmt.Errorf("statistics for meter %s: %w", meterNumber, err)
	}

	// Blacked-out dials are decimal places the register does not display,
	// so the raw value is scaled down by their count.
	return models.Meter{
		ID:         meterNumber,
		Type:       meterType,
		Reading:    dial / math.Pow(10, blackDials),
		Timestamp:  readingTime,
		Statistics: stats,
	}, nil
}

func (c *Client) buildStatistics(lowestUsage, highestUsage, averageUsage, lowestFlow, highestFlow statisticsDetailJSON) (models.Statistics, error) {
	var stats models.Statistics
	var err error
	if stats.LowestUsage, err = c.convertStatisticsDetail(lowestUsage); err != nil {
		return stats, err
	}
	if stats.HighestUsage, err = c.convertStatisticsDetail(highestUsage); err != nil {
		return stats, err
	}
	if stats.AverageUsage, err = c.convertStatisticsDetail(averageUsage); err != nil {
		return stats, err
	}
	if stats.LowestFlow, err = c.convertStatisticsDetail(lowestFlow); err != nil {
		return stats, err
	}
	if stats.HighestFlow, err = c.convertStatisticsDetail(highestFlow); err != nil {
		return stats, err
	}
	return stats, nil
}

func (c *Client) convertStatisticsDetail(raw statisticsDetailJSON) (models.StatisticsDetail, error) {
	var detail models.StatisticsDetail
	var err error
	if detail.Weekday, err = c.convertStatisticsEntry(raw.WeekdayStatistic); err != nil {
		return detail, err
	}
	if detail.Weekend, err = c.convertStatisticsEntry(raw.WeekendStatistic); err != nil {
		return detail, err
	}
	if detail.Allday, err = c.convertStatisticsEntry(raw.AlldayStatistic); err != nil {
		return detail, err
	}
	return detail, nil
}

func (c *Client) convertStatisticsEntry(raw statisticsEntryJSON) (models.StatisticsEntry, error) {
	ts, err := c.convertDate(raw.Date)
	if err != nil {
		return models.StatisticsEntry{}, err
	}
	return models.StatisticsEntry{Value: raw.Value, Timestamp: ts}, nil
}

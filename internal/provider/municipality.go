package provider

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// Municipality holds the connection facts for one Itron-hosted utility
// portal. Records are static and registered once at process start.
type Municipality struct {
	Name     string // distinct recognizable display name
	Code     string // short code, e.g. "lcpw"
	Timezone string // IANA zone all provider timestamps are local to
	BaseURL  string // host and path prefix for the portal API

	loc     *time.Location
	locOnce sync.Once
}

// Location returns the municipality's timezone, loading it on first use.
// Zone names in the table are known-good, so a load failure falls back to
// UTC rather than failing every timestamp conversion.
func (m *Municipality) Location() *time.Location {
	m.locOnce.Do(func() {
		loc, err := time.LoadLocation(m.Timezone)
		if err != nil {
			loc = time.UTC
		}
		m.loc = loc
	})
	return m.loc
}

// municipalities is the full table of supported portals. A static table
// keeps the set enumerable with no registration order to reason about.
var municipalities = []*Municipality{
	{
		Name:     "City Of Bismarck Public Works",
		Code:     "bism",
		Timezone: "America/Chicago",
		BaseURL:  "bism-p-ia-wb.itron-hosting.com/AnalyticsCustomerPortal_BISM_PROD",
	},
	{
		Name:     "Lake County Illinois Public Works",
		Code:     "lcpw",
		Timezone: "America/Chicago",
		BaseURL:  "lcpw-p-ia-wb1.itron-hosting.com/AnalyticsCustomerPortal_LCPW_PROD",
	},
}

// ResolveMunicipality finds a municipality by display name or short code,
// case-insensitively.
func ResolveMunicipality(name string) (*Municipality, error) {
	for _, m := range municipalities {
		if strings.EqualFold(name, m.Name) || strings.EqualFold(name, m.Code) {
			return m, nil
		}
	}
	return nil, &NotFoundError{Name: name}
}

// MunicipalityNames returns the display names of all supported
// municipalities, sorted.
func MunicipalityNames() []string {
	names := make([]string, 0, len(municipalities))
	for _, m := range municipalities {
		names = append(names, m.Name)
	}
	sort.Strings(names)
	return names
}

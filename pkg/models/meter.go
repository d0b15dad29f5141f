package models

import "time"

// MeterType is the commodity the meter measures.
type MeterType string

const (
	MeterTypeWater       MeterType = "WATER"
	MeterTypeGas         MeterType = "GAS"
	MeterTypeElectric    MeterType = "ELEC"
	MeterTypeUnsupported MeterType = "UNSUPPORTED"
)

// UnitOfMeasure is the unit the provider reports usage in. Gallon for water,
// kWh for electricity, Therm/CCF for gas.
type UnitOfMeasure string

const (
	UnitKWH         UnitOfMeasure = "KWH"
	UnitTherm       UnitOfMeasure = "THERM"
	UnitCCF         UnitOfMeasure = "CCF"
	UnitGallon      UnitOfMeasure = "GALLON"
	UnitUnsupported UnitOfMeasure = "UNSUPPORTED"
)

// Account identifies a customer account at the utility.
type Account struct {
	Key      int    `json:"key"`
	ID       string `json:"id"`
	Customer Customer
}

// Customer holds the account holder's name, rarely used beyond display.
type Customer struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// Commodity describes what a service point tracks: the commodity type tag,
// its usage unit, and the demand unit string the provider reports.
type Commodity struct {
	Type   string        `json:"type"`
	Unit   UnitOfMeasure `json:"unit"`
	Demand string        `json:"demand"`
}

// Location is the street address of a service point.
type Location struct {
	Address string `json:"address"`
	City    string `json:"city"`
	Zip     string `json:"zip"`
}

// StatisticsEntry is one provider-computed statistic value with the time it
// was observed.
type StatisticsEntry struct {
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// StatisticsDetail groups a statistic by weekday/weekend/allday.
type StatisticsDetail struct {
	Weekday StatisticsEntry `json:"weekday"`
	Weekend StatisticsEntry `json:"weekend"`
	Allday  StatisticsEntry `json:"allday"`
}

// Statistics is the provider's 30-day rollup attached to a meter. Read-only;
// rebuilt in full on every catalog fetch.
type Statistics struct {
	LowestUsage  StatisticsDetail `json:"lowest_usage"`
	HighestUsage StatisticsDetail `json:"highest_usage"`
	AverageUsage StatisticsDetail `json:"average_usage"`
	LowestFlow   StatisticsDetail `json:"lowest_flow"`
	HighestFlow  StatisticsDetail `json:"highest_flow"`
}

// Meter is one physical meter with its latest cumulative dial reading.
// Reading is already scaled by the dial's decimal-place count.
type Meter struct {
	ID         string     `json:"id"`
	Type       MeterType  `json:"type"`
	Reading    float64    `json:"reading"`
	Timestamp  time.Time  `json:"timestamp"`
	Statistics Statistics `json:"statistics"`
}

// ServicePoint is one physical meter/connection tracked by the provider.
// StartDate is the earliest known activation and acts as the backfill floor
// when no checkpoint exists yet.
type ServicePoint struct {
	ID        string    `json:"id"`
	Timezone  string    `json:"timezone"`
	StartDate time.Time `json:"start_date"`
	Meter     Meter     `json:"meter"`
	Location  Location  `json:"location"`
	Commodity Commodity `json:"commodity"`
	Account   Account   `json:"account"`
}

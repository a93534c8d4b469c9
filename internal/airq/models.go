package airq

import (
	"fmt"
	"time"
)

// Kind identifies which OpenAQ resource an artifact holds; it decides the
// endpoint, the clean schema and the destination table.
type Kind string

const (
	KindCountry         Kind = "country"
	KindLocation        Kind = "location"
	KindLocationSensors Kind = "location_sensors"
	KindLocationLatest  Kind = "location_latest"
	KindParameters      Kind = "parameters"
)

// Kinds lists every kind, longest name first so that prefix matching on
// filenames never confuses "location" with "location_sensors".
var Kinds = []Kind{
	KindLocationSensors,
	KindLocationLatest,
	KindParameters,
	KindLocation,
	KindCountry,
}

// ParseKind maps a user supplied name onto a Kind.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown entity kind %q", s)
}

// HasEntityID reports whether artifacts of this kind are tied to one entity id.
func (k Kind) HasEntityID() bool {
	return k != KindParameters
}

// Table is the destination table for clean artifacts of this kind.
func (k Kind) Table() string {
	switch k {
	case KindCountry:
		return "countries"
	case KindLocation:
		return "locations"
	case KindLocationSensors:
		return "sensors"
	case KindLocationLatest:
		return "measurements"
	case KindParameters:
		return "parameters"
	default:
		return ""
	}
}

// Columns is the exact, ordered column contract shared by the transformer
// output and the loader input.
func (k Kind) Columns() []string {
	switch k {
	case KindCountry:
		return []string{"id", "name"}
	case KindLocation:
		return []string{"id", "name", "latitude", "longitude", "country_id"}
	case KindLocationSensors:
		return []string{"id", "location_id", "parameter_id"}
	case KindLocationLatest:
		return []string{"datetime", "sensor_id", "value"}
	case KindParameters:
		return []string{"id", "units", "name", "description"}
	default:
		return nil
	}
}

// Row is one clean record ready to be appended to its table.
type Row interface {
	Values() ([]any, error)
}

// CountryRow is one row of the countries table.
type CountryRow struct {
	ID   int64  `parquet:"id"`
	Name string `parquet:"name"`
}

// Values returns the row in Columns order.
func (r CountryRow) Values() ([]any, error) {
	return []any{r.ID, r.Name}, nil
}

// LocationRow is one row of the locations table.
type LocationRow struct {
	ID        int64   `parquet:"id"`
	Name      string  `parquet:"name"`
	Latitude  float64 `parquet:"latitude"`
	Longitude float64 `parquet:"longitude"`
	CountryID int64   `parquet:"country_id"`
}

// Values returns the row in Columns order.
func (r LocationRow) Values() ([]any, error) {
	return []any{r.ID, r.Name, r.Latitude, r.Longitude, r.CountryID}, nil
}

// SensorRow links a sensor to its location and parameter.
type SensorRow struct {
	ID          int64 `parquet:"id"`
	LocationID  int64 `parquet:"location_id"`
	ParameterID int64 `parquet:"parameter_id"`
}

// Values returns the row in Columns order.
func (r SensorRow) Values() ([]any, error) {
	return []any{r.ID, r.LocationID, r.ParameterID}, nil
}

// MeasurementRow keeps the upstream UTC timestamp as text; it is parsed when
// the row is written to the database.
type MeasurementRow struct {
	Datetime string  `parquet:"datetime"`
	SensorID int64   `parquet:"sensor_id"`
	Value    float64 `parquet:"value"`
}

// Values returns the row in Columns order with the datetime parsed.
func (r MeasurementRow) Values() ([]any, error) {
	ts, err := time.Parse(time.RFC3339, r.Datetime)
	if err != nil {
		return nil, fmt.Errorf("datetime %q: %w", r.Datetime, err)
	}
	return []any{ts.UTC(), r.SensorID, r.Value}, nil
}

// ParameterRow is one entry of the parameter catalogue.
type ParameterRow struct {
	ID          int64  `parquet:"id"`
	Units       string `parquet:"units"`
	Name        string `parquet:"name"`
	Description string `parquet:"description"`
}

// Values returns the row in Columns order.
func (r ParameterRow) Values() ([]any, error) {
	return []any{r.ID, r.Units, r.Name, r.Description}, nil
}

package transform

import (
	"fmt"
	"strconv"
	"time"

	"github.com/i474232898/airq-ingestion/internal/airq"
)

// Upstream record shapes. Every field the projection reads is a pointer tagged
// required, so an absent or null value fails validation instead of silently
// becoming a zero.

type countryRecord struct {
	ID   *int64  `json:"id" validate:"required"`
	Name *string `json:"name" validate:"required"`
}

func projectCountry(r countryRecord, _ airq.ArtifactName) (airq.CountryRow, error) {
	return airq.CountryRow{ID: *r.ID, Name: *r.Name}, nil
}

type locationRecord struct {
	ID          *int64  `json:"id" validate:"required"`
	Name        *string `json:"name" validate:"required"`
	Coordinates *struct {
		Latitude  *float64 `json:"latitude" validate:"required"`
		Longitude *float64 `json:"longitude" validate:"required"`
	} `json:"coordinates" validate:"required"`
	Country *struct {
		ID *int64 `json:"id" validate:"required"`
	} `json:"country" validate:"required"`
}

func projectLocation(r locationRecord, _ airq.ArtifactName) (airq.LocationRow, error) {
	return airq.LocationRow{
		ID:        *r.ID,
		Name:      *r.Name,
		Latitude:  *r.Coordinates.Latitude,
		Longitude: *r.Coordinates.Longitude,
		CountryID: *r.Country.ID,
	}, nil
}

type sensorRecord struct {
	ID        *int64 `json:"id" validate:"required"`
	Parameter *struct {
		ID *int64 `json:"id" validate:"required"`
	} `json:"parameter" validate:"required"`
}

// projectSensor takes the location id from the artifact name: the sensors
// endpoint does not repeat it in the records.
func projectSensor(r sensorRecord, name airq.ArtifactName) (airq.SensorRow, error) {
	locationID, err := strconv.ParseInt(name.EntityID, 10, 64)
	if err != nil {
		return airq.SensorRow{}, fmt.Errorf("location id %q from filename: %w", name.EntityID, err)
	}
	return airq.SensorRow{
		ID:          *r.ID,
		LocationID:  locationID,
		ParameterID: *r.Parameter.ID,
	}, nil
}

type measurementRecord struct {
	Datetime *struct {
		UTC *string `json:"utc" validate:"required"`
	} `json:"datetime" validate:"required"`
	SensorsID *int64   `json:"sensorsId" validate:"required"`
	Value     *float64 `json:"value" validate:"required"`
}

func projectMeasurement(r measurementRecord, _ airq.ArtifactName) (airq.MeasurementRow, error) {
	ts, err := time.Parse(time.RFC3339, *r.Datetime.UTC)
	if err != nil {
		return airq.MeasurementRow{}, fmt.Errorf("datetime.utc %q: %w", *r.Datetime.UTC, err)
	}
	return airq.MeasurementRow{
		Datetime: ts.UTC().Format(time.RFC3339),
		SensorID: *r.SensorsID,
		Value:    *r.Value,
	}, nil
}

type parameterRecord struct {
	ID          *int64  `json:"id" validate:"required"`
	Units       *string `json:"units" validate:"required"`
	DisplayName *string `json:"displayName" validate:"required"`
	Description *string `json:"description" validate:"required"`
}

func projectParameter(r parameterRecord, _ airq.ArtifactName) (airq.ParameterRow, error) {
	return airq.ParameterRow{
		ID:          *r.ID,
		Units:       *r.Units,
		Name:        *r.DisplayName,
		Description: *r.Description,
	}, nil
}

package transform

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/i474232898/airq-ingestion/internal/airq"
)

var capturedAt = time.Date(2024, 3, 5, 14, 0, 0, 0, time.UTC)

type fixture struct {
	t   *testing.T
	raw string
	tr  *Transformer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	raw := filepath.Join(dir, "raw")
	require.NoError(t, os.MkdirAll(raw, 0o755))
	tr, err := New(raw, filepath.Join(dir, "clean"), zaptest.NewLogger(t))
	require.NoError(t, err)
	return &fixture{t: t, raw: raw, tr: tr}
}

func (f *fixture) writeRaw(kind airq.Kind, id, body string) string {
	f.t.Helper()
	path := filepath.Join(f.raw, airq.ArtifactName{Kind: kind, EntityID: id, CapturedAt: capturedAt}.Raw())
	require.NoError(f.t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func readClean[T any](t *testing.T, path string) []T {
	t.Helper()
	rows, err := parquet.ReadFile[T](path)
	require.NoError(t, err)
	return rows
}

func TestTransformCountry(t *testing.T) {
	f := newFixture(t)
	raw := f.writeRaw(airq.KindCountry, "42", `{"meta":{},"results":[{"id":42,"code":"TV","name":"Testville"}]}`)

	res, err := f.tr.Transform(airq.KindCountry, raw)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Rows)
	assert.Equal(t, "country_42_20240305T140000Z.parquet", filepath.Base(res.Path))
	assert.Equal(t, []airq.CountryRow{{ID: 42, Name: "Testville"}}, readClean[airq.CountryRow](t, res.Path))
}

func TestTransformLocation(t *testing.T) {
	f := newFixture(t)
	raw := f.writeRaw(airq.KindLocation, "8118", `{"results":[{
		"id":8118,"name":"Station A",
		"coordinates":{"latitude":52.1,"longitude":4.3},
		"country":{"id":42,"code":"TV"}
	}]}`)

	res, err := f.tr.Transform(airq.KindLocation, raw)
	require.NoError(t, err)
	assert.Equal(t, []airq.LocationRow{{
		ID: 8118, Name: "Station A", Latitude: 52.1, Longitude: 4.3, CountryID: 42,
	}}, readClean[airq.LocationRow](t, res.Path))
}

func TestTransformSensorsTakesLocationFromFilename(t *testing.T) {
	f := newFixture(t)
	raw := f.writeRaw(airq.KindLocationSensors, "8118", `{"results":[
		{"id":1,"name":"pm25 µg/m³","parameter":{"id":2,"name":"pm25"}},
		{"id":3,"parameter":{"id":5}}
	]}`)

	res, err := f.tr.Transform(airq.KindLocationSensors, raw)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Rows)
	assert.Equal(t, []airq.SensorRow{
		{ID: 1, LocationID: 8118, ParameterID: 2},
		{ID: 3, LocationID: 8118, ParameterID: 5},
	}, readClean[airq.SensorRow](t, res.Path))
}

func TestTransformLatestNormalizesDatetime(t *testing.T) {
	f := newFixture(t)
	raw := f.writeRaw(airq.KindLocationLatest, "8118", `{"results":[
		{"datetime":{"utc":"2024-03-05T13:00:00Z","local":"2024-03-05T14:00:00+01:00"},"sensorsId":1,"value":12.5},
		{"datetime":{"utc":"2024-03-05T15:00:00+02:00"},"sensorsId":3,"value":0}
	]}`)

	res, err := f.tr.Transform(airq.KindLocationLatest, raw)
	require.NoError(t, err)
	assert.Equal(t, []airq.MeasurementRow{
		{Datetime: "2024-03-05T13:00:00Z", SensorID: 1, Value: 12.5},
		{Datetime: "2024-03-05T13:00:00Z", SensorID: 3, Value: 0},
	}, readClean[airq.MeasurementRow](t, res.Path))
}

func TestTransformParametersRenamesDisplayName(t *testing.T) {
	f := newFixture(t)
	raw := f.writeRaw(airq.KindParameters, "", `{"results":[
		{"id":2,"name":"pm25","units":"µg/m³","displayName":"PM2.5","description":"Particulate matter"}
	]}`)

	res, err := f.tr.Transform(airq.KindParameters, raw)
	require.NoError(t, err)
	assert.Equal(t, "parameters_20240305T140000Z.parquet", filepath.Base(res.Path))
	assert.Equal(t, []airq.ParameterRow{
		{ID: 2, Units: "µg/m³", Name: "PM2.5", Description: "Particulate matter"},
	}, readClean[airq.ParameterRow](t, res.Path))
}

func TestTransformResolvesBareFilename(t *testing.T) {
	f := newFixture(t)
	raw := f.writeRaw(airq.KindCountry, "1", `{"results":[{"id":1,"name":"One"}]}`)

	res, err := f.tr.Transform(airq.KindCountry, filepath.Base(raw))
	require.NoError(t, err)
	assert.FileExists(t, res.Path)
}

func TestTransformSchemaMatchesColumns(t *testing.T) {
	bodies := map[airq.Kind]string{
		airq.KindCountry:         `{"results":[{"id":1,"name":"x"}]}`,
		airq.KindLocation:        `{"results":[{"id":1,"name":"x","coordinates":{"latitude":1,"longitude":2},"country":{"id":3}}]}`,
		airq.KindLocationSensors: `{"results":[{"id":1,"parameter":{"id":2}}]}`,
		airq.KindLocationLatest:  `{"results":[{"datetime":{"utc":"2024-01-01T00:00:00Z"},"sensorsId":1,"value":1}]}`,
		airq.KindParameters:      `{"results":[{"id":1,"units":"u","displayName":"d","description":"x"}]}`,
	}

	for kind, body := range bodies {
		t.Run(string(kind), func(t *testing.T) {
			f := newFixture(t)
			res, err := f.tr.Transform(kind, f.writeRaw(kind, "7", body))
			require.NoError(t, err)

			file, err := os.Open(res.Path)
			require.NoError(t, err)
			defer file.Close()
			st, err := file.Stat()
			require.NoError(t, err)
			pf, err := parquet.OpenFile(file, st.Size())
			require.NoError(t, err)

			var names []string
			for _, field := range pf.Schema().Fields() {
				names = append(names, field.Name())
			}
			assert.Equal(t, kind.Columns(), names)
		})
	}
}

func TestTransformEmptyResultsFailsForEveryKind(t *testing.T) {
	for _, kind := range airq.Kinds {
		t.Run(string(kind), func(t *testing.T) {
			f := newFixture(t)
			_, err := f.tr.Transform(kind, f.writeRaw(kind, "9", `{"meta":{"found":0},"results":[]}`))
			require.Error(t, err)
			assert.ErrorIs(t, err, airq.ErrValidation)

			stage, ok := airq.StageOf(err)
			require.True(t, ok)
			assert.Equal(t, airq.StageTransform, stage)
			assertNoCleanOutput(t, f)
		})
	}
}

func TestTransformMissingNestedFieldFailsWholeArtifact(t *testing.T) {
	f := newFixture(t)
	raw := f.writeRaw(airq.KindLocation, "5", `{"results":[
		{"id":5,"name":"ok","coordinates":{"latitude":1,"longitude":2},"country":{"id":3}},
		{"id":6,"name":"no lon","coordinates":{"latitude":1},"country":{"id":3}}
	]}`)

	_, err := f.tr.Transform(airq.KindLocation, raw)
	require.Error(t, err)
	assert.ErrorIs(t, err, airq.ErrValidation)
	assert.Contains(t, err.Error(), "record 1")
	assertNoCleanOutput(t, f)
}

func TestTransformNullFieldFails(t *testing.T) {
	f := newFixture(t)
	raw := f.writeRaw(airq.KindParameters, "", `{"results":[{"id":1,"units":"u","displayName":null,"description":"x"}]}`)

	_, err := f.tr.Transform(airq.KindParameters, raw)
	assert.ErrorIs(t, err, airq.ErrValidation)
	assertNoCleanOutput(t, f)
}

func TestTransformMissingParentObjectFails(t *testing.T) {
	f := newFixture(t)
	raw := f.writeRaw(airq.KindLocationSensors, "5", `{"results":[{"id":1}]}`)

	_, err := f.tr.Transform(airq.KindLocationSensors, raw)
	assert.ErrorIs(t, err, airq.ErrValidation)
	assertNoCleanOutput(t, f)
}

func TestTransformInvalidJSON(t *testing.T) {
	f := newFixture(t)
	_, err := f.tr.Transform(airq.KindCountry, f.writeRaw(airq.KindCountry, "1", `{"results":[`))
	assert.ErrorIs(t, err, airq.ErrValidation)
	assertNoCleanOutput(t, f)
}

func TestTransformRejectsNameWithoutKindToken(t *testing.T) {
	f := newFixture(t)
	// The file does not exist: the name check must fail before any open.
	_, err := f.tr.Transform(airq.KindCountry, filepath.Join(f.raw, "foo.json"))
	require.Error(t, err)
	assert.ErrorIs(t, err, airq.ErrValidation)
	assert.NotErrorIs(t, err, os.ErrNotExist)
}

func TestTransformRejectsWrongKind(t *testing.T) {
	f := newFixture(t)
	raw := f.writeRaw(airq.KindLocation, "1", `{"results":[]}`)

	_, err := f.tr.Transform(airq.KindCountry, raw)
	assert.ErrorIs(t, err, airq.ErrValidation)
}

func assertNoCleanOutput(t *testing.T, f *fixture) {
	t.Helper()
	entries, err := os.ReadDir(f.tr.cleanDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

package load

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/parquet-go/parquet-go"
	"go.uber.org/zap"

	"github.com/i474232898/airq-ingestion/internal/airq"
)

// Appender is the slice of a database session the loader needs. Append must
// write all rows or none.
type Appender interface {
	Append(ctx context.Context, table string, columns []string, rows [][]any) (int64, error)
}

// Loader appends clean artifacts to their destination tables.
type Loader struct {
	cleanDir string
	log      *zap.Logger
}

func New(cleanDir string, log *zap.Logger) *Loader {
	return &Loader{cleanDir: cleanDir, log: log.Named("loader")}
}

// Load checks the artifact against the column contract of kind and appends
// its rows through db. Nothing reaches the database unless every check
// passes. Rows are never deduplicated.
func (l *Loader) Load(ctx context.Context, db Appender, kind airq.Kind, cleanPath string) (int64, error) {
	name, err := airq.CheckArtifactName(cleanPath, kind, airq.CleanExt)
	if err != nil {
		return 0, l.fail(kind, "", cleanPath, airq.ErrValidation, err)
	}
	path := l.resolve(cleanPath)
	id := name.EntityID

	rows, err := l.read(kind, path)
	if err != nil {
		return 0, l.fail(kind, id, path, airq.ErrValidation, err)
	}

	table := kind.Table()
	n, err := db.Append(ctx, table, kind.Columns(), rows)
	if err != nil {
		return 0, l.fail(kind, id, path, airq.ErrPersistence, fmt.Errorf("append to %s: %w", table, err))
	}

	l.log.Info("loaded rows",
		zap.String("kind", string(kind)),
		zap.String("entity", id),
		zap.String("table", table),
		zap.String("artifact", path),
		zap.Int64("rows", n),
	)
	return n, nil
}

func (l *Loader) read(kind airq.Kind, path string) ([][]any, error) {
	if err := checkSchema(path, kind.Columns()); err != nil {
		return nil, err
	}

	switch kind {
	case airq.KindCountry:
		return readRows[airq.CountryRow](path)
	case airq.KindLocation:
		return readRows[airq.LocationRow](path)
	case airq.KindLocationSensors:
		return readRows[airq.SensorRow](path)
	case airq.KindLocationLatest:
		return readRows[airq.MeasurementRow](path)
	case airq.KindParameters:
		return readRows[airq.ParameterRow](path)
	default:
		return nil, fmt.Errorf("unknown entity kind %q", kind)
	}
}

// checkSchema requires the file columns to equal want in name, order and
// count, and at least one row to be present.
func checkSchema(path string, want []string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open clean artifact: %w", err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat clean artifact: %w", err)
	}
	pf, err := parquet.OpenFile(f, st.Size())
	if err != nil {
		return fmt.Errorf("open parquet: %w", err)
	}

	fields := pf.Schema().Fields()
	got := make([]string, 0, len(fields))
	for _, field := range fields {
		got = append(got, field.Name())
	}
	if !slices.Equal(got, want) {
		return fmt.Errorf("column mismatch: got %v, want %v", got, want)
	}
	if pf.NumRows() == 0 {
		return errors.New("no rows present")
	}
	return nil
}

func readRows[T airq.Row](path string) ([][]any, error) {
	records, err := parquet.ReadFile[T](path)
	if err != nil {
		return nil, fmt.Errorf("read parquet: %w", err)
	}
	out := make([][]any, 0, len(records))
	for i, r := range records {
		vals, err := r.Values()
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		out = append(out, vals)
	}
	return out, nil
}

func (l *Loader) resolve(p string) string {
	if filepath.Base(p) == p {
		return filepath.Join(l.cleanDir, p)
	}
	return p
}

func (l *Loader) fail(kind airq.Kind, id, artifact string, class, err error) error {
	l.log.Error("load failed",
		zap.String("kind", string(kind)),
		zap.String("entity", id),
		zap.String("artifact", artifact),
		zap.Error(err),
	)
	return &airq.StageError{
		Stage:    airq.StageLoad,
		Kind:     kind,
		EntityID: id,
		Artifact: artifact,
		Class:    class,
		Err:      err,
	}
}

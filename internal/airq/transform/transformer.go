package transform

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"github.com/parquet-go/parquet-go"
	"go.uber.org/zap"

	"github.com/i474232898/airq-ingestion/internal/airq"
)

var validate = validator.New()

// Result describes a written clean artifact.
type Result struct {
	Path string
	Rows int
}

// Transformer turns one raw artifact into one parquet table.
type Transformer struct {
	rawDir   string
	cleanDir string
	log      *zap.Logger
}

func New(rawDir, cleanDir string, log *zap.Logger) (*Transformer, error) {
	if err := os.MkdirAll(cleanDir, 0o755); err != nil {
		return nil, fmt.Errorf("create clean dir: %w", err)
	}
	return &Transformer{rawDir: rawDir, cleanDir: cleanDir, log: log.Named("transformer")}, nil
}

// Transform validates the raw artifact at rawPath and writes its clean
// projection. A bare filename is resolved against the raw directory. Nothing
// is written unless every record passes validation.
func (t *Transformer) Transform(kind airq.Kind, rawPath string) (Result, error) {
	switch kind {
	case airq.KindCountry:
		return run(t, kind, rawPath, projectCountry)
	case airq.KindLocation:
		return run(t, kind, rawPath, projectLocation)
	case airq.KindLocationSensors:
		return run(t, kind, rawPath, projectSensor)
	case airq.KindLocationLatest:
		return run(t, kind, rawPath, projectMeasurement)
	case airq.KindParameters:
		return run(t, kind, rawPath, projectParameter)
	default:
		return Result{}, t.fail(kind, "", rawPath, fmt.Errorf("unknown entity kind %q", kind))
	}
}

type envelope[R any] struct {
	Results []R `json:"results"`
}

func run[R any, T any](t *Transformer, kind airq.Kind, rawPath string, project func(R, airq.ArtifactName) (T, error)) (Result, error) {
	// The name is checked before the file is opened.
	name, err := airq.CheckArtifactName(rawPath, kind, airq.RawExt)
	if err != nil {
		return Result{}, t.fail(kind, "", rawPath, err)
	}
	path := t.resolve(rawPath)

	data, err := os.ReadFile(path)
	if err != nil {
		return Result{}, t.fail(kind, name.EntityID, path, fmt.Errorf("read raw artifact: %w", err))
	}

	var env envelope[R]
	if err := json.Unmarshal(data, &env); err != nil {
		return Result{}, t.fail(kind, name.EntityID, path, fmt.Errorf("decode raw artifact: %w", err))
	}
	if len(env.Results) == 0 {
		return Result{}, t.fail(kind, name.EntityID, path, errors.New("no records present"))
	}

	rows := make([]T, 0, len(env.Results))
	for i, rec := range env.Results {
		if err := validate.Struct(rec); err != nil {
			return Result{}, t.fail(kind, name.EntityID, path, fmt.Errorf("record %d: %w", i, err))
		}
		row, err := project(rec, name)
		if err != nil {
			return Result{}, t.fail(kind, name.EntityID, path, fmt.Errorf("record %d: %w", i, err))
		}
		rows = append(rows, row)
	}

	cleanPath := filepath.Join(t.cleanDir, name.Clean())
	if err := writeAtomic(cleanPath, rows); err != nil {
		// Not a data problem: the disk refused the write.
		return Result{}, &airq.StageError{
			Stage:    airq.StageTransform,
			Kind:     kind,
			EntityID: name.EntityID,
			Artifact: path,
			Err:      err,
		}
	}

	t.log.Info("saved clean artifact",
		zap.String("kind", string(kind)),
		zap.String("entity", name.EntityID),
		zap.String("artifact", cleanPath),
		zap.Int("rows", len(rows)),
	)
	return Result{Path: cleanPath, Rows: len(rows)}, nil
}

// writeAtomic writes rows next to path and renames into place, so a failed
// write never leaves a partial table behind.
func writeAtomic[T any](path string, rows []T) error {
	tmp := path + ".tmp"
	if err := parquet.WriteFile(tmp, rows); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write clean artifact: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("publish clean artifact: %w", err)
	}
	return nil
}

func (t *Transformer) resolve(p string) string {
	if filepath.Base(p) == p {
		return filepath.Join(t.rawDir, p)
	}
	return p
}

func (t *Transformer) fail(kind airq.Kind, id, artifact string, err error) error {
	t.log.Error("transform failed",
		zap.String("kind", string(kind)),
		zap.String("entity", id),
		zap.String("artifact", artifact),
		zap.Error(err),
	)
	return &airq.StageError{
		Stage:    airq.StageTransform,
		Kind:     kind,
		EntityID: id,
		Artifact: artifact,
		Class:    airq.ErrValidation,
		Err:      err,
	}
}

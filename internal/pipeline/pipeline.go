package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/i474232898/airq-ingestion/internal/airq"
	"github.com/i474232898/airq-ingestion/internal/airq/load"
	"github.com/i474232898/airq-ingestion/internal/airq/transform"
	"github.com/i474232898/airq-ingestion/internal/metrics"
)

// Pipeline names, as they appear in reports, logs and metrics.
const (
	AddCountry         = "add_country"
	AddLocation        = "add_location"
	AddLocationSensors = "add_location_sensors"
	AddParameters      = "add_parameters"
	HourlyIngestion    = "hourly"
)

// ErrRunInProgress is returned when a run is requested while another run of
// the same Runner has not finished.
var ErrRunInProgress = errors.New("another pipeline run is in progress")

// Fetcher stores one API response as a raw artifact.
type Fetcher interface {
	Fetch(ctx context.Context, kind airq.Kind, id string) (string, error)
}

// Transformer turns one raw artifact into one clean artifact.
type Transformer interface {
	Transform(kind airq.Kind, rawPath string) (transform.Result, error)
}

// Loader appends one clean artifact through a session.
type Loader interface {
	Load(ctx context.Context, db load.Appender, kind airq.Kind, cleanPath string) (int64, error)
}

// Session is the database unit of work shared by every entity of a run.
type Session interface {
	load.Appender
	KnownLocationIDs(ctx context.Context) ([]string, error)
	Close() error
}

// SessionOpener acquires a fresh Session.
type SessionOpener func(ctx context.Context) (Session, error)

// Recorder keeps finished run reports.
type Recorder interface {
	Record(report airq.RunReport)
}

// Deps are the collaborators of a Runner. Metrics and History are optional.
type Deps struct {
	Fetcher     Fetcher
	Transformer Transformer
	Loader      Loader
	OpenSession SessionOpener
	Metrics     *metrics.Metrics
	History     Recorder
}

// Runner chains fetch, transform and load for the supported pipelines. It
// executes one run at a time; a run requested meanwhile is refused with
// ErrRunInProgress.
type Runner struct {
	deps   Deps
	policy Policy
	log    *zap.Logger
	busy   sync.Mutex

	newID func() string
	now   func() time.Time
}

func New(deps Deps, policy Policy, log *zap.Logger) *Runner {
	return &Runner{
		deps:   deps,
		policy: policy,
		log:    log.Named("pipeline"),
		newID:  uuid.NewString,
		now:    time.Now,
	}
}

// AddNewCountry fetches, transforms and loads one country.
func (r *Runner) AddNewCountry(ctx context.Context, countryID string) (airq.RunReport, error) {
	return r.single(ctx, AddCountry, func(ctx context.Context, run *execution) {
		run.entity(ctx, airq.KindCountry, countryID)
	})
}

// AddNewLocation loads one location and then its sensors, inside the same
// session. Sensors are not attempted when the location fails.
func (r *Runner) AddNewLocation(ctx context.Context, locationID string) (airq.RunReport, error) {
	return r.single(ctx, AddLocation, func(ctx context.Context, run *execution) {
		if run.entity(ctx, airq.KindLocation, locationID).OK() {
			run.entity(ctx, airq.KindLocationSensors, locationID)
		}
	})
}

// AddLocationSensors loads the sensors of one location.
func (r *Runner) AddLocationSensors(ctx context.Context, locationID string) (airq.RunReport, error) {
	return r.single(ctx, AddLocationSensors, func(ctx context.Context, run *execution) {
		run.entity(ctx, airq.KindLocationSensors, locationID)
	})
}

// AddParameters loads the full parameter catalogue.
func (r *Runner) AddParameters(ctx context.Context) (airq.RunReport, error) {
	return r.single(ctx, AddParameters, func(ctx context.Context, run *execution) {
		run.entity(ctx, airq.KindParameters, "")
	})
}

// RunHourlyIngestion loads the latest measurements of every known location.
// Entity failures are handled by the runner's Policy: a skipped entity is
// recorded and the batch moves on, an abort stops the batch. The returned
// error is non-nil only for failures outside the stage taxonomy, such as an
// unreachable database or a cancelled context.
func (r *Runner) RunHourlyIngestion(ctx context.Context) (airq.RunReport, error) {
	return r.execute(ctx, HourlyIngestion, func(ctx context.Context, run *execution) error {
		ids, err := run.sess.KnownLocationIDs(ctx)
		if err != nil {
			return fmt.Errorf("list locations: %w", err)
		}
		if len(ids) == 0 {
			run.log.Info("no locations to ingest")
			return nil
		}
		run.log.Info("starting batch", zap.Int("locations", len(ids)))

		for i, id := range ids {
			if err := ctx.Err(); err != nil {
				run.abort(fmt.Sprintf("cancelled before location %s (%d of %d)", id, i+1, len(ids)))
				return err
			}

			o := run.entity(ctx, airq.KindLocationLatest, id)
			if o.OK() {
				continue
			}

			switch r.policy.Decide(o.FailedStage, o.Err) {
			case ActionSkip:
				run.log.Warn("skipping location",
					zap.String("entity", id),
					zap.String("stage", string(o.FailedStage)),
				)
			default:
				run.abort(fmt.Sprintf("location %s failed at %s: %v", id, o.FailedStage, o.Err))
				if airq.Classify(o.Err) == nil {
					return o.Err
				}
				return nil
			}
		}
		return nil
	})
}

// single runs a pipeline for one entity chain. Any stage failure ends it;
// only failures outside the taxonomy are returned as errors.
func (r *Runner) single(ctx context.Context, name string, body func(context.Context, *execution)) (airq.RunReport, error) {
	return r.execute(ctx, name, func(ctx context.Context, run *execution) error {
		body(ctx, run)
		for _, o := range run.report.Outcomes {
			if o.State == airq.StateFailed && airq.Classify(o.Err) == nil {
				return o.Err
			}
		}
		return nil
	})
}

// execute opens one session for the whole run and always closes it.
func (r *Runner) execute(ctx context.Context, name string, body func(context.Context, *execution) error) (report airq.RunReport, err error) {
	if !r.busy.TryLock() {
		r.log.Warn("run refused", zap.String("pipeline", name), zap.Error(ErrRunInProgress))
		return airq.RunReport{Pipeline: name}, ErrRunInProgress
	}
	defer r.busy.Unlock()

	id := r.newID()
	log := r.log.With(zap.String("pipeline", name), zap.String("run_id", id))
	started := r.now()

	run := &execution{
		r:   r,
		log: log,
		report: airq.RunReport{
			ID:        id,
			Pipeline:  name,
			StartedAt: started.UTC(),
		},
	}
	defer func() {
		run.report.FinishedAt = r.now().UTC()
		report = run.report
		r.finish(log, report, r.now().Sub(started), err)
	}()

	sess, err := r.deps.OpenSession(ctx)
	if err != nil {
		run.abort("database session unavailable")
		return report, fmt.Errorf("open session: %w", err)
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			err = multierr.Append(err, fmt.Errorf("close session: %w", cerr))
		}
	}()
	run.sess = sess

	log.Info("pipeline started")
	return report, body(ctx, run)
}

func (r *Runner) finish(log *zap.Logger, report airq.RunReport, took time.Duration, err error) {
	if r.deps.Metrics != nil {
		r.deps.Metrics.ObserveRun(report.Pipeline, took, report.Aborted)
	}
	if r.deps.History != nil {
		r.deps.History.Record(report)
	}

	fields := []zap.Field{
		zap.Int("loaded", report.Loaded()),
		zap.Int("failed", report.Failed()),
		zap.Duration("took", took),
	}
	switch {
	case err != nil:
		log.Error("pipeline stopped", append(fields, zap.Error(err))...)
	case report.Aborted:
		log.Warn("pipeline aborted", append(fields, zap.String("reason", report.AbortReason))...)
	default:
		log.Info("pipeline finished", fields...)
	}
}

// execution is the state of one pipeline invocation.
type execution struct {
	r      *Runner
	log    *zap.Logger
	sess   Session
	report airq.RunReport
}

func (run *execution) abort(reason string) {
	run.report.Aborted = true
	run.report.AbortReason = reason
}

// entity drives one entity from pending to loaded, stopping at the first
// failed stage, and appends its outcome to the report.
func (run *execution) entity(ctx context.Context, kind airq.Kind, id string) airq.Outcome {
	deps := run.r.deps
	o := airq.Outcome{Kind: kind, EntityID: id, State: airq.StatePending}
	defer func() { run.report.Outcomes = append(run.report.Outcomes, o) }()

	raw, err := deps.Fetcher.Fetch(ctx, kind, id)
	run.observe(kind, airq.StageFetch, err)
	if err != nil {
		o.Fail(airq.StageFetch, ensureStage(err, airq.StageFetch, kind, id))
		return o
	}
	o.State, o.RawArtifact = airq.StateFetched, raw

	res, err := deps.Transformer.Transform(kind, raw)
	run.observe(kind, airq.StageTransform, err)
	if err != nil {
		o.Fail(airq.StageTransform, ensureStage(err, airq.StageTransform, kind, id))
		return o
	}
	o.State, o.CleanArtifact = airq.StateTransformed, res.Path

	n, err := deps.Loader.Load(ctx, run.sess, kind, res.Path)
	run.observe(kind, airq.StageLoad, err)
	if err != nil {
		o.Fail(airq.StageLoad, ensureStage(err, airq.StageLoad, kind, id))
		return o
	}
	o.State, o.Rows = airq.StateLoaded, n
	if deps.Metrics != nil {
		deps.Metrics.ObserveRows(kind.Table(), n)
	}

	run.log.Info("entity loaded",
		zap.String("kind", string(kind)),
		zap.String("entity", id),
		zap.Int64("rows", n),
	)
	return o
}

func (run *execution) observe(kind airq.Kind, stage airq.Stage, err error) {
	if m := run.r.deps.Metrics; m != nil {
		m.ObserveStage(string(kind), string(stage), err)
	}
}

// ensureStage wraps errors that do not already carry their stage.
func ensureStage(err error, stage airq.Stage, kind airq.Kind, id string) error {
	var se *airq.StageError
	if errors.As(err, &se) {
		return err
	}
	return &airq.StageError{Stage: stage, Kind: kind, EntityID: id, Err: err}
}

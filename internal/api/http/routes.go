package httpapi

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/i474232898/airq-ingestion/internal/airq"
	"github.com/i474232898/airq-ingestion/internal/pipeline"
	"github.com/i474232898/airq-ingestion/internal/store"
)

var validate = validator.New()

// Pipelines is the set of runs the API can trigger.
type Pipelines interface {
	AddNewCountry(ctx context.Context, countryID string) (airq.RunReport, error)
	AddNewLocation(ctx context.Context, locationID string) (airq.RunReport, error)
	AddLocationSensors(ctx context.Context, locationID string) (airq.RunReport, error)
	AddParameters(ctx context.Context) (airq.RunReport, error)
	RunHourlyIngestion(ctx context.Context) (airq.RunReport, error)
}

// History answers run report queries.
type History interface {
	Latest(pipeline string) (airq.RunReport, error)
	Range(pipeline string, from, to time.Time) ([]airq.RunReport, error)
}

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, pipelines Pipelines, history History) {
	v1 := app.Group("/api/v1")

	v1.Get("/runs/latest", func(c *fiber.Ctx) error {
		report, err := history.Latest(c.Query("pipeline"))
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fiber.NewError(fiber.StatusNotFound, "no runs recorded")
			}
			return fiber.NewError(fiber.StatusInternalServerError, "failed to read run history")
		}
		return c.JSON(report)
	})

	v1.Get("/runs", func(c *fiber.Ctx) error {
		var req runsQuery
		if err := req.bind(c); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		reports, err := history.Range(req.Pipeline, req.From, req.To)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fiber.NewError(fiber.StatusNotFound, "no runs in requested range")
			}
			return fiber.NewError(fiber.StatusInternalServerError, "failed to read run history")
		}
		return c.JSON(fiber.Map{
			"from": req.From,
			"to":   req.To,
			"runs": reports,
		})
	})

	v1.Post("/countries/:id", withEntityID(pipelines.AddNewCountry))
	v1.Post("/locations/:id", withEntityID(pipelines.AddNewLocation))
	v1.Post("/locations/:id/sensors", withEntityID(pipelines.AddLocationSensors))
	v1.Post("/parameters", func(c *fiber.Ctx) error {
		return respond(c)(pipelines.AddParameters(c.UserContext()))
	})
	v1.Post("/ingestions/hourly", func(c *fiber.Ctx) error {
		return respond(c)(pipelines.RunHourlyIngestion(c.UserContext()))
	})
}

// entityParams holds the path parameter of single entity triggers.
type entityParams struct {
	ID string `validate:"required,number"`
}

func withEntityID(run func(context.Context, string) (airq.RunReport, error)) fiber.Handler {
	return func(c *fiber.Ctx) error {
		p := entityParams{ID: c.Params("id")}
		if err := validate.Struct(p); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		return respond(c)(run(c.UserContext(), p.ID))
	}
}

// respond maps a finished run onto a response: 200 when every entity
// loaded, 422 when the run completed with entity failures, 409 when another
// run holds the pipeline, 500 when it stopped on an unexpected error.
func respond(c *fiber.Ctx) func(airq.RunReport, error) error {
	return func(report airq.RunReport, err error) error {
		if errors.Is(err, pipeline.ErrRunInProgress) {
			return fiber.NewError(fiber.StatusConflict, err.Error())
		}
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		if !report.Succeeded() {
			return c.Status(fiber.StatusUnprocessableEntity).JSON(report)
		}
		return c.JSON(report)
	}
}

// runsQuery holds query parameters for the run listing endpoint.
type runsQuery struct {
	Pipeline string
	From     time.Time
	To       time.Time `validate:"gtefield=From"`
}

func (q *runsQuery) bind(c *fiber.Ctx) error {
	q.Pipeline = c.Query("pipeline")
	q.To = time.Now().UTC()

	if s := c.Query("from"); s != "" {
		from, err := parseTime(s)
		if err != nil {
			return err
		}
		q.From = from
	}
	if s := c.Query("to"); s != "" {
		to, err := parseTime(s)
		if err != nil {
			return err
		}
		q.To = to
	}
	return nil
}

// parseTime tries to parse either RFC3339 or Unix seconds.
func parseTime(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts, nil
	}
	if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(unix, 0).UTC(), nil
	}
	return time.Time{}, errors.New("invalid time format; use RFC3339 or unix seconds")
}

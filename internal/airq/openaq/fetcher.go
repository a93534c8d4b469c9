package openaq

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/i474232898/airq-ingestion/internal/airq"
)

const apiKeyHeader = "X-API-KEY"

// Config is what a Fetcher needs from the process configuration.
type Config struct {
	BaseURL string
	APIKey  string
	RawDir  string
	Backoff BackoffConfig
}

// Fetcher calls one OpenAQ endpoint for one entity and stores the response
// body verbatim as a raw artifact.
type Fetcher struct {
	baseURL string
	apiKey  string
	rawDir  string
	httpCfg HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
	log     *zap.Logger

	// now is swapped in tests to pin artifact timestamps.
	now func() time.Time
}

func NewFetcher(client *http.Client, cfg Config, log *zap.Logger) (*Fetcher, error) {
	if err := os.MkdirAll(cfg.RawDir, 0o755); err != nil {
		return nil, fmt.Errorf("create raw dir: %w", err)
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "openaq",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     2 * time.Minute,
		// A 404 for one entity says nothing about the health of the API.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, errUnexpected)
		},
	})

	return &Fetcher{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		rawDir:  cfg.RawDir,
		httpCfg: HTTPClientConfig{
			Client:  client,
			Backoff: cfg.Backoff,
		},
		circuit: cb,
		log:     log.Named("fetcher"),
		now:     time.Now,
	}, nil
}

// Endpoint returns the API path serving the given kind. The id is checked
// before it is used in the path.
func Endpoint(kind airq.Kind, id string) (string, error) {
	if err := airq.CheckEntityID(kind, id); err != nil {
		return "", err
	}
	switch kind {
	case airq.KindCountry:
		return "/countries/" + id, nil
	case airq.KindLocation:
		return "/locations/" + id, nil
	case airq.KindLocationSensors:
		return "/locations/" + id + "/sensors", nil
	case airq.KindLocationLatest:
		return "/locations/" + id + "/latest", nil
	case airq.KindParameters:
		return "/parameters", nil
	default:
		return "", fmt.Errorf("unknown entity kind %q", kind)
	}
}

// Fetch performs one GET and writes {kind}_{id}_{timestamp}.json under the raw
// directory. It returns the artifact path. On any network or HTTP failure no
// file is created and the error is classified as airq.ErrTransport.
func (f *Fetcher) Fetch(ctx context.Context, kind airq.Kind, id string) (string, error) {
	endpoint, err := Endpoint(kind, id)
	if err != nil {
		return "", f.fail(kind, id, airq.ErrValidation, err)
	}
	u := f.baseURL + endpoint

	f.log.Info("fetching", zap.String("kind", string(kind)), zap.String("entity", id), zap.String("url", u))

	body, err := doRequestWithResilience(ctx, f.httpCfg, f.circuit, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set(apiKeyHeader, f.apiKey)
		req.Header.Set("Accept", "application/json")
		return req, nil
	})
	if err != nil {
		return "", f.fail(kind, id, airq.ErrTransport, err)
	}

	name := airq.ArtifactName{Kind: kind, EntityID: id, CapturedAt: f.now().UTC()}
	path := filepath.Join(f.rawDir, name.Raw())

	// O_EXCL: an artifact is never overwritten.
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", f.fail(kind, id, nil, fmt.Errorf("create raw artifact: %w", err))
	}
	if _, err := file.Write(body); err != nil {
		_ = file.Close()
		_ = os.Remove(path)
		return "", f.fail(kind, id, nil, fmt.Errorf("write raw artifact: %w", err))
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(path)
		return "", f.fail(kind, id, nil, fmt.Errorf("close raw artifact: %w", err))
	}

	f.log.Info("saved raw artifact",
		zap.String("kind", string(kind)),
		zap.String("entity", id),
		zap.String("artifact", path),
		zap.Int("bytes", len(body)),
	)
	return path, nil
}

func (f *Fetcher) fail(kind airq.Kind, id string, class, err error) error {
	f.log.Error("fetch failed",
		zap.String("kind", string(kind)),
		zap.String("entity", id),
		zap.Error(err),
	)
	return &airq.StageError{
		Stage:    airq.StageFetch,
		Kind:     kind,
		EntityID: id,
		Class:    class,
		Err:      err,
	}
}

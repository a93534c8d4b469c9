package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/airq-ingestion/internal/airq"
)

// setEnv points the app at dataDir and at a database nobody listens on.
func setEnv(t *testing.T, apiBase string) string {
	t.Helper()
	dataDir := t.TempDir()
	t.Setenv("API_KEY", "test-key")
	t.Setenv("DATA_DIR", dataDir)
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("DB_DRIVER", "pgx")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", "1")
	if apiBase != "" {
		t.Setenv("OPENAQ_API_BASE", apiBase)
	}
	return dataDir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestFetchAndTransformWorkWithoutDatabase(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/countries/42", r.URL.Path)
		_, _ = w.Write([]byte(`{"results":[{"id":42,"name":"Testville"}]}`))
	}))
	defer srv.Close()
	dataDir := setEnv(t, srv.URL)

	out, err := execute(t, "fetch", "--kind", "country", "--id", "42")
	require.NoError(t, err)
	rawPath := strings.TrimSpace(out)
	assert.Equal(t, filepath.Join(dataDir, "raw"), filepath.Dir(rawPath))
	assert.FileExists(t, rawPath)

	out, err = execute(t, "transform", "--kind", "country", "--file", filepath.Base(rawPath))
	require.NoError(t, err)
	assert.Contains(t, out, "(1 rows)")

	// The load stage does need the database.
	cleanName := strings.TrimSuffix(filepath.Base(rawPath), airq.RawExt) + airq.CleanExt
	assert.FileExists(t, filepath.Join(dataDir, "clean", cleanName))
	_, err = execute(t, "load", "--kind", "country", "--file", cleanName)
	assert.ErrorContains(t, err, "connect database")
}

func TestFetchRejectsMalformedID(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()
	dataDir := setEnv(t, srv.URL)

	for _, id := range []string{"-1", "1.5", "1_2", "../x"} {
		_, err := execute(t, "fetch", "--kind", "location", "--id", id)
		assert.ErrorIs(t, err, airq.ErrValidation, id)
	}
	assert.Zero(t, hits.Load())

	entries, err := os.ReadDir(dataDir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.Contains(t, []string{"raw", "clean"}, e.Name())
	}
	raw, err := os.ReadDir(filepath.Join(dataDir, "raw"))
	require.NoError(t, err)
	assert.Empty(t, raw)
}

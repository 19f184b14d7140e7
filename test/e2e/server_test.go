package e2e

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/linksapi/links/internal/app"
	"github.com/linksapi/links/internal/config"
)

// testApp holds a running application for e2e testing.
type testApp struct {
	server  *httptest.Server
	cleanup func()
}

func testConfig(storage config.StorageConfig) *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Host:            "127.0.0.1",
			Port:            "0",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Storage: storage,
		App: config.AppConfig{
			Name:        "links-test",
			Version:     "test",
			Environment: "test",
			LogLevel:    "error",
		},
		CORS:   config.CORSConfig{Origins: []string{"*"}},
		Search: config.SearchConfig{Endpoint: "http://127.0.0.1:1", Timeout: time.Second},
	}
}

func startApp(t *testing.T, storage config.StorageConfig) *testApp {
	t.Helper()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	a, err := app.Build(context.Background(), testConfig(storage), logger)
	if err != nil {
		t.Fatalf("failed to build app: %v", err)
	}

	srv := httptest.NewServer(a.Server.Handler())
	return &testApp{
		server: srv,
		cleanup: func() {
			srv.Close()
			if err := a.Shutdown(); err != nil {
				t.Errorf("failed to shut down app: %v", err)
			}
		},
	}
}

// setupFileApp runs the application on the JSON file backend.
func setupFileApp(t *testing.T) *testApp {
	return startApp(t, config.StorageConfig{DataFile: filepath.Join(t.TempDir(), "links.json")})
}

// setupSQLiteApp runs the application on a local SQLite database.
func setupSQLiteApp(t *testing.T) *testApp {
	return startApp(t, config.StorageConfig{DatabaseURL: "sqlite://" + filepath.Join(t.TempDir(), "links.db")})
}

// setupPostgresApp runs the application on a PostgreSQL container.
func setupPostgresApp(t *testing.T) *testApp {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres e2e tests in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get connection string: %v", err)
	}

	ta := startApp(t, config.StorageConfig{
		DatabaseURL:    connStr,
		MaxConns:       4,
		MinConns:       1,
		ConnectTimeout: 10 * time.Second,
	})
	stop := ta.cleanup
	ta.cleanup = func() {
		stop()
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Errorf("failed to terminate container: %v", err)
		}
	}
	return ta
}

func (a *testApp) do(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, a.server.URL+path, reader)
	if err != nil {
		t.Fatal(err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.server.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp, data
}

type linkBody struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	Title     *string   `json:"title"`
	Tags      []string  `json:"tags"`
	Notes     *string   `json:"notes"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type pageBody struct {
	Links []linkBody `json:"links"`
	Total int        `json:"total"`
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		t.Fatalf("failed to decode %s: %v", data, err)
	}
	return v
}

func TestLinksAPI_File(t *testing.T) {
	a := setupFileApp(t)
	defer a.cleanup()
	runLinksAPI(t, a)
}

func TestLinksAPI_SQLite(t *testing.T) {
	a := setupSQLiteApp(t)
	defer a.cleanup()
	runLinksAPI(t, a)
}

func TestLinksAPI_Postgres(t *testing.T) {
	a := setupPostgresApp(t)
	defer a.cleanup()
	runLinksAPI(t, a)
}

// runLinksAPI walks one link through its whole life cycle over HTTP.
func runLinksAPI(t *testing.T, a *testApp) {
	resp, data := a.do(t, http.MethodGet, "/health", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health: expected 200, got %d", resp.StatusCode)
	}
	if h := decode[map[string]any](t, data); h["status"] != "ok" {
		t.Errorf("health body = %v", h)
	}

	// create
	resp, data = a.do(t, http.MethodPost, "/links", map[string]any{
		"url":   "https://go.dev/blog",
		"title": "The Go Blog",
		"tags":  []string{"go", "blog"},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", resp.StatusCode, data)
	}
	created := decode[linkBody](t, data)
	if created.ID == "" || !created.CreatedAt.Equal(created.UpdatedAt) {
		t.Errorf("create: unexpected body %+v", created)
	}

	// invalid create
	resp, _ = a.do(t, http.MethodPost, "/links", map[string]any{"url": "not a url"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("invalid create: expected 400, got %d", resp.StatusCode)
	}

	// bulk
	time.Sleep(5 * time.Millisecond)
	resp, data = a.do(t, http.MethodPost, "/links/bulk", []map[string]any{
		{"url": "https://pkg.go.dev", "tags": []string{"go"}},
		{"url": "https://www.postgresql.org/docs/", "notes": "Reference manual"},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("bulk: expected 201, got %d: %s", resp.StatusCode, data)
	}
	bulk := decode[pageBody](t, data)
	if bulk.Total != 2 || !bulk.Links[0].CreatedAt.Equal(bulk.Links[1].CreatedAt) {
		t.Errorf("bulk: unexpected body %+v", bulk)
	}

	// get
	resp, data = a.do(t, http.MethodGet, "/links/"+created.ID, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", resp.StatusCode)
	}
	if got := decode[linkBody](t, data); got.URL != created.URL || len(got.Tags) != 2 {
		t.Errorf("get: unexpected body %+v", got)
	}

	// list filters
	resp, data = a.do(t, http.MethodGet, "/links?tag=go", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", resp.StatusCode)
	}
	if page := decode[pageBody](t, data); page.Total != 2 {
		t.Errorf("list tag=go: total = %d, want 2", page.Total)
	}
	_, data = a.do(t, http.MethodGet, "/links?q=REFERENCE", nil)
	if page := decode[pageBody](t, data); page.Total != 1 || page.Links[0].URL != "https://www.postgresql.org/docs/" {
		t.Errorf("list q=REFERENCE: %+v", page)
	}
	_, data = a.do(t, http.MethodGet, "/links?limit=1&offset=1", nil)
	if page := decode[pageBody](t, data); page.Total != 3 || len(page.Links) != 1 {
		t.Errorf("list limit=1 offset=1: %+v", page)
	}

	// partial update
	time.Sleep(5 * time.Millisecond)
	resp, data = a.do(t, http.MethodPatch, "/links/"+created.ID, map[string]any{"notes": "weekly read"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update: expected 200, got %d: %s", resp.StatusCode, data)
	}
	updated := decode[linkBody](t, data)
	if updated.Notes == nil || *updated.Notes != "weekly read" || *updated.Title != "The Go Blog" {
		t.Errorf("update: unexpected body %+v", updated)
	}
	if !updated.UpdatedAt.After(created.UpdatedAt) {
		t.Errorf("update: updated_at %v not after %v", updated.UpdatedAt, created.UpdatedAt)
	}

	// the updated link now sorts first
	_, data = a.do(t, http.MethodGet, "/export.json", nil)
	export := decode[pageBody](t, data)
	if len(export.Links) != 3 || export.Links[0].ID != created.ID {
		t.Errorf("export: unexpected order %+v", export.Links)
	}

	resp, data = a.do(t, http.MethodGet, "/export.csv", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("csv: expected 200, got %d", resp.StatusCode)
	}
	rows, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	if err != nil || len(rows) != 4 {
		t.Errorf("csv: %d rows, err %v", len(rows), err)
	}

	// delete
	resp, _ = a.do(t, http.MethodDelete, "/links/"+created.ID, nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("delete: expected 200, got %d", resp.StatusCode)
	}
	resp, _ = a.do(t, http.MethodDelete, "/links/"+created.ID, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("second delete: expected 404, got %d", resp.StatusCode)
	}
	resp, _ = a.do(t, http.MethodGet, "/links/"+created.ID, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("get deleted: expected 404, got %d", resp.StatusCode)
	}
}

func TestConcurrentCreates_File(t *testing.T) {
	a := setupFileApp(t)
	defer a.cleanup()

	const n = 20
	errs := make(chan error, n)
	for i := range n {
		go func() {
			body, _ := json.Marshal(map[string]string{"url": fmt.Sprintf("https://%d.example", i)})
			resp, err := a.server.Client().Post(a.server.URL+"/links", "application/json", bytes.NewReader(body))
			if err != nil {
				errs <- err
				return
			}
			resp.Body.Close()
			if resp.StatusCode != http.StatusCreated {
				errs <- fmt.Errorf("status %d", resp.StatusCode)
				return
			}
			errs <- nil
		}()
	}
	for range n {
		if err := <-errs; err != nil {
			t.Error(err)
		}
	}

	_, data := a.do(t, http.MethodGet, "/links", nil)
	if page := decode[pageBody](t, data); page.Total != n {
		t.Errorf("total = %d, want %d", page.Total, n)
	}
}

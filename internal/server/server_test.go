package server

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/TobiSchelling/reviewsense/internal/database"
	"github.com/TobiSchelling/reviewsense/internal/pipeline"
	"github.com/TobiSchelling/reviewsense/internal/review"
	"github.com/TobiSchelling/reviewsense/internal/snapshot"
)

func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestServer(t *testing.T, db *database.DB) *Server {
	t.Helper()
	srv, err := New(db, nil)
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}
	return srv
}

func get(srv *Server, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
	return rec
}

// seedRun records a completed run with a classified snapshot on disk.
func seedRun(t *testing.T, db *database.DB) string {
	t.Helper()
	id := database.NewRunID()
	dir := t.TempDir()
	if err := db.CreateRun(id, "RTX 4070", 2, dir); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	msi := "MSI"
	rows := []review.Classified{{
		Normalized: review.Normalized{
			ProductName: "MSI 지포스 RTX 4070", Manufacturer: &msi, Distributor: "Official",
			Rating: 5, Sentiment: review.Positive, Text: "조용하고 시원합니다",
		},
		Predicted:  review.Positive,
		Confidence: 0.93,
	}}
	if err := snapshot.WriteClassified(filepath.Join(dir, pipeline.PredictedFile), rows); err != nil {
		t.Fatalf("WriteClassified: %v", err)
	}
	db.RecordStage(database.Stage{RunID: id, Stage: pipeline.StageClassify, Rows: 1, Positive: 1})
	db.FinishRun(id, database.StatusCompleted, nil)
	return id
}

func TestIndexRoute(t *testing.T) {
	db := openTestDB(t)
	srv := newTestServer(t, db)

	rec := get(srv, "/")
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "No runs yet") {
		t.Error("expected empty state in response body")
	}

	id := seedRun(t, db)
	body := get(srv, "/").Body.String()
	if !strings.Contains(body, "/runs/"+id) || !strings.Contains(body, "RTX 4070") {
		t.Errorf("expected run link in index:\n%s", body)
	}
	if !strings.Contains(body, "1 classified") {
		t.Error("expected stats in index")
	}
}

func TestRunRoute(t *testing.T) {
	db := openTestDB(t)
	id := seedRun(t, db)
	srv := newTestServer(t, db)

	rec := get(srv, "/runs/"+id)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{
		"<title>RTX 4070 - reviewsense</title>",
		"<h1>Review sentiment: RTX 4070</h1>",
		"조용하고 시원합니다",
		"/runs/" + id + "/files/" + pipeline.PredictedFile,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("run page missing %q", want)
		}
	}
	if strings.Contains(body, "files/"+pipeline.RawFile) {
		t.Error("missing snapshots must not be linked")
	}
}

func TestRunRouteWithoutPredictions(t *testing.T) {
	db := openTestDB(t)
	id := database.NewRunID()
	db.CreateRun(id, "RTX 3060", 1, t.TempDir())
	db.FinishRun(id, database.StatusFailed, nil)
	srv := newTestServer(t, db)

	rec := get(srv, "/runs/"+id)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "No classified reviews") {
		t.Error("expected placeholder for a run without predictions")
	}
}

func TestRunRouteNotFound(t *testing.T) {
	srv := newTestServer(t, openTestDB(t))
	if rec := get(srv, "/runs/missing"); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestArtifactRoute(t *testing.T) {
	db := openTestDB(t)
	id := seedRun(t, db)
	srv := newTestServer(t, db)

	rec := get(srv, "/runs/"+id+"/files/"+pipeline.PredictedFile)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Header().Get("Content-Disposition"), pipeline.PredictedFile) {
		t.Error("expected attachment disposition")
	}
	if !strings.Contains(rec.Body.String(), "product_name") {
		t.Error("expected snapshot header in body")
	}

	run, _ := db.GetRun(id)
	os.WriteFile(filepath.Join(run.Dir, "secret.txt"), []byte("x"), 0o644)
	if rec := get(srv, "/runs/"+id+"/files/secret.txt"); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unlisted file, got %d", rec.Code)
	}
	if rec := get(srv, "/runs/missing/files/"+pipeline.PredictedFile); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown run, got %d", rec.Code)
	}
}

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/example/damage-check/internal/analysis"
	"github.com/example/damage-check/internal/workflow"
)

func fakeService(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		io.WriteString(w, body)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func photo(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "car.jpg")
	if err := os.WriteFile(path, []byte("jpeg"), 0o600); err != nil {
		t.Fatalf("write photo: %v", err)
	}
	return path
}

func run(t *testing.T, status int, body string, opts analyzeOptions) (int, string, string) {
	t.Helper()
	ts := fakeService(t, status, body)
	controller := workflow.NewController(analysis.New(ts.URL), zap.NewNop(), workflow.WithScanPhase(0))

	var stdout, stderr bytes.Buffer
	code := runAnalyze(context.Background(), opts, controller, zap.NewNop(), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRunAnalyzeComplete(t *testing.T) {
	body := `{"is_vehicle":true,"detectedParts":[{"name":"Ön Tampon","repairType":"Değişim","cost":1500}],"laborCost":500,"totalCost":2000,"currency":"TRY","confidence":0.92}`

	code, stdout, stderr := run(t, http.StatusOK, body, analyzeOptions{image: photo(t)})
	if code != exitOK {
		t.Fatalf("expected exit %d, got %d: %s", exitOK, code, stderr)
	}
	if !strings.Contains(stdout, "2000.00 TRY") {
		t.Fatalf("expected total in report, got:\n%s", stdout)
	}
	if !strings.Contains(stderr, "Araç Taranıyor...") {
		t.Fatalf("expected progress output, got:\n%s", stderr)
	}
}

func TestRunAnalyzeJSON(t *testing.T) {
	body := `{"is_vehicle":true,"detectedParts":[],"laborCost":0,"totalCost":0,"currency":"TL","confidence":0.5}`

	code, stdout, _ := run(t, http.StatusOK, body, analyzeOptions{image: photo(t), json: true})
	if code != exitOK {
		t.Fatalf("expected exit %d, got %d", exitOK, code)
	}
	var decoded map[string]any
	if err := json.Unmarshal([]byte(stdout), &decoded); err != nil {
		t.Fatalf("expected JSON report, got %q: %v", stdout, err)
	}
	if decoded["currency"] != "TL" {
		t.Fatalf("unexpected report: %v", decoded)
	}
}

func TestRunAnalyzeNoVehicle(t *testing.T) {
	code, _, stderr := run(t, http.StatusOK, `{"is_vehicle":false}`, analyzeOptions{image: photo(t)})
	if code != exitNoVehicle {
		t.Fatalf("expected exit %d, got %d", exitNoVehicle, code)
	}
	if !strings.Contains(stderr, workflow.NoVehicleMessage) {
		t.Fatalf("expected domain message, got:\n%s", stderr)
	}
}

func TestRunAnalyzeServerError(t *testing.T) {
	code, stdout, _ := run(t, http.StatusInternalServerError, `{}`, analyzeOptions{image: photo(t)})
	if code != exitTechnical {
		t.Fatalf("expected exit %d, got %d", exitTechnical, code)
	}
	if stdout != "" {
		t.Fatalf("expected no partial report, got:\n%s", stdout)
	}
}

func TestRunAnalyzeNothingSelected(t *testing.T) {
	code, _, stderr := run(t, http.StatusOK, `{}`, analyzeOptions{})
	if code != exitOK {
		t.Fatalf("expected cancelled selection to exit %d, got %d", exitOK, code)
	}
	if !strings.Contains(stderr, "Fotoğraf seçilmedi.") {
		t.Fatalf("expected cancellation notice, got:\n%s", stderr)
	}
}

func TestRunAnalyzeCameraSpool(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "capture.jpg"), []byte("jpeg"), 0o600); err != nil {
		t.Fatalf("write capture: %v", err)
	}
	body := `{"is_vehicle":true,"detectedParts":[{"name":"Far","repairType":"Değişim","cost":9000}],"laborCost":2000,"totalCost":11000,"currency":"TL","confidence":0.85}`

	code, stdout, stderr := run(t, http.StatusOK, body, analyzeOptions{cameraDir: dir})
	if code != exitOK {
		t.Fatalf("expected exit %d, got %d: %s", exitOK, code, stderr)
	}
	if !strings.Contains(stdout, "Far") {
		t.Fatalf("expected part in report, got:\n%s", stdout)
	}
}

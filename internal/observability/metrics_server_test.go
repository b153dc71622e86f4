package observability

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"testing"
	"time"
)

func quietTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestMetricsServer_ServesScrapes(t *testing.T) {
	srv, err := StartMetricsServer("127.0.0.1:0", quietTestLogger())
	if err != nil {
		t.Fatalf("StartMetricsServer() error = %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}()

	NewMetrics().RecordProviderCall("anthropic", "claude", "success", 10*time.Millisecond)

	resp, err := http.Get("http://" + srv.Addr() + "/metrics")
	if err != nil {
		t.Fatalf("scrape failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(body), "datamachine_provider_requests_total") {
		t.Error("scrape output missing provider request counter")
	}
}

func TestMetricsServer_BadAddress(t *testing.T) {
	if _, err := StartMetricsServer("definitely-not-an-address", quietTestLogger()); err == nil {
		t.Fatal("StartMetricsServer() must fail on an unparseable address")
	}
}

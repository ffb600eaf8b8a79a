package sink

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nugget/hassflux/internal/config"
	"github.com/nugget/hassflux/internal/discovery"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// influxStub captures line protocol written to /api/v2/write.
type influxStub struct {
	mu     sync.Mutex
	bodies []string
	auth   []string
	status int
}

func (s *influxStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/ping":
		w.WriteHeader(http.StatusNoContent)
	case "/api/v2/write":
		body, _ := io.ReadAll(r.Body)
		s.mu.Lock()
		s.bodies = append(s.bodies, string(body))
		s.auth = append(s.auth, r.Header.Get("Authorization"))
		status := s.status
		s.mu.Unlock()
		if status == 0 {
			status = http.StatusNoContent
		}
		if status >= 400 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"code":"internal error","message":"boom"}`))
			return
		}
		w.WriteHeader(status)
	default:
		http.NotFound(w, r)
	}
}

func TestInfluxSink_Store(t *testing.T) {
	t.Parallel()
	stub := &influxStub{}
	srv := httptest.NewServer(stub)
	defer srv.Close()

	s := NewInflux(config.InfluxDBConfig{URL: srv.URL, Username: "u", Password: "p", Bucket: "telemetry"},
		"DeviceData", 5*time.Second, discardLogger())
	defer s.Close()

	ts := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	fields := discovery.Fields{"BatteryLevel": 87.0, "binary_status": true, "status": "Started"}
	if err := s.Store(context.Background(), "dev1", fields, ts); err != nil {
		t.Fatalf("Store error: %v", err)
	}

	stub.mu.Lock()
	defer stub.mu.Unlock()
	if len(stub.bodies) != 1 {
		t.Fatalf("writes = %d, want 1", len(stub.bodies))
	}
	line := strings.TrimSpace(stub.bodies[0])
	for _, want := range []string{
		"DeviceData,Id=dev1 ",
		"BatteryLevel=87",
		"binary_status=true",
		`status="Started"`,
		"1792411200000000000",
	} {
		if !strings.Contains(line, want) {
			t.Errorf("line protocol %q missing %q", line, want)
		}
	}
	if stub.auth[0] != "Token u:p" {
		t.Errorf("Authorization = %q, want %q", stub.auth[0], "Token u:p")
	}
}

func TestInfluxSink_StoreError(t *testing.T) {
	t.Parallel()
	stub := &influxStub{status: http.StatusInternalServerError}
	srv := httptest.NewServer(stub)
	defer srv.Close()

	s := NewInflux(config.InfluxDBConfig{URL: srv.URL, Token: "t", Bucket: "b"}, "DeviceData", time.Second, discardLogger())
	defer s.Close()

	err := s.Store(context.Background(), "dev1", discovery.Fields{"Light": 1.0}, time.Now())
	if err == nil {
		t.Fatal("expected error from failing server")
	}
	if !strings.Contains(err.Error(), "dev1") {
		t.Errorf("error should name the device: %v", err)
	}
}

func TestInfluxSink_Ping(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(&influxStub{})
	defer srv.Close()

	s := NewInflux(config.InfluxDBConfig{URL: srv.URL, Bucket: "b"}, "DeviceData", time.Second, discardLogger())
	defer s.Close()

	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("Ping error: %v", err)
	}
}

func TestSQLiteSink_StoreAndLatest(t *testing.T) {
	t.Parallel()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "telemetry.db"), "DeviceData", discardLogger())
	if err != nil {
		t.Fatalf("NewSQLite error: %v", err)
	}
	defer s.Close()
	ctx := context.Background()

	t0 := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	if err := s.Store(ctx, "dev1", discovery.Fields{"BatteryLevel": 90.0}, t0); err != nil {
		t.Fatalf("Store error: %v", err)
	}
	t1 := t0.Add(500 * time.Millisecond)
	if err := s.Store(ctx, "dev1", discovery.Fields{"BatteryLevel": 87.0, "status": "Started", "binary_status": true}, t1); err != nil {
		t.Fatalf("Store error: %v", err)
	}
	if err := s.Store(ctx, "dev2", discovery.Fields{"Light": 300.0}, t1); err != nil {
		t.Fatalf("Store error: %v", err)
	}

	got, err := s.Latest(ctx, "dev1")
	if err != nil {
		t.Fatalf("Latest error: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("readings = %d, want 3: %+v", len(got), got)
	}

	byField := map[string]Reading{}
	for _, r := range got {
		byField[r.Field] = r
	}
	if v := byField["BatteryLevel"].Value; v != 87.0 {
		t.Errorf("BatteryLevel = %v, want 87", v)
	}
	if v := byField["binary_status"].Value; v != true {
		t.Errorf("binary_status = %v, want true", v)
	}
	if v := byField["status"].Value; v != "Started" {
		t.Errorf("status = %v, want Started", v)
	}
	if !byField["BatteryLevel"].Timestamp.Equal(t1) {
		t.Errorf("timestamp = %v, want %v", byField["BatteryLevel"].Timestamp, t1)
	}
	if byField["BatteryLevel"].Measurement != "DeviceData" {
		t.Errorf("measurement = %q", byField["BatteryLevel"].Measurement)
	}

	if err := s.Ping(ctx); err != nil {
		t.Errorf("Ping error: %v", err)
	}
}

func TestSQLiteSink_LatestCorruptTimestamp(t *testing.T) {
	t.Parallel()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "telemetry.db"), "DeviceData", discardLogger())
	if err != nil {
		t.Fatalf("NewSQLite error: %v", err)
	}
	defer s.Close()
	ctx := context.Background()

	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO readings (device_id, measurement, field, value_num, ts) VALUES (?, ?, ?, ?, ?)`,
		"dev1", "DeviceData", "BatteryLevel", 87.0, "yesterday",
	); err != nil {
		t.Fatalf("insert error: %v", err)
	}

	got, err := s.Latest(ctx, "dev1")
	if err == nil {
		t.Fatalf("Latest = %+v, want timestamp error", got)
	}
	if !strings.Contains(err.Error(), "dev1/BatteryLevel") {
		t.Errorf("error = %v, want reading named", err)
	}
}

func TestSQLiteSink_Concurrent(t *testing.T) {
	t.Parallel()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "telemetry.db"), "DeviceData", discardLogger())
	if err != nil {
		t.Fatalf("NewSQLite error: %v", err)
	}
	defer s.Close()

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ts := time.Unix(int64(i), 0)
			if err := s.Store(context.Background(), "dev1", discovery.Fields{"Temperature": float64(i)}, ts); err != nil {
				t.Errorf("Store error: %v", err)
			}
		}()
	}
	wg.Wait()

	got, err := s.Latest(context.Background(), "dev1")
	if err != nil {
		t.Fatalf("Latest error: %v", err)
	}
	if len(got) != 1 || got[0].Value != 19.0 {
		t.Errorf("latest = %+v, want Temperature=19", got)
	}
}

func TestLogSink(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	s := NewLog(slog.New(slog.NewTextHandler(&buf, nil)))

	if err := s.Store(context.Background(), "dev1", discovery.Fields{"Temperature": 21.5}, time.Now()); err != nil {
		t.Fatalf("Store error: %v", err)
	}
	out := buf.String()
	for _, want := range []string{`msg="sink stored values"`, "dry_run=true", "fields=[Temperature]", "Temperature=21.5", "id=dev1"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q: %s", want, out)
		}
	}
}

func TestNew(t *testing.T) {
	t.Parallel()

	s, err := New(config.SinkConfig{Backend: config.SinkLog}, discardLogger())
	if err != nil {
		t.Fatalf("New(log) error: %v", err)
	}
	if _, ok := s.(*LogSink); !ok {
		t.Errorf("New(log) = %T, want *LogSink", s)
	}

	s, err = New(config.SinkConfig{Backend: config.SinkSQLite, SQLite: config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "t.db")}}, discardLogger())
	if err != nil {
		t.Fatalf("New(sqlite) error: %v", err)
	}
	defer s.Close()
	if _, ok := s.(*SQLiteSink); !ok {
		t.Errorf("New(sqlite) = %T, want *SQLiteSink", s)
	}

	if _, err := New(config.SinkConfig{Backend: "kafka"}, discardLogger()); err == nil {
		t.Error("expected error for unknown backend")
	}
}

package catalog

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/parquet-go/parquet-go"
	"go.uber.org/goleak"

	"tableqa/internal/errs"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
	)
}

type tripRow struct {
	Station string `parquet:"station"`
	Age     int64  `parquet:"age"`
}

func parquetBytes(t *testing.T, rows []tripRow) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := parquet.NewGenericWriter[tripRow](&buf)
	if _, err := w.Write(rows); err != nil {
		t.Fatalf("parquet Write() error = %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("parquet Close() error = %v", err)
	}
	return buf.Bytes()
}

type fakeObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
	gets    []string
}

func (f *fakeObjects) GetObject(_ context.Context, bucket, key string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets = append(f.gets, bucket+"/"+key)
	data, ok := f.objects[bucket+"/"+key]
	if !ok {
		return nil, errs.New(errs.NotFound, "s3", bucket+"/"+key)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func newTestServer(t *testing.T, files map[string][]byte) (*httptest.Server, *http.Client) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, ok := files[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(data)
	}))
	client := srv.Client()
	t.Cleanup(func() {
		client.CloseIdleConnections()
		srv.Close()
	})
	return srv, client
}

func TestSyncDownloadsRemoteTables(t *testing.T) {
	trips := parquetBytes(t, []tripRow{{"W 21 St", 45}, {"Broadway", 30}, {"W 21 St", 52}})
	srv, client := newTestServer(t, map[string][]byte{"/trips.parquet": trips})
	objects := &fakeObjects{objects: map[string][]byte{"open-data/stations.csv": []byte("name\nW 21 St\n")}}

	c, err := Parse([]byte(`
tables:
  - {name: trips, source: ` + srv.URL + `/trips.parquet}
  - {name: stations, source: s3://open-data/stations.csv}
  - {name: local, source: local.csv}
`))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	dataDir := t.TempDir()
	var mu sync.Mutex
	var progressed []string
	s := NewSyncer(dataDir, WithHTTPClient(client), WithObjectStore(objects), WithProgress(func(r Report) {
		mu.Lock()
		progressed = append(progressed, r.Table)
		mu.Unlock()
	}))

	if got := len(s.Missing(c)); got != 2 {
		t.Fatalf("Missing() = %d tables, want 2", got)
	}
	reports, err := s.Sync(context.Background(), c, false)
	if err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if len(reports) != 3 {
		t.Fatalf("Sync() returned %d reports", len(reports))
	}
	if reports[0].Rows != 3 || reports[0].Bytes != int64(len(trips)) || reports[0].Skipped {
		t.Errorf("trips report = %+v", reports[0])
	}
	if reports[1].Rows != -1 || reports[1].Skipped {
		t.Errorf("stations report = %+v", reports[1])
	}
	if !reports[2].Skipped {
		t.Errorf("local table should be skipped: %+v", reports[2])
	}
	got, err := os.ReadFile(filepath.Join(dataDir, "stations.csv"))
	if err != nil || string(got) != "name\nW 21 St\n" {
		t.Fatalf("stations.csv = %q, %v", got, err)
	}
	if len(progressed) != 2 {
		t.Errorf("progress called for %v", progressed)
	}
	if len(s.Missing(c)) != 0 {
		t.Errorf("Missing() after sync = %v", s.Missing(c))
	}

	again, err := s.Sync(context.Background(), c, false)
	if err != nil {
		t.Fatalf("second Sync() error = %v", err)
	}
	if !again[0].Skipped || !again[1].Skipped {
		t.Errorf("second Sync() should skip existing files: %+v", again)
	}
	if diff := cmp.Diff([]string{"open-data/stations.csv"}, objects.gets); diff != "" {
		t.Errorf("object gets mismatch (-want +got):\n%s", diff)
	}
}

func TestSyncErrors(t *testing.T) {
	srv, client := newTestServer(t, nil)

	t.Run("http not found", func(t *testing.T) {
		c, err := Parse([]byte("tables:\n  - {name: trips, source: " + srv.URL + "/missing.csv}\n"))
		if err != nil {
			t.Fatalf("Parse() error = %v", err)
		}
		_, err = NewSyncer(t.TempDir(), WithHTTPClient(client)).Sync(context.Background(), c, false)
		if !errs.Is(err, errs.NotFound) {
			t.Fatalf("Sync() error = %v, want not_found", err)
		}
	})
	t.Run("s3 without store", func(t *testing.T) {
		c, err := Parse([]byte("tables:\n  - {name: trips, source: s3://bucket/trips.csv}\n"))
		if err != nil {
			t.Fatalf("Parse() error = %v", err)
		}
		_, err = NewSyncer(t.TempDir()).Sync(context.Background(), c, false)
		if !errs.Is(err, errs.Config) {
			t.Fatalf("Sync() error = %v, want config", err)
		}
	})
}

func TestInspect(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trips.parquet")
	if err := os.WriteFile(path, parquetBytes(t, []tripRow{{"A", 1}, {"B", 2}}), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	info, err := Inspect(path)
	if err != nil {
		t.Fatalf("Inspect() error = %v", err)
	}
	if info.Rows != 2 {
		t.Fatalf("Rows = %d, want 2", info.Rows)
	}
	if diff := cmp.Diff([]string{"age", "station"}, info.Columns, cmpopts.SortSlices(func(a, b string) bool { return a < b })); diff != "" {
		t.Fatalf("Columns mismatch (-want +got):\n%s", diff)
	}
}

func TestSplitS3(t *testing.T) {
	bucket, key, ok := splitS3("s3://open-data/weather/daily.json")
	if !ok || bucket != "open-data" || key != "weather/daily.json" {
		t.Fatalf("splitS3() = %q %q %v", bucket, key, ok)
	}
	if _, _, ok := splitS3("s3://bucket-only"); ok {
		t.Fatal("splitS3() accepted a bucket without key")
	}
	if _, _, ok := splitS3("https://example.com/x"); ok {
		t.Fatal("splitS3() accepted an https URL")
	}
}

func TestParseEndpoint(t *testing.T) {
	tests := []struct {
		raw        string
		useSSL     bool
		wantHost   string
		wantSecure bool
	}{
		{raw: "localhost:9000", useSSL: false, wantHost: "localhost:9000", wantSecure: false},
		{raw: "https://s3.amazonaws.com", useSSL: false, wantHost: "s3.amazonaws.com", wantSecure: true},
		{raw: "http://minio:9000", useSSL: true, wantHost: "minio:9000", wantSecure: false},
	}
	for _, tt := range tests {
		host, secure, err := parseEndpoint(tt.raw, tt.useSSL)
		if err != nil {
			t.Fatalf("parseEndpoint(%q) error = %v", tt.raw, err)
		}
		if host != tt.wantHost || secure != tt.wantSecure {
			t.Errorf("parseEndpoint(%q) = %q %v", tt.raw, host, secure)
		}
	}
	if _, _, err := parseEndpoint("", false); !errs.Is(err, errs.Config) {
		t.Errorf("parseEndpoint(\"\") error = %v", err)
	}
}

package transfer

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/HerbHall/jump/internal/api"
	"github.com/HerbHall/jump/internal/cache"
	"github.com/HerbHall/jump/internal/mutation"
	"github.com/HerbHall/jump/internal/query"
	"github.com/HerbHall/jump/internal/testutil"
	"github.com/HerbHall/jump/pkg/models"
	"go.uber.org/zap"
	clocktesting "k8s.io/utils/clock/testing"
)

const key = "devices"

var now = time.Date(2026, 4, 9, 23, 30, 0, 0, time.UTC)

func newTestReconciler(t *testing.T, devices ...models.Device) (*Reconciler, *query.Coordinator[models.Device], *testutil.FakeService) {
	t.Helper()
	svc := testutil.NewFakeService(t, devices...)
	client := api.NewClient(api.Config{BaseURL: svc.URL(), Timeout: 5 * time.Second})

	clk := clocktesting.NewFakeClock(now)
	q := query.New(cache.New[models.Device](clk), clk, query.Config{StaleTime: 30 * time.Second}, zap.NewNop())
	t.Cleanup(q.Close)
	q.Register(key, client.ListDevices)

	m := mutation.New(q, models.DeviceID, zap.NewNop())
	return New(q, m, client, key, clk, zap.NewNop()), q, svc
}

func TestParseImport(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    int
		wantErr bool
	}{
		{name: "array", input: `[{"name":"TV"},{"name":"NAS","port":7}]`, want: 2},
		{name: "empty array", input: `[]`, want: 0},
		{name: "surrounding whitespace", input: "\n [ {\"name\":\"TV\"} ]\n", want: 1},
		{name: "object", input: `{"name":"TV"}`, wantErr: true},
		{name: "truncated", input: `[{"name":"TV"`, wantErr: true},
		{name: "trailing data", input: `[] []`, wantErr: true},
		{name: "null", input: `null`, wantErr: true},
		{name: "empty", input: ``, wantErr: true},
		{name: "string port", input: `[{"name":"TV","port":"9"},{"name":"NAS","port":9.5}]`, want: 2},
		{name: "wrong field type", input: `[{"name":42}]`, wantErr: true},
		{name: "structured port", input: `[{"name":"TV","port":{"value":9}}]`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseImport([]byte(tt.input))
			if tt.wantErr {
				var pErr *ParseError
				if !errors.As(err, &pErr) {
					t.Fatalf("err = %v, want *ParseError", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseImport: %v", err)
			}
			if len(got) != tt.want {
				t.Errorf("len = %d, want %d", len(got), tt.want)
			}
		})
	}
}

func TestImportJSON_ParseErrorSkipsNetwork(t *testing.T) {
	r, _, svc := newTestReconciler(t)

	_, err := r.ImportJSON(context.Background(), []byte(`{not json`), nil)
	var pErr *ParseError
	if !errors.As(err, &pErr) {
		t.Fatalf("err = %v, want *ParseError", err)
	}
	if svc.Calls(testutil.RouteImport) != 0 {
		t.Error("import request sent for an unparsable document")
	}
}

func TestImportNormalizesAndInvalidates(t *testing.T) {
	existing := testutil.NewDevice(testutil.WithName("NAS"))
	r, q, svc := newTestReconciler(t, existing)

	if _, err := q.Fetch(context.Background(), key); err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	input := `[{"name":"TV","mac_address":"","ip_address":null,"port":0,"description":null}]`
	var handled mutation.Outcome[models.Device]
	out, err := r.ImportJSON(context.Background(), []byte(input), func(o mutation.Outcome[models.Device]) { handled = o })
	if err != nil {
		t.Fatalf("ImportJSON: %v", err)
	}
	if !out.OK() || len(out.Values) != 1 || handled.State != mutation.StateCommitted {
		t.Fatalf("outcome = %+v", out)
	}

	stored := svc.Devices()
	if len(stored) != 2 {
		t.Fatalf("service holds %d devices, want 2", len(stored))
	}
	tv := stored[1]
	if tv.Name != "TV" || tv.Port != 9 || tv.MACAddress != "" || tv.IPAddress != nil || tv.Description != nil {
		t.Errorf("imported record = %+v", tv)
	}

	col, _ := q.Store().Read(key)
	if len(col.Data) != 1 || !col.Stale {
		t.Errorf("cache = %+v, want unmerged and stale", col)
	}

	col, err = q.Fetch(context.Background(), key)
	if err != nil || len(col.Data) != 2 {
		t.Errorf("after reload = %+v, %v", col.Data, err)
	}
}

func TestImportServiceFailure(t *testing.T) {
	r, _, svc := newTestReconciler(t)
	svc.Fail(testutil.RouteImport, 500, "")

	out, err := r.ImportJSON(context.Background(), []byte(`[{"name":"TV"}]`), nil)
	if err != nil {
		t.Fatalf("ImportJSON: %v", err)
	}
	if out.OK() || out.Message != "HTTP Error: 500" {
		t.Errorf("outcome = %+v", out)
	}
}

func TestImportFile(t *testing.T) {
	r, _, svc := newTestReconciler(t)
	dir := t.TempDir()

	txt := filepath.Join(dir, "devices.txt")
	if err := os.WriteFile(txt, []byte(`[]`), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := r.ImportFile(context.Background(), txt, nil); !errors.Is(err, ErrNotJSON) {
		t.Errorf("err = %v, want ErrNotJSON", err)
	}

	good := filepath.Join(dir, "devices.json")
	if err := os.WriteFile(good, []byte(`[{"name":"TV","mac_address":"AA:BB:CC:DD:EE:FF"}]`), 0o600); err != nil {
		t.Fatal(err)
	}
	out, err := r.ImportFile(context.Background(), good, nil)
	if err != nil || !out.OK() {
		t.Fatalf("ImportFile = %+v, %v", out, err)
	}
	if len(svc.Devices()) != 1 {
		t.Errorf("service holds %d devices, want 1", len(svc.Devices()))
	}
}

func TestExportAllDropsIDs(t *testing.T) {
	r, _, _ := newTestReconciler(t,
		testutil.NewDevice(testutil.WithName("NAS"), testutil.WithIP("10.0.0.2")),
		testutil.NewDevice(testutil.WithName("TV")),
	)

	data, err := r.ExportJSON(context.Background())
	if err != nil {
		t.Fatalf("ExportJSON: %v", err)
	}

	var records []map[string]any
	if err := json.Unmarshal(data, &records); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(records) != 2 || records[0]["name"] != "NAS" || records[1]["name"] != "TV" {
		t.Fatalf("records = %v", records)
	}
	for _, rec := range records {
		if _, ok := rec["id"]; ok {
			t.Errorf("exported record carries id: %v", rec)
		}
	}
}

func TestExportFetchFailure(t *testing.T) {
	r, _, svc := newTestReconciler(t)
	svc.Fail(testutil.RouteList, 503, "Service unavailable")

	if _, err := r.ExportAll(context.Background()); err == nil {
		t.Fatal("ExportAll succeeded while the service is down")
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	original := []models.Device{
		testutil.NewDevice(testutil.WithName("NAS"), testutil.WithMAC("AA:BB:CC:DD:EE:01"), testutil.WithIP("10.0.0.2"), testutil.WithPort(7)),
		testutil.NewDevice(testutil.WithName("TV"), testutil.WithMAC("AA:BB:CC:DD:EE:02"), testutil.WithDescription("living room")),
	}
	src, _, _ := newTestReconciler(t, original...)
	data, err := src.ExportJSON(context.Background())
	if err != nil {
		t.Fatalf("ExportJSON: %v", err)
	}

	dst, _, svc := newTestReconciler(t)
	out, err := dst.ImportJSON(context.Background(), data, nil)
	if err != nil || !out.OK() {
		t.Fatalf("ImportJSON = %+v, %v", out, err)
	}

	imported := svc.Devices()
	if len(imported) != len(original) {
		t.Fatalf("imported %d devices, want %d", len(imported), len(original))
	}
	for i := range original {
		if !samePortable(imported[i], original[i]) {
			t.Errorf("device %d = %+v, want %+v", i, imported[i], original[i])
		}
		if imported[i].ID == original[i].ID {
			t.Errorf("device %d kept its original id", i)
		}
	}
}

func samePortable(a, b models.Device) bool {
	pa, pb := models.Portable(a), models.Portable(b)
	return pa.Name == pb.Name && pa.MACAddress == pb.MACAddress && pa.Port == pb.Port &&
		deref(pa.IPAddress) == deref(pb.IPAddress) && deref(pa.Description) == deref(pb.Description)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func TestServerExport(t *testing.T) {
	r, _, svc := newTestReconciler(t, testutil.NewDevice(testutil.WithName("NAS")))

	got, err := r.ServerExport(context.Background())
	if err != nil {
		t.Fatalf("ServerExport: %v", err)
	}
	if len(got) != 1 || got[0].Name != "NAS" || svc.Calls(testutil.RouteExport) != 1 {
		t.Errorf("ServerExport() = %+v", got)
	}
}

func TestWriteExport(t *testing.T) {
	r, _, _ := newTestReconciler(t, testutil.NewDevice())
	dir := t.TempDir()

	path, err := r.WriteExport(context.Background(), dir)
	if err != nil {
		t.Fatalf("WriteExport: %v", err)
	}
	if filepath.Base(path) != "jump-devices-2026-04-09.json" {
		t.Errorf("file name = %s", filepath.Base(path))
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("export file missing: %v", err)
	}
}

func TestExportFileName(t *testing.T) {
	loc := time.FixedZone("UTC+10", 10*60*60)
	got := ExportFileName(time.Date(2026, 4, 10, 8, 0, 0, 0, loc))
	if got != "jump-devices-2026-04-09.json" {
		t.Errorf("ExportFileName() = %s, want UTC date", got)
	}
}

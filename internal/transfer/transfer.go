// Package transfer moves device lists in and out of the service as
// portable JSON documents.
package transfer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/HerbHall/jump/internal/mutation"
	"github.com/HerbHall/jump/internal/query"
	"github.com/HerbHall/jump/pkg/models"
	"go.uber.org/zap"
	"k8s.io/utils/clock"
)

// ImportFallback is reported when a failed import carries no service message.
const ImportFallback = "Failed to import devices"

// ErrNotJSON is returned for an import file without a .json extension.
var ErrNotJSON = errors.New("only JSON files are supported")

// ParseError reports an import document that could not be decoded. It is
// raised before any request is sent.
type ParseError struct {
	Source string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Source != "" {
		return fmt.Sprintf("invalid import document %s: %v", e.Source, e.Err)
	}
	return fmt.Sprintf("invalid import document: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Service is the part of the device service client used for transfers.
type Service interface {
	ImportDevices(ctx context.Context, devices []models.PortableDevice) ([]models.Device, error)
	ExportDevices(ctx context.Context) ([]models.PortableDevice, error)
}

// Reconciler imports and exports the collection stored under one key.
type Reconciler struct {
	query     *query.Coordinator[models.Device]
	mutations *mutation.Coordinator[models.Device]
	service   Service
	key       string
	clock     clock.PassiveClock
	logger    *zap.Logger
}

// New creates a Reconciler for the collection under key.
func New(q *query.Coordinator[models.Device], m *mutation.Coordinator[models.Device], svc Service, key string, clk clock.PassiveClock, logger *zap.Logger) *Reconciler {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{query: q, mutations: m, service: svc, key: key, clock: clk, logger: logger}
}

// ParseImport decodes an import document: a single JSON array of device
// records. Missing optional fields are allowed; normalization happens on
// submit.
func ParseImport(data []byte) ([]models.ImportRecord, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, &ParseError{Err: errors.New("document is empty")}
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	var records []models.ImportRecord
	if err := dec.Decode(&records); err != nil {
		return nil, &ParseError{Err: err}
	}
	if dec.More() {
		return nil, &ParseError{Err: errors.New("unexpected data after the device array")}
	}
	if records == nil {
		return nil, &ParseError{Err: errors.New("document is null")}
	}
	return records, nil
}

// ImportBatch normalizes records and submits them in one request. The
// cached collection is not merged; the key is invalidated on settle and
// reloaded from the service.
func (r *Reconciler) ImportBatch(ctx context.Context, records []models.ImportRecord, h mutation.Handler[models.Device]) mutation.Outcome[models.Device] {
	devices := models.NormalizeAll(records)
	r.logger.Info("importing devices", zap.Int("count", len(devices)))
	return r.mutations.Batch(ctx, r.key, func(ctx context.Context) ([]models.Device, error) {
		return r.service.ImportDevices(ctx, devices)
	}, ImportFallback, h)
}

// ImportJSON parses data and imports it. A *ParseError is returned without
// contacting the service.
func (r *Reconciler) ImportJSON(ctx context.Context, data []byte, h mutation.Handler[models.Device]) (mutation.Outcome[models.Device], error) {
	records, err := ParseImport(data)
	if err != nil {
		return mutation.Outcome[models.Device]{}, err
	}
	return r.ImportBatch(ctx, records, h), nil
}

// ImportFile reads and imports a .json document from disk.
func (r *Reconciler) ImportFile(ctx context.Context, path string, h mutation.Handler[models.Device]) (mutation.Outcome[models.Device], error) {
	if !strings.EqualFold(filepath.Ext(path), ".json") {
		return mutation.Outcome[models.Device]{}, &ParseError{Source: path, Err: ErrNotJSON}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return mutation.Outcome[models.Device]{}, fmt.Errorf("read import file: %w", err)
	}
	records, err := ParseImport(data)
	if err != nil {
		var pErr *ParseError
		if errors.As(err, &pErr) {
			pErr.Source = path
		}
		return mutation.Outcome[models.Device]{}, err
	}
	return r.ImportBatch(ctx, records, h), nil
}

// ExportAll returns the collection in portable form, without IDs. Cached
// data is used while fresh; otherwise it is reloaded first.
func (r *Reconciler) ExportAll(ctx context.Context) ([]models.PortableDevice, error) {
	col, err := r.query.Fetch(ctx, r.key)
	if err != nil {
		return nil, fmt.Errorf("export devices: %w", err)
	}
	out := make([]models.PortableDevice, 0, len(col.Data))
	for _, d := range col.Data {
		out = append(out, models.Portable(d))
	}
	return out, nil
}

// ExportJSON renders ExportAll as an indented JSON document.
func (r *Reconciler) ExportJSON(ctx context.Context) ([]byte, error) {
	devices, err := r.ExportAll(ctx)
	if err != nil {
		return nil, err
	}
	return marshalExport(devices)
}

// WriteExport writes the export document into dir under ExportFileName
// and returns its path.
func (r *Reconciler) WriteExport(ctx context.Context, dir string) (string, error) {
	data, err := r.ExportJSON(ctx)
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, ExportFileName(r.clock.Now()))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write export: %w", err)
	}
	return path, nil
}

// ServerExport returns the service's own export of the device list.
func (r *Reconciler) ServerExport(ctx context.Context) ([]models.PortableDevice, error) {
	devices, err := r.service.ExportDevices(ctx)
	if err != nil {
		return nil, err
	}
	if devices == nil {
		devices = []models.PortableDevice{}
	}
	return devices, nil
}

// ExportFileName is the download name of an export taken at t.
func ExportFileName(t time.Time) string {
	return "jump-devices-" + t.UTC().Format("2006-01-02") + ".json"
}

func marshalExport(devices []models.PortableDevice) ([]byte, error) {
	data, err := json.MarshalIndent(devices, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal export: %w", err)
	}
	return append(data, '\n'), nil
}

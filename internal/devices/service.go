// Package devices is the entry point for every user action on the device
// collection. It owns the cache, the query and mutation coordinators, the
// wake runner and the notification queue, turns each outcome into a toast,
// and publishes the resulting state changes on the event bus.
package devices

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HerbHall/jump/internal/api"
	"github.com/HerbHall/jump/internal/cache"
	"github.com/HerbHall/jump/internal/event"
	"github.com/HerbHall/jump/internal/mutation"
	"github.com/HerbHall/jump/internal/notify"
	"github.com/HerbHall/jump/internal/query"
	"github.com/HerbHall/jump/internal/sched"
	"github.com/HerbHall/jump/internal/transfer"
	"github.com/HerbHall/jump/internal/wake"
	"github.com/HerbHall/jump/pkg/models"
	"go.uber.org/zap"
)

// Key is the cache key of the device collection.
const Key = "devices"

// Fallback messages used when the service gives no usable error text.
const (
	SaveFallback   = "Failed to save device"
	DeleteFallback = "Failed to delete device"
	ExportFailed   = "Failed to export devices"
	InvalidJSON    = "Invalid JSON format"
	OnlyJSON       = "Only JSON files are supported"
	LookupFallback = "MAC address not found"
)

// Client is the device service API used by Service.
// *api.Client satisfies it.
type Client interface {
	ListDevices(ctx context.Context) ([]models.Device, error)
	CreateDevice(ctx context.Context, req models.DevicePayload) (*models.Device, error)
	UpdateDevice(ctx context.Context, id string, req models.DevicePayload) (*models.Device, error)
	DeleteDevice(ctx context.Context, id string) error
	WakeDevice(ctx context.Context, id string) (json.RawMessage, error)
	LookupMAC(ctx context.Context, ip string) (*models.MacLookupResponse, error)
	ExportDevices(ctx context.Context) ([]models.PortableDevice, error)
	ImportDevices(ctx context.Context, devices []models.PortableDevice) ([]models.Device, error)
}

// Config holds the tunables of the coordinators Service builds.
type Config struct {
	Query query.Config
	Wake  wake.Config
}

// Snapshot is the published view of the device collection.
type Snapshot struct {
	Key       string          `json:"key"`
	Status    cache.Status    `json:"status"`
	Stale     bool            `json:"stale"`
	Fetching  bool            `json:"fetching"`
	FetchedAt time.Time       `json:"fetched_at"`
	Devices   []models.Device `json:"devices"`
	Error     string          `json:"error,omitempty"`
}

// Settled is the payload of a mutation.settled event.
type Settled struct {
	Kind    mutation.Kind  `json:"kind"`
	State   mutation.State `json:"state"`
	ID      string         `json:"id,omitempty"`
	Message string         `json:"message,omitempty"`
}

// WakeResult is the payload of a wake.result event.
type WakeResult struct {
	DeviceID string `json:"device_id"`
	Success  bool   `json:"success"`
	Message  string `json:"message,omitempty"`
}

// WakeState is the payload of a wake.state event.
type WakeState struct {
	DeviceID   string `json:"device_id"`
	InProgress bool   `json:"in_progress"`
}

// Stats summarizes the collection for a status line.
type Stats struct {
	Devices   int   `json:"devices"`
	WakesSent int64 `json:"wakes_sent"`
}

// Service coordinates user actions on the device collection.
type Service struct {
	client    Client
	sched     *sched.Scheduler
	store     *cache.Store[models.Device]
	query     *query.Coordinator[models.Device]
	mutations *mutation.Coordinator[models.Device]
	wake      *wake.Runner
	transfer  *transfer.Reconciler
	toasts    *notify.Queue
	bus       event.Publisher
	logger    *zap.Logger

	wakesSent atomic.Int64

	closeOnce sync.Once
	unsubs    []func()
}

// New wires a Service. The toast queue's expiries and the wake indicator
// timers both run on s; call Start to drive it. bus may be nil, in which
// case nothing is published.
func New(client Client, s *sched.Scheduler, toasts *notify.Queue, bus event.Publisher, cfg Config, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}

	store := cache.New[models.Device](s.Clock())
	q := query.New(store, s.Clock(), cfg.Query, logger.Named("query"))
	q.Register(Key, client.ListDevices)
	m := mutation.New(q, models.DeviceID, logger.Named("mutation"))

	svc := &Service{
		client:    client,
		sched:     s,
		store:     store,
		query:     q,
		mutations: m,
		wake:      wake.NewRunner(client, s, cfg.Wake, logger.Named("wake")),
		transfer:  transfer.New(q, m, client, Key, s.Clock(), logger.Named("transfer")),
		toasts:    toasts,
		bus:       bus,
		logger:    logger,
	}

	if bus != nil {
		svc.unsubs = append(svc.unsubs,
			store.Subscribe(Key, svc.publishSnapshot),
			toasts.Subscribe(svc.publishToast),
			svc.wake.Subscribe(svc.publishWakeState),
		)
	}
	return svc
}

// Start runs the scheduler until ctx is cancelled.
func (s *Service) Start(ctx context.Context) error {
	err := s.sched.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close unsubscribes from every source and waits for background loads.
func (s *Service) Close() {
	s.closeOnce.Do(func() {
		for _, fn := range s.unsubs {
			fn()
		}
		s.query.Close()
		s.store.Close()
	})
}

// List returns the device collection, loading it when stale. On failure
// the collection still carries any previously loaded devices.
func (s *Service) List(ctx context.Context) (cache.Collection[models.Device], error) {
	return s.query.Fetch(ctx, Key)
}

// Refresh reloads the collection from the service. A reload superseded by
// a mutation or an invalidation is not a failure: a newer load follows.
func (s *Service) Refresh(ctx context.Context) error {
	_, err := s.query.Refetch(ctx, Key)
	if errors.Is(err, query.ErrSuperseded) {
		s.logger.Debug("refresh superseded by a newer load")
		return nil
	}
	return err
}

// Current returns the cached collection without blocking. A stale copy
// triggers a background reload.
func (s *Service) Current() Snapshot {
	col, _ := s.query.Get(Key)
	return snapshotOf(col)
}

// Create validates in and registers a new device.
func (s *Service) Create(ctx context.Context, in models.DeviceInput) (mutation.Outcome[models.Device], error) {
	if err := in.Validate(); err != nil {
		s.toasts.Push(err.Error(), notify.SeverityError)
		return mutation.Outcome[models.Device]{Kind: mutation.KindCreate, Key: Key, Err: err}, err
	}
	payload := in.Payload()

	out := s.mutations.Create(ctx, Key, func(ctx context.Context) (models.Device, error) {
		d, err := s.client.CreateDevice(ctx, payload)
		if err != nil {
			return models.Device{}, err
		}
		return *d, nil
	}, SaveFallback, s.report(func(out mutation.Outcome[models.Device]) string {
		return out.Value.Name + " added"
	}))
	return out, out.Err
}

// Update validates in and replaces device id. The cache shows the edit
// immediately and reverts if the service refuses it.
func (s *Service) Update(ctx context.Context, id string, in models.DeviceInput) (mutation.Outcome[models.Device], error) {
	if err := in.Validate(); err != nil {
		s.toasts.Push(err.Error(), notify.SeverityError)
		return mutation.Outcome[models.Device]{Kind: mutation.KindUpdate, Key: Key, ID: id, Err: err}, err
	}
	payload := in.Payload()

	out := s.mutations.Update(ctx, Key, id, payload.Apply, func(ctx context.Context) (models.Device, error) {
		d, err := s.client.UpdateDevice(ctx, id, payload)
		if err != nil {
			return models.Device{}, err
		}
		return *d, nil
	}, SaveFallback, s.report(func(out mutation.Outcome[models.Device]) string {
		return out.Value.Name + " updated"
	}))
	return out, out.Err
}

// Delete removes device id. The cache drops it immediately and restores it
// if the service refuses.
func (s *Service) Delete(ctx context.Context, id string) (mutation.Outcome[models.Device], error) {
	name := s.nameOf(id)
	out := s.mutations.Delete(ctx, Key, id, func(ctx context.Context) error {
		return s.client.DeleteDevice(ctx, id)
	}, DeleteFallback, s.report(func(mutation.Outcome[models.Device]) string {
		return name + " removed"
	}))
	return out, out.Err
}

// Wake sends a wake packet to device id. A wake already in progress for
// the same device is rejected with wake.ErrInProgress and no toast.
func (s *Service) Wake(ctx context.Context, id string) wake.Result {
	name := s.nameOf(id)
	return s.wake.Wake(ctx, id, func(res wake.Result) {
		if errors.Is(res.Err, wake.ErrInProgress) {
			return
		}
		if res.Success {
			s.wakesSent.Add(1)
			s.toasts.Push("Wake packet sent to "+name, notify.SeveritySuccess)
		} else {
			s.toasts.Push(res.Message, notify.SeverityError)
		}
		s.publish(event.TopicWakeResult, WakeResult{DeviceID: res.DeviceID, Success: res.Success, Message: res.Message})
	})
}

// WakeStates returns the devices whose wake indicator is up.
func (s *Service) WakeStates() []wake.State {
	return s.wake.States()
}

// LookupMAC resolves ip to a MAC address on the service host. A lookup
// that finds nothing pushes the service's reason as an error toast.
func (s *Service) LookupMAC(ctx context.Context, ip string) (*models.MacLookupResponse, error) {
	resp, err := s.client.LookupMAC(ctx, ip)
	if err != nil {
		s.toasts.Push(api.Message(err, LookupFallback), notify.SeverityError)
		return nil, err
	}
	if !resp.Found || resp.MAC == "" {
		msg := resp.Error
		if msg == "" {
			msg = LookupFallback
		}
		s.toasts.Push(msg, notify.SeverityError)
	}
	return resp, nil
}

// ImportJSON parses and imports an import document.
func (s *Service) ImportJSON(ctx context.Context, data []byte) (mutation.Outcome[models.Device], error) {
	out, err := s.transfer.ImportJSON(ctx, data, s.reportImport())
	return s.importResult(out, err)
}

// ImportFile reads and imports a .json document.
func (s *Service) ImportFile(ctx context.Context, path string) (mutation.Outcome[models.Device], error) {
	out, err := s.transfer.ImportFile(ctx, path, s.reportImport())
	return s.importResult(out, err)
}

// Export returns the collection in portable form.
func (s *Service) Export(ctx context.Context) ([]models.PortableDevice, error) {
	devices, err := s.transfer.ExportAll(ctx)
	s.reportExport(err)
	return devices, err
}

// ExportJSON returns the indented export document.
func (s *Service) ExportJSON(ctx context.Context) ([]byte, error) {
	data, err := s.transfer.ExportJSON(ctx)
	s.reportExport(err)
	return data, err
}

// WriteExport writes the export document into dir and returns its path.
func (s *Service) WriteExport(ctx context.Context, dir string) (string, error) {
	path, err := s.transfer.WriteExport(ctx, dir)
	s.reportExport(err)
	return path, err
}

// ServerExport returns the export produced by the service itself.
func (s *Service) ServerExport(ctx context.Context) ([]models.PortableDevice, error) {
	devices, err := s.transfer.ServerExport(ctx)
	s.reportExport(err)
	return devices, err
}

// Toasts returns the active notifications in insertion order.
func (s *Service) Toasts() []notify.Entry {
	return s.toasts.Entries()
}

// Dismiss removes notification id. It reports false if it was already gone.
func (s *Service) Dismiss(id string) bool {
	return s.toasts.Dismiss(id)
}

// Stats returns the device count and the wakes sent by this process.
func (s *Service) Stats() Stats {
	col, _ := s.store.Read(Key)
	return Stats{Devices: len(col.Data), WakesSent: s.wakesSent.Load()}
}

// report returns a mutation handler that pushes success(out) on commit and
// the outcome's message otherwise, then publishes the settled outcome.
func (s *Service) report(success func(mutation.Outcome[models.Device]) string) mutation.Handler[models.Device] {
	return func(out mutation.Outcome[models.Device]) {
		if out.OK() {
			s.toasts.Push(success(out), notify.SeveritySuccess)
		} else {
			s.toasts.Push(out.Message, notify.SeverityError)
		}
		s.publish(event.TopicMutationSettled, Settled{Kind: out.Kind, State: out.State, ID: out.ID, Message: out.Message})
	}
}

func (s *Service) reportImport() mutation.Handler[models.Device] {
	return s.report(func(out mutation.Outcome[models.Device]) string {
		return fmt.Sprintf("Successfully imported %d device(s)", len(out.Values))
	})
}

// importResult reports documents rejected before any request was made.
func (s *Service) importResult(out mutation.Outcome[models.Device], err error) (mutation.Outcome[models.Device], error) {
	if err == nil {
		return out, out.Err
	}
	var pErr *transfer.ParseError
	switch {
	case errors.Is(err, transfer.ErrNotJSON):
		s.toasts.Push(OnlyJSON, notify.SeverityError)
	case errors.As(err, &pErr):
		s.toasts.Push(InvalidJSON, notify.SeverityError)
	default:
		s.toasts.Push(transfer.ImportFallback, notify.SeverityError)
	}
	return out, err
}

func (s *Service) reportExport(err error) {
	if err != nil {
		s.logger.Warn("export failed", zap.Error(err))
		s.toasts.Push(ExportFailed, notify.SeverityError)
		return
	}
	s.toasts.Push("Device list exported successfully", notify.SeveritySuccess)
}

// nameOf returns the cached name of device id, or id itself.
func (s *Service) nameOf(id string) string {
	col, _ := s.store.Read(Key)
	for _, d := range col.Data {
		if d.ID == id {
			return d.Name
		}
	}
	return id
}

func (s *Service) publishSnapshot(col cache.Collection[models.Device]) {
	s.publish(event.TopicDevicesSnapshot, snapshotOf(col))
}

func (s *Service) publishToast(ev notify.Event) {
	topic := event.TopicToastPushed
	if ev.Kind == notify.EventRemoved {
		topic = event.TopicToastRemoved
	}
	s.publish(topic, ev)
}

func (s *Service) publishWakeState(ev wake.Event) {
	s.publish(event.TopicWakeState, WakeState{DeviceID: ev.DeviceID, InProgress: ev.InProgress})
}

func (s *Service) publish(topic string, payload any) {
	if s.bus == nil {
		return
	}
	err := s.bus.Publish(context.Background(), event.Event{
		Topic:     topic,
		Source:    "devices",
		Timestamp: s.sched.Clock().Now(),
		Payload:   payload,
	})
	if err != nil {
		s.logger.Warn("publish failed", zap.String("topic", topic), zap.Error(err))
	}
}

func snapshotOf(col cache.Collection[models.Device]) Snapshot {
	snap := Snapshot{
		Key:       Key,
		Status:    col.Status,
		Stale:     col.Stale,
		Fetching:  col.Fetching,
		FetchedAt: col.FetchedAt,
		Devices:   col.Data,
	}
	if snap.Status == "" {
		snap.Status = cache.StatusIdle
	}
	if snap.Devices == nil {
		snap.Devices = []models.Device{}
	}
	if col.Err != nil {
		snap.Error = api.Message(col.Err, "Failed to load devices")
	}
	return snap
}

package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/HerbHall/jump/internal/api"
	"github.com/HerbHall/jump/internal/cache"
	"github.com/HerbHall/jump/internal/devices"
	"github.com/HerbHall/jump/internal/mutation"
	"github.com/HerbHall/jump/internal/notify"
	"github.com/HerbHall/jump/internal/wake"
	"github.com/HerbHall/jump/internal/ws"
	"github.com/HerbHall/jump/pkg/models"
	"go.uber.org/zap"
	"k8s.io/utils/clock"
)

// ErrToastNotFound is returned when dismissing a notification that is gone.
var ErrToastNotFound = errors.New("notification not found")

// Devices is the part of devices.Service the bridge drives.
type Devices interface {
	Current() devices.Snapshot
	Toasts() []notify.Entry
	WakeStates() []wake.State
	Stats() devices.Stats
	Refresh(ctx context.Context) error
	Wake(ctx context.Context, id string) wake.Result
	Delete(ctx context.Context, id string) (mutation.Outcome[models.Device], error)
	Dismiss(id string) bool
}

var _ Devices = (*devices.Service)(nil)

// CommandError carries the user-facing message of a failed command.
type CommandError struct {
	Message string
	Err     error
}

func (e *CommandError) Error() string { return e.Message }

func (e *CommandError) Unwrap() error { return e.Err }

// State is the full client state served by GET /api/v1/state.
type State struct {
	Devices devices.Snapshot `json:"devices"`
	Toasts  []notify.Entry   `json:"toasts"`
	Wakes   []wake.State     `json:"wakes"`
	Stats   devices.Stats    `json:"stats"`
}

// Bridge adapts the device service to renderers: it answers websocket
// commands, serves the JSON API and refreshes the collection periodically.
type Bridge struct {
	devices  Devices
	clock    clock.Clock
	interval time.Duration
	logger   *zap.Logger
}

// NewBridge creates a Bridge over d.
func NewBridge(d Devices, clk clock.Clock, cfg Config, logger *zap.Logger) *Bridge {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = DefaultConfig().RefreshInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{devices: d, clock: clk, interval: cfg.RefreshInterval, logger: logger}
}

// Snapshot returns the messages that bring a new renderer up to date.
func (b *Bridge) Snapshot() []ws.Message {
	now := b.clock.Now()
	msgs := []ws.Message{{Type: ws.MessageDevicesSnapshot, Timestamp: now, Data: b.devices.Current()}}
	for _, e := range b.devices.Toasts() {
		msgs = append(msgs, ws.Message{
			Type:      ws.MessageToastPushed,
			Timestamp: now,
			Data:      notify.Event{Kind: notify.EventPushed, Entry: e},
		})
	}
	for _, st := range b.devices.WakeStates() {
		msgs = append(msgs, ws.Message{
			Type:      ws.MessageWakeState,
			Timestamp: now,
			Data:      devices.WakeState{DeviceID: st.DeviceID, InProgress: true},
		})
	}
	return msgs
}

// Commands returns the websocket command executor.
func (b *Bridge) Commands() ws.Commander { return commander{b.devices} }

// Ready reports whether the device list has been loaded at least once.
func (b *Bridge) Ready(context.Context) error {
	snap := b.devices.Current()
	if snap.Status == cache.StatusSuccess || len(snap.Devices) > 0 {
		return nil
	}
	if snap.Error != "" {
		return errors.New(snap.Error)
	}
	return errors.New("device list not loaded")
}

// Run refreshes the collection every interval until ctx is cancelled.
func (b *Bridge) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-b.clock.After(b.interval):
			if err := b.devices.Refresh(ctx); err != nil && ctx.Err() == nil {
				b.logger.Warn("periodic refresh failed", zap.Error(err))
			}
		}
	}
}

// RegisterRoutes mounts the JSON command API.
func (b *Bridge) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/state", b.handleState)
	mux.HandleFunc("POST /api/v1/refresh", b.handleRefresh)
	mux.HandleFunc("POST /api/v1/devices/{id}/wake", b.handleWake)
	mux.HandleFunc("DELETE /api/v1/devices/{id}", b.handleDelete)
	mux.HandleFunc("DELETE /api/v1/toasts/{id}", b.handleDismiss)
}

// handleState returns the full client state.
//
//	@Summary		Client state
//	@Description	Returns the cached device list, visible notifications, raised wake indicators and counters.
//	@Tags			state
//	@Produce		json
//	@Success		200	{object}	State
//	@Router			/state [get]
func (b *Bridge) handleState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, State{
		Devices: b.devices.Current(),
		Toasts:  b.devices.Toasts(),
		Wakes:   b.devices.WakeStates(),
		Stats:   b.devices.Stats(),
	})
}

// handleRefresh reloads the device list.
//
//	@Summary		Refresh devices
//	@Description	Reloads the device list from the device service.
//	@Tags			devices
//	@Success		204
//	@Failure		502	{object}	Problem
//	@Router			/refresh [post]
func (b *Bridge) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if err := b.devices.Refresh(r.Context()); err != nil {
		BadGateway(w, api.Message(err, "Failed to load devices"), r.URL.Path)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleWake sends a wake packet.
//
//	@Summary		Wake a device
//	@Description	Asks the device service to send a magic packet. A wake already in progress for the device is rejected.
//	@Tags			devices
//	@Produce		json
//	@Param			id	path		string	true	"Device ID"
//	@Success		200	{object}	devices.WakeResult
//	@Failure		409	{object}	Problem
//	@Failure		502	{object}	Problem
//	@Router			/devices/{id}/wake [post]
func (b *Bridge) handleWake(w http.ResponseWriter, r *http.Request) {
	res := b.devices.Wake(r.Context(), r.PathValue("id"))
	switch {
	case res.Success:
		writeJSON(w, http.StatusOK, devices.WakeResult{DeviceID: res.DeviceID, Success: true, Message: res.Message})
	case errors.Is(res.Err, wake.ErrInProgress):
		Conflict(w, "wake already in progress", r.URL.Path)
	default:
		BadGateway(w, res.Message, r.URL.Path)
	}
}

// handleDelete removes a device.
//
//	@Summary		Delete a device
//	@Description	Removes the device optimistically. On failure the previous list is restored.
//	@Tags			devices
//	@Param			id	path	string	true	"Device ID"
//	@Success		204
//	@Failure		404	{object}	Problem
//	@Failure		502	{object}	Problem
//	@Router			/devices/{id} [delete]
func (b *Bridge) handleDelete(w http.ResponseWriter, r *http.Request) {
	out, err := b.devices.Delete(r.Context(), r.PathValue("id"))
	if err != nil {
		var sErr *api.ServiceError
		if errors.As(err, &sErr) && sErr.Status == http.StatusNotFound {
			NotFound(w, out.Message, r.URL.Path)
			return
		}
		BadGateway(w, out.Message, r.URL.Path)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleDismiss removes a notification.
//
//	@Summary		Dismiss a notification
//	@Description	Removes a visible notification before its timeout.
//	@Tags			state
//	@Param			id	path	string	true	"Notification ID"
//	@Success		204
//	@Failure		404	{object}	Problem
//	@Router			/toasts/{id} [delete]
func (b *Bridge) handleDismiss(w http.ResponseWriter, r *http.Request) {
	if !b.devices.Dismiss(r.PathValue("id")) {
		NotFound(w, ErrToastNotFound.Error(), r.URL.Path)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// commander runs websocket commands against the device service.
type commander struct {
	devices Devices
}

func (c commander) Wake(ctx context.Context, id string) error {
	res := c.devices.Wake(ctx, id)
	if res.Success {
		return nil
	}
	if errors.Is(res.Err, wake.ErrInProgress) {
		return &CommandError{Message: "wake already in progress", Err: res.Err}
	}
	return &CommandError{Message: res.Message, Err: res.Err}
}

func (c commander) Delete(ctx context.Context, id string) error {
	out, err := c.devices.Delete(ctx, id)
	if err != nil {
		return &CommandError{Message: out.Message, Err: err}
	}
	return nil
}

func (c commander) Dismiss(id string) error {
	if !c.devices.Dismiss(id) {
		return ErrToastNotFound
	}
	return nil
}

func (c commander) Refresh(ctx context.Context) error {
	if err := c.devices.Refresh(ctx); err != nil {
		return &CommandError{Message: api.Message(err, "Failed to load devices"), Err: err}
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

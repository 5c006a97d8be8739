// Package wake sends wake commands through the device service.
//
// A command for a device that is already being woken is rejected without
// a network call. The in-progress indicator for a device stays up for at
// least the configured minimum, even when the service answers sooner.
package wake

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/HerbHall/jump/internal/metrics"
	"github.com/HerbHall/jump/internal/sched"
	"github.com/HerbHall/jump/pkg/models"
	"go.uber.org/zap"
)

// FallbackMessage is reported for every failed wake except a structured
// refusal that carries its own message.
const FallbackMessage = "Failed to send wake packet"

var (
	// ErrInProgress is returned for a device whose previous wake has not cleared.
	ErrInProgress = errors.New("wake already in progress")
	// ErrNotSent means the service answered but reported that no packet went out.
	ErrNotSent = errors.New("wake packet not sent")
)

// Contract is the response shape expected from POST /devices/{id}/wake.
type Contract string

const (
	// ContractAuto accepts a structured body or an empty 2xx.
	ContractAuto Contract = "auto"
	// ContractStructured requires a {success, message} body.
	ContractStructured Contract = "structured"
	// ContractLegacy treats any 2xx as success and ignores the body.
	ContractLegacy Contract = "legacy"
)

// ParseContract validates a configured contract name.
func ParseContract(s string) (Contract, error) {
	switch c := Contract(s); c {
	case ContractAuto, ContractStructured, ContractLegacy:
		return c, nil
	case "":
		return ContractAuto, nil
	default:
		return "", fmt.Errorf("unknown wake contract %q (want auto, structured or legacy)", s)
	}
}

// Config holds wake runner settings.
type Config struct {
	MinVisible time.Duration `mapstructure:"min_visible"` // Minimum time the indicator stays up (default: 500ms)
	Contract   Contract      `mapstructure:"contract"`    // Response contract (default: auto)
}

// DefaultConfig returns the default wake settings.
func DefaultConfig() Config {
	return Config{MinVisible: 500 * time.Millisecond, Contract: ContractAuto}
}

// Client is the part of the device service client the runner needs.
type Client interface {
	WakeDevice(ctx context.Context, id string) (json.RawMessage, error)
}

// State is the in-progress indicator of one device.
type State struct {
	DeviceID        string    `json:"device_id"`
	StartedAt       time.Time `json:"started_at"`
	MinVisibleUntil time.Time `json:"min_visible_until"`
}

// Result is the outcome of one wake command.
type Result struct {
	DeviceID string
	Success  bool
	Message  string
	Err      error
}

// Event reports the indicator of a device going up or down.
type Event struct {
	DeviceID   string
	InProgress bool
}

// Handler receives the result of a wake command. It may be nil.
type Handler func(Result)

// Runner issues wake commands. It never reads or writes the device cache.
type Runner struct {
	client Client
	sched  *sched.Scheduler
	cfg    Config
	logger *zap.Logger

	mu      sync.Mutex
	states  map[string]State
	subs    map[uint64]func(Event)
	nextSub uint64
}

// NewRunner creates a Runner whose indicator timers run on s.
func NewRunner(client Client, s *sched.Scheduler, cfg Config, logger *zap.Logger) *Runner {
	if cfg.MinVisible <= 0 {
		cfg.MinVisible = DefaultConfig().MinVisible
	}
	if cfg.Contract == "" {
		cfg.Contract = ContractAuto
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		client: client,
		sched:  s,
		cfg:    cfg,
		logger: logger,
		states: make(map[string]State),
		subs:   make(map[uint64]func(Event)),
	}
}

// Wake sends a wake command for deviceID and reports the result to h.
// The request is not tied to ctx's cancellation: once sent, a wake runs to
// completion or to the transport timeout.
func (r *Runner) Wake(ctx context.Context, deviceID string, h Handler) Result {
	r.mu.Lock()
	if _, busy := r.states[deviceID]; busy {
		r.mu.Unlock()
		metrics.WakeCommandsTotal.WithLabelValues("rejected").Inc()
		return Result{DeviceID: deviceID, Err: ErrInProgress}
	}
	now := r.sched.Clock().Now()
	st := State{DeviceID: deviceID, StartedAt: now, MinVisibleUntil: now.Add(r.cfg.MinVisible)}
	r.states[deviceID] = st
	r.mu.Unlock()
	r.emit(Event{DeviceID: deviceID, InProgress: true})

	raw, err := r.client.WakeDevice(context.WithoutCancel(ctx), deviceID)
	res := r.interpret(deviceID, raw, err)

	if r.sched.Clock().Now().Before(st.MinVisibleUntil) {
		r.sched.At(st.MinVisibleUntil, func() { r.clear(deviceID) })
	} else {
		r.clear(deviceID)
	}

	if res.Success {
		metrics.WakeCommandsTotal.WithLabelValues("success").Inc()
		r.logger.Info("wake packet sent", zap.String("device_id", deviceID))
	} else {
		metrics.WakeCommandsTotal.WithLabelValues("failure").Inc()
		r.logger.Warn("wake failed", zap.String("device_id", deviceID), zap.Error(res.Err))
	}
	r.safeCall(h, res)
	return res
}

// InProgress reports whether the indicator for deviceID is up.
func (r *Runner) InProgress(deviceID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.states[deviceID]
	return ok
}

// States returns every raised indicator, ordered by device ID.
func (r *Runner) States() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]State, 0, len(r.states))
	for _, st := range r.states {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out
}

// Subscribe registers fn for indicator changes. The returned func removes it.
func (r *Runner) Subscribe(fn func(Event)) func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextSub++
	id := r.nextSub
	r.subs[id] = fn
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.subs, id)
	}
}

func (r *Runner) interpret(deviceID string, raw json.RawMessage, err error) Result {
	res := Result{DeviceID: deviceID}
	if err != nil {
		res.Err = err
		res.Message = FallbackMessage
		return res
	}

	body := bytes.TrimSpace(raw)
	if r.cfg.Contract == ContractLegacy || (r.cfg.Contract == ContractAuto && len(body) == 0) {
		res.Success = true
		return res
	}

	var resp models.WakeResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		if r.cfg.Contract == ContractAuto {
			res.Success = true
			return res
		}
		res.Err = fmt.Errorf("decode wake response: %w", err)
		res.Message = FallbackMessage
		return res
	}

	res.Success = resp.Success
	res.Message = resp.Message
	if !resp.Success {
		res.Err = ErrNotSent
		if res.Message == "" {
			res.Message = FallbackMessage
		}
	}
	return res
}

func (r *Runner) clear(deviceID string) {
	r.mu.Lock()
	_, ok := r.states[deviceID]
	delete(r.states, deviceID)
	r.mu.Unlock()
	if ok {
		r.emit(Event{DeviceID: deviceID, InProgress: false})
	}
}

func (r *Runner) emit(ev Event) {
	r.mu.Lock()
	subs := make([]func(Event), 0, len(r.subs))
	for _, fn := range r.subs {
		subs = append(subs, fn)
	}
	r.mu.Unlock()
	for _, fn := range subs {
		fn(ev)
	}
}

func (r *Runner) safeCall(h Handler, res Result) {
	if h == nil {
		return
	}
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("wake handler panicked", zap.String("device_id", res.DeviceID), zap.Any("panic", p))
		}
	}()
	h(res)
}

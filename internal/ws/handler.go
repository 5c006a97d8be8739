package ws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/HerbHall/jump/internal/event"
	"github.com/coder/websocket"
	"go.uber.org/zap"
)

// ErrUnknownCommand is reported for a command type the bridge does not handle.
var ErrUnknownCommand = errors.New("unknown command")

// Commander executes renderer commands.
type Commander interface {
	Wake(ctx context.Context, deviceID string) error
	Delete(ctx context.Context, deviceID string) error
	Dismiss(toastID string) error
	Refresh(ctx context.Context) error
}

// SnapshotFunc returns the messages a newly connected renderer needs to
// render current state.
type SnapshotFunc func() []Message

// Handler streams client state to renderers and accepts their commands.
type Handler struct {
	hub         *Hub
	commands    Commander
	snapshot    SnapshotFunc
	logger      *zap.Logger
	unsubscribe func()
}

// Compile-time check that Handler implements the server interface.
var _ interface {
	RegisterRoutes(mux *http.ServeMux)
} = (*Handler)(nil)

// NewHandler creates a WebSocket handler and forwards every bus event to
// connected renderers.
func NewHandler(bus event.Subscriber, commands Commander, snapshot SnapshotFunc, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Handler{
		hub:      NewHub(logger),
		commands: commands,
		snapshot: snapshot,
		logger:   logger,
	}
	if bus != nil {
		h.unsubscribe = bus.SubscribeAll(h.forward)
	}
	return h
}

// Hub returns the connection hub.
func (h *Handler) Hub() *Hub { return h.hub }

// Close stops forwarding bus events.
func (h *Handler) Close() {
	if h.unsubscribe != nil {
		h.unsubscribe()
	}
}

// RegisterRoutes registers WebSocket routes on the server mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws", h.handleStream)
}

// handleStream upgrades the connection, sends the current state, then
// streams changes while executing commands the renderer sends.
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// The bridge listens on loopback for a local renderer.
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.logger.Error("websocket accept failed", zap.Error(err))
		return
	}

	client := newClient(conn, r.RemoteAddr, h.logger)
	h.hub.Register(client)
	if h.snapshot != nil {
		for _, msg := range h.snapshot() {
			client.enqueue(msg)
		}
	}

	// Run read and write pumps. When either exits, clean up.
	ctx := r.Context()
	done := make(chan struct{})
	go func() {
		client.writePump(ctx)
		close(done)
	}()

	var commands sync.WaitGroup
	client.readPump(ctx, func(cmd Command) {
		commands.Add(1)
		go func() {
			defer commands.Done()
			client.enqueue(h.execute(ctx, cmd))
		}()
	})

	// Client disconnected -- stop write pump and unregister.
	h.hub.Unregister(client)
	conn.Close(websocket.StatusNormalClosure, "")
	<-done
	commands.Wait()
}

// execute runs one command. Commands outlive the connection that sent
// them; only the reply is lost if the renderer has gone.
func (h *Handler) execute(ctx context.Context, cmd Command) Message {
	ctx = context.WithoutCancel(ctx)

	var err error
	if h.commands == nil {
		err = fmt.Errorf("%w: %s", ErrUnknownCommand, cmd.Type)
	} else {
		switch cmd.Type {
		case CommandWake:
			err = h.commands.Wake(ctx, cmd.DeviceID)
		case CommandDelete:
			err = h.commands.Delete(ctx, cmd.DeviceID)
		case CommandDismiss:
			err = h.commands.Dismiss(cmd.ToastID)
		case CommandRefresh:
			err = h.commands.Refresh(ctx)
		default:
			err = fmt.Errorf("%w: %s", ErrUnknownCommand, cmd.Type)
		}
	}

	result := CommandResultData{OK: err == nil}
	if err != nil {
		result.Error = err.Error()
		h.logger.Debug("renderer command failed",
			zap.String("command", string(cmd.Type)),
			zap.String("command_id", cmd.ID),
			zap.Error(err),
		)
	}
	return Message{
		Type:      MessageCommandResult,
		CommandID: cmd.ID,
		Timestamp: time.Now(),
		Data:      result,
	}
}

// forward relays a bus event to every renderer.
func (h *Handler) forward(_ context.Context, e event.Event) {
	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	h.hub.Broadcast(Message{
		Type:      MessageType(e.Topic),
		Timestamp: ts,
		Data:      e.Payload,
	})
}

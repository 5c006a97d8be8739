package ws

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/HerbHall/jump/internal/event"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"
)

// recordingCommander records the commands it receives.
type recordingCommander struct {
	mu    sync.Mutex
	calls []string
}

func (c *recordingCommander) record(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, s)
}

func (c *recordingCommander) Wake(_ context.Context, id string) error {
	c.record("wake:" + id)
	return nil
}

func (c *recordingCommander) Delete(_ context.Context, id string) error {
	c.record("delete:" + id)
	return errors.New("Failed to delete device")
}

func (c *recordingCommander) Dismiss(id string) error {
	c.record("dismiss:" + id)
	return nil
}

func (c *recordingCommander) Refresh(context.Context) error {
	c.record("refresh")
	return nil
}

// wireMessage mirrors Message with raw data for decoding on the renderer side.
type wireMessage struct {
	Type      MessageType    `json:"type"`
	CommandID string         `json:"command_id"`
	Data      map[string]any `json:"data"`
}

func dialTestServer(t *testing.T, h *Handler) *websocket.Conn {
	t.Helper()
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) wireMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var msg wireMessage
	if err := wsjson.Read(ctx, conn, &msg); err != nil {
		t.Fatalf("Read: %v", err)
	}
	return msg
}

func TestHandler_SnapshotOnConnect(t *testing.T) {
	snapshot := func() []Message {
		return []Message{{Type: MessageDevicesSnapshot, Data: map[string]any{"status": "success"}}}
	}
	h := NewHandler(nil, nil, snapshot, zap.NewNop())
	conn := dialTestServer(t, h)

	msg := readMessage(t, conn)
	if msg.Type != MessageDevicesSnapshot || msg.Data["status"] != "success" {
		t.Errorf("first message = %+v, want devices snapshot", msg)
	}
}

func TestHandler_ForwardsBusEvents(t *testing.T) {
	bus := event.NewBus(zap.NewNop())
	ready := make(chan struct{})
	h := NewHandler(bus, nil, func() []Message {
		defer close(ready)
		return nil
	}, zap.NewNop())
	defer h.Close()
	conn := dialTestServer(t, h)
	<-ready

	_ = bus.Publish(context.Background(), event.Event{
		Topic:   event.TopicToastPushed,
		Payload: map[string]any{"message": "NAS removed"},
	})

	msg := readMessage(t, conn)
	if msg.Type != MessageToastPushed || msg.Data["message"] != "NAS removed" {
		t.Errorf("message = %+v", msg)
	}
}

func TestHandler_Commands(t *testing.T) {
	cmds := &recordingCommander{}
	h := NewHandler(nil, cmds, nil, zap.NewNop())
	conn := dialTestServer(t, h)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tests := []struct {
		cmd    Command
		wantOK bool
	}{
		{cmd: Command{ID: "1", Type: CommandWake, DeviceID: "pc"}, wantOK: true},
		{cmd: Command{ID: "2", Type: CommandDelete, DeviceID: "nas"}, wantOK: false},
		{cmd: Command{ID: "3", Type: CommandDismiss, ToastID: "t1"}, wantOK: true},
		{cmd: Command{ID: "4", Type: "reboot"}, wantOK: false},
	}

	for _, tt := range tests {
		if err := wsjson.Write(ctx, conn, tt.cmd); err != nil {
			t.Fatalf("Write: %v", err)
		}
		msg := readMessage(t, conn)
		if msg.Type != MessageCommandResult || msg.CommandID != tt.cmd.ID {
			t.Fatalf("reply = %+v, want result for %s", msg, tt.cmd.ID)
		}
		if ok, _ := msg.Data["ok"].(bool); ok != tt.wantOK {
			t.Errorf("command %s ok = %v, want %v (%v)", tt.cmd.Type, ok, tt.wantOK, msg.Data["error"])
		}
	}

	cmds.mu.Lock()
	defer cmds.mu.Unlock()
	if len(cmds.calls) != 3 || cmds.calls[0] != "wake:pc" || cmds.calls[1] != "delete:nas" {
		t.Errorf("calls = %v", cmds.calls)
	}
}

package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/HerbHall/jump/pkg/models"
)

// Route names used to count calls and inject failures.
const (
	RouteList   = "GET /devices"
	RouteCreate = "POST /devices"
	RouteUpdate = "PUT /devices/{id}"
	RouteDelete = "DELETE /devices/{id}"
	RouteWake   = "POST /devices/{id}/wake"
	RouteLookup = "POST /arp-lookup"
	RouteExport = "GET /devices/export"
	RouteImport = "POST /devices/import"
)

type failure struct {
	status  int
	message string
	once    bool
}

// FakeService is an in-memory device service served over httptest.
type FakeService struct {
	srv *httptest.Server

	mu         sync.Mutex
	devices    []models.Device
	calls      map[string]int
	failures   map[string]failure
	arp        map[string]string
	wakeLegacy bool
	wakeRefuse string
	holds      map[string]chan struct{}
}

// NewFakeService starts a fake service holding devices. It is closed when
// the test ends.
func NewFakeService(t *testing.T, devices ...models.Device) *FakeService {
	t.Helper()
	f := &FakeService{
		devices:  append([]models.Device(nil), devices...),
		calls:    make(map[string]int),
		failures: make(map[string]failure),
		arp:      make(map[string]string),
		holds:    make(map[string]chan struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc(RouteList, f.handle(RouteList, f.list))
	mux.HandleFunc(RouteCreate, f.handle(RouteCreate, f.create))
	mux.HandleFunc(RouteUpdate, f.handle(RouteUpdate, f.update))
	mux.HandleFunc(RouteDelete, f.handle(RouteDelete, f.delete))
	mux.HandleFunc(RouteWake, f.handle(RouteWake, f.wake))
	mux.HandleFunc(RouteLookup, f.handle(RouteLookup, f.lookup))
	mux.HandleFunc(RouteExport, f.handle(RouteExport, f.export))
	mux.HandleFunc(RouteImport, f.handle(RouteImport, f.importDevices))

	f.srv = httptest.NewServer(mux)
	t.Cleanup(func() {
		f.mu.Lock()
		for _, ch := range f.holds {
			close(ch)
		}
		f.holds = map[string]chan struct{}{}
		f.mu.Unlock()
		f.srv.Close()
	})
	return f
}

// URL is the base URL to configure the client with.
func (f *FakeService) URL() string { return f.srv.URL }

// Devices returns the service's current records.
func (f *FakeService) Devices() []models.Device {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Device(nil), f.devices...)
}

// SetDevices replaces the service's records.
func (f *FakeService) SetDevices(devices ...models.Device) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.devices = append([]models.Device(nil), devices...)
}

// Calls returns how many requests reached route.
func (f *FakeService) Calls(route string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[route]
}

// Fail makes every request to route answer with status and an error
// envelope carrying message. An empty message sends a non-JSON body.
func (f *FakeService) Fail(route string, status int, message string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[route] = failure{status: status, message: message}
}

// FailOnce is like Fail but only for the next request to route.
func (f *FakeService) FailOnce(route string, status int, message string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[route] = failure{status: status, message: message, once: true}
}

// Recover clears an injected failure.
func (f *FakeService) Recover(route string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.failures, route)
}

// Hold blocks requests to route until the returned func is called.
func (f *FakeService) Hold(route string) (release func()) {
	ch := make(chan struct{})
	f.mu.Lock()
	f.holds[route] = ch
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.holds[route] == ch {
			delete(f.holds, route)
			close(ch)
		}
	}
}

// SetWakeLegacy makes wake answer 200 with an empty body.
func (f *FakeService) SetWakeLegacy(legacy bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.wakeLegacy = legacy
}

// RefuseWake makes wake answer 200 with {success:false, message}.
func (f *FakeService) RefuseWake(message string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.wakeRefuse = message
}

// SetARP adds an entry to the fake ARP table.
func (f *FakeService) SetARP(ip, mac string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.arp[ip] = mac
}

func (f *FakeService) handle(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.calls[route]++
		hold := f.holds[route]
		fail, failing := f.failures[route]
		if failing && fail.once {
			delete(f.failures, route)
		}
		f.mu.Unlock()

		if hold != nil {
			<-hold
		}
		if failing {
			if fail.message == "" {
				w.WriteHeader(fail.status)
				_, _ = w.Write([]byte("internal error"))
				return
			}
			writeError(w, fail.status, fail.message)
			return
		}
		next(w, r)
	}
}

func (f *FakeService) list(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, f.Devices())
}

func (f *FakeService) create(w http.ResponseWriter, r *http.Request) {
	var p models.DevicePayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := models.ValidateMAC(p.MACAddress); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid MAC address format")
		return
	}
	d := p.Apply(models.Device{ID: uuid.New().String()})

	f.mu.Lock()
	f.devices = append(f.devices, d)
	f.mu.Unlock()
	writeJSON(w, http.StatusCreated, d)
}

func (f *FakeService) update(w http.ResponseWriter, r *http.Request) {
	var p models.DevicePayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	id := r.PathValue("id")

	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.devices {
		if f.devices[i].ID == id {
			f.devices[i] = p.Apply(f.devices[i])
			writeJSON(w, http.StatusOK, f.devices[i])
			return
		}
	}
	writeError(w, http.StatusNotFound, "Device not found")
}

func (f *FakeService) delete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.devices {
		if f.devices[i].ID == id {
			f.devices = append(f.devices[:i], f.devices[i+1:]...)
			w.WriteHeader(http.StatusNoContent)
			return
		}
	}
	writeError(w, http.StatusNotFound, "Device not found")
}

func (f *FakeService) wake(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	f.mu.Lock()
	legacy, refuse := f.wakeLegacy, f.wakeRefuse
	found := false
	for _, d := range f.devices {
		if d.ID == id {
			found = true
			break
		}
	}
	f.mu.Unlock()

	if !found {
		writeError(w, http.StatusNotFound, "Device not found")
		return
	}
	if legacy {
		w.WriteHeader(http.StatusOK)
		return
	}
	if refuse != "" {
		writeJSON(w, http.StatusOK, models.WakeResponse{Success: false, Message: refuse})
		return
	}
	writeJSON(w, http.StatusOK, models.WakeResponse{Success: true, Message: "Wake-on-LAN packet sent"})
}

func (f *FakeService) lookup(w http.ResponseWriter, r *http.Request) {
	var req models.MacLookupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	f.mu.Lock()
	mac, ok := f.arp[req.IP]
	f.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusOK, models.MacLookupResponse{Found: false, Error: "MAC address not found in ARP table"})
		return
	}
	writeJSON(w, http.StatusOK, models.MacLookupResponse{Found: true, MAC: mac})
}

func (f *FakeService) export(w http.ResponseWriter, _ *http.Request) {
	devices := f.Devices()
	out := make([]models.PortableDevice, 0, len(devices))
	for _, d := range devices {
		out = append(out, models.Portable(d))
	}
	writeJSON(w, http.StatusOK, out)
}

func (f *FakeService) importDevices(w http.ResponseWriter, r *http.Request) {
	var in []models.PortableDevice
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	created := make([]models.Device, 0, len(in))
	for _, p := range in {
		created = append(created, models.Device{
			ID:          uuid.New().String(),
			Name:        p.Name,
			MACAddress:  p.MACAddress,
			IPAddress:   p.IPAddress,
			Port:        p.Port,
			Description: p.Description,
		})
	}

	f.mu.Lock()
	f.devices = append(f.devices, created...)
	f.mu.Unlock()
	writeJSON(w, http.StatusOK, created)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"status": "error", "message": message})
}

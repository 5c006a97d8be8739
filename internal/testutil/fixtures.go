package testutil

import (
	"github.com/google/uuid"

	"github.com/HerbHall/jump/pkg/models"
)

// NewDevice returns a Device with sensible defaults, suitable for test fixtures.
// Override individual fields after creation as needed.
func NewDevice(opts ...func(*models.Device)) models.Device {
	d := models.Device{
		ID:         uuid.New().String(),
		Name:       "test-device",
		MACAddress: "00:11:22:33:44:55",
		Port:       models.DefaultWakePort,
	}
	for _, opt := range opts {
		opt(&d)
	}
	return d
}

// WithID sets the device ID.
func WithID(id string) func(*models.Device) {
	return func(d *models.Device) { d.ID = id }
}

// WithName sets the device name.
func WithName(name string) func(*models.Device) {
	return func(d *models.Device) { d.Name = name }
}

// WithMAC sets the device's MAC address.
func WithMAC(mac string) func(*models.Device) {
	return func(d *models.Device) { d.MACAddress = mac }
}

// WithIP sets the device's IP address.
func WithIP(ip string) func(*models.Device) {
	return func(d *models.Device) { d.IPAddress = &ip }
}

// WithPort sets the wake port.
func WithPort(port int) func(*models.Device) {
	return func(d *models.Device) { d.Port = port }
}

// WithDescription sets the free-text description.
func WithDescription(desc string) func(*models.Device) {
	return func(d *models.Device) { d.Description = &desc }
}

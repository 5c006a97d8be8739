package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// PortableDevice is the id-free export shape of a device. It is what
// GET /devices/export returns and what POST /devices/import accepts.
type PortableDevice struct {
	Name        string  `json:"name" example:"Gaming PC"`
	MACAddress  string  `json:"mac_address" example:"00:11:22:33:44:55"`
	Port        int     `json:"port" example:"9"`
	IPAddress   *string `json:"ip_address" example:"192.168.1.100"`
	Description *string `json:"description" example:"My main gaming rig"`
}

// ImportRecord is one entry of a user-supplied import document. Every field
// except Name may be missing or empty.
type ImportRecord struct {
	Name        string     `json:"name"`
	MACAddress  *string    `json:"mac_address,omitempty"`
	IPAddress   *string    `json:"ip_address,omitempty"`
	Port        ImportPort `json:"port,omitempty"`
	Description *string    `json:"description,omitempty"`
}

// ImportPort is the port of an import record. Hand-edited documents carry
// numbers, numeric strings ("9") or fractions; any value that is not a
// positive integer decodes to 0, which Normalize turns into
// DefaultWakePort. Objects and arrays are rejected.
type ImportPort int

func (p *ImportPort) UnmarshalJSON(data []byte) error {
	*p = 0
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return err
	}
	switch v := v.(type) {
	case json.Number:
		*p = parsePort(v.String())
	case string:
		*p = parsePort(strings.TrimSpace(v))
	case nil, bool:
	default:
		return fmt.Errorf("port: expected a number, got %s", data)
	}
	return nil
}

func parsePort(s string) ImportPort {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0
	}
	return ImportPort(n)
}

// Portable projects d to the export shape, dropping its identity.
func Portable(d Device) PortableDevice {
	return PortableDevice{
		Name:        d.Name,
		MACAddress:  d.MACAddress,
		Port:        d.Port,
		IPAddress:   d.IPAddress,
		Description: d.Description,
	}
}

// Normalize fills the defaults the device service expects: an absent MAC
// becomes "", an absent or non-positive port becomes DefaultWakePort, and
// empty IP or description become null.
func (r ImportRecord) Normalize() PortableDevice {
	p := PortableDevice{
		Name:        r.Name,
		Port:        DefaultWakePort,
		IPAddress:   optional(deref(r.IPAddress)),
		Description: optional(deref(r.Description)),
	}
	if r.MACAddress != nil {
		p.MACAddress = *r.MACAddress
	}
	if r.Port > 0 {
		p.Port = int(r.Port)
	}
	return p
}

// NormalizeAll normalizes every record, preserving order.
func NormalizeAll(records []ImportRecord) []PortableDevice {
	out := make([]PortableDevice, 0, len(records))
	for _, r := range records {
		out = append(out, r.Normalize())
	}
	return out
}

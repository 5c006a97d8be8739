package models

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// DefaultWakePort is the UDP port used when a device does not specify one.
const DefaultWakePort = 9

// macPattern matches six hex octet pairs separated by colons or hyphens.
var macPattern = regexp.MustCompile(`^[0-9A-Fa-f]{2}([:-][0-9A-Fa-f]{2}){5}$`)

// Device is a Wake-on-LAN target as stored by the device service.
// Identity is ID; two records describe the same device when their IDs match.
type Device struct {
	ID          string  `json:"id" example:"550e8400-e29b-41d4-a716-446655440000"`
	Name        string  `json:"name" example:"Gaming PC"`
	MACAddress  string  `json:"mac_address" example:"AA:BB:CC:DD:EE:FF"`
	IPAddress   *string `json:"ip_address" example:"192.168.1.100"`
	Port        int     `json:"port" example:"9"`
	Description *string `json:"description" example:"My main gaming rig"`
}

// DeviceID returns the identity of d.
func DeviceID(d Device) string { return d.ID }

// DeviceInput is the loosely typed form a user fills in to create or edit a device.
// Port is kept as text because it comes straight from a form field or CLI flag.
type DeviceInput struct {
	Name        string
	MACAddress  string
	IPAddress   string
	Port        string
	Description string
}

// DevicePayload is the request body for POST /devices and PUT /devices/{id}.
// Optional fields serialize as null rather than being omitted.
type DevicePayload struct {
	Name        string  `json:"name"`
	MACAddress  string  `json:"mac_address"`
	IPAddress   *string `json:"ip_address"`
	Port        int     `json:"port"`
	Description *string `json:"description"`
}

// Validate checks the fields the device service would reject, so that
// malformed input never reaches the network.
func (in DeviceInput) Validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return &ValidationError{Field: "name", Reason: "is required"}
	}
	if err := ValidateMAC(in.MACAddress); err != nil {
		return err
	}
	return nil
}

// Payload converts the form into the wire shape. A port that is not a
// positive integer falls back to DefaultWakePort.
func (in DeviceInput) Payload() DevicePayload {
	return DevicePayload{
		Name:        in.Name,
		MACAddress:  in.MACAddress,
		IPAddress:   optional(in.IPAddress),
		Port:        ParsePort(in.Port),
		Description: optional(in.Description),
	}
}

// Apply returns d with the payload's fields written over it. Used to build
// the optimistic version of an edited device.
func (p DevicePayload) Apply(d Device) Device {
	d.Name = p.Name
	d.MACAddress = p.MACAddress
	d.IPAddress = p.IPAddress
	d.Port = p.Port
	d.Description = p.Description
	return d
}

// InputFromDevice pre-fills a form from an existing record.
func InputFromDevice(d Device) DeviceInput {
	return DeviceInput{
		Name:        d.Name,
		MACAddress:  d.MACAddress,
		IPAddress:   deref(d.IPAddress),
		Port:        strconv.Itoa(d.Port),
		Description: deref(d.Description),
	}
}

// ParsePort parses a port field. Anything that is not a positive integer
// yields DefaultWakePort. Leading digits are honoured ("9abc" is 9).
func ParsePort(s string) int {
	s = strings.TrimSpace(s)
	end := 0
	if end < len(s) && (s[end] == '+' || s[end] == '-') {
		end++
	}
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	n, err := strconv.Atoi(s[:end])
	if err != nil || n <= 0 {
		return DefaultWakePort
	}
	return n
}

// ValidateMAC accepts six hex octet pairs separated by ':' or '-', in any case.
func ValidateMAC(mac string) error {
	if !macPattern.MatchString(mac) {
		return &ValidationError{Field: "mac_address", Reason: fmt.Sprintf("%q is not a valid MAC address", mac)}
	}
	return nil
}

// ValidationError reports a locally detected invalid value.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e == nil {
		return "validation error"
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// WakeResponse is the structured body returned by POST /devices/{id}/wake.
type WakeResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// MacLookupRequest is the body of POST /arp-lookup.
type MacLookupRequest struct {
	IP string `json:"ip"`
}

// MacLookupResponse is the result of an ARP lookup on the service host.
type MacLookupResponse struct {
	Found bool   `json:"found"`
	MAC   string `json:"mac,omitempty"`
	Error string `json:"error,omitempty"`
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

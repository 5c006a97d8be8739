package models

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestValidateMAC(t *testing.T) {
	tests := []struct {
		name    string
		mac     string
		wantErr bool
	}{
		{name: "colons uppercase", mac: "AA:BB:CC:DD:EE:FF"},
		{name: "hyphens lowercase", mac: "aa-bb-cc-dd-ee-ff"},
		{name: "mixed case", mac: "Aa:Bb:Cc:Dd:Ee:Ff"},
		{name: "no separators", mac: "AABBCCDDEEFF", wantErr: true},
		{name: "five octets", mac: "AA:BB:CC:DD:EE", wantErr: true},
		{name: "seven octets", mac: "AA:BB:CC:DD:EE:FF:00", wantErr: true},
		{name: "invalid hex", mac: "GG:HH:II:JJ:KK:LL", wantErr: true},
		{name: "dotted", mac: "AABB.CCDD.EEFF", wantErr: true},
		{name: "empty", mac: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateMAC(tt.mac)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateMAC(%q) error = %v, wantErr %v", tt.mac, err, tt.wantErr)
			}
			if err != nil {
				var vErr *ValidationError
				if !errors.As(err, &vErr) {
					t.Fatalf("error type = %T, want *ValidationError", err)
				}
				if vErr.Field != "mac_address" {
					t.Errorf("Field = %q, want mac_address", vErr.Field)
				}
			}
		})
	}
}

func TestDeviceInput_Validate(t *testing.T) {
	in := DeviceInput{Name: "  ", MACAddress: "AA:BB:CC:DD:EE:FF"}
	err := in.Validate()
	var vErr *ValidationError
	if !errors.As(err, &vErr) || vErr.Field != "name" {
		t.Fatalf("Validate() = %v, want name validation error", err)
	}

	in.Name = "NAS"
	if err := in.Validate(); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}
}

func TestParsePort(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"9", 9},
		{"7", 7},
		{"", DefaultWakePort},
		{"0", DefaultWakePort},
		{"-3", DefaultWakePort},
		{"abc", DefaultWakePort},
		{"40000", 40000},
		{" 12 ", 12},
		{"12abc", 12},
	}
	for _, tt := range tests {
		if got := ParsePort(tt.in); got != tt.want {
			t.Errorf("ParsePort(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestDeviceInput_PayloadJSON(t *testing.T) {
	in := DeviceInput{Name: "Gaming PC", MACAddress: "AA:BB:CC:DD:EE:FF", Port: "9"}

	data, err := json.Marshal(in.Payload())
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	want := `{"name":"Gaming PC","mac_address":"AA:BB:CC:DD:EE:FF","ip_address":null,"port":9,"description":null}`
	if string(data) != want {
		t.Errorf("payload = %s, want %s", data, want)
	}
}

func TestDevicePayload_Apply(t *testing.T) {
	ip := "10.0.0.5"
	d := Device{ID: "x1", Name: "old", MACAddress: "AA:BB:CC:DD:EE:FF", Port: 9}
	p := DeviceInput{Name: "new", MACAddress: "11:22:33:44:55:66", IPAddress: ip, Port: "7"}.Payload()

	got := p.Apply(d)
	if got.ID != "x1" {
		t.Errorf("ID = %q, want x1", got.ID)
	}
	if got.Name != "new" || got.Port != 7 || got.IPAddress == nil || *got.IPAddress != ip {
		t.Errorf("Apply() = %+v", got)
	}
}

func TestInputFromDevice_RoundTrip(t *testing.T) {
	desc := "rack"
	d := Device{ID: "a", Name: "NAS", MACAddress: "AA:BB:CC:DD:EE:FF", Port: 7, Description: &desc}

	got := InputFromDevice(d).Payload().Apply(Device{ID: "a"})
	if got.Name != d.Name || got.Port != d.Port || got.IPAddress != nil || *got.Description != desc {
		t.Errorf("round trip = %+v, want %+v", got, d)
	}
}

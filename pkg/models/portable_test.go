package models

import (
	"encoding/json"
	"testing"
)

func TestImportRecord_Normalize(t *testing.T) {
	var rec ImportRecord
	input := `{"name":"TV","mac_address":"","ip_address":null,"port":0,"description":null}`
	if err := json.Unmarshal([]byte(input), &rec); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	got := rec.Normalize()
	if got.Port != 9 {
		t.Errorf("Port = %d, want 9", got.Port)
	}
	if got.MACAddress != "" {
		t.Errorf("MACAddress = %q, want empty", got.MACAddress)
	}
	if got.IPAddress != nil || got.Description != nil {
		t.Errorf("optional fields = %v/%v, want nil", got.IPAddress, got.Description)
	}
}

func TestImportRecord_NormalizeDefaults(t *testing.T) {
	empty := ""
	ip := "10.0.0.2"

	tests := []struct {
		name string
		rec  ImportRecord
		want PortableDevice
	}{
		{
			name: "all absent",
			rec:  ImportRecord{Name: "A"},
			want: PortableDevice{Name: "A", Port: 9},
		},
		{
			name: "empty strings become null",
			rec:  ImportRecord{Name: "B", IPAddress: &empty, Description: &empty},
			want: PortableDevice{Name: "B", Port: 9},
		},
		{
			name: "explicit values kept",
			rec:  ImportRecord{Name: "C", Port: 7, IPAddress: &ip},
			want: PortableDevice{Name: "C", Port: 7, IPAddress: &ip},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.rec.Normalize()
			if got.Name != tt.want.Name || got.Port != tt.want.Port || got.MACAddress != tt.want.MACAddress {
				t.Errorf("Normalize() = %+v, want %+v", got, tt.want)
			}
			if (got.IPAddress == nil) != (tt.want.IPAddress == nil) {
				t.Errorf("IPAddress = %v, want %v", got.IPAddress, tt.want.IPAddress)
			}
			if got.Description != nil {
				t.Errorf("Description = %v, want nil", *got.Description)
			}
		})
	}
}

func TestImportRecord_LenientPort(t *testing.T) {
	tests := []struct {
		raw  string
		want int
	}{
		{raw: `7`, want: 7},
		{raw: `"9"`, want: 9},
		{raw: `" 40000 "`, want: 40000},
		{raw: `9.5`, want: DefaultWakePort},
		{raw: `-3`, want: DefaultWakePort},
		{raw: `""`, want: DefaultWakePort},
		{raw: `"wol"`, want: DefaultWakePort},
		{raw: `null`, want: DefaultWakePort},
		{raw: `false`, want: DefaultWakePort},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			var rec ImportRecord
			if err := json.Unmarshal([]byte(`{"name":"TV","port":`+tt.raw+`}`), &rec); err != nil {
				t.Fatalf("Unmarshal: %v", err)
			}
			if got := rec.Normalize().Port; got != tt.want {
				t.Errorf("Port = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestImportRecord_PortRejectsObjects(t *testing.T) {
	for _, raw := range []string{`{"n":9}`, `[9]`} {
		var rec ImportRecord
		if err := json.Unmarshal([]byte(`{"name":"TV","port":`+raw+`}`), &rec); err == nil {
			t.Errorf("port %s decoded without error", raw)
		}
	}
}

func TestPortable_DropsID(t *testing.T) {
	d := Device{ID: "a", Name: "TV", MACAddress: "aa:bb:cc:dd:ee:ff", Port: 9}

	data, err := json.Marshal(Portable(d))
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if _, ok := fields["id"]; ok {
		t.Errorf("portable record contains id: %s", data)
	}
	if fields["name"] != "TV" {
		t.Errorf("name = %v, want TV", fields["name"])
	}
}

func TestNormalizeAll_PreservesOrder(t *testing.T) {
	got := NormalizeAll([]ImportRecord{{Name: "first"}, {Name: "second"}})
	if len(got) != 2 || got[0].Name != "first" || got[1].Name != "second" {
		t.Errorf("NormalizeAll() = %+v", got)
	}
}

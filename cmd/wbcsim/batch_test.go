package main

import "testing"

func TestParseGridParam(t *testing.T) {
	tests := []struct {
		in     string
		name   string
		values []float64
		ok     bool
	}{
		{"com.kp=100,200", "com.kp", []float64{100, 200}, true},
		{"friction= 0.5 ,0.9", "friction", []float64{0.5, 0.9}, true},
		{"friction", "", nil, false},
		{"=1,2", "", nil, false},
		{"com.kp=1,x", "", nil, false},
	}
	for _, tt := range tests {
		name, values, err := parseGridParam(tt.in)
		if (err == nil) != tt.ok {
			t.Errorf("%q: err=%v", tt.in, err)
			continue
		}
		if !tt.ok {
			continue
		}
		if name != tt.name || len(values) != len(tt.values) {
			t.Errorf("%q: got %s %v", tt.in, name, values)
			continue
		}
		for i := range values {
			if values[i] != tt.values[i] {
				t.Errorf("%q: value %d = %g", tt.in, i, values[i])
			}
		}
	}
}

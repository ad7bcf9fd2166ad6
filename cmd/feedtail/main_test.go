package main

import (
	"testing"

	"github.com/rickgao/orderfeed/internal/model"
)

func TestParseAction(t *testing.T) {
	tests := []struct {
		in         string
		wantID     string
		wantStatus model.OrderStatus
		wantErr    bool
	}{
		{"ord_1:READY", "ord_1", model.StatusReady, false},
		{"ord_1:preparing", "ord_1", model.StatusPreparing, false},
		{"ord_1", "", "", true},
		{":READY", "", "", true},
		{"ord_1:SHIPPED", "", "", true},
	}

	for _, tt := range tests {
		id, status, err := parseAction(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseAction(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if id != tt.wantID || status != tt.wantStatus {
			t.Errorf("parseAction(%q) = %q, %q, want %q, %q", tt.in, id, status, tt.wantID, tt.wantStatus)
		}
	}
}

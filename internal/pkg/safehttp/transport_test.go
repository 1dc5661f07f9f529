package safehttp

import (
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCheckIP(t *testing.T) {
	tests := []struct {
		ip      string
		allowed bool
	}{
		{"127.0.0.1", false},
		{"::1", false},
		{"10.1.2.3", false},
		{"192.168.0.10", false},
		{"169.254.169.254", false},
		{"0.0.0.0", false},
		{"8.8.8.8", true},
		{"2001:4860:4860::8888", true},
	}
	for _, tt := range tests {
		err := CheckIP(net.ParseIP(tt.ip))
		if (err == nil) != tt.allowed {
			t.Errorf("CheckIP(%s) error = %v, allowed = %v", tt.ip, err, tt.allowed)
		}
	}
	if CheckIP(nil) == nil {
		t.Error("CheckIP(nil) = nil, want error")
	}
}

func TestTransportRefusesLoopback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	client := &http.Client{Transport: NewTransport(0)}
	resp, err := client.Get(srv.URL)
	if err == nil {
		resp.Body.Close()
		t.Fatal("expected loopback dial to be refused")
	}
}

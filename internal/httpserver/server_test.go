package httpserver

import (
	"net/http"
	"testing"
	"time"
)

func TestNewAppliesTimeouts(t *testing.T) {
	srv := New(8080, http.NotFoundHandler(), Timeouts{Read: time.Minute})

	if srv.Addr() != ":8080" {
		t.Fatalf("expected :8080 got %q", srv.Addr())
	}
	if srv.inner.ReadHeaderTimeout != DefaultTimeouts.ReadHeader {
		t.Fatalf("expected default header timeout, got %s", srv.inner.ReadHeaderTimeout)
	}
	if srv.inner.ReadTimeout != time.Minute {
		t.Fatalf("expected read timeout to be kept, got %s", srv.inner.ReadTimeout)
	}
	if srv.inner.WriteTimeout != 0 {
		t.Fatalf("expected no write timeout, got %s", srv.inner.WriteTimeout)
	}
}

package main

import (
	"fmt"
	"testing"

	"github.com/spf13/cobra"
	"tiller-hq/tiller/internal/dataplanetest"
	"tiller-hq/tiller/pkg/dataplane"
)

func statusMock(t *testing.T) *dataplanetest.Server {
	t.Helper()
	mock := dataplanetest.New()
	t.Cleanup(mock.Close)

	mock.AddBackend(dataplane.Backend{
		Name:    "web_pool",
		Mode:    dataplane.ModeHTTP,
		Balance: "roundrobin",
		Servers: []dataplane.Server{{Name: "web1", Address: "10.0.0.1", Port: 8080, Weight: 100}},
	})
	mock.SetStats([]dataplane.StatRow{
		{Type: "frontend", Name: "main", Status: "OPEN", CurrentConnections: 12, RequestRate: 40, Responses2xx: 990, Responses5xx: 10},
		{Type: "backend", Name: "web_pool", Status: "UP", Responses2xx: 990, Responses5xx: 10},
		{Type: "server", Name: "web1", BackendName: "web_pool", Status: "UP", ResponseTimeMs: 35, Responses2xx: 990},
	})

	withConfigFile(t, fmt.Sprintf(`
dataplane:
  base_url: %s
`, mock.URL()))
	return mock
}

func TestShowStatusText(t *testing.T) {
	statusMock(t)
	statusFlags.format = "text"

	if err := showStatus(&cobra.Command{}, nil); err != nil {
		t.Errorf("showStatus() returned error: %v", err)
	}
}

func TestShowStatusJSON(t *testing.T) {
	statusMock(t)
	statusFlags.format = "json"
	t.Cleanup(func() { statusFlags.format = "text" })

	if err := showStatus(&cobra.Command{}, nil); err != nil {
		t.Errorf("showStatus() with json format returned error: %v", err)
	}
}

func TestShowStatusUnsupportedFormat(t *testing.T) {
	statusMock(t)
	statusFlags.format = "xml"
	t.Cleanup(func() { statusFlags.format = "text" })

	if err := showStatus(&cobra.Command{}, nil); err == nil {
		t.Error("showStatus() with unsupported format should return error")
	}
}

func TestShowStatusProxyDown(t *testing.T) {
	mock := dataplanetest.New()
	url := mock.URL()
	mock.Close()

	withConfigFile(t, fmt.Sprintf(`
dataplane:
  base_url: %s
  timeout: 500ms
`, url))
	statusFlags.format = "text"

	if err := showStatus(&cobra.Command{}, nil); err == nil {
		t.Error("showStatus() against a dead proxy should return error")
	}
}

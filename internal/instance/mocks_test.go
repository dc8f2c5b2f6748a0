package instance

import (
	"context"
	"sync"

	"github.com/jbweber/crucible/internal/smapi"
)

// gatewayCall records one request the mock gateway received.
type gatewayCall struct {
	Method string
	Path   string
	Body   []string
}

// mockCaller implements smapi.Caller with a programmable handler and
// call tracking.
type mockCaller struct {
	mu      sync.Mutex
	calls   []gatewayCall
	handler func(method, path string, body []string) (*smapi.Response, error)
}

func (m *mockCaller) Request(ctx context.Context, method, path string, body []string) (*smapi.Response, error) {
	m.mu.Lock()
	m.calls = append(m.calls, gatewayCall{Method: method, Path: path, Body: body})
	m.mu.Unlock()
	if m.handler != nil {
		return m.handler(method, path, body)
	}
	return &smapi.Response{}, nil
}

func (m *mockCaller) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func (m *mockCaller) call(i int) gatewayCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[i]
}

func hasRecord(body []string, record string) bool {
	for _, r := range body {
		if r == record {
			return true
		}
	}
	return false
}

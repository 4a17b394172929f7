// rex/pkg/runtime/dashboard_test.go

package runtime

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func websocketDial(t *testing.T, url string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	return websocket.DefaultDialer.Dial(url, nil)
}

func testEngine(t *testing.T) *Engine {
	t.Helper()
	eng, err := FromDSL(`rule "r" { priority: 1, if (true) {} }`)
	require.NoError(t, err)
	return eng
}

func TestNewDashboard(t *testing.T) {
	eng := testEngine(t)
	monitor := NewMonitor()

	dashboard := NewDashboard(eng, monitor, 8080, time.Second)

	assert.NotNil(t, dashboard)
	assert.Equal(t, eng, dashboard.engineRef.Load())
	assert.Equal(t, 8080, dashboard.port)
	assert.NotNil(t, dashboard.clients)
}

func TestDashboardReloadSwapsEngine(t *testing.T) {
	dashboard := NewDashboard(testEngine(t), NewMonitor(), 8080, time.Second)

	next, err := FromDSL(`rule "s" { priority: 2, if (true) {} }`)
	require.NoError(t, err)
	dashboard.Reload(next)

	assert.Equal(t, next, dashboard.engineRef.Load())
}

func TestHandleHealth(t *testing.T) {
	dashboard := NewDashboard(testEngine(t), NewMonitor(), 8080, time.Second)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	dashboard.handleHealth(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", rr.Body.String())
}

func TestHandleStats(t *testing.T) {
	eng := testEngine(t)
	monitor := NewMonitor()
	monitor.Record(eng.Execute(NewRecord(), NewRecord()))

	dashboard := NewDashboard(eng, monitor, 8080, time.Second)

	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	rr := httptest.NewRecorder()
	dashboard.handleStats(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)

	var stats Stats
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &stats))
	assert.Equal(t, int64(1), stats.TotalExecutions)
}

func TestHandleRules(t *testing.T) {
	dashboard := NewDashboard(testEngine(t), NewMonitor(), 8080, time.Second)

	req := httptest.NewRequest(http.MethodGet, "/api/rules", nil)
	rr := httptest.NewRecorder()
	dashboard.handleRules(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)

	var rules []RuleMetadata
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &rules))
	require.Len(t, rules, 1)
	assert.Equal(t, "r", rules[0].Name)
}

func TestBroadcastOnceSendsUpdateToConnectedClients(t *testing.T) {
	eng := testEngine(t)
	monitor := NewMonitor()
	dashboard := NewDashboard(eng, monitor, 8080, time.Second)

	server := httptest.NewServer(dashboard.mux())
	defer server.Close()

	wsURL := "ws" + server.URL[len("http"):] + "/events"
	// dial directly rather than depending on the gorilla client package's
	// own test doubles: NewDashboard's upgrader accepts any origin.
	conn, resp, err := websocketDial(t, wsURL)
	require.NoError(t, err)
	if resp != nil {
		defer resp.Body.Close()
	}
	defer conn.Close()

	dashboard.clientsMutex.Lock()
	numClients := len(dashboard.clients)
	dashboard.clientsMutex.Unlock()
	require.Equal(t, 1, numClients)

	dashboard.broadcastOnce()

	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	var update dashboardUpdate
	require.NoError(t, json.Unmarshal(msg, &update))
	require.Len(t, update.Rules, 1)
	assert.Equal(t, "r", update.Rules[0].Name)
}

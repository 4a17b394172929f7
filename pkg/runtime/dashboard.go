// pkg\runtime\dashboard.go

package runtime

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fraudscore/rex/pkg/logging"
)

// dashboardUpdate is what gets pushed to every connected websocket client
// on each broadcast tick: the current rule set (post hot-reload, if any)
// alongside running execution counters.
type dashboardUpdate struct {
	Rules []RuleMetadata `json:"rules"`
	Stats Stats          `json:"stats"`
}

// Dashboard serves a small operator view over an Engine that may be
// hot-swapped at any time by a concurrent Reload call, and a Monitor
// accumulating counters across its Execute calls. Grounded on the
// teacher's websocket-push dashboard; adapted to serve RulesMetadata +
// Stats instead of the teacher's Facts snapshot.
type Dashboard struct {
	engineRef      atomic.Pointer[Engine]
	monitor        *Monitor
	port           int
	clients        map[*websocket.Conn]bool
	clientsMutex   sync.Mutex
	updateInterval time.Duration
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// NewDashboard builds a Dashboard bound to engine and monitor. Reload can
// swap the engine it reports on at any later time.
func NewDashboard(engine *Engine, monitor *Monitor, port int, updateInterval time.Duration) *Dashboard {
	d := &Dashboard{
		monitor:        monitor,
		port:           port,
		clients:        make(map[*websocket.Conn]bool),
		updateInterval: updateInterval,
	}
	d.engineRef.Store(engine)
	return d
}

// Reload atomically swaps the engine the dashboard reports on, letting a
// hot-reload from pkg/store take effect without restarting the server.
func (d *Dashboard) Reload(engine *Engine) {
	d.engineRef.Store(engine)
}

func (d *Dashboard) mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", d.handleHealth)
	mux.HandleFunc("/api/stats", d.handleStats)
	mux.HandleFunc("/api/rules", d.handleRules)
	mux.HandleFunc("/events", d.handleWebSocket)
	return mux
}

// Start blocks, serving the dashboard's HTTP and websocket endpoints.
func (d *Dashboard) Start() error {
	go d.broadcastUpdates()

	addr := fmt.Sprintf(":%d", d.port)
	logging.Logger.Info().Str("addr", addr).Msg("dashboard listening")
	return http.ListenAndServe(addr, d.mux())
}

func (d *Dashboard) handleHealth(w http.ResponseWriter, r *http.Request) {
	fmt.Fprint(w, "ok")
}

func (d *Dashboard) handleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(d.monitor.Snapshot())
}

func (d *Dashboard) handleRules(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	eng := d.engineRef.Load()
	if eng == nil {
		json.NewEncoder(w).Encode([]RuleMetadata{})
		return
	}
	json.NewEncoder(w).Encode(eng.RulesMetadata())
}

func (d *Dashboard) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Logger.Error().Err(err).Msg("dashboard: websocket upgrade failed")
		return
	}
	defer conn.Close()

	d.clientsMutex.Lock()
	d.clients[conn] = true
	d.clientsMutex.Unlock()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	d.clientsMutex.Lock()
	delete(d.clients, conn)
	d.clientsMutex.Unlock()
}

func (d *Dashboard) broadcastUpdates() {
	ticker := time.NewTicker(d.updateInterval)
	defer ticker.Stop()

	for range ticker.C {
		d.broadcastOnce()
	}
}

func (d *Dashboard) broadcastOnce() {
	eng := d.engineRef.Load()
	if eng == nil {
		return
	}
	update := dashboardUpdate{Rules: eng.RulesMetadata(), Stats: d.monitor.Snapshot()}
	message, err := json.Marshal(update)
	if err != nil {
		logging.Logger.Error().Err(err).Msg("dashboard: marshal update failed")
		return
	}

	d.clientsMutex.Lock()
	defer d.clientsMutex.Unlock()
	for client := range d.clients {
		if err := client.WriteMessage(websocket.TextMessage, message); err != nil {
			client.Close()
			delete(d.clients, client)
		}
	}
}

package devserver

import (
	"bufio"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/poltergeist/wisp/pkg/logger"
	"github.com/poltergeist/wisp/pkg/metrics"
)

const (
	// LiveReloadPath is the Server-Sent Events endpoint
	LiveReloadPath = "/__wisp/livereload"
	// ScriptPath serves LiveReloadScript
	ScriptPath = "/__wisp/livereload.js"
	// MetricsPath exposes the Prometheus registry when metrics are enabled
	MetricsPath = "/__wisp/metrics"

	clientBuffer = 8
	heartbeat    = 30 * time.Second
)

// LiveReloadScript follows the hub's build hash. The hash received on the
// first connection is the baseline; any later hash reloads the page, or, for
// stylesheet-only changes, swaps the matching <link> elements in place.
const LiveReloadScript = `(() => {
  if (window.__WISP_LR__) return;
  window.__WISP_LR__ = true;
  let current = null;
  function swapStyles(paths, hash) {
    let swapped = 0;
    document.querySelectorAll('link[rel="stylesheet"]').forEach((link) => {
      const path = link.href.split('?')[0].replace(location.origin, '');
      if (paths.indexOf(path) < 0) return;
      link.href = path + '?wisp=' + hash;
      swapped++;
    });
    return swapped > 0;
  }
  function connect() {
    const es = new EventSource('` + LiveReloadPath + `');
    es.onmessage = (e) => {
      try {
        const p = JSON.parse(e.data);
        if (!p.hash) return;
        if (current === null) { current = p.hash; return; }
        if (p.hash === current) return;
        current = p.hash;
        if (p.css && swapStyles(p.paths || [], p.hash)) { console.log('[wisp] stylesheets updated'); return; }
        console.log('[wisp] change detected, reloading');
        location.reload();
      } catch (_) {}
    };
    es.onerror = () => { es.close(); setTimeout(connect, 2000); };
  }
  connect();
})();
`

// Change is one live reload announcement
type Change struct {
	Hash  string   `json:"hash"`
	Paths []string `json:"paths,omitempty"` // URL paths below the served root
	CSS   bool     `json:"css,omitempty"`   // stylesheets may be swapped without a reload
}

// Hub fans build hashes out to connected browsers
type Hub struct {
	mu      sync.RWMutex
	nextID  int
	clients map[int]*client
	closed  bool
	last    Change

	metrics metrics.Recorder
	logger  logger.Logger
}

type client struct {
	id   int
	ch   chan Change
	done chan struct{}
}

// NewHub creates a hub with a fresh baseline hash, so browsers that connect
// before the first rebuild still notice it. A nil recorder records nothing.
func NewHub(rec metrics.Recorder, log logger.Logger) *Hub {
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Hub{
		clients: map[int]*client{},
		last:    Change{Hash: uuid.NewString()},
		metrics: rec,
		logger:  log,
	}
}

// Clients returns the number of connected browsers
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP streams hash events to one browser until it disconnects
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "stream unsupported", http.StatusInternalServerError)
		return
	}

	c := &client{ch: make(chan Change, clientBuffer), done: make(chan struct{})}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		http.Error(w, "live reload shutting down", http.StatusServiceUnavailable)
		return
	}
	c.id = h.nextID
	h.nextID++
	h.clients[c.id] = c
	current := h.last
	count := len(h.clients)
	h.mu.Unlock()
	h.metrics.SetLiveReloadClients(count)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	bw := bufio.NewWriter(w)
	send := func(s string) bool {
		if _, err := bw.WriteString(s); err != nil {
			h.logger.Debug("live reload write failed", logger.WithError(err))
			return false
		}
		if err := bw.Flush(); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	if !send(": connected\n\n" + event(current)) {
		h.remove(c.id)
		return
	}

	ping := time.NewTicker(heartbeat)
	defer ping.Stop()

	for {
		select {
		case <-r.Context().Done():
			h.remove(c.id)
			return
		case <-c.done:
			return
		case <-ping.C:
			if !send(": ping\n\n") {
				h.remove(c.id)
				return
			}
		case change := <-c.ch:
			if !send(event(change)) {
				h.remove(c.id)
				return
			}
		}
	}
}

// LastHash returns the most recently announced build hash
func (h *Hub) LastHash() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.last.Hash
}

func event(c Change) string {
	data, err := json.Marshal(c)
	if err != nil {
		return ""
	}
	return "data: " + string(data) + "\n\n"
}

func (h *Hub) remove(id int) {
	h.mu.Lock()
	c, ok := h.clients[id]
	if ok {
		delete(h.clients, id)
		close(c.done)
	}
	count := len(h.clients)
	h.mu.Unlock()
	if ok {
		h.metrics.SetLiveReloadClients(count)
	}
}

// Broadcast sends c to every client unless its hash is empty or repeats the
// last one. Clients whose buffers are full are dropped.
func (h *Hub) Broadcast(c Change) {
	h.mu.Lock()
	if h.closed || c.Hash == "" || c.Hash == h.last.Hash {
		h.mu.Unlock()
		return
	}
	h.last = c
	snapshot := make([]*client, 0, len(h.clients))
	for _, cl := range h.clients {
		snapshot = append(snapshot, cl)
	}
	h.mu.Unlock()

	dropped := 0
	for _, cl := range snapshot {
		select {
		case cl.ch <- c:
		default:
			dropped++
			h.remove(cl.id)
		}
	}
	h.metrics.IncLiveReloadBroadcast()
	if dropped > 0 {
		h.logger.Debug("Dropped slow live reload clients", logger.WithField("dropped", dropped))
	}
}

// Shutdown disconnects every client and rejects new ones
func (h *Hub) Shutdown() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	clients := h.clients
	h.clients = map[int]*client{}
	h.mu.Unlock()

	for _, c := range clients {
		close(c.done)
	}
	h.metrics.SetLiveReloadClients(0)
}

package input

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/cors"
	"github.com/spf13/cast"
	"go.uber.org/atomic"
	"go.viam.com/utils"
	"goji.io"
	"goji.io/pat"

	"go.viam.com/depthrelay/logging"
)

// StateFunc returns a JSON encodable view of the session for GET /state.
type StateFunc func() interface{}

// HTTPSource accepts events over HTTP so a browser page or a script can drive calibration:
//
//	POST /click?x=640&y=360&button=1
//	POST /key/{name}
//	GET  /state
type HTTPSource struct {
	addr    string
	state   StateFunc
	logger  logging.Logger
	handler atomic.Pointer[Handler]

	mu                      sync.Mutex
	server                  *http.Server
	listener                net.Listener
	activeBackgroundWorkers sync.WaitGroup
}

// NewHTTPSource returns a source that will listen on addr once started. state may be nil.
func NewHTTPSource(addr string, state StateFunc, logger logging.Logger) *HTTPSource {
	return &HTTPSource{addr: addr, state: state, logger: logger.Sublogger("http")}
}

type eventResponse struct {
	Disposition string `json:"disposition"`
}

// Handler returns the routes of the source wrapped for cross origin use.
func (hs *HTTPSource) Handler() http.Handler {
	mux := goji.NewMux()
	mux.HandleFunc(pat.Post("/click"), hs.handleClick)
	mux.HandleFunc(pat.Post("/key/:name"), hs.handleKey)
	mux.HandleFunc(pat.Get("/state"), hs.handleState)
	return cors.AllowAll().Handler(mux)
}

func (hs *HTTPSource) dispatch(w http.ResponseWriter, ev Event) {
	h := hs.handler.Load()
	if h == nil {
		http.Error(w, "event source not started", http.StatusServiceUnavailable)
		return
	}
	disposition := (*h)(ev)
	hs.logger.Debugw("http event", "type", ev.Type, "key", ev.Key, "x", ev.X, "y", ev.Y, "disposition", disposition)
	writeJSON(w, hs.logger, eventResponse{Disposition: disposition.String()})
}

func (hs *HTTPSource) handleClick(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	x, err := cast.ToFloat64E(query.Get("x"))
	if err != nil {
		http.Error(w, "bad x: "+err.Error(), http.StatusBadRequest)
		return
	}
	y, err := cast.ToFloat64E(query.Get("y"))
	if err != nil {
		http.Error(w, "bad y: "+err.Error(), http.StatusBadRequest)
		return
	}
	button := 1
	if raw := query.Get("button"); raw != "" {
		if button, err = cast.ToIntE(raw); err != nil {
			http.Error(w, "bad button: "+err.Error(), http.StatusBadRequest)
			return
		}
	}
	hs.dispatch(w, NewPointerRelease(x, y, button))
}

func (hs *HTTPSource) handleKey(w http.ResponseWriter, r *http.Request) {
	hs.dispatch(w, NewKeyPress(pat.Param(r, "name")))
}

func (hs *HTTPSource) handleState(w http.ResponseWriter, r *http.Request) {
	if hs.state == nil {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, hs.logger, hs.state())
}

func writeJSON(w http.ResponseWriter, logger logging.Logger, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debugw("error writing response", "error", err)
	}
}

// Start listens on the configured address and serves events to handler.
func (hs *HTTPSource) Start(ctx context.Context, handler Handler) error {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	if hs.server != nil {
		return errors.New("http source already started")
	}

	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", hs.addr)
	if err != nil {
		return errors.Wrapf(err, "cannot listen on %s", hs.addr)
	}
	hs.handler.Store(&handler)
	hs.listener = listener
	hs.server = &http.Server{
		Handler:           hs.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	server := hs.server

	hs.logger.Infow("control api listening", "addr", listener.Addr().String())
	hs.activeBackgroundWorkers.Add(1)
	utils.ManagedGo(func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			hs.logger.Errorw("control api stopped", "error", err)
		}
	}, hs.activeBackgroundWorkers.Done)
	return nil
}

// Addr is the bound address, useful when listening on port 0.
func (hs *HTTPSource) Addr() string {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	if hs.listener == nil {
		return hs.addr
	}
	return hs.listener.Addr().String()
}

// Close shuts the server down and waits for it to exit.
func (hs *HTTPSource) Close() error {
	hs.mu.Lock()
	server := hs.server
	hs.mu.Unlock()
	if server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := server.Shutdown(ctx)
	hs.activeBackgroundWorkers.Wait()
	hs.handler.Store(nil)
	return err
}

package http

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/ValentinKolb/pKV/rpc/common"
	"github.com/ValentinKolb/pKV/rpc/transport"
	"github.com/VictoriaMetrics/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("transport/rpc")

var (
	requestsTotal      = metrics.NewCounter(`pkv_http_requests_total`)
	badRequestsTotal   = metrics.NewCounter(`pkv_http_requests_total{status="bad_request"}`)
	requestDuration    = metrics.NewSummary(`pkv_http_request_duration_seconds`)
	requestBodyBytes   = metrics.NewHistogram(`pkv_http_request_body_bytes`)
	shutdownTimeout    = 5 * time.Second
	readHeaderTimeout  = time.Second
	maxRequestBodySize = int64(64 << 20)
)

func NewHttpServerTransport() transport.IRPCServerTransport {
	return &httpServerTransport{}
}

type httpServerTransport struct {
	handler transport.ServerHandleFunc
	config  common.ServerConfig

	mu     sync.Mutex
	server *http.Server
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IRPCServerTransport)
// --------------------------------------------------------------------------

func (t *httpServerTransport) RegisterHandler(handler transport.ServerHandleFunc) {
	t.handler = handler
}

func (t *httpServerTransport) Listen(config common.ServerConfig) error {
	t.config = config

	t.mu.Lock()
	t.server = &http.Server{
		Addr:              config.Endpoint,
		Handler:           t.router(),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	server := t.server
	t.mu.Unlock()

	Logger.Infof("Starting HTTP server on %s", config.Endpoint)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (t *httpServerTransport) Close() error {
	t.mu.Lock()
	server := t.server
	t.mu.Unlock()
	if server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(ctx)
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// router builds the chi router
//
//	POST /{partitionId}  rpc request for a partition, 0 routes by key
//	GET  /health         liveness
//	GET  /metrics        prometheus metrics
func (t *httpServerTransport) router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	if t.config.LogLevel == "debug" {
		r.Use(loggerMiddleware)
	}

	r.Post("/{partitionId}", t.handleRequest)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		metrics.WritePrometheus(w, true)
	})
	return r
}

// handleRequest handles incoming HTTP requests and writes the response to the writer
func (t *httpServerTransport) handleRequest(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	requestsTotal.Inc()
	defer requestDuration.UpdateDuration(start)

	// Parse partitionId from request
	partitionID, err := strconv.ParseUint(chi.URLParam(r, "partitionId"), 10, 64)
	if err != nil {
		badRequestsTotal.Inc()
		http.Error(w, "Invalid partitionId", http.StatusBadRequest)
		return
	}

	// Read request body
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBodySize))
	defer r.Body.Close()
	if err != nil {
		badRequestsTotal.Inc()
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}
	requestBodyBytes.Update(float64(len(body)))

	if t.handler == nil {
		http.Error(w, "No handler registered", http.StatusServiceUnavailable)
		return
	}
	resp := t.handler(partitionID, body)

	if _, err = w.Write(resp); err != nil {
		Logger.Warningf("failed to write response: %v", err)
	}
}

// --------------------------------------------------------------------------
// Middleware (logging)
// --------------------------------------------------------------------------

// loggerMiddleware is a middleware that logs HTTP requests
func loggerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Capture the status code
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		Logger.Debugf("%s %s => %d (%d bytes) took %s", r.Method, r.URL.Path, ww.Status(), ww.BytesWritten(), time.Since(start))
	})
}

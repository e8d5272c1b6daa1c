package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"smartbch-indexer/config"
	"smartbch-indexer/indexer"
	"smartbch-indexer/logger"
	"smartbch-indexer/queue"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const shutdownTimeout = 5 * time.Second

type Pinger interface {
	Ping(ctx context.Context) error
}

// Server exposes health, metrics and manual job triggers. Arguments are
// forwarded as given, the jobs validate them.
type Server struct {
	queue  queue.Enqueuer
	pinger Pinger
	http   *http.Server
}

func New(cfg config.ServerConfig, q queue.Enqueuer, pinger Pinger) *Server {
	s := &Server{queue: q, pinger: pinger}
	s.http = &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.health).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/addresses/{address}/crawl", s.crawlAddress).Methods(http.MethodPost)
	r.HandleFunc("/blocks/{number}/parse", s.parseBlock).Methods(http.MethodPost)
	r.HandleFunc("/transactions/{txid}/notify", s.notifyTransaction).Methods(http.MethodPost)
	return r
}

// Run serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("Admin server listening on %s", s.http.Addr)
		errCh <- s.http.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return errors.Wrap(err, "admin server")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "admin server shutdown")
	}
	return nil
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if err := s.pinger.Ping(r.Context()); err != nil {
		logger.Warn("health check failed: %s", err)
		http.Error(w, "database unavailable", http.StatusServiceUnavailable)
		return
	}
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) crawlAddress(w http.ResponseWriter, r *http.Request) {
	s.submit(w, r, indexer.JobCrawlAddress, indexer.AddressArgs{Address: mux.Vars(r)["address"]})
}

func (s *Server) parseBlock(w http.ResponseWriter, r *http.Request) {
	args := indexer.ParseBlockArgs{
		BlockNumber: mux.Vars(r)["number"],
		Notify:      r.URL.Query().Get("notify") == "true",
	}
	s.submit(w, r, indexer.JobParseBlock, args)
}

func (s *Server) notifyTransaction(w http.ResponseWriter, r *http.Request) {
	s.submit(w, r, indexer.JobNotifyTransaction, indexer.TransactionArgs{Txid: mux.Vars(r)["txid"]})
}

type submitted struct {
	Job  string      `json:"job"`
	Args interface{} `json:"args"`
}

func (s *Server) submit(w http.ResponseWriter, r *http.Request, name string, args interface{}) {
	if err := queue.Submit(r.Context(), s.queue, name, args, 0); err != nil {
		logger.Error("submit %s: %s", name, err)
		http.Error(w, "could not enqueue job", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	if err := json.NewEncoder(w).Encode(submitted{Job: name, Args: args}); err != nil {
		logger.Debug("write response: %s", err)
	}
}

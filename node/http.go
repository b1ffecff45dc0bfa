// http.go serves the operational HTTP surface: health probe, Prometheus
// scrape, queue inspection, and the enqueue endpoint for inbound
// sponsorship requests. Every endpoint sits behind a per-client token
// bucket.
package node

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/aegis-labs/aegis/auth"
	"github.com/aegis-labs/aegis/queue"
	"github.com/aegis-labs/aegis/ratelimit"
	"github.com/aegis-labs/aegis/store"
)

// shutdownGrace bounds how long the HTTP server waits for in-flight
// requests on shutdown.
const shutdownGrace = 10 * time.Second

// maxWebhookBody caps inbound webhook payloads.
const maxWebhookBody = 1 << 20

// serveHTTP runs the operational HTTP server until ctx is cancelled.
func (n *Node) serveHTTP(ctx context.Context) error {
	limiter := ratelimit.NewTokenBucketLimiter(ratelimit.DefaultTokenBucketConfig())

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", n.handleHealth)
	mux.Handle("GET /metrics", n.metrics.Handler())
	mux.HandleFunc("GET /queue/status", n.handleQueueStatus)
	mux.HandleFunc("GET /queue/status/{id}", n.handleQueueStatus)
	mux.HandleFunc("GET /queue/stats", n.handleQueueStats)
	mux.HandleFunc("POST /queue/sponsorships", n.handleEnqueue)
	mux.HandleFunc("POST /webhooks/sponsorship", n.handleWebhook)

	srv := &http.Server{
		Addr:              n.cfg.ListenAddr,
		Handler:           n.rateLimited(limiter, mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		n.logger.Warn("http shutdown incomplete", "err", err.Error())
	}
	return ctx.Err()
}

// rateLimited wraps the mux with per-client token-bucket limiting keyed by
// remote IP.
func (n *Node) rateLimited(limiter *ratelimit.TokenBucketLimiter, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		if !limiter.Allow(host) {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// handleHealth runs the state store roundtrip probe: 200 when connected,
// 503 otherwise.
func (n *Node) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := store.HealthCheck(r.Context(), n.store)
	code := http.StatusOK
	if !status.Connected {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}

// handleQueueStatus returns one request record. The id comes from the path
// or, for older clients, the id query parameter.
func (n *Node) handleQueueStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		id = r.URL.Query().Get("id")
	}
	if id == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "request id required"})
		return
	}
	req, err := n.queue.Status(r.Context(), id)
	if err != nil {
		if errors.Is(err, queue.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "request not found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// handleQueueStats returns the four list lengths.
func (n *Node) handleQueueStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, n.queue.Stats(r.Context()))
}

// enqueuePayload is the accepted POST body for new sponsorship requests.
type enqueuePayload struct {
	ProtocolID         string  `json:"protocolId"`
	AgentAddress       string  `json:"agentAddress"`
	AgentName          string  `json:"agentName,omitempty"`
	TargetContract     string  `json:"targetContract,omitempty"`
	Calldata           string  `json:"calldata,omitempty"`
	EstimatedGas       uint64  `json:"estimatedGas"`
	EstimatedCostUSD   float64 `json:"estimatedCostUsd"`
	MaxGasLimit        uint64  `json:"maxGasLimit"`
	Signature          string  `json:"signature,omitempty"`
	SignatureTimestamp int64   `json:"signatureTimestamp,omitempty"`
}

// handleEnqueue accepts an inbound sponsorship request and queues it.
func (n *Node) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var p enqueuePayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed request body"})
		return
	}
	if p.ProtocolID == "" || p.AgentAddress == "" || p.MaxGasLimit == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "protocolId, agentAddress, and maxGasLimit are required"})
		return
	}
	if n.isScamTarget(p.TargetContract) {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": "target contract is flagged as malicious"})
		return
	}

	enq, err := n.queue.Enqueue(r.Context(), queue.Request{
		ProtocolID:         p.ProtocolID,
		AgentAddress:       p.AgentAddress,
		AgentName:          p.AgentName,
		TargetContract:     p.TargetContract,
		Calldata:           p.Calldata,
		EstimatedGas:       p.EstimatedGas,
		EstimatedCostUSD:   p.EstimatedCostUSD,
		MaxGasLimit:        p.MaxGasLimit,
		Source:             queue.SourceAPI,
		Signature:          p.Signature,
		SignatureTimestamp: p.SignatureTimestamp,
	})
	if err != nil {
		if errors.Is(err, queue.ErrLockBusy) {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "queue busy, retry"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusAccepted, enq)
}

// handleWebhook accepts a protocol-pushed sponsorship request. The raw body
// must carry a valid webhook signature; verified requests enter the queue
// with the webhook source and skip per-request signature checks in the
// consumer.
func (n *Node) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if n.cfg.WebhookSecret == "" {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "webhook ingest disabled"})
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unreadable request body"})
		return
	}
	err = auth.VerifyWebhook(n.cfg.WebhookSecret, body,
		r.Header.Get(auth.SignatureHeader), r.Header.Get(auth.TimestampHeader), time.Now())
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": err.Error()})
		return
	}

	var p enqueuePayload
	if err := json.Unmarshal(body, &p); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed request body"})
		return
	}
	if p.ProtocolID == "" || p.AgentAddress == "" || p.MaxGasLimit == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "protocolId, agentAddress, and maxGasLimit are required"})
		return
	}
	if n.isScamTarget(p.TargetContract) {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": "target contract is flagged as malicious"})
		return
	}

	enq, err := n.queue.Enqueue(r.Context(), queue.Request{
		ProtocolID:       p.ProtocolID,
		AgentAddress:     p.AgentAddress,
		AgentName:        p.AgentName,
		TargetContract:   p.TargetContract,
		Calldata:         p.Calldata,
		EstimatedGas:     p.EstimatedGas,
		EstimatedCostUSD: p.EstimatedCostUSD,
		MaxGasLimit:      p.MaxGasLimit,
		Source:           queue.SourceWebhook,
	})
	if err != nil {
		if errors.Is(err, queue.ErrLockBusy) {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "queue busy, retry"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusAccepted, enq)
}

// isScamTarget reports whether the target contract is on the configured
// scam list.
func (n *Node) isScamTarget(target string) bool {
	if target == "" || len(n.scamContracts) == 0 {
		return false
	}
	_, bad := n.scamContracts[strings.ToLower(target)]
	return bad
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

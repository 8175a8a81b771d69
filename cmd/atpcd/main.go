// Copyright 2025 ATEL Network
//
// atpcd is a reference HTTP binding for the Agent Trust Protocol Core:
// it exposes the handshake, task delegation, proof verification, trust
// query, capability, and health endpoints over one agent identity. It
// is a demonstration harness, not a product CLI or a complete
// executor: tool execution is delegated to whatever is registered in
// the gateway registry, and deployment/orchestration concerns (TLS
// termination, multi-tenant config, persistence) are left to callers.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/atel-network/atpc/pkg/atpcconfig"
	"github.com/atel-network/atpc/pkg/identity"
)

func main() {
	agentID := flag.String("agent-id", "", "agent ID (overrides ATPC_AGENT_ID)")
	listenAddr := flag.String("listen-addr", "", "listen address (overrides ATPC_LISTEN_ADDR)")
	showHelp := flag.Bool("help", false, "show help message")
	flag.Parse()

	if *showHelp {
		printHelp()
		return
	}

	cfg := atpcconfig.Load()
	if *agentID != "" {
		cfg.AgentID = *agentID
	}
	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	self, err := identity.NewAgentIdentity(cfg.AgentID, nil)
	if err != nil {
		log.Fatalf("failed to generate agent identity: %v", err)
	}
	log.Printf("[atpcd] agent %s ready as %s", cfg.AgentID, self.DID)

	srv := newServer(cfg, self)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", srv.handleHealth)
	mux.HandleFunc("/capability", srv.handleCapability)
	mux.HandleFunc("/handshake", srv.withRateLimitAndSizeCeiling(srv.handleHandshakeInit))
	mux.HandleFunc("/task", srv.withRateLimitAndSizeCeiling(srv.handleTask))
	mux.HandleFunc("/proof", srv.withRateLimitAndSizeCeiling(srv.handleProofVerify))
	mux.HandleFunc("/trust/query", srv.withRateLimitAndSizeCeiling(srv.handleTrustQuery))
	mux.HandleFunc("/result", srv.withRateLimitAndSizeCeiling(srv.handleResult))

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())

	httpServer := &http.Server{Addr: cfg.ListenAddr, Handler: mux}
	metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux}

	go func() {
		log.Printf("[atpcd] protocol endpoints listening on %s", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("protocol server failed: %v", err)
		}
	}()
	go func() {
		log.Printf("[atpcd] metrics listening on %s", cfg.MetricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("metrics server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("[atpcd] shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("[atpcd] protocol server shutdown error: %v", err)
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("[atpcd] metrics server shutdown error: %v", err)
	}
}

func printHelp() {
	fmt.Println(`atpcd - reference ATPC HTTP binding

Flags:
  -agent-id string     agent ID (overrides ATPC_AGENT_ID)
  -listen-addr string  listen address (overrides ATPC_LISTEN_ADDR)
  -help                show this message

Endpoints:
  GET  /health
  GET  /capability
  POST /handshake
  POST /task
  POST /proof
  POST /trust/query
  POST /result
  GET  /metrics (on ATPC_METRICS_ADDR)`)
}

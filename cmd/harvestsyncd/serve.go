// Copyright 2025 Teamdash
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/teamdash/go-harvestsync/harvestsync"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the sync HTTP API",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8080", "Listen address")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	c, err := setup(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	// Warm the caches before accepting syncs; a failure here just means
	// a colder first sync.
	if err := c.connector.PreloadCache(ctx); err != nil {
		return err
	}

	mux := http.NewServeMux()
	h := &syncHandlers{connector: c.connector, sink: c.sink, logger: c.logger}
	mux.HandleFunc("POST /sync", h.handleSync)
	mux.HandleFunc("GET /metrics/last-sync", h.handleLastSyncMetrics)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{
		Addr:         serveAddr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Minute, // a full sync can take a while
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		c.logger.Info("sync API listening", "addr", serveAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		c.logger.Info("shutting down", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

type syncHandlers struct {
	connector *harvestsync.Connector
	sink      *harvestsync.TimeEntrySink
	logger    *slog.Logger
}

type syncRequest struct {
	From      string `json:"from"`
	To        string `json:"to"`
	ClientID  string `json:"client_id"`
	ProjectID string `json:"project_id"`
}

func (h *syncHandlers) handleSync(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "failed to parse sync request")
		return
	}
	from, err := parseDate("from", req.From)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	to, err := parseDate("to", req.To)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if to.Before(from) {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "to is before from")
		return
	}

	var opts []harvestsync.FilterOption
	if req.ClientID != "" {
		opts = append(opts, harvestsync.WithClientFilter(req.ClientID))
	}
	if req.ProjectID != "" {
		opts = append(opts, harvestsync.WithProjectFilter(req.ProjectID))
	}

	stored, err := h.connector.SyncAndStore(r.Context(), h.sink, from, to, opts...)
	switch {
	case errors.Is(err, harvestsync.ErrSyncInProgress):
		h.writeError(w, http.StatusConflict, "sync_in_progress", "another sync is already running")
		return
	case err != nil:
		h.logger.Error("sync failed", "error", err, "from", req.From, "to", req.To)
		h.writeError(w, http.StatusBadGateway, "sync_failed", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"entries": stored,
		"metrics": h.connector.LastSyncMetrics(),
	})
}

func (h *syncHandlers) handleLastSyncMetrics(w http.ResponseWriter, r *http.Request) {
	m := h.connector.LastSyncMetrics()
	if m == nil {
		h.writeError(w, http.StatusNotFound, "no_sync_yet", "no sync has completed yet")
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *syncHandlers) writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"error": code, "message": message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/sdibella/boxarb/internal/dashboard"
)

func main() {
	_ = godotenv.Load()
	cfg := dashboard.ConfigFromEnv()
	reader := dashboard.NewReader(cfg)

	mux := http.NewServeMux()
	mux.HandleFunc("/api/summary", handleSummary(reader))
	mux.HandleFunc("/api/executions", handleExecutions(reader))
	mux.HandleFunc("/api/equity", handleEquity(reader))
	mux.HandleFunc("/api/performance", handlePerformance(reader))
	mux.HandleFunc("/api/sessions", handleSessions(reader))

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	server := &http.Server{Addr: addr, Handler: mux}

	go func() {
		log.Printf("dashboard starting on http://%s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("server forced to shutdown: %v", err)
	}
	log.Println("server exited")
}

func getEvents(reader *dashboard.Reader, r *http.Request) ([]dashboard.Event, error) {
	if reader.Config().JournalFile != "" {
		return reader.ParseJournal(reader.Config().JournalFile)
	}

	if r.URL.Query().Get("mode") == "all" {
		return reader.ParseAllSessions()
	}

	sessions, err := reader.DiscoverSessions()
	if err != nil {
		return nil, fmt.Errorf("failed to discover sessions: %w", err)
	}
	if len(sessions) == 0 {
		return nil, fmt.Errorf("no journal sessions found")
	}

	latest := sessions[0]
	journalPath := filepath.Join(reader.Config().JournalDir, latest.Filename)
	return reader.ParseJournal(journalPath)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

func handleSummary(reader *dashboard.Reader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		events, err := getEvents(reader, r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		analyzer := dashboard.NewAnalyzer()
		analyzer.ProcessEvents(events)
		writeJSON(w, analyzer.ComputeSummary())
	}
}

func handleExecutions(reader *dashboard.Reader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		events, err := getEvents(reader, r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		analyzer := dashboard.NewAnalyzer()
		analyzer.ProcessEvents(events)
		executions := analyzer.GetExecutions()

		sort.Slice(executions, func(i, j int) bool {
			return executions[i].Time > executions[j].Time
		})
		if len(executions) > 50 {
			executions = executions[:50]
		}
		writeJSON(w, executions)
	}
}

func handleEquity(reader *dashboard.Reader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		events, err := getEvents(reader, r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		analyzer := dashboard.NewAnalyzer()
		analyzer.ProcessEvents(events)
		writeJSON(w, analyzer.GetEquityCurve())
	}
}

func handlePerformance(reader *dashboard.Reader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		events, err := getEvents(reader, r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		analyzer := dashboard.NewAnalyzer()
		analyzer.ProcessEvents(events)
		writeJSON(w, analyzer.ComputePerformance())
	}
}

func handleSessions(reader *dashboard.Reader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessions, err := reader.DiscoverSessions()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, sessions)
	}
}

// decision-engine-stub is a standalone fake of the external rule engine for
// local development. It answers POST /evaluate from a fixed rule table and
// records every evaluation so the caller's behavior can be inspected.
//
// Rules are configured via the RULES env var as a JSON object mapping a
// table slug to its result, e.g.
//
//	RULES='{"air_freight_only":true,"po_events":{"profile_id":7}}'
//
// Unknown slugs answer 404, which is how the real engine reports a missing
// rule table.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"sync"
	"time"
)

type evaluateRequest struct {
	TableSlug string         `json:"table_slug"`
	Context   map[string]any `json:"context"`
}

type evaluation struct {
	Timestamp string         `json:"timestamp"`
	TableSlug string         `json:"table_slug"`
	Context   map[string]any `json:"context"`
	Result    any            `json:"result,omitempty"`
	Status    int            `json:"status"`
}

type stats struct {
	Count           int64        `json:"count"`
	LastEvaluations []evaluation `json:"last_evaluations"`
	Since           string       `json:"since"`
}

var (
	mu              sync.Mutex
	count           int64
	lastEvaluations []evaluation
	since           time.Time
	maxStored       = 50

	rules map[string]any
)

func main() {
	since = time.Now().UTC()

	rules = map[string]any{}
	if v := os.Getenv("RULES"); v != "" {
		if err := json.Unmarshal([]byte(v), &rules); err != nil {
			log.Fatalf("invalid RULES: %v", err)
		}
	}

	addr := ":8090"
	if v := os.Getenv("ADDR"); v != "" {
		addr = v
	}

	http.HandleFunc("/evaluate", evaluateHandler)
	http.HandleFunc("/stats", statsHandler)
	http.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	http.HandleFunc("/reset", func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		count = 0
		lastEvaluations = nil
		since = time.Now().UTC()
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "reset")
	})

	log.Printf("decision-engine-stub listening on %s (%d rules)", addr, len(rules))
	log.Fatal(http.ListenAndServe(addr, nil))
}

func evaluateHandler(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	defer r.Body.Close()

	var req evaluateRequest
	if err := json.Unmarshal(body, &req); err != nil || req.TableSlug == "" {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprintln(w, `{"error":"table_slug is required"}`)
		return
	}

	result, ok := rules[req.TableSlug]
	status := http.StatusOK
	if !ok {
		status = http.StatusNotFound
	}

	ev := evaluation{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		TableSlug: req.TableSlug,
		Context:   req.Context,
		Result:    result,
		Status:    status,
	}

	mu.Lock()
	count++
	lastEvaluations = append(lastEvaluations, ev)
	if len(lastEvaluations) > maxStored {
		lastEvaluations = lastEvaluations[len(lastEvaluations)-maxStored:]
	}
	current := count
	mu.Unlock()

	log.Printf("evaluation #%d: %s -> %d", current, req.TableSlug, status)

	w.Header().Set("Content-Type", "application/json")
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprintf(w, `{"error":"no rule table %q"}`, req.TableSlug)
		return
	}
	json.NewEncoder(w).Encode(map[string]any{"result": result})
}

func statsHandler(w http.ResponseWriter, _ *http.Request) {
	mu.Lock()
	s := stats{
		Count:           count,
		LastEvaluations: lastEvaluations,
		Since:           since.Format(time.RFC3339),
	}
	mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s)
}

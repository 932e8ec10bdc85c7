// Package metrics keeps in-process counters for the enforcer and serves
// them as a JSON snapshot. Counters cover HTTP endpoints, validation
// outcomes by reason, and codec rejections by kind.
package metrics

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"
)

type Registry struct {
	mu           sync.RWMutex
	endpoint     map[string]*EndpointStat
	outcome      map[string]int64
	reason       map[string]int64
	decodeReject map[string]int64
	gauges       map[string]float64
}

type EndpointStat struct {
	Count          int64   `json:"count"`
	ErrorCount     int64   `json:"error_count"`
	TotalMillis    int64   `json:"total_millis"`
	MaxMillis      int64   `json:"max_millis"`
	AverageMillis  float64 `json:"average_millis"`
	LastStatusCode int     `json:"last_status_code"`
}

type Snapshot struct {
	GeneratedAt   string                  `json:"generated_at"`
	Endpoints     map[string]EndpointStat `json:"endpoints"`
	Outcomes      map[string]int64        `json:"outcomes"`
	Reasons       map[string]int64        `json:"reasons"`
	DecodeRejects map[string]int64        `json:"decode_rejects"`
	Gauges        map[string]float64      `json:"gauges"`
}

func NewRegistry() *Registry {
	return &Registry{
		endpoint:     map[string]*EndpointStat{},
		outcome:      map[string]int64{},
		reason:       map[string]int64{},
		decodeReject: map[string]int64{},
		gauges:       map[string]float64{},
	}
}

// ObserveEndpoint records one handled request.
func (r *Registry) ObserveEndpoint(name string, status int, elapsed time.Duration) {
	ms := elapsed.Milliseconds()
	r.mu.Lock()
	defer r.mu.Unlock()
	stat, ok := r.endpoint[name]
	if !ok {
		stat = &EndpointStat{}
		r.endpoint[name] = stat
	}
	stat.Count++
	if status >= 400 {
		stat.ErrorCount++
	}
	stat.TotalMillis += ms
	if ms > stat.MaxMillis {
		stat.MaxMillis = ms
	}
	stat.AverageMillis = float64(stat.TotalMillis) / float64(stat.Count)
	stat.LastStatusCode = status
}

// ObserveOutcome counts one validation result. Valid outcomes count under
// "valid"; rejections count under "invalid" and per reason.
func (r *Registry) ObserveOutcome(valid bool, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if valid {
		r.outcome["valid"]++
		return
	}
	r.outcome["invalid"]++
	if reason != "" {
		r.reason[reason]++
	}
}

// ObserveDecodeReject counts one rejected datum/redeemer by failure kind.
func (r *Registry) ObserveDecodeReject(kind string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decodeReject[kind]++
}

func (r *Registry) SetGauge(name string, value float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gauges[name] = value
}

func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snap := Snapshot{
		GeneratedAt:   time.Now().UTC().Format(time.RFC3339Nano),
		Endpoints:     make(map[string]EndpointStat, len(r.endpoint)),
		Outcomes:      copyCounts(r.outcome),
		Reasons:       copyCounts(r.reason),
		DecodeRejects: copyCounts(r.decodeReject),
		Gauges:        make(map[string]float64, len(r.gauges)),
	}
	for k, v := range r.endpoint {
		snap.Endpoints[k] = *v
	}
	for k, v := range r.gauges {
		snap.Gauges[k] = v
	}
	return snap
}

// Handler serves the snapshot as stable JSON (maps are re-keyed in sorted
// order for readability in diffs).
func (r *Registry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		snap := r.Snapshot()
		w.Header().Set("Content-Type", "application/json")
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		_ = enc.Encode(snap)
	})
}

// Middleware observes every request routed through it under the given name.
func (r *Registry) Middleware(name string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, req)
			r.ObserveEndpoint(name+" "+req.Method+" "+req.URL.Path, rec.status, time.Since(start))
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func copyCounts(in map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(in))
	keys := make([]string, 0, len(in))
	for k := range in {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out[k] = in[k]
	}
	return out
}

// Package dataplanetest provides an in-memory mock of the proxy admin API
// for tests. It simulates configuration objects, the transaction lifecycle
// with staged changes, the dry-run validator, and the runtime statistics
// surface, and supports failure injection per endpoint.
package dataplanetest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"tiller-hq/tiller/pkg/dataplane"
)

// stagedChange is a configuration change held by an open transaction.
type stagedChange func(s *Server)

// transactionState tracks one open or completed mock transaction.
type transactionState struct {
	id      string
	version int
	status  string // "in_progress", "success", "failed"
	staged  []stagedChange
}

// failureRule injects errors for matching requests.
type failureRule struct {
	status    int
	remaining int // -1 means unlimited
}

// Server is a mock proxy admin API backed by httptest.
type Server struct {
	server *httptest.Server

	mu            sync.Mutex
	backends      map[string]*dataplane.Backend
	matchRules    map[string]dataplane.MatchRule
	originRules   map[string]dataplane.OriginRule
	stats         []dataplane.StatRow
	info          dataplane.RuntimeInfo
	process       dataplane.ProcessMetrics
	transactions  map[string]*transactionState
	configVersion int
	nextTxnID     int
	validateFail  string // non-empty enables validation failure with details
	failures      map[string]*failureRule
	requestCounts map[string]int
}

// New creates a started mock server. Call Close when done.
func New() *Server {
	s := &Server{
		backends:      make(map[string]*dataplane.Backend),
		matchRules:    make(map[string]dataplane.MatchRule),
		originRules:   make(map[string]dataplane.OriginRule),
		transactions:  make(map[string]*transactionState),
		configVersion: 1,
		nextTxnID:     1,
		failures:      make(map[string]*failureRule),
		requestCounts: make(map[string]int),
		info:          dataplane.RuntimeInfo{Version: "2.9.0", PID: 4242, Processes: 1},
	}
	s.server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// URL returns the mock server's base URL (use directly as the client's
// BaseURL).
func (s *Server) URL() string {
	return s.server.URL
}

// Close shuts the mock server down.
func (s *Server) Close() {
	s.server.Close()
}

// AddBackend registers a backend with its servers.
func (s *Server) AddBackend(b dataplane.Backend) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := b
	copied.Servers = append([]dataplane.Server(nil), b.Servers...)
	s.backends[b.Name] = &copied
}

// Backend returns a copy of the named backend, or nil.
func (s *Server) Backend(name string) *dataplane.Backend {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.backends[name]
	if !ok {
		return nil
	}
	copied := *b
	copied.Servers = append([]dataplane.Server(nil), b.Servers...)
	return &copied
}

// ServerWeight returns the live weight of a server, or -1 if absent.
func (s *Server) ServerWeight(backend, server string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.backends[backend]
	if !ok {
		return -1
	}
	for _, srv := range b.Servers {
		if srv.Name == server {
			return srv.Weight
		}
	}
	return -1
}

// SetStats replaces the runtime statistics rows.
func (s *Server) SetStats(rows []dataplane.StatRow) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats = append([]dataplane.StatRow(nil), rows...)
}

// SetProcessMetrics replaces the process metrics reading.
func (s *Server) SetProcessMetrics(pm dataplane.ProcessMetrics) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.process = pm
}

// FailValidation makes the dry-run validator reject pending configurations
// with the given details. Pass "" to restore passing validation.
func (s *Server) FailValidation(details string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.validateFail = details
}

// FailRequests injects a failure status for requests whose path contains
// substr. times < 0 fails every matching request until cleared.
func (s *Server) FailRequests(substr string, status, times int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[substr] = &failureRule{status: status, remaining: times}
}

// ClearFailures removes all injected failures.
func (s *Server) ClearFailures() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = make(map[string]*failureRule)
}

// RequestCount returns the number of requests whose path contained substr.
// An empty substr counts all requests.
func (s *Server) RequestCount(substr string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if substr == "" {
		total := 0
		for _, n := range s.requestCounts {
			total += n
		}
		return total
	}
	total := 0
	for path, n := range s.requestCounts {
		if strings.Contains(path, substr) {
			total += n
		}
	}
	return total
}

// OpenTransactionCount returns the number of in-progress transactions.
func (s *Server) OpenTransactionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, txn := range s.transactions {
		if txn.status == "in_progress" {
			n++
		}
	}
	return n
}

// TransactionStatus returns the status of a transaction, or "" if unknown.
func (s *Server) TransactionStatus(id string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if txn, ok := s.transactions[id]; ok {
		return txn.status
	}
	return ""
}

// MatchRuleNames returns the names of all content rules.
func (s *Server) MatchRuleNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.matchRules))
	for name := range s.matchRules {
		names = append(names, name)
	}
	return names
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()

	s.requestCounts[r.URL.Path]++

	for substr, rule := range s.failures {
		if strings.Contains(r.URL.Path, substr) && rule.remaining != 0 {
			if rule.remaining > 0 {
				rule.remaining--
			}
			status := rule.status
			s.mu.Unlock()
			http.Error(w, "injected failure", status)
			return
		}
	}
	s.mu.Unlock()

	switch {
	case r.URL.Path == "/services/configuration/version":
		s.handleVersion(w)
	case r.URL.Path == "/transactions" && r.Method == http.MethodPost:
		s.handleCreateTransaction(w)
	case strings.HasPrefix(r.URL.Path, "/transactions/"):
		s.handleTransaction(w, r)
	case r.URL.Path == "/services/runtime/stats":
		s.writeJSON(w, s.snapshotStats())
	case r.URL.Path == "/services/runtime/info":
		s.writeJSON(w, s.snapshotInfo())
	case r.URL.Path == "/services/runtime/process":
		s.writeJSON(w, s.snapshotProcess())
	case strings.HasPrefix(r.URL.Path, "/services/backends"):
		s.handleBackends(w, r)
	case strings.HasPrefix(r.URL.Path, "/rules/content"):
		s.handleContentRules(w, r)
	case strings.HasPrefix(r.URL.Path, "/rules/origin"):
		s.handleOriginRules(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleVersion(w http.ResponseWriter) {
	s.mu.Lock()
	v := s.configVersion
	s.mu.Unlock()
	s.writeJSON(w, map[string]int{"version": v})
}

func (s *Server) handleCreateTransaction(w http.ResponseWriter) {
	s.mu.Lock()
	txn := &transactionState{
		id:      fmt.Sprintf("txn-%d", s.nextTxnID),
		version: s.configVersion,
		status:  "in_progress",
	}
	s.nextTxnID++
	s.transactions[txn.id] = txn
	s.mu.Unlock()

	s.writeJSON(w, dataplane.Transaction{ID: txn.id, Version: txn.version, Status: txn.status})
}

func (s *Server) handleTransaction(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/transactions/")
	parts := strings.Split(rest, "/")
	id := parts[0]

	s.mu.Lock()
	txn, ok := s.transactions[id]
	if !ok {
		s.mu.Unlock()
		http.NotFound(w, r)
		return
	}

	// Dry-run validation endpoint.
	if len(parts) == 2 && parts[1] == "validate" && r.Method == http.MethodPost {
		details := s.validateFail
		s.mu.Unlock()
		if details != "" {
			s.writeJSON(w, map[string]any{"valid": false, "details": details})
			return
		}
		s.writeJSON(w, map[string]any{"valid": true})
		return
	}

	if txn.status != "in_progress" {
		s.mu.Unlock()
		http.Error(w, "transaction not in progress", http.StatusConflict)
		return
	}

	switch r.Method {
	case http.MethodPut: // commit
		for _, apply := range txn.staged {
			apply(s)
		}
		txn.status = "success"
		s.configVersion++
		s.mu.Unlock()
		s.writeJSON(w, dataplane.Transaction{ID: txn.id, Version: txn.version, Status: txn.status})
	case http.MethodDelete: // rollback
		txn.status = "failed"
		txn.staged = nil
		s.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	default:
		s.mu.Unlock()
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleBackends(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/services/backends")
	rest = strings.TrimPrefix(rest, "/")
	txnID := r.URL.Query().Get("transaction_id")

	s.mu.Lock()
	defer s.mu.Unlock()

	if rest == "" {
		switch r.Method {
		case http.MethodGet:
			backends := make([]dataplane.Backend, 0, len(s.backends))
			for _, b := range s.backends {
				copied := *b
				copied.Servers = append([]dataplane.Server(nil), b.Servers...)
				backends = append(backends, copied)
			}
			s.writeJSONLocked(w, backends)
		case http.MethodPost:
			var backend dataplane.Backend
			if err := json.NewDecoder(r.Body).Decode(&backend); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			s.stageLocked(w, txnID, func(s *Server) {
				copied := backend
				s.backends[backend.Name] = &copied
			})
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
		return
	}

	parts := strings.Split(rest, "/")
	backend, ok := s.backends[parts[0]]
	if !ok {
		http.NotFound(w, r)
		return
	}

	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		copied := *backend
		copied.Servers = append([]dataplane.Server(nil), backend.Servers...)
		s.writeJSONLocked(w, copied)

	case len(parts) == 2 && parts[1] == "servers" && r.Method == http.MethodGet:
		s.writeJSONLocked(w, append([]dataplane.Server(nil), backend.Servers...))

	case len(parts) == 2 && parts[1] == "servers" && r.Method == http.MethodPost:
		var server dataplane.Server
		if err := json.NewDecoder(r.Body).Decode(&server); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		name := backend.Name
		s.stageLocked(w, txnID, func(s *Server) {
			if b, ok := s.backends[name]; ok {
				b.Servers = append(b.Servers, server)
			}
		})

	case len(parts) == 4 && parts[1] == "servers" && parts[3] == "weight" && r.Method == http.MethodPut:
		var body struct {
			Weight int `json:"weight"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		backendName, serverName := parts[0], parts[2]
		found := false
		for i := range backend.Servers {
			if backend.Servers[i].Name == serverName {
				found = true
				break
			}
		}
		if !found {
			http.NotFound(w, r)
			return
		}
		s.stageLocked(w, txnID, func(s *Server) {
			b, ok := s.backends[backendName]
			if !ok {
				return
			}
			for i := range b.Servers {
				if b.Servers[i].Name == serverName {
					b.Servers[i].Weight = body.Weight
				}
			}
		})

	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleContentRules(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	txnID := r.URL.Query().Get("transaction_id")
	switch r.Method {
	case http.MethodGet:
		rules := make([]dataplane.MatchRule, 0, len(s.matchRules))
		for _, rule := range s.matchRules {
			rules = append(rules, rule)
		}
		s.writeJSONLocked(w, rules)
	case http.MethodPost:
		var rule dataplane.MatchRule
		if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.stageLocked(w, txnID, func(s *Server) {
			s.matchRules[rule.Name] = rule
		})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleOriginRules(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	txnID := r.URL.Query().Get("transaction_id")
	switch r.Method {
	case http.MethodGet:
		rules := make([]dataplane.OriginRule, 0, len(s.originRules))
		for _, rule := range s.originRules {
			rules = append(rules, rule)
		}
		s.writeJSONLocked(w, rules)
	case http.MethodPost:
		var rule dataplane.OriginRule
		if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.stageLocked(w, txnID, func(s *Server) {
			s.originRules[rule.Name] = rule
		})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// stageLocked applies a change immediately when txnID is empty, or stages
// it on the named transaction. The caller must hold s.mu.
func (s *Server) stageLocked(w http.ResponseWriter, txnID string, apply stagedChange) {
	if txnID == "" {
		apply(s)
		w.WriteHeader(http.StatusCreated)
		return
	}
	txn, ok := s.transactions[txnID]
	if !ok || txn.status != "in_progress" {
		http.Error(w, "unknown or closed transaction", http.StatusBadRequest)
		return
	}
	txn.staged = append(txn.staged, apply)
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) snapshotStats() []dataplane.StatRow {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]dataplane.StatRow(nil), s.stats...)
}

func (s *Server) snapshotInfo() dataplane.RuntimeInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.info
}

func (s *Server) snapshotProcess() dataplane.ProcessMetrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.process
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// writeJSONLocked is writeJSON for callers already holding s.mu; encoding
// does not touch shared state, so it is identical, but the name documents
// the locking expectation at call sites.
func (s *Server) writeJSONLocked(w http.ResponseWriter, v any) {
	s.writeJSON(w, v)
}

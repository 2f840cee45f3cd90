package flow

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// fakeEngine is an in-memory stand-in for the flow engine's REST API. It
// implements the token, fetch, create, update and list endpoints with real
// optimistic-concurrency semantics: a write carrying a stale version is
// rejected with 409 and the recognizable conflict message.
type fakeEngine struct {
	t      *testing.T
	server *httptest.Server

	mu          sync.Mutex
	resources   map[string]*fakeResource
	nextID      int
	failCreate  map[string]bool          // kind -> refuse creates with 500
	conflicts   map[string]int           // id -> writes to reject regardless of version
	writeStatus map[string]int           // id -> non-409 status to fail writes with
	counts      map[string]int           // "create", "fetch", "write", "list", "token"
}

type fakeResource struct {
	id      string
	kind    string
	scope   string
	name    string
	version int64
}

func newFakeEngine(t *testing.T) *fakeEngine {
	t.Helper()
	e := &fakeEngine{
		t:           t,
		resources:   make(map[string]*fakeResource),
		failCreate:  make(map[string]bool),
		conflicts:   make(map[string]int),
		writeStatus: make(map[string]int),
		counts:      make(map[string]int),
	}
	e.server = httptest.NewServer(http.HandlerFunc(e.handle))
	t.Cleanup(e.server.Close)
	return e
}

func (e *fakeEngine) URL() string { return e.server.URL }

func (e *fakeEngine) count(key string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.counts[key]
}

func (e *fakeEngine) resourceCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.resources)
}

// forceConflicts makes the next n writes against id fail with 409 even when
// the submitted version is current.
func (e *fakeEngine) forceConflicts(id string, n int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.conflicts[id] = n
}

// failWrites makes every write against id fail with the given status.
func (e *fakeEngine) failWrites(id string, status int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.writeStatus[id] = status
}

// idOf returns the id of the resource with the given kind and name.
func (e *fakeEngine) idOf(kind, name string) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, res := range e.resources {
		if res.kind == kind && res.name == name {
			return res.id
		}
	}
	return ""
}

func (e *fakeEngine) versionOf(id string) int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if res, ok := e.resources[id]; ok {
		return res.version
	}
	return -1
}

var fakeKinds = map[string]string{
	"process-groups":      "process-group",
	"parameter-contexts":  "parameter-context",
	"controller-services": "controller-service",
	"processors":          "processor",
	"connections":         "connection",
}

var fakeListKeys = map[string]string{
	"process-group":      "processGroups",
	"parameter-context":  "parameterContexts",
	"controller-service": "controllerServices",
	"processor":          "processors",
	"connection":         "connections",
}

func (e *fakeEngine) handle(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")

	switch {
	case len(parts) == 2 && parts[0] == "access" && parts[1] == "token":
		e.bump("token")
		fmt.Fprint(w, "fake-token")

	case len(parts) == 2 && parts[0] == "access" && parts[1] == "config":
		w.WriteHeader(http.StatusOK)

	case len(parts) == 1 && parts[0] == "parameter-contexts" && r.Method == http.MethodPost:
		e.create(w, r, "parameter-context", "root")

	case len(parts) == 2 && parts[0] == "flow" && parts[1] == "parameter-contexts":
		e.list(w, "parameter-context", "")

	case len(parts) == 4 && parts[0] == "flow" && parts[1] == "process-groups" && parts[3] == "controller-services":
		e.list(w, "controller-service", parts[2])

	case len(parts) == 3 && parts[0] == "process-groups":
		kind, ok := fakeKinds[parts[2]]
		if !ok {
			http.NotFound(w, r)
			return
		}
		switch r.Method {
		case http.MethodPost:
			e.create(w, r, kind, parts[1])
		case http.MethodGet:
			e.list(w, kind, parts[1])
		default:
			http.NotFound(w, r)
		}

	case len(parts) == 2:
		kind, ok := fakeKinds[parts[0]]
		if !ok {
			http.NotFound(w, r)
			return
		}
		switch r.Method {
		case http.MethodGet:
			e.fetch(w, kind, parts[1])
		case http.MethodPut:
			e.write(w, r, kind, parts[1])
		default:
			http.NotFound(w, r)
		}

	default:
		http.NotFound(w, r)
	}
}

func (e *fakeEngine) bump(key string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.counts[key]++
}

type fakeEnvelope struct {
	Revision struct {
		Version int64 `json:"version"`
	} `json:"revision"`
	Component map[string]any `json:"component"`
}

func (e *fakeEngine) create(w http.ResponseWriter, r *http.Request, kind, scope string) {
	e.bump("create")

	var env fakeEnvelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		http.Error(w, "bad payload", http.StatusBadRequest)
		return
	}
	name, _ := env.Component["name"].(string)

	e.mu.Lock()
	if e.failCreate[kind] {
		e.mu.Unlock()
		http.Error(w, "create refused", http.StatusInternalServerError)
		return
	}
	e.nextID++
	res := &fakeResource{
		id:    fmt.Sprintf("%s-%04d", kind, e.nextID),
		kind:  kind,
		scope: scope,
		name:  name,
	}
	e.resources[res.id] = res
	e.mu.Unlock()

	writeEntity(w, res)
}

func (e *fakeEngine) fetch(w http.ResponseWriter, kind, id string) {
	e.bump("fetch")

	e.mu.Lock()
	res, ok := e.resources[id]
	e.mu.Unlock()
	if !ok || res.kind != kind {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	writeEntity(w, res)
}

func (e *fakeEngine) write(w http.ResponseWriter, r *http.Request, kind, id string) {
	e.bump("write")

	var env fakeEnvelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		http.Error(w, "bad payload", http.StatusBadRequest)
		return
	}

	e.mu.Lock()
	res, ok := e.resources[id]
	if !ok || res.kind != kind {
		e.mu.Unlock()
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if status := e.writeStatus[id]; status != 0 {
		e.mu.Unlock()
		http.Error(w, "write refused", status)
		return
	}
	if e.conflicts[id] > 0 {
		e.conflicts[id]--
		e.mu.Unlock()
		http.Error(w, fmt.Sprintf("[%s] is not the most up-to-date revision", id),
			http.StatusConflict)
		return
	}
	if env.Revision.Version != res.version {
		e.mu.Unlock()
		http.Error(w, fmt.Sprintf("[%s] is not the most up-to-date revision", id),
			http.StatusConflict)
		return
	}
	res.version++
	e.mu.Unlock()

	writeEntity(w, res)
}

func (e *fakeEngine) list(w http.ResponseWriter, kind, scope string) {
	e.bump("list")

	e.mu.Lock()
	entries := make([]map[string]any, 0)
	for _, res := range e.resources {
		if res.kind != kind {
			continue
		}
		if scope != "" && res.scope != scope {
			continue
		}
		entries = append(entries, map[string]any{
			"id":        res.id,
			"component": map[string]any{"id": res.id, "name": res.name},
		})
	}
	e.mu.Unlock()

	_ = json.NewEncoder(w).Encode(map[string]any{fakeListKeys[kind]: entries})
}

func writeEntity(w http.ResponseWriter, res *fakeResource) {
	_ = json.NewEncoder(w).Encode(map[string]any{
		"id":       res.id,
		"revision": map[string]any{"version": res.version},
		"component": map[string]any{
			"id":   res.id,
			"name": res.name,
		},
	})
}

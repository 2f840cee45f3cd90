package nifi

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pipewright/pipewright/pkg/telemetry"
)

// Options configures a Client.
type Options struct {
	// BaseURL is the engine API base, e.g. "https://nifi.local:8443/nifi-api".
	BaseURL string

	// Username and Password are exchanged for a bearer token.
	Username string
	Password string

	// Timeout bounds every request/response pair. Defaults to 30s.
	Timeout time.Duration

	// InsecureTLS skips certificate verification, for self-signed test
	// engines only.
	InsecureTLS bool

	// DryRun makes every mutating call synthesize its result without
	// network I/O. Read-only name lookups deterministically report absent,
	// since no remote state exists to find.
	DryRun bool

	// Logger receives request and dry-run decision logs.
	Logger *telemetry.Logger

	// SyntheticSuffix overrides the random disambiguator appended to
	// synthetic ids. Tests inject a fixed suffix for reproducible output.
	SyntheticSuffix func() string
}

// Client performs authenticated reads and optimistic-concurrency writes
// against the engine's object model. All calls are blocking, synchronous
// request/response pairs.
type Client struct {
	baseURL  string
	http     *http.Client
	username string
	password string
	dryRun   bool
	logger   *telemetry.Logger
	suffix   func() string

	mu    sync.Mutex
	token string

	// synthetic tracks dry-run revisions per synthetic id so the
	// fetch-then-write protocol behaves identically in both modes.
	synthetic map[string]*Revision
}

// DryRunToken is the constant session token returned by Authenticate in
// dry-run mode.
const DryRunToken = "dry-run-token"

// NewClient creates a client for the engine at opts.BaseURL.
func NewClient(opts Options) (*Client, error) {
	if opts.BaseURL == "" && !opts.DryRun {
		return nil, NewPermanentError("engine base URL is required", nil).
			WithCode(CodeValidation)
	}
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = telemetry.Discard()
	}
	if opts.SyntheticSuffix == nil {
		opts.SyntheticSuffix = func() string { return uuid.NewString()[:8] }
	}

	transport := http.DefaultTransport
	if opts.InsecureTLS {
		transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, // #nosec G402
		}
	}

	return &Client{
		baseURL:   strings.TrimRight(opts.BaseURL, "/"),
		http:      &http.Client{Timeout: opts.Timeout, Transport: transport},
		username:  opts.Username,
		password:  opts.Password,
		dryRun:    opts.DryRun,
		logger:    opts.Logger.NewComponentLogger("nifi-client"),
		suffix:    opts.SyntheticSuffix,
		synthetic: make(map[string]*Revision),
	}, nil
}

// DryRun reports whether the client synthesizes mutating calls.
func (c *Client) DryRun() bool { return c.dryRun }

// Authenticate exchanges the configured credentials for a bearer token. The
// engine returns the token as a raw string, not wrapped in JSON; an empty
// body means the credentials were rejected.
func (c *Client) Authenticate(ctx context.Context) (string, error) {
	if c.dryRun {
		c.logger.Debug("dry-run: skipping authentication, using synthetic token")
		c.setToken(DryRunToken)
		return DryRunToken, nil
	}

	form := url.Values{}
	form.Set("username", c.username)
	form.Set("password", c.password)

	status, body, err := c.do(ctx, http.MethodPost, "/access/token",
		strings.NewReader(form.Encode()), "application/x-www-form-urlencoded")
	if err != nil {
		return "", NewAuthError("token request failed", err)
	}
	if status < 200 || status >= 300 {
		return "", NewAuthError("engine rejected credentials", nil).WithHTTP(status, string(body))
	}

	token := strings.TrimSpace(string(body))
	if token == "" {
		return "", NewAuthError("engine returned an empty token", nil)
	}

	c.setToken(token)
	c.logger.Debug("authenticated against engine")
	return token, nil
}

// FetchResource returns the current state and revision of a resource. The
// revision must be used verbatim for the immediately following write and
// never cached across two write attempts.
func (c *Client) FetchResource(ctx context.Context, kind ResourceKind, id ResourceID) (*ResourceEntity, error) {
	if c.dryRun || id.Synthetic {
		return c.syntheticEntity(id), nil
	}

	routes, err := routesFor(kind)
	if err != nil {
		return nil, err
	}

	status, body, err := c.do(ctx, http.MethodGet, routes.item(id.Value), nil, "")
	if err != nil {
		return nil, NewPermanentError("fetch failed", err).
			WithCode(CodeBadResponse).WithResource(kind, id.Value)
	}
	if status == http.StatusNotFound {
		return nil, NewPermanentError("resource not found", nil).
			WithCode(CodeNotFound).WithResource(kind, id.Value).WithHTTP(status, string(body))
	}
	if status != http.StatusOK {
		return nil, NewPermanentError("unexpected fetch response", nil).
			WithCode(CodeBadResponse).WithResource(kind, id.Value).WithHTTP(status, string(body))
	}

	var entity ResourceEntity
	if err := json.Unmarshal(body, &entity); err != nil {
		return nil, NewPermanentError("malformed fetch response", err).
			WithCode(CodeBadResponse).WithResource(kind, id.Value)
	}
	if entity.ID == "" {
		return nil, NewPermanentError("resource not found", nil).
			WithCode(CodeNotFound).WithResource(kind, id.Value)
	}
	return &entity, nil
}

// CreateResource issues a create call with revision {version: 0}. Exactly
// one new remote object results per successful call, so callers must attempt
// FindResourceByName first. In dry-run mode a deterministic synthetic id is
// derived from kind and name plus a random disambiguator.
func (c *Client) CreateResource(
	ctx context.Context,
	kind ResourceKind,
	scope ResourceID,
	name string,
	component any,
) (ResourceID, Revision, error) {
	if c.dryRun {
		id := SyntheticID(fmt.Sprintf("%s-%s-%s", kind, slug(name), c.suffix()))
		rev := Revision{Version: 0, ClientID: DryRunToken}
		c.trackSynthetic(id.Value, rev)
		c.logger.WithField("kind", string(kind)).WithField("name", name).
			Infof("dry-run: would create %s %q in scope %s as %s", kind, name, scope, id)
		return id, rev, nil
	}

	routes, err := routesFor(kind)
	if err != nil {
		return ResourceID{}, Revision{}, err
	}

	payload, err := json.Marshal(entityEnvelope{
		Revision:  Revision{Version: 0},
		Component: component,
	})
	if err != nil {
		return ResourceID{}, Revision{}, NewPermanentError("marshal create payload", err).
			WithCode(CodeValidation).WithResource(kind, name)
	}

	status, body, err := c.do(ctx, http.MethodPost, routes.create(scope.Value),
		bytes.NewReader(payload), "application/json")
	if err != nil {
		return ResourceID{}, Revision{}, NewPermanentError("create request failed", err).
			WithCode(CodeCreateFailed).WithResource(kind, name)
	}
	if status < 200 || status >= 300 {
		return ResourceID{}, Revision{}, NewPermanentError("engine refused create", nil).
			WithCode(CodeCreateFailed).WithResource(kind, name).WithHTTP(status, string(body))
	}

	var entity ResourceEntity
	if err := json.Unmarshal(body, &entity); err != nil || entity.ID == "" {
		return ResourceID{}, Revision{}, NewPermanentError("malformed create response", err).
			WithCode(CodeBadResponse).WithResource(kind, name)
	}

	c.logger.WithField("kind", string(kind)).WithField("name", name).
		Debugf("created %s %q with id %s", kind, name, entity.ID)
	return RealID(entity.ID), entity.Revision, nil
}

// WriteResource issues an update carrying the given revision and returns the
// server's new revision on success. A stale-revision rejection (HTTP 409 or
// the recognizable conflict message in the body) is the one retryable
// failure; any other non-200 response is fatal for this resource.
func (c *Client) WriteResource(
	ctx context.Context,
	kind ResourceKind,
	id ResourceID,
	rev Revision,
	component any,
) (Revision, error) {
	if c.dryRun || id.Synthetic {
		next := Revision{Version: rev.Version + 1, ClientID: rev.ClientID}
		c.trackSynthetic(id.Value, next)
		intended, _ := json.Marshal(component)
		c.logger.WithField("kind", string(kind)).WithField("id", id.Value).
			Infof("dry-run: would configure %s %s with %s", kind, id, string(intended))
		return next, nil
	}

	routes, err := routesFor(kind)
	if err != nil {
		return Revision{}, err
	}

	payload, err := json.Marshal(entityEnvelope{Revision: rev, Component: component})
	if err != nil {
		return Revision{}, NewPermanentError("marshal update payload", err).
			WithCode(CodeValidation).WithResource(kind, id.Value)
	}

	status, body, err := c.do(ctx, http.MethodPut, routes.item(id.Value),
		bytes.NewReader(payload), "application/json")
	if err != nil {
		return Revision{}, NewPermanentError("update request failed", err).
			WithCode(CodeConfigureFailed).WithResource(kind, id.Value)
	}
	if status == http.StatusOK {
		var entity ResourceEntity
		if err := json.Unmarshal(body, &entity); err != nil {
			return Revision{}, NewPermanentError("malformed update response", err).
				WithCode(CodeBadResponse).WithResource(kind, id.Value)
		}
		return entity.Revision, nil
	}

	if classifyWriteFailure(status, string(body)) == writeRetryable {
		return Revision{}, NewConflictError("write rejected: stale revision").
			WithResource(kind, id.Value).WithHTTP(status, string(body))
	}
	return Revision{}, NewPermanentError("engine refused update", nil).
		WithCode(CodeConfigureFailed).WithResource(kind, id.Value).WithHTTP(status, string(body))
}

// FindResourceByName lists resources in scope and returns the id of the
// first whose name matches exactly. Absence is not an error. In dry-run mode
// the lookup deterministically reports absent so the synthetic create path
// is always exercised and the output is reproducible.
func (c *Client) FindResourceByName(
	ctx context.Context,
	kind ResourceKind,
	scope ResourceID,
	name string,
) (ResourceID, bool, error) {
	if c.dryRun {
		c.logger.WithField("kind", string(kind)).WithField("name", name).
			Debug("dry-run: name lookup reports absent")
		return ResourceID{}, false, nil
	}

	routes, err := routesFor(kind)
	if err != nil {
		return ResourceID{}, false, err
	}

	status, body, err := c.do(ctx, http.MethodGet, routes.list(scope.Value), nil, "")
	if err != nil {
		return ResourceID{}, false, NewPermanentError("list request failed", err).
			WithCode(CodeBadResponse).WithResource(kind, name)
	}
	if status != http.StatusOK {
		return ResourceID{}, false, NewPermanentError("unexpected list response", nil).
			WithCode(CodeBadResponse).WithResource(kind, name).WithHTTP(status, string(body))
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		return ResourceID{}, false, NewPermanentError("malformed list response", err).
			WithCode(CodeBadResponse).WithResource(kind, name)
	}

	raw, ok := envelope[routes.listKey]
	if !ok {
		return ResourceID{}, false, nil
	}

	var entries []listedEntity
	if err := json.Unmarshal(raw, &entries); err != nil {
		return ResourceID{}, false, NewPermanentError("malformed list entries", err).
			WithCode(CodeBadResponse).WithResource(kind, name)
	}

	for _, entry := range entries {
		if entry.Component.Name == name {
			id := entry.ID
			if id == "" {
				id = entry.Component.ID
			}
			return RealID(id), true, nil
		}
	}
	return ResourceID{}, false, nil
}

// Probe is the unauthenticated health probe used by the readiness gate.
func (c *Client) Probe(ctx context.Context) error {
	status, body, err := c.do(ctx, http.MethodGet, "/access/config", nil, "")
	if err != nil {
		return NewPermanentError("engine unreachable", err).WithCode(CodeBadResponse)
	}
	if status < 200 || status >= 300 {
		return NewPermanentError("engine not ready", nil).
			WithCode(CodeBadResponse).WithHTTP(status, string(body))
	}
	return nil
}

// kindRoutes maps a resource kind to its REST paths.
type kindRoutes struct {
	create  func(scope string) string
	item    func(id string) string
	list    func(scope string) string
	listKey string
}

func routesFor(kind ResourceKind) (kindRoutes, error) {
	switch kind {
	case KindProcessGroup:
		return kindRoutes{
			create:  func(s string) string { return "/process-groups/" + s + "/process-groups" },
			item:    func(id string) string { return "/process-groups/" + id },
			list:    func(s string) string { return "/process-groups/" + s + "/process-groups" },
			listKey: "processGroups",
		}, nil
	case KindParameterContext:
		return kindRoutes{
			create:  func(string) string { return "/parameter-contexts" },
			item:    func(id string) string { return "/parameter-contexts/" + id },
			list:    func(string) string { return "/flow/parameter-contexts" },
			listKey: "parameterContexts",
		}, nil
	case KindControllerService:
		return kindRoutes{
			create:  func(s string) string { return "/process-groups/" + s + "/controller-services" },
			item:    func(id string) string { return "/controller-services/" + id },
			list:    func(s string) string { return "/flow/process-groups/" + s + "/controller-services" },
			listKey: "controllerServices",
		}, nil
	case KindProcessor:
		return kindRoutes{
			create:  func(s string) string { return "/process-groups/" + s + "/processors" },
			item:    func(id string) string { return "/processors/" + id },
			list:    func(s string) string { return "/process-groups/" + s + "/processors" },
			listKey: "processors",
		}, nil
	case KindConnection:
		return kindRoutes{
			create:  func(s string) string { return "/process-groups/" + s + "/connections" },
			item:    func(id string) string { return "/connections/" + id },
			list:    func(s string) string { return "/process-groups/" + s + "/connections" },
			listKey: "connections",
		}, nil
	}
	return kindRoutes{}, NewPermanentError(fmt.Sprintf("unknown resource kind: %s", kind), nil).
		WithCode(CodeValidation)
}

// do performs one blocking request/response pair and returns the status and
// the full response body.
func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	if token := c.getToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, data, nil
}

func (c *Client) setToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

func (c *Client) getToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

func (c *Client) trackSynthetic(id string, rev Revision) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r := rev
	c.synthetic[id] = &r
}

func (c *Client) syntheticEntity(id ResourceID) *ResourceEntity {
	c.mu.Lock()
	defer c.mu.Unlock()
	rev := Revision{Version: 0, ClientID: DryRunToken}
	if r, ok := c.synthetic[id.Value]; ok {
		rev = *r
	} else {
		r := rev
		c.synthetic[id.Value] = &r
	}
	return &ResourceEntity{ID: id.Value, Revision: rev}
}

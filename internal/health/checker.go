package health

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/tokligence/lexia-stream/internal/client"
)

// Status represents the health status of a component.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

const (
	typeDatabase = "database"
	typeHTTP     = "http"
)

// Pinger is implemented by the sqlite and postgres stores.
type Pinger interface {
	Ping(ctx context.Context) error
}

// CheckResult holds the result of a health check.
type CheckResult struct {
	Status    Status        `json:"status"`
	Message   string        `json:"message,omitempty"`
	Latency   time.Duration `json:"latency_ms"`
	Timestamp time.Time     `json:"timestamp"`
	Error     string        `json:"error,omitempty"`
}

// Component is one checked dependency.
type Component struct {
	Name string `json:"name"`
	Type string `json:"type"`
	CheckResult
}

// HealthStatus represents the overall health of the service.
type HealthStatus struct {
	Status     Status      `json:"status"`
	Timestamp  time.Time   `json:"timestamp"`
	Components []Component `json:"components"`
}

// Config lists the dependencies to probe.
type Config struct {
	// Databases maps a component name such as "ledger_db" to its store.
	Databases map[string]Pinger
	// CentrifugoURL is probed with a GET when set; any HTTP answer counts as up.
	CentrifugoURL string
	HTTPClient    client.HTTPClient

	DBTimeout          time.Duration
	HTTPTimeout        time.Duration
	MaxDatabaseLatency time.Duration
}

// Checker performs health checks on the service dependencies.
type Checker struct {
	databases     map[string]Pinger
	centrifugoURL string
	httpClient    client.HTTPClient

	dbTimeout          time.Duration
	httpTimeout        time.Duration
	maxDatabaseLatency time.Duration

	mu   sync.RWMutex
	last []Component
}

// New creates a new health checker.
func New(cfg Config) *Checker {
	if cfg.DBTimeout == 0 {
		cfg.DBTimeout = 2 * time.Second
	}
	if cfg.HTTPTimeout == 0 {
		cfg.HTTPTimeout = 5 * time.Second
	}
	if cfg.MaxDatabaseLatency == 0 {
		cfg.MaxDatabaseLatency = 100 * time.Millisecond
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.HTTPTimeout}
	}
	dbs := make(map[string]Pinger, len(cfg.Databases))
	for name, p := range cfg.Databases {
		if p != nil {
			dbs[name] = p
		}
	}
	return &Checker{
		databases:          dbs,
		centrifugoURL:      cfg.CentrifugoURL,
		httpClient:         cfg.HTTPClient,
		dbTimeout:          cfg.DBTimeout,
		httpTimeout:        cfg.HTTPTimeout,
		maxDatabaseLatency: cfg.MaxDatabaseLatency,
	}
}

// Check probes every dependency concurrently and returns the overall status.
func (c *Checker) Check(ctx context.Context) HealthStatus {
	var wg sync.WaitGroup
	results := make(chan Component, len(c.databases)+1)

	for name, db := range c.databases {
		wg.Add(1)
		go func(name string, db Pinger) {
			defer wg.Done()
			results <- c.checkDatabase(ctx, name, db)
		}(name, db)
	}
	if c.centrifugoURL != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- c.checkHTTPEndpoint(ctx, "centrifugo", c.centrifugoURL)
		}()
	}

	wg.Wait()
	close(results)

	components := make([]Component, 0, len(c.databases)+1)
	for comp := range results {
		components = append(components, comp)
	}
	sort.Slice(components, func(i, j int) bool { return components[i].Name < components[j].Name })

	c.mu.Lock()
	c.last = components
	c.mu.Unlock()

	return overallStatus(components)
}

// LastStatus returns the result of the previous Check without probing.
func (c *Checker) LastStatus() HealthStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return overallStatus(c.last)
}

func (c *Checker) checkDatabase(ctx context.Context, name string, db Pinger) Component {
	comp := Component{Name: name, Type: typeDatabase, CheckResult: CheckResult{Timestamp: time.Now()}}

	dbCtx, cancel := context.WithTimeout(ctx, c.dbTimeout)
	defer cancel()

	start := time.Now()
	err := db.Ping(dbCtx)
	comp.Latency = time.Since(start)

	switch {
	case err != nil:
		comp.Status = StatusUnhealthy
		comp.Error = err.Error()
		comp.Message = "Database unreachable"
	case comp.Latency > c.maxDatabaseLatency:
		comp.Status = StatusDegraded
		comp.Message = fmt.Sprintf("High latency: %v", comp.Latency)
	default:
		comp.Status = StatusHealthy
		comp.Message = "Connected"
	}
	return comp
}

func (c *Checker) checkHTTPEndpoint(ctx context.Context, name, url string) Component {
	comp := Component{Name: name, Type: typeHTTP, CheckResult: CheckResult{Timestamp: time.Now()}}

	httpCtx, cancel := context.WithTimeout(ctx, c.httpTimeout)
	defer cancel()

	start := time.Now()
	req, err := http.NewRequestWithContext(httpCtx, http.MethodGet, url, nil)
	if err != nil {
		comp.Status = StatusUnhealthy
		comp.Error = err.Error()
		comp.Latency = time.Since(start)
		return comp
	}
	resp, err := c.httpClient.Do(req)
	comp.Latency = time.Since(start)
	if err != nil {
		comp.Status = StatusDegraded
		comp.Error = err.Error()
		comp.Message = "Endpoint unreachable"
		return comp
	}
	defer resp.Body.Close()

	// Centrifugo answers GET on its API path with an error status; reaching it is enough.
	comp.Status = StatusHealthy
	comp.Message = fmt.Sprintf("Reachable (HTTP %d)", resp.StatusCode)
	return comp
}

// overallStatus is unhealthy when a database is down and degraded when any
// other component is.
func overallStatus(components []Component) HealthStatus {
	status := StatusHealthy
	for _, comp := range components {
		switch comp.Status {
		case StatusUnhealthy:
			if comp.Type == typeDatabase {
				status = StatusUnhealthy
			} else if status == StatusHealthy {
				status = StatusDegraded
			}
		case StatusDegraded:
			if status == StatusHealthy {
				status = StatusDegraded
			}
		}
	}
	if components == nil {
		components = []Component{}
	}
	return HealthStatus{Status: status, Timestamp: time.Now(), Components: components}
}

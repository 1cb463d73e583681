package health

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pingFunc func(context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

type doFunc func(*http.Request) (*http.Response, error)

func (f doFunc) Do(r *http.Request) (*http.Response, error) { return f(r) }

func okPing(context.Context) error { return nil }

func TestCheckAllHealthy(t *testing.T) {
	c := New(Config{
		Databases:     map[string]Pinger{"ledger_db": pingFunc(okPing), "conversation_db": pingFunc(okPing)},
		CentrifugoURL: "http://centrifugo.local/api",
		HTTPClient: doFunc(func(r *http.Request) (*http.Response, error) {
			return &http.Response{StatusCode: http.StatusMethodNotAllowed, Body: io.NopCloser(strings.NewReader(""))}, nil
		}),
		MaxDatabaseLatency: time.Minute,
	})

	st := c.Check(context.Background())
	assert.Equal(t, StatusHealthy, st.Status)
	require.Len(t, st.Components, 3)
	assert.Equal(t, "centrifugo", st.Components[0].Name)
	assert.Equal(t, "Reachable (HTTP 405)", st.Components[0].Message)
	assert.Equal(t, "conversation_db", st.Components[1].Name)
	assert.Equal(t, StatusHealthy, c.LastStatus().Status)
}

func TestDatabaseDownIsUnhealthy(t *testing.T) {
	c := New(Config{Databases: map[string]Pinger{
		"ledger_db": pingFunc(func(context.Context) error { return errors.New("disk I/O error") }),
	}})
	st := c.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, st.Status)
	require.Len(t, st.Components, 1)
	assert.Equal(t, "disk I/O error", st.Components[0].Error)
}

func TestRelayDownIsDegraded(t *testing.T) {
	c := New(Config{
		Databases:     map[string]Pinger{"ledger_db": pingFunc(okPing)},
		CentrifugoURL: "http://centrifugo.local/api",
		HTTPClient: doFunc(func(*http.Request) (*http.Response, error) {
			return nil, errors.New("connection refused")
		}),
		MaxDatabaseLatency: time.Minute,
	})
	st := c.Check(context.Background())
	assert.Equal(t, StatusDegraded, st.Status)
}

func TestSlowDatabaseIsDegraded(t *testing.T) {
	c := New(Config{
		Databases: map[string]Pinger{"ledger_db": pingFunc(func(context.Context) error {
			time.Sleep(5 * time.Millisecond)
			return nil
		})},
		MaxDatabaseLatency: time.Millisecond,
	})
	assert.Equal(t, StatusDegraded, c.Check(context.Background()).Status)
}

func TestNoComponents(t *testing.T) {
	c := New(Config{Databases: map[string]Pinger{"nil": nil}})
	st := c.Check(context.Background())
	assert.Equal(t, StatusHealthy, st.Status)
	assert.NotNil(t, st.Components)
	assert.Empty(t, st.Components)
}

package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

func TestRegistryRun(t *testing.T) {
	r := NewRegistry(time.Second)
	r.Register("database", DatabaseCheck(fakePinger{}))
	r.Register("migrations", MigrationCheck(func(context.Context) (uint, bool, error) { return 3, false, nil }, 3))

	report := r.Run(context.Background())
	assert.Equal(t, "healthy", report.Status)
	assert.Len(t, report.Checks, 2)

	r.Register("database", DatabaseCheck(fakePinger{err: errors.New("connection refused")}))
	report = r.Run(context.Background())
	assert.Equal(t, "unhealthy", report.Status)
	assert.Len(t, report.Checks, 2, "re-registering replaces the check")
	assert.Contains(t, report.Checks["database"].Message, "connection refused")
	assert.Equal(t, "healthy", report.Checks["migrations"].Status)
}

func TestMigrationCheck(t *testing.T) {
	tests := []struct {
		name    string
		version uint
		dirty   bool
		err     error
		wantErr string
	}{
		{name: "current", version: 3},
		{name: "behind", version: 2, wantErr: "expected 3"},
		{name: "dirty", version: 3, dirty: true, wantErr: "dirty"},
		{name: "unreadable", err: errors.New("no table"), wantErr: "no table"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			check := MigrationCheck(func(context.Context) (uint, bool, error) {
				return tt.version, tt.dirty, tt.err
			}, 3)
			err := check(context.Background())
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestRunRecoversPanickingCheck(t *testing.T) {
	r := NewRegistry(time.Second)
	r.Register("broken", func(context.Context) error { panic("boom") })

	report := r.Run(context.Background())
	assert.Equal(t, "unhealthy", report.Status)
	assert.Contains(t, report.Checks["broken"].Message, "boom")
}

func TestReadyHandler(t *testing.T) {
	r := NewRegistry(time.Second)
	r.Register("database", DatabaseCheck(fakePinger{err: errors.New("down")}))

	rec := httptest.NewRecorder()
	r.ReadyHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var report Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, "unhealthy", report.Status)

	rec = httptest.NewRecorder()
	r.LiveHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

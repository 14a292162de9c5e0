package station

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOverviewMapsQueueStates(t *testing.T) {
	cases := map[string]struct {
		body string
		want Overview
	}{
		"idle": {
			`{"status":"Idle","running_experiment_name":"","total_experiments_queued":0,"current_run_number":0}`,
			Overview{Status: "Idle", RunningExperiment: "", TotalQueued: "0", CurrentRun: "0"},
		},
		"paused before first run": {
			`{"status":"Paused","running_experiment_name":"cell-7","total_experiments_queued":4,"current_run_number":0}`,
			Overview{Status: "Paused - Not started", RunningExperiment: "cell-7", TotalQueued: "4", CurrentRun: "0"},
		},
		"queue finished": {
			`{"status":"Ready","running_experiment_name":"cell-7","total_experiments_queued":4,"current_run_number":""}`,
			Overview{Status: "Ready - Queue finished", RunningExperiment: "all experiments finished", TotalQueued: "4", CurrentRun: "4"},
		},
		"running": {
			`{"status":"Running","running_experiment_name":"cell-7","total_experiments_queued":4,"current_run_number":2}`,
			Overview{Status: "Running", RunningExperiment: "cell-7", TotalQueued: "4", CurrentRun: "2"},
		},
		"paused mid queue": {
			`{"status":"paused","running_experiment_name":"cell-7","total_experiments_queued":4,"current_run_number":3}`,
			Overview{Status: "paused", RunningExperiment: "cell-7", TotalQueued: "4", CurrentRun: "3"},
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			got, err := ParseOverview([]byte(tc.body))
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestParseRunTables(t *testing.T) {
	tables, err := ParseRunTables([]byte(`{
		"sweep-b": [{"name":"r1","type":"cv","parameters":{"rate":[5,"mV/s"]}}],
		"sweep-a": {
			"10": {"name":"r10","type":"ocv","parameters":{"temp":[25,"C"]}},
			"2":  {"name":"r2","type":"cv","parameters":{"rate":["fast"],"temp":[30]}}
		}
	}`))
	require.NoError(t, err)
	require.Len(t, tables, 2)

	a := tables[0]
	assert.Equal(t, "sweep-a", a.Name)
	assert.Equal(t, []string{"rate", "temp"}, a.Columns)
	assert.Equal(t, []Row{
		{Name: "r2", Type: "cv", Values: []string{"fast", "30"}},
		{Name: "r10", Type: "ocv", Values: []string{"", "25"}},
	}, a.Rows)

	assert.Equal(t, "sweep-b", tables[1].Name)
	assert.Equal(t, []string{"5"}, tables[1].Rows[0].Values)

	_, err = ParseRunTables([]byte(`{"x": 5}`))
	assert.Error(t, err)
}

func TestClientReportsOfflineOnFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ov, err := New(srv.URL, nil).Overview(context.Background())
	assert.Error(t, err)
	assert.Equal(t, OfflineOverview(), ov)

	srv.Close()
	ov, err = New(srv.URL, nil).Overview(context.Background())
	assert.Error(t, err)
	assert.Equal(t, Offline, ov.Status)
}

func TestMonitorRefreshKeepsLastTables(t *testing.T) {
	var tablesDown atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		switch r.URL.Path {
		case "/api/station_overview":
			fmt.Fprint(w, `{"status":"Running","running_experiment_name":"cell-7","total_experiments_queued":2,"current_run_number":1}`)
		case "/api/station_run_tables":
			if tablesDown.Load() {
				http.Error(w, "busy", http.StatusInternalServerError)
				return
			}
			fmt.Fprint(w, `{"cell-7":[{"name":"r1","type":"cv","parameters":{"rate":[5]}}]}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	m := NewMonitor(New(srv.URL+"/", nil), 0)
	assert.Equal(t, Offline, m.Snapshot().Overview.Status)

	m.Refresh(context.Background())
	snap := m.Snapshot()
	assert.Equal(t, "Running", snap.Overview.Status)
	require.Len(t, snap.Tables, 1)
	assert.Empty(t, snap.Error)

	tablesDown.Store(true)
	m.Refresh(context.Background())
	snap = m.Snapshot()
	require.Len(t, snap.Tables, 1)
	assert.Equal(t, "cell-7", snap.Tables[0].Name)
	assert.Contains(t, snap.Error, "500")
}

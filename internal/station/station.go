// Package station talks to the experiment station that produces the stream:
// the overview of its queue and the tables of finished, running and queued
// runs.
package station

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"
)

// maxResponse bounds a station response body.
const maxResponse = 8 << 20

// Offline is shown for every overview field when the station is unreachable.
const Offline = "offline"

// Overview is the station's queue state, ready for display.
type Overview struct {
	Status            string `json:"status"`
	RunningExperiment string `json:"running_experiment_name"`
	TotalQueued       string `json:"total_experiments_queued"`
	CurrentRun        string `json:"current_run_number"`
}

// OfflineOverview is reported when the station cannot be reached.
func OfflineOverview() Overview {
	return Overview{Status: Offline, RunningExperiment: Offline, TotalQueued: Offline, CurrentRun: Offline}
}

// Table is one experiment's runs. Columns lists the parameter names; each
// row carries one value per column, empty where a run lacks the parameter.
type Table struct {
	Name    string   `json:"name"`
	Columns []string `json:"columns"`
	Rows    []Row    `json:"rows"`
}

type Row struct {
	Name   string   `json:"name"`
	Type   string   `json:"type"`
	Values []string `json:"values"`
}

// Client calls the station API under a base URL such as http://10.0.0.5:11123.
type Client struct {
	base string
	http *http.Client
}

// New creates a station client.
func New(base string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{base: strings.TrimRight(base, "/"), http: httpClient}
}

// Overview fetches the queue state. Any failure yields OfflineOverview and
// the error.
func (c *Client) Overview(ctx context.Context) (Overview, error) {
	data, err := c.post(ctx, "/api/station_overview")
	if err != nil {
		return OfflineOverview(), err
	}
	ov, err := ParseOverview(data)
	if err != nil {
		return OfflineOverview(), err
	}
	return ov, nil
}

// RunTables fetches every run table.
func (c *Client) RunTables(ctx context.Context) ([]Table, error) {
	data, err := c.post(ctx, "/api/station_run_tables")
	if err != nil {
		return nil, err
	}
	return ParseRunTables(data)
}

func (c *Client) post(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponse))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: unexpected status %s", path, resp.Status)
	}
	return data, nil
}

// ParseOverview maps a station_overview response to display values:
//
//	paused with run 0     -> "<status> - Not started"
//	ready with run ""     -> "<status> - Queue finished", current run = queue size
//	anything else         -> as reported
func ParseOverview(data []byte) (Overview, error) {
	var raw struct {
		Status            string          `json:"status"`
		RunningExperiment json.RawMessage `json:"running_experiment_name"`
		TotalQueued       json.RawMessage `json:"total_experiments_queued"`
		CurrentRun        json.RawMessage `json:"current_run_number"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Overview{}, fmt.Errorf("decode station overview: %w", err)
	}
	ov := Overview{
		Status:            raw.Status,
		RunningExperiment: text(raw.RunningExperiment),
		TotalQueued:       text(raw.TotalQueued),
		CurrentRun:        text(raw.CurrentRun),
	}
	status := strings.ToLower(raw.Status)
	switch {
	case status == "idle":
	case status == "paused" && isZero(raw.CurrentRun):
		ov.Status = raw.Status + " - Not started"
	case status == "ready" && isEmptyString(raw.CurrentRun):
		ov.Status = raw.Status + " - Queue finished"
		ov.RunningExperiment = "all experiments finished"
		ov.CurrentRun = ov.TotalQueued
	}
	return ov, nil
}

type runRecord struct {
	Name       string                     `json:"name"`
	Type       string                     `json:"type"`
	Parameters map[string]json.RawMessage `json:"parameters"`
}

// ParseRunTables decodes {"<experiment>": runs} where runs is either a list
// of run records or an object keyed by run number. A parameter value is an
// array whose first element is shown. Tables are sorted by name and
// columns by parameter name.
func ParseRunTables(data []byte) ([]Table, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return nil, fmt.Errorf("decode run tables: %w", err)
	}
	names := make([]string, 0, len(top))
	for name := range top {
		names = append(names, name)
	}
	sort.Strings(names)

	tables := make([]Table, 0, len(names))
	for _, name := range names {
		runs, err := decodeRuns(top[name])
		if err != nil {
			return nil, fmt.Errorf("decode run table %q: %w", name, err)
		}
		tables = append(tables, buildTable(name, runs))
	}
	return tables, nil
}

func decodeRuns(raw json.RawMessage) ([]runRecord, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var runs []runRecord
		err := json.Unmarshal(trimmed, &runs)
		return runs, err
	}
	var keyed map[string]runRecord
	if err := json.Unmarshal(trimmed, &keyed); err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(keyed))
	for k := range keyed {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, aerr := strconv.Atoi(keys[i])
		b, berr := strconv.Atoi(keys[j])
		if aerr == nil && berr == nil {
			return a < b
		}
		return keys[i] < keys[j]
	})
	runs := make([]runRecord, 0, len(keys))
	for _, k := range keys {
		runs = append(runs, keyed[k])
	}
	return runs, nil
}

func buildTable(name string, runs []runRecord) Table {
	seen := make(map[string]bool)
	var columns []string
	for _, run := range runs {
		for param := range run.Parameters {
			if !seen[param] {
				seen[param] = true
				columns = append(columns, param)
			}
		}
	}
	sort.Strings(columns)

	table := Table{Name: name, Columns: columns, Rows: make([]Row, 0, len(runs))}
	for _, run := range runs {
		row := Row{Name: run.Name, Type: run.Type, Values: make([]string, len(columns))}
		for i, col := range columns {
			if raw, ok := run.Parameters[col]; ok {
				row.Values[i] = firstValue(raw)
			}
		}
		table.Rows = append(table.Rows, row)
	}
	return table
}

// firstValue shows the first element of [value, unit, ...], or the value
// itself when it is not an array.
func firstValue(raw json.RawMessage) string {
	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err == nil {
		if len(list) == 0 {
			return ""
		}
		return text(list[0])
	}
	return text(raw)
}

// text renders a JSON scalar for display.
func text(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}

func isZero(raw json.RawMessage) bool {
	var f float64
	return json.Unmarshal(raw, &f) == nil && f == 0
}

func isEmptyString(raw json.RawMessage) bool {
	var s string
	return json.Unmarshal(raw, &s) == nil && s == ""
}

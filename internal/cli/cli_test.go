package cli

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"labstream/internal/config"
	"labstream/internal/render"
	"labstream/internal/state"
	"labstream/internal/stream"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestExecuteBasics(t *testing.T) {
	assert.Equal(t, 1, Execute(nil))
	assert.Equal(t, 0, Execute([]string{"version"}))
	assert.Equal(t, 0, Execute([]string{"help"}))
	assert.Equal(t, 1, Execute([]string{"frobnicate"}))
	assert.Equal(t, 2, Execute([]string{"status"}))
	assert.Equal(t, 2, Execute([]string{"validate"}))
	assert.Equal(t, 2, Execute([]string{"watch"}))
	assert.Equal(t, 2, Execute([]string{"publish"}))
	assert.Equal(t, 2, Execute([]string{"watch", "--bogus"}))
}

func TestFlagSetUsagePrintsDefaults(t *testing.T) {
	fs := newFlagSet("status")
	var out strings.Builder
	fs.SetOutput(&out)
	fs.StringP("config", "c", "", "Configuration file path (YAML)")

	require.NotNil(t, fs.Usage)
	fs.Usage()
	assert.Contains(t, out.String(), "Usage of status:")
	assert.Contains(t, out.String(), "--config")
}

func TestValidate(t *testing.T) {
	dir := t.TempDir()
	good := writeFile(t, dir, "good.yaml", "stream:\n  url: http://lab.local/stream\n")
	assert.Equal(t, 0, Execute([]string{"validate", "-c", good}))
	assert.DirExists(t, filepath.Join(dir, "state"))

	bad := writeFile(t, dir, "bad.yaml", "stream:\n  type: carrier-pigeon\n")
	assert.Equal(t, 2, Execute([]string{"validate", "--config", bad}))
}

func TestReplayDrivesThePipeline(t *testing.T) {
	dir := t.TempDir()
	recording := strings.Join([]string{
		`{"current_experiment":"A","updates":{"dev1":{"temp":[[100,1],[100,3]],"fill":[[100,80]]}}}`,
		`not json`,
		`{"current_experiment":"A","updates":{"dev1":{"temp":[[101,5]],"fill":[[101,20]]}}}`,
	}, "\n")
	writeFile(t, dir, "run.jsonl", recording)
	cfgPath := writeFile(t, dir, "labstream.yaml", `
taskName: replay-test
stream:
  type: file
  file:
    path: run.jsonl
render:
  progress: [fill]
log:
  console: false
`)

	require.Equal(t, 0, Execute([]string{"replay", "-c", cfgPath}))

	snap, err := state.NewStore(filepath.Join(dir, "state", "status.json")).Load()
	require.NoError(t, err)
	assert.Equal(t, state.StatusHalted, snap.Status)
	assert.Equal(t, "A", snap.Experiment)
	assert.Equal(t, float64(2), snap.Metrics[state.MetricMessagesAccepted])
	assert.Equal(t, float64(1), snap.Metrics[state.MetricMessagesRejected])
	assert.Equal(t, float64(2), snap.Metrics[state.MetricEntriesLive])
}

func TestBuildDispatchRegistersConfiguredKinds(t *testing.T) {
	cfg := config.Default()
	cfg.Render.Progress = []string{"fill"}
	cfg.Render.TextLog = []string{"note"}
	d := buildDispatch(cfg, nil)
	assert.Equal(t, render.KindProgress, d.KindFor("fill"))
	assert.Equal(t, render.KindTextLog, d.KindFor("note"))
	assert.Equal(t, render.KindProgress, d.KindFor("remaining_time"))
	assert.Equal(t, render.KindLine, d.KindFor("temp"))
}

func TestBuildSourceSelectsTransport(t *testing.T) {
	cfg := config.Default()
	cfg.Stream.Type = config.StreamPoll
	cfg.Stream.URL = "http://127.0.0.1:1/api/get_updates"
	src, err := buildSource(cfg)
	require.NoError(t, err)
	defer src.Close()
	assert.IsType(t, &stream.Poll{}, src)

	cfg.Stream.Type = config.StreamSSE
	src, err = buildSource(cfg)
	require.NoError(t, err)
	defer src.Close()
	assert.IsType(t, &stream.SSE{}, src)
}

func TestPipelineWiresStationMonitor(t *testing.T) {
	cfg := config.Default()
	cfg.Dashboard.Addr = "127.0.0.1:0"
	cfg.Station.URL = "http://127.0.0.1:1"
	p, err := buildPipeline(cfg, true)
	require.NoError(t, err)
	defer p.close()
	require.NotNil(t, p.station)

	cfg.Station.URL = ""
	p2, err := buildPipeline(cfg, true)
	require.NoError(t, err)
	defer p2.close()
	assert.Nil(t, p2.station)
}

func TestFormatDashboardURL(t *testing.T) {
	assert.Equal(t, "", formatDashboardURL(""))
	assert.Equal(t, "http://10.0.0.1:8080", formatDashboardURL("10.0.0.1:8080"))
	assert.Contains(t, formatDashboardURL(":8080"), "http://127.0.0.1:8080")
	assert.Contains(t, formatDashboardURL("0.0.0.0:9000"), "<server-ip>:9000")
}

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"speriment/internal/config"
	"speriment/internal/definition"
	"speriment/internal/engine"
	"speriment/internal/record"
	"speriment/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const latinDoc = `{"counterbalance": ["B1", "B2"], "blocks": [
  {"id": "B1", "latinSquare": true, "groups": [
    [{"id": "a1", "text": "a1"}, {"id": "a2", "text": "a2"}, {"id": "a3", "text": "a3"}],
    [{"id": "b1", "text": "b1"}, {"id": "b2", "text": "b2"}, {"id": "b3", "text": "b3"}]
  ]},
  {"id": "B2", "pages": [{"id": "q", "text": "ok?", "options": [
    {"id": "y", "text": "yes", "correct": true}, {"id": "n", "text": "no", "correct": false}
  ]}]}
]}`

// setup points the CLI globals at a fresh workspace holding doc as
// experiment.json.
func setup(t *testing.T, doc string) string {
	t.Helper()
	ws := t.TempDir()
	workspace = ws
	logger = zap.NewNop()
	cfg = config.DefaultConfig()
	cfg.Storage.DatabasePath = "data/test.db"
	cfg.Session.Seed = 11
	configPath = "speriment.yaml"

	require.NoError(t, os.WriteFile(filepath.Join(ws, "experiment.json"), []byte(doc), 0644))

	t.Cleanup(func() {
		workspace = ""
		cfg = nil
		validateAll, validateWatch, validateSeed = false, false, 0
		orderVersion, orderPermutation, orderSeed = 0, 0, 0
		orderResponder, orderLimit, orderRecords = "correct", 10000, false
		assignStudy, assignParticipants = "", 1
		exportSession, exportOutput = "", ""
		runVersion, runPermutation, runSeed = -1, -1, 0
		initForce = false
	})
	return ws
}

func newCmd() (*cobra.Command, *bytes.Buffer) {
	var buf bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&buf)
	return cmd, &buf
}

func TestInitCmd(t *testing.T) {
	ws := setup(t, latinDoc)
	cmd, out := newCmd()

	require.NoError(t, runInit(cmd, nil))
	assert.Contains(t, out.String(), "wrote")
	loaded, err := config.Load(filepath.Join(ws, "speriment.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "balanced", loaded.Assignment.Strategy)

	out.Reset()
	require.NoError(t, runInit(cmd, nil))
	assert.Contains(t, out.String(), "already exists")
}

func TestValidateCmd(t *testing.T) {
	setup(t, latinDoc)
	cmd, out := newCmd()

	require.NoError(t, runValidate(cmd, nil))
	assert.Equal(t, "ok: experiment.json (1 version(s) x 1 permutation(s))\n", out.String())

	out.Reset()
	validateAll = true
	require.NoError(t, runValidate(cmd, nil))
	assert.Equal(t, "ok: experiment.json (3 version(s) x 2 permutation(s))\n", out.String())
}

func TestValidateCmd_Invalid(t *testing.T) {
	ws := setup(t, latinDoc)
	bad := `{"blocks": [{"id": "B1", "latinSquare": true, "groups": [
	  [{"id": "a1", "text": "a1"}, {"id": "a2", "text": "a2"}],
	  [{"id": "b1", "text": "b1"}]
	]}]}`
	path := filepath.Join(ws, "bad.json")
	require.NoError(t, os.WriteFile(path, []byte(bad), 0644))

	cmd, out := newCmd()
	validateAll = true
	err := runValidate(cmd, []string{path})
	require.Error(t, err)
	assert.ErrorIs(t, err, engine.ErrDefinition)
	assert.True(t, strings.HasPrefix(out.String(), "invalid: "))

	out.Reset()
	assert.Error(t, runValidate(cmd, []string{filepath.Join(ws, "missing.json")}))
	assert.Contains(t, out.String(), "invalid")
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestWatchDefinition(t *testing.T) {
	ws := setup(t, latinDoc)
	path := filepath.Join(ws, "experiment.json")

	ctx, cancel := context.WithCancel(context.Background())
	out := &syncBuffer{}
	done := make(chan error, 1)
	go func() { done <- watchDefinition(ctx, path, out) }()

	require.Eventually(t, func() bool { return strings.Contains(out.String(), "ok:") }, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, os.WriteFile(path, []byte(`{"blocks": []}`), 0644))
	require.Eventually(t, func() bool { return strings.Contains(out.String(), "invalid:") }, 5*time.Second, 20*time.Millisecond)

	// other files in the directory are ignored
	require.NoError(t, os.WriteFile(filepath.Join(ws, "notes.txt"), []byte("x"), 0644))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop")
	}
}

func TestOrderCmd(t *testing.T) {
	setup(t, latinDoc)
	cmd, out := newCmd()

	orderVersion, orderPermutation = 1, 1
	require.NoError(t, runOrder(cmd, nil))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 4)
	assert.Contains(t, lines[0], "PAGE")
	// permutation 1 swaps the counterbalanced blocks; version 1 rotates
	// the Latin square
	assert.Contains(t, lines[1], "q")
	assert.Contains(t, lines[1], "B2")
	got := []string{strings.Fields(lines[2])[1], strings.Fields(lines[3])[1]}
	assert.ElementsMatch(t, []string{"a2", "b3"}, got)
}

func TestOrderCmd_Records(t *testing.T) {
	setup(t, latinDoc)
	cmd, out := newCmd()
	orderRecords = true
	require.NoError(t, runOrder(cmd, nil))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	var q map[string]any
	for _, line := range lines {
		var row map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &row))
		if row["page_id"] == "q" {
			q = row
		}
	}
	require.NotNil(t, q)
	assert.Equal(t, true, q["correct"])
}

func TestOrderCmd_Responders(t *testing.T) {
	setup(t, latinDoc)
	cmd, _ := newCmd()

	for _, r := range []string{"first", "correct", "random"} {
		orderResponder = r
		assert.NoError(t, runOrder(cmd, nil), r)
	}
	orderResponder = "psychic"
	assert.ErrorContains(t, runOrder(cmd, nil), "unknown responder")
}

func TestAssignCmd(t *testing.T) {
	setup(t, latinDoc)
	cmd, out := newCmd()
	assignParticipants = 7
	require.NoError(t, runAssign(cmd, nil))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 8)
	assert.Equal(t, []string{"1", "0", "0"}, strings.Fields(lines[1]))
	assert.Equal(t, []string{"2", "0", "1"}, strings.Fields(lines[2]))
	assert.Equal(t, []string{"3", "1", "0"}, strings.Fields(lines[3]))
	assert.Equal(t, []string{"7", "0", "0"}, strings.Fields(lines[7]))

	assignParticipants = 0
	assert.Error(t, runAssign(cmd, nil))
}

func TestAssign_Strategies(t *testing.T) {
	ws := setup(t, latinDoc)
	def, err := definition.Load(filepath.Join(ws, "experiment.json"))
	require.NoError(t, err)

	st, err := store.Open(filepath.Join(ws, "a.db"))
	require.NoError(t, err)
	defer st.Close()
	ctx := context.Background()
	rng := rand.New(rand.NewSource(1))

	runVersion, runPermutation = 2, 1
	a, err := assign(ctx, st, def, rng)
	require.NoError(t, err)
	assert.Equal(t, store.Assignment{Version: 2, Permutation: 1}, a)

	runVersion, runPermutation = -1, -1
	a, err = assign(ctx, st, def, rng)
	require.NoError(t, err)
	assert.Equal(t, store.Assignment{}, a)
	a, err = assign(ctx, st, def, rng)
	require.NoError(t, err)
	assert.Equal(t, store.Assignment{Version: 0, Permutation: 1}, a)

	cfg.Assignment.Strategy = "random"
	for i := 0; i < 20; i++ {
		a, err = assign(ctx, st, def, rng)
		require.NoError(t, err)
		assert.Less(t, a.Version, 3)
		assert.Less(t, a.Permutation, 2)
	}

	runPermutation = 0
	a, err = assign(ctx, st, def, rng)
	require.NoError(t, err)
	assert.Zero(t, a.Permutation)
}

func TestExportCmd(t *testing.T) {
	ws := setup(t, latinDoc)
	ctx := context.Background()

	st, err := store.Open(filepath.Join(ws, cfg.Storage.DatabasePath))
	require.NoError(t, err)
	id, err := st.NewSession(ctx, "study", 0, 0)
	require.NoError(t, err)
	def, err := definition.Load(filepath.Join(ws, "experiment.json"))
	require.NoError(t, err)
	session, err := engine.New(def, engine.Options{
		Rand:      rand.New(rand.NewSource(3)),
		Sink:      st.Sink(id),
		Observers: []record.Observer{st.Journal(id)},
	})
	require.NoError(t, err)
	_, err = engine.Drive(session, engine.CorrectOption, 100)
	require.NoError(t, err)
	require.NoError(t, st.Close())

	cmd, out := newCmd()
	exportSession = id
	require.NoError(t, runExport(cmd, nil))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 4)
	assert.True(t, strings.HasPrefix(lines[0], "session_id\tpartial\tpage_id"))
	for _, line := range lines[1:] {
		assert.True(t, strings.HasPrefix(line, id+"\tfalse\t"))
	}

	out.Reset()
	exportOutput = "trials.tsv"
	require.NoError(t, runExport(cmd, nil))
	assert.Contains(t, out.String(), "wrote 3 trials")
	data, err := os.ReadFile(filepath.Join(ws, "trials.tsv"))
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(string(data)), "\n"), 4)

	exportSession = "nope"
	assert.ErrorIs(t, runExport(cmd, nil), store.ErrSessionNotFound)
}

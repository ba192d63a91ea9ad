package config

import (
	"io/ioutil"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openmodeller/omws/ticket"
	"github.com/openmodeller/omws/ticket/ticketstores"
	"github.com/openmodeller/omws/worker"
)

func TestNamedConfigsParse(t *testing.T) {
	for name := range ServiceConfigs {
		c, err := Load(name)
		require.NoError(t, err, name)
		assert.NotEmpty(t, c.Store.Directory, name)
	}
}

func TestDefaults(t *testing.T) {
	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, ticketstores.FileStoreType, c.Store.Type)
	assert.Equal(t, DefaultConfig.Service.Addr, c.Service.Addr)
	assert.Equal(t, 30*time.Second, c.TriggerConfig().LockTimeout)
	assert.Equal(t, worker.DefaultConcurrency, c.WorkerConfig().Concurrency)
	assert.False(t, c.Worker.Enabled)
}

func TestLiteralJSON(t *testing.T) {
	c, err := Load(`{
		"Store": {"Type": "memory"},
		"Service": {"SystemStatus": 2, "MaxSubmissionsPerSecond": 5},
		"Trigger": {"SkipRequest": true, "CreateDone": true, "LockTimeout": "250ms"},
		"Worker": {"Concurrency": 8, "PollingPeriod": "1s", "Executors": {"model": "om_model", "Sampling": "om_sampler --fast"}}
	}`)
	require.NoError(t, err)
	assert.Equal(t, SystemStatusUnavailable, c.Service.SystemStatus)
	assert.Equal(t, 5.0, c.Service.MaxSubmissionsPerSecond)
	assert.Equal(t, DefaultConfig.Service.SubmissionBurst, c.Service.SubmissionBurst)

	tc := c.TriggerConfig()
	assert.True(t, tc.SkipRequest)
	assert.True(t, tc.CreateDone)
	assert.Equal(t, 250*time.Millisecond, tc.LockTimeout)

	wc := c.WorkerConfig()
	assert.Equal(t, 8, wc.Concurrency)
	assert.Equal(t, time.Second, wc.PollingPeriod)

	executors, err := c.MakeExecutors()
	require.NoError(t, err)
	require.Len(t, executors, 2)
	sampler := executors[ticket.Sampling].(*worker.CommandExecutor)
	assert.Equal(t, "om_sampler", sampler.Command)
	assert.Equal(t, []string{"--fast"}, sampler.Args)
	assert.Equal(t, "om_model", executors[ticket.CreateModel].(*worker.CommandExecutor).Command)

	store, err := c.MakeStore()
	require.NoError(t, err)
	defer store.Close()
}

func TestConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "omws.json")
	require.NoError(t, ioutil.WriteFile(path, []byte(`{"Store": {"Type": "leveldb", "Directory": "/data/omws"}}`), 0644))
	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ticketstores.LevelDBStoreType, c.Store.Type)
	assert.Equal(t, "/data/omws", c.Store.Directory)
}

func TestInvalidConfigs(t *testing.T) {
	for _, text := range []string{
		`{"Store": {"Type": "saga"}}`,
		`{"Service": {"MaxSubmissionsPerSecond": -1}}`,
		`{"Worker": {"Executors": {"render": "om_render"}}}`,
		`{"Trigger": {"LockTimeout": 5}}`,
		`{"Store": `,
	} {
		_, err := Parse([]byte(text))
		assert.Error(t, err, text)
	}
	_, err := Load("no.such.config")
	assert.Error(t, err)
}

func TestParseDoesNotShareDefaults(t *testing.T) {
	_, err := Parse([]byte(`{"Worker": {"Executors": {"samp": "a"}}}`))
	require.NoError(t, err)
	c, err := Parse(nil)
	require.NoError(t, err)
	assert.Empty(t, c.Worker.Executors)
}

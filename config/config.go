// Package config holds the JSON configuration shared by the omws binaries.
//
// A configuration is chosen with --config, which names one of ServiceConfigs,
// points to a JSON file, or is itself JSON text. Sections that are omitted, or
// whose fields are left empty, take the values of DefaultConfig.
package config

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/openmodeller/omws/ticket"
	"github.com/openmodeller/omws/ticket/ticketstores"
	"github.com/openmodeller/omws/worker"
	"github.com/openmodeller/omws/workflow"
)

// SystemStatusUnavailable turns away every service request except ping.
const SystemStatusUnavailable = 2

// Duration is a time.Duration written as a string ("500ms", "2s") in JSON.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return errors.Wrap(err, "durations are strings such as \"500ms\"")
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

type StoreConfig struct {
	// Type is one of file, leveldb or memory.
	Type      string
	Directory string
}

type ServiceConfig struct {
	Addr string
	// SystemStatus 2 makes the service unavailable.
	SystemStatus int
	// MaxSubmissionsPerSecond limits submit and submitExperiment. Zero disables the limit.
	MaxSubmissionsPerSecond float64
	SubmissionBurst         int
	// MetadataCacheSize bounds the experiment membership caches.
	MetadataCacheSize int
}

type TriggerConfig struct {
	SkipRequest bool
	CreateDone  bool
	LockTimeout Duration
}

type WorkerConfig struct {
	// Enabled runs a worker pool and dispatcher inside omws-server.
	Enabled       bool
	Concurrency   int
	PollingPeriod Duration
	// Executors maps a job type, by prefix or name, to the command that runs it.
	Executors map[string]string
}

type Config struct {
	Store   StoreConfig
	Service ServiceConfig
	Trigger TriggerConfig
	Worker  WorkerConfig
}

func (c *Config) String() string {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Sprintf("%+v", *c)
	}
	return string(data)
}

// DefaultConfig fills whatever a parsed configuration leaves empty.
var DefaultConfig = Config{
	Store: StoreConfig{
		Type:      ticketstores.FileStoreType,
		Directory: filepath.Join(os.TempDir(), "omws", "tickets"),
	},
	Service: ServiceConfig{
		Addr:              "localhost:8085",
		SubmissionBurst:   10,
		MetadataCacheSize: workflow.DefaultMembershipCacheSize,
	},
	Trigger: TriggerConfig{
		LockTimeout: Duration(30 * time.Second),
	},
	Worker: WorkerConfig{
		Concurrency:   worker.DefaultConcurrency,
		PollingPeriod: Duration(worker.DefaultPollingPeriod),
	},
}

// ServiceConfigs are the configurations --config can name.
var ServiceConfigs = map[string]string{
	"default": `{}`,
	"local.file": `{
		"Store": {"Type": "file"},
		"Worker": {"Enabled": true}
	}`,
	"local.leveldb": `{
		"Store": {"Type": "leveldb", "Directory": "` + filepath.ToSlash(filepath.Join(os.TempDir(), "omws", "leveldb")) + `"},
		"Worker": {"Enabled": true}
	}`,
	"local.memory": `{
		"Store": {"Type": "memory"},
		"Worker": {"Enabled": true, "PollingPeriod": "100ms"}
	}`,
}

// GetConfigText resolves a --config value: a configuration name, then a
// path to a JSON file, then literal JSON text.
func GetConfigText(configFlag string) ([]byte, error) {
	if configFlag == "" {
		configFlag = "default"
	}
	if text, ok := ServiceConfigs[configFlag]; ok {
		log.Infof("using config %q", configFlag)
		return []byte(text), nil
	}
	if strings.HasPrefix(strings.TrimSpace(configFlag), "{") {
		log.Info("using --config as JSON config")
		return []byte(configFlag), nil
	}
	text, err := ioutil.ReadFile(configFlag)
	if err != nil {
		return nil, errors.Wrapf(err, "%q is neither a config name nor a readable config file", configFlag)
	}
	log.Infof("read config file %s", configFlag)
	return text, nil
}

// Parse decodes text over a copy of DefaultConfig and validates the result.
func Parse(text []byte) (*Config, error) {
	c := DefaultConfig
	c.Worker.Executors = nil
	if len(strings.TrimSpace(string(text))) > 0 {
		if err := json.Unmarshal(text, &c); err != nil {
			return nil, errors.Wrap(err, "parsing config")
		}
	}
	if c.Store.Type == "" {
		c.Store.Type = DefaultConfig.Store.Type
	}
	if c.Store.Directory == "" {
		c.Store.Directory = DefaultConfig.Store.Directory
	}
	if c.Service.MetadataCacheSize <= 0 {
		c.Service.MetadataCacheSize = DefaultConfig.Service.MetadataCacheSize
	}
	if c.Worker.Concurrency <= 0 {
		c.Worker.Concurrency = DefaultConfig.Worker.Concurrency
	}
	if c.Worker.PollingPeriod <= 0 {
		c.Worker.PollingPeriod = DefaultConfig.Worker.PollingPeriod
	}
	return &c, c.validate()
}

// Load is GetConfigText followed by Parse.
func Load(configFlag string) (*Config, error) {
	text, err := GetConfigText(configFlag)
	if err != nil {
		return nil, err
	}
	return Parse(text)
}

func (c *Config) validate() error {
	switch c.Store.Type {
	case ticketstores.FileStoreType, ticketstores.LevelDBStoreType, ticketstores.MemoryStoreType:
	default:
		return fmt.Errorf("unknown store type %q", c.Store.Type)
	}
	if c.Service.MaxSubmissionsPerSecond < 0 {
		return fmt.Errorf("MaxSubmissionsPerSecond must not be negative, got %v", c.Service.MaxSubmissionsPerSecond)
	}
	for name := range c.Worker.Executors {
		if _, err := ticket.ParseJobType(name); err != nil {
			return errors.Wrap(err, "worker executors")
		}
	}
	return nil
}

// MakeStore opens the configured ticket store.
func (c *Config) MakeStore() (ticket.Store, error) {
	return ticketstores.MakeStore(c.Store.Type, c.Store.Directory)
}

func (c *Config) TriggerConfig() workflow.TriggerConfig {
	return workflow.TriggerConfig{
		SkipRequest: c.Trigger.SkipRequest,
		CreateDone:  c.Trigger.CreateDone,
		LockTimeout: time.Duration(c.Trigger.LockTimeout),
	}
}

func (c *Config) WorkerConfig() worker.Config {
	return worker.Config{
		Concurrency:   c.Worker.Concurrency,
		PollingPeriod: time.Duration(c.Worker.PollingPeriod),
	}
}

// MakeExecutors builds a CommandExecutor per configured job type.
func (c *Config) MakeExecutors() (map[ticket.JobType]worker.Executor, error) {
	executors := map[ticket.JobType]worker.Executor{}
	for name, command := range c.Worker.Executors {
		jobType, err := ticket.ParseJobType(name)
		if err != nil {
			return nil, err
		}
		e, err := worker.NewCommandExecutor(command)
		if err != nil {
			return nil, errors.Wrapf(err, "executor for %s", jobType.Name())
		}
		executors[jobType] = e
	}
	return executors, nil
}

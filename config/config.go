// Package config reads the YAML configuration: adapter instances, lookup tables,
// series storage and the item tree.
package config

import (
	"io"
	"io/ioutil"
	"os"
	"path"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/shng-go/shng/errors"
	"github.com/shng-go/shng/util"
)

type GeneralConf struct {
	DataDir string `yaml:"data_dir"`
	Workers int
	Api     string
}

type EndpointsConf struct {
	Mqtt struct {
		Broker string
	}
}

type Duration struct {
	time.Duration
}

// UnmarshalYAML accepts a duration string ("10s", "1h30m", "2d") or a bare
// number of seconds.
func (self *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var secs float64
	if err := unmarshal(&secs); err == nil {
		self.Duration = time.Duration(secs * float64(time.Second))
		return nil
	}
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	d, err := util.ParseDuration(s)
	if err != nil {
		return errors.Wrapf(err, "duration %q", s)
	}
	self.Duration = d
	return nil
}

func (self Duration) MarshalYAML() (interface{}, error) {
	return self.String(), nil
}

type SeriesConf struct {
	Path   string
	Bucket Duration
	Sync   Duration
}

type AdapterConf struct {
	Type         string
	Cycle        Duration
	Cron         string
	Priority     int
	Offset       Duration
	WriteTimeout Duration `yaml:"write_timeout"`
	Params       Params
}

// Configuration structure
type Config struct {
	General   GeneralConf
	Endpoints EndpointsConf
	Series    SeriesConf
	Lookups   map[string]map[string]string
	Adapters  map[string]AdapterConf
	Items     yaml.MapSlice
}

const (
	DefaultCycle        = time.Minute
	DefaultWriteTimeout = 5 * time.Second
	DefaultBucket       = time.Hour
	DefaultSync         = 10 * time.Second
)

// Open configuration from the default location.
func Open() (*Config, error) {
	return OpenFile(ConfigPath("shng.yml"))
}

// Open configuration from a file.
func OpenFile(filename string) (*Config, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return OpenReader(file)
}

// Open configuration from a reader.
func OpenReader(r io.Reader) (*Config, error) {
	data, err := ioutil.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return OpenRaw(data)
}

// Open configuration from []byte.
func OpenRaw(data []byte) (*Config, error) {
	self := &Config{}
	err := yaml.Unmarshal(data, self)
	if err != nil {
		return nil, errors.Config("config.OpenRaw", err)
	}

	if self.General.DataDir == "" {
		self.General.DataDir = "~/.local/share/shng"
	}
	if self.Series.Path == "" {
		self.Series.Path = path.Join(self.General.DataDir, "series")
	}
	if self.Series.Bucket.Duration <= 0 {
		self.Series.Bucket.Duration = DefaultBucket
	}
	if self.Series.Sync.Duration <= 0 {
		self.Series.Sync.Duration = DefaultSync
	}
	for id, conf := range self.Adapters {
		if conf.Type == "" {
			conf.Type = id
		}
		if conf.Cycle.Duration <= 0 && conf.Cron == "" {
			conf.Cycle.Duration = DefaultCycle
		}
		if conf.WriteTimeout.Duration <= 0 {
			conf.WriteTimeout.Duration = DefaultWriteTimeout
		}
		if conf.Params == nil {
			conf.Params = Params{}
		}
		self.Adapters[id] = conf
	}
	return self, nil
}

// AdapterIDs returns the configured adapter instance ids, sorted.
func (self *Config) AdapterIDs() []string {
	return util.SortedKeys(self.Adapters)
}

// helpers

// Resolve a configuration file under .config/shng
func ConfigPath(p string) string {
	config := os.Getenv("XDG_CONFIG_HOME")
	if config == "" {
		config = path.Join(os.Getenv("HOME"), ".config")
	}
	return path.Join(config, "shng", p)
}

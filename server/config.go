package server

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/BurntSushi/toml"

	"github.com/janelia-flyem/visus/visus"
)

const (
	// DefaultWebAddress is the default address of the visus web server.
	DefaultWebAddress = "localhost:10000"
)

// Config is the parsed TOML configuration of a server.
type Config struct {
	Server  serverConfig
	Logging visus.LogConfig
	Dataset map[string]DatasetConfig
}

type serverConfig struct {
	HTTPAddress         string   `toml:"httpAddress"`
	AllowedOrigins      []string `toml:"allowedOrigins"`
	MaxConcurrentBlocks int      `toml:"maxConcurrentBlocks"`
}

// DatasetConfig locates one published dataset and, optionally, the access
// its blocks are read through.
type DatasetConfig struct {
	Path   string
	Access map[string]interface{}
}

// AccessConfig returns a copy of the access table, nil if none was given.
func (c DatasetConfig) AccessConfig() visus.Config {
	if len(c.Access) == 0 {
		return nil
	}
	return visus.Config(c.Access).Clone()
}

// Names returns the published dataset names in sorted order.
func (c *Config) Names() []string {
	names := make([]string, 0, len(c.Dataset))
	for name := range c.Dataset {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Some settings in the TOML can be given as relative paths.
// This function converts them in-place to absolute paths,
// assuming the given paths were relative to the TOML file's own directory.
func (c *Config) convertPathsToAbsolute(configPath string) error {
	absConfig, err := filepath.Abs(configPath)
	if err != nil {
		return err
	}
	dir := filepath.Dir(absConfig)

	c.Logging.Logfile = visus.ConvertToAbsolute(c.Logging.Logfile, dir)
	for name, ds := range c.Dataset {
		if ds.Path == "" {
			return fmt.Errorf("dataset %q in %s has no path", name, configPath)
		}
		ds.Path = visus.ConvertToAbsolute(ds.Path, dir)
		convertAccessPaths(ds.Access, dir)
		c.Dataset[name] = ds
	}
	return nil
}

// convertAccessPaths fixes the "url" of an access and its children.
func convertAccessPaths(access map[string]interface{}, dir string) {
	if access == nil {
		return
	}
	config := visus.Config(access)
	if location, found, err := config.GetString("url"); found && err == nil {
		config.Set("url", visus.ConvertToAbsolute(location, dir))
	}
	children, err := config.GetConfigs("children")
	if err != nil {
		return
	}
	for _, child := range children {
		convertAccessPaths(child, dir)
	}
}

// LoadConfig loads a server configuration from a TOML file.
func LoadConfig(filename string) (*Config, error) {
	if filename == "" {
		return nil, fmt.Errorf("no server TOML configuration file provided")
	}
	c := new(Config)
	if _, err := toml.DecodeFile(filename, c); err != nil {
		return nil, fmt.Errorf("could not decode TOML config: %v", err)
	}
	if err := c.convertPathsToAbsolute(filename); err != nil {
		return nil, err
	}
	if c.Server.HTTPAddress == "" {
		c.Server.HTTPAddress = DefaultWebAddress
	}
	return c, nil
}

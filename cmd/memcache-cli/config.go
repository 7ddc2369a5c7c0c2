package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	memcache "github.com/pior/memcache-binary"
)

// fileConfig is the YAML file given with --config.
//
//	servers:
//	  - addr: 10.0.0.1:11211
//	    weight: 2
//	  - addr: 10.0.0.2:11211
//	username: app
//	password: secret
//	timeout: 500ms
type fileConfig struct {
	Servers        []serverEntry `yaml:"servers"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	Timeout        string        `yaml:"timeout"`
	MaxConnections int32         `yaml:"max_connections"`
}

type serverEntry struct {
	Addr   string `yaml:"addr"`
	Weight int    `yaml:"weight"`
}

func loadFile(path string) (*fileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config fileConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return &config, nil
}

// parseServer accepts "host:port" or "host:port@weight".
func parseServer(s string) (memcache.Server, error) {
	addr, weightStr, found := strings.Cut(s, "@")
	if !found {
		return memcache.Server{Addr: addr, Weight: 1}, nil
	}

	weight, err := strconv.Atoi(weightStr)
	if err != nil {
		return memcache.Server{}, fmt.Errorf("invalid weight in %q: %w", s, err)
	}
	return memcache.Server{Addr: addr, Weight: weight}, nil
}

// options is the merged view of the flags and the config file. Flags win.
type options struct {
	configPath string
	servers    []string
	username   string
	password   string
	timeout    time.Duration
	maxConns   int32
	logLevel   string
}

func (o *options) resolve() ([]memcache.Server, memcache.Config, error) {
	config := memcache.Config{
		Timeout: o.timeout,
		MaxSize: o.maxConns,
	}

	var servers []memcache.Server
	var username, password string

	if o.configPath != "" {
		file, err := loadFile(o.configPath)
		if err != nil {
			return nil, config, err
		}

		for _, entry := range file.Servers {
			weight := entry.Weight
			if weight == 0 {
				weight = 1
			}
			servers = append(servers, memcache.Server{Addr: entry.Addr, Weight: weight})
		}
		username, password = file.Username, file.Password

		if file.Timeout != "" && config.Timeout == 0 {
			timeout, err := time.ParseDuration(file.Timeout)
			if err != nil {
				return nil, config, fmt.Errorf("invalid timeout: %w", err)
			}
			config.Timeout = timeout
		}
		if file.MaxConnections > 0 && config.MaxSize == 0 {
			config.MaxSize = file.MaxConnections
		}
	}

	if len(o.servers) > 0 {
		servers = servers[:0]
		for _, s := range o.servers {
			server, err := parseServer(s)
			if err != nil {
				return nil, config, err
			}
			servers = append(servers, server)
		}
	}
	if len(servers) == 0 {
		servers = []memcache.Server{{Addr: "127.0.0.1:11211", Weight: 1}}
	}

	if o.username != "" {
		username, password = o.username, o.password
	}
	if username != "" {
		config.Credentials = &memcache.Credentials{Username: username, Password: password}
	}

	return servers, config, nil
}

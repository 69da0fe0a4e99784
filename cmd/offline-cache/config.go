package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"
	"time"

	offlinecache "github.com/always-cache/offline-cache"
	requestpolicy "github.com/always-cache/offline-cache/pkg/request-policy"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

const envPrefix = "OFFLINE_CACHE_"

type Config struct {
	// Origin URL to proxy to. Overrides Addr and Host.
	Origin string `yaml:"origin" env:"ORIGIN"`
	// Origin IP address, proxied to over https.
	Addr string `yaml:"addr" env:"ADDR"`
	// Hostname of the origin, used with Addr.
	Host string `yaml:"host" env:"HOST"`
	Port int    `yaml:"port" env:"PORT"`

	CacheName     string               `yaml:"cacheName" env:"CACHE_NAME"`
	DB            string               `yaml:"db" env:"DB"`
	ControlPrefix string               `yaml:"controlPrefix" env:"CONTROL_PREFIX"`
	Policy        requestpolicy.Policy `yaml:"policy" envPrefix:"POLICY_"`

	LogFile       string `yaml:"logFile" env:"LOG_FILE"`
	LogMaxSize    int    `yaml:"logMaxSize" env:"LOG_MAX_SIZE"`
	LogMaxBackups int    `yaml:"logMaxBackups" env:"LOG_MAX_BACKUPS"`
	Trace         bool   `yaml:"trace" env:"TRACE"`

	ShutdownTimeout time.Duration `yaml:"shutdownTimeout" env:"SHUTDOWN_TIMEOUT"`
}

func defaultConfig() Config {
	return Config{
		Port:            8080,
		CacheName:       offlinecache.DefaultCacheName,
		DB:              "cache.db",
		ControlPrefix:   offlinecache.DefaultControlPrefix,
		LogMaxSize:      10,
		LogMaxBackups:   3,
		ShutdownTimeout: 10 * time.Second,
	}
}

// loadConfig builds the configuration from defaults, the config file given
// with -config, OFFLINE_CACHE_* environment variables and finally the flags
// that were set explicitly.
func loadConfig(args []string, stderr io.Writer) (Config, error) {
	config := defaultConfig()

	fs := flag.NewFlagSet("offline-cache", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configFile := fs.String("config", "", "YAML config file")
	origin := fs.String("origin", "", "Origin URL to proxy to (overrides addr and host)")
	addr := fs.String("addr", "", "Origin IP address to proxy to")
	host := fs.String("host", "", "Hostname of origin")
	port := fs.Int("port", config.Port, "Port to listen on")
	cacheName := fs.String("cache-name", config.CacheName, "Version tag of the cache; older stores are deleted on start")
	db := fs.String("db", config.DB, "Cache DB file name (use 'memory' for in-memory db)")
	controlPrefix := fs.String("control-prefix", config.ControlPrefix, "Path prefix of the worker's own endpoints")
	logFile := fs.String("log-file", "", "Log file to use (in addition to stdout)")
	trace := fs.Bool("vv", false, "Verbosity: trace logging")
	if err := fs.Parse(args); err != nil {
		return config, err
	}

	if *configFile != "" {
		if err := readConfigFile(*configFile, &config); err != nil {
			return config, err
		}
	}
	if err := env.ParseWithOptions(&config, env.Options{Prefix: envPrefix}); err != nil {
		return config, fmt.Errorf("parse env: %w", err)
	}

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "origin":
			config.Origin = *origin
		case "addr":
			config.Addr = *addr
		case "host":
			config.Host = *host
		case "port":
			config.Port = *port
		case "cache-name":
			config.CacheName = *cacheName
		case "db":
			config.DB = *db
		case "control-prefix":
			config.ControlPrefix = *controlPrefix
		case "log-file":
			config.LogFile = *logFile
		case "vv":
			config.Trace = *trace
		}
	})
	return config, nil
}

func readConfigFile(filename string, config *Config) error {
	configBytes, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(configBytes, config); err != nil {
		return fmt.Errorf("parse config file %s: %w", filename, err)
	}
	return nil
}

// originURL returns the origin to proxy to and the hostname to use with it.
func (c Config) originURL() (url.URL, string, error) {
	switch {
	case c.Origin != "":
		u, err := url.Parse(c.Origin)
		if err != nil {
			return url.URL{}, "", fmt.Errorf("parse origin: %w", err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return url.URL{}, "", fmt.Errorf("origin %s is not an http(s) URL", c.Origin)
		}
		return *u, "", nil
	case c.Addr != "":
		u, err := url.Parse("https://" + c.Addr)
		if err != nil {
			return url.URL{}, "", fmt.Errorf("parse addr: %w", err)
		}
		return *u, c.Host, nil
	}
	return url.URL{}, "", errors.New("please specify origin")
}

// dbFilename maps the "memory" db name to an in-memory database.
func (c Config) dbFilename() string {
	if c.DB == "memory" {
		return ""
	}
	return c.DB
}

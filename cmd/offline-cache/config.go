package main

import (
	"fmt"
	"net/url"
	"os"
	"time"

	offlinecache "github.com/always-cache/offline-cache"

	"gopkg.in/yaml.v3"
)

// FileConfig is the YAML configuration file.
// Command line flags override the values in it.
type FileConfig struct {
	Origin            string      `yaml:"origin"`
	Host              string      `yaml:"host"`
	Port              int         `yaml:"port"`
	Version           string      `yaml:"version"`
	DB                string      `yaml:"db"`
	Queue             QueueConfig `yaml:"queue"`
	APIPrefix         string      `yaml:"apiPrefix"`
	Endpoints         []string    `yaml:"endpoints"`
	Shell             []string    `yaml:"shell"`
	Bundle            []string    `yaml:"bundle"`
	BundlePrefix      string      `yaml:"bundlePrefix"`
	PagesShareDynamic bool        `yaml:"pagesShareDynamic"`
	CacheNavigations  bool        `yaml:"cacheNavigations"`
	WaitForActivate   bool        `yaml:"waitForActivate"`
	OfflineMessage    string      `yaml:"offlineMessage"`
	Sync              SyncConfig  `yaml:"sync"`
	Push              PushConfig  `yaml:"push"`
	Metrics           bool        `yaml:"metrics"`
}

type QueueConfig struct {
	// sqlite, badger or memory
	Provider string `yaml:"provider"`
	// File (sqlite) or directory (badger)
	Path string `yaml:"path"`
}

type SyncConfig struct {
	Tag           string        `yaml:"tag"`
	MaxAttempts   int           `yaml:"maxAttempts"`
	Backoff       time.Duration `yaml:"backoff"`
	MaxBackoff    time.Duration `yaml:"maxBackoff"`
	ProbePath     string        `yaml:"probePath"`
	ProbeInterval time.Duration `yaml:"probeInterval"`
}

type PushConfig struct {
	Icon           string `yaml:"icon"`
	Badge          string `yaml:"badge"`
	DefaultTag     string `yaml:"defaultTag"`
	TaskDetailPath string `yaml:"taskDetailPath"`
}

func defaultFileConfig() FileConfig {
	return FileConfig{
		Port: 8080,
		DB:   "cache.db",
		Queue: QueueConfig{
			Provider: "sqlite",
			Path:     "queue.db",
		},
	}
}

// getConfig reads the config file on top of the defaults.
// An empty file name gives the defaults.
func getConfig(filename string) (FileConfig, error) {
	config := defaultFileConfig()
	if filename == "" {
		return config, nil
	}
	configBytes, err := os.ReadFile(filename)
	if err != nil {
		return config, err
	}
	if err := yaml.Unmarshal(configBytes, &config); err != nil {
		return config, fmt.Errorf("parse %s: %w", filename, err)
	}
	return config, nil
}

// controllerConfig maps the file config to the controller config.
// Storage, logging and metrics are filled in by the caller.
func (fc FileConfig) controllerConfig() (offlinecache.Config, error) {
	config := offlinecache.Config{
		OriginHost:        fc.Host,
		Version:           fc.Version,
		APIPrefix:         fc.APIPrefix,
		Endpoints:         fc.Endpoints,
		Shell:             fc.Shell,
		Bundle:            fc.Bundle,
		BundlePrefix:      fc.BundlePrefix,
		PagesShareDynamic: fc.PagesShareDynamic,
		CacheNavigations:  fc.CacheNavigations,
		WaitForActivate:   fc.WaitForActivate,
		OfflineMessage:    fc.OfflineMessage,
		Sync: offlinecache.SyncConfig{
			Tag:           fc.Sync.Tag,
			MaxAttempts:   fc.Sync.MaxAttempts,
			Backoff:       fc.Sync.Backoff,
			MaxBackoff:    fc.Sync.MaxBackoff,
			ProbePath:     fc.Sync.ProbePath,
			ProbeInterval: fc.Sync.ProbeInterval,
		},
		Push: offlinecache.PushConfig{
			Icon:           fc.Push.Icon,
			Badge:          fc.Push.Badge,
			DefaultTag:     fc.Push.DefaultTag,
			TaskDetailPath: fc.Push.TaskDetailPath,
		},
	}
	if fc.Origin == "" {
		return config, fmt.Errorf("please specify origin")
	}
	originURL, err := url.Parse(fc.Origin)
	if err != nil {
		return config, fmt.Errorf("could not parse origin url: %w", err)
	}
	config.OriginURL = *originURL
	return config, nil
}

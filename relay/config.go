// Copyright 2018 Johan Lindh. All rights reserved.
// Use of this source code is governed by the MIT license, see the LICENSE file.

package relay

import (
	"net/url"
	"os"
	"time"

	"github.com/linkdata/raprelay"
	"github.com/linkdata/raprelay/aircraft"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

// Config is the main configuration
type Config struct {
	Env      string         `yaml:"env"`
	Listen   string         `yaml:"listen"`
	HTTP     string         `yaml:"http"`
	Upstream UpstreamConfig `yaml:"upstream"`
	Session  SessionConfig  `yaml:"session"`
}

// UpstreamConfig locates the aircraft feed
type UpstreamConfig struct {
	Endpoint string        `yaml:"endpoint"`
	Timeout  time.Duration `yaml:"timeout"`
}

// SessionConfig tunes client sessions
type SessionConfig struct {
	MaxSessions  int           `yaml:"max_sessions"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	NetLog       bool          `yaml:"netlog"`
}

// LoadConfig reads a YAML config file.
func LoadConfig(path string) (c Config, err error) {
	var b []byte
	if b, err = os.ReadFile(path); err != nil {
		return c, errors.WithStack(err)
	}
	return ParseConfig(b)
}

// ParseConfig parses YAML config data, applies defaults and validates the result.
func ParseConfig(b []byte) (c Config, err error) {
	if err = yaml.Unmarshal(b, &c); err != nil {
		return c, errors.Wrap(err, "parse config")
	}
	c.setDefaults()
	err = c.Validate()
	return
}

func (c *Config) setDefaults() {
	if c.Env == "" {
		c.Env = "prod"
	}
	if c.Listen == "" {
		c.Listen = raprelay.DefaultListenAddr
	}
	if c.HTTP == "" {
		c.HTTP = ":8080"
	}
	if c.Upstream.Endpoint == "" {
		c.Upstream.Endpoint = aircraft.DefaultEndpoint
	}
	if c.Upstream.Timeout == 0 {
		c.Upstream.Timeout = aircraft.DefaultTimeout
	}
	if c.Session.WriteTimeout == 0 {
		c.Session.WriteTimeout = raprelay.DefaultWriteTimeout
	}
}

// Validate checks the config for values that can not work.
func (c Config) Validate() error {
	if err := validateEndpoint(c.Upstream.Endpoint); err != nil {
		return err
	}
	switch {
	case c.Upstream.Timeout < 0:
		return errors.New("config: upstream.timeout is negative")
	case c.Session.MaxSessions < 0:
		return errors.New("config: session.max_sessions is negative")
	case c.Session.ReadTimeout < 0 || c.Session.WriteTimeout < 0:
		return errors.New("config: session timeouts must not be negative")
	}
	return nil
}

// validateEndpoint requires an absolute http or https URL with a host.
func validateEndpoint(endpoint string) error {
	u, err := url.Parse(endpoint)
	if err != nil {
		return errors.Wrap(err, "config: upstream.endpoint")
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.Errorf("config: upstream.endpoint %q is not an http(s) URL", endpoint)
	}
	return nil
}

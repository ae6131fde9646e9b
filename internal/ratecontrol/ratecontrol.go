// Package ratecontrol bounds the request rate against each model backend.
package ratecontrol

import (
	"os"
	"strings"
	"sync"

	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"
)

type fileConfig struct {
	RateLimits struct {
		DefaultRPM       int            `yaml:"default_rpm"`
		BackendOverrides map[string]int `yaml:"backend_overrides"`
	} `yaml:"rate_limits"`
}

var builtInBackendRPM = map[string]int{
	"openai":    30,
	"anthropic": 20,
	"google":    40,
	"mistral":   50,
	"unknown":   30,
}

// Controller hands out a shared token-bucket limiter per backend so that
// every invocation path against the same backend draws from one budget.
type Controller struct {
	mu       sync.Mutex
	cfg      fileConfig
	limiters map[string]*rate.Limiter
}

// New builds a controller with built-in defaults only.
func New() *Controller {
	return &Controller{limiters: make(map[string]*rate.Limiter)}
}

// LoadFile overlays per-backend RPM overrides from a YAML file. A missing
// file is not an error; the built-in limits stay in effect.
func (c *Controller) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var cfg fileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg = cfg
	// Drop cached limiters so new limits take effect.
	c.limiters = make(map[string]*rate.Limiter)
	return nil
}

// RPMFor resolves the requests-per-minute limit for a backend: file
// override, then built-in table, then the file default.
func (c *Controller) RPMFor(backend string) int {
	key := strings.ToLower(strings.TrimSpace(backend))
	c.mu.Lock()
	defer c.mu.Unlock()
	if rpm, ok := c.cfg.RateLimits.BackendOverrides[key]; ok && rpm > 0 {
		return rpm
	}
	if rpm, ok := builtInBackendRPM[key]; ok {
		return rpm
	}
	if c.cfg.RateLimits.DefaultRPM > 0 {
		return c.cfg.RateLimits.DefaultRPM
	}
	return builtInBackendRPM["unknown"]
}

// LimiterFor returns the shared limiter for a backend, creating it lazily.
func (c *Controller) LimiterFor(backend string) *rate.Limiter {
	rpm := c.RPMFor(backend)
	key := strings.ToLower(strings.TrimSpace(backend))

	c.mu.Lock()
	defer c.mu.Unlock()
	if lim, ok := c.limiters[key]; ok {
		return lim
	}
	lim := rate.NewLimiter(rate.Limit(float64(rpm)/60.0), burstFor(rpm))
	c.limiters[key] = lim
	return lim
}

func burstFor(rpm int) int {
	burst := rpm / 10
	if burst < 1 {
		burst = 1
	}
	return burst
}

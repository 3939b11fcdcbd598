package kronix

import (
	"bufio"
	"os"
	"runtime"
	"strconv"
	"strings"
)

// Config struct
type Config struct {
	Values map[string]string
}

// LoadConfig reads a KEY=VALUE config file and applies KRONIX_* environment
// overrides. A missing file is not an error; every value has a default.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{Values: make(map[string]string)}

	// Attempt to read the file
	file, err := os.Open(path)
	if err == nil {
		defer file.Close()
		scanner := bufio.NewScanner(file)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			parts := strings.SplitN(line, "=", 2)
			if len(parts) != 2 {
				continue
			}
			key := strings.TrimSpace(parts[0])
			val := strings.TrimSpace(parts[1])
			val = strings.Trim(val, `"'`)
			cfg.Values[key] = val
		}
		if err := scanner.Err(); err != nil {
			return cfg, err
		}
	}

	mergeEnvOverrides(cfg)
	return cfg, nil
}

// Merge KRONIX_* env overrides; the prefix is stripped so KRONIX_JOBS=4
// lands under the key JOBS.
func mergeEnvOverrides(cfg *Config) {
	for _, env := range os.Environ() {
		if strings.HasPrefix(env, "KRONIX_") {
			parts := strings.SplitN(strings.TrimPrefix(env, "KRONIX_"), "=", 2)
			if len(parts) == 2 {
				cfg.Values[parts[0]] = parts[1]
			}
		}
	}
}

// Get returns the configured value for key, or def when unset.
func (c *Config) Get(key, def string) string {
	if v, ok := c.Values[key]; ok && v != "" {
		return v
	}
	return def
}

// Bool reports whether key is set to "1".
func (c *Config) Bool(key string) bool {
	return c.Values[key] == "1"
}

// Jobs returns the external-build parallelism: the JOBS key, defaulting to
// the CPU count plus one.
func (c *Config) Jobs() int {
	if v := c.Values["JOBS"]; v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return runtime.NumCPU() + 1
}

// GNUMirror returns the configured GNU mirror base URL, if any.
func (c *Config) GNUMirror() string {
	return strings.TrimSuffix(c.Values["GNU_MIRROR"], "/")
}

// Package config loads the chunk-server data plane's configuration keys:
// a plain struct with a constructor for sane defaults, plus an
// environment-variable loader for the named keys so a deployment can
// override them without a bespoke file format.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/yynetease/moosefs/chunkdataplane/internal/constants"
)

// Config bundles the master-connection configuration keys plus the
// worker-pool sizing the master connection uses when it spins up its job
// pool.
type Config struct {
	// MasterHost/MasterPort address the metadata master (MASTER_HOST,
	// MASTER_PORT).
	MasterHost string
	MasterPort int

	// Timeout bounds the master connection's heartbeat/read deadline
	// (MASTER_TIMEOUT), clamped to [2s, 65535s].
	Timeout time.Duration

	// ReconnectionDelay is the pause between a KILLed connection and the
	// next connect attempt (MASTER_RECONNECTION_DELAY).
	ReconnectionDelay time.Duration

	// BackLogsNumber bounds the structure-log rotation depth (BACK_LOGS).
	BackLogsNumber int

	// Workers/JobQueueDepth size the BJP the master connection owns.
	Workers       int
	JobQueueDepth int

	// CSIP/CSPort are this chunk-server's own advertised address, sent in
	// every registration payload version.
	CSIP   uint32
	CSPort uint16
}

// Default returns the configuration used when no override is present.
func Default() Config {
	return Config{
		MasterHost:        constants.DefaultMasterHost,
		MasterPort:        constants.DefaultMasterPort,
		Timeout:           constants.DefaultMasterTimeout,
		ReconnectionDelay: constants.DefaultReconnectDelay,
		BackLogsNumber:    constants.DefaultBackLogsNumber,
		Workers:           constants.MasterConnWorkers,
		JobQueueDepth:     constants.MasterConnJobQueueDepth,
	}
}

// FromEnv overlays MASTER_HOST/MASTER_PORT/MASTER_TIMEOUT/
// MASTER_RECONNECTION_DELAY/BACK_LOGS environment variables onto
// Default().
func FromEnv() Config {
	cfg := Default()
	if v := os.Getenv("MASTER_HOST"); v != "" {
		cfg.MasterHost = v
	}
	if v := os.Getenv("MASTER_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MasterPort = n
		}
	}
	if v := os.Getenv("MASTER_TIMEOUT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Timeout = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv("MASTER_RECONNECTION_DELAY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ReconnectionDelay = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv("BACK_LOGS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.BackLogsNumber = n
		}
	}
	cfg.clampTimeout()
	return cfg
}

// clampTimeout keeps the master timeout within [2s, 65535s].
func (c *Config) clampTimeout() {
	if c.Timeout < constants.MinTimeout {
		c.Timeout = constants.MinTimeout
	}
	if c.Timeout > constants.MaxTimeout {
		c.Timeout = constants.MaxTimeout
	}
}

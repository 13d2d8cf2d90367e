package config

import (
	"strconv"
	"time"

	"github.com/siteforge-ops/siteforge-backend/pkg/env"
)

type ProvisionConfig struct {
	// Server shape for per-site machines and disposable bake machines.
	ServerType string
	Location   string
	BaseImage  string

	SSHUser string
	Webroot string

	// Readiness bounds.
	ServerActiveTimeout time.Duration
	SSHReadyTimeout     time.Duration
	SnapshotTimeout     time.Duration
	PollInterval        time.Duration

	// Single short attempt against the bare IP after deploy.
	ReachabilityTimeout time.Duration
}

func NewProvisionConfig() *ProvisionConfig {
	return &ProvisionConfig{
		ServerType:          env.GetEnv("P_SERVER_TYPE", "cx22"),
		Location:            env.GetEnv("P_LOCATION", "nbg1"),
		BaseImage:           env.GetEnv("P_BASE_IMAGE", "ubuntu-22.04"),
		SSHUser:             env.GetEnv("P_SSH_USER", "root"),
		Webroot:             env.GetEnv("P_WEBROOT", "/var/www/html"),
		ServerActiveTimeout: getDuration("P_SERVER_ACTIVE_TIMEOUT_SEC", 300),
		SSHReadyTimeout:     getDuration("P_SSH_READY_TIMEOUT_SEC", 180),
		SnapshotTimeout:     getDuration("P_SNAPSHOT_TIMEOUT_SEC", 600),
		PollInterval:        getDuration("P_POLL_INTERVAL_SEC", 5),
		ReachabilityTimeout: getDuration("P_REACHABILITY_TIMEOUT_SEC", 4),
	}
}

func getDuration(key string, fallbackSec int) time.Duration {
	raw := env.GetEnv(key, strconv.Itoa(fallbackSec))
	sec, err := strconv.Atoi(raw)
	if err != nil {
		sec = fallbackSec
	}
	return time.Duration(sec) * time.Second
}

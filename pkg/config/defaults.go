package config

import (
	"strings"
	"time"
)

// ApplyDefaults sets default values for any unspecified configuration
// fields, after loading from file and environment but before validation.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyServerDefaults(cfg)
	applyMetricsDefaults(&cfg.Metrics)
	applyIPCPDefaults(&cfg.IPCP)
	applyKernelChannelDefaults(&cfg.KernelChannel)
	applyCtrlSockDefaults(&cfg.CtrlSock)
	applyEnrollDefaults(&cfg.Enroll)

	// No defaults for AddressPool or Shims: a pool range and which shims
	// to start are both decisions the operator must make explicitly.
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyServerDefaults(cfg *Config) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Enabled && cfg.Port == 0 {
		cfg.Port = 9090
	}
}

func applyIPCPDefaults(cfg *IPCPConfig) {
	if cfg.SyncChunkSize == 0 {
		cfg.SyncChunkSize = 64
	}
}

func applyKernelChannelDefaults(cfg *KernelChannelConfig) {
	if cfg.SocketPath == "" {
		cfg.SocketPath = "/run/ipcpd/kernel.sock"
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 5 * time.Second
	}
}

func applyCtrlSockDefaults(cfg *CtrlSockConfig) {
	if cfg.SocketPath == "" {
		cfg.SocketPath = "/run/ipcpd/ctrl.sock"
	}
}

func applyEnrollDefaults(cfg *EnrollConfig) {
	if cfg.Timeout == 0 {
		cfg.Timeout = 1500 * time.Millisecond
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 3
	}
}

// GetDefaultConfig returns a Config with all defaults applied, suitable
// for a freshly-initialized install (`ipcpd init`) or as a fallback when
// no config file is present.
func GetDefaultConfig() *Config {
	cfg := &Config{
		IPCP: IPCPConfig{
			APN:       "ipcpd",
			DIFName:   "normal.DIF",
			LowerDIFs: []string{"shim-udp4.DIF"},
		},
		AddressPool: AddressPoolConfig{
			Start: 1,
			End:   65535,
		},
	}
	ApplyDefaults(cfg)
	return cfg
}

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config is ipcpd's static configuration: everything needed to bring one
// normal IPCP's control plane up before it starts handling kernel and
// management-flow traffic.
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (IPCPD_*)
//  3. Configuration file (YAML)
//  4. Default values (lowest priority)
type Config struct {
	// Logging controls log output behavior.
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`

	// Metrics configures the Prometheus metrics HTTP endpoint.
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// IPCP names this instance and the DIF it joins.
	IPCP IPCPConfig `mapstructure:"ipcp" validate:"required" yaml:"ipcp"`

	// AddressPool is the range this IPCP draws peer addresses from when
	// acting as enrollment slave (RIB.AllocateAddress).
	AddressPool AddressPoolConfig `mapstructure:"address_pool" validate:"required" yaml:"address_pool"`

	// KernelChannel configures the control channel to the in-kernel IPCP
	// registry (internal/kernelchan).
	KernelChannel KernelChannelConfig `mapstructure:"kernel_channel" yaml:"kernel_channel"`

	// CtrlSock configures the local Unix-socket control-plane server
	// (pkg/ctrlsock).
	CtrlSock CtrlSockConfig `mapstructure:"ctrlsock" yaml:"ctrlsock"`

	// Shims configures which shim IPCP drivers this instance starts.
	Shims ShimsConfig `mapstructure:"shims" yaml:"shims"`

	// Enroll configures enrolment behavior and static bootstrap neighbors.
	Enroll EnrollConfig `mapstructure:"enroll" yaml:"enroll"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output.
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase).
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output format.
	// Valid values: text, json.
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output specifies where logs are written.
	// Valid values: stdout, stderr, or a file path.
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// MetricsConfig configures the Prometheus metrics HTTP server.
type MetricsConfig struct {
	// Enabled controls whether metrics collection and HTTP server are enabled.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the HTTP port for the metrics endpoint.
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`
}

// IPCPConfig names this IPCP instance and the DIF it is part of.
type IPCPConfig struct {
	// APN/API are this IPCP's application-process name and instance
	// (pkg/ribtypes.Name's first two components; AEN/AEI are left zero
	// for a control-plane-only identity).
	APN string `mapstructure:"apn" validate:"required" yaml:"apn"`
	API string `mapstructure:"api" yaml:"api"`

	// DIFName is the DIF this IPCP joins.
	DIFName string `mapstructure:"dif_name" validate:"required" yaml:"dif_name"`

	// LowerDIFs lists the N-1 DIFs (or shims) this IPCP can reach
	// neighbors over. A candidate neighbor is only reachable if it
	// shares at least one entry with this list.
	LowerDIFs []string `mapstructure:"lower_difs" validate:"required,min=1" yaml:"lower_difs"`

	// Address is this IPCP's initial address within the DIF. Zero means
	// "request one during enrolment" (the normal case for a new member).
	Address uint64 `mapstructure:"address" yaml:"address"`

	// SyncChunkSize bounds how many RIB entries sync_neigh packs into a
	// single M_CREATE when pushing a full snapshot to a newly enrolled
	// neighbor.
	SyncChunkSize int `mapstructure:"sync_chunk_size" validate:"omitempty,min=1" yaml:"sync_chunk_size"`
}

// AddressPoolConfig is the [Start, End] uint64 range addresses are drawn
// from by RIB.AllocateAddress, per DIF.
type AddressPoolConfig struct {
	Start uint64 `mapstructure:"start" validate:"required" yaml:"start"`
	End   uint64 `mapstructure:"end" validate:"required,gtfield=Start" yaml:"end"`
}

// KernelChannelConfig configures the connection to the in-kernel IPCP
// registry (internal/kernelchan.Client).
type KernelChannelConfig struct {
	// SocketPath is the Unix domain socket the kernel control channel
	// listens on.
	SocketPath string `mapstructure:"socket_path" validate:"required" yaml:"socket_path"`

	// RequestTimeout bounds how long issue_request waits for a response
	// before failing the caller.
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
}

// CtrlSockConfig configures the local configuration socket server.
type CtrlSockConfig struct {
	// SocketPath is where the Unix domain socket is created. Deleted and
	// recreated on startup.
	SocketPath string `mapstructure:"socket_path" validate:"required" yaml:"socket_path"`
}

// ShimsConfig selects which shim IPCP drivers run alongside the normal
// IPCP's control plane.
type ShimsConfig struct {
	HV   ShimHVConfig   `mapstructure:"hv" yaml:"hv"`
	UDP4 ShimUDP4Config `mapstructure:"udp4" yaml:"udp4"`
}

// ShimHVConfig configures the hypervisor-channel shim (pkg/shim/hv).
type ShimHVConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// ContextID is the vsock CID of the peer (host or guest) this shim
	// dials/listens for.
	ContextID uint32 `mapstructure:"context_id" yaml:"context_id"`

	// ControlPort is the vsock port carrying channel 0 (control)
	// traffic; data for flow port N travels as channel N+1 on the same
	// connection.
	ControlPort uint32 `mapstructure:"control_port" yaml:"control_port"`
}

// ShimUDP4Config configures the UDP shim (pkg/shim/udp4).
type ShimUDP4Config struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Resolver is a DNS server address (host:port) used to resolve peer
	// application names to IPv4 addresses. Empty falls back to the OS
	// hosts file via net.LookupHost.
	Resolver string `mapstructure:"resolver" yaml:"resolver"`

	// ListenAddr is the local IPv4 address the shim's fixed-port UDP
	// socket binds to.
	ListenAddr string `mapstructure:"listen_addr" yaml:"listen_addr"`
}

// EnrollConfig configures enrolment retry behavior and static bootstrap
// neighbors to enroll with at startup, recovered from the original
// rina-config.c-style static bootstrap (SPEC_FULL.md §10).
type EnrollConfig struct {
	// Timeout bounds how long an enrolment attempt waits for a response
	// before retrying.
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`

	// MaxAttempts is how many M_CONNECT attempts an initiator makes
	// before an aborted enrolment is final.
	MaxAttempts int `mapstructure:"max_attempts" validate:"omitempty,min=1" yaml:"max_attempts"`

	// Neighbors lists peers to enroll with as soon as the event loop
	// starts, instead of waiting for an external ctrlsock command.
	Neighbors []BootstrapNeighbor `mapstructure:"neighbors" yaml:"neighbors,omitempty"`
}

// BootstrapNeighbor names a peer to enroll with at startup and the lower
// DIF to reach it over.
type BootstrapNeighbor struct {
	APN      string `mapstructure:"apn" validate:"required" yaml:"apn"`
	API      string `mapstructure:"api" yaml:"api"`
	LowerDIF string `mapstructure:"lower_dif" validate:"required" yaml:"lower_dif"`
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (IPCPD_*)
//  2. Configuration file
//  3. Default values
//
// When no configuration file is found, Load returns GetDefaultConfig()
// as is; environment variables are not applied in that case.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	configFileFound, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	if !configFileFound {
		cfg := GetDefaultConfig()
		return cfg, nil
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration with helpful error messages, checking that
// a config file exists at configPath (or the default location) first.
func MustLoad(configPath string) (*Config, error) {
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"Please initialize a configuration file first:\n"+
				"  ipcpd init\n\n"+
				"Or specify a custom config file:\n"+
				"  ipcpd <command> --config /path/to/config.yaml",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s\n\n"+
			"Please create the configuration file:\n"+
			"  ipcpd init --config %s",
			configPath, configPath)
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// SaveConfig saves the configuration to path in YAML form.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate checks cfg against the struct's `validate` tags using
// go-playground/validator, the pack's dedicated validation library for
// exactly this kind of untrusted-input boundary (a config file).
func Validate(cfg *Config) error {
	return validator.New().Struct(cfg)
}

func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("IPCPD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		configDir := getConfigDir()
		v.AddConfigPath(configDir)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	return true, nil
}

// configDecodeHooks returns the combined decode hook for custom types
// (time.Duration parsing from human-readable strings).
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(durationDecodeHook())
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir returns the configuration directory path.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "ipcpd")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "ipcpd")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists checks if a config file exists at the default location.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for the
// init command).
func GetConfigDir() string {
	return getConfigDir()
}

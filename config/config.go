// Package config loads grelay's configuration from an optional YAML file,
// GRELAY_* environment variables and an optional .env file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"github.com/subosito/gotenv"

	"github.com/franksops/gorelay/engine"
	"github.com/franksops/gorelay/relayerr"
	"github.com/franksops/gorelay/transport"
)

// EnvPrefix prefixes every environment variable, e.g. GRELAY_CTS_HOST.
const EnvPrefix = "GRELAY"

// Default returns the configuration with only defaults applied.
func Default() *Config {
	v := viper.New()
	setDefaults(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		panic(fmt.Sprintf("error unmarshaling default config: %v", err))
	}
	return &config
}

// Load reads configuration from configFile (or the default search paths when
// empty), the environment and .env, and validates it.
func Load(configFile string) (*Config, error) {
	loadEnvFile()

	v := viper.New()
	setupViperConfig(v, configFile)
	bindEnvironmentVariables(v)

	config, err := readAndUnmarshalConfig(v)
	if err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// loadEnvFile loads the .env file if it exists
func loadEnvFile() {
	if err := gotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Warning: Error loading .env file: %v\n", err)
	}
}

// setupViperConfig configures viper with file paths and defaults
func setupViperConfig(v *viper.Viper, configFile string) {
	v.SetConfigName("grelay")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/grelay")

	if len(configFile) > 0 {
		v.SetConfigFile(configFile)
	}

	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// bindEnvironmentVariables binds the credentials explicitly so they are
// picked up even without a config file entry.
func bindEnvironmentVariables(v *viper.Viper) {
	v.BindEnv("cts.password", "GRELAY_CTS_PASSWORD")
	v.BindEnv("cts.private_key", "GRELAY_CTS_PRIVATE_KEY")
	v.BindEnv("cts.passphrase", "GRELAY_CTS_PASSPHRASE")
}

// readAndUnmarshalConfig reads the configuration file and unmarshals it
func readAndUnmarshalConfig(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, relayerr.New(relayerr.KindPrecondition, "config", v.ConfigFileUsed(), err)
		}
		// No config file: defaults and environment only.
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, relayerr.New(relayerr.KindPrecondition, "config", v.ConfigFileUsed(), err)
	}
	return &config, nil
}

// setDefaults sets default configuration values. Every key has a default so
// AutomaticEnv can override it.
func setDefaults(v *viper.Viper) {
	knownHosts := ""
	if home, err := os.UserHomeDir(); err == nil {
		knownHosts = filepath.Join(home, ".ssh", "known_hosts")
	}

	v.SetDefault("cts.host", "")
	v.SetDefault("cts.user", "")
	v.SetDefault("cts.password", "")
	v.SetDefault("cts.private_key", "")
	v.SetDefault("cts.private_key_path", "")
	v.SetDefault("cts.passphrase", "")
	v.SetDefault("cts.download_port", transport.DefaultPort)
	v.SetDefault("cts.upload_port", transport.DefaultPort)
	v.SetDefault("cts.known_hosts", knownHosts)
	v.SetDefault("cts.host_key_policy", string(transport.HostKeyVerify))
	v.SetDefault("cts.connect_timeout", transport.DefaultConnectTimeout)
	v.SetDefault("cts.upload_path", "")
	v.SetDefault("cts.download_path", "")

	v.SetDefault("local.upload_path", "")
	v.SetDefault("local.download_path", "")
	v.SetDefault("local.sent_path", "")
	v.SetDefault("local.staging_path", os.TempDir())

	v.SetDefault("relay.source_port", transport.DefaultPort)
	v.SetDefault("relay.destination_port", 4022)
	v.SetDefault("relay.host_key_policy", string(transport.HostKeyVerify))
	v.SetDefault("relay.known_hosts", knownHosts)

	v.SetDefault("batch.stop_on_first_error", true)
	v.SetDefault("transfer.buffer_size", engine.DefaultBufferSize)
	v.SetDefault("archive.s3_uri", "")
	v.SetDefault("state.db_path", filepath.Join(".grelay-state", "state.db"))
	v.SetDefault("server.address", ":8080")
	v.SetDefault("security.allow_trust_all_requests", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// Validate checks settings that are wrong regardless of which operation runs.
func (c *Config) Validate() error {
	fail := func(format string, args ...any) error {
		return relayerr.Errorf(relayerr.KindPrecondition, "config", "", format, args...)
	}

	if _, err := logrus.ParseLevel(c.Logging.Level); err != nil {
		return fail("logging.level: %v", err)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fail("logging.format must be text or json, got %q", c.Logging.Format)
	}

	for key, port := range map[string]int{
		"cts.download_port":      c.CTS.DownloadPort,
		"cts.upload_port":        c.CTS.UploadPort,
		"relay.source_port":      c.Relay.SourcePort,
		"relay.destination_port": c.Relay.DestinationPort,
	} {
		if port <= 0 || port > 65535 {
			return fail("%s %d out of range", key, port)
		}
	}

	if _, err := transport.ParseHostKeyMode(c.CTS.HostKeyPolicy); err != nil {
		return fail("cts.host_key_policy: %v", err)
	}
	if _, err := transport.ParseHostKeyMode(c.Relay.HostKeyPolicy); err != nil {
		return fail("relay.host_key_policy: %v", err)
	}
	if c.CTS.ConnectTimeout < 0 {
		return fail("cts.connect_timeout must not be negative")
	}
	if c.Transfer.BufferSize < 0 {
		return fail("transfer.buffer_size must not be negative")
	}
	return nil
}

// RequireDownload checks the settings DownloadAllZips needs.
func (c *Config) RequireDownload() error {
	return requireFields(map[string]string{
		"cts.host":            c.CTS.Host,
		"cts.user":            c.CTS.User,
		"cts.download_path":   c.CTS.DownloadPath,
		"local.download_path": c.Local.DownloadPath,
	})
}

// RequireUpload checks the settings UploadAllZips needs.
func (c *Config) RequireUpload() error {
	return requireFields(map[string]string{
		"cts.host":          c.CTS.Host,
		"cts.user":          c.CTS.User,
		"cts.upload_path":   c.CTS.UploadPath,
		"local.upload_path": c.Local.UploadPath,
		"local.sent_path":   c.Local.SentPath,
	})
}

func requireFields(fields map[string]string) error {
	var missing []string
	for key, val := range fields {
		if strings.TrimSpace(val) == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	slices.Sort(missing)
	return relayerr.Errorf(relayerr.KindPrecondition, "config", "", "missing %s", strings.Join(missing, ", "))
}

// DownloadParams returns the connection parameters for the download leg.
func (c *Config) DownloadParams() (transport.Params, error) {
	return c.ctsParams(c.CTS.DownloadPort)
}

// UploadParams returns the connection parameters for the upload leg.
func (c *Config) UploadParams() (transport.Params, error) {
	return c.ctsParams(c.CTS.UploadPort)
}

func (c *Config) ctsParams(port int) (transport.Params, error) {
	policy, err := hostKeyPolicy(c.CTS.HostKeyPolicy, c.CTS.KnownHosts)
	if err != nil {
		return transport.Params{}, err
	}
	p := transport.Params{
		Host:           c.CTS.Host,
		Port:           port,
		User:           c.CTS.User,
		Password:       c.CTS.Password,
		PrivateKeyPath: c.CTS.PrivateKeyPath,
		Passphrase:     c.CTS.Passphrase,
		HostKey:        policy,
		Timeout:        c.CTS.ConnectTimeout,
	}
	if c.CTS.PrivateKey != "" {
		p.PrivateKey = []byte(c.CTS.PrivateKey)
	}
	return p, p.Validate()
}

// RelayHostKeyPolicy returns the host key policy applied to both relay legs.
func (c *Config) RelayHostKeyPolicy() (transport.HostKeyPolicy, error) {
	return hostKeyPolicy(c.Relay.HostKeyPolicy, c.Relay.KnownHosts)
}

func hostKeyPolicy(mode, knownHosts string) (transport.HostKeyPolicy, error) {
	m, err := transport.ParseHostKeyMode(mode)
	if err != nil {
		return transport.HostKeyPolicy{}, err
	}
	if m == transport.HostKeyTrustAll {
		return transport.TrustAll(), nil
	}
	return transport.Verify(knownHosts), nil
}

// ConnectTimeout returns the configured timeout, falling back to the default.
func (c *Config) ConnectTimeout() time.Duration {
	if c.CTS.ConnectTimeout <= 0 {
		return transport.DefaultConnectTimeout
	}
	return c.CTS.ConnectTimeout
}

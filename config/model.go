package config

import "time"

// Config is the process configuration. It is built once by Load and passed
// explicitly to the components that need it.
type Config struct {
	CTS      CTSConfig      `mapstructure:"cts"`
	Local    LocalConfig    `mapstructure:"local"`
	Relay    RelayConfig    `mapstructure:"relay"`
	Batch    BatchConfig    `mapstructure:"batch"`
	Transfer TransferConfig `mapstructure:"transfer"`
	Archive  ArchiveConfig  `mapstructure:"archive"`
	State    StateConfig    `mapstructure:"state"`
	Server   ServerConfig   `mapstructure:"server"`
	Security SecurityConfig `mapstructure:"security"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// CTSConfig is the configured SFTP server used by the batch operations.
// Download and upload historically used different ports, so both are kept.
type CTSConfig struct {
	Host           string        `mapstructure:"host"`
	User           string        `mapstructure:"user"`
	Password       string        `mapstructure:"password"`
	PrivateKey     string        `mapstructure:"private_key"`
	PrivateKeyPath string        `mapstructure:"private_key_path"`
	Passphrase     string        `mapstructure:"passphrase"`
	DownloadPort   int           `mapstructure:"download_port"`
	UploadPort     int           `mapstructure:"upload_port"`
	KnownHosts     string        `mapstructure:"known_hosts"`
	HostKeyPolicy  string        `mapstructure:"host_key_policy"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	UploadPath     string        `mapstructure:"upload_path"`
	DownloadPath   string        `mapstructure:"download_path"`
}

// LocalConfig holds the local directories the batch operations work in.
type LocalConfig struct {
	UploadPath   string `mapstructure:"upload_path"`
	DownloadPath string `mapstructure:"download_path"`
	SentPath     string `mapstructure:"sent_path"`
	StagingPath  string `mapstructure:"staging_path"`
}

// RelayConfig applies to both legs of a relay; hosts and credentials come
// with each request.
type RelayConfig struct {
	SourcePort      int    `mapstructure:"source_port"`
	DestinationPort int    `mapstructure:"destination_port"`
	HostKeyPolicy   string `mapstructure:"host_key_policy"`
	KnownHosts      string `mapstructure:"known_hosts"`
}

type BatchConfig struct {
	StopOnFirstError bool `mapstructure:"stop_on_first_error"`
}

type TransferConfig struct {
	BufferSize int `mapstructure:"buffer_size"`
}

type ArchiveConfig struct {
	S3URI string `mapstructure:"s3_uri"`
}

type StateConfig struct {
	DBPath string `mapstructure:"db_path"`
}

type ServerConfig struct {
	Address string `mapstructure:"address"`
}

// SecurityConfig gates request-supplied options.
type SecurityConfig struct {
	// AllowTrustAllRequests lets per-request callers disable host key checks.
	AllowTrustAllRequests bool `mapstructure:"allow_trust_all_requests"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

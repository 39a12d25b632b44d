package homeworks

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPort is the Homeworks processor Ethernet port.
const DefaultPort = 23

// Config is the root configuration for the Homeworks controller client.
// Loaded from YAML with environment variable overrides.
type Config struct {
	Controller ControllerSettings `yaml:"controller"`
	Session    SessionSettings    `yaml:"session"`
	Dispatch   DispatchSettings   `yaml:"dispatch"`
	Polling    PollingSettings    `yaml:"polling"`
	Window     WindowSettings     `yaml:"window"`
	MQTT       MQTTSettings       `yaml:"mqtt"`
	Database   DatabaseSettings   `yaml:"database"`
	API        APISettings        `yaml:"api"`
	Influx     InfluxSettings     `yaml:"influxdb"`
	CCODevices []CCODeviceConfig  `yaml:"cco_devices"`
	Dimmers    []DimmerConfig     `yaml:"dimmers"`
	Logging    LoggingConfig      `yaml:"logging"`
}

// ControllerSettings identifies the Homeworks processor and its login.
type ControllerSettings struct {
	// ID uniquely identifies this controller instance.
	// Used in MQTT client ID and health reporting.
	ID string `yaml:"id"`

	// Host is the processor hostname or IP address.
	Host string `yaml:"host"`

	// Port is the processor TCP port. Default: 23.
	Port int `yaml:"port"`

	// Username for controller login (optional; some processors take a
	// bare password).
	Username string `yaml:"username"`

	// Password for controller login (optional; omit both credentials for
	// processors without login enabled).
	// WARNING: Never log this value. Use String() method for safe logging.
	Password string `yaml:"password"`
}

// String returns a string representation with password masked.
// Use this for logging to prevent credential exposure.
func (c ControllerSettings) String() string {
	password := ""
	if c.Password != "" {
		password = "[REDACTED]"
	}
	return fmt.Sprintf("ControllerSettings{ID:%q, Host:%q, Port:%d, Username:%q, Password:%s}",
		c.ID, c.Host, c.Port, c.Username, password)
}

// MarshalJSON implements json.Marshaler to redact password in JSON output.
// This prevents accidental password exposure in logs or API responses.
func (c ControllerSettings) MarshalJSON() ([]byte, error) {
	type redacted ControllerSettings
	safe := redacted(c)
	if safe.Password != "" {
		safe.Password = "[REDACTED]"
	}
	return json.Marshal(safe)
}

// SessionSettings governs connection lifecycle and reconnect behaviour.
type SessionSettings struct {
	// ConnectTimeout is the maximum time to wait for the TCP dial (seconds).
	// Default: 10 seconds.
	ConnectTimeout int `yaml:"connect_timeout"`

	// LoginTimeout is how long to wait for the login prompt and result
	// (seconds). Default: 5 seconds.
	LoginTimeout int `yaml:"login_timeout"`

	// ReconnectMin is the initial reconnect backoff (seconds). Default: 1.
	ReconnectMin int `yaml:"reconnect_min"`

	// ReconnectMax is the backoff ceiling (seconds). Default: 60.
	ReconnectMax int `yaml:"reconnect_max"`

	// HealthInterval is how often to publish health status (seconds).
	// Default: 30 seconds.
	HealthInterval int `yaml:"health_interval"`
}

// DispatchSettings governs the outbound command queue.
type DispatchSettings struct {
	// RateLimit is the maximum commands transmitted per rolling second.
	// Default: 20.
	RateLimit int `yaml:"rate_limit"`

	// QueueSize is the bounded command queue capacity. Default: 256.
	QueueSize int `yaml:"queue_size"`

	// MaxQueueAge is how long a queued command may wait before being
	// rejected as stale (seconds). Default: 30 seconds.
	MaxQueueAge int `yaml:"max_queue_age"`
}

// PollingSettings governs periodic state refresh.
type PollingSettings struct {
	// KLSInterval is the CCO state poll interval (seconds). Default: 10.
	KLSInterval int `yaml:"kls_interval"`

	// DimmerInterval is the dimmer level poll interval (seconds).
	// Default: 30. Set to 0 to disable periodic dimmer polling.
	DimmerInterval int `yaml:"dimmer_interval"`
}

// WindowSettings describes where CCO relay digits sit inside the 24-digit
// KLS string. Series 8 processors report relay digits starting at a fixed
// offset; older firmware shifts them.
type WindowSettings struct {
	// Offset is the 0-based index of the first relay digit. Default: 9.
	Offset int `yaml:"offset"`

	// Size is the number of relay digits per module. Default: 8.
	Size int `yaml:"size"`
}

// MQTTSettings contains MQTT broker connection settings.
type MQTTSettings struct {
	// Broker is the MQTT broker URL.
	// Example: "tcp://localhost:1883"
	Broker string `yaml:"broker"`

	// ClientID is the MQTT client identifier.
	// Default: controller.id + "-mqtt"
	ClientID string `yaml:"client_id"`

	// Username for MQTT authentication (optional).
	Username string `yaml:"username"`

	// Password for MQTT authentication (optional).
	// WARNING: Never log this value. Use String() method for safe logging.
	Password string `yaml:"password"`

	// QoS is the MQTT quality of service level (0, 1, or 2).
	// Default: 1 (at least once delivery).
	QoS int `yaml:"qos"`

	// KeepAlive is the MQTT keep-alive interval (seconds).
	// Default: 60 seconds.
	KeepAlive int `yaml:"keep_alive"`
}

// String returns a string representation with password masked.
func (m MQTTSettings) String() string {
	password := ""
	if m.Password != "" {
		password = "[REDACTED]"
	}
	return fmt.Sprintf("MQTTSettings{Broker:%q, ClientID:%q, Username:%q, Password:%s, QoS:%d, KeepAlive:%d}",
		m.Broker, m.ClientID, m.Username, password, m.QoS, m.KeepAlive)
}

// MarshalJSON implements json.Marshaler to redact password in JSON output.
func (m MQTTSettings) MarshalJSON() ([]byte, error) {
	type redacted MQTTSettings
	safe := redacted(m)
	if safe.Password != "" {
		safe.Password = "[REDACTED]"
	}
	return json.Marshal(safe)
}

// DatabaseSettings contains SQLite persistence settings for the device
// registry.
type DatabaseSettings struct {
	// Path is the filesystem path to the SQLite database file.
	// Default: "data/homeworks.db".
	Path string `yaml:"path"`

	// WALMode enables Write-Ahead Logging for concurrent reads.
	// Default: true.
	WALMode bool `yaml:"wal_mode"`

	// BusyTimeout is the maximum time to wait for a database lock (seconds).
	// Default: 5.
	BusyTimeout int `yaml:"busy_timeout"`
}

// APISettings contains HTTP API settings.
type APISettings struct {
	// Enabled turns the HTTP API on. Default: true.
	Enabled bool `yaml:"enabled"`

	// Listen is the bind address. Default: ":8420".
	Listen string `yaml:"listen"`

	// ReadTimeout is the HTTP read timeout (seconds). Default: 10.
	ReadTimeout int `yaml:"read_timeout"`

	// WriteTimeout is the HTTP write timeout (seconds). Default: 10.
	WriteTimeout int `yaml:"write_timeout"`
}

// InfluxSettings contains optional InfluxDB metrics settings.
type InfluxSettings struct {
	// Enabled turns InfluxDB metric recording on. Default: false.
	Enabled bool `yaml:"enabled"`

	// URL is the InfluxDB server URL.
	// Example: "http://localhost:8086"
	URL string `yaml:"url"`

	// Token is the InfluxDB API token.
	// WARNING: Never log this value. Use String() method for safe logging.
	Token string `yaml:"token"`

	// Org is the InfluxDB organisation.
	Org string `yaml:"org"`

	// Bucket is the InfluxDB bucket for Homeworks measurements.
	Bucket string `yaml:"bucket"`

	// BatchSize is the write batch size. Default: 100.
	BatchSize int `yaml:"batch_size"`

	// FlushInterval is the write flush interval (seconds). Default: 10.
	FlushInterval int `yaml:"flush_interval"`
}

// String returns a string representation with the token masked.
func (i InfluxSettings) String() string {
	token := ""
	if i.Token != "" {
		token = "[REDACTED]"
	}
	return fmt.Sprintf("InfluxSettings{Enabled:%t, URL:%q, Token:%s, Org:%q, Bucket:%q}",
		i.Enabled, i.URL, token, i.Org, i.Bucket)
}

// MarshalJSON implements json.Marshaler to redact the token in JSON output.
func (i InfluxSettings) MarshalJSON() ([]byte, error) {
	type redacted InfluxSettings
	safe := redacted(i)
	if safe.Token != "" {
		safe.Token = "[REDACTED]"
	}
	return json.Marshal(safe)
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	// Default: info
	Level string `yaml:"level"`

	// Format is the log output format: json or text.
	// Default: json
	Format string `yaml:"format"`

	// Output is the log destination: stdout or stderr.
	// Default: stdout
	Output string `yaml:"output"`
}

// CCODeviceConfig defines one relay output as configured.
type CCODeviceConfig struct {
	// Name is the human-readable device name.
	Name string `yaml:"name"`

	// Addr is the CCO module address, "pp:ll:aa" or "[pp:ll:aa]".
	Addr string `yaml:"addr"`

	// Button is the 1-based relay number within the module.
	Button int `yaml:"button"`

	// Kind is the device category: switch, light, cover, or lock.
	// Default: switch.
	Kind string `yaml:"kind"`

	// Inverted flips the published on/off sense of the relay.
	Inverted bool `yaml:"inverted"`
}

// DimmerConfig defines one dimmer zone as configured.
type DimmerConfig struct {
	// Name is the human-readable zone name.
	Name string `yaml:"name"`

	// Addr is the dimmer address, 3 to 5 colon-separated groups.
	Addr string `yaml:"addr"`

	// Poll enables the periodic level refresh for this zone.
	Poll bool `yaml:"poll"`
}

// LoadConfig reads configuration from a YAML file.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: HOMEWORKS_SECTION_KEY
// For example: HOMEWORKS_CONTROLLER_HOST, HOMEWORKS_MQTT_BROKER
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Controller: ControllerSettings{
			ID:   "homeworks-01",
			Port: DefaultPort,
		},
		Session: SessionSettings{
			ConnectTimeout: 10,
			LoginTimeout:   5,
			ReconnectMin:   1,
			ReconnectMax:   60,
			HealthInterval: 30,
		},
		Dispatch: DispatchSettings{
			RateLimit:   20,
			QueueSize:   256,
			MaxQueueAge: 30,
		},
		Polling: PollingSettings{
			KLSInterval:    10,
			DimmerInterval: 30,
		},
		Window: WindowSettings{
			Offset: 9,
			Size:   8,
		},
		MQTT: MQTTSettings{
			Broker:    "tcp://localhost:1883",
			QoS:       1,
			KeepAlive: 60,
		},
		Database: DatabaseSettings{
			Path:        "data/homeworks.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		API: APISettings{
			Enabled:      true,
			Listen:       ":8420",
			ReadTimeout:  10,
			WriteTimeout: 10,
		},
		Influx: InfluxSettings{
			Enabled:       false,
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		CCODevices: []CCODeviceConfig{},
		Dimmers:    []DimmerConfig{},
	}
}

// applyEnvOverrides applies environment variable overrides to the
// configuration. Environment variables follow the pattern:
// HOMEWORKS_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Controller
	if v := os.Getenv("HOMEWORKS_CONTROLLER_ID"); v != "" {
		cfg.Controller.ID = v
	}
	if v := os.Getenv("HOMEWORKS_CONTROLLER_HOST"); v != "" {
		cfg.Controller.Host = v
	}
	if v := os.Getenv("HOMEWORKS_CONTROLLER_USERNAME"); v != "" {
		cfg.Controller.Username = v
	}
	if v := os.Getenv("HOMEWORKS_CONTROLLER_PASSWORD"); v != "" {
		cfg.Controller.Password = v
	}

	// MQTT
	if v := os.Getenv("HOMEWORKS_MQTT_BROKER"); v != "" {
		cfg.MQTT.Broker = v
	}
	if v := os.Getenv("HOMEWORKS_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Username = v
	}
	if v := os.Getenv("HOMEWORKS_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Password = v
	}

	// Database
	if v := os.Getenv("HOMEWORKS_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// API
	if v := os.Getenv("HOMEWORKS_API_LISTEN"); v != "" {
		cfg.API.Listen = v
	}

	// InfluxDB
	if v := os.Getenv("HOMEWORKS_INFLUX_URL"); v != "" {
		cfg.Influx.URL = v
	}
	if v := os.Getenv("HOMEWORKS_INFLUX_TOKEN"); v != "" {
		cfg.Influx.Token = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	errs = append(errs, c.validateController()...)
	errs = append(errs, c.validateSession()...)
	errs = append(errs, c.validateDispatch()...)
	errs = append(errs, c.validatePolling()...)
	errs = append(errs, c.validateWindow()...)
	errs = append(errs, c.validateMQTT()...)
	errs = append(errs, c.validateStorage()...)
	errs = append(errs, c.validateDevices()...)
	errs = append(errs, c.validateLogging()...)

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// validateController validates controller identity and connection settings.
func (c *Config) validateController() []string {
	var errs []string
	if c.Controller.ID == "" {
		errs = append(errs, "controller.id is required")
	}
	if c.Controller.Host == "" {
		errs = append(errs, "controller.host is required")
	}
	if c.Controller.Port < 1 || c.Controller.Port > 65535 {
		errs = append(errs, "controller.port must be 1-65535")
	}
	return errs
}

// validateSession validates session lifecycle settings.
func (c *Config) validateSession() []string {
	var errs []string
	if c.Session.ConnectTimeout < 1 {
		errs = append(errs, "session.connect_timeout must be at least 1 second")
	}
	if c.Session.LoginTimeout < 1 {
		errs = append(errs, "session.login_timeout must be at least 1 second")
	}
	if c.Session.ReconnectMin < 1 {
		errs = append(errs, "session.reconnect_min must be at least 1 second")
	}
	if c.Session.ReconnectMax < c.Session.ReconnectMin {
		errs = append(errs, "session.reconnect_max must be >= session.reconnect_min")
	}
	if c.Session.HealthInterval < 1 {
		errs = append(errs, "session.health_interval must be at least 1 second")
	}
	return errs
}

// validateDispatch validates command queue settings.
func (c *Config) validateDispatch() []string {
	var errs []string
	if c.Dispatch.RateLimit < 1 {
		errs = append(errs, "dispatch.rate_limit must be at least 1")
	}
	if c.Dispatch.QueueSize < 1 {
		errs = append(errs, "dispatch.queue_size must be at least 1")
	}
	if c.Dispatch.MaxQueueAge < 1 {
		errs = append(errs, "dispatch.max_queue_age must be at least 1 second")
	}
	return errs
}

// validatePolling validates poll interval settings.
func (c *Config) validatePolling() []string {
	var errs []string
	if c.Polling.KLSInterval < 1 {
		errs = append(errs, "polling.kls_interval must be at least 1 second")
	}
	if c.Polling.DimmerInterval < 0 {
		errs = append(errs, "polling.dimmer_interval must not be negative")
	}
	return errs
}

// validateWindow validates KLS window geometry.
func (c *Config) validateWindow() []string {
	var errs []string
	if c.Window.Offset < 0 || c.Window.Offset >= KLSDigitCount {
		errs = append(errs, fmt.Sprintf("window.offset must be 0-%d", KLSDigitCount-1))
	}
	if c.Window.Size < 1 {
		errs = append(errs, "window.size must be at least 1")
	}
	if c.Window.Offset+c.Window.Size > KLSDigitCount {
		errs = append(errs, fmt.Sprintf("window.offset+window.size must not exceed %d", KLSDigitCount))
	}
	return errs
}

// validateMQTT validates MQTT broker settings.
func (c *Config) validateMQTT() []string {
	var errs []string
	if c.MQTT.Broker == "" {
		errs = append(errs, "mqtt.broker is required")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	return errs
}

// validateStorage validates database, API, and InfluxDB settings.
func (c *Config) validateStorage() []string {
	var errs []string
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}
	if c.Database.BusyTimeout < 1 {
		errs = append(errs, "database.busy_timeout must be at least 1 second")
	}
	if c.API.Enabled && c.API.Listen == "" {
		errs = append(errs, "api.listen is required when api.enabled")
	}
	if c.Influx.Enabled {
		if c.Influx.URL == "" {
			errs = append(errs, "influxdb.url is required when influxdb.enabled")
		}
		if c.Influx.Org == "" || c.Influx.Bucket == "" {
			errs = append(errs, "influxdb.org and influxdb.bucket are required when influxdb.enabled")
		}
	}
	return errs
}

// validateDevices validates configured CCO and dimmer devices.
func (c *Config) validateDevices() []string {
	var errs []string
	seen := make(map[string]bool)

	for i, dev := range c.CCODevices {
		d, err := dev.ToDevice()
		if err != nil {
			errs = append(errs, fmt.Sprintf("cco_devices[%d]: %v", i, err))
			continue
		}
		if err := d.Validate(c.Window.Offset, c.Window.Size); err != nil {
			errs = append(errs, fmt.Sprintf("cco_devices[%d]: %v", i, err))
			continue
		}
		if seen[d.Key()] {
			errs = append(errs, fmt.Sprintf("cco_devices[%d]: duplicate address/button %s", i, d.Key()))
		}
		seen[d.Key()] = true
	}

	dimSeen := make(map[string]bool)
	for i, dim := range c.Dimmers {
		d := DimmerDevice{Name: dim.Name, Addr: dim.Addr, Poll: dim.Poll}
		if err := d.Validate(); err != nil {
			errs = append(errs, fmt.Sprintf("dimmers[%d]: %v", i, err))
			continue
		}
		norm, _ := NormalizeAddress(dim.Addr)
		if dimSeen[norm] {
			errs = append(errs, fmt.Sprintf("dimmers[%d]: duplicate address %s", i, norm))
		}
		dimSeen[norm] = true
	}

	return errs
}

// validateLogging validates logging settings.
func (c *Config) validateLogging() []string {
	var errs []string

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		errs = append(errs, fmt.Sprintf("logging.level %q is invalid (use debug, info, warn, or error)", c.Logging.Level))
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		errs = append(errs, fmt.Sprintf("logging.format %q is invalid (use json or text)", c.Logging.Format))
	}

	validOutputs := map[string]bool{"": true, "stdout": true, "stderr": true}
	if !validOutputs[c.Logging.Output] {
		errs = append(errs, fmt.Sprintf("logging.output %q is invalid (use stdout or stderr)", c.Logging.Output))
	}

	return errs
}

// ToDevice converts the configured device into a validated CCODevice.
func (d CCODeviceConfig) ToDevice() (CCODevice, error) {
	addr, err := ParseAddress(d.Addr)
	if err != nil {
		return CCODevice{}, err
	}
	kind := DeviceKind(d.Kind)
	if d.Kind == "" {
		kind = KindSwitch
	}
	return CCODevice{
		Name:     d.Name,
		Addr:     addr,
		Button:   d.Button,
		Kind:     kind,
		Inverted: d.Inverted,
	}, nil
}

// Endpoint returns the controller host:port dial target.
func (c *Config) Endpoint() string {
	return fmt.Sprintf("%s:%d", c.Controller.Host, c.Controller.Port)
}

// GetMQTTClientID returns the MQTT client ID, defaulting to the controller
// ID if not set.
func (c *Config) GetMQTTClientID() string {
	if c.MQTT.ClientID != "" {
		return c.MQTT.ClientID
	}
	return c.Controller.ID + "-mqtt"
}

// GetHealthInterval returns the health reporting interval as a Duration.
func (c *Config) GetHealthInterval() time.Duration {
	return time.Duration(c.Session.HealthInterval) * time.Second
}

// GetKLSInterval returns the CCO poll interval as a Duration.
func (c *Config) GetKLSInterval() time.Duration {
	return time.Duration(c.Polling.KLSInterval) * time.Second
}

// GetDimmerInterval returns the dimmer poll interval as a Duration. Zero
// disables periodic dimmer polling.
func (c *Config) GetDimmerInterval() time.Duration {
	return time.Duration(c.Polling.DimmerInterval) * time.Second
}

// GetMaxQueueAge returns the stale command cutoff as a Duration.
func (c *Config) GetMaxQueueAge() time.Duration {
	return time.Duration(c.Dispatch.MaxQueueAge) * time.Second
}

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/RMahshie/fetbench/internal/instrument"
	"github.com/RMahshie/fetbench/internal/sweep"
	"github.com/RMahshie/fetbench/pkg/models"
)

// Config holds all configuration for the application
type Config struct {
	Database   DatabaseConfig
	Server     ServerConfig
	AWS        AWSConfig
	Instrument InstrumentConfig
	Sweep      SweepConfig
	Data       DataConfig
	Display    DisplayConfig
}

// DatabaseConfig holds database configuration. An empty URL keeps run
// history in memory.
type DatabaseConfig struct {
	URL string
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port           string
	Env            string
	LogLevel       string
	AllowedOrigins []string
}

// AWSConfig holds AWS/S3 configuration. An empty bucket disables archiving.
type AWSConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	S3Bucket        string
	S3Endpoint      string
}

// InstrumentConfig selects the GPIB transport and the two units
type InstrumentConfig struct {
	Transport     string
	PrologixAddr  string
	SerialPort    string
	SerialBaud    int
	Timeout       time.Duration
	DrainResource string
	GateResource  string
	DrainLimit    float64
	GateLimit     float64
}

// SweepDefaults are the ranges used when a request omits an axis
type SweepDefaults struct {
	Gate  models.SweepRange
	Drain models.SweepRange
}

// SweepConfig holds per-type defaults
type SweepConfig struct {
	IDVD        SweepDefaults
	IDVG        SweepDefaults
	HoldMarkers bool
}

// DataConfig holds data log settings
type DataConfig struct {
	Dir        string
	XLSXExport bool
}

// DisplayConfig holds live feed settings
type DisplayConfig struct {
	FeedPoll      time.Duration
	PausePoll     time.Duration
	PlotMaxPoints int
}

var keys = []string{
	"DATABASE_URL", "PORT", "ENVIRONMENT", "LOG_LEVEL", "ALLOWED_ORIGINS",
	"AWS_REGION", "AWS_ACCESS_KEY_ID", "AWS_SECRET_ACCESS_KEY", "S3_BUCKET", "S3_ENDPOINT",
	"TRANSPORT", "PROLOGIX_ADDR", "SERIAL_PORT", "SERIAL_BAUD", "INSTRUMENT_TIMEOUT_MS",
	"GPIB_VDS", "GPIB_VG", "VDS_CURRENT_LIMIT", "VG_CURRENT_LIMIT",
	"DATA_DIR", "CSV_HOLD_MARKERS", "XLSX_EXPORT",
	"FEED_POLL_MS", "PAUSE_POLL_MS", "PLOT_MAX_POINTS",
}

// rangeDefaults mirrors the lab configuration the bench was set up with.
var rangeDefaults = map[string]models.SweepRange{
	"IDVD_GATE":  {From: 0, To: 10, Step: 5, Delay: 0.5},
	"IDVD_DRAIN": {From: -1, To: 1, Step: 0.05, Delay: 0.2},
	"IDVG_DRAIN": {From: 0.2, To: 0.4, Step: 0.2, Delay: 0.5},
	"IDVG_GATE":  {From: -10, To: 10, Step: 0.5, Delay: 0.2},
}

// Load loads configuration from environment variables and .env files
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile loads configuration like Load, reading file instead of
// .env.<ENVIRONMENT> when file is not empty.
func LoadFile(file string) (*Config, error) {
	v := viper.New()

	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("PORT", "8080")
	v.SetDefault("ENVIRONMENT", "dev")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("ALLOWED_ORIGINS", "http://localhost:5173,http://localhost:3000")
	v.SetDefault("AWS_REGION", "us-east-1")
	v.SetDefault("AWS_ACCESS_KEY_ID", "")
	v.SetDefault("AWS_SECRET_ACCESS_KEY", "")
	v.SetDefault("S3_BUCKET", "")
	v.SetDefault("S3_ENDPOINT", "")
	v.SetDefault("TRANSPORT", instrument.TransportSim)
	v.SetDefault("PROLOGIX_ADDR", "192.168.0.100:1234")
	v.SetDefault("SERIAL_PORT", "/dev/ttyUSB0")
	v.SetDefault("SERIAL_BAUD", instrument.DefaultBaud)
	v.SetDefault("INSTRUMENT_TIMEOUT_MS", 5000)
	v.SetDefault("GPIB_VDS", "GPIB0::24::INSTR")
	v.SetDefault("GPIB_VG", "GPIB0::18::INSTR")
	v.SetDefault("VDS_CURRENT_LIMIT", 0.1)
	v.SetDefault("VG_CURRENT_LIMIT", 0.1)
	v.SetDefault("DATA_DIR", "data")
	v.SetDefault("CSV_HOLD_MARKERS", true)
	v.SetDefault("XLSX_EXPORT", false)
	v.SetDefault("FEED_POLL_MS", 50)
	v.SetDefault("PAUSE_POLL_MS", 100)
	v.SetDefault("PLOT_MAX_POINTS", 1000)
	for prefix, r := range rangeDefaults {
		v.SetDefault(prefix+"_FROM", r.From)
		v.SetDefault(prefix+"_TO", r.To)
		v.SetDefault(prefix+"_STEP", r.Step)
		v.SetDefault(prefix+"_DELAY", r.Delay)
	}

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	} else {
		// Read from .env files based on environment
		_ = v.BindEnv("ENVIRONMENT")
		env := v.GetString("ENVIRONMENT")
		if env == "" {
			env = "dev"
		}
		v.SetConfigName(".env." + env)
		v.SetConfigType("env")
		v.AddConfigPath(".")
		_ = v.ReadInConfig() // file may not exist
	}

	// Environment variables override file values
	v.AutomaticEnv()
	for _, k := range keys {
		_ = v.BindEnv(k)
	}
	for prefix := range rangeDefaults {
		for _, field := range []string{"_FROM", "_TO", "_STEP", "_DELAY"} {
			_ = v.BindEnv(prefix + field)
		}
	}

	var config Config
	config.Database.URL = v.GetString("DATABASE_URL")
	config.Server.Port = v.GetString("PORT")
	config.Server.Env = v.GetString("ENVIRONMENT")
	config.Server.LogLevel = v.GetString("LOG_LEVEL")
	config.Server.AllowedOrigins = splitList(v.GetString("ALLOWED_ORIGINS"))
	config.AWS.Region = v.GetString("AWS_REGION")
	config.AWS.AccessKeyID = v.GetString("AWS_ACCESS_KEY_ID")
	config.AWS.SecretAccessKey = v.GetString("AWS_SECRET_ACCESS_KEY")
	config.AWS.S3Bucket = v.GetString("S3_BUCKET")
	config.AWS.S3Endpoint = v.GetString("S3_ENDPOINT")

	config.Instrument = InstrumentConfig{
		Transport:     strings.ToLower(v.GetString("TRANSPORT")),
		PrologixAddr:  v.GetString("PROLOGIX_ADDR"),
		SerialPort:    v.GetString("SERIAL_PORT"),
		SerialBaud:    v.GetInt("SERIAL_BAUD"),
		Timeout:       time.Duration(v.GetInt("INSTRUMENT_TIMEOUT_MS")) * time.Millisecond,
		DrainResource: v.GetString("GPIB_VDS"),
		GateResource:  v.GetString("GPIB_VG"),
		DrainLimit:    v.GetFloat64("VDS_CURRENT_LIMIT"),
		GateLimit:     v.GetFloat64("VG_CURRENT_LIMIT"),
	}

	readRange := func(prefix string) models.SweepRange {
		return models.SweepRange{
			From:  v.GetFloat64(prefix + "_FROM"),
			To:    v.GetFloat64(prefix + "_TO"),
			Step:  v.GetFloat64(prefix + "_STEP"),
			Delay: v.GetFloat64(prefix + "_DELAY"),
		}
	}
	config.Sweep = SweepConfig{
		IDVD:        SweepDefaults{Gate: readRange("IDVD_GATE"), Drain: readRange("IDVD_DRAIN")},
		IDVG:        SweepDefaults{Gate: readRange("IDVG_GATE"), Drain: readRange("IDVG_DRAIN")},
		HoldMarkers: v.GetBool("CSV_HOLD_MARKERS"),
	}

	config.Data = DataConfig{
		Dir:        v.GetString("DATA_DIR"),
		XLSXExport: v.GetBool("XLSX_EXPORT"),
	}
	config.Display = DisplayConfig{
		FeedPoll:      time.Duration(v.GetInt("FEED_POLL_MS")) * time.Millisecond,
		PausePoll:     time.Duration(v.GetInt("PAUSE_POLL_MS")) * time.Millisecond,
		PlotMaxPoints: v.GetInt("PLOT_MAX_POINTS"),
	}

	log.Debug().
		Str("environment", config.Server.Env).
		Str("transport", config.Instrument.Transport).
		Strs("allowed_origins", config.Server.AllowedOrigins).
		Msg("Configuration loaded")

	return &config, nil
}

// Validate rejects settings the engine or the transport cannot use.
func (c *Config) Validate() error {
	switch c.Instrument.Transport {
	case instrument.TransportSim, instrument.TransportPrologixTCP, instrument.TransportPrologixSerial:
	default:
		return &sweep.ConfigurationError{Field: "TRANSPORT", Reason: fmt.Sprintf("unknown transport %q", c.Instrument.Transport)}
	}
	if _, err := instrument.ParseAddress(c.Instrument.DrainResource); err != nil {
		return &sweep.ConfigurationError{Field: "GPIB_VDS", Reason: err.Error()}
	}
	if _, err := instrument.ParseAddress(c.Instrument.GateResource); err != nil {
		return &sweep.ConfigurationError{Field: "GPIB_VG", Reason: err.Error()}
	}
	if c.Instrument.DrainLimit <= 0 {
		return &sweep.ConfigurationError{Field: "VDS_CURRENT_LIMIT", Reason: "must be greater than 0"}
	}
	if c.Instrument.GateLimit <= 0 {
		return &sweep.ConfigurationError{Field: "VG_CURRENT_LIMIT", Reason: "must be greater than 0"}
	}
	if c.Display.FeedPoll <= 0 || c.Display.PausePoll <= 0 {
		return &sweep.ConfigurationError{Field: "FEED_POLL_MS/PAUSE_POLL_MS", Reason: "must be greater than 0"}
	}
	if c.Display.PlotMaxPoints <= 0 {
		return &sweep.ConfigurationError{Field: "PLOT_MAX_POINTS", Reason: "must be greater than 0"}
	}
	for _, k := range []sweep.Kind{sweep.IDVD, sweep.IDVG} {
		if _, err := c.Plan(k, nil, nil); err != nil {
			return err
		}
	}
	return nil
}

// Defaults returns the configured ranges for kind.
func (c *Config) Defaults(kind sweep.Kind) SweepDefaults {
	if kind == sweep.IDVG {
		return c.Sweep.IDVG
	}
	return c.Sweep.IDVD
}

// Plan builds a validated plan for kind, using the defaults for any axis
// that is nil.
func (c *Config) Plan(kind sweep.Kind, gate, drain *models.SweepRange) (sweep.Plan, error) {
	d := c.Defaults(kind)
	if gate == nil {
		gate = &d.Gate
	}
	if drain == nil {
		drain = &d.Drain
	}

	g, err := sweep.SpecFromRange("gate", *gate)
	if err != nil {
		return sweep.Plan{}, err
	}
	dr, err := sweep.SpecFromRange("drain", *drain)
	if err != nil {
		return sweep.Plan{}, err
	}
	plan := sweep.Plan{Kind: kind, Gate: g, Drain: dr, HoldMarkers: c.Sweep.HoldMarkers}
	if err := plan.Validate(); err != nil {
		return sweep.Plan{}, err
	}
	return plan, nil
}

// ConnectConfig returns the transport settings for instrument.Connect.
func (c *Config) ConnectConfig() instrument.ConnectConfig {
	return instrument.ConnectConfig{
		Transport:     c.Instrument.Transport,
		PrologixAddr:  c.Instrument.PrologixAddr,
		SerialPort:    c.Instrument.SerialPort,
		SerialBaud:    c.Instrument.SerialBaud,
		Timeout:       c.Instrument.Timeout,
		DrainResource: c.Instrument.DrainResource,
		GateResource:  c.Instrument.GateResource,
		DrainLimit:    c.Instrument.DrainLimit,
		GateLimit:     c.Instrument.GateLimit,
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Package config loads the rtkbridge YAML configuration.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"rtkbridge/internal/nmea"
)

// PasswordEnv overrides ntrip.password when set.
const PasswordEnv = "RTKBRIDGE_NTRIP_PASSWORD"

type Config struct {
	NTRIP     NTRIPConfig     `yaml:"ntrip"`
	Receiver  ReceiverConfig  `yaml:"receiver"`
	Fanout    FanoutConfig    `yaml:"fanout"`
	Web       WebConfig       `yaml:"web"`
	Indicator IndicatorConfig `yaml:"indicator"`
	Synthetic SyntheticConfig `yaml:"synthetic"`
	GPSD      GPSDConfig      `yaml:"gpsd"`
}

type NTRIPConfig struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	Mount     string `yaml:"mount"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	UserAgent string `yaml:"user_agent"`

	PollDelay    time.Duration `yaml:"poll_delay"`
	ReportTicks  int           `yaml:"report_ticks"`
	ChunkSize    int           `yaml:"chunk_size"`
	StopTimeout  time.Duration `yaml:"stop_timeout"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type ReceiverConfig struct {
	// Source is serial, tcp or none. With none, positions come from gpsd or
	// the synthetic generator and corrections go to the fanout only.
	Source string `yaml:"source"`
	Device string `yaml:"device"`
	Baud   int    `yaml:"baud"`
	Addr   string `yaml:"addr"`

	DialTimeout time.Duration `yaml:"dial_timeout"`

	// SentencePrefix selects which receiver lines are forwarded to the caster.
	SentencePrefix string `yaml:"sentence_prefix"`

	// InitCommands replaces the built-in command list when present. An
	// explicit empty list sends nothing.
	InitCommands []string `yaml:"init_commands"`
	ModeReset    string   `yaml:"mode_reset"`
}

type FanoutConfig struct {
	UDPDests []string `yaml:"udp_dests"`
}

type WebConfig struct {
	Enable *bool  `yaml:"enable"`
	Listen string `yaml:"listen"`
}

func (w WebConfig) Enabled() bool {
	return w.Enable == nil || *w.Enable
}

type IndicatorConfig struct {
	Enable   bool          `yaml:"enable"`
	GPIOPin  int           `yaml:"gpio_pin"`
	Interval time.Duration `yaml:"interval"`
}

// GPSDConfig takes rover positions from gpsd instead of receiver lines.
type GPSDConfig struct {
	Enable bool   `yaml:"enable"`
	Addr   string `yaml:"addr"`
}

type SyntheticConfig struct {
	Enable   bool          `yaml:"enable"`
	Interval time.Duration `yaml:"interval"`
	LatDeg   *float64      `yaml:"lat_deg"`
	LonDeg   *float64      `yaml:"lon_deg"`
	AltM     *float64      `yaml:"alt_m"`
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		if te := (*yaml.TypeError)(nil); errors.As(err, &te) {
			return Config{}, fmt.Errorf("invalid config: %s", strings.Join(te.Errors, "; "))
		}
		return Config{}, err
	}

	if pw := os.Getenv(PasswordEnv); pw != "" {
		cfg.NTRIP.Password = pw
	}

	if err := DefaultAndValidate(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// DefaultAndValidate fills defaults in place and rejects inconsistent
// settings. Error messages name the offending YAML key.
func DefaultAndValidate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	n := &cfg.NTRIP
	n.Host = strings.TrimSpace(n.Host)
	n.Mount = strings.TrimPrefix(strings.TrimSpace(n.Mount), "/")
	if n.Host == "" {
		return fmt.Errorf("ntrip.host is required")
	}
	if n.Port == 0 {
		n.Port = 2101
	}
	if n.Port < 0 || n.Port > 65535 {
		return fmt.Errorf("ntrip.port must be in [1,65535]")
	}
	if n.Mount == "" {
		return fmt.Errorf("ntrip.mount is required")
	}
	if strings.ContainsAny(n.Mount, " \r\n") {
		return fmt.Errorf("ntrip.mount must not contain whitespace")
	}
	if strings.Contains(n.Username, ":") {
		return fmt.Errorf("ntrip.username must not contain ':'")
	}
	if n.PollDelay < 0 || n.StopTimeout < 0 || n.DialTimeout < 0 || n.WriteTimeout < 0 {
		return fmt.Errorf("ntrip timeouts must be >= 0")
	}
	if n.ReportTicks < 0 {
		return fmt.Errorf("ntrip.report_ticks must be >= 0")
	}
	if n.ChunkSize < 0 {
		return fmt.Errorf("ntrip.chunk_size must be >= 0")
	}
	if n.PollDelay == 0 {
		n.PollDelay = 500 * time.Millisecond
	}
	if n.ReportTicks == 0 {
		n.ReportTicks = 30
	}
	if n.ChunkSize == 0 {
		n.ChunkSize = 1024
	}
	if n.StopTimeout == 0 {
		n.StopTimeout = 1 * time.Second
	}
	if n.DialTimeout == 0 {
		n.DialTimeout = 5 * time.Second
	}
	if n.WriteTimeout == 0 {
		n.WriteTimeout = 5 * time.Second
	}

	r := &cfg.Receiver
	r.Source = strings.ToLower(strings.TrimSpace(r.Source))
	if r.Source == "" {
		r.Source = "serial"
	}
	switch r.Source {
	case "serial":
		if strings.TrimSpace(r.Device) == "" {
			return fmt.Errorf("receiver.device is required when receiver.source is 'serial'")
		}
		if r.Baud == 0 {
			r.Baud = 115200
		}
	case "tcp":
		if strings.TrimSpace(r.Addr) == "" {
			return fmt.Errorf("receiver.addr is required when receiver.source is 'tcp'")
		}
	case "none":
		if !cfg.Synthetic.Enable && !cfg.GPSD.Enable {
			return fmt.Errorf("synthetic.enable or gpsd.enable must be true when receiver.source is 'none'")
		}
	default:
		return fmt.Errorf("receiver.source must be 'serial', 'tcp' or 'none'")
	}
	if r.DialTimeout <= 0 {
		r.DialTimeout = 5 * time.Second
	}
	if r.SentencePrefix == "" {
		r.SentencePrefix = nmea.GGAPrefix
	}
	if !strings.HasPrefix(r.SentencePrefix, "$") {
		return fmt.Errorf("receiver.sentence_prefix must start with '$'")
	}

	for i, d := range cfg.Fanout.UDPDests {
		d = strings.TrimSpace(d)
		if d == "" {
			return fmt.Errorf("fanout.udp_dests[%d] must not be empty", i)
		}
		cfg.Fanout.UDPDests[i] = d
	}

	if strings.TrimSpace(cfg.Web.Listen) == "" {
		cfg.Web.Listen = ":8080"
	}

	if cfg.Indicator.GPIOPin == 0 {
		cfg.Indicator.GPIOPin = 17
	}
	if cfg.Indicator.GPIOPin < 0 {
		return fmt.Errorf("indicator.gpio_pin must be > 0")
	}
	if cfg.Indicator.Interval <= 0 {
		cfg.Indicator.Interval = 500 * time.Millisecond
	}

	if cfg.Synthetic.Enable && cfg.GPSD.Enable {
		return fmt.Errorf("synthetic.enable and gpsd.enable cannot both be true")
	}
	if strings.TrimSpace(cfg.GPSD.Addr) == "" {
		cfg.GPSD.Addr = "127.0.0.1:2947"
	}

	s := &cfg.Synthetic
	if s.Interval <= 0 {
		s.Interval = 1 * time.Second
	}
	if s.LatDeg == nil {
		v := nmea.DefaultSyntheticLat
		s.LatDeg = &v
	}
	if s.LonDeg == nil {
		v := nmea.DefaultSyntheticLon
		s.LonDeg = &v
	}
	if s.AltM == nil {
		v := nmea.DefaultSyntheticAlt
		s.AltM = &v
	}
	if *s.LatDeg < -90 || *s.LatDeg > 90 {
		return fmt.Errorf("synthetic.lat_deg must be in [-90,90]")
	}
	if *s.LonDeg < -180 || *s.LonDeg > 180 {
		return fmt.Errorf("synthetic.lon_deg must be in [-180,180]")
	}

	return nil
}

package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

const envPrefix = "WEBSSH"

const minTranscriptBytes = 1024

// Host key policies accepted by HOST_KEY_POLICY.
const (
	HostKeyStrict   = "strict"
	HostKeyTOFU     = "tofu"
	HostKeyInsecure = "insecure"
)

type Settings struct {
	ListenAddr   string `envconfig:"LISTEN_ADDR" default:":5001"`
	DataPath     string `envconfig:"DATA_PATH" default:"./data"`
	DatabasePath string `envconfig:"DATABASE_PATH" default:""`
	LogPath      string `envconfig:"LOG_PATH" default:""`
	ConfigFile   string `envconfig:"CONFIG_FILE" default:""`

	// SSH lifecycle
	ConnectTimeout  time.Duration `envconfig:"CONNECT_TIMEOUT" default:"10s"`
	ExecTimeout     time.Duration `envconfig:"EXEC_TIMEOUT" default:"20s"`
	IdleConnTimeout time.Duration `envconfig:"IDLE_CONN_TIMEOUT" default:"30m"`
	HostKeyPolicy   string        `envconfig:"HOST_KEY_POLICY" default:"strict"`
	KnownHostsPath  string        `envconfig:"KNOWN_HOSTS_PATH" default:""`
	MaxKeyFileBytes int64         `envconfig:"MAX_KEY_FILE_BYTES" default:"65536"`

	// Browser sessions
	SessionTTL         time.Duration `envconfig:"SESSION_TTL" default:"1h"`
	CookieSecure       bool          `envconfig:"COOKIE_SECURE" default:"false"`
	TranscriptMaxBytes int           `envconfig:"TRANSCRIPT_MAX_BYTES" default:"0"`

	AuditRetentionDays int `envconfig:"AUDIT_RETENTION_DAYS" default:"90"`
}

var Cfg Settings

func Load() {
	if err := Parse(); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
}

// Parse fills Cfg from the environment. When WEBSSH_CONFIG_FILE names a YAML
// file, its top-level keys act as defaults for the matching WEBSSH_* variables
// (connect_timeout -> WEBSSH_CONNECT_TIMEOUT); variables already set win.
func Parse() error {
	if path := os.Getenv(envPrefix + "_CONFIG_FILE"); path != "" {
		if err := applyFile(path); err != nil {
			return err
		}
	}

	var s Settings
	if err := envconfig.Process(envPrefix, &s); err != nil {
		return err
	}
	if err := s.validate(); err != nil {
		return err
	}
	s.fillPaths()
	Cfg = s
	return nil
}

func applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	values := map[string]interface{}{}
	if err := yaml.Unmarshal(data, &values); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}

	for key, v := range values {
		name := envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, "-", "_"))
		if _, set := os.LookupEnv(name); set {
			continue
		}
		var value string
		switch tv := v.(type) {
		case []interface{}:
			parts := make([]string, len(tv))
			for i, p := range tv {
				parts[i] = fmt.Sprint(p)
			}
			value = strings.Join(parts, ",")
		default:
			value = fmt.Sprint(tv)
		}
		if err := os.Setenv(name, value); err != nil {
			return fmt.Errorf("apply config key %s: %w", key, err)
		}
	}
	return nil
}

func (s *Settings) validate() error {
	switch s.HostKeyPolicy {
	case HostKeyStrict, HostKeyTOFU, HostKeyInsecure:
	default:
		return fmt.Errorf("invalid host key policy %q (want %s, %s or %s)",
			s.HostKeyPolicy, HostKeyStrict, HostKeyTOFU, HostKeyInsecure)
	}
	if s.ConnectTimeout <= 0 {
		return fmt.Errorf("connect timeout must be positive, got %s", s.ConnectTimeout)
	}
	if s.ExecTimeout <= 0 {
		return fmt.Errorf("exec timeout must be positive, got %s", s.ExecTimeout)
	}
	if s.TranscriptMaxBytes < 0 || (s.TranscriptMaxBytes > 0 && s.TranscriptMaxBytes < minTranscriptBytes) {
		return fmt.Errorf("transcript max bytes must be 0 (unbounded) or at least %d, got %d", minTranscriptBytes, s.TranscriptMaxBytes)
	}
	return nil
}

func (s *Settings) fillPaths() {
	if s.DatabasePath == "" {
		s.DatabasePath = filepath.Join(s.DataPath, "webssh.db")
	}
	if s.LogPath == "" {
		s.LogPath = filepath.Join(s.DataPath, "webssh.log")
	}
	if s.KnownHostsPath == "" {
		s.KnownHostsPath = filepath.Join(s.DataPath, "known_hosts")
	}
}

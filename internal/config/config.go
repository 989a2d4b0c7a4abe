package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/tidwall/jsonc"
)

const DefaultPath = "config.json"

type DatabaseConfig struct {
	Enabled          bool   `json:"enabled"`
	Host             string `json:"host"`
	Port             uint64 `json:"port"`
	Username         string `json:"username"`
	Password         string `json:"password"`
	Database         string `json:"database"`
	UseTLS           bool   `json:"use_tls"`
	ConnectTimeout   string `json:"connect_timeout"`
	OperationTimeout string `json:"operation_timeout"`
	Heartbeat        string `json:"heartbeat"`
	MinPoolSize      uint64 `json:"min_pool_size"`
	MaxPoolSize      uint64 `json:"max_pool_size"`
}

type RelayConfig struct {
	Listen          string `json:"listen"`
	FetchTimeout    string `json:"fetch_timeout"`
	SessionTTL      string `json:"session_ttl"`
	SweepInterval   string `json:"sweep_interval"`
	RetiredCapacity int    `json:"retired_capacity"`
	MaxBodyBytes    int64  `json:"max_body_bytes"`
}

type PeerConfig struct {
	SignalingURL    string   `json:"signaling_url"`
	ICEServers      []string `json:"ice_servers"`
	RequestTimeout  string   `json:"request_timeout"`
	GatherTimeout   string   `json:"gather_timeout"`
	SendInterval    string   `json:"send_interval"`
	ChannelLabel    string   `json:"channel_label"`
	IncludeLoopback bool     `json:"include_loopback"`
}

type ActuationConfig struct {
	DebounceWindow string  `json:"debounce_window"`
	PressThreshold float64 `json:"press_threshold"`
	Profile        string  `json:"profile"`
}

type Config struct {
	Database  DatabaseConfig  `json:"database"`
	Relay     RelayConfig     `json:"relay"`
	Peer      PeerConfig      `json:"peer"`
	Actuation ActuationConfig `json:"actuation"`
	DebugMode bool            `json:"debug_mode"`
	AppName   string          `json:"app_name"`
	LogDir    string          `json:"log_dir"`
}

var (
	config      = Default()
	initialized = false
	mu          sync.Mutex
)

// Default returns the configuration written to disk when no config file exists.
func Default() Config {
	return Config{
		Database: DatabaseConfig{
			Enabled:          false,
			Host:             "localhost",
			Port:             27017,
			Database:         "padlink",
			ConnectTimeout:   "10s",
			OperationTimeout: "5s",
			Heartbeat:        "15s",
			MinPoolSize:      1,
			MaxPoolSize:      10,
		},
		Relay: RelayConfig{
			Listen:          ":8080",
			FetchTimeout:    "30s",
			SessionTTL:      "10m",
			SweepInterval:   "30s",
			RetiredCapacity: 4096,
			MaxBodyBytes:    1 << 20,
		},
		Peer: PeerConfig{
			SignalingURL:   "http://localhost:8080",
			ICEServers:     []string{"stun:stun.l.google.com:19302"},
			RequestTimeout: "45s",
			GatherTimeout:  "10s",
			SendInterval:   "10ms",
			ChannelLabel:   "gamepad",
		},
		Actuation: ActuationConfig{
			DebounceWindow: "50ms",
			PressThreshold: 0.5,
		},
		AppName: "padlink",
		LogDir:  "logs",
	}
}

func ReadConfig() (Config, error) {
	return ReadConfigFrom(DefaultPath)
}

// ReadConfigFrom loads path into the process-wide configuration. Comments
// and trailing commas are allowed. A missing file is created with default
// values and reported as an error so the operator can edit it first.
func ReadConfigFrom(path string) (Config, error) {
	mu.Lock()
	defer mu.Unlock()

	bytes, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return config, fmt.Errorf("reading configuration file %s: %w", path, err)
		}
		data, _ := json.MarshalIndent(Default(), "", "\t")
		if err := os.WriteFile(path, data, 0644); err != nil {
			return config, fmt.Errorf("creating configuration file %s: %w", path, err)
		}
		return config, errors.New("the configuration file does not exist and has been created. Please try again after editing the configuration file")
	}

	loaded := Default()
	if err := json.Unmarshal(jsonc.ToJSON(bytes), &loaded); err != nil {
		return config, errors.New("the configuration file does not contain valid JSON")
	}

	config = loaded
	initialized = true
	return config, nil
}

func GetConfig() (Config, error) {
	mu.Lock()
	if initialized {
		defer mu.Unlock()
		return config, nil
	}
	mu.Unlock()
	return ReadConfig()
}

package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/horgh/config"
	"github.com/pkg/errors"
)

// Config holds a server's configuration. The core only ever reads it
// (built once at startup by LoadConfig); nothing under this package writes
// it back out, matching §6's read-only conf()/conn() contract.
type Config struct {
	ListenHost string
	ListenPort string
	ServerName string
	ServerInfo string
	Version    string

	CreatedDate string
	MOTD        string

	MaxNickLength int

	// Period of time to wait before waking the server up (maximum).
	WakeupTime time.Duration

	// Period of time a client can be idle before we send it a PING.
	PingTime time.Duration

	// Period of time a client can be idle before we consider it dead.
	DeadTime time.Duration

	// Oper name to password.
	Opers map[string]string

	// TS6 SID. Must be unique in the network. Format: [0-9][A-Z0-9]{2}.
	TS6SID string

	// Connect blocks authorizing inbound/outbound server links, by server
	// name.
	Connects map[string]*ConnectBlock

	// Path to the YAML umode/cmode letter-table fixtures (§4.E/§4.F).
	ModeTablePath string

	RateLimit *ConnRateLimiterConfig

	// Whether to emulate CHGHOST with QUIT+JOIN+MODE for peers lacking the
	// chghost capability (§4.D "Mask change").
	ChghostEmulation bool
}

// ConnectBlock is a connect-block authorizing a server link, consumed via
// conn(server_name, key) per §6.
type ConnectBlock struct {
	Name              string
	Address           string
	SendPassword      string
	ReceivePassword   string
	PasswordAlgorithm string // "plain" or "bcrypt"
	AutoConnect       bool
}

// ConnRateLimiterConfig configures the per-connection command token bucket
// (golang.org/x/time/rate) that gates frame processing both during
// registration and post-registration dispatch.
type ConnRateLimiterConfig struct {
	// Sustained messages per second.
	Rate float64
	// Burst size (messages that may be processed back to back).
	Burst int
}

// LoadConfig reads and validates a flat key/value configuration file using
// the teacher's own config-reading library, matching the out-of-scope
// "configuration file parsing" collaborator named in §1: the core never
// parses files itself, only typed values handed to it by this loader.
func LoadConfig(file string) (*Config, error) {
	configMap, err := config.ReadStringMap(file)
	if err != nil {
		return nil, errors.Wrap(err, "unable to read configuration file")
	}

	requiredKeys := []string{
		"listen-host",
		"listen-port",
		"server-name",
		"server-info",
		"version",
		"created-date",
		"motd",
		"max-nick-length",
		"wakeup-time",
		"ping-time",
		"dead-time",
		"opers-config",
		"ts6-sid",
	}

	for _, key := range requiredKeys {
		v, exists := configMap[key]
		if !exists {
			return nil, fmt.Errorf("missing required key: %s", key)
		}
		if len(v) == 0 {
			return nil, fmt.Errorf("configuration value is blank: %s", key)
		}
	}

	cfg := &Config{
		ListenHost:  configMap["listen-host"],
		ListenPort:  configMap["listen-port"],
		ServerName:  configMap["server-name"],
		ServerInfo:  configMap["server-info"],
		Version:     configMap["version"],
		CreatedDate: configMap["created-date"],
		MOTD:        configMap["motd"],
		Connects:    make(map[string]*ConnectBlock),
	}

	nickLen64, err := strconv.ParseInt(configMap["max-nick-length"], 10, 8)
	if err != nil {
		return nil, errors.Wrap(err, "max-nick-length is not valid")
	}
	cfg.MaxNickLength = int(nickLen64)

	cfg.WakeupTime, err = time.ParseDuration(configMap["wakeup-time"])
	if err != nil {
		return nil, errors.Wrap(err, "wakeup-time is in invalid format")
	}

	cfg.PingTime, err = time.ParseDuration(configMap["ping-time"])
	if err != nil {
		return nil, errors.Wrap(err, "ping-time is in invalid format")
	}

	cfg.DeadTime, err = time.ParseDuration(configMap["dead-time"])
	if err != nil {
		return nil, errors.Wrap(err, "dead-time is in invalid format")
	}

	opers, err := config.ReadStringMap(configMap["opers-config"])
	if err != nil {
		return nil, errors.Wrap(err, "unable to load opers config")
	}
	cfg.Opers = opers

	if !isValidSID(configMap["ts6-sid"]) {
		return nil, fmt.Errorf("ts6-sid is in invalid format")
	}
	cfg.TS6SID = configMap["ts6-sid"]

	if connectsFile, exists := configMap["connects-config"]; exists && connectsFile != "" {
		connects, err := loadConnectBlocks(connectsFile)
		if err != nil {
			return nil, errors.Wrap(err, "unable to load connects config")
		}
		cfg.Connects = connects
	}

	cfg.ModeTablePath = configMap["mode-table-config"]

	cfg.RateLimit = &ConnRateLimiterConfig{Rate: 10, Burst: 20}
	if v, exists := configMap["rate-limit-per-second"]; exists && v != "" {
		rate, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, errors.Wrap(err, "rate-limit-per-second is not valid")
		}
		cfg.RateLimit.Rate = rate
	}
	if v, exists := configMap["rate-limit-burst"]; exists && v != "" {
		burst, err := strconv.ParseInt(v, 10, 32)
		if err != nil {
			return nil, errors.Wrap(err, "rate-limit-burst is not valid")
		}
		cfg.RateLimit.Burst = int(burst)
	}

	cfg.ChghostEmulation = configMap["chghost-emulation"] != "false"

	return cfg, nil
}

// loadConnectBlocks reads a secondary flat key/value file describing
// connect blocks, one server name's fields flattened with a
// "<name>.<field>" key prefix (the same flattening style the teacher uses
// for its opers-config sub-file).
func loadConnectBlocks(file string) (map[string]*ConnectBlock, error) {
	raw, err := config.ReadStringMap(file)
	if err != nil {
		return nil, err
	}

	blocks := make(map[string]*ConnectBlock)
	for key, value := range raw {
		name, field, err := splitConnectKey(key)
		if err != nil {
			continue
		}

		block, exists := blocks[name]
		if !exists {
			block = &ConnectBlock{Name: name}
			blocks[name] = block
		}

		switch field {
		case "address":
			block.Address = value
		case "send-password":
			block.SendPassword = value
		case "receive-password":
			block.ReceivePassword = value
		case "password-algorithm":
			block.PasswordAlgorithm = value
		case "auto-connect":
			block.AutoConnect = value == "true"
		}
	}

	return blocks, nil
}

func splitConnectKey(key string) (name, field string, err error) {
	for i := len(key) - 1; i >= 0; i-- {
		if key[i] == '.' {
			return key[:i], key[i+1:], nil
		}
	}
	return "", "", fmt.Errorf("malformed connect key: %s", key)
}

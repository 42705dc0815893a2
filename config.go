package main

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/horgh/config"
	"github.com/pkg/errors"
)

// LinkInfo describes a configured S2S peer: password, host/port to dial (if
// we initiate), and a name used for display/logging.
type LinkInfo struct {
	Pass     string
	Hostname string
	Port     int
	Name     string
}

// Config holds a server's configuration.
type Config struct {
	ListenHost  string
	ListenPort  string
	ServerName  string
	ServerInfo  string
	Network     string
	Version     string
	CreatedDate string
	MOTD        string

	TLSCertFile string
	TLSKeyFile  string

	MaxNickLength int

	// Period of time to wait before waking server up (maximum).
	WakeupTime time.Duration

	// Period of time a client can be idle before we send it a PING.
	PingTime time.Duration

	// Period of time a client can be idle before we consider it dead.
	DeadTime time.Duration

	// S2S links use a separate, typically larger timeout (SPEC_FULL.md §5).
	ServerPingTime time.Duration
	ServerDeadTime time.Duration

	// Dial timeout for an outbound server connection attempt.
	ConnectAttemptTime time.Duration

	// Oper name to password.
	Opers map[string]string

	// SASL account name to password. Optional -- if empty, SASL PLAIN/SCRAM
	// fail closed (see Catbox.accounts).
	Accounts map[string]string

	// Configured peers, by server name.
	Servers map[string]LinkInfo

	// Static K-lines loaded at startup, in addition to any added at runtime
	// via KLINE.
	KLines []ServerBan

	// TS6 SID. Must be unique in the network. Format: [0-9][A-Z0-9]{2}
	TS6SID string

	// Shown by ADMIN. All optional; blank lines are simply blank in the reply.
	AdminName     string
	AdminLocation string
	AdminEmail    string

	// CommandRateLimit/CommandRateWindow bound how many commands a single
	// connection may send per rolling window before it is disconnected for
	// flooding the server. See policy.go's checkCommandRate.
	CommandRateLimit  int
	CommandRateWindow time.Duration
}

var sidFormatRE = regexp.MustCompile(`^[0-9][0-9A-Z]{2}$`)

// loadConfig reads and validates the configuration file. This generalizes
// teacher's checkAndParseConfig (formerly a *Server method) into a free
// function returning a *Config, and extends it with the S2S link table,
// oper-ping/dead timers, and TLS cert paths SPEC_FULL.md requires.
func loadConfig(file string) (*Config, error) {
	configMap, err := config.ReadStringMap(file)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to read config: %s", file)
	}

	requiredKeys := []string{
		"listen-host",
		"listen-port",
		"server-name",
		"server-info",
		"network",
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

	cfg := &Config{}

	cfg.ListenHost = configMap["listen-host"]
	cfg.ListenPort = configMap["listen-port"]
	cfg.ServerName = configMap["server-name"]
	cfg.ServerInfo = configMap["server-info"]
	cfg.Network = configMap["network"]
	cfg.Version = configMap["version"]
	cfg.CreatedDate = configMap["created-date"]
	cfg.MOTD = configMap["motd"]
	cfg.TLSCertFile = configMap["tls-cert-file"]
	cfg.TLSKeyFile = configMap["tls-key-file"]

	nickLen64, err := strconv.ParseInt(configMap["max-nick-length"], 10, 8)
	if err != nil {
		return nil, errors.Wrap(err, "max nick length is not valid")
	}
	cfg.MaxNickLength = int(nickLen64)

	cfg.WakeupTime, err = time.ParseDuration(configMap["wakeup-time"])
	if err != nil {
		return nil, errors.Wrap(err, "wakeup time is in invalid format")
	}

	cfg.PingTime, err = time.ParseDuration(configMap["ping-time"])
	if err != nil {
		return nil, errors.Wrap(err, "ping time is in invalid format")
	}

	cfg.DeadTime, err = time.ParseDuration(configMap["dead-time"])
	if err != nil {
		return nil, errors.Wrap(err, "dead time is in invalid format")
	}

	cfg.ServerPingTime = cfg.PingTime * 4
	if v, ok := configMap["server-ping-time"]; ok && v != "" {
		cfg.ServerPingTime, err = time.ParseDuration(v)
		if err != nil {
			return nil, errors.Wrap(err, "server ping time is in invalid format")
		}
	}

	cfg.ServerDeadTime = cfg.DeadTime * 4
	if v, ok := configMap["server-dead-time"]; ok && v != "" {
		cfg.ServerDeadTime, err = time.ParseDuration(v)
		if err != nil {
			return nil, errors.Wrap(err, "server dead time is in invalid format")
		}
	}

	cfg.ConnectAttemptTime = 60 * time.Second
	if v, ok := configMap["connect-attempt-time"]; ok && v != "" {
		cfg.ConnectAttemptTime, err = time.ParseDuration(v)
		if err != nil {
			return nil, errors.Wrap(err, "connect attempt time is in invalid format")
		}
	}

	opers, err := config.ReadStringMap(configMap["opers-config"])
	if err != nil {
		return nil, errors.Wrap(err, "unable to load opers config")
	}
	cfg.Opers = opers

	cfg.Accounts = map[string]string{}
	if path, ok := configMap["accounts-config"]; ok && path != "" {
		accounts, err := config.ReadStringMap(path)
		if err != nil {
			return nil, errors.Wrap(err, "unable to load accounts config")
		}
		cfg.Accounts = accounts
	}

	cfg.Servers = map[string]LinkInfo{}
	if path, ok := configMap["servers-config"]; ok && path != "" {
		serversMap, err := config.ReadStringMap(path)
		if err != nil {
			return nil, errors.Wrap(err, "unable to load servers config")
		}
		for name, raw := range serversMap {
			link, err := parseLinkInfo(name, raw)
			if err != nil {
				return nil, errors.Wrapf(err, "invalid server link config for %s", name)
			}
			cfg.Servers[name] = link
		}
	}

	if path, ok := configMap["klines-config"]; ok && path != "" {
		klinesMap, err := config.ReadStringMap(path)
		if err != nil {
			return nil, errors.Wrap(err, "unable to load klines config")
		}
		for pattern, reason := range klinesMap {
			cfg.KLines = append(cfg.KLines, ServerBan{
				Type:    BanKLine,
				Pattern: pattern,
				Reason:  reason,
				Setter:  "config",
				Created: time.Now(),
			})
		}
	}

	if !sidFormatRE.MatchString(configMap["ts6-sid"]) {
		return nil, fmt.Errorf("ts6-sid is in invalid format")
	}
	cfg.TS6SID = configMap["ts6-sid"]

	cfg.AdminName = configMap["admin-name"]
	cfg.AdminLocation = configMap["admin-location"]
	cfg.AdminEmail = configMap["admin-email"]

	cfg.CommandRateLimit = 20
	if v, ok := configMap["command-rate-limit"]; ok && v != "" {
		limit64, err := strconv.ParseInt(v, 10, 32)
		if err != nil {
			return nil, errors.Wrap(err, "command rate limit is in invalid format")
		}
		cfg.CommandRateLimit = int(limit64)
	}

	cfg.CommandRateWindow = 10 * time.Second
	if v, ok := configMap["command-rate-window"]; ok && v != "" {
		cfg.CommandRateWindow, err = time.ParseDuration(v)
		if err != nil {
			return nil, errors.Wrap(err, "command rate window is in invalid format")
		}
	}

	return cfg, nil
}

// parseLinkInfo parses a "hostname,port,pass,..." servers-config line, the
// same layout internal/catbox_test.go's writeConf already establishes:
// "%s = %s,%d,%s,0" (name = hostname,port,pass,extra).
func parseLinkInfo(name, raw string) (LinkInfo, error) {
	parts := strings.Split(raw, ",")
	if len(parts) < 3 {
		return LinkInfo{}, fmt.Errorf("malformed link info: %s", raw)
	}

	port, err := strconv.Atoi(parts[1])
	if err != nil {
		return LinkInfo{}, errors.Wrap(err, "invalid port")
	}

	return LinkInfo{
		Pass:     parts[2],
		Hostname: parts[0],
		Port:     port,
		Name:     name,
	}, nil
}

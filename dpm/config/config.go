// Package config holds the settings of a DPM node.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

var ErrInvalid = errors.New("config: invalid value")

const (
	PropertiesFile = "properties.json"
	FragmentFile   = "fragment.bin"

	envPrefix = "DPM_"
)

// Config is everything a Node needs besides the master password.
type Config struct {
	// DataDir holds the properties and fragment files.
	DataDir string

	MulticastGroup     netip.AddrPort
	MulticastInterface string
	// MulticastLoopback delivers this host's own discovery datagrams back to
	// it. Needed to run several nodes on one machine.
	MulticastLoopback bool

	ListenHost      string
	DiscoveryWindow time.Duration

	ConnectTimeout   time.Duration
	HandshakeTimeout time.Duration
	TransferTimeout  time.Duration
	AcceptTimeout    time.Duration

	LogLevel zerolog.Level
}

// Default returns the stock settings, with data kept under the user's
// config directory.
func Default() Config {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return Config{
		DataDir:          filepath.Join(dir, "dpm"),
		MulticastGroup:   netip.MustParseAddrPort("232.0.0.0:35587"),
		ListenHost:       "0.0.0.0",
		DiscoveryWindow:  2 * time.Second,
		ConnectTimeout:   2 * time.Second,
		HandshakeTimeout: 3 * time.Second,
		TransferTimeout:  10 * time.Second,
		AcceptTimeout:    10 * time.Second,
		LogLevel:         zerolog.InfoLevel,
	}
}

// FromEnv returns Default overridden by DPM_* environment variables.
func FromEnv() (Config, error) {
	c := Default()
	err := c.applyEnv(os.LookupEnv)
	return c, err
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	var errs []error
	str := func(name string, dst *string) {
		if v, ok := lookup(envPrefix + name); ok {
			*dst = v
		}
	}
	dur := func(name string, dst *time.Duration) {
		v, ok := lookup(envPrefix + name)
		if !ok {
			return
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, name, err))
			return
		}
		*dst = d
	}

	str("DATA_DIR", &c.DataDir)
	str("MULTICAST_INTERFACE", &c.MulticastInterface)
	str("LISTEN_HOST", &c.ListenHost)
	if v, ok := lookup(envPrefix + "MULTICAST_GROUP"); ok {
		ap, err := netip.ParseAddrPort(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sMULTICAST_GROUP: %w", envPrefix, err))
		} else {
			c.MulticastGroup = ap
		}
	}
	if v, ok := lookup(envPrefix + "MULTICAST_LOOPBACK"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sMULTICAST_LOOPBACK: %w", envPrefix, err))
		} else {
			c.MulticastLoopback = b
		}
	}
	dur("DISCOVERY_WINDOW", &c.DiscoveryWindow)
	dur("CONNECT_TIMEOUT", &c.ConnectTimeout)
	dur("HANDSHAKE_TIMEOUT", &c.HandshakeTimeout)
	dur("TRANSFER_TIMEOUT", &c.TransferTimeout)
	dur("ACCEPT_TIMEOUT", &c.AcceptTimeout)
	if v, ok := lookup(envPrefix + "LOG_LEVEL"); ok {
		lvl, err := zerolog.ParseLevel(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sLOG_LEVEL: %w", envPrefix, err))
		} else {
			c.LogLevel = lvl
		}
	}
	return errors.Join(errs...)
}

func (c Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("%w: empty data dir", ErrInvalid)
	}
	if !c.MulticastGroup.Addr().Is4() || !c.MulticastGroup.Addr().IsMulticast() || c.MulticastGroup.Port() == 0 {
		return fmt.Errorf("%w: multicast group %s", ErrInvalid, c.MulticastGroup)
	}
	if _, err := netip.ParseAddr(c.ListenHost); err != nil {
		return fmt.Errorf("%w: listen host %q", ErrInvalid, c.ListenHost)
	}
	for name, d := range map[string]time.Duration{
		"discovery window":  c.DiscoveryWindow,
		"connect timeout":   c.ConnectTimeout,
		"handshake timeout": c.HandshakeTimeout,
		"transfer timeout":  c.TransferTimeout,
		"accept timeout":    c.AcceptTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%w: %s must be positive", ErrInvalid, name)
		}
	}
	return nil
}

func (c Config) PropertiesPath() string { return filepath.Join(c.DataDir, PropertiesFile) }

func (c Config) FragmentPath() string { return filepath.Join(c.DataDir, FragmentFile) }

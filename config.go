package osdc

import (
	"encoding/hex"
	"time"

	"gopkg.in/ini.v1"
)

// Config holds the client-wide tunables, loaded the way pkg/od/parser.go
// loads an EDS file: an ini.v1-backed file with explicit defaults
// filled in for anything the file omits.
type Config struct {
	// OSDTimeout is the per-request deadline and the timer tick
	// interval (spec §5's osd_timeout).
	OSDTimeout time.Duration

	// ReqPoolSize is the capacity of the bounded preallocated request
	// pool (spec §5) that NewRequest draws from when UsePool is set.
	// WritePages's nofail flag does not select the pool.
	ReqPoolSize int

	// Fsid is the cluster-wide identifier checked against incoming
	// map updates.
	Fsid [16]byte

	// ClientInc identifies this client instance across reconnects.
	ClientInc uint32

	// MonAddr is the address of the monitor the client would request
	// fresher maps from. It is loaded from the config file; nothing in
	// this module reads it, since the real monitor session protocol is
	// out of scope.
	MonAddr string
}

// DefaultConfig returns the baseline tunables.
func DefaultConfig() *Config {
	return &Config{
		OSDTimeout:  30 * time.Second,
		ReqPoolSize: 10,
		ClientInc:   1,
	}
}

// LoadConfig reads an ini file, overlaying it on DefaultConfig.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	f, err := ini.Load(path)
	if err != nil {
		return nil, err
	}
	sec := f.Section("client")

	if k := sec.Key("osd_timeout_seconds"); k.String() != "" {
		secs, err := k.Int()
		if err != nil {
			return nil, err
		}
		cfg.OSDTimeout = time.Duration(secs) * time.Second
	}
	if k := sec.Key("req_pool_size"); k.String() != "" {
		n, err := k.Int()
		if err != nil {
			return nil, err
		}
		cfg.ReqPoolSize = n
	}
	if k := sec.Key("client_inc"); k.String() != "" {
		n, err := k.Uint()
		if err != nil {
			return nil, err
		}
		cfg.ClientInc = uint32(n)
	}
	if k := sec.Key("fsid"); k.String() != "" {
		raw, err := hex.DecodeString(k.String())
		if err != nil {
			return nil, err
		}
		copy(cfg.Fsid[:], raw)
	}
	if k := sec.Key("mon_addr"); k.String() != "" {
		cfg.MonAddr = k.String()
	}
	return cfg, nil
}

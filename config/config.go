// Package config resolves node/relay configuration from the environment
// once at process start and threads it through as an explicit value.
package config

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the process-wide configuration, resolved once in main() and
// passed down to constructors explicitly rather than read from globals.
type Config struct {
	// StorageDir is the keyshare store's node-local directory root.
	StorageDir string
	// NATSAddress is the bus URL. The field name keeps the original
	// system's vocabulary even though this module's default transport is
	// in-process; a NATS-backed bus.Conn can be dialed against it.
	NATSAddress string
	// BusUser and BusPassword authenticate to the bus. Never hardcode
	// these: they are deliberately absent unless set in the environment.
	BusUser     string
	BusPassword string

	// LogLevel is passed to log.SetLogLevel("*", ...) at startup ("debug",
	// "info", "warn", "error").
	LogLevel string

	// RelayDBPath is the bbolt file backing the delivery relay's queue
	// of undelivered NodeUpdateData rows.
	RelayDBPath string

	// AuditLogDir is the directory the audit log writes its monthly
	// message-log files into.
	AuditLogDir string

	// JoinTimeout and RoundTimeout bound the session orchestrator's join
	// barrier and per-round collect phases (spec §4.2).
	JoinTimeout  time.Duration
	RoundTimeout time.Duration

	// IdentityPrivateKey is this node's provisioned X25519 static private
	// key (spec §3: NodeIdentity "assigned at node provisioning"), used
	// to open ring-exchange pieces sealed to it (spec.md §4.4 step 3). 32
	// bytes, hex-encoded in IDENTITY_PRIVATE_KEY. Empty when unset, in
	// which case the node mints an ephemeral keypair at startup.
	IdentityPrivateKey []byte

	// PeerPublicKeys is the federation's provisioned directory of peer
	// X25519 public keys, keyed by party index (spec §3's NodeIdentity
	// directory), loaded from the PEER_PUBLIC_KEYS JSON object
	// (party-index-string -> hex-encoded public key).
	PeerPublicKeys map[int][]byte
}

// FromEnv resolves a Config from the process environment, applying the
// same defaults as the original system (STORAGE_DIR defaults to
// "./node", NATS_ADDRESS to the staging cluster address).
func FromEnv() Config {
	return Config{
		StorageDir:   envDefault("STORAGE_DIR", "./node"),
		NATSAddress:  envDefault("NATS_ADDRESS", "nats://stagingnats.gridlock.network:4222"),
		BusUser:      os.Getenv("NATS_USER"),
		BusPassword:  os.Getenv("NATS_PASSWORD"),
		LogLevel:     envDefault("LOG_LEVEL", "info"),
		RelayDBPath:  envDefault("RELAY_DB_PATH", "./relay/updates.db"),
		AuditLogDir:  envDefault("AUDIT_LOG_DIR", "./auditlog"),
		JoinTimeout:  envDuration("JOIN_TIMEOUT", 6*time.Second),
		RoundTimeout: envDuration("ROUND_TIMEOUT", 8*time.Second),

		IdentityPrivateKey: mustHex("IDENTITY_PRIVATE_KEY"),
		PeerPublicKeys:     mustPeerPublicKeys("PEER_PUBLIC_KEYS"),
	}
}

// mustHex decodes the named environment variable as hex, returning nil
// if it is unset. A malformed value is a provisioning error, so it
// panics rather than silently running with no identity.
func mustHex(name string) []byte {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	b, err := hex.DecodeString(v)
	if err != nil {
		panic(fmt.Sprintf("config: %s is not valid hex: %v", name, err))
	}
	return b
}

// mustPeerPublicKeys decodes the named environment variable as a JSON
// object mapping party-index strings to hex-encoded public keys.
func mustPeerPublicKeys(name string) map[int][]byte {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	var raw map[string]string
	if err := json.Unmarshal([]byte(v), &raw); err != nil {
		panic(fmt.Sprintf("config: %s is not valid JSON: %v", name, err))
	}
	out := make(map[int][]byte, len(raw))
	for k, hexVal := range raw {
		idx, err := strconv.Atoi(k)
		if err != nil {
			panic(fmt.Sprintf("config: %s has non-integer party index %q: %v", name, k, err))
		}
		b, err := hex.DecodeString(hexVal)
		if err != nil {
			panic(fmt.Sprintf("config: %s has invalid hex for party %q: %v", name, k, err))
		}
		out[idx] = b
	}
	return out
}

func envDefault(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}

func envDuration(name string, def time.Duration) time.Duration {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	if ms, err := strconv.Atoi(v); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	return def
}

// EnsureStorageDir creates the storage directory if it does not exist.
func (c Config) EnsureStorageDir() error {
	return os.MkdirAll(c.StorageDir, 0o700)
}

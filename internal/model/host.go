// Package model holds the data shared between the selector and the
// execution engine: host records, label maps and result records.
package model

import "fmt"

// Labels is a host's opaque string-to-string tag map. Label names are
// identifiers; values are uninterpreted except where the label predicate
// evaluator coerces them to integers.
type Labels map[string]string

// Host is an immutable, per-host endpoint description. It is constructed
// once (by the inventory loader or by a caller) and shared read-only
// across every concurrent task the scheduler spawns for it.
type Host struct {
	// Name is the display name. Empty means "derive from user@host:port"
	// at access time via DisplayName.
	Name string

	Address  string
	Port     int
	Username string

	Password         string
	PrivateKey       []byte
	PrivateKeyPath   string
	PrivateKeyPhrase string

	Sudo         bool
	SudoPassword string

	ConnectTimeoutSeconds float64
	CommandTimeoutSeconds float64

	Env    map[string]string
	Labels Labels
}

// DisplayName returns Name if set, else "user@host:port".
func (h Host) DisplayName() string {
	if h.Name != "" {
		return h.Name
	}
	user := h.Username
	if user == "" {
		user = "root"
	}
	port := h.Port
	if port == 0 {
		port = 22
	}
	return fmt.Sprintf("%s@%s:%d", user, h.Address, port)
}

// EffectivePort returns Port, defaulting to 22.
func (h Host) EffectivePort() int {
	if h.Port == 0 {
		return 22
	}
	return h.Port
}

// EffectiveConnectTimeout returns ConnectTimeoutSeconds, defaulting to 10s.
func (h Host) EffectiveConnectTimeout() float64 {
	if h.ConnectTimeoutSeconds <= 0 {
		return 10
	}
	return h.ConnectTimeoutSeconds
}

// EffectiveCommandTimeout returns CommandTimeoutSeconds, defaulting to 30s.
func (h Host) EffectiveCommandTimeout() float64 {
	if h.CommandTimeoutSeconds <= 0 {
		return 30
	}
	return h.CommandTimeoutSeconds
}

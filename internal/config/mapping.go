// Package config builds an AppOption from a YAML config file, which when
// given overrides everything else, or otherwise from environment
// variables overridden by CLI flags.
package config

import "strings"

// MappingConfig describes one proxied service: a public listen address on
// the server side and the forward target the client dials on the private
// side. Mode is an annotation only -- the core proxies raw TCP regardless
// of its value.
type MappingConfig struct {
	Name    string     `json:"name" yaml:"name"`
	Mode    string     `json:"mode" yaml:"mode"`
	Client  string     `json:"client,omitempty" yaml:"client,omitempty"`
	Listen  string     `json:"listen,omitempty" yaml:"listen,omitempty"`
	Forward string     `json:"forward,omitempty" yaml:"forward,omitempty"`
	Headers [][]string `json:"headers,omitempty" yaml:"headers,omitempty"`
}

// IsHTTP reports whether Mode is "http" (case-insensitive). Informational
// only; never consulted to change proxying behavior.
func (m *MappingConfig) IsHTTP() bool {
	return strings.EqualFold(m.Mode, "http")
}

// IsHTTPS reports whether Mode is "https" (case-insensitive).
func (m *MappingConfig) IsHTTPS() bool {
	return strings.EqualFold(m.Mode, "https")
}

// IsTCP reports whether Mode is "tcp" (case-insensitive).
func (m *MappingConfig) IsTCP() bool {
	return strings.EqualFold(m.Mode, "tcp")
}

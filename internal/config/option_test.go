package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultValues(t *testing.T) {
	opt := Default()
	if opt.Role != "server" {
		t.Errorf("Role = %q, want server", opt.Role)
	}
	if opt.SignalPort != defaultSignalPort || opt.DataPort != defaultDataPort {
		t.Errorf("ports = %d/%d, want %d/%d", opt.SignalPort, opt.DataPort, defaultSignalPort, defaultDataPort)
	}
}

func TestParseArgsFlagsOverrideDefaults(t *testing.T) {
	opt, err := ParseArgs([]string{"-R", "client", "-S", "1.2.3.4", "--signal-port", "9001"})
	if err != nil {
		t.Fatal(err)
	}
	if opt.Role != "client" {
		t.Errorf("Role = %q, want client", opt.Role)
	}
	if opt.Server != "1.2.3.4" {
		t.Errorf("Server = %q, want 1.2.3.4", opt.Server)
	}
	if opt.SignalPort != 9001 {
		t.Errorf("SignalPort = %d, want 9001", opt.SignalPort)
	}
	if opt.DataPort != defaultDataPort {
		t.Errorf("DataPort = %d, want default %d", opt.DataPort, defaultDataPort)
	}
}

func TestParseArgsEnvAppliedBeforeFlags(t *testing.T) {
	t.Setenv("NATPROXY_ROLE", "client")
	t.Setenv("NATPROXY_LOG_LEVEL", "debug")

	opt, err := ParseArgs([]string{"--log", "trace"})
	if err != nil {
		t.Fatal(err)
	}
	if opt.Role != "client" {
		t.Errorf("Role = %q, want client from env", opt.Role)
	}
	if opt.LogLevel != "trace" {
		t.Errorf("LogLevel = %q, want trace (flag overrides env)", opt.LogLevel)
	}
}

func TestParseArgsConfigFileOverridesEverything(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "natproxy.yaml")
	yamlBody := []byte(`
role: server
listen: 127.0.0.1
signal_port: 7001
data_port: 7002
ca_cert: ca.pem
cert: cert.pem
key: key.pem
mappings:
  - name: ssh
    mode: tcp
    listen: "0.0.0.0:2222"
    forward: "10.0.0.5:22"
`)
	if err := os.WriteFile(path, yamlBody, 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("NATPROXY_ROLE", "client")

	opt, err := ParseArgs([]string{"-c", path, "-R", "client"})
	if err != nil {
		t.Fatal(err)
	}
	if opt.Role != "server" {
		t.Errorf("Role = %q, want server from YAML (overrides env and flags)", opt.Role)
	}
	if len(opt.Mappings) != 1 || opt.Mappings[0].Name != "ssh" {
		t.Fatalf("Mappings = %+v, want one mapping named ssh", opt.Mappings)
	}
	if !opt.Mappings[0].IsTCP() {
		t.Errorf("mapping mode = %q, want tcp", opt.Mappings[0].Mode)
	}
}

func TestParseArgsMappingsJSON(t *testing.T) {
	opt, err := ParseArgs([]string{"--mappings", `[{"name":"web","mode":"http","listen":"0.0.0.0:8080","forward":"10.0.0.2:80"}]`})
	if err != nil {
		t.Fatal(err)
	}
	if len(opt.Mappings) != 1 || opt.Mappings[0].Name != "web" {
		t.Fatalf("Mappings = %+v", opt.Mappings)
	}
	if !opt.Mappings[0].IsHTTP() {
		t.Errorf("IsHTTP() = false, want true")
	}
}

package config

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const envPrefix = "NATPROXY_"

const (
	defaultListen     = "0.0.0.0"
	defaultSignalPort = 8001
	defaultDataPort   = 8002
	defaultLogLevel   = "info"
)

// AppOption is the immutable configuration carried into a server or client
// node. See spec.md §3 and §6.
type AppOption struct {
	Role string `yaml:"role"`

	Listen     string `yaml:"listen"`
	SignalPort int    `yaml:"signal_port"`
	DataPort   int    `yaml:"data_port"`

	Server string `yaml:"server"`

	CACert string `yaml:"ca_cert"`
	Cert   string `yaml:"cert"`
	Key    string `yaml:"key"`

	LogLevel string `yaml:"log_level"`

	ProxyOn   []string `yaml:"proxy_on"`
	ProxyPass string   `yaml:"proxy_pass"`

	Mappings []MappingConfig `yaml:"mappings"`
}

// Default returns an AppOption populated with the same defaults as
// original_source/src/option.rs's Default impl.
func Default() *AppOption {
	return &AppOption{
		Role:       "server",
		Listen:     defaultListen,
		SignalPort: defaultSignalPort,
		DataPort:   defaultDataPort,
		LogLevel:   defaultLogLevel,
		ProxyOn:    []string{"tcp"},
	}
}

// flagSet holds the parsed value of every CLI flag, before it is folded into
// an AppOption. Kept separate from AppOption so ParseArgs can tell an
// explicitly-set empty string apart from "flag not passed".
type flagSet struct {
	fs *flag.FlagSet

	role       *string
	config     *string
	ca         *string
	cert       *string
	key        *string
	listen     *string
	signalPort *int
	dataPort   *int
	server     *string
	pass       *string
	log        *string
	mappings   *string
	proxyOn    *string
}

func newFlagSet(name string) *flagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	f := &flagSet{fs: fs}
	f.role = fs.String("role", "", "client, server")
	fs.StringVar(f.role, "R", "", "client, server (shorthand)")
	f.config = fs.String("config", "", "config file path (YAML)")
	fs.StringVar(f.config, "c", "", "config file path (shorthand)")
	f.ca = fs.String("ca", "", "trusted CA certificate file in PEM format")
	f.cert = fs.String("cert", "", "certificate used for mTLS between server/client nodes")
	f.key = fs.String("key", "", "certificate key")
	f.listen = fs.String("listen", "", "server bind address")
	fs.StringVar(f.listen, "L", "", "server bind address (shorthand)")
	f.signalPort = fs.Int("signal-port", 0, "server signal (control channel) port")
	f.dataPort = fs.Int("data-port", 0, "server data channel port")
	f.server = fs.String("server", "", "server address to dial")
	fs.StringVar(f.server, "S", "", "server address to dial (shorthand)")
	f.pass = fs.String("pass", "", "proxy password")
	f.log = fs.String("log", "", "log level")
	f.mappings = fs.String("mappings", "", "proxy mappings, as a JSON array")
	f.proxyOn = fs.String("proxy_on", "", "comma separated proxy enables: http,https,socks5,tcp,httpreverse")
	return f
}

// ParseArgs builds an AppOption from argv, the process environment, and
// (if -c/--config is given) a YAML file, honoring the precedence rule from
// spec.md §6: "-c YAML overrides all; otherwise, environment variables ...
// are applied, then CLI flags override env."
func ParseArgs(args []string) (*AppOption, error) {
	fs := newFlagSet("natproxy")
	if err := fs.fs.Parse(args); err != nil {
		return nil, err
	}

	if *fs.config != "" {
		return loadYAMLFile(*fs.config)
	}

	opt := Default()
	applyEnv(opt)
	applyFlags(opt, fs)
	return opt, nil
}

func loadYAMLFile(path string) (*AppOption, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("natproxy: reading config %q: %w", path, err)
	}
	opt := Default()
	if err := yaml.Unmarshal(data, opt); err != nil {
		return nil, fmt.Errorf("natproxy: parsing config %q: %w", path, err)
	}
	return opt, nil
}

func applyEnv(opt *AppOption) {
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(k, envPrefix) {
			continue
		}
		switch strings.TrimPrefix(k, envPrefix) {
		case "ROLE":
			opt.Role = v
		case "LISTEN":
			opt.Listen = v
		case "SIGNAL_PORT":
			if n, err := strconv.Atoi(v); err == nil {
				opt.SignalPort = n
			}
		case "DATA_PORT":
			if n, err := strconv.Atoi(v); err == nil {
				opt.DataPort = n
			}
		case "SERVER":
			opt.Server = v
		case "CA_CERT":
			opt.CACert = v
		case "CERT":
			opt.Cert = v
		case "KEY":
			opt.Key = v
		case "LOG_LEVEL":
			opt.LogLevel = v
		case "PASS":
			opt.ProxyPass = v
		case "MAPPINGS":
			if m, err := parseMappingsJSON(v); err == nil {
				opt.Mappings = m
			}
		}
	}
}

func applyFlags(opt *AppOption, fs *flagSet) {
	set := map[string]bool{}
	fs.fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	if set["role"] || set["R"] {
		if *fs.role != "" {
			opt.Role = *fs.role
		}
	}
	if set["listen"] || set["L"] {
		if *fs.listen != "" {
			opt.Listen = *fs.listen
		}
	}
	if set["signal-port"] {
		opt.SignalPort = *fs.signalPort
	}
	if set["data-port"] {
		opt.DataPort = *fs.dataPort
	}
	if set["server"] || set["S"] {
		if *fs.server != "" {
			opt.Server = *fs.server
		}
	}
	if set["ca"] {
		opt.CACert = *fs.ca
	}
	if set["cert"] {
		opt.Cert = *fs.cert
	}
	if set["key"] {
		opt.Key = *fs.key
	}
	if set["log"] {
		opt.LogLevel = *fs.log
	}
	if set["pass"] {
		opt.ProxyPass = *fs.pass
	}
	if set["mappings"] {
		if m, err := parseMappingsJSON(*fs.mappings); err == nil {
			opt.Mappings = m
		}
	}
	if set["proxy_on"] {
		opt.ProxyOn = strings.Split(*fs.proxyOn, ",")
	}
}

func parseMappingsJSON(s string) ([]MappingConfig, error) {
	var m []MappingConfig
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, fmt.Errorf("natproxy: parsing --mappings: %w", err)
	}
	return m, nil
}

// Usage returns the help text shown for -h/--help, in the teacher's
// terse, example-led style.
func Usage() string {
	return `
  Usage: natproxy [options]

  Options:

    -R, --role value       client, server (default "server")
    -c, --config value     config file path (YAML); overrides all other options
    --ca value              trusted CA certificate file in PEM format
    --cert value             certificate used for mTLS between server/client nodes
    --key value               certificate private key
    -L, --listen value     server bind address (default "0.0.0.0")
    --signal-port value     server control-channel port (default 8001)
    --data-port value       server data-channel port (default 8002)
    -S, --server value     server address to dial (client role)
    --pass value             proxy password
    --log value               log level: trace, debug, info, warning, error
    --mappings value         proxy mappings, as a JSON array of MappingConfig
    --proxy_on value         comma separated proxy enables: http,https,socks5,tcp,httpreverse

  Environment:
    NATPROXY_ROLE, NATPROXY_LISTEN, NATPROXY_SIGNAL_PORT, NATPROXY_DATA_PORT,
    NATPROXY_SERVER, NATPROXY_CA_CERT, NATPROXY_CERT, NATPROXY_KEY,
    NATPROXY_LOG_LEVEL, NATPROXY_PASS, NATPROXY_MAPPINGS

  Example:
    natproxy -R server --listen 0.0.0.0 --ca ca.pem --cert server.pem --key server.key \
      --mappings '[{"name":"ssh","mode":"tcp","listen":"0.0.0.0:2222","forward":""}]'
`
}

package config

import (
	"time"

	"github.com/spf13/pflag"
)

type Config struct {
	Server     Server
	Signal     Signal
	Engine     Engine
	Monitoring Monitoring
}

type Server struct {
	Address string `default:":8000"`
	Https   bool
	Tls     struct {
		Address   string `default:":443"`
		Domain    string
		HttpsKey  string
		HttpsCert string
	}
	// LockFile guards against two servers running with the same config.
	LockFile string
}

func (s *Server) GetAddr() string {
	if s.Https {
		return s.Tls.Address
	}
	return s.Address
}

type Signal struct {
	Debug   bool
	NoColor bool
	// UrlPrefix is the mount point of the call API.
	UrlPrefix       string `default:"/call"`
	MaxMessageBytes int64  `default:"65536"`
	// AllowedOrigins for websocket upgrades, any origin if empty.
	AllowedOrigins []string
	PingPong       bool `default:"true"`
}

type Monitoring struct {
	Port             int
	URLPrefix        string
	MetricEnabled    bool
	ProfilingEnabled bool
}

func (c *Monitoring) IsEnabled() bool { return c.MetricEnabled || c.ProfilingEnabled }

// Defaults returns the values of the default tags.
func Defaults() Config {
	c := Config{}
	c.Server.Address = ":8000"
	c.Server.Tls.Address = ":443"
	c.Signal.UrlPrefix = "/call"
	c.Signal.MaxMessageBytes = 65536
	c.Signal.PingPong = true
	c.Engine.Kind = EngineLoopback
	c.Engine.PliInterval = 3 * time.Second
	c.Engine.LogLevel = 2
	return c
}

// ConfigPath returns the value of the --conf flag ignoring any other flags.
func ConfigPath(args []string) string {
	fs := pflag.NewFlagSet("conf", pflag.ContinueOnError)
	fs.ParseErrorsWhitelist = pflag.ParseErrorsWhitelist{UnknownFlags: true}
	fs.Usage = func() {}
	path := fs.String("conf", "", "")
	_ = fs.Parse(args)
	return *path
}

// ParseFlags overrides already loaded values with the command line.
func (c *Config) ParseFlags(args []string) error {
	fs := pflag.NewFlagSet("groupcall", pflag.ContinueOnError)
	fs.String("conf", "", "Set custom configuration file path")
	c.WithFlags(fs)
	return fs.Parse(args)
}

func (c *Config) WithFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.Server.Address, "address", c.Server.Address, "HTTP server address (host:port)")
	fs.StringVar(&c.Server.Tls.Address, "httpsAddress", c.Server.Tls.Address, "HTTPS server address (host:port)")
	fs.StringVar(&c.Server.Tls.HttpsKey, "httpsKey", c.Server.Tls.HttpsKey, "HTTPS key")
	fs.StringVar(&c.Server.Tls.HttpsCert, "httpsCert", c.Server.Tls.HttpsCert, "HTTPS chain")
	fs.StringVar(&c.Server.LockFile, "lock", c.Server.LockFile, "Single instance lock file")
	fs.BoolVarP(&c.Signal.Debug, "debug", "d", c.Signal.Debug, "Verbose logs")
	fs.StringVar(&c.Engine.Kind, "engine", c.Engine.Kind, "Media engine (pion, loopback)")
	fs.IntVar(&c.Monitoring.Port, "monitoring.port", c.Monitoring.Port, "Monitoring server port")
}

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"jabberwocky238/jw238memmgr/cfgwatch"
	"jabberwocky238/jw238memmgr/dns"
	jwhttp "jabberwocky238/jw238memmgr/http"
	"jabberwocky238/jw238memmgr/memmgr"

	mdns "github.com/miekg/dns"
	"gopkg.in/yaml.v3"
)

func main() {
	// Parse command
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "healthcheck":
			os.Exit(0)
		case "serve":
			// Continue to serve
		case "version":
			fmt.Println("jw238memmgr v1.0.0")
			return
		default:
			fmt.Printf("Unknown command: %s\n", os.Args[1])
			fmt.Println("Available commands: serve, healthcheck, version")
			os.Exit(1)
		}
	}

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "/app/config/app.yaml"
	}

	config, err := loadConfig(configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(config.LogLevel),
	}))
	slog.SetDefault(logger)

	if err := validateConfig(config); err != nil {
		slog.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting jw238memmgr", "config", configPath)
	if err := run(config); err != nil {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Server stopped")
}

func run(config *Config) error {
	mgr := memmgr.New(memmgr.Config{
		MappedFileDir: config.Memmgr.MappedFileDir,
		LoadStep:      config.Memmgr.LoadStep,
	}, slog.Default())
	if err := mgr.Start(); err != nil {
		return fmt.Errorf("start memory manager: %w", err)
	}
	defer mgr.Stop()

	// The DNS server reads the segments the manager builds.
	zones := dns.NewZoneStore("dns")
	if err := mgr.AddReader(zones); err != nil {
		return fmt.Errorf("register dns reader: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	source, err := newConfigSource(config, mgr)
	if err != nil {
		return err
	}
	if err := source.Load(ctx); err != nil {
		return fmt.Errorf("load datasrc config: %w", err)
	}
	go func() {
		if err := source.Watch(ctx); err != nil && ctx.Err() == nil {
			slog.Error("Datasrc config watcher failed", "error", err)
		}
	}()

	frontend := dns.NewFrontend(dns.NewBackend(zones, dns.DefaultBackendConfig()))

	if config.DNS.UDPEnabled {
		udpServer := &mdns.Server{
			Addr:    config.DNS.Listen,
			Net:     "udp",
			Handler: frontend,
		}
		go func() {
			slog.Info("DNS UDP server starting", "address", config.DNS.Listen)
			if err := udpServer.ListenAndServe(); err != nil {
				slog.Error("DNS UDP server failed", "error", err)
			}
		}()
		defer udpServer.Shutdown()
	}

	if config.DNS.TCPEnabled {
		tcpServer := &mdns.Server{
			Addr:    config.DNS.Listen,
			Net:     "tcp",
			Handler: frontend,
		}
		go func() {
			slog.Info("DNS TCP server starting", "address", config.DNS.Listen)
			if err := tcpServer.ListenAndServe(); err != nil {
				slog.Error("DNS TCP server failed", "error", err)
			}
		}()
		defer tcpServer.Shutdown()
	}

	if config.HTTP.Enabled {
		authToken := ""
		if config.HTTP.Auth.Enabled && config.HTTP.Auth.TokenEnv != "" {
			authToken = os.Getenv(config.HTTP.Auth.TokenEnv)
		}
		httpSrv := jwhttp.NewServer(jwhttp.ServerConfig{
			Listen:    config.HTTP.Listen,
			AuthToken: authToken,
		}, mgr)
		go func() {
			if err := httpSrv.Start(); err != nil {
				slog.Error("HTTP management server failed", "error", err)
			}
		}()
		defer httpSrv.Shutdown()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	slog.Info("Shutting down server...")
	return nil
}

// newConfigSource picks where the data source configuration comes from.
func newConfigSource(config *Config, mgr *memmgr.Manager) (cfgwatch.Source, error) {
	switch config.Datasrc.Type {
	case "file":
		slog.Info("Watching datasrc config file", "path", config.Datasrc.File.Path)
		return cfgwatch.NewFileSource(config.Datasrc.File.Path, mgr.Reconfigure), nil
	case "configmap":
		k8sClient, err := cfgwatch.NewK8sClient()
		if err != nil {
			return nil, fmt.Errorf("create kubernetes client: %w", err)
		}
		cm := config.Datasrc.ConfigMap
		slog.Info("Watching datasrc ConfigMap", "namespace", cm.Namespace, "name", cm.Name, "key", cm.DataKey)
		return cfgwatch.NewConfigMapSource(k8sClient, cm.Namespace, cm.Name, cm.DataKey, mgr.Reconfigure), nil
	default:
		return nil, fmt.Errorf("unknown datasrc type %q", config.Datasrc.Type)
	}
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	config := defaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return config, nil
}

func defaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Memmgr: MemmgrConfig{
			MappedFileDir: "/var/lib/jw238memmgr/mapped",
		},
		Datasrc: DatasrcConfig{
			Type: "file",
			File: FileDatasrcConfig{Path: "/app/config/datasrc.yaml"},
			ConfigMap: ConfigMapDatasrcConfig{
				Namespace: "default",
				Name:      "jw238memmgr-datasrc",
				DataKey:   "datasrc.yaml",
			},
		},
		DNS: DNSConfig{Listen: ":53", UDPEnabled: true, TCPEnabled: true},
	}
}

// validateConfig validates the configuration and checks required environment variables
func validateConfig(config *Config) error {
	if config.Memmgr.MappedFileDir == "" {
		return fmt.Errorf("memmgr.mapped_file_dir is required")
	}
	if config.Memmgr.LoadStep < 0 {
		return fmt.Errorf("memmgr.load_step must not be negative")
	}

	switch config.Datasrc.Type {
	case "file":
		if config.Datasrc.File.Path == "" {
			return fmt.Errorf("datasrc.file.path is required")
		}
	case "configmap":
		cm := config.Datasrc.ConfigMap
		if cm.Namespace == "" || cm.Name == "" || cm.DataKey == "" {
			return fmt.Errorf("datasrc.configmap needs namespace, name and data_key")
		}
	default:
		return fmt.Errorf("unknown datasrc type %q", config.Datasrc.Type)
	}

	// Validate HTTP authentication
	if config.HTTP.Enabled && config.HTTP.Auth.Enabled {
		if config.HTTP.Auth.TokenEnv == "" {
			return fmt.Errorf("HTTP authentication is enabled but token_env is not configured")
		}
		token := os.Getenv(config.HTTP.Auth.TokenEnv)
		if token == "" {
			return fmt.Errorf("HTTP authentication is enabled but environment variable %s is not set or empty", config.HTTP.Auth.TokenEnv)
		}
		slog.Info("HTTP authentication validated", "token_env", config.HTTP.Auth.TokenEnv)
	}

	return nil
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config represents the application configuration
type Config struct {
	LogLevel string        `yaml:"log_level"`
	Memmgr   MemmgrConfig  `yaml:"memmgr"`
	Datasrc  DatasrcConfig `yaml:"datasrc"`
	DNS      DNSConfig     `yaml:"dns"`
	HTTP     HTTPConfig    `yaml:"http"`
}

type MemmgrConfig struct {
	MappedFileDir string `yaml:"mapped_file_dir"`
	LoadStep      int    `yaml:"load_step"`
}

type DatasrcConfig struct {
	Type      string                 `yaml:"type"`
	File      FileDatasrcConfig      `yaml:"file"`
	ConfigMap ConfigMapDatasrcConfig `yaml:"configmap"`
}

type FileDatasrcConfig struct {
	Path string `yaml:"path"`
}

type ConfigMapDatasrcConfig struct {
	Namespace string `yaml:"namespace"`
	Name      string `yaml:"name"`
	DataKey   string `yaml:"data_key"`
}

type DNSConfig struct {
	Listen     string `yaml:"listen"`
	TCPEnabled bool   `yaml:"tcp_enabled"`
	UDPEnabled bool   `yaml:"udp_enabled"`
}

type HTTPConfig struct {
	Enabled bool       `yaml:"enabled"`
	Listen  string     `yaml:"listen"`
	Auth    AuthConfig `yaml:"auth"`
}

type AuthConfig struct {
	Enabled  bool   `yaml:"enabled"`
	TokenEnv string `yaml:"token_env"`
}

package main

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.yaml")
	content := `log_level: debug
memmgr:
  mapped_file_dir: /tmp/mapped
  load_step: 50
datasrc:
  type: configmap
  configmap:
    name: zones
dns:
  listen: ":5353"
  udp_enabled: true
  tcp_enabled: false
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}
	if cfg.Memmgr.MappedFileDir != "/tmp/mapped" || cfg.Memmgr.LoadStep != 50 {
		t.Errorf("memmgr = %+v", cfg.Memmgr)
	}
	// Unset keys keep their defaults.
	if cfg.Datasrc.ConfigMap.Namespace != "default" || cfg.Datasrc.ConfigMap.DataKey != "datasrc.yaml" {
		t.Errorf("configmap = %+v", cfg.Datasrc.ConfigMap)
	}
	if cfg.Datasrc.ConfigMap.Name != "zones" || cfg.DNS.TCPEnabled {
		t.Errorf("config = %+v", cfg)
	}
	if parseLevel(cfg.LogLevel) != slog.LevelDebug {
		t.Errorf("level = %v", parseLevel(cfg.LogLevel))
	}

	if _, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("loadConfig(missing) error = nil")
	}
}

func TestValidateConfig(t *testing.T) {
	t.Setenv("MEMMGR_TEST_TOKEN", "secret")

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "no mapped dir", mutate: func(c *Config) { c.Memmgr.MappedFileDir = "" }, wantErr: true},
		{name: "negative load step", mutate: func(c *Config) { c.Memmgr.LoadStep = -1 }, wantErr: true},
		{name: "unknown datasrc type", mutate: func(c *Config) { c.Datasrc.Type = "etcd" }, wantErr: true},
		{name: "file without path", mutate: func(c *Config) { c.Datasrc.File.Path = "" }, wantErr: true},
		{name: "configmap without name", mutate: func(c *Config) {
			c.Datasrc.Type = "configmap"
			c.Datasrc.ConfigMap.Name = ""
		}, wantErr: true},
		{name: "auth without token env", mutate: func(c *Config) {
			c.HTTP = HTTPConfig{Enabled: true, Auth: AuthConfig{Enabled: true}}
		}, wantErr: true},
		{name: "auth with unset token", mutate: func(c *Config) {
			c.HTTP = HTTPConfig{Enabled: true, Auth: AuthConfig{Enabled: true, TokenEnv: "MEMMGR_TEST_UNSET"}}
		}, wantErr: true},
		{name: "auth with token", mutate: func(c *Config) {
			c.HTTP = HTTPConfig{Enabled: true, Auth: AuthConfig{Enabled: true, TokenEnv: "MEMMGR_TEST_TOKEN"}}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			if err := validateConfig(cfg); (err != nil) != tt.wantErr {
				t.Errorf("validateConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

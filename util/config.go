package util

import (
	_ "embed"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const Name = "ivory"
const ConfigFileName = "config.yaml"

//go:embed config_default.yaml
var embeddedConfig []byte

// AppConfig is read once at startup and handed to every component constructor.
type AppConfig struct {
	Conf struct {
		Host      string
		HttpPort  int    `yaml:"httpPort"`
		SslDomain string `yaml:"sslDomain"`
		WithAp    bool   `yaml:"withAp"`
		Closed    bool   `yaml:"closed"`
		Database  string `yaml:"database"`
		JwtSecret string `yaml:"jwtSecret"`
		Debug     bool   `yaml:"debug"`
	}
	Federation struct {
		KeyFetchTimeout  time.Duration `yaml:"keyFetchTimeout"`
		KeyCacheTTL      time.Duration `yaml:"keyCacheTTL"`
		MaxClockSkew     time.Duration `yaml:"maxClockSkew"`
		FanoutWorkers    int           `yaml:"fanoutWorkers"`
		DeliveryInterval time.Duration `yaml:"deliveryInterval"`
	}
	Mail struct {
		Enabled  bool   `yaml:"enabled"`
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		Username string `yaml:"username"`
		Password string `yaml:"password"`
		From     string `yaml:"from"`
	}
}

// ReadConf reads config.yaml from the working directory or the user config
// directory, falling back to the embedded defaults and writing them out.
func ReadConf() (*AppConfig, error) {
	configPath := ResolveFilePath(ConfigFileName)

	buf, err := os.ReadFile(configPath)
	if err != nil {
		log.Printf("Config file not found at %s, using embedded defaults", configPath)
		buf = embeddedConfig

		configDir, dirErr := GetConfigDir()
		if dirErr == nil {
			userConfigPath := configDir + "/" + ConfigFileName
			if writeErr := os.WriteFile(userConfigPath, embeddedConfig, 0644); writeErr != nil {
				log.Printf("Warning: could not write default config to %s: %v", userConfigPath, writeErr)
			} else {
				log.Printf("Created default config file at %s", userConfigPath)
			}
		}
	}

	return parseConf(buf)
}

// ReadConfFile reads the configuration from an explicit path.
func ReadConfFile(path string) (*AppConfig, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	return parseConf(buf)
}

func parseConf(buf []byte) (*AppConfig, error) {
	c := DefaultConf()
	if err := yaml.Unmarshal(buf, c); err != nil {
		return nil, fmt.Errorf("in config file: %w", err)
	}
	applyEnv(c)
	return c, nil
}

// DefaultConf returns the values used for anything the config file leaves out.
func DefaultConf() *AppConfig {
	c := &AppConfig{}
	c.Conf.Host = "127.0.0.1"
	c.Conf.HttpPort = 9999
	c.Conf.SslDomain = "localhost"
	c.Conf.Database = "database.db"
	c.Federation.KeyFetchTimeout = 10 * time.Second
	c.Federation.MaxClockSkew = 12 * time.Hour
	c.Federation.FanoutWorkers = 8
	c.Federation.DeliveryInterval = 10 * time.Second
	c.Mail.Port = 587
	return c
}

func applyEnv(c *AppConfig) {
	if v := os.Getenv("IVORY_HOST"); v != "" {
		c.Conf.Host = v
	}
	if v := os.Getenv("IVORY_HTTPPORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			log.Printf("Warning: ignoring IVORY_HTTPPORT=%q: %v", v, err)
		} else {
			c.Conf.HttpPort = port
		}
	}
	if v := os.Getenv("IVORY_SSLDOMAIN"); v != "" {
		c.Conf.SslDomain = v
	}
	if os.Getenv("IVORY_WITH_AP") == "true" {
		c.Conf.WithAp = true
	}
	if os.Getenv("IVORY_CLOSED") == "true" {
		c.Conf.Closed = true
	}
	if v := os.Getenv("IVORY_DATABASE"); v != "" {
		c.Conf.Database = v
	}
	if v := os.Getenv("IVORY_JWT_SECRET"); v != "" {
		c.Conf.JwtSecret = v
	}
	if os.Getenv("IVORY_DEBUG") == "true" {
		c.Conf.Debug = true
	}
	if v := os.Getenv("IVORY_SMTP_PASSWORD"); v != "" {
		c.Mail.Password = v
	}
}

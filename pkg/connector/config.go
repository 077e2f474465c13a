// Copyright 2024-2026 Aiku AI

package connector

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	up "go.mau.fi/util/configupgrade"
	"go.mau.fi/util/dbutil"
	"go.mau.fi/zeroconfig"
	"gopkg.in/yaml.v3"
)

//go:embed example-config.yaml
var ExampleConfig string

// Environment variables consulted when the config leaves a value empty.
const (
	EnvSlackToken    = "SLACK_TOKEN"
	EnvSlackAppToken = "SLACK_APP_TOKEN"
	EnvZuliprc       = "ZULIPRC"
)

// Config is the bridge configuration file.
type Config struct {
	Slack    SlackConfig       `yaml:"slack"`
	Zulip    ZulipConfig       `yaml:"zulip"`
	Database dbutil.Config     `yaml:"database"`
	Bridge   BridgeConfig      `yaml:"bridge"`
	AdminAPI AdminAPIConfig    `yaml:"admin_api"`
	Logging  zeroconfig.Config `yaml:"logging"`
}

type SlackConfig struct {
	BotToken string `yaml:"bot_token"`
	AppToken string `yaml:"app_token"`
}

type ZulipConfig struct {
	Zuliprc string `yaml:"zuliprc"`
	// BotEmail identifies the bridge's own messages for echo prevention.
	// Empty means the email from the zuliprc.
	BotEmail string `yaml:"bot_email"`
}

type BridgeConfig struct {
	ConvertFormatting bool `yaml:"convert_formatting"`
	SenderNames       bool `yaml:"sender_names"`
}

type AdminAPIConfig struct {
	// Address is the listen address of the admin API. Empty disables it.
	Address string `yaml:"address"`
}

func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	type rawConfig Config
	return node.Decode((*rawConfig)(c))
}

// PostProcess fills empty credentials from the environment.
func (c *Config) PostProcess() {
	if c.Slack.BotToken == "" {
		c.Slack.BotToken = os.Getenv(EnvSlackToken)
	}
	if c.Slack.AppToken == "" {
		c.Slack.AppToken = os.Getenv(EnvSlackAppToken)
	}
	if env := os.Getenv(EnvZuliprc); env != "" && (c.Zulip.Zuliprc == "" || c.Zulip.Zuliprc == "zuliprc") {
		c.Zulip.Zuliprc = env
	}
	c.Zulip.BotEmail = strings.TrimSpace(c.Zulip.BotEmail)
}

// Validate checks that everything needed to connect is present.
func (c *Config) Validate() error {
	var errs []error
	if c.Slack.BotToken == "" {
		errs = append(errs, fmt.Errorf("slack.bot_token is not set (or $%s)", EnvSlackToken))
	} else if !strings.HasPrefix(c.Slack.BotToken, "xoxb-") {
		errs = append(errs, errors.New("slack.bot_token must be a bot token (xoxb-...)"))
	}
	if c.Slack.AppToken == "" {
		errs = append(errs, fmt.Errorf("slack.app_token is not set (or $%s)", EnvSlackAppToken))
	} else if !strings.HasPrefix(c.Slack.AppToken, "xapp-") {
		errs = append(errs, errors.New("slack.app_token must be an app-level token (xapp-...)"))
	}
	if c.Zulip.Zuliprc == "" {
		errs = append(errs, fmt.Errorf("zulip.zuliprc is not set (or $%s)", EnvZuliprc))
	}
	if c.Database.Type == "" || c.Database.URI == "" {
		errs = append(errs, errors.New("database.type and database.uri are required"))
	}
	return errors.Join(errs...)
}

func upgradeConfig(helper up.Helper) {
	helper.Copy(up.Str, "slack", "bot_token")
	helper.Copy(up.Str, "slack", "app_token")

	helper.Copy(up.Str, "zulip", "zuliprc")
	helper.Copy(up.Str, "zulip", "bot_email")

	helper.Copy(up.Str, "database", "type")
	helper.Copy(up.Str, "database", "uri")
	helper.Copy(up.Int, "database", "max_open_conns")
	helper.Copy(up.Int, "database", "max_idle_conns")
	helper.Copy(up.Str|up.Null, "database", "conn_max_idle_time")
	helper.Copy(up.Str|up.Null, "database", "conn_max_lifetime")

	helper.Copy(up.Bool, "bridge", "convert_formatting")
	helper.Copy(up.Bool, "bridge", "sender_names")

	helper.Copy(up.Str, "admin_api", "address")

	helper.Copy(up.Map, "logging")
}

var configUpgrader = &up.StructUpgrader{
	SimpleUpgrader: up.SimpleUpgrader(upgradeConfig),
	Blocks: [][]string{
		{"zulip"},
		{"database"},
		{"bridge"},
		{"admin_api"},
		{"logging"},
	},
	Base: ExampleConfig,
}

// LoadConfig reads the config file at path, merges it into the current
// example config so that new options get their defaults, and optionally
// writes the merged result back.
func LoadConfig(path string, save bool) (*Config, error) {
	data, _, err := up.Do(path, save, configUpgrader)
	if err != nil {
		return nil, fmt.Errorf("failed to upgrade config: %w", err)
	}
	var cfg Config
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.PostProcess()
	return &cfg, nil
}

package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
	"time"

	"github.com/kasuganosora/guilds/server/guild"
	"github.com/spf13/viper"
)

type Config struct {
	Lang                  string          `mapstructure:"lang"`
	LanguagesDir          string          `mapstructure:"languages-dir"`
	TablistGuilds         bool            `mapstructure:"tablist-guilds"`
	TablistUseDisplayName bool            `mapstructure:"tablist-use-display-name"`
	Hooks                 map[string]bool `mapstructure:"hooks"`
	ConfirmTTLSeconds     int             `mapstructure:"confirm-ttl-seconds"`
	ConfirmSweepInterval  time.Duration   `mapstructure:"confirm-sweep-interval"`

	Name     NameConfig            `mapstructure:"name"`
	Prefix   PrefixConfig          `mapstructure:"prefix"`
	Tiers    map[string]TierConfig `mapstructure:"tiers"`
	Roles    map[string]RoleConfig `mapstructure:"roles"`
	Commands CommandsConfig        `mapstructure:"commands"`
	Guild    GuildConfig           `mapstructure:"guild"`

	Server   ServerConfig   `mapstructure:"server"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Database DatabaseConfig `mapstructure:"database"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Economy  EconomyConfig  `mapstructure:"economy"`
	Updater  UpdaterConfig  `mapstructure:"updater"`
	Audit    AuditConfig    `mapstructure:"audit"`
	Log      LogConfig      `mapstructure:"log"`
}

type LengthConfig struct {
	Min int `mapstructure:"min"`
	Max int `mapstructure:"max"`
}

type NameConfig struct {
	Regex  string       `mapstructure:"regex"`
	Length LengthConfig `mapstructure:"length"`
}

type PrefixConfig struct {
	Length LengthConfig `mapstructure:"length"`
}

type TierConfig struct {
	Cost       int64 `mapstructure:"cost"`
	BankCap    int64 `mapstructure:"bank-cap"`
	MaxMembers int   `mapstructure:"max-members"`
}

type RoleConfig struct {
	Name        string   `mapstructure:"name"`
	Permissions []string `mapstructure:"permissions"`
}

type CommandsConfig struct {
	Description map[string]string `mapstructure:"description"`
	PageSize    int               `mapstructure:"page-size"`
}

type GuildConfig struct {
	AutoDeleteEmpty bool   `mapstructure:"auto-delete-empty"`
	OverCapPolicy   string `mapstructure:"over-cap-policy"` // reject | truncate
}

type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	Debug          bool          `mapstructure:"debug"`
	AdminKey       string        `mapstructure:"admin_key"` // plain text or a bcrypt hash
	AdminIPs       []string      `mapstructure:"admin_ips"`
	JWTSecret      string        `mapstructure:"jwt_secret"`
	TokenTTL       time.Duration `mapstructure:"token_ttl"`
	RateLimitRPS   float64       `mapstructure:"rate_limit_rps"`
	RateLimitBurst int           `mapstructure:"rate_limit_burst"`
	CommandRPS     float64       `mapstructure:"command_rps"`
	CommandBurst   int           `mapstructure:"command_burst"`
}

type StorageConfig struct {
	Mode             string        `mapstructure:"mode"` // file | sqlite | mysql
	Dir              string        `mapstructure:"dir"`
	Workers          int           `mapstructure:"workers"`
	SideMapsOnDelete string        `mapstructure:"side-maps-on-delete"` // remove | reset
	AutosaveInterval time.Duration `mapstructure:"autosave-interval"`
}

type DatabaseConfig struct {
	Mode         string        `mapstructure:"mode"` // sqlite | mysql | memory
	SQLitePath   string        `mapstructure:"sqlite_path"`
	MySQLDSN     string        `mapstructure:"mysql_dsn"`
	MySQLMaxOpen int           `mapstructure:"mysql_max_open"`
	MySQLMaxIdle int           `mapstructure:"mysql_max_idle"`
	MySQLMaxLife time.Duration `mapstructure:"mysql_max_life"`
}

type CacheConfig struct {
	RedisAddr       string        `mapstructure:"redis_addr"`
	RedisPassword   string        `mapstructure:"redis_password"`
	RedisDB         int           `mapstructure:"redis_db"`
	LocalGCInterval time.Duration `mapstructure:"local_gc_interval"`
	LocalPubSubBuf  int           `mapstructure:"local_pubsub_buf"`
}

type EconomyConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	StartingBalance int64  `mapstructure:"starting-balance"`
	Key             string `mapstructure:"key"`
}

type UpdaterConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	URL        string        `mapstructure:"url"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries uint64        `mapstructure:"max-retries"`
}

type AuditConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max-size-mb"`
	MaxBackups int    `mapstructure:"max-backups"`
	MaxAgeDays int    `mapstructure:"max-age-days"`
}

// Version of the guild server, reported by the version command.
const Version = "1.4.0"

func setDefaults(v *viper.Viper) {
	v.SetDefault("lang", "english")
	v.SetDefault("languages-dir", "./languages")
	v.SetDefault("tablist-guilds", false)
	v.SetDefault("tablist-use-display-name", false)
	v.SetDefault("confirm-ttl-seconds", 30)
	v.SetDefault("confirm-sweep-interval", "5s")
	v.SetDefault("name.regex", `^[a-zA-Z0-9_]+$`)
	v.SetDefault("name.length.min", 3)
	v.SetDefault("name.length.max", 16)
	v.SetDefault("prefix.length.min", 1)
	v.SetDefault("prefix.length.max", 8)
	v.SetDefault("commands.page-size", 8)
	v.SetDefault("guild.auto-delete-empty", true)
	v.SetDefault("guild.over-cap-policy", "reject")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.debug", false)
	v.SetDefault("server.rate_limit_rps", 50)
	v.SetDefault("server.rate_limit_burst", 100)
	v.SetDefault("server.token_ttl", "12h")
	v.SetDefault("server.command_rps", 2)
	v.SetDefault("server.command_burst", 5)
	v.SetDefault("storage.mode", "file")
	v.SetDefault("storage.dir", "./data")
	v.SetDefault("storage.workers", 4)
	v.SetDefault("storage.side-maps-on-delete", "remove")
	v.SetDefault("storage.autosave-interval", "5m")
	v.SetDefault("database.mode", "sqlite")
	v.SetDefault("database.sqlite_path", "./data/guilds.db")
	v.SetDefault("database.mysql_max_open", 20)
	v.SetDefault("database.mysql_max_idle", 5)
	v.SetDefault("database.mysql_max_life", "1h")
	v.SetDefault("cache.local_gc_interval", "30s")
	v.SetDefault("cache.local_pubsub_buf", 256)
	v.SetDefault("economy.enabled", true)
	v.SetDefault("economy.starting-balance", 0)
	v.SetDefault("economy.key", "economy:balances")
	v.SetDefault("updater.enabled", false)
	v.SetDefault("updater.timeout", "5s")
	v.SetDefault("updater.max-retries", 3)
	v.SetDefault("audit.enabled", true)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.max-size-mb", 50)
	v.SetDefault("log.max-backups", 5)
	v.SetDefault("log.max-age-days", 30)
}

// Defaults returns the configuration used when no file is present.
func Defaults() *Config {
	v := viper.New()
	setDefaults(v)
	cfg := &Config{}
	_ = v.Unmarshal(cfg)
	fillTables(cfg)
	return cfg
}

// Load reads config from the given YAML file path. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	fillTables(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// fillTables supplies the stock role and tier tables when the file defines none.
// Viper would merge map defaults key by key, which makes shrinking a table impossible.
func fillTables(cfg *Config) {
	if len(cfg.Tiers) == 0 {
		cfg.Tiers = map[string]TierConfig{
			"1": {Cost: 0, BankCap: 1000, MaxMembers: 10},
			"2": {Cost: 1000, BankCap: 5000, MaxMembers: 20},
			"3": {Cost: 5000, BankCap: 20000, MaxMembers: 40},
		}
	}
	if len(cfg.Roles) == 0 {
		cfg.Roles = make(map[string]RoleConfig)
		for _, r := range guild.DefaultRoleTable().Roles() {
			cfg.Roles[strconv.Itoa(r.Rank)] = RoleConfig{Name: r.Name, Permissions: r.Caps.Names()}
		}
	}
	if cfg.Hooks == nil {
		cfg.Hooks = map[string]bool{}
	}
	if cfg.Commands.Description == nil {
		cfg.Commands.Description = map[string]string{}
	}
}

// Validate checks values that Rules does not cover.
func (c *Config) Validate() error {
	switch c.Storage.Mode {
	case "file", "sqlite", "mysql":
	default:
		return fmt.Errorf("config: storage.mode %q must be file, sqlite or mysql", c.Storage.Mode)
	}
	switch c.Storage.SideMapsOnDelete {
	case "remove", "reset":
	default:
		return fmt.Errorf("config: storage.side-maps-on-delete %q must be remove or reset", c.Storage.SideMapsOnDelete)
	}
	switch c.Guild.OverCapPolicy {
	case "reject", "truncate":
	default:
		return fmt.Errorf("config: guild.over-cap-policy %q must be reject or truncate", c.Guild.OverCapPolicy)
	}
	if c.ConfirmTTLSeconds <= 0 {
		return fmt.Errorf("config: confirm-ttl-seconds must be positive")
	}
	_, err := c.Rules()
	return err
}

// ConfirmTTL returns the confirmation lifetime.
func (c *Config) ConfirmTTL() time.Duration {
	return time.Duration(c.ConfirmTTLSeconds) * time.Second
}

// Hook reports whether the named visual integration is enabled.
func (c *Config) Hook(name string) bool { return c.Hooks[name] }

// Rules builds the guild rules described by the configuration.
func (c *Config) Rules() (*guild.Rules, error) {
	pattern, err := regexp.Compile(c.Name.Regex)
	if err != nil {
		return nil, fmt.Errorf("config: name.regex: %w", err)
	}

	roles := make([]guild.Role, 0, len(c.Roles))
	for key, rc := range c.Roles {
		rank, err := strconv.Atoi(key)
		if err != nil {
			return nil, fmt.Errorf("config: roles.%s: rank must be an integer", key)
		}
		var caps guild.Capability
		for _, p := range rc.Permissions {
			cp, err := guild.ParseCapability(p)
			if err != nil {
				return nil, fmt.Errorf("config: roles.%s.permissions: %w", key, err)
			}
			caps |= cp
		}
		name := rc.Name
		if name == "" {
			name = "Rank" + key
		}
		roles = append(roles, guild.Role{Rank: rank, Name: name, Caps: caps})
	}
	table, err := guild.NewRoleTable(roles)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	tiers := make([]guild.Tier, 0, len(c.Tiers))
	for key, tc := range c.Tiers {
		level, err := strconv.Atoi(key)
		if err != nil {
			return nil, fmt.Errorf("config: tiers.%s: level must be an integer", key)
		}
		tiers = append(tiers, guild.Tier{Level: level, Cost: tc.Cost, BankCap: tc.BankCap, MaxMembers: tc.MaxMembers})
	}
	sort.Slice(tiers, func(i, j int) bool { return tiers[i].Level < tiers[j].Level })

	r := &guild.Rules{
		Roles:                 table,
		Tiers:                 tiers,
		NamePattern:           pattern,
		NameMin:               c.Name.Length.Min,
		NameMax:               c.Name.Length.Max,
		PrefixMin:             c.Prefix.Length.Min,
		PrefixMax:             c.Prefix.Length.Max,
		AutoDeleteEmpty:       c.Guild.AutoDeleteEmpty,
		TruncateOverCap:       c.Guild.OverCapPolicy == "truncate",
		ResetSideMapsOnRemove: c.Storage.SideMapsOnDelete == "reset",
	}
	if err := r.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return r, nil
}

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
)

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config"`
	OAuth       OAuthConfig               `json:"oauth"`
	Hub         HubConfig                 `json:"hub"`
	Databases   map[string]DatabaseConfig `json:"databases"`
	Redis       RedisConfig               `json:"redis"`
	Log         LogConfig                 `json:"log"`
}

type BasicConfig struct {
	ServerAddress string `json:"server_address"`
	Database      string `json:"database"`
	// SessionTTL is the login session lifetime in minutes.
	SessionTTL int `json:"session_ttl"`
	// MaxUploadMB caps the size of an uploaded export.
	MaxUploadMB int64 `json:"max_upload_mb"`
}

type OAuthConfig struct {
	ClientID     string   `json:"client_id"`
	ClientSecret string   `json:"client_secret"`
	ProviderURL  string   `json:"provider_url"`
	RedirectURL  string   `json:"redirect_url"`
	Scopes       []string `json:"scopes"`
}

type HubConfig struct {
	Endpoint          string `json:"endpoint"`
	TemplateSpace     string `json:"template_space"`
	DatasetSuffix     string `json:"dataset_suffix"`
	SpaceSuffix       string `json:"space_suffix"`
	ExportPath        string `json:"export_path"`
	DataRepoVariable  string `json:"data_repo_variable"`
	MCPServerName     string `json:"mcp_server_name"`
	InjectTokenSecret *bool  `json:"inject_token_secret"`
	RollbackOnFailure bool   `json:"rollback_on_failure"`
	SpaceHardware     string `json:"space_hardware"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DBName   string `json:"dbname"`
	Params   string `json:"params"`
}

type RedisConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// Enabled reports whether a redis endpoint was configured.
func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.Host) != ""
}

type LogConfig struct {
	Level       string `json:"level"`
	Development bool   `json:"development"`
}

const (
	DefaultServerAddress = ":7860"
	DefaultProviderURL   = "https://huggingface.co"
	DefaultHubEndpoint   = "https://huggingface.co"
	DefaultTemplateSpace = "health-landing-zone/apple-health-mcp-template"
	DefaultSessionTTL    = 8 * 60
	DefaultMaxUploadMB   = 512
)

var DefaultScopes = []string{"openid", "profile", "read-repos", "write-repos", "manage-repos"}

// Default returns a configuration usable without a config file. The database
// is an in-memory sqlite instance, so nothing outlives the process.
func Default() *Config {
	inject := true
	return &Config{
		BasicConfig: BasicConfig{
			ServerAddress: DefaultServerAddress,
			Database:      "sqlite3",
			SessionTTL:    DefaultSessionTTL,
			MaxUploadMB:   DefaultMaxUploadMB,
		},
		OAuth: OAuthConfig{
			ProviderURL: DefaultProviderURL,
			Scopes:      append([]string(nil), DefaultScopes...),
		},
		Hub: HubConfig{
			Endpoint:          DefaultHubEndpoint,
			TemplateSpace:     DefaultTemplateSpace,
			DatasetSuffix:     "-data",
			SpaceSuffix:       "-mcp",
			ExportPath:        "export.xml",
			DataRepoVariable:  "DATA_REPO",
			MCPServerName:     "apple-health",
			InjectTokenSecret: &inject,
		},
		Databases: map[string]DatabaseConfig{
			"sqlite3": {DSN: ":memory:"},
		},
	}
}

// Load reads configuration from the provided path (defaults to config.json).
// A missing default file is not an error; defaults and environment overrides
// are applied in that case.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if path == "" {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	cfg := Default()
	data, err := os.ReadFile(absPath)
	switch {
	case err == nil:
		// comments and trailing commas are allowed
		if err := json.Unmarshal(jsonc.ToJSON(data), cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}

	applyEnv(cfg)
	cfg.fillDefaults()

	if db, ok := cfg.Databases["sqlite3"]; ok && db.DSN != "" && !isMemoryDSN(db.DSN) && !filepath.IsAbs(db.DSN) {
		db.DSN = filepath.Join(filepath.Dir(absPath), db.DSN)
		cfg.Databases["sqlite3"] = db
	}
	return cfg, nil
}

// applyEnv overlays the variables the hosting platform injects into an
// OAuth-enabled Space.
func applyEnv(cfg *Config) {
	if v := os.Getenv("OAUTH_CLIENT_ID"); v != "" {
		cfg.OAuth.ClientID = v
	}
	if v := os.Getenv("OAUTH_CLIENT_SECRET"); v != "" {
		cfg.OAuth.ClientSecret = v
	}
	if v := os.Getenv("OAUTH_SCOPES"); v != "" {
		cfg.OAuth.Scopes = strings.Fields(v)
	}
	if v := os.Getenv("OPENID_PROVIDER_URL"); v != "" {
		cfg.OAuth.ProviderURL = v
	}
	if v := os.Getenv("SPACE_HOST"); v != "" && cfg.OAuth.RedirectURL == "" {
		cfg.OAuth.RedirectURL = "https://" + v + "/login/callback"
	}
	if v := os.Getenv("HF_ENDPOINT"); v != "" {
		cfg.Hub.Endpoint = v
	}
	if v := os.Getenv("LANDINGZONE_TEMPLATE_SPACE"); v != "" {
		cfg.Hub.TemplateSpace = v
	}
}

func (c *Config) fillDefaults() {
	def := Default()
	if c.BasicConfig.ServerAddress == "" {
		c.BasicConfig.ServerAddress = def.BasicConfig.ServerAddress
	}
	if c.BasicConfig.Database == "" {
		c.BasicConfig.Database = def.BasicConfig.Database
	}
	if c.BasicConfig.SessionTTL <= 0 {
		c.BasicConfig.SessionTTL = def.BasicConfig.SessionTTL
	}
	if c.BasicConfig.MaxUploadMB <= 0 {
		c.BasicConfig.MaxUploadMB = def.BasicConfig.MaxUploadMB
	}
	if c.OAuth.ProviderURL == "" {
		c.OAuth.ProviderURL = def.OAuth.ProviderURL
	}
	if len(c.OAuth.Scopes) == 0 {
		c.OAuth.Scopes = def.OAuth.Scopes
	}
	if c.Hub.Endpoint == "" {
		c.Hub.Endpoint = def.Hub.Endpoint
	}
	if c.Hub.TemplateSpace == "" {
		c.Hub.TemplateSpace = def.Hub.TemplateSpace
	}
	if c.Hub.DatasetSuffix == "" {
		c.Hub.DatasetSuffix = def.Hub.DatasetSuffix
	}
	if c.Hub.SpaceSuffix == "" {
		c.Hub.SpaceSuffix = def.Hub.SpaceSuffix
	}
	if c.Hub.ExportPath == "" {
		c.Hub.ExportPath = def.Hub.ExportPath
	}
	if c.Hub.DataRepoVariable == "" {
		c.Hub.DataRepoVariable = def.Hub.DataRepoVariable
	}
	if c.Hub.MCPServerName == "" {
		c.Hub.MCPServerName = def.Hub.MCPServerName
	}
	if c.Hub.InjectTokenSecret == nil {
		c.Hub.InjectTokenSecret = def.Hub.InjectTokenSecret
	}
	if c.Databases == nil {
		c.Databases = map[string]DatabaseConfig{}
	}
	if _, ok := c.Databases["sqlite3"]; !ok {
		c.Databases["sqlite3"] = def.Databases["sqlite3"]
	}
}

// Validate reports settings required by the web server.
func (c *Config) Validate() error {
	var missing []string
	if c.OAuth.ClientID == "" {
		missing = append(missing, "oauth.client_id")
	}
	if c.OAuth.ClientSecret == "" {
		missing = append(missing, "oauth.client_secret")
	}
	if c.OAuth.RedirectURL == "" {
		missing = append(missing, "oauth.redirect_url")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing configuration: %s", strings.Join(missing, ", "))
	}
	return nil
}

// TokenSecretEnabled reports whether the user token is added to new spaces.
func (h HubConfig) TokenSecretEnabled() bool {
	return h.InjectTokenSecret == nil || *h.InjectTokenSecret
}

func isMemoryDSN(dsn string) bool {
	return strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory")
}

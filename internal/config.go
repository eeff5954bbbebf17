package internal

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/todosync/internal/notion"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App       ApplicationConfig `yaml:"app"`
	Workspace WorkspaceConfig   `yaml:"workspace"`
	Notion    NotionConfig      `yaml:"notion"`
	Sync      SyncConfig        `yaml:"sync"`
	SQLite    SQLiteConfig      `yaml:"sqlite"`
	Auth      AuthConfig        `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Workspace.Validate(); err != nil {
		return err
	}
	if err := c.Notion.Validate(); err != nil {
		return err
	}
	if err := c.Sync.Validate(); err != nil {
		return err
	}
	if err := c.SQLite.Validate(); err != nil {
		return err
	}
	return c.Auth.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// WorkspaceConfig selects the source files to synchronize.
// Include and Exclude are doublestar patterns relative to Root.
type WorkspaceConfig struct {
	Root    string   `yaml:"root"`
	Include []string `yaml:"include"`
	Exclude []string `yaml:"exclude"`
}

// Validate validates the workspace configuration.
func (c *WorkspaceConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Root, validation.Required),
	)
}

// NotionConfig holds the Notion database connection.
type NotionConfig struct {
	APIKey            string                `yaml:"api_key"`
	DatabaseID        string                `yaml:"database_id"`
	ProjectTag        string                `yaml:"project_tag"`
	CheckboxProperty  string                `yaml:"checkbox_property"`
	ExcludeCompleted  bool                  `yaml:"exclude_completed"`
	RequestTimeout    time.Duration         `yaml:"request_timeout"`
	CustomSelect      notion.CustomProperty `yaml:"custom_select"`
	CustomMultiSelect notion.CustomProperty `yaml:"custom_multi_select"`
}

// Validate validates the Notion configuration. A missing database id is not
// a load error: creation fails per pass with a configuration error instead.
func (c *NotionConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.APIKey, validation.Required),
		validation.Field(&c.RequestTimeout, validation.Min(time.Duration(0))),
	)
}

// Client returns the adapter configuration. workspaceRoot supplies the
// project tag when none is configured.
func (c *NotionConfig) Client(workspaceRoot string) notion.Config {
	tag := c.ProjectTag
	if tag == "" && workspaceRoot != "" {
		if abs, err := filepath.Abs(workspaceRoot); err == nil {
			tag = filepath.Base(abs)
		}
	}
	return notion.Config{
		APIKey:            c.APIKey,
		DatabaseID:        c.DatabaseID,
		ProjectTag:        tag,
		CheckboxProperty:  c.CheckboxProperty,
		ExcludeCompleted:  c.ExcludeCompleted,
		RequestTimeout:    c.RequestTimeout,
		CustomSelect:      c.CustomSelect,
		CustomMultiSelect: c.CustomMultiSelect,
	}
}

// SyncConfig tunes pass scheduling.
type SyncConfig struct {
	Interval time.Duration `yaml:"interval"`
	Debounce time.Duration `yaml:"debounce"`
}

// Validate validates the sync configuration.
func (c *SyncConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Interval, validation.Min(time.Duration(0))),
		validation.Field(&c.Debounce, validation.Min(time.Duration(0))),
	)
}

// SQLiteConfig holds SQLite database configuration.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the SQLite configuration.
func (c *SQLiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	// Normalise empty mode to "disabled".
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Enabled: true,
				Port:    8080,
			},
		},
		Workspace: WorkspaceConfig{
			Root:    ".",
			Include: []string{"**/*.{go,ts,tsx,js,jsx,java,c,h,cpp,cs,rs,swift,kt}"},
			Exclude: []string{"**/{node_modules,dist,vendor,.git}/**"},
		},
		Notion: NotionConfig{
			APIKey:           os.Getenv("NOTION_API_KEY"),
			DatabaseID:       os.Getenv("NOTION_DATABASE_ID"),
			CheckboxProperty: notion.DefaultCheckboxProperty,
			RequestTimeout:   30 * time.Second,
		},
		Sync: SyncConfig{
			Interval: 5 * time.Minute,
			Debounce: 500 * time.Millisecond,
		},
		SQLite: SQLiteConfig{
			Path: "./todosync.db",
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}

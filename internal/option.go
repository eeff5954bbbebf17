package internal

import (
	"io"

	"github.com/starford/todosync/internal/reconcile"
)

// Option is a functional option for configuring the application.
type Option func(*application)

type application struct {
	config  *Config
	version string
	remote  reconcile.Remote
	logOut  io.Writer
}

// WithConfig sets the application configuration.
func WithConfig(cfg *Config) Option {
	return func(a *application) {
		a.config = cfg
	}
}

// WithVersion sets the version reported by the MCP server.
func WithVersion(v string) Option {
	return func(a *application) {
		a.version = v
	}
}

// WithRemote replaces the Notion adapter with another task store.
func WithRemote(r reconcile.Remote) Option {
	return func(a *application) {
		a.remote = r
	}
}

// WithLogOutput redirects the JSON log stream (stdout by default).
func WithLogOutput(w io.Writer) Option {
	return func(a *application) {
		a.logOut = w
	}
}

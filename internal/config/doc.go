// Package config provides configuration loading, live reload, and path
// management for the runtime.
//
// # Configuration Loading
//
// Load reads configuration in priority order, later sources overriding
// earlier ones:
//
//  1. Global config (~/.config/agentrt/agentrt.jsonc)
//  2. Project config (<directory>/.agentrt/agentrt.jsonc)
//  3. Environment variables (ANTHROPIC_API_KEY, AGENTRT_MODEL, ...)
//
// # JSONC
//
// Config files may use JSONC (JSON with // and /* */ comments); comments
// are stripped before unmarshaling.
//
// # Live Reload
//
// Watch follows the project config file with fsnotify and invokes a
// callback with the freshly reloaded Config on every write, so a running
// process can pick up edited agent profiles or transport settings without
// a restart.
//
// # Path Management
//
// Paths follows the XDG Base Directory Specification:
//   - Data: ~/.local/share/agentrt (XDG_DATA_HOME)
//   - Config: ~/.config/agentrt (XDG_CONFIG_HOME)
//   - Cache: ~/.cache/agentrt (XDG_CACHE_HOME)
//   - State: ~/.local/state/agentrt (XDG_STATE_HOME)
package config

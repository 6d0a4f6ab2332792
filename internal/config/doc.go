// Package config handles configuration loading for coven-chat.
//
// # Overview
//
// Configuration is read from a YAML or TOML file (chosen by extension) with
// environment variable expansion. Every field has a default, so a missing
// file is not an error for LoadDefault.
//
// # Configuration File
//
// Location, in order:
//
//  1. Path from the COVEN_CHAT_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/coven/chat.yaml
//  3. ~/.config/coven/chat.yaml
//
// # Environment Variable Expansion
//
// Values can reference environment variables:
//
//	gateway:
//	  token: "${COVEN_TOKEN}"
//
// Unset variables expand to the empty string.
//
// # Configuration Sections
//
//	gateway:
//	  url: "http://localhost:8080"
//	  transport: "sse"          # or "websocket"
//	  sender: "me"
//
//	stream:
//	  main_agent: "main"
//	  tool_agent: "tools"
//	  task_marker: "task:"
//	  task_tool: "task"
//	  failure_prefix: "ERROR"
//
//	reconnect:
//	  attempts: 5
//	  base_delay: "1s"          # doubled per attempt
//
//	replay:
//	  phrases:
//	    answered: ["User answered", "User responded"]
//	    skipped: ["skipped"]
//	    approved: ["Workspace created"]
//	    rejected: ["declined", "rejected"]
//
//	database:
//	  driver: "sqlite"          # or "sqlite3" (cgo)
//	  path: "/home/me/.local/share/coven/chat.db"  # empty keeps the log in memory
//
//	logging:
//	  level: "warn"
//	  format: "text"            # or "json"
//
// The same keys work in TOML:
//
//	[gateway]
//	url = "https://gateway.example.com"
//	transport = "websocket"
//
// # Usage
//
//	cfg, err := config.LoadDefault()
//	th := thread.New(threadID, cfg.ThreadOptions())
//	policy := cfg.ReconnectPolicy()
package config

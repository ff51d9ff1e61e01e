// Package config provides the configuration system for buildninja.
//
// The config package loads, merges and exposes the handful of settings the
// Ninja target source depends on, and notifies subscribers whenever the
// effective value of a setting changes.
//
// # Architecture
//
// Configuration is organized in layers with higher layers overriding lower:
//
//	┌─────────────────────────────┐
//	│  4. Flags / Environment     │  ← Highest priority (--ninja-command, BUILDNINJA_*)
//	├─────────────────────────────┤
//	│  3. Workspace               │  ← <project>/.buildninja.toml (or .json)
//	├─────────────────────────────┤
//	│  2. User Settings           │  ← ~/.config/buildninja/settings.toml
//	├─────────────────────────────┤
//	│  1. Built-in Defaults       │  ← Lowest priority
//	└─────────────────────────────┘
//
// # Settings
//
//	ninja.command   string    executable used to query and build targets ("ninja")
//	ninja.subdirs   []string  project subdirectories searched for build.ninja (["src/out/Debug"])
//	log.level       string    log level for the CLI ("info")
//
// # Change Notification
//
// Observers subscribe to a path and receive one notify.Change per effective
// change. Changes come from Set (argument layer) and from Reload, which is
// triggered by the file watcher when a settings file is written:
//
//	cfg.Subscribe(func(c notify.Change) {
//	    // re-run discovery
//	}, config.KeyNinjaSubdirs)
//
// # Sub-packages
//
//   - layer: Layer management and merging
//   - loader: Configuration file loading (TOML, JSON)
//   - notify: Change notification
//   - watcher: fsnotify based file watching
package config

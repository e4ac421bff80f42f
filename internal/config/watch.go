package config

import (
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// ReloadFunc receives the freshly decoded configuration after the config
// file changes. err is non-nil when the new file does not decode or
// validate; the previous configuration should then stay in effect.
type ReloadFunc func(cfg *Config, err error)

// Watch starts watching v's config file and calls onReload for every
// write or create event. v must have a config file set.
func Watch(v *viper.Viper, onReload ReloadFunc) {
	v.OnConfigChange(func(e fsnotify.Event) {
		if !relevantEvent(e) {
			return
		}
		cfg, err := LoadFrom(v)
		onReload(cfg, err)
	})
	v.WatchConfig()
}

// relevantEvent filters out chmod and remove notifications, which editors
// emit around saves without changing content.
func relevantEvent(e fsnotify.Event) bool {
	return e.Has(fsnotify.Write) || e.Has(fsnotify.Create)
}

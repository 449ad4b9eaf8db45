// Package config loads and saves the YAML configuration shared by the wsconn
// commands: the listener address and endpoint, the connection Settings, the
// client TLS context and discovery preferences.
//
// # Configuration File Location
//
// The default configuration file is stored in platform-appropriate locations:
//   - Linux: $XDG_CONFIG_HOME/wsconn/config.yaml or $HOME/.config/wsconn/config.yaml
//   - macOS: $HOME/.config/wsconn/config.yaml
//   - Windows: %LOCALAPPDATA%\wsconn\config.yaml
//
// # Usage Example
//
//	path, _ := config.GetConfigPath()
//	cfg, err := config.Load(path)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	cfg.Listen.Port = 9000
//	if err := cfg.Save(path); err != nil {
//	    log.Fatal(err)
//	}
//
// A missing file is not an error: Load returns Default(). Keys absent from
// the file keep their default values.
package config

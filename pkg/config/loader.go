package config

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/kkyr/fig"
)

const (
	EnvPrefix = "CALL"
	FileName  = "config.yaml"
)

var ErrNoConfig = errors.New("no config file")

// LoadConfig loads a configuration file into the given struct.
// The path param specifies a custom path to the configuration file,
// otherwise the default locations are searched.
// Reads and puts environment variables with the prefix CALL_.
// Params from the config should be in uppercase separated with _.
// Returns the path of the loaded file.
func LoadConfig(config any, path string) (string, error) {
	file, err := locate(path)
	if err != nil {
		return "", err
	}
	dir, name := filepath.Split(file)
	if dir == "" {
		dir = "."
	}
	if err := fig.Load(config, fig.File(name), fig.Dirs(dir), fig.UseEnv(EnvPrefix)); err != nil {
		return "", err
	}
	return file, nil
}

// NewConfig loads the server config from a file and the command line.
// Without any config file found the built-in defaults are used.
func NewConfig(args []string) (conf Config, path string, err error) {
	if path, err = LoadConfig(&conf, ConfigPath(args)); err != nil {
		if !errors.Is(err, ErrNoConfig) {
			return
		}
		conf, err = Defaults(), nil
	}
	if err = conf.ParseFlags(args); err != nil {
		return
	}
	err = conf.Engine.Validate()
	return
}

func locate(path string) (string, error) {
	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return "", err
		}
		return path, nil
	}
	dirs := []string{".", "configs", "../../configs"}
	if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, filepath.Join(home, ".groupcall"))
	}
	for _, dir := range dirs {
		file := filepath.Join(dir, FileName)
		if _, err := os.Stat(file); err == nil {
			return file, nil
		}
	}
	return "", ErrNoConfig
}

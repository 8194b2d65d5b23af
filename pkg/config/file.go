package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// DotEnvFiles are loaded in order; later files override earlier ones.
var DotEnvFiles = []string{".env", ".env.local"}

// File is the optional YAML config file:
//
//	databases:
//	  - ./data/sales.duckdb
//	  - crm=./data/crm.duckdb
//	init_sql: ./init.sql
//	log_level: DEBUG
//
// Relative paths are resolved against the file's directory.
type File struct {
	Databases []string `yaml:"databases,omitempty"`
	InitSQL   string   `yaml:"init_sql,omitempty"`
	LogLevel  string   `yaml:"log_level,omitempty"`
}

// ReadFile reads and parses the YAML config file at path.
func ReadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	dir := filepath.Dir(path)
	for i, arg := range f.Databases {
		if name, p, ok := cutName(arg); ok {
			f.Databases[i] = name + "=" + resolve(dir, p)
		} else {
			f.Databases[i] = resolve(dir, arg)
		}
	}
	if f.InitSQL != "" {
		f.InitSQL = resolve(dir, f.InitSQL)
	}
	return &f, nil
}

func (f *File) applyDefaults(v *viper.Viper) {
	if len(f.Databases) > 0 {
		v.SetDefault(KeyDB, f.Databases)
	}
	if f.InitSQL != "" {
		v.SetDefault(KeyInitSQL, f.InitSQL)
	}
	if f.LogLevel != "" {
		v.SetDefault(KeyLogLevel, f.LogLevel)
	}
}

func cutName(arg string) (string, string, bool) {
	name, path, found := strings.Cut(arg, "=")
	if !found || !identPattern.MatchString(name) {
		return "", "", false
	}
	return name, path, true
}

func resolve(dir, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dir, path)
}

// LoadDotEnv loads the given files into the process environment when they
// exist, overriding variables already set.
func LoadDotEnv(files ...string) error {
	for _, file := range files {
		if _, err := os.Stat(file); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("checking %s: %w", file, err)
		}
		if err := godotenv.Overload(file); err != nil {
			return fmt.Errorf("loading %s: %w", file, err)
		}
	}
	return nil
}

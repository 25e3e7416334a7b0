package repo

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"

	"github.com/mitchellh/go-homedir"
	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const (
	rootPathEnvVar = "GOVLEDGER_PATH"

	envPrefix = "GOVLEDGER"

	cfgFileName = "govledger.toml"

	defaultRepoRoot = "~/.govledger"

	LogsDirName = "logs"

	DefaultAdmin = "0x0000000000000000000000000000000000000001"
)

type Repo struct {
	Config *Config
}

// Option adjusts the default config before a repo is initialized.
type Option func(*Config)

// Initialized reports whether root already holds a govledger config file.
func Initialized(root string) bool {
	_, err := os.Stat(filepath.Join(root, cfgFileName))
	return err == nil
}

// Init writes the default config, adjusted by opts and by GOVLEDGER_*
// environment variables, into a root that has not been initialized yet.
func Init(root string, opts ...Option) (*Repo, error) {
	if Initialized(root) {
		return nil, errors.Errorf("govledger repo already initialized at %s", root)
	}
	cfg := DefaultConfig(root)
	for _, opt := range opts {
		opt(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, errors.Wrap(err, "create repo root")
	}

	r := &Repo{Config: cfg}
	if err := r.Flush(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}
	return r, nil
}

// Load reads the repo at repoRoot, initializing it with defaults on first
// use, and prepares its storage directory.
func Load(repoRoot string) (*Repo, error) {
	rootPath, err := LoadRepoRootFromEnv(repoRoot)
	if err != nil {
		return nil, err
	}

	var r *Repo
	if Initialized(rootPath) {
		cfg := DefaultConfig(rootPath)
		if err := readConfigFromFile(filepath.Join(rootPath, cfgFileName), cfg); err != nil {
			return nil, errors.Wrap(err, "read config")
		}
		cfg.RepoRoot = rootPath
		if err := cfg.Validate(); err != nil {
			return nil, errors.Wrap(err, "invalid config")
		}
		r = &Repo{Config: cfg}
	} else if r, err = Init(rootPath); err != nil {
		return nil, err
	}

	if err := r.prepareDirs(); err != nil {
		return nil, err
	}
	return r, nil
}

// prepareDirs makes sure the repo root and the storage directory exist and
// accept writes before a backend tries to open them.
func (r *Repo) prepareDirs() error {
	dirs := []string{r.Config.RepoRoot}
	if dir := r.Config.StorageDir(); dir != "" {
		dirs = append(dirs, dir)
	}
	for _, dir := range dirs {
		if err := checkWritable(dir); err != nil {
			return err
		}
	}
	return nil
}

func (r *Repo) LogsDir() string {
	return filepath.Join(r.Config.RepoRoot, LogsDirName)
}

func (r *Repo) Flush() error {
	if err := writeConfigWithEnv(filepath.Join(r.Config.RepoRoot, cfgFileName), r.Config); err != nil {
		return errors.Wrap(err, "failed to write config")
	}

	return nil
}

func writeConfigWithEnv(cfgPath string, config any) error {
	if err := writeConfig(cfgPath, config); err != nil {
		return err
	}
	// write back environment variables first
	if err := readConfigFromFile(cfgPath, config); err != nil {
		return errors.Wrapf(err, "failed to read cfg from environment")
	}
	if err := writeConfig(cfgPath, config); err != nil {
		return err
	}
	return nil
}

func writeConfig(cfgPath string, config any) error {
	raw, err := MarshalConfig(config)
	if err != nil {
		return err
	}

	if err := os.WriteFile(cfgPath, []byte(raw), 0644); err != nil {
		return err
	}

	return nil
}

func MarshalConfig(config any) (string, error) {
	buf := bytes.NewBuffer([]byte{})
	e := toml.NewEncoder(buf)
	e.SetIndentTables(true)
	e.SetArraysMultiline(true)
	err := e.Encode(config)
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}

func LoadRepoRootFromEnv(repoRoot string) (string, error) {
	if repoRoot != "" {
		return repoRoot, nil
	}
	repoRoot = os.Getenv(rootPathEnvVar)
	var err error
	if len(repoRoot) == 0 {
		repoRoot, err = homedir.Expand(defaultRepoRoot)
	}
	return repoRoot, err
}

func readConfigFromFile(cfgFilePath string, config any) error {
	vp := viper.New()
	vp.SetConfigFile(cfgFilePath)
	vp.SetConfigType("toml")
	return readConfig(vp, config)
}

func readConfig(vp *viper.Viper, config any) error {
	vp.AutomaticEnv()
	vp.SetEnvPrefix(envPrefix)
	replacer := strings.NewReplacer(".", "_")
	vp.SetEnvKeyReplacer(replacer)

	err := vp.ReadInConfig()
	if err != nil {
		return err
	}

	if err := vp.Unmarshal(config); err != nil {
		return err
	}

	return nil
}

func checkWritable(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		if os.IsPermission(err) {
			return errors.Errorf("cannot create %s, incorrect permissions", dir)
		}
		return errors.Wrapf(err, "create %s", dir)
	}
	f, err := os.CreateTemp(dir, ".write-check-*")
	if err != nil {
		if os.IsPermission(err) {
			return errors.Errorf("%s is not writable by the current user", dir)
		}
		return errors.Wrapf(err, "check %s is writable", dir)
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(name)
}

package repo

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"github.com/axiomesh/govledger/core"
	"github.com/axiomesh/govledger/storage"
)

const (
	ClockModeBlock = "block"
	ClockModeWall  = "wall"
)

type Config struct {
	RepoRoot string `mapstructure:"-" toml:"-"`
	// Admin is the account whose calls carry root authority
	Admin      string     `mapstructure:"admin" toml:"admin"`
	Log        Log        `mapstructure:"log" toml:"log"`
	Storage    Storage    `mapstructure:"storage" toml:"storage"`
	Governance Governance `mapstructure:"governance" toml:"governance"`
	Clock      Clock      `mapstructure:"clock" toml:"clock"`
	API        API        `mapstructure:"api" toml:"api"`
}

type Log struct {
	Level        string        `mapstructure:"level" toml:"level"`
	Filename     string        `mapstructure:"filename" toml:"filename"`
	ReportCaller bool          `mapstructure:"report_caller" toml:"report_caller"`
	MaxAge       time.Duration `mapstructure:"max_age" toml:"max_age"`
	RotationTime time.Duration `mapstructure:"rotation_time" toml:"rotation_time"`
}

type Storage struct {
	// memory, leveldb, badger or sqlite
	Type string `mapstructure:"type" toml:"type"`
	// relative paths are resolved against the repo root
	Dir         string `mapstructure:"dir" toml:"dir"`
	OpenRetries uint   `mapstructure:"open_retries" toml:"open_retries"`
}

type Governance struct {
	MaxVoters            uint32 `mapstructure:"max_voters" toml:"max_voters"`
	VoteLimit            uint32 `mapstructure:"vote_limit" toml:"vote_limit"`
	VoteRemovalThreshold uint64 `mapstructure:"vote_removal_threshold" toml:"vote_removal_threshold"`
}

type Clock struct {
	// block: persisted height advanced every block_interval; wall: unix seconds
	Mode          string        `mapstructure:"mode" toml:"mode"`
	BlockInterval time.Duration `mapstructure:"block_interval" toml:"block_interval"`
}

type API struct {
	Enable     bool   `mapstructure:"enable" toml:"enable"`
	Listen     string `mapstructure:"listen" toml:"listen"`
	AdminToken string `mapstructure:"admin_token" toml:"admin_token"`
}

func DefaultConfig(repoRoot string) *Config {
	return &Config{
		RepoRoot: repoRoot,
		Admin:    DefaultAdmin,
		Log: Log{
			Level:        "info",
			Filename:     "govledger.log",
			ReportCaller: false,
			MaxAge:       30 * 24 * time.Hour,
			RotationTime: 24 * time.Hour,
		},
		Storage: Storage{
			Type:        storage.TypeLevelDB,
			Dir:         "data",
			OpenRetries: 5,
		},
		Governance: Governance{
			MaxVoters:            1000,
			VoteLimit:            100,
			VoteRemovalThreshold: 10,
		},
		Clock: Clock{
			Mode:          ClockModeBlock,
			BlockInterval: 6 * time.Second,
		},
		API: API{
			Enable: true,
			Listen: "127.0.0.1:9980",
		},
	}
}

func (c *Config) AdminAccount() (core.AccountID, error) {
	if !common.IsHexAddress(c.Admin) {
		return core.AccountID{}, fmt.Errorf("invalid admin address %q", c.Admin)
	}
	return common.HexToAddress(c.Admin), nil
}

// StorageDir is the absolute data directory. The memory backend has none.
func (c *Config) StorageDir() string {
	if c.Storage.Type == storage.TypeMemory {
		return ""
	}
	if filepath.IsAbs(c.Storage.Dir) {
		return c.Storage.Dir
	}
	return filepath.Join(c.RepoRoot, c.Storage.Dir)
}

func (c *Config) EngineConfig() core.Config {
	return core.Config{
		MaxVoters:            c.Governance.MaxVoters,
		VoteLimit:            c.Governance.VoteLimit,
		VoteRemovalThreshold: c.Governance.VoteRemovalThreshold,
	}
}

func (c *Config) Validate() error {
	if _, err := c.AdminAccount(); err != nil {
		return err
	}
	switch c.Storage.Type {
	case storage.TypeMemory, storage.TypeLevelDB, storage.TypeBadger, storage.TypeSqlite:
	default:
		return errors.Errorf("unsupported storage type %q", c.Storage.Type)
	}
	if c.Governance.VoteLimit == 0 {
		return errors.New("governance.vote_limit must be greater than zero")
	}
	switch c.Clock.Mode {
	case ClockModeWall:
	case ClockModeBlock:
		if c.Clock.BlockInterval <= 0 {
			return errors.New("clock.block_interval must be positive in block mode")
		}
	default:
		return errors.Errorf("unsupported clock mode %q", c.Clock.Mode)
	}
	if c.API.Enable && c.API.Listen == "" {
		return errors.New("api.listen is required when the api is enabled")
	}
	return nil
}

package main

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	flags "github.com/jessevdk/go-flags"

	"github.com/jcalabro/gloomtier"
	"github.com/jcalabro/gloomtier/internal/backend"
)

type bloomOptions struct {
	Size   uint64 `long:"size" env:"BLOOM_FILTER_SIZE" default:"10000000" description:"Number of bits in the filter (m)"`
	Hashes uint32 `long:"hashes" env:"BLOOM_FILTER_HASH_COUNT" default:"7" description:"Number of hash positions per value (k)"`
	Key    string `long:"key" env:"BLOOM_FILTER_KEY" default:"username_bloom_filter" description:"Key of the bit array in the bit store"`
}

type dbOptions struct {
	Path     string `long:"path" env:"DB_PATH" default:"users.db" description:"SQLite database holding registered users"`
	PoolSize int    `long:"poolsize" default:"0" description:"SQLite connection pool size (0 picks one from the CPU count)"`
}

type cacheOptions struct {
	Size uint32 `long:"size" default:"100000" description:"Number of confirmed-taken usernames kept in memory (0 disables)"`
}

// config defines the configuration options for gloomtierd.
type config struct {
	ConfigFile string `short:"C" long:"configfile" env:"GLOOMTIER_CONFIG" description:"Path to an ini configuration file"`

	Listen          string        `long:"listen" description:"Interface/port to listen on (overrides --port)"`
	Port            int           `long:"port" env:"PORT" default:"5000" description:"Port to listen on all interfaces"`
	ShutdownTimeout time.Duration `long:"shutdowntimeout" default:"10s" description:"Time allowed for in-flight requests on shutdown"`
	StreamInterval  time.Duration `long:"streaminterval" default:"2s" description:"Delay between demo stream events"`

	DebugLevel string `short:"d" long:"loglevel" env:"LOG_LEVEL" default:"info" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- You may also specify <subsystem>=<level>,<subsystem2>=<level>,... to set the log level for individual subsystems"`
	LogFile    string `long:"logfile" env:"LOG_FILE" description:"Also write logs to this file, rotating it as it grows"`

	SeedFile    string `long:"seedfile" env:"USERS_DATA_PATH" default:"data/users.json" description:"JSON or YAML dataset loaded before serving"`
	SeedWorkers int    `long:"seedworkers" default:"8" description:"Number of records registered concurrently while seeding"`

	Bloom    bloomOptions    `group:"Bloom filter" namespace:"bloom"`
	DB       dbOptions       `group:"User database" namespace:"db"`
	Cache    cacheOptions    `group:"Taken cache" namespace:"cache"`
	BitStore backend.Options `group:"Bit store"`
}

// filterConfig returns the filter parameters selected by the configuration.
func (c *config) filterConfig() gloomtier.FilterConfig {
	return gloomtier.FilterConfig{
		SizeBits:  c.Bloom.Size,
		HashCount: c.Bloom.Hashes,
		Key:       c.Bloom.Key,
	}
}

// listenAddr returns --listen when given and otherwise all interfaces on
// --port.
func (c *config) listenAddr() string {
	if c.Listen != "" {
		return c.Listen
	}
	return net.JoinHostPort("", strconv.Itoa(c.Port))
}

// loadConfig initializes and parses the config using a config file and command
// line options.
//
// The configuration proceeds as follows:
//  1. Start with the defaults and environment variables
//  2. Pre-parse the command line to check for an alternative config file
//  3. Load the configuration file, overwriting defaults with any specified
//     options
//  4. Parse CLI options and overwrite/add any specified options
func loadConfig(args []string) (*config, error) {
	// Pre-parse the command line options to see if an alternative config
	// file or the help option was specified.
	var preCfg config
	preParser := flags.NewParser(&preCfg, flags.HelpFlag|flags.PassDoubleDash)
	if _, err := preParser.ParseArgs(args); err != nil {
		var e *flags.Error
		if errors.As(err, &e) && e.Type == flags.ErrHelp {
			fmt.Fprintln(os.Stdout, err)
			os.Exit(0)
		}
		return nil, err
	}

	var cfg config
	parser := flags.NewParser(&cfg, flags.Default)
	if preCfg.ConfigFile != "" {
		err := flags.NewIniParser(parser).ParseFile(preCfg.ConfigFile)
		if err != nil {
			return nil, fmt.Errorf("error parsing config file %s: %w", preCfg.ConfigFile, err)
		}
	}

	// Parse command line options again to ensure they take precedence.
	if _, err := parser.ParseArgs(args); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	if cfg.LogFile != "" {
		if err := initLogRotator(cfg.LogFile); err != nil {
			return nil, err
		}
	}
	if err := parseAndSetDebugLevels(cfg.DebugLevel); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *config) validate() error {
	if err := c.filterConfig().Validate(); err != nil {
		return err
	}
	if c.SeedWorkers < 1 {
		return fmt.Errorf("%w: --seedworkers must be at least 1, got %d",
			gloomtier.ErrInvalidConfig, c.SeedWorkers)
	}
	if c.Listen == "" && (c.Port <= 0 || c.Port > 65535) {
		return fmt.Errorf("%w: --port %d out of range", gloomtier.ErrInvalidConfig, c.Port)
	}
	return nil
}

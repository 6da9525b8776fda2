package swapd

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/lightningnetwork/lnd/lncfg"
)

var (
	// SwapDirBase is the default root directory of the daemon's state.
	SwapDirBase = btcutil.AppDataDir("xswap", false)

	defaultLogLevel    = "info"
	defaultLogDirname  = "logs"
	defaultLogFilename = "xswapd.log"
	defaultLogDir      = filepath.Join(SwapDirBase, defaultLogDirname)
	defaultConfigFile  = filepath.Join(SwapDirBase, defaultConfigFilename)

	defaultMaxLogFiles    = 3
	defaultMaxLogFileSize = 10
)

const (
	defaultConfigFilename = "xswapd.conf"

	defaultSourceChain = "stellar"
	defaultDestChain   = "evm"

	defaultConfDepth     = 1
	defaultPollInterval  = 10 * time.Second
	defaultBlockInterval = 5 * time.Second
	defaultSweepInterval = time.Minute

	defaultMinResolverBond = 1_000_000
)

// chainConfig describes one ledger the daemon drives escrows on.
type chainConfig struct {
	Name          string        `long:"name" description:"Chain identifier used in orders"`
	ConfDepth     uint32        `long:"confdepth" description:"Blocks before an event is considered final"`
	PollInterval  time.Duration `long:"pollinterval" description:"Interval between event poll passes"`
	BlockInterval time.Duration `long:"blockinterval" description:"Simnet block production interval"`
}

// Config holds all settings of the swap daemon.
type Config struct {
	ShowVersion bool `long:"version" description:"Display version information and exit"`

	SwapDir    string `long:"swapdir" description:"The directory for all of the daemon's data."`
	ConfigFile string `long:"configfile" description:"Path to configuration file."`
	DataDir    string `long:"datadir" description:"Directory for the swap database."`
	LogDir     string `long:"logdir" description:"Directory to log output."`

	MaxLogFiles    int    `long:"maxlogfiles" description:"Maximum logfiles to keep (0 for no rotation)"`
	MaxLogFileSize int    `long:"maxlogfilesize" description:"Maximum logfile size in MB"`
	DebugLevel     string `long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- You may also specify <subsystem>=<level>,<subsystem2>=<level>,... to set the log level for individual subsystems -- Use show to list available subsystems"`

	VaultKeyFile string `long:"vaultkeyfile" description:"Path to the 32 byte secret vault encryption key. Generated on first start when absent."`

	Admin           string `long:"admin" description:"Address allowed to deactivate resolvers"`
	MinResolverBond int64  `long:"minresolverbond" description:"Minimum collateral a resolver must post"`

	SafetyMargin   time.Duration `long:"safetymargin" description:"Minimum gap between the destination and source escrow timelocks"`
	AtRiskBuffer   time.Duration `long:"atriskbuffer" description:"Remaining claim time below which an operator alert fires"`
	SweepInterval  time.Duration `long:"sweepinterval" description:"Interval between timeout sweep passes"`
	MaxSwapWorkers int           `long:"maxswapworkers" description:"Maximum number of concurrently driven swaps"`

	SourceChain *chainConfig `group:"srcchain" namespace:"srcchain"`
	DestChain   *chainConfig `group:"dstchain" namespace:"dstchain"`
}

// DefaultConfig returns all default values for the Config struct.
func DefaultConfig() Config {
	return Config{
		SwapDir:        SwapDirBase,
		ConfigFile:     defaultConfigFile,
		DataDir:        SwapDirBase,
		LogDir:         defaultLogDir,
		MaxLogFiles:    defaultMaxLogFiles,
		MaxLogFileSize: defaultMaxLogFileSize,
		DebugLevel:     defaultLogLevel,

		VaultKeyFile: filepath.Join(SwapDirBase, "vault.key"),

		MinResolverBond: defaultMinResolverBond,
		SweepInterval:   defaultSweepInterval,

		SourceChain: &chainConfig{
			Name:          defaultSourceChain,
			ConfDepth:     defaultConfDepth,
			PollInterval:  defaultPollInterval,
			BlockInterval: defaultBlockInterval,
		},
		DestChain: &chainConfig{
			Name:          defaultDestChain,
			ConfDepth:     defaultConfDepth,
			PollInterval:  defaultPollInterval,
			BlockInterval: defaultBlockInterval,
		},
	}
}

// Validate cleans up paths in the config provided and validates it.
func Validate(cfg *Config) error {
	// Cleanup any paths before we use them.
	cfg.SwapDir = lncfg.CleanAndExpandPath(cfg.SwapDir)
	cfg.DataDir = lncfg.CleanAndExpandPath(cfg.DataDir)
	cfg.LogDir = lncfg.CleanAndExpandPath(cfg.LogDir)
	cfg.VaultKeyFile = lncfg.CleanAndExpandPath(cfg.VaultKeyFile)

	// Since our swap directory overrides our log/data dir values, make
	// sure that they are not set when swap dir is set. We fail here rather
	// than overwriting and potentially confusing the user.
	logDirSet := cfg.LogDir != defaultLogDir
	dataDirSet := cfg.DataDir != SwapDirBase
	swapDirSet := cfg.SwapDir != SwapDirBase

	if swapDirSet {
		if logDirSet {
			return fmt.Errorf("swapdir overwrites logdir, please " +
				"only set one value")
		}

		if dataDirSet {
			return fmt.Errorf("swapdir overwrites datadir, " +
				"please only set one value")
		}

		// Once we are satisfied that no other config value was set, we
		// replace the log and data dirs with the swap dir.
		cfg.LogDir = filepath.Join(cfg.SwapDir, defaultLogDirname)
		cfg.DataDir = cfg.SwapDir
	}

	if cfg.SourceChain.Name == cfg.DestChain.Name {
		return fmt.Errorf("srcchain and dstchain must differ")
	}

	if cfg.MinResolverBond <= 0 {
		return fmt.Errorf("minresolverbond must be positive")
	}

	return nil
}

// getConfigPath gets our config path based on the values that are set in our
// config.
func getConfigPath(cfg Config, swapDir string) string {
	// If the config file path provided by the user is set, then we just
	// use this value.
	if cfg.ConfigFile != defaultConfigFile {
		return lncfg.CleanAndExpandPath(cfg.ConfigFile)
	}

	// If the user has set a swap directory that is different to the
	// default we will use this directory as the location of our config
	// file.
	if swapDir != SwapDirBase {
		return filepath.Join(swapDir, defaultConfigFilename)
	}

	// Otherwise, we are using our default swap directory.
	return cfg.ConfigFile
}

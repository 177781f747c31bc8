package commands

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/Linkolnn/Icore/src/config"
	"github.com/Linkolnn/Icore/src/icore"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

//NewRunCmd returns the command that starts an Icore node
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "run",
		Short:   "Run node",
		PreRunE: loadConfig,
		RunE:    runIcore,
	}
	AddRunFlags(cmd)
	return cmd
}

/*******************************************************************************
* RUN
*******************************************************************************/

func runIcore(cmd *cobra.Command, args []string) error {
	engine := icore.NewIcore(&_config.Icore)

	if err := engine.Init(); err != nil {
		_config.Icore.Logger().Error("Cannot initialize engine:", err)
		return err
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		engine.Shutdown()
	}()

	return engine.Run()
}

/*******************************************************************************
* CONFIG
*******************************************************************************/

//AddRunFlags adds flags to the Run command
func AddRunFlags(cmd *cobra.Command) {
	cmd.Flags().String("datadir", _config.Icore.DataDir, "Top-level directory for configuration and data")
	cmd.Flags().String("log", _config.Icore.LogLevel, "debug, info, warn, error, fatal, panic")
	cmd.Flags().String("log-dir", _config.Icore.LogDir, "Directory receiving one log file per level")

	// Network
	cmd.Flags().StringP("listen", "l", _config.Icore.BindAddr, "Listen IP:Port of the HTTP and websocket service")
	cmd.Flags().Int("send-buffer", _config.Icore.SendBuffer, "Outbound frames buffered per connection")

	// Store
	cmd.Flags().String("store", _config.Icore.Store, "Session store: inmem, badger or redis")
	cmd.Flags().String("db", _config.Icore.DatabaseDir, "Badger database directory")
	cmd.Flags().String("redis-url", _config.Icore.RedisURL, "Redis URL of the session store and rate limiter")
	cmd.Flags().Duration("session-ttl", _config.Icore.SessionTTL, "Lifetime of call sessions")
	cmd.Flags().Duration("store-timeout", _config.Icore.StoreTimeout, "Timeout of store and persistence calls")

	// Persistence
	cmd.Flags().String("persistence", _config.Icore.Persistence, "Persistence Service: inmem or sqlite")
	cmd.Flags().String("sqlite", _config.Icore.SQLitePath, "SQLite database file")

	// Calls
	cmd.Flags().Duration("call-token-lifetime", _config.Icore.CallTokenLifetime, "Validity of call tokens")
	cmd.Flags().StringSlice("ice-addr", _config.Icore.ICEAddresses, "STUN server URIs handed to call participants")

	// Rate limit
	cmd.Flags().Bool("rate-limit", _config.Icore.RateLimit, "Share message rate limits across nodes through Redis")
	cmd.Flags().Int("message-rate-limit", _config.Icore.MessageRateLimit, "Messages a user may send per window, 0 to disable")
	cmd.Flags().Duration("message-rate-window", _config.Icore.MessageRateWindow, "Window of the message rate limit")

	// WAMP
	cmd.Flags().Bool("wamp", _config.Icore.WAMP, "Mirror broadcasts as WAMP publications")
	cmd.Flags().String("wamp-addr", _config.Icore.WAMPAddr, "Listen IP:Port of the WAMP router")
	cmd.Flags().String("wamp-realm", _config.Icore.WAMPRealm, "WAMP realm")
}

func loadConfig(cmd *cobra.Command, args []string) error {
	err := bindFlagsLoadViper(cmd)
	if err != nil {
		return err
	}

	// If --datadir was explicitely set, but not --db or --sqlite, this will
	// update the default database paths to be inside the new datadir
	_config.Icore.SetDataDir(_config.Icore.DataDir)

	logger, err := newLogger(_config.Icore.LogLevel, _config.Icore.LogDir)
	if err != nil {
		return err
	}
	_config.Icore.SetLogger(logger)

	if err := _config.Icore.LoadSecrets(); err != nil {
		return err
	}

	logFields := logrus.Fields{
		"icore.DataDir":           _config.Icore.DataDir,
		"icore.BindAddr":          _config.Icore.BindAddr,
		"icore.LogLevel":          _config.Icore.LogLevel,
		"icore.Store":             _config.Icore.Store,
		"icore.Persistence":       _config.Icore.Persistence,
		"icore.SessionTTL":        _config.Icore.SessionTTL,
		"icore.StoreTimeout":      _config.Icore.StoreTimeout,
		"icore.CallTokenLifetime": _config.Icore.CallTokenLifetime,
		"icore.SendBuffer":        _config.Icore.SendBuffer,
		"icore.MessageRateLimit":  _config.Icore.MessageRateLimit,
		"icore.ICEAddresses":      _config.Icore.ICEAddresses,
		"icore.WAMP":              _config.Icore.WAMP,
	}

	switch _config.Icore.Store {
	case config.StoreBadger:
		logFields["icore.DatabaseDir"] = _config.Icore.DatabaseDir
	case config.StoreRedis:
		logFields["icore.RedisURL"] = _config.Icore.RedisURL
	}
	if _config.Icore.Persistence == config.PersistenceSQLite {
		logFields["icore.SQLitePath"] = _config.Icore.SQLitePath
	}
	if _config.Icore.WAMP {
		logFields["icore.WAMPAddr"] = _config.Icore.WAMPAddr
		logFields["icore.WAMPRealm"] = _config.Icore.WAMPRealm
	}

	_config.Icore.Logger().WithFields(logFields).Debug("RUN")

	return nil
}

// Bind all flags and read the config into viper
func bindFlagsLoadViper(cmd *cobra.Command) error {
	// Register flags with viper. Include flags from this command and all other
	// persistent flags from the parent
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// first unmarshal to read from CLI flags
	if err := viper.Unmarshal(_config); err != nil {
		return err
	}

	// look for config file in [datadir]/icore.toml (.json, .yaml also work)
	viper.SetConfigName("icore")
	viper.AddConfigPath(_config.Icore.DataDir)

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		_config.Icore.Logger().Debugf("Using config file: %s", viper.ConfigFileUsed())
	} else if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		_config.Icore.Logger().Debugf("No config file found in: %s", _config.Icore.DataDir)
	} else {
		return err
	}

	// second unmarshal to read from config file
	return viper.Unmarshal(_config)
}

package commands

import (
	"github.com/hearthnet/hearth/src/hearth"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

//NewRunCmd returns the command that starts a Hearth server
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "run",
		Short:   "Run server",
		PreRunE: loadConfig,
		RunE:    runHearth,
	}
	AddRunFlags(cmd)
	return cmd
}

/*******************************************************************************
* RUN
*******************************************************************************/

func runHearth(cmd *cobra.Command, args []string) error {
	engine := hearth.NewHearth(_config)

	if err := engine.Init(); err != nil {
		_config.Logger().Error("Cannot initialize engine:", err)
		return err
	}

	defer engine.Shutdown()

	engine.Run()

	return nil
}

/*******************************************************************************
* CONFIG
*******************************************************************************/

//AddRunFlags adds flags to the Run command
func AddRunFlags(cmd *cobra.Command) {

	cmd.Flags().String("datadir", _config.DataDir, "Top-level directory for configuration and data")
	cmd.Flags().String("log", _config.LogLevel, "debug, info, warn, error, fatal, panic")
	cmd.Flags().Bool("log-file", _config.LogToFile, "Also write logs to a file in datadir")
	cmd.Flags().String("moniker", _config.Moniker, "Optional name")

	// Identity
	cmd.Flags().String("server-name", _config.ServerName, "Name this server signs events with")

	// Service
	cmd.Flags().StringP("service-listen", "s", _config.ServiceAddr, "Listen IP:Port for HTTP service")
	cmd.Flags().Bool("no-service", _config.NoService, "Do not start the HTTP service")

	// Store
	cmd.Flags().Bool("store", _config.Store, "Use badgerDB instead of in-mem DB")
	cmd.Flags().String("db", _config.DatabaseDir, "Database directory")
	cmd.Flags().Bool("bootstrap", _config.Bootstrap, "Load from database")
	cmd.Flags().Int("cache-size", _config.CacheSize, "Number of items in LRU caches")

	// Rooms
	cmd.Flags().Bool("no-fetch", _config.NoFetch, "Do not fetch missing events from other servers")
	cmd.Flags().String("room-version", _config.RoomVersion, "Default room version for new rooms")
}

func loadConfig(cmd *cobra.Command, args []string) error {

	err := bindFlagsLoadViper(cmd)
	if err != nil {
		return err
	}

	// If --datadir was explicitely set, but not --db, this will update the
	// default database dir to be inside the new datadir
	_config.SetDataDir(_config.DataDir)

	logFields := logrus.Fields{
		"hearth.DataDir":     _config.DataDir,
		"hearth.ServerName":  _config.ServerName,
		"hearth.ServiceAddr": _config.ServiceAddr,
		"hearth.NoService":   _config.NoService,
		"hearth.Store":       _config.Store,
		"hearth.LogLevel":    _config.LogLevel,
		"hearth.Moniker":     _config.Moniker,
		"hearth.CacheSize":   _config.CacheSize,
		"hearth.NoFetch":     _config.NoFetch,
		"hearth.RoomVersion": _config.RoomVersion,
	}

	if _config.Store {
		logFields["hearth.DatabaseDir"] = _config.DatabaseDir
		logFields["hearth.Bootstrap"] = _config.Bootstrap
	}

	_config.Logger().WithFields(logFields).Debug("RUN")

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

	// look for config file in [datadir]/hearth.toml (.json, .yaml also work)
	viper.SetConfigName("hearth")        // name of config file (without extension)
	viper.AddConfigPath(_config.DataDir) // search root directory

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		_config.Logger().Debugf("Using config file: %s", viper.ConfigFileUsed())
	} else if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		_config.Logger().Debugf("No config file found in: %s", _config.DataDir)
	} else {
		return err
	}

	// second unmarshal to read from config file
	return viper.Unmarshal(_config)
}

package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Config keys recognised in agstore.yaml.
const (
	cfgKeyDatabase  = "database"
	cfgKeyFilesRoot = "files_root"
	cfgKeyUser      = "user"

	defaultDatabase = "agstore.db"
)

// loadConfig fills RootOptions from the config file and AGSTORE_* environment
// variables. Explicitly set flags win; a missing config file is only an error
// when --config named it.
func loadConfig(cmd *cobra.Command, opts *RootOptions) error {
	v := viper.New()
	v.SetDefault(cfgKeyDatabase, defaultDatabase)
	v.SetEnvPrefix("AGSTORE")
	v.AutomaticEnv()

	if opts.Config != "" {
		v.SetConfigFile(opts.Config)
	} else {
		v.SetConfigName("agstore")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".agstore"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if opts.Config != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
	}

	flags := cmd.Root().PersistentFlags()
	if !flags.Changed("db") {
		opts.Database = v.GetString(cfgKeyDatabase)
	}
	if !flags.Changed("files") && v.IsSet(cfgKeyFilesRoot) {
		opts.FilesRoot = v.GetString(cfgKeyFilesRoot)
	}
	if !flags.Changed("user") && v.IsSet(cfgKeyUser) {
		opts.User = v.GetString(cfgKeyUser)
	}
	return nil
}

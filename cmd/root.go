package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	verbose bool

	// Logger is the process-wide root logger; components derive child
	// loggers from it.
	Logger zerolog.Logger
)

var RootCmd = &cobra.Command{
	Use:   "cms-migrate",
	Short: "One-shot SQLite to PostgreSQL content migration",
	Long: `
   ____ __  __ ____        __  __ ___ ____ ____      _  _____ _____
  / ___|  \/  / ___|      |  \/  |_ _/ ___|  _ \    / \|_   _| ____|
 | |   | |\/| \___ \ _____| |\/| || | |  _| |_) |  / _ \ | | |  _|
 | |___| |  | |___) |_____| |  | || | |_| |  _ <  / ___ \| | | |___
  \____|_|  |_|____/      |_|  |_|___\____|_| \_\/_/   \_\_| |_____|

CMS MIGRATE 🚚 - SQLite to PostgreSQL content mover

Exports a SQLite content database, normalizes its values, and loads
them into PostgreSQL in dependency order.
`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := zerolog.InfoLevel
		if verbose {
			level = zerolog.DebugLevel
		}
		Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
			Level(level).
			With().Timestamp().Logger()
	},
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := RootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	pf := RootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default is ./cms-migrate.yaml)")
	pf.BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	pf.String("sqlite-path", "", "path to the source SQLite database")
	pf.String("pg-host", "localhost", "PostgreSQL host")
	pf.Int("pg-port", 5432, "PostgreSQL port")
	pf.String("pg-database", "", "PostgreSQL database name")
	pf.String("pg-user", "postgres", "PostgreSQL user")
	pf.String("pg-password", "", "PostgreSQL password")
	pf.String("pg-connection-string", "", "full PostgreSQL connection string (overrides the parts)")
	pf.Bool("pg-ssl", false, "require SSL on the PostgreSQL connection")
	pf.String("pg-schema", "public", "target PostgreSQL schema")
	pf.Int("max-connections", 10, "maximum open connections to PostgreSQL")

	// Flag > Env > Config > Default
	viper.BindPFlag("sqlite.path", pf.Lookup("sqlite-path"))
	viper.BindPFlag("postgres.host", pf.Lookup("pg-host"))
	viper.BindPFlag("postgres.port", pf.Lookup("pg-port"))
	viper.BindPFlag("postgres.database", pf.Lookup("pg-database"))
	viper.BindPFlag("postgres.user", pf.Lookup("pg-user"))
	viper.BindPFlag("postgres.password", pf.Lookup("pg-password"))
	viper.BindPFlag("postgres.connection_string", pf.Lookup("pg-connection-string"))
	viper.BindPFlag("postgres.ssl", pf.Lookup("pg-ssl"))
	viper.BindPFlag("postgres.schema", pf.Lookup("pg-schema"))
	viper.BindPFlag("postgres.max_connections", pf.Lookup("max-connections"))

	viper.BindEnv("sqlite.path", "SQLITE_PATH")
	viper.BindEnv("postgres.host", "PG_HOST")
	viper.BindEnv("postgres.port", "PG_PORT")
	viper.BindEnv("postgres.database", "PG_DATABASE")
	viper.BindEnv("postgres.user", "PG_USER")
	viper.BindEnv("postgres.password", "PG_PASSWORD")
	viper.BindEnv("postgres.connection_string", "PG_CONNECTION_STRING")
	viper.BindEnv("postgres.ssl", "PG_SSL")
	viper.BindEnv("postgres.schema", "PG_SCHEMA")
	viper.BindEnv("postgres.max_connections", "PG_MAX_CONNECTIONS")
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		if ex, err := os.Executable(); err == nil {
			viper.AddConfigPath(filepath.Dir(ex))
		}
		viper.AddConfigPath(".")
		viper.SetConfigName("cms-migrate")
		viper.SetConfigType("yaml")
	}

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Println("Using config file:", viper.ConfigFileUsed())
	}
}

// cmd/fraudruled/main.go

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/fraudscore/rex/pkg/logging"
	"github.com/fraudscore/rex/pkg/runtime"
	"github.com/fraudscore/rex/pkg/store"
)

// Config is the process configuration, read from a JSON file via viper per
// spec §5's "engine semantics are fixed by the compiled program; everything
// else is host config" split.
type Config struct {
	LogLevel       string
	LogDestination string
	RedisAddress   string
	RedisPassword  string
	RedisDB        int
	DashboardPort  int
	DashboardTick  time.Duration
}

// Dependencies bundles what runMainLoop needs once configuration is loaded.
type Dependencies struct {
	Store     store.BytecodeStore
	Engine    *runtime.Engine
	Monitor   *runtime.Monitor
	Dashboard *runtime.Dashboard
}

// StoreFactory abstracts store construction for testability, mirroring the
// teacher's rexd DI seams.
type StoreFactory interface {
	NewStore(addr, password string, db int) (store.BytecodeStore, error)
}

// EngineFactory abstracts engine construction from a store's currently
// published bytecode.
type EngineFactory interface {
	NewEngine(s store.BytecodeStore) (*runtime.Engine, error)
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx, os.Args, &RealStoreFactory{}, &RealEngineFactory{}); err != nil {
		log.Fatal().Err(err).Msg("fraudruled: fatal error")
	}
}

func run(ctx context.Context, args []string, storeFactory StoreFactory, engineFactory EngineFactory) error {
	config, err := parseConfig(args)
	if err != nil {
		return fmt.Errorf("parse configuration: %w", err)
	}

	if err := logging.ConfigureLogger(config.LogLevel, config.LogDestination); err != nil {
		return fmt.Errorf("configure logger: %w", err)
	}

	deps, err := setupDependencies(config, storeFactory, engineFactory)
	if err != nil {
		return fmt.Errorf("setup dependencies: %w", err)
	}

	return runMainLoop(ctx, deps, config)
}

func parseConfig(args []string) (*Config, error) {
	configFile := flag.String("config", "", "path to configuration file")
	flag.CommandLine.Parse(args[1:])

	v := viper.New()
	v.SetConfigType("json")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.output", "console")
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.database", 0)
	v.SetDefault("dashboard.port", 8080)
	v.SetDefault("dashboard.tick_seconds", 2)

	if *configFile == "" {
		v.SetConfigName("fraudruled")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.fraudruled")
		v.AddConfigPath("/etc/fraudruled")
	} else {
		v.SetConfigFile(*configFile)
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || *configFile != "" {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		log.Info().Msg("no configuration file found, using defaults")
	}

	return &Config{
		LogLevel:       v.GetString("logging.level"),
		LogDestination: v.GetString("logging.output"),
		RedisAddress:   v.GetString("redis.address"),
		RedisPassword:  v.GetString("redis.password"),
		RedisDB:        v.GetInt("redis.database"),
		DashboardPort:  v.GetInt("dashboard.port"),
		DashboardTick:  time.Duration(v.GetInt("dashboard.tick_seconds")) * time.Second,
	}, nil
}

func setupDependencies(config *Config, storeFactory StoreFactory, engineFactory EngineFactory) (*Dependencies, error) {
	s, err := storeFactory.NewStore(config.RedisAddress, config.RedisPassword, config.RedisDB)
	if err != nil {
		return nil, fmt.Errorf("connect store: %w", err)
	}

	engine, err := engineFactory.NewEngine(s)
	if err != nil {
		return nil, fmt.Errorf("load engine: %w", err)
	}

	monitor := runtime.NewMonitor()
	dashboard := runtime.NewDashboard(engine, monitor, config.DashboardPort, config.DashboardTick)

	return &Dependencies{Store: s, Engine: engine, Monitor: monitor, Dashboard: dashboard}, nil
}

// runMainLoop starts the dashboard and blocks, atomically swapping the
// active engine whenever the store announces a reload and shutting down
// cleanly on SIGINT/SIGTERM.
func runMainLoop(ctx context.Context, deps *Dependencies, config *Config) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var activeEngine atomic.Pointer[runtime.Engine]
	activeEngine.Store(deps.Engine)

	reloads := deps.Store.ReceiveReload()

	go func() {
		if err := deps.Dashboard.Start(); err != nil {
			logging.Logger.Error().Err(err).Msg("dashboard exited")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logging.Logger.Info().Msg("fraudruled started")

	for {
		select {
		case <-reloads:
			data, err := deps.Store.GetBytecode()
			if err != nil {
				logging.Logger.Error().Err(err).Msg("failed to fetch bytecode after reload notification")
				continue
			}
			next, err := runtime.FromBytecode(data)
			if err != nil {
				logging.Logger.Error().Err(err).Msg("rejected malformed bytecode on reload")
				continue
			}
			activeEngine.Store(next)
			deps.Dashboard.Reload(next)
			logging.Logger.Info().Msg("hot-swapped engine from reload notification")
		case <-sigChan:
			logging.Logger.Info().Msg("shutting down fraudruled")
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}

// RealStoreFactory constructs a live RedisStore.
type RealStoreFactory struct{}

func (f *RealStoreFactory) NewStore(addr, password string, db int) (store.BytecodeStore, error) {
	return store.NewRedisStore(addr, password, db)
}

// RealEngineFactory builds an Engine from whatever bytecode is currently
// published in the store, falling back to a no-op single-rule program when
// none has been published yet so the process still starts cleanly.
type RealEngineFactory struct{}

func (f *RealEngineFactory) NewEngine(s store.BytecodeStore) (*runtime.Engine, error) {
	data, err := s.GetBytecode()
	if err != nil {
		return nil, err
	}
	if data == nil {
		return runtime.FromDSL(`rule "noop" { priority: 0, enabled: false, if (false) {} }`)
	}
	return runtime.FromBytecode(data)
}

package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	bind       string
	configFile string
	logFile    string
	port       int
	profile    bool
	tlsCert    string
	tlsKey     string
	verbose    bool

	closeTimeout time.Duration

	websocketLimit        int
	registeredPlayerLimit int
	totalGameLimit        int
	inProgressGameLimit   int

	websocketIdleThreshold     time.Duration
	websocketInactiveThreshold time.Duration
	playerIdleThreshold        time.Duration
	playerInactiveThreshold    time.Duration
	gameIdleThreshold          time.Duration
	gameInactiveThreshold      time.Duration
	gameRetentionThreshold     time.Duration

	idleWebsocketCheckPeriod  time.Duration
	idleWebsocketCheckDelay   time.Duration
	idlePlayerCheckPeriod     time.Duration
	idlePlayerCheckDelay      time.Duration
	idleGameCheckPeriod       time.Duration
	idleGameCheckDelay        time.Duration
	obsoleteGameCheckPeriod   time.Duration
	obsoleteGameCheckDelay    time.Duration

	messageScope string
}

func (c *Config) validate() error {
	if (c.tlsCert == "") != (c.tlsKey == "") {
		return errors.New("both --tls-cert and --tls-key must be provided together")
	}
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.port)
	}
	for name, limit := range map[string]int{
		"websocket-limit":         c.websocketLimit,
		"registered-player-limit": c.registeredPlayerLimit,
		"total-game-limit":        c.totalGameLimit,
		"in-progress-game-limit":  c.inProgressGameLimit,
	} {
		if limit < 1 {
			return fmt.Errorf("invalid --%s (must be at least 1): %d", name, limit)
		}
	}
	if c.websocketIdleThreshold >= c.websocketInactiveThreshold {
		return errors.New("--websocket-idle-threshold must be below --websocket-inactive-threshold")
	}
	if c.playerIdleThreshold >= c.playerInactiveThreshold {
		return errors.New("--player-idle-threshold must be below --player-inactive-threshold")
	}
	if c.gameIdleThreshold >= c.gameInactiveThreshold {
		return errors.New("--game-idle-threshold must be below --game-inactive-threshold")
	}
	if c.messageScope != messageScopeServer && c.messageScope != messageScopeGame {
		return fmt.Errorf("invalid --message-scope (must be %q or %q): %q", messageScopeServer, messageScopeGame, c.messageScope)
	}
	return nil
}

func (c *Config) scheme() string {
	if c.tlsCert != "" && c.tlsKey != "" {
		return "https"
	}
	return "http"
}

const (
	messageScopeServer = "server"
	messageScopeGame   = "game"
)

func newCmd(cfg *Config) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("APOLOGIES")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "apologies",
		Short:         "A multiplayer coordination server for the Apologies board game.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		Version:       releaseVersion,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.configFile != "" {
				v.SetConfigFile(cfg.configFile)
				if err := v.ReadInConfig(); err != nil {
					return fmt.Errorf("reading config file: %w", err)
				}
			}
			applyConfig(v, cmd.Flags())
			if err := cfg.validate(); err != nil {
				return err
			}
			return Serve(cmd.Context(), cfg)
		},
	}

	fs := cmd.Flags()

	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVarP(&cfg.bind, "bind", "b", "0.0.0.0", "address to bind to (env: APOLOGIES_BIND)")
	fs.StringVarP(&cfg.configFile, "config", "c", "", "path to a config file read before flags (env: APOLOGIES_CONFIG)")
	fs.StringVar(&cfg.logFile, "log", "", "path to a log file; stderr when unset (env: APOLOGIES_LOG)")
	fs.IntVarP(&cfg.port, "port", "p", 8080, "port to listen on (env: APOLOGIES_PORT)")
	fs.BoolVar(&cfg.profile, "profile", false, "register net/http/pprof handlers (env: APOLOGIES_PROFILE)")
	fs.StringVar(&cfg.tlsCert, "tls-cert", "", "path to tls certificate (env: APOLOGIES_TLS_CERT)")
	fs.StringVar(&cfg.tlsKey, "tls-key", "", "path to tls keyfile (env: APOLOGIES_TLS_KEY)")
	fs.BoolVarP(&cfg.verbose, "verbose", "v", false, "display additional output (env: APOLOGIES_VERBOSE)")

	fs.DurationVar(&cfg.closeTimeout, "close-timeout", 10*time.Second, "graceful-shutdown drain limit (env: APOLOGIES_CLOSE_TIMEOUT)")

	fs.IntVar(&cfg.websocketLimit, "websocket-limit", 100, "max concurrent connections (env: APOLOGIES_WEBSOCKET_LIMIT)")
	fs.IntVar(&cfg.registeredPlayerLimit, "registered-player-limit", 100, "max registered players (env: APOLOGIES_REGISTERED_PLAYER_LIMIT)")
	fs.IntVar(&cfg.totalGameLimit, "total-game-limit", 25, "max tracked games in any state (env: APOLOGIES_TOTAL_GAME_LIMIT)")
	fs.IntVar(&cfg.inProgressGameLimit, "in-progress-game-limit", 25, "max advertised plus started games (env: APOLOGIES_IN_PROGRESS_GAME_LIMIT)")

	fs.DurationVar(&cfg.websocketIdleThreshold, "websocket-idle-threshold", 2*time.Minute, "connection traffic gap before idle warning (env: APOLOGIES_WEBSOCKET_IDLE_THRESHOLD)")
	fs.DurationVar(&cfg.websocketInactiveThreshold, "websocket-inactive-threshold", 5*time.Minute, "connection traffic gap before forced close (env: APOLOGIES_WEBSOCKET_INACTIVE_THRESHOLD)")
	fs.DurationVar(&cfg.playerIdleThreshold, "player-idle-threshold", 15*time.Minute, "player traffic gap before idle warning (env: APOLOGIES_PLAYER_IDLE_THRESHOLD)")
	fs.DurationVar(&cfg.playerInactiveThreshold, "player-inactive-threshold", 30*time.Minute, "player traffic gap before unregistration (env: APOLOGIES_PLAYER_INACTIVE_THRESHOLD)")
	fs.DurationVar(&cfg.gameIdleThreshold, "game-idle-threshold", 10*time.Minute, "game traffic gap before idle warning (env: APOLOGIES_GAME_IDLE_THRESHOLD)")
	fs.DurationVar(&cfg.gameInactiveThreshold, "game-inactive-threshold", 20*time.Minute, "game traffic gap before cancellation (env: APOLOGIES_GAME_INACTIVE_THRESHOLD)")
	fs.DurationVar(&cfg.gameRetentionThreshold, "game-retention-threshold", 30*time.Minute, "how long completed games are retained (env: APOLOGIES_GAME_RETENTION_THRESHOLD)")

	fs.DurationVar(&cfg.idleWebsocketCheckPeriod, "idle-websocket-check-period", 30*time.Second, "idle connection sweep period (env: APOLOGIES_IDLE_WEBSOCKET_CHECK_PERIOD)")
	fs.DurationVar(&cfg.idleWebsocketCheckDelay, "idle-websocket-check-delay", 30*time.Second, "idle connection sweep startup delay (env: APOLOGIES_IDLE_WEBSOCKET_CHECK_DELAY)")
	fs.DurationVar(&cfg.idlePlayerCheckPeriod, "idle-player-check-period", 2*time.Minute, "idle player sweep period (env: APOLOGIES_IDLE_PLAYER_CHECK_PERIOD)")
	fs.DurationVar(&cfg.idlePlayerCheckDelay, "idle-player-check-delay", 5*time.Minute, "idle player sweep startup delay (env: APOLOGIES_IDLE_PLAYER_CHECK_DELAY)")
	fs.DurationVar(&cfg.idleGameCheckPeriod, "idle-game-check-period", 2*time.Minute, "idle game sweep period (env: APOLOGIES_IDLE_GAME_CHECK_PERIOD)")
	fs.DurationVar(&cfg.idleGameCheckDelay, "idle-game-check-delay", 5*time.Minute, "idle game sweep startup delay (env: APOLOGIES_IDLE_GAME_CHECK_DELAY)")
	fs.DurationVar(&cfg.obsoleteGameCheckPeriod, "obsolete-game-check-period", 5*time.Minute, "obsolete game sweep period (env: APOLOGIES_OBSOLETE_GAME_CHECK_PERIOD)")
	fs.DurationVar(&cfg.obsoleteGameCheckDelay, "obsolete-game-check-delay", 5*time.Minute, "obsolete game sweep startup delay (env: APOLOGIES_OBSOLETE_GAME_CHECK_DELAY)")

	fs.StringVar(&cfg.messageScope, "message-scope", messageScopeServer, "who a player may message: server (any player) or game (fellow participants) (env: APOLOGIES_MESSAGE_SCOPE)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
	})
	applyConfig(v, fs)

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("apologies v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}

// applyConfig copies viper-resolved values (env, config file) onto any flag
// the user did not set explicitly, preserving flag > env > file precedence.
func applyConfig(v *viper.Viper, fs *pflag.FlagSet) {
	fs.VisitAll(func(f *pflag.Flag) {
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})
}

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/pterm/pterm"
	"github.com/pterm/pterm/putils"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/cmhcmh79/freecell-vs/internal/config"
	"github.com/cmhcmh79/freecell-vs/internal/logging"
	"github.com/cmhcmh79/freecell-vs/internal/match"
	"github.com/cmhcmh79/freecell-vs/internal/repository"
	"github.com/cmhcmh79/freecell-vs/internal/transport"
	"github.com/cmhcmh79/freecell-vs/internal/transport/natsbus"
	"github.com/cmhcmh79/freecell-vs/internal/transport/wsrelay"
)

const (
	modeSolo    = "solo"
	modeStage   = "stage"
	modeVersus  = "versus"
	modeQueue   = "queue"
	modeStats   = "stats"
	statsLimit  = 10
	shortIDSize = 4
)

func main() {
	flags := pflag.NewFlagSet("freecell", pflag.ExitOnError)
	configPath := flags.String("config", "config/config.yaml", "path to configuration file")
	mode := flags.String("mode", modeSolo, "solo, stage, versus, queue or stats")
	seed := flags.Int64("seed", -1, "deal seed for solo games (negative picks one)")
	stage := flags.Int("stage", 0, "ladder stage to play (0 continues where you left off)")
	room := flags.String("room", "", "room code to join in versus mode (empty creates one)")
	untimed := flags.Bool("untimed", false, "play duels without the countdown")
	flags.String("name", "", "display name (overrides client.display_name)")
	flags.String("player-id", "", "player id (overrides client.player_id)")
	flags.Int("rating", 0, "rating used when no database is configured (overrides client.rating)")
	flags.String("transport", "", "memory, relay or nats (overrides client.transport)")
	flags.String("relay-url", "", "relay websocket url (overrides client.relay_url)")
	flags.String("nats-url", "", "nats server url (overrides client.nats_url)")
	flags.String("log-file", "", "log file (overrides client.log_file)")
	flags.String("database-url", "", "postgres url for results (overrides database.url)")
	_ = flags.Parse(os.Args[1:])

	v := config.New()
	bindFlag(v, flags, "client.display_name", "name")
	bindFlag(v, flags, "client.player_id", "player-id")
	bindFlag(v, flags, "client.rating", "rating")
	bindFlag(v, flags, "client.transport", "transport")
	bindFlag(v, flags, "client.relay_url", "relay-url")
	bindFlag(v, flags, "client.nats_url", "nats-url")
	bindFlag(v, flags, "client.log_file", "log-file")
	bindFlag(v, flags, "database.url", "database-url")
	if err := config.ReadFile(v, *configPath); err != nil {
		pterm.Error.Printfln("Failed to load configuration: %v", err)
		os.Exit(1)
	}
	cfg, err := config.Decode(v)
	if err != nil {
		pterm.Error.Printfln("Invalid configuration: %v", err)
		os.Exit(1)
	}

	logger, err := logging.NewFile(cfg.Logging, cfg.Client.LogFile)
	if err != nil {
		pterm.Error.Printfln("Failed to initialize logger: %v", err)
		os.Exit(1)
	}
	defer logger.Sync()

	printBanner()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	duelMode := match.TimedDuel
	if *untimed {
		duelMode = match.UntimedDuel
	}
	networked := *mode == modeVersus || *mode == modeQueue

	a := &app{
		cfg:    cfg,
		self:   resolveIdentity(cfg.Client, networked),
		logger: logger,
	}
	a.logger = logger.With(zap.String("player_id", a.self.ID))
	a.logger.Info("client starting", zap.String("mode", *mode), zap.String("transport", cfg.Client.Transport))

	if cfg.Database.Enabled() {
		a.db = openStore(ctx, cfg, a.self, a.logger)
		if a.db != nil {
			defer a.db.Close()
		}
	}

	if networked {
		tr, err := dialTransport(ctx, cfg.Client, a.logger)
		if err != nil {
			pterm.Error.Printfln("Failed to connect: %v", err)
			os.Exit(1)
		}
		if tr != nil {
			defer tr.Close()
		}
		a.tr = tr
	}

	// Input starts after any interactive prompt so both do not read stdin.
	a.in = newInput(os.Stdin)

	switch *mode {
	case modeSolo:
		err = a.runSolo(ctx, *seed)
	case modeStage:
		err = a.runStage(ctx, *stage)
	case modeVersus:
		err = a.runVersus(ctx, *room, duelMode)
	case modeQueue:
		err = a.runQueue(ctx, duelMode)
	case modeStats:
		err = a.runStats(ctx)
	default:
		err = fmt.Errorf("unknown mode %q", *mode)
	}

	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		pterm.Info.Println("bye")
	default:
		a.logger.Error("session failed", zap.Error(err))
		pterm.Error.Println(err)
		stop()
		_ = logger.Sync()
		os.Exit(1)
	}
}

func printBanner() {
	title, err := pterm.DefaultBigText.WithLetters(
		putils.LettersFromStringWithStyle("Free", pterm.FgLightGreen.ToStyle()),
		putils.LettersFromStringWithStyle("Cell", pterm.FgLightRed.ToStyle()),
	).Srender()
	if err != nil {
		return
	}
	pterm.Print(title)
}

// resolveIdentity fills the player id and, for network modes, asks for a
// display name when none is configured.
func resolveIdentity(cfg config.ClientConfig, prompt bool) identity {
	id := cfg.PlayerID
	if id == "" {
		id = uuid.NewString()
	}
	name := strings.TrimSpace(cfg.DisplayName)
	if name == "" && prompt {
		answer, _ := pterm.DefaultInteractiveTextInput.WithDefaultText("Enter your name").Show()
		name = strings.TrimSpace(answer)
		pterm.Println()
	}
	if name == "" {
		short := strings.ReplaceAll(id, "-", "")
		name = "Player-" + short[:min(shortIDSize, len(short))]
	}
	return identity{ID: id, Name: name}
}

// openStore connects the result store. Failures only disable recording.
func openStore(ctx context.Context, cfg *config.Config, self identity, logger *zap.Logger) *repository.DB {
	db, err := repository.NewDB(ctx, cfg.Database, logger.Named("repository"))
	if err != nil {
		logger.Warn("result store unavailable", zap.Error(err))
		pterm.Warning.Println("results will not be saved: database unavailable")
		return nil
	}
	if err := db.Migrate(ctx); err != nil {
		logger.Warn("failed to migrate result store", zap.Error(err))
		db.Close()
		return nil
	}
	if err := db.EnsureProfile(ctx, self.ID, self.Name); err != nil {
		logger.Warn("failed to create profile", zap.Error(err))
	}
	return db
}

// dialTransport returns nil for the memory transport, which cannot reach
// another process.
func dialTransport(ctx context.Context, cfg config.ClientConfig, logger *zap.Logger) (transport.Transport, error) {
	switch cfg.Transport {
	case "relay":
		spinner, _ := pterm.DefaultSpinner.Start("Connecting to " + cfg.RelayURL)
		c, err := wsrelay.Dial(ctx, cfg.RelayURL, wsrelay.Options{Logger: logger.Named("wsrelay")})
		if err != nil {
			spinner.Fail(err.Error())
			return nil, err
		}
		spinner.Success("Connected to relay")
		return c, nil
	case "nats":
		b, err := natsbus.Connect(cfg.NATSURL, natsbus.Options{Logger: logger.Named("natsbus")})
		if err != nil {
			return nil, err
		}
		pterm.Success.Println("Connected to NATS")
		return b, nil
	}
	return nil, nil
}

// runStats prints the leaderboard and the player's recent games.
func (a *app) runStats(ctx context.Context) error {
	if a.db == nil {
		return errors.New("stats need database.url")
	}

	standings, err := a.db.Leaderboard(ctx, statsLimit)
	if err != nil {
		return err
	}
	board := pterm.TableData{{"#", "Player", "RP", "Stages"}}
	for i, s := range standings {
		name := s.DisplayName
		if s.PlayerID == a.self.ID {
			name += " (you)"
		}
		board = append(board, []string{
			fmt.Sprint(i + 1), name, fmt.Sprint(s.Rating), fmt.Sprint(s.StagesClear),
		})
	}
	pterm.DefaultSection.Println("Leaderboard")
	_ = pterm.DefaultTable.WithHasHeader().WithData(board).Render()

	results, err := a.db.RecentResults(ctx, a.self.ID, statsLimit)
	if err != nil {
		return err
	}
	recent := pterm.TableData{{"Room", "Type", "Result", "Moves", "Time"}}
	for _, r := range results {
		won := pterm.LightRed("loss")
		if r.Won {
			won = pterm.LightGreen("win")
		}
		recent = append(recent, []string{
			r.RoomCode, string(r.GameType), won, fmt.Sprint(r.Moves), match.FormatTime(r.Duration),
		})
	}
	pterm.DefaultSection.Println("Recent games")
	_ = pterm.DefaultTable.WithHasHeader().WithData(recent).Render()
	return nil
}

type flagBinder interface {
	BindPFlag(key string, flag *pflag.Flag) error
}

// bindFlag lets a flag override key only when it was set on the command line.
func bindFlag(v flagBinder, flags *pflag.FlagSet, key, name string) {
	if f := flags.Lookup(name); f != nil {
		_ = v.BindPFlag(key, f)
	}
}

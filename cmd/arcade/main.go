// arcade - game lobby coordinator
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/ernie/arcade/internal/api"
	"github.com/ernie/arcade/internal/auth"
	"github.com/ernie/arcade/internal/config"
	"github.com/ernie/arcade/internal/domain"
	"github.com/ernie/arcade/internal/events"
	"github.com/ernie/arcade/internal/launcher"
	"github.com/ernie/arcade/internal/lobby"
	"github.com/ernie/arcade/internal/ports"
	"github.com/ernie/arcade/internal/server"
	"github.com/ernie/arcade/internal/session"
	"github.com/ernie/arcade/internal/storage"
	flag "github.com/spf13/pflag"
	"golang.org/x/term"
)

var version = "dev"

const defaultConfigPath = "/etc/arcade/config.yml"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		cmdServe(os.Args[2:])
	case "status":
		cmdStatus(os.Args[2:])
	case "player":
		cmdPlayer(os.Args[2:])
	case "game":
		cmdGame(os.Args[2:])
	case "rooms":
		cmdRooms(os.Args[2:])
	case "token":
		cmdToken(os.Args[2:])
	case "events":
		cmdEvents(os.Args[2:])
	case "version":
		fmt.Printf("arcade %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: arcade <command> [options] [args]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                               Start the lobby coordinator")
	fmt.Println("  status                              Show live rooms and port usage")
	fmt.Println("  player add <username>               Add a player (prompts for password)")
	fmt.Println("  player remove <username>            Remove a player")
	fmt.Println("  player list                         List all players")
	fmt.Println("  player passwd <username>            Set a player's password")
	fmt.Println("  game add --name N --version V [--min N] [--max N]")
	fmt.Println("                                      Publish a game")
	fmt.Println("  game version <game-id> <version>    Publish a new version of a game")
	fmt.Println("  game list [--all]                   List published games")
	fmt.Println("  game remove <game-id>               Withdraw a game from the catalog")
	fmt.Println("  rooms [--game N] [--player N] [--limit N]")
	fmt.Println("                                      Show closed room history")
	fmt.Println("  token <username>                    Issue a session token for a player")
	fmt.Println("  events                              Print room events from NATS")
	fmt.Println("  version                             Show version")
	fmt.Println("  help                                Show this help")
	fmt.Println()
	fmt.Println("Global Options:")
	fmt.Println("  --config <path>    Path to configuration file (default /etc/arcade/config.yml)")
	fmt.Println("  --url <url>        Base URL of the arcade HTTP API (default: derived from config)")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  arcade serve --config /etc/arcade/config.yml")
	fmt.Println("  arcade game add --name \"Tic Tac Toe\" --version 1.0.0 --min 2 --max 2")
	fmt.Println("  arcade player add alice")
	fmt.Println("  arcade rooms --limit 50")
}

// cmdServe starts the lobby listener, the HTTP API and the event mirror
func cmdServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	fs.Parse(args)

	// Determine config path
	cfgPath := *configPath
	if cfgPath == "" {
		if _, err := os.Stat(defaultConfigPath); err == nil {
			cfgPath = defaultConfigPath
		} else {
			log.Fatalf("No config file found at %s. Use --config to specify a config file.", defaultConfigPath)
		}
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	log.Printf("Arcade %s starting...", version)

	// Initialize storage
	store, err := storage.New(cfg.Database.Path)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()
	log.Printf("Database initialized at %s", cfg.Database.Path)

	// Create auth service
	authService := auth.NewService(cfg.Auth.JWTSecret, cfg.Auth.TokenDuration)
	if cfg.Auth.JWTSecret == "" {
		log.Printf("Warning: No JWT secret configured. Auth tokens will use an empty secret.")
	}
	accounts := auth.NewAccounts(store, authService)

	var portOpts []ports.Option
	if cfg.Ports.Probe {
		portOpts = append(portOpts, ports.WithProbe(ports.ListenProbe(cfg.Server.ListenAddr)))
	}
	alloc, err := ports.New(cfg.Ports.First, cfg.Ports.Last, portOpts...)
	if err != nil {
		log.Fatalf("Failed to create port pool: %v", err)
	}
	log.Printf("Match ports %d-%d", cfg.Ports.First, cfg.Ports.Last)

	games := launcher.New(launcher.Config{
		GamesDir:     cfg.Games.Dir,
		Interpreter:  cfg.Games.Interpreter,
		Entrypoint:   cfg.Games.Entrypoint,
		StartupGrace: cfg.Games.StartupGrace,
		StopTimeout:  cfg.Games.StopTimeout,
	})

	deps := lobby.Deps{
		Catalog:    store,
		Ports:      alloc,
		Launcher:   games,
		Recorder:   store,
		PublicHost: cfg.Server.PublicHost,
	}

	// Optional event mirror
	var embedded *events.Embedded
	var publisher *events.Publisher
	if cfg.Events.Enabled() {
		url := cfg.Events.NATSURL
		if cfg.Events.Embedded {
			embedded, err = events.StartEmbedded(cfg.Events.EmbeddedHost, cfg.Events.EmbeddedPort)
			if err != nil {
				log.Fatalf("Failed to start embedded NATS: %v", err)
			}
			url = embedded.ClientURL()
			log.Printf("Embedded NATS listening on %s", url)
		}
		publisher, err = events.Connect(url, cfg.Events.SubjectPrefix)
		if err != nil {
			log.Fatalf("Failed to connect to NATS: %v", err)
		}
		deps.Sink = publisher
		log.Printf("Publishing room events to %s.>", cfg.Events.SubjectPrefix)
	}

	registry := lobby.NewRegistry(deps)
	dispatcher := server.NewDispatcher(registry, session.NewResolver(accounts), accounts, 0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	lobbyServer := server.New(dispatcher, cfg.Server.IdleTimeout)
	lobbyAddr := net.JoinHostPort(cfg.Server.ListenAddr, strconv.Itoa(cfg.Server.LobbyPort))

	router := api.NewRouter(ctx, api.Deps{
		Rooms:      registry,
		Store:      store,
		Accounts:   accounts,
		Ports:      alloc,
		Dispatcher: dispatcher,
	})

	// Start HTTP server
	addr := net.JoinHostPort(cfg.Server.ListenAddr, strconv.Itoa(cfg.Server.HTTPPort))
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Set up signal handling
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 2)
	go func() {
		if err := lobbyServer.ListenAndServe(ctx, lobbyAddr); !errors.Is(err, server.ErrServerClosed) {
			serverErr <- fmt.Errorf("lobby server: %w", err)
		}
	}()
	go func() {
		log.Printf("HTTP server listening on %s", addr)
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			serverErr <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	// Wait for signal or error
	select {
	case sig := <-sigCh:
		log.Printf("Received signal %v, shutting down...", sig)
	case err := <-serverErr:
		log.Printf("Error: %v, shutting down...", err)
	}

	// Sequential shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	log.Println("Shutting down HTTP server...")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	log.Println("Closing rooms and stopping matches...")
	if err := registry.Shutdown(shutdownCtx); err != nil {
		log.Printf("Registry shutdown error: %v", err)
	}

	log.Println("Closing lobby connections...")
	if err := lobbyServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("Lobby server shutdown error: %v", err)
	}

	if publisher != nil {
		if err := publisher.Flush(2 * time.Second); err != nil {
			log.Printf("Warning: flushing room events: %v", err)
		}
		publisher.Close()
	}
	if embedded != nil {
		embedded.Shutdown()
	}

	cancel()
	log.Println("Shutdown complete")
}

// CLI helper variables
var (
	baseURL = "http://localhost:8080"
	dbPath  string
)

// loadCLIConfigFromFlags loads config using pre-parsed flag values
func loadCLIConfigFromFlags(configPath, url string) *config.Config {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to load config from %s: %v\n", configPath, err)
		dbPath = "/var/lib/arcade/arcade.db"
		if url != "" {
			baseURL = url
		}
		return nil
	}

	dbPath = cfg.Database.Path
	// Derive URL from config, but allow --url flag to override
	if url != "" {
		baseURL = url
	} else {
		host := cfg.Server.ListenAddr
		if host == "0.0.0.0" || host == "" {
			host = "localhost"
		}
		baseURL = "http://" + net.JoinHostPort(host, strconv.Itoa(cfg.Server.HTTPPort))
	}
	return cfg
}

func loadCLIConfig(args []string) (*config.Config, []string) {
	fs := flag.NewFlagSet("cli", flag.ContinueOnError)
	configPath := fs.String("config", defaultConfigPath, "path to configuration file")
	url := fs.String("url", "", "base URL of the arcade HTTP API")
	fs.Parse(args)

	cfg := loadCLIConfigFromFlags(*configPath, *url)
	return cfg, fs.Args()
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

func openStore() *storage.Store {
	store, err := storage.New(dbPath)
	if err != nil {
		fatal(fmt.Errorf("failed to open database: %w", err))
	}
	return store
}

func cmdStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "path to configuration file")
	url := fs.String("url", "", "base URL of the arcade HTTP API")
	fs.Parse(args)

	loadCLIConfigFromFlags(*configPath, *url)

	var stats api.StatsResponse
	if err := getJSON("/api/stats", &stats); err != nil {
		fatal(err)
	}
	var rooms []domain.Room
	if err := getJSON("/api/rooms", &rooms); err != nil {
		fatal(err)
	}

	fmt.Printf("Rooms: %d (%d waiting, %d playing)  Players: %d  Connections: %d  Free ports: %d\n\n",
		stats.Rooms, stats.Waiting, stats.Playing, stats.Players, stats.Connections, stats.FreePorts)

	if len(rooms) == 0 {
		fmt.Println("No open rooms")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CODE\tNAME\tGAME\tSTATUS\tPLAYERS\tPORT")
	fmt.Fprintln(w, "----\t----\t----\t------\t-------\t----")
	for _, r := range rooms {
		port := "-"
		if r.Port != nil {
			port = strconv.Itoa(*r.Port)
		}
		active := 0
		for _, m := range r.Members {
			if !m.Departed {
				active++
			}
		}
		fmt.Fprintf(w, "%s\t%s\t%s %s\t%s\t%d/%d\t%s\n",
			r.Code, r.Name, r.GameName, r.GameVersion, r.Status, active, r.MaxPlayers, port)
	}
	w.Flush()
}

// getJSON fetches path from the running server's HTTP API
func getJSON(path string, target any) error {
	resp, err := http.Get(baseURL + path)
	if err != nil {
		return fmt.Errorf("failed to connect to arcade server at %s: %w", baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(target)
}

func cmdPlayer(args []string) {
	if len(args) < 1 {
		fatal(errors.New("player subcommand required: add, remove, list, passwd"))
	}

	subCmd := args[0]
	_, remaining := loadCLIConfig(args[1:])

	store := openStore()
	defer store.Close()

	ctx := context.Background()

	var err error
	switch subCmd {
	case "add":
		err = cmdPlayerAdd(ctx, store, remaining)
	case "remove":
		err = cmdPlayerRemove(ctx, store, remaining)
	case "list":
		err = cmdPlayerList(ctx, store)
	case "passwd":
		err = cmdPlayerPasswd(ctx, store, remaining)
	default:
		err = fmt.Errorf("unknown player command: %s (use: add, remove, list, passwd)", subCmd)
	}
	if err != nil {
		fatal(err)
	}
}

// promptPassword reads and confirms a password from the terminal
func promptPassword(prompt string) (string, error) {
	fmt.Print(prompt)
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}

	fmt.Print("Confirm password: ")
	confirm, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}

	if string(password) != string(confirm) {
		return "", errors.New("passwords do not match")
	}
	return string(password), nil
}

func cmdPlayerAdd(ctx context.Context, store *storage.Store, args []string) error {
	if len(args) < 1 {
		return errors.New("usage: arcade player add <username>")
	}
	username := args[0]

	if _, err := store.GetPlayerByUsername(ctx, username); err == nil {
		return fmt.Errorf("player '%s' already exists", username)
	}

	password, err := promptPassword("Enter password: ")
	if err != nil {
		return err
	}
	if err := auth.ValidateCredentials(username, password); err != nil {
		return err
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	player, err := store.CreatePlayer(ctx, username, hash)
	if err != nil {
		return fmt.Errorf("failed to create player: %w", err)
	}
	fmt.Printf("Player '%s' created (id %d)\n", player.Username, player.ID)
	return nil
}

func cmdPlayerRemove(ctx context.Context, store *storage.Store, args []string) error {
	if len(args) < 1 {
		return errors.New("usage: arcade player remove <username>")
	}
	username := args[0]

	if err := store.DeletePlayer(ctx, username); err != nil {
		return fmt.Errorf("failed to remove player: %w", err)
	}

	fmt.Printf("Player '%s' removed\n", username)
	return nil
}

func cmdPlayerList(ctx context.Context, store *storage.Store) error {
	players, err := store.ListPlayers(ctx)
	if err != nil {
		return fmt.Errorf("failed to list players: %w", err)
	}

	if len(players) == 0 {
		fmt.Println("No players registered")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tUSERNAME\tCREATED\tLAST_LOGIN")
	fmt.Fprintln(w, "--\t--------\t-------\t----------")

	for _, p := range players {
		lastLogin := "never"
		if p.LastLogin != nil {
			lastLogin = p.LastLogin.Format("2006-01-02 15:04")
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", p.ID, p.Username, p.CreatedAt.Format("2006-01-02"), lastLogin)
	}
	return w.Flush()
}

func cmdPlayerPasswd(ctx context.Context, store *storage.Store, args []string) error {
	if len(args) < 1 {
		return errors.New("usage: arcade player passwd <username>")
	}
	username := args[0]

	if _, err := store.GetPlayerByUsername(ctx, username); err != nil {
		return fmt.Errorf("player not found: %s", username)
	}

	password, err := promptPassword("Enter new password: ")
	if err != nil {
		return err
	}
	if err := auth.ValidateCredentials(username, password); err != nil {
		return err
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	if err := store.UpdatePlayerPassword(ctx, username, hash); err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}

	fmt.Printf("Password updated for '%s'\n", username)
	return nil
}

func cmdGame(args []string) {
	if len(args) < 1 {
		fatal(errors.New("game subcommand required: add, version, list, remove"))
	}

	subCmd := args[0]
	fs := flag.NewFlagSet("game "+subCmd, flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "path to configuration file")

	var add gameAddOptions
	var all bool
	switch subCmd {
	case "add":
		fs.StringVar(&add.name, "name", "", "game name")
		fs.StringVar(&add.version, "version", "", "first version")
		fs.IntVar(&add.minPlayers, "min", 1, "minimum players to start a match")
		fs.IntVar(&add.maxPlayers, "max", 2, "maximum players per room")
		fs.StringVar(&add.description, "description", "", "short description")
		fs.StringVar(&add.developer, "developer", "", "developer name")
	case "list":
		fs.BoolVar(&all, "all", false, "include removed games")
	}
	fs.Parse(args[1:])

	cfg := loadCLIConfigFromFlags(*configPath, "")

	store := openStore()
	defer store.Close()

	ctx := context.Background()

	var err error
	switch subCmd {
	case "add":
		err = cmdGameAdd(ctx, store, cfg, add)
	case "version":
		err = cmdGameVersion(ctx, store, cfg, fs.Args())
	case "list":
		err = cmdGameList(ctx, store, all)
	case "remove":
		err = cmdGameRemove(ctx, store, fs.Args())
	default:
		err = fmt.Errorf("unknown game command: %s (use: add, version, list, remove)", subCmd)
	}
	if err != nil {
		fatal(err)
	}
}

// printEntrypoint tells the operator where the launcher expects the game server
func printEntrypoint(cfg *config.Config, gameID int64, version string) {
	if cfg == nil {
		return
	}
	l := launcher.New(launcher.Config{GamesDir: cfg.Games.Dir, Entrypoint: cfg.Games.Entrypoint})
	fmt.Printf("Install the game server at %s\n", l.ExecutablePath(gameID, version))
}

type gameAddOptions struct {
	name        string
	version     string
	description string
	developer   string
	minPlayers  int
	maxPlayers  int
}

func cmdGameAdd(ctx context.Context, store *storage.Store, cfg *config.Config, opts gameAddOptions) error {
	if opts.name == "" || opts.version == "" {
		return errors.New("usage: arcade game add --name N --version V [--min N] [--max N]")
	}
	if opts.minPlayers < 1 || opts.maxPlayers < opts.minPlayers {
		return fmt.Errorf("invalid player limits %d-%d", opts.minPlayers, opts.maxPlayers)
	}

	game := &domain.Game{
		Name:           opts.name,
		Description:    opts.description,
		Developer:      opts.developer,
		CurrentVersion: opts.version,
		MinPlayers:     opts.minPlayers,
		MaxPlayers:     opts.maxPlayers,
	}
	if err := store.CreateGame(ctx, game); err != nil {
		return fmt.Errorf("failed to create game: %w", err)
	}

	fmt.Printf("Game '%s' published (id %d, version %s)\n", game.Name, game.ID, game.CurrentVersion)
	printEntrypoint(cfg, game.ID, game.CurrentVersion)
	return nil
}

func parseGameID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid game id: %s", s)
	}
	return id, nil
}

func cmdGameVersion(ctx context.Context, store *storage.Store, cfg *config.Config, args []string) error {
	if len(args) < 2 {
		return errors.New("usage: arcade game version <game-id> <version>")
	}
	id, err := parseGameID(args[0])
	if err != nil {
		return err
	}

	if err := store.AddGameVersion(ctx, id, args[1]); err != nil {
		return fmt.Errorf("failed to add version: %w", err)
	}

	fmt.Printf("Game %d now at version %s\n", id, args[1])
	printEntrypoint(cfg, id, args[1])
	return nil
}

func cmdGameList(ctx context.Context, store *storage.Store, all bool) error {
	games, err := store.ListGames(ctx, all)
	if err != nil {
		return fmt.Errorf("failed to list games: %w", err)
	}

	if len(games) == 0 {
		fmt.Println("No games published")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tVERSION\tPLAYERS\tSTATUS")
	fmt.Fprintln(w, "--\t----\t-------\t-------\t------")
	for _, g := range games {
		fmt.Fprintf(w, "%d\t%s\t%s\t%d-%d\t%s\n", g.ID, g.Name, g.CurrentVersion, g.MinPlayers, g.MaxPlayers, g.Status)
	}
	return w.Flush()
}

func cmdGameRemove(ctx context.Context, store *storage.Store, args []string) error {
	if len(args) < 1 {
		return errors.New("usage: arcade game remove <game-id>")
	}
	id, err := parseGameID(args[0])
	if err != nil {
		return err
	}

	if err := store.SetGameStatus(ctx, id, domain.GameStatusRemoved); err != nil {
		return fmt.Errorf("failed to remove game: %w", err)
	}

	fmt.Printf("Game %d removed; open rooms keep running\n", id)
	return nil
}

func cmdRooms(args []string) {
	fs := flag.NewFlagSet("rooms", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "path to configuration file")
	gameID := fs.Int64("game", 0, "only rooms of this game id")
	playerID := fs.Int64("player", 0, "only rooms this player id sat in")
	limit := fs.Int("limit", 20, "number of rooms to show")
	fs.Parse(args)

	loadCLIConfigFromFlags(*configPath, "")

	store := openStore()
	defer store.Close()

	filter := storage.RoomFilter{Limit: *limit}
	if *gameID > 0 {
		filter.GameID = gameID
	}
	if *playerID > 0 {
		filter.PlayerID = playerID
	}

	rooms, err := store.ListRoomHistory(context.Background(), filter)
	if err != nil {
		fatal(fmt.Errorf("failed to list rooms: %w", err))
	}

	if len(rooms) == 0 {
		fmt.Println("No closed rooms")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CLOSED\tCODE\tGAME\tPLAYERS\tREASON\tEXIT")
	fmt.Fprintln(w, "------\t----\t----\t-------\t------\t----")
	for _, r := range rooms {
		closed := "-"
		if r.ClosedAt != nil {
			closed = r.ClosedAt.Local().Format("2006-01-02 15:04")
		}
		exit := "-"
		if r.ExitCode != nil {
			exit = strconv.Itoa(*r.ExitCode)
		}
		fmt.Fprintf(w, "%s\t%s\t%s %s\t%s\t%s\t%s\n",
			closed, r.Code, r.GameName, r.GameVersion, strings.Join(r.Usernames(), ","), r.CloseReason, exit)
	}
	w.Flush()
}

// cmdToken issues a session token without a password, for test clients
func cmdToken(args []string) {
	cfg, remaining := loadCLIConfig(args)
	if cfg == nil {
		fatal(errors.New("a valid config is required to sign tokens"))
	}
	if len(remaining) < 1 {
		fatal(errors.New("usage: arcade token <username>"))
	}

	store := openStore()
	defer store.Close()

	player, err := store.GetPlayerByUsername(context.Background(), remaining[0])
	if err != nil {
		fatal(fmt.Errorf("player not found: %s", remaining[0]))
	}

	token, err := auth.NewService(cfg.Auth.JWTSecret, cfg.Auth.TokenDuration).GenerateToken(player.ID, player.Username)
	if err != nil {
		fatal(fmt.Errorf("failed to generate token: %w", err))
	}
	fmt.Println(token)
}

// cmdEvents prints room events mirrored onto NATS until interrupted
func cmdEvents(args []string) {
	fs := flag.NewFlagSet("events", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "path to configuration file")
	natsURL := fs.String("nats", "", "NATS server URL (default: from config)")
	fs.Parse(args)

	cfg := loadCLIConfigFromFlags(*configPath, "")

	url, prefix := *natsURL, "arcade.rooms"
	if cfg != nil {
		prefix = cfg.Events.SubjectPrefix
		if url == "" {
			url = cfg.Events.NATSURL
		}
		if url == "" && cfg.Events.Embedded {
			url = "nats://" + net.JoinHostPort(cfg.Events.EmbeddedHost, strconv.Itoa(cfg.Events.EmbeddedPort))
		}
	}
	if url == "" {
		fatal(errors.New("no NATS server configured; use --nats"))
	}

	sub, err := events.Connect(url, prefix)
	if err != nil {
		fatal(err)
	}
	defer sub.Close()

	if _, err := sub.Subscribe(func(subject string, ev domain.RoomEvent) {
		fmt.Printf("%s  %-40s %s %d/%d %s\n",
			ev.Timestamp.Local().Format("15:04:05"), subject, ev.Room.Code,
			len(ev.Room.Members), ev.Room.MaxPlayers, ev.Room.Status)
	}); err != nil {
		fatal(err)
	}
	fmt.Fprintf(os.Stderr, "Watching %s.> on %s\n", prefix, url)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
}

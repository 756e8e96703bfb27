package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/friendsincode/guildplay/internal/db"
	"github.com/friendsincode/guildplay/internal/eventbus"
	"github.com/friendsincode/guildplay/internal/media"
	"github.com/friendsincode/guildplay/internal/playback"
	"github.com/friendsincode/guildplay/internal/recommend"
	"github.com/friendsincode/guildplay/internal/version"
)

var (
	playlistResolve int
	similarLimit    int
	versionCheck    bool
)

var resolveCmd = &cobra.Command{
	Use:   "resolve <query or url>",
	Short: "Resolve a query or video URL to a playable track",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runResolve,
}

var playlistCmd = &cobra.Command{
	Use:   "playlist <url>",
	Short: "List a playlist's entries",
	Long: `List a playlist's entries without playing them.

Examples:
  # Show the flat listing
  guildplay playlist "https://www.youtube.com/playlist?list=PL..."

  # Also resolve the first 5 entries
  guildplay playlist --resolve 5 "https://www.youtube.com/playlist?list=PL..."
`,
	Args: cobra.ExactArgs(1),
	RunE: runPlaylist,
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search YouTube the way the search command does",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSearch,
}

var similarCmd = &cobra.Command{
	Use:   "similar <artist - title>",
	Short: "Suggest tracks similar to a seed title",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSimilar,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply play history schema migrations",
	RunE:  runMigrate,
}

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Inspect forwarded playback events",
}

var eventsTailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Print events forwarded to the configured Redis or NATS backend",
	RunE:  runEventsTail,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	RunE:  runVersion,
}

func init() {
	playlistCmd.Flags().IntVar(&playlistResolve, "resolve", 0, "Resolve the first N entries")
	similarCmd.Flags().IntVarP(&similarLimit, "limit", "n", 5, "Number of suggestions")
	versionCmd.Flags().BoolVar(&versionCheck, "check", false, "Look up the latest release")
	eventsCmd.AddCommand(eventsTailCmd)
	rootCmd.AddCommand(resolveCmd, playlistCmd, searchCmd, similarCmd, migrateCmd, eventsCmd, versionCmd)
}

func toolContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runResolve(cmd *cobra.Command, args []string) error {
	if err := loadConfig(true); err != nil {
		return err
	}
	ctx, cancel := toolContext()
	defer cancel()

	resolver, c := newResolver()
	defer c.Close()

	track, err := resolver.Resolve(ctx, strings.Join(args, " "))
	if err != nil {
		return err
	}
	return printJSON(track)
}

func runPlaylist(cmd *cobra.Command, args []string) error {
	if err := loadConfig(true); err != nil {
		return err
	}
	ctx, cancel := toolContext()
	defer cancel()

	resolver, c := newResolver()
	defer c.Close()

	entries, total, err := resolver.ResolvePlaylist(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Printf("%d entries\n", total)
	for i, e := range entries {
		fmt.Printf("%4d. %s %s\n", i+1, e.URL, e.Title)
	}

	n := min(playlistResolve, len(entries))
	resolved := make([]playback.Track, 0, n)
	for _, e := range entries[:n] {
		track, err := resolver.ResolveEntry(ctx, e)
		if err != nil {
			logger.Warn().Err(err).Str("url", e.URL).Msg("entry unavailable")
			continue
		}
		resolved = append(resolved, track)
	}
	if n > 0 {
		return printJSON(resolved)
	}
	return nil
}

func runSearch(cmd *cobra.Command, args []string) error {
	if err := loadConfig(true); err != nil {
		return err
	}
	ctx, cancel := toolContext()
	defer cancel()

	results, err := media.NewSearcher(cfg.MaxSearchResults, logger).Search(ctx, strings.Join(args, " "))
	if err != nil {
		return err
	}
	return printJSON(results)
}

func runSimilar(cmd *cobra.Command, args []string) error {
	if err := loadConfig(true); err != nil {
		return err
	}
	ctx, cancel := toolContext()
	defer cancel()

	seed := playback.Track{Title: strings.Join(args, " ")}
	tracks, err := recommend.New(logger).Similar(ctx, seed, similarLimit)
	if err != nil {
		return err
	}
	return printJSON(tracks)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	if err := loadConfig(true); err != nil {
		return err
	}
	database, err := db.Connect(cfg)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close(database)

	if err := db.Migrate(database); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}
	logger.Info().Str("backend", string(cfg.DBBackend)).Msg("migrations applied")
	return nil
}

func runEventsTail(cmd *cobra.Command, args []string) error {
	if err := loadConfig(true); err != nil {
		return err
	}
	ctx, cancel := toolContext()
	defer cancel()

	sub, err := newPublisher(ctx, "tail-"+eventbus.NewNodeID())
	if err != nil {
		return err
	}
	if sub == nil {
		return fmt.Errorf("event backend %q does not forward events; set GUILDPLAY_EVENT_BACKEND to redis or nats", cfg.EventBackend)
	}
	defer sub.Close()

	subject := eventbus.WildcardSubject(sub.Backend())
	logger.Info().Str("backend", sub.Backend()).Str("subject", subject).Msg("tailing events")
	return sub.Subscribe(ctx, subject, func(data []byte) {
		msg, err := eventbus.UnmarshalMessage(data)
		if err != nil {
			logger.Warn().Err(err).Msg("undecodable event")
			return
		}
		line, _ := json.Marshal(msg)
		fmt.Println(string(line))
	})
}

func runVersion(cmd *cobra.Command, args []string) error {
	fmt.Println(version.Current())
	if !versionCheck {
		return nil
	}
	ctx, cancel := toolContext()
	defer cancel()

	info, err := version.NewChecker().Latest(ctx)
	if err != nil {
		return err
	}
	if info.UpdateAvailable {
		fmt.Printf("update available: %s (%s)\n", info.LatestVersion, info.ReleaseURL)
	} else {
		fmt.Println("up to date")
	}
	return nil
}

package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/TobiSchelling/ArxivHarvester/internal/arxiv"
	"github.com/TobiSchelling/ArxivHarvester/internal/config"
	"github.com/TobiSchelling/ArxivHarvester/internal/logging"
	"github.com/TobiSchelling/ArxivHarvester/internal/pipeline"
	"github.com/TobiSchelling/ArxivHarvester/internal/server"
)

var version = "dev"

var (
	verbose    bool
	configPath string
	cfg        *config.Config
	logger     *zap.Logger
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "arxivharvester",
	Short:   "Harvest and enrich arXiv papers",
	Long:    "ArxivHarvester searches arXiv, downloads the matching papers, extracts their text and images, tags them with keywords and stores the result.",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip config loading for init and version
		if cmd.Name() == "init" || cmd.Name() == "version" {
			return nil
		}

		path, err := config.ResolveConfigPath(configPath)
		if err != nil {
			return err
		}
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		level := cfg.Logging.Level
		if verbose {
			level = "debug"
		}
		logger, err = logging.New(level)
		if err != nil {
			return err
		}
		logger.Debug("config loaded", zap.String("path", path))
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(processCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(recordsCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("arxivharvester", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration in ~/.config/arxivharvester/",
	RunE: func(cmd *cobra.Command, args []string) error {
		target := filepath.Join(config.ConfigDir(), "config.yaml")
		if _, err := os.Stat(target); err == nil {
			fmt.Printf("Config already exists: %s\n", target)
			return nil
		}

		if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}

		if err := os.WriteFile(target, config.DefaultConfigYAML, 0o644); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}

		fmt.Printf("Created config: %s\n", target)
		fmt.Println("Edit it to choose a store backend and keyword provider.")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show store and directory status",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		n, err := st.Count(ctx)
		if err != nil {
			return fmt.Errorf("counting records: %w", err)
		}

		fmt.Println("Store:")
		fmt.Printf("  Backend: %s\n", cfg.Store.Backend)
		if strings.EqualFold(cfg.Store.Backend, "sqlite") {
			fmt.Printf("  Path: %s\n", cfg.GetSQLitePath())
		}
		fmt.Printf("  Records: %d\n", n)
		fmt.Println("\nDirectories:")
		fmt.Printf("  Results: %s\n", cfg.GetResultsDir())
		fmt.Printf("  Downloads: %s\n", cfg.GetDownloadsDir())
		fmt.Printf("  Images: %s\n", cfg.GetImagesDir())
		fmt.Println("\nKeywords:")
		fmt.Printf("  Provider: %s (%s)\n", cfg.Keywords.Provider, cfg.Keywords.Model)
		return nil
	},
}

// --- search command ---

var (
	searchStart int
	searchMax   int
)

var searchCmd = &cobra.Command{
	Use:   "search <terms>",
	Short: "Query arXiv and save the result set",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		maxResults := searchMax
		if maxResults == 0 {
			maxResults = cfg.Arxiv.MaxResults
		}

		res, err := newSearchClient().Search(cmd.Context(), arxiv.Query{
			Terms:      strings.Join(args, " "),
			Start:      searchStart,
			MaxResults: maxResults,
		})
		if err != nil {
			return err
		}

		fmt.Printf("Total matches: %d\n", res.Total)
		fmt.Printf("Returned: %d (from %d)\n", res.Returned, res.Start)
		fmt.Printf("Saved: %s\n", res.Path)
		if res.Returned > 0 {
			fmt.Printf("\nProcess it with: arxivharvester process %s\n", res.Path)
		}
		return nil
	},
}

func init() {
	searchCmd.Flags().IntVar(&searchStart, "start", 0, "Offset of the first result")
	searchCmd.Flags().IntVar(&searchMax, "max", 0, "Maximum results (default from config)")
}

// --- process command ---

var processCmd = &cobra.Command{
	Use:   "process <xml_path>",
	Short: "Fetch, extract, tag and store every entry of a saved result set",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		entries, err := arxiv.ParseFile(args[0])
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("No entries in result set.")
			return nil
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		pipe, err := newPipeline(st)
		if err != nil {
			return err
		}

		run, err := pipe.Start(ctx, args[0], entries)
		if err != nil {
			return err
		}
		pipeline.Monitor(ctx, run, cfg.Pipeline.MonitorInterval, func(s pipeline.Snapshot) {
			fmt.Printf("\r  %d/%d processed (%ds)", s.Processed, s.Total, s.ElapsedSeconds)
		})

		snap, err := run.Wait(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("\n\nRun %s complete:\n", snap.RunID)
		fmt.Printf("  Processed: %d\n", snap.Processed)
		fmt.Printf("  With failures: %d\n", snap.Failed)
		fmt.Println("\nRun 'arxivharvester records' to list the stored records.")
		return nil
	},
}

// --- serve command ---

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the local web server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		pipe, err := newPipeline(st)
		if err != nil {
			return err
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}
		fmt.Printf("Starting server at http://localhost:%d\n", port)
		fmt.Println("Press Ctrl+C to stop")
		return server.Serve(ctx, server.Deps{
			Searcher:   newSearchClient(),
			Pipeline:   pipe,
			Records:    st,
			MaxResults: cfg.Arxiv.MaxResults,
			ResultsDir: cfg.GetResultsDir(),
			Log:        logger,
		}, port)
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to run server on (default from config)")
}

// --- records command ---

var recordsLimit int

var recordsCmd = &cobra.Command{
	Use:   "records",
	Short: "List the most recently stored records",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		recs, err := st.Recent(ctx, recordsLimit)
		if err != nil {
			return err
		}
		if len(recs) == 0 {
			fmt.Println("No records stored. Process a result set with: arxivharvester process")
			return nil
		}

		for _, r := range recs {
			id := r.DocumentID
			if id == "" {
				id = "-"
			}
			fmt.Printf("  [%s] %s\n", id, r.Title)
			if len(r.Keywords) > 0 {
				fmt.Printf("        %s\n", strings.Join(r.Keywords, ", "))
			}
			fmt.Printf("        %d chars, %d images, %s\n", len([]rune(r.FullText)), len(r.Images),
				r.CreatedAt.Local().Format("2006-01-02 15:04"))
		}
		return nil
	},
}

func init() {
	recordsCmd.Flags().IntVarP(&recordsLimit, "limit", "n", 20, "Number of records to show")
}

// cmd/waypoint/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"

	"waypoint/internal/config"
	"waypoint/internal/library"
	"waypoint/internal/logging"
	"waypoint/internal/tour"
	"waypoint/internal/watch"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var rootCmd = &cobra.Command{
	Use:   "waypoint",
	Short: "Waypoint keeps code annotations pinned across commits",
	Long: `Waypoint attaches annotated stops to lines in your repositories, groups
them into ordered tours, and keeps them pointing at the right line as the
underlying files are edited and committed.`,
}

// env bundles everything a command needs; opened lazily so that commands
// which fail flag parsing never touch the library database.
type env struct {
	cfg    *config.Config
	logger *logging.Logger
	lib    *library.Library
	store  *tour.Store
}

func openEnv() (*env, error) {
	cfg, err := config.Load(config.DefaultPath())
	if err != nil {
		return nil, fmt.Errorf("loading config %s: %w", config.DefaultPath(), err)
	}

	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}

	lib, err := library.Open(cfg.LibraryPath, logger.Logger)
	if err != nil {
		return nil, fmt.Errorf("opening tour library: %w", err)
	}

	return &env{
		cfg:    cfg,
		logger: logger,
		lib:    lib,
		store:  tour.NewStore(cfg.Index(), logger.Logger),
	}, nil
}

func (e *env) close() {
	if err := e.lib.Close(); err != nil {
		e.logger.Error("closing library", zap.Error(err))
	}
	e.logger.Sync()
}

// withEnv wraps a command body with environment setup and teardown.
func withEnv(run func(e *env, cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		e, err := openEnv()
		if err != nil {
			return err
		}
		defer e.close()
		return run(e, cmd, args)
	}
}

func (e *env) loadTour(id string) (*tour.Tour, error) {
	t, err := e.lib.Get(id)
	if err != nil {
		return nil, fmt.Errorf("loading tour: %w", err)
	}
	return t, nil
}

func init() {
	var initCmd = &cobra.Command{
		Use:   "init [title]",
		Short: "Create a new empty tour",
		Args:  cobra.MinimumNArgs(1),
		RunE: withEnv(func(e *env, cmd *cobra.Command, args []string) error {
			t, err := e.store.Init(strings.Join(args, " "))
			if err != nil {
				return err
			}
			if err := e.lib.Save(t); err != nil {
				return err
			}
			fmt.Printf("Created tour %s (%s)\n", color.CyanString(t.Title), t.ID)
			return nil
		}),
	}

	var addTitle, addBody string
	var addLine, addIndex int
	var addCmd = &cobra.Command{
		Use:   "add [tour-id] [file]",
		Short: "Add a stop at a file and line",
		Args:  cobra.ExactArgs(2),
		RunE: withEnv(func(e *env, cmd *cobra.Command, args []string) error {
			t, err := e.loadTour(args[0])
			if err != nil {
				return err
			}

			absPath, err := filepath.Abs(args[1])
			if err != nil {
				return fmt.Errorf("resolving path %s: %w", args[1], err)
			}

			id, err := e.store.Add(cmd.Context(), t, tour.AddRequest{
				AbsolutePath: absPath,
				Line:         addLine,
				Title:        addTitle,
				Body:         addBody,
			}, addIndex)
			if err != nil {
				return err
			}
			if err := e.lib.Save(t); err != nil {
				return err
			}
			fmt.Printf("Added stop %s at %s:%d\n", color.CyanString(id), args[1], addLine)
			return nil
		}),
	}
	addCmd.Flags().IntVarP(&addLine, "line", "l", 0, "1-indexed line number (required)")
	addCmd.Flags().StringVarP(&addTitle, "title", "t", "", "stop title (required)")
	addCmd.Flags().StringVarP(&addBody, "body", "b", "", "stop body text")
	addCmd.Flags().IntVarP(&addIndex, "index", "i", -1, "position in the tour (default: append)")
	addCmd.MarkFlagRequired("line")
	addCmd.MarkFlagRequired("title")

	var removeCmd = &cobra.Command{
		Use:   "remove [tour-id] [stop-id]",
		Short: "Remove a stop from a tour",
		Args:  cobra.ExactArgs(2),
		RunE: withEnv(func(e *env, cmd *cobra.Command, args []string) error {
			t, err := e.loadTour(args[0])
			if err != nil {
				return err
			}
			if err := e.store.Remove(t, args[1]); err != nil {
				return err
			}
			if err := e.lib.Save(t); err != nil {
				return err
			}
			fmt.Printf("Removed stop %s\n", args[1])
			return nil
		}),
	}

	var editTitle, editBody string
	var editCmd = &cobra.Command{
		Use:   "edit [tour-id] [stop-id]",
		Short: "Edit a stop's title or body",
		Args:  cobra.ExactArgs(2),
		RunE: withEnv(func(e *env, cmd *cobra.Command, args []string) error {
			t, err := e.loadTour(args[0])
			if err != nil {
				return err
			}

			var req tour.EditRequest
			if cmd.Flags().Changed("title") {
				req.Title = &editTitle
			}
			if cmd.Flags().Changed("body") {
				req.Body = &editBody
			}
			if err := e.store.Edit(t, args[1], req); err != nil {
				return err
			}
			if err := e.lib.Save(t); err != nil {
				return err
			}
			fmt.Printf("Updated stop %s\n", args[1])
			return nil
		}),
	}
	editCmd.Flags().StringVarP(&editTitle, "title", "t", "", "new title")
	editCmd.Flags().StringVarP(&editBody, "body", "b", "", "new body text")

	var moveLine int
	var moveCmd = &cobra.Command{
		Use:   "move [tour-id] [stop-id] [file]",
		Short: "Move a stop to a new file and line",
		Args:  cobra.ExactArgs(3),
		RunE: withEnv(func(e *env, cmd *cobra.Command, args []string) error {
			t, err := e.loadTour(args[0])
			if err != nil {
				return err
			}

			absPath, err := filepath.Abs(args[2])
			if err != nil {
				return fmt.Errorf("resolving path %s: %w", args[2], err)
			}

			if err := e.store.Move(cmd.Context(), t, args[1], absPath, moveLine); err != nil {
				return err
			}
			if err := e.lib.Save(t); err != nil {
				return err
			}
			fmt.Printf("Moved stop %s to %s:%d\n", args[1], args[2], moveLine)
			return nil
		}),
	}
	moveCmd.Flags().IntVarP(&moveLine, "line", "l", 0, "1-indexed line number (required)")
	moveCmd.MarkFlagRequired("line")

	var reorderCmd = &cobra.Command{
		Use:   "reorder [tour-id] [indices...]",
		Short: "Reorder stops by giving the new permutation of positions",
		Args:  cobra.MinimumNArgs(2),
		RunE: withEnv(func(e *env, cmd *cobra.Command, args []string) error {
			t, err := e.loadTour(args[0])
			if err != nil {
				return err
			}

			indices := make([]int, 0, len(args)-1)
			for _, arg := range args[1:] {
				i, err := strconv.Atoi(arg)
				if err != nil {
					return fmt.Errorf("index %q is not a number", arg)
				}
				indices = append(indices, i)
			}

			if err := e.store.Reorder(t, indices); err != nil {
				return err
			}
			if err := e.lib.Save(t); err != nil {
				return err
			}
			fmt.Println("Reordered stops")
			return nil
		}),
	}

	var linkTour string
	var linkIndex int
	var linkCmd = &cobra.Command{
		Use:   "link [tour-id] [stop-id]",
		Short: "Link a stop to a stop in another tour",
		Args:  cobra.ExactArgs(2),
		RunE: withEnv(func(e *env, cmd *cobra.Command, args []string) error {
			t, err := e.loadTour(args[0])
			if err != nil {
				return err
			}
			ref := tour.StopLink{TourID: linkTour, StopIndex: linkIndex}
			if err := e.store.Link(t, args[1], ref); err != nil {
				return err
			}
			if err := e.lib.Save(t); err != nil {
				return err
			}
			fmt.Printf("Linked stop %s to %s[%d]\n", args[1], linkTour, linkIndex)
			return nil
		}),
	}
	linkCmd.Flags().StringVar(&linkTour, "child-tour", "", "id of the child tour (required)")
	linkCmd.Flags().IntVar(&linkIndex, "child-stop", 0, "stop index inside the child tour")
	linkCmd.MarkFlagRequired("child-tour")

	var refreshCmd = &cobra.Command{
		Use:   "refresh [tour-id] [repository]",
		Short: "Advance a repository's binding to its checked-out version",
		Args:  cobra.ExactArgs(2),
		RunE: withEnv(func(e *env, cmd *cobra.Command, args []string) error {
			t, err := e.loadTour(args[0])
			if err != nil {
				return err
			}
			if err := e.store.Refresh(cmd.Context(), t, args[1]); err != nil {
				return err
			}
			if err := e.lib.Save(t); err != nil {
				return err
			}
			fmt.Printf("Refreshed repository %s\n", args[1])
			return nil
		}),
	}

	var resolveCmd = &cobra.Command{
		Use:   "resolve [tour-id]",
		Short: "Print the current working-copy position of every stop",
		Args:  cobra.ExactArgs(1),
		RunE: withEnv(func(e *env, cmd *cobra.Command, args []string) error {
			t, err := e.loadTour(args[0])
			if err != nil {
				return err
			}
			resolved, err := e.store.Resolve(cmd.Context(), t)
			if err != nil {
				return err
			}
			printResolved(resolved)
			return nil
		}),
	}

	var checkCmd = &cobra.Command{
		Use:   "check [tour-id]",
		Short: "Report every problem with a tour without failing",
		Args:  cobra.ExactArgs(1),
		RunE: withEnv(func(e *env, cmd *cobra.Command, args []string) error {
			t, err := e.loadTour(args[0])
			if err != nil {
				return err
			}
			problems := e.store.Check(cmd.Context(), t)
			if len(problems) == 0 {
				color.Green("Tour is healthy")
				return nil
			}
			for _, p := range problems {
				color.Red("  %v", p)
			}
			return fmt.Errorf("%d problem(s) found", len(problems))
		}),
	}

	var listCmd = &cobra.Command{
		Use:   "list",
		Short: "List stored tours",
		RunE: withEnv(func(e *env, cmd *cobra.Command, args []string) error {
			tours, err := e.lib.List()
			if err != nil {
				return err
			}
			for _, t := range tours {
				fmt.Printf("%s  %s (%d stops)\n", t.ID, color.CyanString(t.Title), len(t.Stops))
			}
			return nil
		}),
	}

	var showCmd = &cobra.Command{
		Use:   "show [tour-id]",
		Short: "Show a tour's stops",
		Args:  cobra.ExactArgs(1),
		RunE: withEnv(func(e *env, cmd *cobra.Command, args []string) error {
			t, err := e.loadTour(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("%s\n%s\n\n", color.CyanString(t.Title), t.Description)
			for i, stop := range t.Stops {
				fmt.Printf("%2d. [%s] %s  %s:%d (%s)\n",
					i, stop.ID, stop.Title, stop.RelativePath, stop.Line, stop.Repository)
			}
			return nil
		}),
	}

	var exportCmd = &cobra.Command{
		Use:   "export [tour-id] [file]",
		Short: "Write a tour's JSON form to a file",
		Args:  cobra.ExactArgs(2),
		RunE: withEnv(func(e *env, cmd *cobra.Command, args []string) error {
			t, err := e.loadTour(args[0])
			if err != nil {
				return err
			}
			data, err := tour.Serialize(t)
			if err != nil {
				return err
			}
			if err := os.WriteFile(args[1], data, 0644); err != nil {
				return fmt.Errorf("writing %s: %w", args[1], err)
			}
			fmt.Printf("Exported tour to %s\n", args[1])
			return nil
		}),
	}

	var importCmd = &cobra.Command{
		Use:   "import [file]",
		Short: "Load a tour from its JSON form into the library",
		Args:  cobra.ExactArgs(1),
		RunE: withEnv(func(e *env, cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("reading %s: %w", args[0], err)
			}
			t, err := tour.Deserialize(data)
			if err != nil {
				return err
			}
			if err := e.lib.Save(t); err != nil {
				return err
			}
			fmt.Printf("Imported tour %s (%s)\n", color.CyanString(t.Title), t.ID)
			return nil
		}),
	}

	var watchCmd = &cobra.Command{
		Use:   "watch [tour-id]",
		Short: "Re-resolve a tour whenever its repositories change",
		Args:  cobra.ExactArgs(1),
		RunE: withEnv(func(e *env, cmd *cobra.Command, args []string) error {
			t, err := e.loadTour(args[0])
			if err != nil {
				return err
			}

			var roots []string
			for _, binding := range t.Repositories {
				root, err := e.cfg.Index().RootOf(binding.Repository)
				if err != nil {
					return err
				}
				roots = append(roots, root)
			}

			w, err := watch.New(e.store, t, roots, func(resolved []tour.Resolved) {
				fmt.Printf("\n--- %s ---\n", t.Title)
				printResolved(resolved)
			}, e.logger.Logger)
			if err != nil {
				return err
			}

			err = w.Run(cmd.Context())
			if err == context.Canceled {
				return nil
			}
			return err
		}),
	}

	rootCmd.AddCommand(initCmd, addCmd, removeCmd, editCmd, moveCmd, reorderCmd,
		linkCmd, refreshCmd, resolveCmd, checkCmd, listCmd, showCmd,
		exportCmd, importCmd, watchCmd)
}

func printResolved(resolved []tour.Resolved) {
	for i, r := range resolved {
		switch v := r.(type) {
		case tour.Located:
			fmt.Printf("%2d. %s  %s\n", i, color.GreenString(v.Title),
				fmt.Sprintf("%s:%d", v.AbsolutePath, v.Line))
		case tour.Broken:
			reasons := make([]string, len(v.Reasons))
			for j, reason := range v.Reasons {
				reasons[j] = string(reason)
			}
			fmt.Printf("%2d. %s  (%s)\n", i, color.RedString(v.Title),
				strings.Join(reasons, ", "))
		}
	}
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		color.Red("Error: %v", err)
		os.Exit(1)
	}
}

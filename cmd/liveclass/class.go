package main

import (
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"liveclass/internal/catalog"
	"liveclass/internal/logging"
	"liveclass/pkg/types"
)

func newClassCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "class",
		Short: "Manage the class catalog",
		Long: `Manage the SQLite class catalog that the server checks joins against
when started with --catalog.`,
	}
	cmd.AddCommand(newClassAddCmd(), newClassEndCmd(), newClassListCmd())
	return cmd
}

// openCatalog opens the store named by the resolved configuration.
// Catalog commands log to stderr so stdout stays parseable.
func openCatalog(cmd *cobra.Command) (*catalog.Store, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	logger, err := logging.NewWithWriter(cfg.Log, cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}
	logger = logger.Level(zerolog.WarnLevel)
	return catalog.Open(cfg.Catalog.Database, &logger)
}

func newClassAddCmd() *cobra.Command {
	var class types.Class

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register an active class",
		Example: `  liveclass class add --id algebra-1 --room math-101 --title "Algebra I" --instructor prof.smith`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openCatalog(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.CreateClass(cmd.Context(), &class); err != nil {
				return fmt.Errorf("failed to add class %s: %w", class.ID, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Class %s added to room %s\n", class.ID, class.RoomID)
			return nil
		},
	}

	cmd.Flags().StringVar(&class.ID, "id", "", "class id")
	cmd.Flags().StringVar(&class.RoomID, "room", "", "room the class runs in")
	cmd.Flags().StringVar(&class.Title, "title", "", "class title")
	cmd.Flags().StringVar(&class.InstructorID, "instructor", "", "instructor user id")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("room")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func newClassEndCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "end <class-id>",
		Short: "Mark a class as ended",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openCatalog(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.EndClass(cmd.Context(), args[0]); err != nil {
				return fmt.Errorf("failed to end class %s: %w", args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Class %s ended\n", args[0])
			return nil
		},
	}
}

func newClassListCmd() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List classes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openCatalog(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			var classes []*types.Class
			if all {
				classes, err = store.ListClasses(cmd.Context())
			} else {
				classes, err = store.ListActiveClasses(cmd.Context())
			}
			if err != nil {
				return fmt.Errorf("failed to list classes: %w", err)
			}
			renderClasses(cmd.OutOrStdout(), classes)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&all, "all", "a", false, "include ended classes")
	return cmd
}

func renderClasses(w io.Writer, classes []*types.Class) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"ID", "Room", "Title", "Instructor", "Started", "Status"})
	for _, c := range classes {
		t.AppendRow(table.Row{c.ID, c.RoomID, c.Title, c.InstructorID, c.StartTime.Format(time.DateTime), c.Status})
	}
	t.AppendFooter(table.Row{"", "", "", "", "Total", len(classes)})
	t.Render()
}

package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"conduit/internal/store"
)

// Version is stamped at build time via -ldflags.
var Version = "dev"

// modesCmd lists the modes the configured provider serves.
var modesCmd = &cobra.Command{
	Use:   "modes",
	Short: "List conversation modes and their capabilities",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		registry, err := buildRegistry(context.Background(), cfg)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "MODE\tSTREAMABLE\tSTRUCTURED\tREALTIME")
		for _, cap := range registry.Modes() {
			fmt.Fprintf(w, "%s\t%v\t%v\t%v\n", cap.Mode, cap.Streamable, cap.Structured, cap.Realtime)
		}
		return w.Flush()
	},
}

// threadsCmd lists stored conversations.
var threadsCmd = &cobra.Command{
	Use:   "threads",
	Short: "List stored conversations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		st, err := store.Open(cfg.Store.Path)
		if err != nil {
			return fmt.Errorf("failed to open conversation store: %w", err)
		}
		defer st.Close()

		metas, err := st.ListMetas()
		if err != nil {
			return err
		}
		if len(metas) == 0 {
			fmt.Println("no stored conversations")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tMODE\tUPDATED\tNAME")
		for _, m := range metas {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
				m.ID, m.Mode, m.UpdatedAt.Format("2006-01-02 15:04"), m.Name)
		}
		return w.Flush()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the conduit version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("conduit %s\n", Version)
	},
}

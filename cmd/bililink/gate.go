package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/zhufengning/bililink/pkg/gate"
)

func newGateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gate",
		Short: "Manage per-group link parsing toggles",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List stored group toggles",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withGateStore(func(store *gate.Store) error {
					toggles, err := store.List(cmd.Context())
					if err != nil {
						return err
					}
					if len(toggles) == 0 {
						fmt.Fprintln(cmd.OutOrStdout(), "No group toggles stored.")
						return nil
					}
					for _, t := range toggles {
						state := "disabled"
						if t.Enabled {
							state = "enabled"
						}
						fmt.Fprintf(cmd.OutOrStdout(), "%-14s %-8s %s\n", t.GroupID, state, t.UpdatedAt.Format(time.DateTime))
					}
					return nil
				})
			},
		},
		newGateToggleCmd("enable", true),
		newGateToggleCmd("disable", false),
	)
	return cmd
}

func newGateToggleCmd(use string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <group-id>",
		Short: fmt.Sprintf("%s link parsing in a group", use),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			groupID, ok := gate.GroupID(args[0])
			if !ok {
				groupID = args[0]
			}
			return withGateStore(func(store *gate.Store) error {
				if err := store.SetEnabled(cmd.Context(), groupID, enabled); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "✓ group %s %sd\n", groupID, use)
				return nil
			})
		},
	}
}

func withGateStore(fn func(store *gate.Store) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := gate.Open(cfg.GateDBPath())
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(store)
}

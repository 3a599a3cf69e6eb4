package main

import (
	"context"
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/normanking/talkingavatar/internal/library"
	"github.com/spf13/cobra"
)

// withApp runs fn against a freshly wired app.
func withApp(configFile string, fn func(ctx context.Context, a *app) error) error {
	ctx, cancel := signalContext()
	defer cancel()
	a, err := newApp(ctx, configFile)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func printAvatars(avatars []library.Avatar) {
	if len(avatars) == 0 {
		fmt.Println(dimStyle.Render("No avatars. Add one with 'avatarchat avatars add <name> <url>'"))
		return
	}
	t := listTable("", "ID", "NAME", "URL")
	for _, a := range avatars {
		t.Row(mark(a.Selected), a.ID, a.Name, a.URL)
	}
	fmt.Println(t)
}

// listTable is the borderless table used by the list commands.
func listTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.HiddenBorder()).
		Headers(headers...).
		StyleFunc(func(row, col int) lipgloss.Style {
			s := lipgloss.NewStyle().PaddingRight(2)
			if row == table.HeaderRow {
				return s.Bold(true)
			}
			return s
		})
}

func mark(selected bool) string {
	if selected {
		return successStyle.Render("*")
	}
	return " "
}

func avatarsCmd(configFile *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "avatars",
		Short: "Manage the avatar library",
		Long:  "List, add, rename, remove and select avatars. Requires avatar.single_model: false.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(*configFile, func(ctx context.Context, a *app) error {
				avatars, err := a.avatar.Avatars(ctx)
				if err != nil {
					return err
				}
				printAvatars(avatars)
				return nil
			})
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "add <name> <url>",
		Short: "Add an avatar",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(*configFile, func(ctx context.Context, a *app) error {
				av, err := a.avatar.CreateAvatar(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				fmt.Println(successStyle.Render("✓ Added " + av.Name))
				fmt.Printf("  ID:  %s\n  URL: %s\n", dimStyle.Render(av.ID), av.URL)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "rename <id> <name>",
		Short: "Rename an avatar",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(*configFile, func(ctx context.Context, a *app) error {
				av, err := a.avatar.RenameAvatar(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				fmt.Println(successStyle.Render("✓ Renamed to " + av.Name))
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:     "remove <id>",
		Aliases: []string{"rm", "delete"},
		Short:   "Remove an avatar",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(*configFile, func(ctx context.Context, a *app) error {
				if err := a.avatar.DeleteAvatar(ctx, args[0]); err != nil {
					return err
				}
				fmt.Println(successStyle.Render("✓ Removed"))
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "select <id>",
		Short: "Show this avatar",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(*configFile, func(ctx context.Context, a *app) error {
				av, err := a.avatar.SelectAvatar(ctx, args[0])
				if err != nil {
					return err
				}
				fmt.Println(successStyle.Render("✓ Selected " + av.Name))
				return nil
			})
		},
	})
	return cmd
}

func voicesCmd(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "voices",
		Short: "List speech voices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(*configFile, func(ctx context.Context, a *app) error {
				current := a.speech.Voice()
				t := listTable("", "ID", "NAME", "GENDER", "DESCRIPTION")
				for _, v := range a.speech.Voices(ctx) {
					t.Row(mark(v.ID == current), v.ID, v.Name, v.Gender, v.Description)
				}
				fmt.Println(t)
				return nil
			})
		},
	}
}

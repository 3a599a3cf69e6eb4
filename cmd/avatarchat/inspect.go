package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/normanking/talkingavatar/internal/avatar3d"
	"github.com/normanking/talkingavatar/internal/scene"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func inspectCmd() *cobra.Command {
	var (
		format  string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "inspect <model>",
		Short: "Report which mouth, eye and head controls a model resolves to",
		Long: `Load a .glb/.gltf file or URL and print the control tier the animator
would drive, the eye nodes, animation clips and mesh counts.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			asset, err := scene.Load(ctx, &http.Client{}, avatar3d.ResolveAssetURL(args[0]))
			if err != nil {
				return fmt.Errorf("failed to load model: %w", err)
			}
			return writeSummary(os.Stdout, avatar3d.NewAvatar(asset).Summary(), format)
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "text", "output format: text, yaml or json")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "load timeout")
	return cmd
}

func writeSummary(w io.Writer, s avatar3d.Summary, format string) error {
	switch format {
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(s); err != nil {
			return err
		}
		return enc.Close()
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	case "text", "":
	default:
		return fmt.Errorf("unknown format %q", format)
	}

	row := func(label, value string) {
		if value == "" {
			value = dimStyle.Render("-")
		}
		fmt.Fprintf(w, "  %-10s %s\n", label+":", value)
	}
	fmt.Fprintln(w, titleStyle.Render(s.Source))
	row("Tier", s.Tier)
	row("Strategy", string(s.Strategy))
	row("Mouth", s.Mouth)
	row("Left eye", s.EyeLeft)
	row("Right eye", s.EyeRight)
	row("Clips", strings.Join(s.Clips, ", "))
	row("Nodes", fmt.Sprint(s.Nodes))
	row("Meshes", fmt.Sprint(s.Meshes))
	row("Bones", fmt.Sprint(s.Bones))
	row("Morphs", fmt.Sprint(s.MorphCount))
	return nil
}

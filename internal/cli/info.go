package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/thruflo/botloop/internal/dataset"
)

var (
	infoRepoID string
	infoRoot   string
	infoJSON   bool
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show the metadata of a recorded dataset",
	Args:  cobra.NoArgs,
	RunE:  runInfo,
}

func init() {
	infoCmd.Flags().StringVar(&infoRepoID, "repo-id", "", "dataset id <owner>/<name> (default record.repo_id)")
	infoCmd.Flags().StringVar(&infoRoot, "root", "", "dataset root directory (default record.root)")
	infoCmd.Flags().BoolVar(&infoJSON, "json", false, "print info.json as is")

	rootCmd.AddCommand(infoCmd)
}

func runInfo(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	root, repoID := cfg.Record.Root, cfg.Record.RepoID
	if infoRoot != "" {
		root = infoRoot
	}
	if infoRepoID != "" {
		repoID = infoRepoID
	}

	info, err := dataset.ReadInfo(dataset.Dir(root, repoID))
	if err != nil {
		return err
	}
	if infoJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	return printInfo(cmd.OutOrStdout(), repoID, info)
}

func printInfo(out io.Writer, repoID string, info *dataset.Info) error {
	fmt.Fprintf(out, "Dataset:     %s\n", repoID)
	fmt.Fprintf(out, "Robot type:  %s\n", info.RobotType)
	fmt.Fprintf(out, "FPS:         %d\n", info.FPS)
	fmt.Fprintf(out, "Episodes:    %d\n", info.TotalEpisodes)
	fmt.Fprintf(out, "Frames:      %d\n", info.TotalFrames)
	fmt.Fprintf(out, "Compression: %s\n", info.Compression)

	fmt.Fprintln(out, "\nFeatures:")
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for _, name := range info.Features.Keys() {
		f := info.Features[name]
		fmt.Fprintf(tw, "  %s\t%s\t%s\n", name, f.DType, formatShape(f.Shape))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(info.Episodes) == 0 {
		return nil
	}
	fmt.Fprintln(out, "\nEpisodes:")
	tw = tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for _, ep := range info.Episodes {
		fmt.Fprintf(tw, "  %d\t%d frames\t%s\t%s\n", ep.Index, ep.Length, ep.Compression, ep.Path)
	}
	return tw.Flush()
}

func formatShape(shape []int) string {
	parts := make([]string, len(shape))
	for i, n := range shape {
		parts[i] = fmt.Sprint(n)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/newthinker/dataview/internal/backend"
	"github.com/newthinker/dataview/internal/clients"
	"github.com/newthinker/dataview/internal/core"
	"github.com/newthinker/dataview/internal/storage"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var connectionsCmd = &cobra.Command{
	Use:   "connections",
	Short: "List configured connections",
	RunE:  runConnections,
}

var lsCmd = &cobra.Command{
	Use:   "ls [path]",
	Short: "List a directory",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runLs,
}

var catCmd = &cobra.Command{
	Use:   "cat <path>",
	Short: "Print a file, or a byte window of it",
	Args:  cobra.ExactArgs(1),
	RunE:  runCat,
}

var statCmd = &cobra.Command{
	Use:   "stat <path>",
	Short: "Show the size of a file",
	Args:  cobra.ExactArgs(1),
	RunE:  runStat,
}

var getCmd = &cobra.Command{
	Use:   "get <path>",
	Short: "Download a file",
	Args:  cobra.ExactArgs(1),
	RunE:  runGet,
}

var (
	lsRecursive bool
	lsPageSize  int
	lsMarker    string
	lsPrefix    string
	lsSort      string
	lsDesc      bool

	catStart  int64
	catLength int64

	getOutput string
)

func init() {
	rootCmd.AddCommand(connectionsCmd)
	rootCmd.AddCommand(lsCmd)
	rootCmd.AddCommand(catCmd)
	rootCmd.AddCommand(statCmd)
	rootCmd.AddCommand(getCmd)

	lsCmd.Flags().BoolVarP(&lsRecursive, "recursive", "r", false, "list recursively")
	lsCmd.Flags().IntVar(&lsPageSize, "page-size", 0, "entries per page (default 1000)")
	lsCmd.Flags().StringVar(&lsMarker, "marker", "", "continue after this marker")
	lsCmd.Flags().StringVar(&lsPrefix, "prefix", "", "only names starting with prefix")
	lsCmd.Flags().StringVar(&lsSort, "sort", "name", "sort by name, size or modified")
	lsCmd.Flags().BoolVar(&lsDesc, "desc", false, "sort descending")

	catCmd.Flags().Int64Var(&catStart, "start", 0, "first byte to read")
	catCmd.Flags().Int64Var(&catLength, "length", 0, "number of bytes to read")

	getCmd.Flags().StringVarP(&getOutput, "output", "o", "", "write to this file instead of the download directory")
}

func runConnections(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer log.Sync()
	infos := clients.NewManager(cfg, nil, log).List()
	if len(infos) == 0 {
		fmt.Println("No connections configured.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tTYPE\tDISPLAY NAME\tDEFAULT\t")
	fmt.Fprintln(w, "----\t----\t------------\t-------\t")
	for _, info := range infos {
		def := ""
		if info.Default {
			def = "*"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t\n", info.Name, info.Protocol, info.DisplayName, def)
	}
	w.Flush()

	protocols := make([]string, 0, len(clients.SupportedProtocols()))
	for _, p := range clients.SupportedProtocols() {
		protocols = append(protocols, p.String())
	}
	fmt.Printf("\nSupported protocols: %s\n", strings.Join(protocols, ", "))
	return nil
}

func runLs(cmd *cobra.Command, args []string) error {
	dir := "/"
	if len(args) == 1 {
		dir = args[0]
	}
	order := "asc"
	if lsDesc {
		order = "desc"
	}
	opts := storage.ListOptions{
		PageSize:  lsPageSize,
		Marker:    lsMarker,
		Prefix:    lsPrefix,
		Recursive: lsRecursive,
		SortBy:    lsSort,
		SortOrder: order,
	}

	return withConnection(nil, func(ctx context.Context, c storage.Client, log *zap.Logger) error {
		result, err := c.ListDirectory(ctx, dir, opts)
		if err != nil {
			return fmt.Errorf("listing %s: %w", dir, err)
		}
		if len(result.Files) == 0 {
			fmt.Println("Empty directory.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "TYPE\tSIZE\tMODIFIED\tNAME\t")
		for _, f := range result.Files {
			kind, sz, name := "file", size(f.Size), f.Basename
			if f.IsDir() {
				kind, sz, name = "dir", "-", f.Basename+"/"
			}
			if lsRecursive {
				name = f.Filename
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t\n", kind, sz, f.LastMod, name)
		}
		w.Flush()

		if result.HasMore {
			fmt.Printf("\nMore entries: --marker %q\n", result.NextMarker)
		}
		log.Debug("directory listed", zap.String("path", result.Path), zap.Int("count", len(result.Files)))
		return nil
	})
}

func runCat(cmd *cobra.Command, args []string) error {
	var opts storage.ReadOptions
	if cmd.Flags().Changed("start") || cmd.Flags().Changed("length") {
		opts = storage.Range(catStart, catLength)
	}

	return withConnection(nil, func(ctx context.Context, c storage.Client, log *zap.Logger) error {
		content, err := c.ReadFile(ctx, args[0], opts)
		if err != nil {
			return fmt.Errorf("reading %s: %w", args[0], err)
		}
		fmt.Print(content.Content)
		return nil
	})
}

func runStat(cmd *cobra.Command, args []string) error {
	return withConnection(nil, func(ctx context.Context, c storage.Client, log *zap.Logger) error {
		n, err := c.FileSize(ctx, args[0])
		if err != nil {
			return fmt.Errorf("stat %s: %w", args[0], err)
		}
		fmt.Printf("Path: %s\n", args[0])
		fmt.Printf("Size: %s (%s bytes)\n", size(n), humanize.Comma(n))
		fmt.Printf("Connection: %s\n", c.DisplayName())
		return nil
	})
}

func printProgress(p backend.Progress) {
	if p.Total > 0 {
		fmt.Fprintf(os.Stderr, "\r%s: %s / %s", p.Filename, size(p.Downloaded), size(p.Total))
		return
	}
	fmt.Fprintf(os.Stderr, "\r%s: %s", p.Filename, size(p.Downloaded))
}

func runGet(cmd *cobra.Command, args []string) error {
	src := args[0]
	name := path.Base(src)
	if getOutput != "" {
		name = filepath.Base(getOutput)
	}

	return withConnection(printProgress, func(ctx context.Context, c storage.Client, log *zap.Logger) error {
		if getOutput == "" {
			dest, err := storage.DownloadWithProgress(ctx, c, src, name)
			if err == nil {
				fmt.Fprintln(os.Stderr)
				fmt.Printf("Saved %s\n", dest)
				return nil
			}
			if !errors.Is(err, core.ErrUnsupportedCapability) {
				return fmt.Errorf("downloading %s: %w", src, err)
			}
			log.Debug("progress download unavailable, falling back", zap.String("protocol", c.Protocol().String()))
		}

		data, err := c.Download(ctx, src)
		if err != nil {
			return fmt.Errorf("downloading %s: %w", src, err)
		}
		dest := getOutput
		if dest == "" {
			dest = name
		}
		if err := os.WriteFile(dest, data, 0644); err != nil {
			return fmt.Errorf("writing %s: %w", dest, err)
		}
		fmt.Printf("Saved %s (%s)\n", dest, size(int64(len(data))))
		return nil
	})
}

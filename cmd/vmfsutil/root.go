package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/deploymenttheory/go-vmfs/internal/block"
	"github.com/deploymenttheory/go-vmfs/internal/config"
	"github.com/deploymenttheory/go-vmfs/internal/filesystem"
	"github.com/deploymenttheory/go-vmfs/internal/lvm"
)

var (
	verbose      bool
	debugLevel   int
	extents      []string
	segmentSize  int64
	dioBlockSize int64
)

var rootCmd = &cobra.Command{
	Use:     "vmfsutil",
	Short:   "Inspect and manipulate a VMFS logical volume's block layer",
	Version: "0.1.0-dev",
}

func init() {
	cfg, err := config.Load()
	if err != nil {
		cfg = config.Default()
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().IntVar(&debugLevel, "debug-level", cfg.DebugLevel, "volume/LVM debug verbosity")
	rootCmd.PersistentFlags().StringSliceVar(&extents, "extent", nil, "extent file (repeatable, in any order)")
	rootCmd.PersistentFlags().Int64Var(&segmentSize, "segment-size", cfg.SegmentSize, "LVM segment granularity in bytes")
	rootCmd.PersistentFlags().Int64Var(&dioBlockSize, "dio-block-size", cfg.DioBlockSize, "direct I/O alignment unit in bytes")
}

// openLVM builds an LVM from the --extent flags and opens it, requiring
// every extent declared by the first one's volume header to be present.
// Segment granularity and direct-I/O alignment come from internal/config,
// overridable by the --segment-size/--dio-block-size flags.
func openLVM() (*lvm.LVM, error) {
	if len(extents) == 0 {
		return nil, fmt.Errorf("at least one --extent is required")
	}

	block.DioBlockSize = uint64(dioBlockSize)

	l := lvm.CreateWithSegmentSize(debugLevel, segmentSize)
	for _, path := range extents {
		if err := l.AddExtent(path); err != nil {
			return nil, fmt.Errorf("adding extent %s: %w", path, err)
		}
	}
	if err := l.Open(); err != nil {
		return nil, err
	}
	if verbose {
		fmt.Fprintf(cmdOut(), "opened LVM with %d extent(s)\n", l.LoadedExtents())
	}
	return l, nil
}

// mountFilesystem builds the LVM and mounts the filesystem superblock over
// it.
func mountFilesystem() (*filesystem.Filesystem, error) {
	l, err := openLVM()
	if err != nil {
		return nil, err
	}
	return filesystem.Mount(l)
}

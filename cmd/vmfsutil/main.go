// Command vmfsutil is a thin wiring layer over the core packages: it builds
// an LVM from a set of extent files, mounts the filesystem superblock, and
// calls straight into internal/lvm, internal/block and internal/filesystem.
// It plays the role vmfs-fuse.c's main() plays in the original — it does
// not parse pathnames or decode directory entries.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

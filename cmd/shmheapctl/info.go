package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/srediag/shmheap/pkg/heap"
	"github.com/srediag/shmheap/pkg/shm"
)

var infoHeapSize int

func init() {
	cmd := newInfoCmd()
	cmd.Flags().IntVar(&infoHeapSize, "heap-size", heap.DefaultSize, "Heap size the object must hold")
	rootCmd.AddCommand(cmd)
}

func newInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info [name]",
		Short: "Show a shared memory object",
		Long: `The info command shows the size of a shared memory object and whether a
heap of --heap-size bytes fits in it.

Example:
  shmheapctl info
  shmheapctl info bluesim1 --json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInfo(segmentName(args))
		},
	}
}

type segmentInfo struct {
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	HeapSize int    `json:"heap_size,omitempty"`
	Fits     bool   `json:"fits,omitempty"`
}

func runInfo(name string) error {
	size, err := shm.Stat(name)
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", name, err)
	}
	info := segmentInfo{
		Name:     name,
		Size:     size,
		HeapSize: infoHeapSize,
		Fits:     size >= int64(infoHeapSize),
	}

	if jsonOut {
		return printJSON(info)
	}
	printInfo("Name: %s\n", info.Name)
	printInfo("Size: %s (%d bytes)\n", formatBytes(info.Size), info.Size)
	if info.Fits {
		printInfo("Holds a %s heap\n", formatBytes(int64(info.HeapSize)))
	} else {
		printInfo("Too small for a %s heap\n", formatBytes(int64(info.HeapSize)))
	}
	return nil
}

package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/srediag/shmheap/pkg/heap"
	"github.com/srediag/shmheap/pkg/shm"
)

var (
	createSize  int
	createForce bool
)

func init() {
	cmd := newCreateCmd()
	cmd.Flags().IntVar(&createSize, "size", heap.DefaultSize, "Object size in bytes")
	cmd.Flags().BoolVar(&createForce, "force", false, "Replace an existing object")
	rootCmd.AddCommand(cmd)
}

func newCreateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create [name]",
		Short: "Create a zero filled shared memory object",
		Long: `The create command creates the shared memory object a heap is mapped from.
It fails when the object already exists unless --force is given.

Example:
  shmheapctl create
  shmheapctl create bluesim1 --size 67108864`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCreate(segmentName(args))
		},
	}
}

func segmentName(args []string) string {
	if len(args) == 0 {
		return heap.DefaultName
	}
	return args[0]
}

func runCreate(name string) error {
	if createSize <= 0 {
		return fmt.Errorf("invalid size %d", createSize)
	}
	err := shm.Create(name, createSize)
	if errors.Is(err, shm.ErrExists) && createForce {
		printVerbose("Replacing existing object %s\n", name)
		if err = shm.Remove(name); err != nil {
			return fmt.Errorf("failed to remove %s: %w", name, err)
		}
		err = shm.Create(name, createSize)
	}
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", name, err)
	}

	if jsonOut {
		return printJSON(segmentInfo{Name: name, Size: int64(createSize)})
	}
	printInfo("Created %s (%s)\n", name, formatBytes(int64(createSize)))
	return nil
}

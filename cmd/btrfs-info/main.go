// Command btrfs-info prints filesystem-wide metadata: the superblock
// summary and the list of subvolumes.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/datawire/dlib/dlog"
	"github.com/davecgh/go-spew/spew"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/pegasusheavy/btrfsfs/lib/btrfsfs"
)

type logLevelFlag struct {
	logrus.Level
}

func (lvl *logLevelFlag) Type() string { return "loglevel" }
func (lvl *logLevelFlag) Set(str string) error {
	var err error
	lvl.Level, err = logrus.ParseLevel(str)
	return err
}

var _ pflag.Value = (*logLevelFlag)(nil)

func main() {
	verbosity := logLevelFlag{Level: logrus.WarnLevel}
	var debug bool

	cmd := &cobra.Command{
		Use:   "btrfs-info DEVICE...",
		Short: "Print superblock and subvolume information for a btrfs filesystem",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := logrus.New()
			logger.SetLevel(verbosity.Level)
			ctx := dlog.WithLogger(context.Background(), dlog.WrapLogrus(logger))
			return run(ctx, args, debug)
		},
		SilenceUsage: true,
	}
	cmd.PersistentFlags().Var(&verbosity, "verbosity", "set the log verbosity")
	cmd.Flags().BoolVar(&debug, "debug", false, "print a full field-by-field superblock dump")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "btrfs-info: error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, paths []string, debug bool) (err error) {
	devices, closeAll, err := btrfsfs.OpenDevices(paths...)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := closeAll(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	fs, err := btrfsfs.Open(ctx, devices, btrfsfs.Options{VerifyChecksums: true})
	if err != nil {
		return err
	}

	sb, err := devices[0].Superblock()
	if err != nil {
		return err
	}
	fmt.Printf("label:          %q\n", sb.Label)
	fmt.Printf("fsid:           %v\n", sb.FSUUID)
	fmt.Printf("generation:     %d\n", sb.Generation)
	fmt.Printf("node size:      %d\n", sb.NodeSize)
	fmt.Printf("sector size:    %d\n", sb.SectorSize)
	fmt.Printf("total bytes:    %d\n", sb.TotalBytes)
	fmt.Printf("bytes used:     %d\n", sb.BytesUsed)
	fmt.Printf("num devices:    %d\n", sb.NumDevices)
	fmt.Printf("checksum type:  %v\n", sb.ChecksumType)
	if debug {
		spew.Dump(sb)
	}

	subvols, err := fs.ListSubvolumes(ctx)
	if err != nil {
		return fmt.Errorf("listing subvolumes: %w", err)
	}
	def, err := fs.DefaultSubvolume(ctx)
	if err != nil {
		return fmt.Errorf("default subvolume: %w", err)
	}
	fmt.Printf("\nsubvolumes (default=%d):\n", def)
	for id, ri := range subvols {
		fmt.Printf("  % 8d  uuid=%v  flags=%#x\n", id, ri.UUID, uint64(ri.Flags))
	}
	return nil
}

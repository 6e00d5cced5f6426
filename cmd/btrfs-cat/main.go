// Command btrfs-cat extracts one file's contents from a btrfs
// filesystem image and writes them to stdout.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/datawire/dlib/dlog"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/pegasusheavy/btrfsfs/lib/btrfsfs"
	"github.com/pegasusheavy/btrfsfs/lib/btrfsprim"
)

type logLevelFlag struct{ logrus.Level }

func (lvl *logLevelFlag) Type() string { return "loglevel" }
func (lvl *logLevelFlag) Set(str string) error {
	var err error
	lvl.Level, err = logrus.ParseLevel(str)
	return err
}

var _ pflag.Value = (*logLevelFlag)(nil)

func main() {
	verbosity := logLevelFlag{Level: logrus.WarnLevel}
	var subvolID int64
	var devicePaths []string
	var skipChecksums bool
	var offset, length int64

	cmd := &cobra.Command{
		Use:   "btrfs-cat --pv DEVICE... PATH",
		Short: "Print one file's contents from a btrfs filesystem",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := logrus.New()
			logger.SetLevel(verbosity.Level)
			ctx := dlog.WithLogger(context.Background(), dlog.WrapLogrus(logger))
			return run(ctx, devicePaths, btrfsprim.ObjID(subvolID), args[0], !skipChecksums, offset, length)
		},
		SilenceUsage: true,
	}
	cmd.PersistentFlags().Var(&verbosity, "verbosity", "set the log verbosity")
	cmd.Flags().StringArrayVar(&devicePaths, "pv", nil, "open the file `physical_volume` as part of the filesystem")
	cmd.Flags().Int64Var(&subvolID, "subvol", 0, "subvolume tree ID to read from (0 means the default subvolume)")
	cmd.Flags().BoolVar(&skipChecksums, "no-verify", false, "skip csum-tree verification of file data")
	cmd.Flags().Int64Var(&offset, "offset", 0, "byte offset to start reading from")
	cmd.Flags().Int64Var(&length, "length", -1, "number of bytes to read (negative means to end of file)")
	_ = cmd.MarkFlagRequired("pv")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "btrfs-cat: error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, paths []string, subvolID btrfsprim.ObjID, path string, verify bool, offset, length int64) (err error) {
	devices, closeAll, err := btrfsfs.OpenDevices(paths...)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := closeAll(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	fs, err := btrfsfs.Open(ctx, devices, btrfsfs.Options{VerifyChecksums: verify})
	if err != nil {
		return err
	}

	if subvolID == 0 {
		subvolID, err = fs.DefaultSubvolume(ctx)
		if err != nil {
			return fmt.Errorf("default subvolume: %w", err)
		}
	}

	inode, err := fs.ResolvePath(ctx, subvolID, path)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if inode.Item.IsDir() {
		return fmt.Errorf("%s: is a directory", path)
	}

	var data []byte
	if inode.Item.IsSymlink() {
		target, err := fs.ReadLink(ctx, inode)
		if err != nil {
			return err
		}
		data = []byte(target + "\n")
	} else {
		readLen := length
		if readLen < 0 {
			readLen = inode.Item.Size - offset
		}
		data, err = fs.ReadFile(ctx, inode, offset, readLen)
		if err != nil {
			return err
		}
	}
	_, err = os.Stdout.Write(data)
	return err
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/zzenonn/blockmap/internal/domain"
	apperrors "github.com/zzenonn/blockmap/internal/errors"
)

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseOffsets(args []string) (start, end int64, err error) {
	if start, err = strconv.ParseInt(args[0], 10, 64); err != nil {
		return 0, 0, fmt.Errorf("invalid start %q: %w", args[0], err)
	}
	if end, err = strconv.ParseInt(args[1], 10, 64); err != nil {
		return 0, 0, fmt.Errorf("invalid end %q: %w", args[1], err)
	}
	return start, end, nil
}

// rangeFlags returns the --start/--end flags, nil where not given.
func rangeFlags(flags *pflag.FlagSet) (start, end *int64, err error) {
	if flags.Changed("start") {
		v, err := flags.GetInt64("start")
		if err != nil {
			return nil, nil, err
		}
		start = &v
	}
	if flags.Changed("end") {
		v, err := flags.GetInt64("end")
		if err != nil {
			return nil, nil, err
		}
		end = &v
	}
	return start, end, nil
}

func addRangeFlags(cmd *cobra.Command) {
	cmd.Flags().Int64("start", 0, "First byte of the range")
	cmd.Flags().Int64("end", 0, "End of the range (exclusive)")
}

var allocateCmd = &cobra.Command{
	Use:   "allocate [bucket] [key] [start] [end]",
	Short: "Allocate a chunk and blocks for a part of an object",
	Long:  "Creates the object record when the key is new, then maps [start, end) to a new chunk and prints the part mapping",
	Args:  cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		bucketName, key := args[0], args[1]
		start, end, err := parseOffsets(args[2:])
		if err != nil {
			return err
		}

		e, err := openEngine()
		if err != nil {
			return err
		}
		defer e.Close()

		ctx := context.Background()
		bucket := cfg.Bucket(bucketName)

		obj, err := e.store.GetObjectByKey(ctx, bucketName, key)
		if errors.Is(err, apperrors.ErrNotFound) {
			size, _ := cmd.Flags().GetInt64("size")
			if size <= 0 {
				size = end
			}
			obj = domain.Object{
				ID:     uuid.NewString(),
				System: bucket.System,
				Bucket: bucketName,
				Key:    key,
				Size:   size,
			}
			if err := e.store.PutObject(ctx, obj); err != nil {
				return err
			}
			log.Infof("Created object %s for %s/%s", obj.ID, bucketName, key)
		} else if err != nil {
			return err
		}

		chunkSize, _ := cmd.Flags().GetInt64("chunk-size")
		if chunkSize <= 0 {
			chunkSize = end - start
		}

		crypt := domain.CryptMeta{}
		crypt.HashType, _ = cmd.Flags().GetString("hash-type")
		crypt.HashVal, _ = cmd.Flags().GetString("hash-val")
		crypt.CipherType, _ = cmd.Flags().GetString("cipher-type")
		crypt.CipherVal, _ = cmd.Flags().GetString("cipher-val")

		pm, err := e.mapper.Allocate(ctx, bucket, obj, start, end, chunkSize, crypt)
		if err != nil {
			return err
		}
		return printJSON(pm)
	},
}

var readCmd = &cobra.Command{
	Use:   "read [bucket] [key]",
	Short: "Print the part mappings of an object",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		start, end, err := rangeFlags(cmd.Flags())
		if err != nil {
			return err
		}

		e, err := openEngine()
		if err != nil {
			return err
		}
		defer e.Close()

		ctx := context.Background()
		obj, err := e.store.GetObjectByKey(ctx, args[0], args[1])
		if err != nil {
			return err
		}

		mappings, err := e.mapper.ReadMappings(ctx, obj, start, end)
		if err != nil {
			return err
		}
		return printJSON(mappings)
	},
}

var nodeCmd = &cobra.Command{
	Use:   "node [node-id]",
	Short: "Print every object with a live block on a node",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEngine()
		if err != nil {
			return err
		}
		defer e.Close()

		node, err := e.registry.GetNode(args[0])
		if err != nil {
			// decommissioned nodes may still hold blocks
			log.Warnf("Node %s is not configured, looking it up by id only", args[0])
			node = domain.Node{ID: args[0]}
		}

		mappings, err := e.mapper.ReadNodeMappings(context.Background(), node)
		if err != nil {
			return err
		}
		return printJSON(mappings)
	},
}

var nodesCmd = &cobra.Command{
	Use:   "nodes",
	Short: "List the configured storage nodes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEngine()
		if err != nil {
			return err
		}
		defer e.Close()

		return printJSON(e.registry.ListNodes())
	},
}

var tombstoneCmd = &cobra.Command{
	Use:   "tombstone [bucket] [key]",
	Short: "Soft-delete the chunks and blocks of an object",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEngine()
		if err != nil {
			return err
		}
		defer e.Close()

		ctx := context.Background()
		obj, err := e.store.GetObjectByKey(ctx, args[0], args[1])
		if err != nil {
			return err
		}

		if err := e.mapper.Tombstone(ctx, obj); err != nil {
			return err
		}
		fmt.Printf("Object tombstoned: %s/%s (%s)\n", obj.Bucket, obj.Key, obj.ID)
		return nil
	},
}

var repairCmd = &cobra.Command{
	Use:   "repair [bucket] [key] [start] [end] [fragment] [block-id]",
	Short: "Report a bad block of a part",
	Long:  "With --write a replacement block is allocated and printed. Otherwise the read failure is recorded for a later rebuild.",
	Args:  cobra.ExactArgs(6),
	RunE: func(cmd *cobra.Command, args []string) error {
		start, end, err := parseOffsets(args[2:4])
		if err != nil {
			return err
		}
		fragment, err := strconv.Atoi(args[4])
		if err != nil {
			return fmt.Errorf("invalid fragment %q: %w", args[4], err)
		}
		isWrite, _ := cmd.Flags().GetBool("write")

		e, err := openEngine()
		if err != nil {
			return err
		}
		defer e.Close()

		ctx := context.Background()
		obj, err := e.store.GetObjectByKey(ctx, args[0], args[1])
		if err != nil {
			return err
		}

		replacement, err := e.mapper.RepairBlock(ctx, obj, start, end, fragment, args[5], isWrite)
		if err != nil {
			return err
		}
		if replacement == nil {
			fmt.Printf("Read failure recorded for block %s\n", args[5])
			return nil
		}
		return printJSON(replacement)
	},
}

func init() {
	allocateCmd.Flags().Int64("size", 0, "Object size when the object is new (defaults to end)")
	allocateCmd.Flags().Int64("chunk-size", 0, "Chunk size (defaults to end-start)")
	allocateCmd.Flags().String("hash-type", "", "Chunk hash type")
	allocateCmd.Flags().String("hash-val", "", "Chunk hash value")
	allocateCmd.Flags().String("cipher-type", "", "Chunk cipher type")
	allocateCmd.Flags().String("cipher-val", "", "Chunk cipher value")
	addRangeFlags(readCmd)
	repairCmd.Flags().Bool("write", false, "The block failed to be written")

	rootCmd.AddCommand(allocateCmd)
	rootCmd.AddCommand(readCmd)
	rootCmd.AddCommand(nodeCmd)
	rootCmd.AddCommand(nodesCmd)
	rootCmd.AddCommand(tombstoneCmd)
	rootCmd.AddCommand(repairCmd)
}

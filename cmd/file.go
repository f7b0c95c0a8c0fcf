package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

const urlScheme = "bm://"

var quiet bool

// parseObjectURL splits bm://bucket/prefix/object into bucket and key.
func parseObjectURL(raw string) (bucket, key string, err error) {
	if !strings.HasPrefix(raw, urlScheme) {
		return "", "", fmt.Errorf("URL must start with %s", urlScheme)
	}
	bucket, key, _ = strings.Cut(strings.TrimPrefix(raw, urlScheme), "/")
	if bucket == "" || key == "" {
		return "", "", fmt.Errorf("URL must name a bucket and a key: %s", raw)
	}
	return bucket, key, nil
}

var uploadCmd = &cobra.Command{
	Use:   "upload [file-path] [bm://bucket/prefix/object]",
	Short: "Upload a file, replacing any object with the same key",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		filePath := args[0]
		bucket, key, err := parseObjectURL(args[1])
		if err != nil {
			return err
		}

		file, err := os.Open(filePath)
		if err != nil {
			return fmt.Errorf("error opening file: %w", err)
		}
		defer file.Close()

		e, err := openEngine()
		if err != nil {
			return err
		}
		defer e.Close()

		fileService, err := e.fileService(quiet)
		if err != nil {
			return err
		}

		obj, err := fileService.Upload(context.Background(), cfg.Bucket(bucket), key, file)
		if err != nil {
			return fmt.Errorf("error uploading file: %w", err)
		}
		fmt.Printf("File uploaded successfully: %s -> %s%s/%s (%d bytes, object %s)\n",
			filePath, urlScheme, bucket, key, obj.Size, obj.ID)
		return nil
	},
}

var downloadCmd = &cobra.Command{
	Use:   "download [bm://bucket/prefix/object] [output-path]",
	Short: "Download an object or a byte range of it",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		outputPath := args[1]
		bucket, key, err := parseObjectURL(args[0])
		if err != nil {
			return err
		}
		start, end, err := rangeFlags(cmd.Flags())
		if err != nil {
			return err
		}

		// If output path is a directory, use the filename from the key
		if stat, err := os.Stat(outputPath); err == nil && stat.IsDir() {
			outputPath = filepath.Join(outputPath, filepath.Base(key))
		}

		if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
			return fmt.Errorf("error creating output directory: %w", err)
		}

		e, err := openEngine()
		if err != nil {
			return err
		}
		defer e.Close()

		fileService, err := e.fileService(quiet)
		if err != nil {
			return err
		}

		outFile, err := os.Create(outputPath)
		if err != nil {
			return fmt.Errorf("error creating output file: %w", err)
		}
		defer outFile.Close()

		if err := fileService.Download(context.Background(), bucket, key, start, end, outFile); err != nil {
			os.Remove(outputPath)
			return fmt.Errorf("error downloading file: %w", err)
		}

		fmt.Printf("File downloaded successfully: %s -> %s\n", args[0], outputPath)
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete [bm://bucket/prefix/object]",
	Short: "Delete an object",
	Long:  "Tombstones the chunks and blocks of the object. With --purge the block bytes are removed from the storage nodes as well.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		bucket, key, err := parseObjectURL(args[0])
		if err != nil {
			return err
		}
		purge, _ := cmd.Flags().GetBool("purge")

		e, err := openEngine()
		if err != nil {
			return err
		}
		defer e.Close()

		fileService, err := e.fileService(true)
		if err != nil {
			return err
		}

		if err := fileService.Delete(context.Background(), bucket, key, purge); err != nil {
			return fmt.Errorf("error deleting file: %w", err)
		}
		fmt.Printf("File deleted successfully: %s\n", args[0])
		return nil
	},
}

func init() {
	uploadCmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Suppress progress bars")
	downloadCmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Suppress progress bars")
	addRangeFlags(downloadCmd)
	deleteCmd.Flags().Bool("purge", false, "Also delete the block bytes from the storage nodes")
	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(downloadCmd)
	rootCmd.AddCommand(deleteCmd)
}

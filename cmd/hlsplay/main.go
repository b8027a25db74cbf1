package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/hydrz/hlsbuf"
	"github.com/hydrz/hlsbuf/utils"
)

var option hlsbuf.Option

func init() {
	option = *hlsbuf.DefaultOptions
}

// createRootCommand builds the hlsplay command: open an HLS URL through
// HlsBuffer and either report its properties or stream it to a file.
func createRootCommand() *cobra.Command {
	var headerFlags []string
	var outputPath string
	var infoOnly bool
	var saveSegments string

	cmd := &cobra.Command{
		Use:   "hlsplay [URL]",
		Short: "Play or export an HTTP Live Streaming URL through a ring buffer",
		Long:  "hlsplay opens an HLS manifest through hlsbuf.HlsBuffer and either prints its properties or copies the decoded media to a file.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := processHeaders(headerFlags); err != nil {
				return err
			}
			return run(cmd.Context(), strings.TrimSpace(args[0]), outputPath, infoOnly, saveSegments)
		},
	}
	setupFlags(cmd, &headerFlags, &outputPath, &infoOnly, &saveSegments)
	return cmd
}

func run(ctx context.Context, url string, outputPath string, infoOnly bool, saveSegments string) error {
	buf, err := hlsbuf.Open(ctx, url, option)
	if err != nil {
		return fmt.Errorf("opening %s: %w", url, err)
	}
	defer buf.Close()

	size := buf.SizeMedia()
	if !option.Silent {
		fmt.Printf("estimated size: %s\n", utils.FormatBytes(size))
	}

	if infoOnly {
		return nil
	}

	if saveSegments != "" {
		return exportSegments(ctx, buf, saveSegments)
	}

	if outputPath == "" {
		outputPath = utils.SanitizeFilename(filepath.Base(url))
		if utils.FileExtension(outputPath) == "" {
			outputPath += ".ts"
		}
	}

	out, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("creating %s: %w", outputPath, err)
	}
	defer out.Close()

	var bar *progressbar.ProgressBar
	if !option.Silent {
		bar = progressbar.DefaultBytes(size, "downloading")
	}

	started := time.Now()
	buffer := make([]byte, 64*1024)
	var total int64
	for {
		n, err := buf.Read(buffer)
		if n > 0 {
			if _, werr := out.Write(buffer[:n]); werr != nil {
				return fmt.Errorf("writing output: %w", werr)
			}
			total += int64(n)
			if bar != nil {
				bar.Add(n)
			}
		}
		if err != nil {
			if errors.Is(err, hlsbuf.ErrInterrupted) || errors.Is(err, hlsbuf.ErrClosed) {
				break
			}
			return fmt.Errorf("reading stream: %w", err)
		}
		if n == 0 {
			break
		}
	}

	if !option.Silent {
		fmt.Printf("\nwrote %s in %s\n", utils.FormatBytes(total), utils.FormatDuration(time.Since(started)))
	}
	return nil
}

// exportSegments uses HlsBuffer.SaveToDisk to dump the current rendition's
// segments to a single file, bypassing the playback cursor entirely.
func exportSegments(ctx context.Context, buf *hlsbuf.HlsBuffer, outputPath string) error {
	data, err := buf.SaveToDisk(ctx, 0, -1)
	if err != nil {
		return fmt.Errorf("exporting segments: %w", err)
	}
	out, err := os.Create(outputPath)
	if err != nil {
		return err
	}
	defer out.Close()
	if _, err := out.Write(data); err != nil {
		return err
	}
	if !option.Silent {
		fmt.Printf("wrote %s (%s)\n", outputPath, utils.FormatBytes(int64(len(data))))
	}
	return nil
}

func processHeaders(headerFlags []string) error {
	if option.Headers == nil {
		option.Headers = make(map[string]string)
	}
	for _, h := range headerFlags {
		parts := strings.SplitN(h, ":", 2)
		if len(parts) != 2 {
			return fmt.Errorf("invalid header format: %s", h)
		}
		option.Headers[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
	}
	return nil
}

func setupFlags(cmd *cobra.Command, headerFlags *[]string, outputPath *string, infoOnly *bool, saveSegments *string) {
	cmd.Flags().StringVarP(outputPath, "output", "o", "", "Output file path (default derived from the URL)")
	cmd.Flags().BoolVarP(infoOnly, "info", "i", false, "Only print estimated size, do not download")
	cmd.Flags().StringVar(saveSegments, "save-segments", "", "Export raw segments (no playback cursor) to this path")

	cmd.Flags().StringArrayVarP(headerFlags, "header", "H", nil, "Custom HTTP headers")
	cmd.Flags().StringVarP(&option.UserAgent, "user-agent", "u", option.UserAgent, "Custom user agent")
	cmd.Flags().StringVarP(&option.Proxy, "proxy", "x", option.Proxy, "HTTP proxy URL")
	cmd.Flags().IntVarP(&option.RetryCount, "retry", "r", option.RetryCount, "Manifest/key HTTP retry count")
	cmd.Flags().DurationVarP(&option.Timeout, "timeout", "t", option.Timeout, "Request timeout")
	cmd.Flags().BoolVar(&option.NoCache, "no-cache", option.NoCache, "Disable HTTP caching of manifests and keys")
	cmd.Flags().Int64Var(&option.SimulateBandwidthBPS, "simulate-bandwidth", option.SimulateBandwidthBPS, "Throttle segment downloads to this many bytes/sec, to exercise adaptation")

	cmd.Flags().BoolVarP(&option.Debug, "debug", "d", option.Debug, "Enable debug logging")
	cmd.Flags().BoolVarP(&option.Verbose, "verbose", "v", option.Verbose, "Enable verbose logging")
	cmd.Flags().BoolVar(&option.Silent, "silent", option.Silent, "Suppress all output except errors")
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	rootCmd := createRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"facewatch/internal/pipeline"
	"facewatch/internal/scan"
	"facewatch/internal/stream"
)

var (
	scanOutput string
	scanOutDir string
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Match faces in an image, sketch or video against the gallery",
}

var scanImageCmd = &cobra.Command{
	Use:   "image <file>",
	Short: "Scan a photo",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStill(cmd.Context(), args[0], facewatch.Scan.DetectImage)
	},
}

var scanSketchCmd = &cobra.Command{
	Use:   "sketch <file>",
	Short: "Enhance a drawn sketch and scan it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStill(cmd.Context(), args[0], facewatch.Scan.DetectSketch)
	},
}

var scanVideoCmd = &cobra.Command{
	Use:   "video <file>",
	Short: "Sample a video and scan its frames",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runVideo(cmd.Context(), args[0])
	},
}

func init() {
	scanImageCmd.Flags().StringVarP(&scanOutput, "output", "o", "", "Write the annotated image here")
	scanSketchCmd.Flags().StringVarP(&scanOutput, "output", "o", "", "Write the annotated image here")
	scanVideoCmd.Flags().StringVar(&scanOutDir, "out-dir", "", "Write annotated frames with matches to this directory")

	scanCmd.AddCommand(scanImageCmd, scanSketchCmd, scanVideoCmd)
	rootCmd.AddCommand(scanCmd)
}

type stillScan func(ctx context.Context, img image.Image, opts scan.Options) (*scan.Outcome, error)

func runStill(ctx context.Context, path string, detect stillScan) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	img, err := scan.DecodeImage(data)
	if err != nil {
		return err
	}
	out, err := detect(ctx, img, scan.Options{})
	if err != nil {
		return err
	}

	fmt.Printf("%d face(s) detected\n", len(out.Result.Detections))
	for _, d := range out.Result.Detections {
		fmt.Printf("  %-28s %v\n", d.Label, d.Box)
	}
	printMatches(out.Result.Matches)
	if len(out.Alerted) > 0 {
		fmt.Printf("Alert sent for %s\n", matchNames(out.Alerted))
	}

	if scanOutput != "" {
		if err := os.WriteFile(scanOutput, out.JPEG, 0o644); err != nil {
			return err
		}
		fmt.Printf("Annotated image written to %s\n", scanOutput)
	}
	return nil
}

func runVideo(ctx context.Context, path string) error {
	if scanOutDir != "" {
		if err := os.MkdirAll(scanOutDir, 0o755); err != nil {
			return err
		}
	}

	bar := progressbar.NewOptions64(estimateFrames(ctx, path),
		progressbar.OptionSetDescription("Scanning"),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
	)

	matches, err := facewatch.Scan.DetectVideo(ctx, path, scan.Options{}, func(msg any) error {
		f, ok := msg.(*scan.FrameMessage)
		if !ok {
			return nil
		}
		bar.Add(1)
		if scanOutDir == "" || len(f.Matches) == 0 {
			return nil
		}
		jpg, err := base64.StdEncoding.DecodeString(f.Frame)
		if err != nil {
			return err
		}
		return os.WriteFile(filepath.Join(scanOutDir, fmt.Sprintf("frame_%06d.jpg", f.Index)), jpg, 0o644)
	})
	bar.Finish()
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return err
	}
	printMatches(matches)
	return nil
}

// estimateFrames returns the number of frames DetectVideo will process, or
// -1 when the length is unknown.
func estimateFrames(ctx context.Context, path string) int64 {
	info, err := stream.Probe(ctx, path)
	if err != nil || info.Frames <= 0 {
		return -1
	}
	cfg := facewatch.Config.Video
	frames := info.Frames
	if cfg.FrameLimit > 0 && frames > cfg.FrameLimit {
		frames = cfg.FrameLimit
	}
	step := stream.FrameStep(info.FPS, cfg.TargetFPS)
	return int64((frames + step - 1) / step)
}

func printMatches(matches []pipeline.Match) {
	if len(matches) == 0 {
		fmt.Println("No matches.")
		return
	}
	fmt.Println("Matches:")
	for _, m := range matches {
		fmt.Printf("  %-20s %.3f\n", m.Label, m.Score)
	}
}

func matchNames(matches []pipeline.Match) string {
	names := make([]string, len(matches))
	for i, m := range matches {
		names[i] = m.Label
	}
	return strings.Join(names, ", ")
}

// Package cli contains the objectpose command line actions.
package cli

import (
	"io"

	"github.com/urfave/cli/v2"

	"go.viam.com/objectpose/logging"
	"go.viam.com/objectpose/rimage/imagesource"
)

const (
	// Global flags.
	flagDebug   = "debug"
	flagLogFile = "log-file"
	flagConfig  = "config"
	flagWorkers = "workers"

	calibrateFlagRows     = "rows"
	calibrateFlagCols     = "cols"
	calibrateFlagSize     = "size"
	calibrateFlagVideo    = "video"
	calibrateFlagImages   = "images"
	calibrateFlagJump     = "jump"
	calibrateFlagLimit    = "limit"
	calibrateFlagVerbose  = "verbose"
	calibrateFlagDebugDir = "debug-dir"
	calibrateFlagOutput   = "output"

	estimateFlagCalibration = "calibration"
	estimateFlagDetections  = "detections"
	estimateFlagInput       = "input"
	estimateFlagConfidence  = "confidence"
	estimateFlagOutput      = "output"
	estimateFlagFPS         = "fps"
)

// DefaultCalibrationPath is where calibrate writes its artifact unless told otherwise.
const DefaultCalibrationPath = "camera_calibration.json"

// NewApp returns a new app with the CLI API, Writer set to out, and ErrWriter
// set to errOut. Logs go to errOut and, with --log-file, to a rotated file.
func NewApp(out, errOut io.Writer) *cli.App {
	var (
		logger    logging.Logger
		logCloser io.Closer
	)
	withLogger := func(action func(*cli.Context, logging.Logger) error) cli.ActionFunc {
		return func(c *cli.Context) error {
			return action(c, logger)
		}
	}
	configFlag := &cli.StringFlag{
		Name:    flagConfig,
		Aliases: []string{"c"},
		Usage:   "load tuning and registered objects from `FILE`",
	}

	return &cli.App{
		Name:            "objectpose",
		Usage:           "calibrate a camera and estimate the pose of known objects",
		HideHelpCommand: true,
		Writer:          out,
		ErrWriter:       errOut,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    flagDebug,
				Aliases: []string{"vvv"},
				Usage:   "enable debug logging",
			},
			&cli.StringFlag{
				Name:  flagLogFile,
				Usage: "also write logs to `FILE`, rotated by size",
			},
		},
		Before: func(c *cli.Context) error {
			logger = logging.NewBlankLogger("objectpose")
			logger.AddAppender(logging.NewWriterAppender(c.App.ErrWriter))
			if !c.Bool(flagDebug) {
				logger.SetLevel(logging.INFO)
			}
			if path := c.String(flagLogFile); path != "" {
				var appender logging.Appender
				appender, logCloser = logging.NewFileAppender(path)
				logger.AddAppender(appender)
			}
			return nil
		},
		After: func(c *cli.Context) error {
			if logCloser == nil {
				return nil
			}
			return logCloser.Close()
		},
		Commands: []*cli.Command{
			{
				Name:      "calibrate",
				Usage:     "calibrate a camera from checkerboard images or video",
				UsageText: "objectpose calibrate --rows R --cols C (--video PATH | --images DIR) [other options]",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:     calibrateFlagRows,
						Aliases:  []string{"r"},
						Usage:    "number of inner corners along the rows of the checkerboard",
						Required: true,
					},
					&cli.IntFlag{
						Name:     calibrateFlagCols,
						Aliases:  []string{"C"},
						Usage:    "number of inner corners along the columns of the checkerboard",
						Required: true,
					},
					&cli.Float64Flag{
						Name:    calibrateFlagSize,
						Aliases: []string{"s"},
						Usage:   "size of a checkerboard square",
						Value:   10,
					},
					&cli.StringFlag{
						Name:  calibrateFlagVideo,
						Usage: "read frames from the video at `PATH`",
					},
					&cli.StringFlag{
						Name:  calibrateFlagImages,
						Usage: "read frames from the images in `DIR`",
					},
					&cli.IntFlag{
						Name:    calibrateFlagJump,
						Aliases: []string{"j"},
						Usage:   "frames to skip between processed frames",
					},
					&cli.IntFlag{
						Name:    calibrateFlagLimit,
						Aliases: []string{"l"},
						Usage:   "stop after this many frames, zero for no limit",
					},
					&cli.BoolFlag{
						Name:    calibrateFlagVerbose,
						Aliases: []string{"v"},
						Usage:   "report the detection result of every frame",
					},
					&cli.StringFlag{
						Name:  calibrateFlagDebugDir,
						Usage: "write every processed frame with its detected corners to `DIR`",
					},
					&cli.IntFlag{
						Name:  flagWorkers,
						Usage: "frames searched for corners concurrently, zero for one per CPU",
					},
					&cli.StringFlag{
						Name:    calibrateFlagOutput,
						Aliases: []string{"o"},
						Usage:   "write the calibration to `FILE`",
						Value:   DefaultCalibrationPath,
					},
					configFlag,
				},
				Action: withLogger(CalibrateAction),
			},
			{
				Name:      "estimate",
				Usage:     "estimate object poses from detected keypoints",
				UsageText: "objectpose estimate --calibration FILE --detections FILE --input (VIDEO|DIR) [other options]",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     estimateFlagCalibration,
						Usage:    "camera calibration `FILE` written by calibrate",
						Required: true,
					},
					&cli.StringFlag{
						Name:     estimateFlagDetections,
						Usage:    "JSON lines `FILE` with one line of keypoint detections per frame",
						Required: true,
					},
					&cli.StringFlag{
						Name:     estimateFlagInput,
						Aliases:  []string{"i"},
						Usage:    "video file or image directory the detections belong to",
						Required: true,
					},
					&cli.Float64Flag{
						Name:  estimateFlagConfidence,
						Usage: "drop detections scoring below this",
						Value: 0.7,
					},
					&cli.StringFlag{
						Name:    estimateFlagOutput,
						Aliases: []string{"o", "output-dir"},
						Usage:   "write every frame with the estimated axes to `PATH`, a video when it ends in .mp4, .mkv, .mov or .avi and a directory of PNGs otherwise",
					},
					&cli.Float64Flag{
						Name:  estimateFlagFPS,
						Usage: "frame rate of an output video",
						Value: imagesource.DefaultFrameRate,
					},
					&cli.IntFlag{
						Name:  flagWorkers,
						Usage: "instances of a frame solved concurrently",
						Value: 1,
					},
					configFlag,
				},
				Action: withLogger(EstimateAction),
			},
		},
	}
}

package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	htmlshot "github.com/porticus-lab/go-html-shot"
	"github.com/porticus-lab/go-html-shot/internal/config"
)

type captureFlags struct {
	url       string
	htmlFile  string
	wait      int
	trim      string
	device    string
	script    string
	watermark string
	output    string
	timeout   time.Duration
}

func newCaptureCmd(root *rootFlags) *cobra.Command {
	var f captureFlags
	cmd := &cobra.Command{
		Use:   "capture",
		Short: "Capture a URL or HTML file to a PNG",
		Long: `Capture a URL or HTML file to a PNG.

Wait values: 0 load, 1 DOM ready, 2 network idle, larger values sleep that
many milliseconds. Browser settings come from the environment as for serve
(CHROME_PATH, REMOTE_URL, NO_SANDBOX).

Examples:
  htmlshot capture --url https://example.com -o example.png
  htmlshot capture --html-file report.html --trim fff --watermark build-7
  htmlshot capture --url https://example.com --device "iPhone X" --wait 2 -o - > shot.png`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := f.request()
			if err != nil {
				return err
			}

			cfg, err := config.Load("")
			if err != nil {
				return err
			}
			level := root.logLevel
			if level == "" {
				level = "warn"
			}
			log, err := newLogger(level, root.dev)
			if err != nil {
				return err
			}
			defer log.Sync()
			if f.timeout > 0 {
				cfg.Timeout = f.timeout
			}

			s := htmlshot.NewShooter(shooterOptions(cfg, log, nil)...)
			defer s.Close()

			res, err := s.Capture(cmd.Context(), req)
			if err != nil {
				return err
			}
			if f.output == "-" {
				_, err := res.WriteTo(cmd.OutOrStdout())
				return err
			}
			if err := res.WriteToFile(f.output, 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "wrote %s (%d bytes)\n", f.output, res.Len())
			return nil
		},
	}
	cmd.Flags().StringVar(&f.url, "url", "", "URL to capture")
	cmd.Flags().StringVar(&f.htmlFile, "html-file", "", "HTML file to render")
	cmd.Flags().IntVar(&f.wait, "wait", 0, "wait policy (0 load, 1 DOM ready, 2 network idle, >2 milliseconds)")
	cmd.Flags().StringVar(&f.trim, "trim", "", "background color to trim, as 3 or 6 hex digits")
	cmd.Flags().StringVar(&f.device, "device", "", `device profile name (see "htmlshot devices")`)
	cmd.Flags().StringVar(&f.script, "script", "", "JavaScript evaluated before the screenshot")
	cmd.Flags().StringVar(&f.watermark, "watermark", "", "tag embedded as an invisible watermark")
	cmd.Flags().StringVarP(&f.output, "output", "o", "screenshot.png", `output file, "-" for stdout`)
	cmd.Flags().DurationVar(&f.timeout, "timeout", 0, "capture timeout (default 60s)")
	cmd.MarkFlagsMutuallyExclusive("url", "html-file")
	return cmd
}

// request builds the capture request described by the flags.
func (f *captureFlags) request() (*htmlshot.Request, error) {
	req := &htmlshot.Request{
		URL:       f.url,
		Wait:      htmlshot.WaitMillis(max(f.wait, 0)),
		TrimColor: f.trim,
		Device:    f.device,
		Script:    f.script,
		Watermark: f.watermark,
	}
	if f.htmlFile != "" {
		data, err := os.ReadFile(f.htmlFile)
		if err != nil {
			return nil, err
		}
		req.HTML = string(data)
	}
	if req.URL == "" && req.HTML == "" {
		return nil, errors.New("one of --url or --html-file is required")
	}
	return req, nil
}


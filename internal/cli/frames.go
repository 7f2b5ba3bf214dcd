package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/mossy-p/repsync/internal/pose"
	"github.com/spf13/cobra"
)

type frameOptions struct {
	path     string
	interval time.Duration
}

func (o *frameOptions) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.path, "frames", "-", "JSON lines file of pose frames, - for stdin")
	cmd.Flags().DurationVar(&o.interval, "interval", 0, "pause between frames when replaying a recording")
}

func (o *frameOptions) open(cmd *cobra.Command) (io.ReadCloser, error) {
	if o.path == "" || o.path == "-" {
		return io.NopCloser(cmd.InOrStdin()), nil
	}
	f, err := os.Open(o.path)
	if err != nil {
		return nil, fmt.Errorf("open frames: %w", err)
	}
	return f, nil
}

// input is one line of the frame stream: a pose frame, or {"reset":true} to
// zero the count and start over.
type input struct {
	pose.Frame
	Reset bool `json:"reset,omitempty"`
}

// readFrames decodes lines from r and hands each to fn until the input ends,
// fn returns false or ctx is done.
func readFrames(ctx context.Context, r io.Reader, interval time.Duration, fn func(*input) bool) error {
	dec := json.NewDecoder(r)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		var in input
		if err := dec.Decode(&in); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("decode frame: %w", err)
		}
		if !fn(&in) {
			return nil
		}

		if interval > 0 && !in.Reset {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(interval):
			}
		}
	}
}

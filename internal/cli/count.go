package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mossy-p/repsync/internal/agent"
	"github.com/mossy-p/repsync/internal/exercise"
	"github.com/mossy-p/repsync/internal/feedback"
	"github.com/mossy-p/repsync/internal/repcounter"
	"github.com/mossy-p/repsync/internal/results"
	"github.com/spf13/cobra"
)

// exerciseUsage lists the supported exercises for flag help.
func exerciseUsage(prefix string) string {
	names := make([]string, 0, len(exercise.Kinds()))
	for _, k := range exercise.Kinds() {
		names = append(names, k.String())
	}
	return fmt.Sprintf("%s (%s)", prefix, strings.Join(names, ", "))
}

func newCountCmd(global *globalOptions) *cobra.Command {
	var (
		frames        frameOptions
		exerciseName  string
		minConfidence float64
		save          bool
	)

	cmd := &cobra.Command{
		Use:   "count",
		Short: "Count reps locally without a session",
		Long:  "count reads pose frames and counts reps locally. A {\"reset\":true} line zeroes the count. With --save the workout is recorded on the server.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			profile, err := exercise.Resolve(exerciseName)
			if err != nil {
				return err
			}
			kind := profile.Kind

			out := cmd.OutOrStdout()
			sink := feedback.Multi{
				feedback.NewAnnouncer(feedback.LogSpeaker{Exercise: kind.String()}),
				feedback.Func{
					Rep:   func(count int) { fmt.Fprintf(out, "rep %d\n", count) },
					Reset: func() { fmt.Fprintln(out, "reset") },
				},
			}
			counter := repcounter.New(profile, sink, repcounter.WithMinConfidence(minConfidence))

			r, err := frames.open(cmd)
			if err != nil {
				return err
			}
			defer r.Close()

			var started time.Time
			dropped := 0
			err = readFrames(cmd.Context(), r, frames.interval, func(in *input) bool {
				if started.IsZero() {
					started = time.Now().UTC()
				}
				if in.Reset {
					counter.Reset()
					return true
				}
				if _, err := counter.Observe(&in.Frame); err != nil {
					dropped++
				}
				return true
			})
			if err != nil {
				return err
			}

			total := counter.State().Count
			if _, err := fmt.Fprintf(out, "%s: %d reps (%d frames dropped)\n", kind, total, dropped); err != nil {
				return err
			}
			if !save {
				return nil
			}

			ended := time.Now().UTC()
			if started.IsZero() {
				started = ended
			}
			res := &results.Result{
				SessionID:    uuid.NewString(),
				ExerciseType: kind.String(),
				Participants: []results.ParticipantResult{{UserID: global.user, Name: global.user, Count: total}},
				StartedAt:    started,
				EndedAt:      ended,
			}

			api := agent.NewAPI(global.server, nil)
			if _, err := api.Login(cmd.Context(), global.user, "repclient"); err != nil {
				return fmt.Errorf("login: %w", err)
			}
			if err := api.SaveResult(cmd.Context(), res); err != nil {
				return fmt.Errorf("save workout: %w", err)
			}
			_, err = fmt.Fprintf(out, "saved as %s\n", res.SessionID)
			return err
		},
	}

	frames.register(cmd)
	cmd.Flags().StringVarP(&exerciseName, "exercise", "e", "squat", exerciseUsage("exercise to count"))
	cmd.Flags().Float64Var(&minConfidence, "min-confidence", 0.5, "drop frames below this pose confidence")
	cmd.Flags().BoolVar(&save, "save", false, "record the workout on the server")

	return cmd
}

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/mossy-p/repsync/internal/agent"
	"github.com/mossy-p/repsync/internal/exercise"
	"github.com/mossy-p/repsync/internal/feedback"
	"github.com/mossy-p/repsync/internal/models"
	"github.com/mossy-p/repsync/internal/peer"
	"github.com/mossy-p/repsync/internal/repcounter"
	"github.com/mossy-p/repsync/internal/results"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const (
	pollInterval = 50 * time.Millisecond
	ackTimeout   = 5 * time.Second
)

var errSessionEnded = errors.New("session ended")

type sessionOptions struct {
	frames      frameOptions
	displayName string
	iceServers  []string
}

func (o *sessionOptions) register(cmd *cobra.Command) {
	o.frames.register(cmd)
	cmd.Flags().StringVar(&o.displayName, "name", "", "display name shown to other participants")
	cmd.Flags().StringSliceVar(&o.iceServers, "ice", nil, "ICE server URLs (default: as advertised by the server)")
}

func newHostCmd(global *globalOptions) *cobra.Command {
	var (
		opts         sessionOptions
		title        string
		exerciseName string
		lobby        time.Duration
	)

	cmd := &cobra.Command{
		Use:   "host",
		Short: "Create a session, start it and end it when the frames run out",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			api := agent.NewAPI(global.server, nil)
			if _, err := api.Login(ctx, global.user, "repclient"); err != nil {
				return fmt.Errorf("login: %w", err)
			}
			s, err := api.CreateSession(ctx, models.CreateSessionRequest{
				Name:         title,
				ExerciseType: exerciseName,
				DisplayName:  opts.displayName,
			})
			if err != nil {
				return fmt.Errorf("create session: %w", err)
			}
			fmt.Fprintf(out, "session %s created, join code %s\n", s.Name, s.Code)

			rs, err := connect(ctx, api, &opts, s.ID)
			if err != nil {
				return err
			}
			defer rs.shutdown()

			if lobby > 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(lobby):
				}
			}
			if _, err := api.StartSession(ctx, s.ID); err != nil {
				return fmt.Errorf("start session: %w", err)
			}
			if err := rs.waitFor(ctx, func(s *models.Session) bool { return s.Status == models.StatusActive }); err != nil {
				return err
			}

			if err := rs.count(cmd, global.user, s.ExerciseType); err != nil && !errors.Is(err, errSessionEnded) {
				return err
			}

			res, err := api.EndSession(ctx, s.ID)
			if err != nil {
				return fmt.Errorf("end session: %w", err)
			}
			return printResult(out, res)
		},
	}

	opts.register(cmd)
	cmd.Flags().StringVar(&title, "title", "Workout", "session name")
	cmd.Flags().StringVarP(&exerciseName, "exercise", "e", "squat", exerciseUsage("exercise for everyone in the session"))
	cmd.Flags().DurationVar(&lobby, "lobby", 0, "time to wait for others before starting")

	return cmd
}

func newJoinCmd(global *globalOptions) *cobra.Command {
	var opts sessionOptions

	cmd := &cobra.Command{
		Use:   "join CODE",
		Short: "Join a session and share your count until the host ends it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			api := agent.NewAPI(global.server, nil)
			if _, err := api.Login(ctx, global.user, "repclient"); err != nil {
				return fmt.Errorf("login: %w", err)
			}
			s, err := api.JoinSession(ctx, args[0], models.JoinSessionRequest{DisplayName: opts.displayName})
			if err != nil {
				return fmt.Errorf("join session: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "joined %s (%s), waiting for the host to start\n", s.Name, s.ExerciseType)

			rs, err := connect(ctx, api, &opts, s.ID)
			if err != nil {
				return err
			}
			defer rs.shutdown()

			if err := rs.waitFor(ctx, func(s *models.Session) bool { return s.Status != models.StatusWaiting }); err != nil {
				return err
			}
			if err := rs.count(cmd, global.user, s.ExerciseType); err != nil && !errors.Is(err, errSessionEnded) {
				return err
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-rs.agent.Ended():
			}
			return printRoster(cmd.OutOrStdout(), rs.agent.Session())
		},
	}

	opts.register(cmd)
	return cmd
}

// runningSession is an agent connected to a session socket.
type runningSession struct {
	agent *agent.Agent
	opts  *sessionOptions
}

func connect(ctx context.Context, api *agent.API, opts *sessionOptions, sessionID string) (*runningSession, error) {
	iceServers := opts.iceServers
	if len(iceServers) == 0 {
		advertised, err := api.ICEServers(ctx)
		if err != nil {
			log.WithError(err).Warn("failed to fetch ICE servers, using defaults")
		}
		iceServers = advertised
	}

	factory, err := peer.NewPionFactory(peer.PionConfig{ICEServers: iceServers})
	if err != nil {
		return nil, err
	}
	wsURL, err := api.SocketURL(sessionID)
	if err != nil {
		return nil, err
	}

	ag := agent.New(factory)
	if err := ag.Connect(ctx, wsURL, api.Token()); err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	rs := &runningSession{agent: ag, opts: opts}

	select {
	case <-ctx.Done():
		rs.shutdown()
		return nil, ctx.Err()
	case <-ag.Ended():
		rs.shutdown()
		return nil, errSessionEnded
	case <-ag.Ready():
	}
	return rs, nil
}

// waitFor polls the roster snapshot until cond holds.
func (rs *runningSession) waitFor(ctx context.Context, cond func(*models.Session) bool) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		if s := rs.agent.Session(); s != nil && cond(s) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-rs.agent.Ended():
			if s := rs.agent.Session(); s != nil && cond(s) {
				return nil
			}
			return errSessionEnded
		case <-ticker.C:
		}
	}
}

// count runs the frame pipeline until the frames run out or the session ends,
// then waits for the server to acknowledge the final count.
func (rs *runningSession) count(cmd *cobra.Command, userID, exerciseType string) error {
	profile, err := exercise.Resolve(exerciseType)
	if err != nil {
		return err
	}
	kind := profile.Kind

	r, err := rs.opts.frames.open(cmd)
	if err != nil {
		return err
	}
	defer r.Close()

	ctx := cmd.Context()
	announcer := feedback.NewAnnouncer(feedback.LogSpeaker{Exercise: kind.String()})
	pipeline := agent.NewPipeline(repcounter.New(profile, announcer), rs.agent.Publisher())

	ended := false
	err = readFrames(ctx, r, rs.opts.frames.interval, func(in *input) bool {
		select {
		case <-rs.agent.Ended():
			ended = true
			return false
		default:
		}
		if in.Reset {
			pipeline.Reset()
			return true
		}
		pipeline.Process(&in.Frame)
		return true
	})
	if err != nil {
		return err
	}
	if ended {
		return errSessionEnded
	}

	final := pipeline.State().Count
	log.WithFields(log.Fields{"count": final, "dropped": pipeline.Dropped()}).Info("frames done")
	rs.agent.Publisher().Close()

	ackCtx, cancel := context.WithTimeout(ctx, ackTimeout)
	defer cancel()
	return rs.waitFor(ackCtx, func(s *models.Session) bool {
		p, ok := s.Participants[userID]
		return ok && p.Count == final
	})
}

func (rs *runningSession) shutdown() {
	if err := rs.agent.Shutdown(); err != nil {
		log.WithError(err).Debug("shutdown")
	}
}

func printResult(w io.Writer, res *results.Result) error {
	fmt.Fprintf(w, "%s finished in %ds, %d reps together\n", res.ExerciseType, res.TimeSpent, res.TotalReps())
	for _, p := range res.Participants {
		if _, err := fmt.Fprintf(w, "  %s: %d\n", p.Name, p.Count); err != nil {
			return err
		}
	}
	return nil
}

func printRoster(w io.Writer, s *models.Session) error {
	if s == nil {
		return nil
	}
	fmt.Fprintf(w, "%s is %s\n", s.Name, s.Status)
	for _, p := range s.Roster() {
		if _, err := fmt.Fprintf(w, "  %s: %d\n", p.Name, p.Count); err != nil {
			return err
		}
	}
	return nil
}

package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/qrave1/LiveClass/internal/application/constant"
	"github.com/qrave1/LiveClass/internal/domain/models"
	"github.com/qrave1/LiveClass/internal/usecase"
)

var (
	joinRoomID     string
	joinPrivileged bool
)

var joinCmd = &cobra.Command{
	Use:   "join",
	Short: "Join a live class headless; every stdin line is sent as a chat message.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runJoin(cmd.InOrStdin())
	},
}

func init() {
	joinCmd.Flags().StringVar(&joinRoomID, "room", "", "room id to join")
	joinCmd.Flags().BoolVar(&joinPrivileged, "privileged", false, "join as educator")
	_ = joinCmd.MarkFlagRequired("room")

	rootCmd.AddCommand(joinCmd)
}

func runJoin(stdin io.Reader) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	session, err := newSession(cfg)
	if err != nil {
		return err
	}
	defer session.Close()

	if err = session.Join(ctx, models.SessionConfig{RoomID: joinRoomID, Privileged: joinPrivileged}); err != nil {
		return fmt.Errorf("join %s: %w", joinRoomID, err)
	}

	if se := session.LastError(); se != nil {
		slog.Warn("joined with device problems", slog.String(constant.Error, se.Message))
	}

	lines := make(chan string)
	go func() {
		defer close(lines)

		scanner := bufio.NewScanner(stdin)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	watcher := &sessionWatcher{session: session}
	watcher.report()

	for {
		select {
		case <-ctx.Done():
			slog.Info("interrupted, leaving")
			session.Leave(context.Background())
			return nil

		case line, ok := <-lines:
			if !ok {
				slog.Info("stdin closed, leaving")
				session.Leave(context.Background())
				return nil
			}

			if _, err := session.SendChatMessage(ctx, line); err != nil {
				slog.Warn("chat message not delivered", slog.Any(constant.Error, err))
			}

		case _, ok := <-session.Changes():
			if !ok {
				return nil
			}

			if done, err := watcher.report(); done {
				return err
			}
		}
	}
}

// sessionWatcher логирует изменения состояния, ростера и чата
type sessionWatcher struct {
	session usecase.SessionUsecase

	state    string
	roster   string
	lastChat uint64
}

// report returns done once the session reached a terminal state.
func (w *sessionWatcher) report() (bool, error) {
	state := w.session.State()
	if s := state.String(); s != w.state {
		w.state = s
		slog.Info("session state", slog.String(constant.State, s))
	}

	var names []string
	for _, p := range w.session.Participants() {
		names = append(names, p.DisplayName)
	}

	if roster := strings.Join(names, ", "); roster != w.roster {
		w.roster = roster
		slog.Info("participants", slog.Int("count", len(names)), slog.String("roster", roster))
	}

	for _, msg := range w.session.Transcript() {
		if msg.ID <= w.lastChat {
			continue
		}

		w.lastChat = msg.ID

		if !msg.IsLocal {
			fmt.Printf("[%s] %s: %s\n", msg.SentAt.Format("15:04:05"), msg.SenderDisplay, msg.Text)
		}
	}

	switch state.Phase {
	case models.PhaseFailed:
		if se := w.session.LastError(); se != nil {
			return true, se
		}

		return true, fmt.Errorf("session %s", state)
	case models.PhaseDisconnected:
		return true, nil
	default:
		return false, nil
	}
}

package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/BioHazard786/studyroom/internal/api"
	"github.com/BioHazard786/studyroom/internal/chat"
	"github.com/BioHazard786/studyroom/internal/config"
	"github.com/BioHazard786/studyroom/internal/dns"
	"github.com/BioHazard786/studyroom/internal/media"
	"github.com/BioHazard786/studyroom/internal/media/device"
	"github.com/BioHazard786/studyroom/internal/peer"
	"github.com/BioHazard786/studyroom/internal/rtc"
	"github.com/BioHazard786/studyroom/internal/session"
	"github.com/BioHazard786/studyroom/internal/signal"
	"github.com/BioHazard786/studyroom/internal/transport"
	"github.com/BioHazard786/studyroom/internal/ui"
	"github.com/spf13/cobra"
)

var joinCmd = &cobra.Command{
	Use:     "join <room-id>",
	Aliases: []string{"j"},
	Short:   "Join a study room's chat and call",
	Long: `Join a study room: load its chat history, connect to live chat, and enter the room's
video call with every other participant.

Examples:
  studyroom join 12 --token $TOKEN
  studyroom join 12 --no-media
  studyroom join 12 --turn turn.example.com --turn-user u --turn-pass p --relay`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return joinRoom(cmd.Context(), args[0])
	},
}

func joinRoom(ctx context.Context, roomID string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger := slog.Default()
	sess, err := newSession(cfg, logger)
	if err != nil {
		return err
	}
	defer sess.Close()

	err = ui.Spin(fmt.Sprintf("Joining room %s...", roomID), func() error {
		return sess.Start(ctx, roomID)
	})
	if err != nil {
		return err
	}
	if n := sess.View().Notice; n != "" {
		ui.PrintWarning(n)
	}

	if err := ui.RunRoom(ctx, sess); err != nil {
		return err
	}
	ui.PrintSuccess("Left room " + sess.View().RoomID)
	return nil
}

// newSession wires the real collaborators: REST client, chat and signaling
// websockets, device capture and pion peer connections.
func newSession(cfg *config.Config, logger *slog.Logger) (*session.Session, error) {
	resolver := dns.NewResolver()
	client, err := api.New(cfg.APIBaseURL, cfg.Token, api.WithResolver(resolver))
	if err != nil {
		return nil, err
	}
	engine, err := rtc.NewEngine(cfg, logger)
	if err != nil {
		return nil, err
	}
	opts := transport.Options{Resolver: resolver, Logger: logger}

	return session.New(session.Config{
		Token:    cfg.Token,
		Username: cfg.Username,
		NoMedia:  cfg.NoMedia,
	}, session.Deps{
		API: client,
		DialChat: func(ctx context.Context, id string) (session.ChatTransport, error) {
			c, err := chat.Dial(ctx, chat.Config{URL: cfg.ChatURL(id), RoomID: id, Options: opts})
			if err != nil {
				return nil, err
			}
			return c, nil
		},
		DialSignal: func(ctx context.Context, id string) (session.SignalTransport, error) {
			c, err := signal.Dial(ctx, signal.Config{URL: cfg.VideoURL(id), Self: cfg.Username, Options: opts})
			if err != nil {
				return nil, err
			}
			return c, nil
		},
		Media: media.NewController(device.NewCapturer(logger), logger),
		NewConn: func() (peer.Conn, error) {
			c, err := engine.NewConn()
			if err != nil {
				return nil, err
			}
			return c, nil
		},
		Logger: logger,
	})
}

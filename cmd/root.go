package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/BioHazard786/studyroom/internal/config"
	"github.com/BioHazard786/studyroom/internal/errs"
	"github.com/BioHazard786/studyroom/internal/ui"
	"github.com/BioHazard786/studyroom/internal/version"
	"github.com/spf13/cobra"
)

var (
	flagAPI      string
	flagToken    string
	flagUsername string
	flagSTUN     string
	flagTURN     string
	flagTURNUser string
	flagTURNPass string
	flagRelay    bool
	flagNoMedia  bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "studyroom",
	Short: "Terminal client for study room chat and peer-to-peer video calls",
	Long: `studyroom joins a study room from the terminal: it shows the room chat, lets you send
messages, and places you in the room's WebRTC call with every other participant.`,
	Version: version.Version,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&flagAPI, "api", "", "Backend base URL (env STUDYROOM_API)")
	flags.StringVar(&flagToken, "token", "", "Bearer token from the backend login (env STUDYROOM_TOKEN)")
	flags.StringVar(&flagUsername, "username", "", "Participant name; defaults to the token's identity (env STUDYROOM_USERNAME)")
	flags.StringVar(&flagSTUN, "stun", "", "STUN server URL (env STUN_SERVER)")
	flags.StringVar(&flagTURN, "turn", "", "TURN server host (env TURN_SERVER)")
	flags.StringVar(&flagTURNUser, "turn-user", "", "TURN username (env TURN_USERNAME)")
	flags.StringVar(&flagTURNPass, "turn-pass", "", "TURN password (env TURN_PASSWORD)")
	flags.BoolVar(&flagRelay, "relay", false, "Force all media through the TURN relay")

	joinCmd.Flags().BoolVar(&flagNoMedia, "no-media", false, "Join without camera and microphone")

	rootCmd.AddCommand(joinCmd, roomsCmd)
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(config.Options{
		APIBaseURL: flagAPI,
		Token:      flagToken,
		Username:   flagUsername,
		STUNServer: flagSTUN,
		TURNServer: flagTURN,
		TURNUser:   flagTURNUser,
		TURNPass:   flagTURNPass,
		ForceRelay: flagRelay,
		NoMedia:    flagNoMedia,
	})
	if err != nil {
		return nil, errs.NewError("load config", err)
	}
	return cfg, nil
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		ui.PrintError(err.Error())
		stop()
		os.Exit(1)
	}
}

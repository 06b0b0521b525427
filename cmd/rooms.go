package cmd

import (
	"fmt"

	"github.com/BioHazard786/studyroom/internal/api"
	"github.com/BioHazard786/studyroom/internal/dns"
	"github.com/BioHazard786/studyroom/internal/errs"
	"github.com/BioHazard786/studyroom/internal/ui"
	"github.com/spf13/cobra"
)

var roomsCmd = &cobra.Command{
	Use:     "rooms",
	Aliases: []string{"ls"},
	Short:   "List study rooms",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		client, err := api.New(cfg.APIBaseURL, cfg.Token, api.WithResolver(dns.NewResolver()))
		if err != nil {
			return err
		}

		var rooms []api.Room
		err = ui.Spin("Fetching rooms...", func() error {
			rooms, err = client.Rooms(cmd.Context())
			return err
		})
		if err != nil {
			return errs.NewError("list rooms", err)
		}
		fmt.Println(ui.TitleStyle.Render(fmt.Sprintf("Study rooms (%d)", len(rooms))))
		fmt.Println(ui.RoomsTable(rooms))
		return nil
	},
}

package cmd

import (
	"errors"
	"testing"

	"github.com/BioHazard786/studyroom/internal/errs"
)

func TestCommandsRegistered(t *testing.T) {
	for _, name := range []string{"join", "rooms"} {
		c, _, err := rootCmd.Find([]string{name})
		if err != nil || c.Name() != name {
			t.Fatalf("%s: %v", name, err)
		}
	}
	if rootCmd.PersistentFlags().Lookup("relay") == nil || joinCmd.Flags().Lookup("no-media") == nil {
		t.Fatal("flags not registered")
	}
}

func TestLoadConfigRejectsRelayWithoutTURN(t *testing.T) {
	t.Setenv("TURN_SERVER", "")
	flagRelay, flagTURN = true, ""
	defer func() { flagRelay = false }()

	_, err := loadConfig()
	var e *errs.Error
	if !errors.As(err, &e) || e.Op != "load config" {
		t.Fatalf("err = %v", err)
	}
}

func TestJoinNeedsRoomID(t *testing.T) {
	if err := joinCmd.Args(joinCmd, nil); err == nil {
		t.Fatal("expected an argument error")
	}
}

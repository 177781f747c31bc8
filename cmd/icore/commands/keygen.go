package commands

import (
	"fmt"

	"github.com/Linkolnn/Icore/src/icore"
	"github.com/spf13/cobra"
)

var keygenDataDir string

// NewKeygenCmd produces a KeygenCmd which creates the call token secret
func NewKeygenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Create a new call token secret",
		RunE:  keygen,
	}

	AddKeygenFlags(cmd)

	return cmd
}

//AddKeygenFlags adds flags to the keygen command
func AddKeygenFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&keygenDataDir, "datadir", _config.Icore.DataDir, "Directory where the key file will be written")
}

func keygen(cmd *cobra.Command, args []string) error {
	keyfile, err := icore.Keygen(keygenDataDir)
	if err != nil {
		return fmt.Errorf("Writing call token secret: %s", err)
	}

	fmt.Printf("Your call token secret has been saved to: %s\n", keyfile)

	return nil
}

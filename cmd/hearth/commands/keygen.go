package commands

import (
	"crypto/ed25519"
	"fmt"
	"os"
	"path"

	"github.com/hearthnet/hearth/src/crypto/keys"
	"github.com/hearthnet/hearth/src/hearth"
	"github.com/spf13/cobra"
)

var (
	keyFile        string
	defaultKeyFile = fmt.Sprintf("%s/signing_key", _config.DataDir)
)

// NewKeygenCmd produces a KeygenCmd which creates a signing key
func NewKeygenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Create new signing key",
		RunE:  keygen,
	}

	AddKeygenFlags(cmd)

	return cmd
}

//AddKeygenFlags adds flags to the keygen command
func AddKeygenFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&keyFile, "keyfile", defaultKeyFile, "File where the signing key will be written")
}

func keygen(cmd *cobra.Command, args []string) error {
	if err := os.MkdirAll(path.Dir(keyFile), 0700); err != nil {
		return fmt.Errorf("Writing signing key: %s", err)
	}

	priv, err := hearth.Keygen(keyFile)
	if err != nil {
		return err
	}

	fmt.Printf("Your signing key has been saved to: %s\n", keyFile)

	pub := priv.Public().(ed25519.PublicKey)

	fmt.Printf("Key ID: %s\n", keys.KeyID(pub))

	return nil
}

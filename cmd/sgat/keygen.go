package main

import (
	"fmt"
	"os"

	"github.com/caddyserver/caddy/v2"
	caddycmd "github.com/caddyserver/caddy/v2/cmd"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"gfx.cafe/gfx/sgat/lib/util/keys"
)

func init() {
	caddycmd.RegisterCommand(caddycmd.Command{
		Name:  "keygen",
		Usage: "[--out <prefix>] [--force]",
		Short: "Generates a veil identity key pair",
		Long: `
Generates a fresh X25519 identity key pair and writes it as PEM to
<prefix>.key and <prefix>.pub. The public key is what clients pin; the
private key stays on the server.`,
		CobraFunc: func(cmd *cobra.Command) {
			keygenFlags(cmd.Flags())
			cmd.RunE = caddycmd.WrapCommandFuncForCobra(cmdKeygen)
		},
	})
}

func keygenFlags(fs *pflag.FlagSet) {
	fs.StringP("out", "o", "identity", "Output path prefix for the key pair")
	fs.BoolP("force", "f", false, "Overwrite existing keys")
}

func cmdKeygen(fl caddycmd.Flags) (int, error) {
	out := fl.String("out")
	force := fl.Bool("force")

	privPath := out + ".key"
	pubPath := out + ".pub"

	if !force {
		for _, path := range []string{privPath, pubPath} {
			if _, err := os.Stat(path); err == nil {
				return caddy.ExitCodeFailedStartup, fmt.Errorf("%s already exists, use --force to overwrite", path)
			}
		}
	}

	key, err := keys.Generate()
	if err != nil {
		return caddy.ExitCodeFailedStartup, err
	}
	priv, err := keys.MarshalPrivate(key)
	if err != nil {
		return caddy.ExitCodeFailedStartup, err
	}
	pub, err := keys.MarshalPublic(key.PublicKey())
	if err != nil {
		return caddy.ExitCodeFailedStartup, err
	}

	if err = os.WriteFile(privPath, priv, 0o600); err != nil {
		return caddy.ExitCodeFailedStartup, err
	}
	if err = os.WriteFile(pubPath, pub, 0o644); err != nil {
		return caddy.ExitCodeFailedStartup, err
	}

	fmt.Printf("wrote %s and %s\n%s", privPath, pubPath, pub)

	return caddy.ExitCodeSuccess, nil
}

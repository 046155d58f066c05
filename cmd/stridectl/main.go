// stridectl es la CLI de operación: genera material criptográfico y cifra
// secretos de providers para cargarlos por la API admin.
package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/stridelab/stride/internal/security/secretbox"
)

func main() {
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:           "stridectl",
		Short:         "Herramientas de operación de Stride",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	keysCmd := &cobra.Command{
		Use:   "keys",
		Short: "Material criptográfico del servicio",
	}
	keysCmd.AddCommand(&cobra.Command{
		Use:   "generate",
		Short: "Genera STRIDE_MASTER_KEY y STRIDE_JWT_SEED nuevos",
		RunE: func(cmd *cobra.Command, args []string) error {
			master := make([]byte, 32)
			if _, err := rand.Read(master); err != nil {
				return err
			}
			seed := make([]byte, ed25519.SeedSize)
			if _, err := rand.Read(seed); err != nil {
				return err
			}
			fmt.Printf("STRIDE_MASTER_KEY=%s\n", base64.StdEncoding.EncodeToString(master))
			fmt.Printf("STRIDE_JWT_SEED=%s\n", base64.StdEncoding.EncodeToString(seed))
			return nil
		},
	})

	secretCmd := &cobra.Command{
		Use:   "secret",
		Short: "Cifrado de secretos con la master key",
	}
	secretCmd.AddCommand(&cobra.Command{
		Use:   "encrypt <valor>",
		Short: "Cifra un valor con STRIDE_MASTER_KEY (p.ej. un client secret)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			box, err := secretbox.NewFromEnv("STRIDE_MASTER_KEY")
			if err != nil {
				return err
			}
			enc, err := box.Encrypt(args[0])
			if err != nil {
				return err
			}
			fmt.Println(enc)
			return nil
		},
	})
	secretCmd.AddCommand(&cobra.Command{
		Use:   "decrypt <valor>",
		Short: "Descifra un valor cifrado con STRIDE_MASTER_KEY",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			box, err := secretbox.NewFromEnv("STRIDE_MASTER_KEY")
			if err != nil {
				return err
			}
			plain, err := box.Decrypt(args[0])
			if err != nil {
				return err
			}
			fmt.Println(plain)
			return nil
		},
	})

	root.AddCommand(keysCmd)
	root.AddCommand(secretCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

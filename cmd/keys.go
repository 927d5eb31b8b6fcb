package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/tradewell/go-exchange-vault/util"
)

var outputFile string
var passphrase string
var saltB64 string

func init() {
	masterkeyCmd.Flags().StringVarP(&passphrase, "passphrase", "p", "", "derive the key from a passphrase instead of random bytes")
	masterkeyCmd.Flags().StringVarP(&saltB64, "salt", "s", "", "base64 salt for passphrase derivation")
	rootCmd.AddCommand(masterkeyCmd)

	serverkeysCmd.Flags().StringVarP(&outputFile, "output", "o", "", "output file (default is stdout)")
	rootCmd.AddCommand(serverkeysCmd)
}

// masterkeyCmd generates a 32 byte master key for envelope encryption,
// printed base64 encoded for an environment variable. With --passphrase
// the key is derived with scrypt so it can be re-created from the same
// passphrase and salt.
var masterkeyCmd = &cobra.Command{
	Use:   "masterkey",
	Short: "Generate a vault master key",
	Long:  "Generate a 32 byte master key for envelope encryption, base64 encoded. Put it in an environment variable referenced from conf.yaml; never store it on disk.",
	Run: func(cmd *cobra.Command, args []string) {
		var key []byte
		if passphrase != "" {
			if saltB64 == "" {
				fmt.Println("passphrase derivation requires --salt")
				os.Exit(1)
			}
			salt, sErr := base64.StdEncoding.DecodeString(saltB64)
			check(sErr)
			derived, dErr := util.DeriveMasterKey(passphrase, salt)
			check(dErr)
			key = derived
		} else {
			generated, gErr := util.GenerateMasterKey()
			check(gErr)
			key = generated
		}
		fmt.Printf("%s\n", base64.StdEncoding.EncodeToString(key))
	},
}

// serverkeysCmd generates the ed25519 keypair the operator API uses for
// JWS token signing and verification
var serverkeysCmd = &cobra.Command{
	Use:   "serverkeys",
	Short: "Generate the server ed25519 JWS signing key",
	Long:  "Generate the ed25519 keypair for operator API token signing, stored as JSON at the path conf.yaml points to.",
	Run: func(cmd *cobra.Command, args []string) {
		_, private, err := ed25519.GenerateKey(rand.Reader)
		check(err)

		keysJson := map[string]interface{}{
			"privateKey": base64.StdEncoding.EncodeToString(private),
			"created":    time.Now().UnixMilli(),
		}
		fileBytes, err := json.MarshalIndent(keysJson, "", "  ")
		check(err)

		if outputFile != "" {
			// fail if file already exists
			if _, err := os.Stat(outputFile); !errors.Is(err, os.ErrNotExist) {
				fmt.Printf("File already exists: %s\n", outputFile)
				os.Exit(1)
			}
			check(os.WriteFile(outputFile, fileBytes, 0600))
			fmt.Printf("Keys written to %s\n", outputFile)
			return
		}
		fmt.Printf("%s\n", fileBytes)
	},
}

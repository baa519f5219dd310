package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"tableqa/internal/errs"
	"tableqa/internal/keychain"
)

// envForKey maps keychain secret names to the variables that override them.
var envForKey = map[string]string{
	keychain.KeyAnthropic: "ANTHROPIC_API_KEY",
	keychain.KeyGoogle:    "GOOGLE_API_KEY",
}

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage model API keys in the OS keychain",
	Long: `Store, remove and inspect model API keys kept in the OS credential store.
Environment variables always take precedence over stored keys.

Keys: ` + strings.Join(keychain.Keys, ", "),
}

var authSetCmd = &cobra.Command{
	Use:   "set <key> [value]",
	Short: "Store an API key; prompts when no value is given",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		km, err := keychain.Open()
		if err != nil {
			return err
		}
		value := ""
		if len(args) == 2 {
			value = args[1]
		} else {
			value, err = pterm.DefaultInteractiveTextInput.WithMask("*").Show("Enter " + args[0])
			if err != nil {
				return err
			}
		}
		if err := km.Set(args[0], value); err != nil {
			return err
		}
		pterm.Success.Printf("Stored %s in the OS keychain\n", args[0])
		return nil
	},
}

var authRemoveCmd = &cobra.Command{
	Use:   "remove <key>",
	Short: "Delete a stored API key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		km, err := keychain.Open()
		if err != nil {
			return err
		}
		if err := km.Delete(args[0]); err != nil {
			return err
		}
		pterm.Success.Printf("Removed %s\n", args[0])
		return nil
	},
}

var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show where each API key comes from",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		km, err := keychain.Open()
		if err != nil {
			pterm.Warning.Println("Secure storage is not available on this system")
		}
		data := pterm.TableData{{"Key", "Source", "Value"}}
		for _, key := range keychain.Keys {
			source, value := keySource(km, key)
			data = append(data, []string{key, source, maskSecret(value)})
		}
		_ = pterm.DefaultTable.WithHasHeader().WithData(data).Render()
		pterm.Info.Printf("Backend in use: %s\n", cfg.Backend)
	},
}

func keySource(km *keychain.Manager, key string) (string, string) {
	if env := strings.TrimSpace(os.Getenv(envForKey[key])); env != "" {
		return "env " + envForKey[key], env
	}
	if km == nil {
		return "missing", ""
	}
	v, err := km.Get(key)
	switch {
	case err == nil:
		return "keychain", v
	case errs.Is(err, errs.NotFound):
		return "missing", ""
	default:
		return fmt.Sprintf("error: %v", err), ""
	}
}

// maskSecret keeps the last four characters.
func maskSecret(v string) string {
	if v == "" {
		return ""
	}
	if len(v) <= 4 {
		return "****"
	}
	return strings.Repeat("*", 8) + v[len(v)-4:]
}

func init() {
	authCmd.AddCommand(authSetCmd, authRemoveCmd, authStatusCmd)
	rootCmd.AddCommand(authCmd)
}

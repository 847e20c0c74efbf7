package cli

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/dshills/flowgraph/internal/ctxlog"
	"github.com/dshills/flowgraph/pkg/executors"
	"github.com/dshills/flowgraph/pkg/storage"
)

const maxCredentialSize = 1 << 20

func credentialStore(cmd *cobra.Command) storage.CredentialStore {
	return storage.NewKeyringCredentialStore(ctxlog.FromContext(cmd.Context()))
}

// NewCredentialCommand groups the credential subcommands.
func NewCredentialCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credential",
		Short: "Manage executor credentials",
		Long: `Manage credentials used by executors, such as the OpenAI API key, in the
system keyring (Keychain on macOS, Credential Manager on Windows, Secret
Service on Linux). Credentials never appear in workflow documents.

The openai node type reads the key "` + executors.OpenAICredentialKey + `" and falls back to
the OPENAI_API_KEY environment variable.`,
	}
	cmd.AddCommand(
		newCredentialSetCommand(),
		newCredentialGetCommand(),
		newCredentialDeleteCommand(),
		newCredentialListCommand(),
	)
	return cmd
}

func newCredentialSetCommand() *cobra.Command {
	var (
		value    string
		useStdin bool
	)

	cmd := &cobra.Command{
		Use:   "set <key>",
		Short: "Store a credential",
		Example: `  # Prompt without echo
  flowgraph credential set openai_api_key

  # From stdin, for automation
  printf '%s' "$OPENAI_API_KEY" | flowgraph credential set openai_api_key --stdin`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]

			var secret []byte
			switch {
			case useStdin:
				data, err := io.ReadAll(io.LimitReader(cmd.InOrStdin(), maxCredentialSize+1))
				if err != nil {
					return fmt.Errorf("failed to read from stdin: %w", err)
				}
				secret = bytes.TrimRight(data, "\r\n")
			case value != "":
				_, _ = fmt.Fprintln(cmd.ErrOrStderr(), "Warning: Using --value exposes the credential in shell history.")
				secret = []byte(value)
			default:
				fd := int(os.Stdin.Fd())
				if !term.IsTerminal(fd) {
					return fmt.Errorf("stdin is not a terminal (use --stdin or --value)")
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Enter value for '%s': ", key)
				data, err := term.ReadPassword(fd)
				_, _ = fmt.Fprintln(cmd.OutOrStdout())
				if err != nil {
					return fmt.Errorf("failed to read credential value: %w", err)
				}
				secret = data
			}
			defer func() {
				for i := range secret {
					secret[i] = 0
				}
			}()

			if len(secret) > maxCredentialSize {
				return fmt.Errorf("credential value exceeds maximum size of %d bytes", maxCredentialSize)
			}
			if len(bytes.TrimSpace(secret)) == 0 {
				return fmt.Errorf("credential value cannot be empty")
			}

			creds := credentialStore(cmd)
			if err := creds.Set(key, string(secret)); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "✓ Credential '%s' stored\n", key)
			return nil
		},
	}
	cmd.Flags().StringVar(&value, "value", "", "Credential value (prompted without echo if omitted)")
	cmd.Flags().BoolVar(&useStdin, "stdin", false, "Read the value from stdin")
	cmd.MarkFlagsMutuallyExclusive("stdin", "value")
	return cmd
}

func newCredentialGetCommand() *cobra.Command {
	var reveal bool

	cmd := &cobra.Command{
		Use:   "get <key>",
		Short: "Check that a credential is stored",
		Long:  "Get prints a masked form of the stored value unless --reveal is given.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := credentialStore(cmd).Get(args[0])
			if err != nil {
				return err
			}
			if reveal {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), value)
				return nil
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", args[0], mask(value))
			return nil
		},
	}
	cmd.Flags().BoolVar(&reveal, "reveal", false, "Print the stored value")
	return cmd
}

// mask keeps the last four characters of values long enough to hide the rest.
func mask(value string) string {
	if len(value) <= 8 {
		return strings.Repeat("*", len(value))
	}
	return strings.Repeat("*", len(value)-4) + value[len(value)-4:]
}

func newCredentialDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <key>",
		Short: "Delete a credential",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := credentialStore(cmd).Delete(args[0]); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "✓ Credential '%s' deleted\n", args[0])
			return nil
		},
	}
}

func newCredentialListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored credential keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			keys, err := credentialStore(cmd).List()
			if err != nil {
				return err
			}
			if len(keys) == 0 {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No credentials stored.")
				return nil
			}
			for _, k := range keys {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), k)
			}
			return nil
		},
	}
}

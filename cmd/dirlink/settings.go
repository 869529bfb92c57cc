package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/dirlink/internal/domain"
	"github.com/eliteGoblin/focusd/dirlink/internal/infra"
	"github.com/eliteGoblin/focusd/dirlink/internal/policy"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show or change interception settings",
	Long: `Reads and writes the settings consulted on every page:

  enabled          true|false
  showIndicator    true|false
  allowedDomains   domains, one per argument or newline separated ("#" comments allowed)
  blockedDomains   same format; blocked always wins

An empty allowedDomains list allows every domain that is not blocked.`,
}

var settingsGetCmd = &cobra.Command{
	Use:   "get [key]",
	Short: "Print settings",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runSettingsGet,
}

var settingsSetCmd = &cobra.Command{
	Use:   "set <key> <value>...",
	Short: "Change a setting",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSettingsSet,
}

var settingsResetCmd = &cobra.Command{
	Use:   "reset [key]...",
	Short: "Restore defaults for the given keys, or for all of them",
	RunE:  runSettingsReset,
}

var settingsJSON bool

func init() {
	settingsGetCmd.Flags().BoolVar(&settingsJSON, "json", false, "Output settings as JSON")

	settingsCmd.AddCommand(settingsGetCmd)
	settingsCmd.AddCommand(settingsSetCmd)
	settingsCmd.AddCommand(settingsResetCmd)
	rootCmd.AddCommand(settingsCmd)
}

// openSettings opens the configured settings backend.
func openSettings(env *runtimeEnv) (*infra.StoreProvider, error) {
	var (
		store domain.RawSettingsStore
		err   error
	)

	switch env.config.Settings.Backend {
	case infra.BackendEncrypted:
		key, kerr := infra.LoadOrCreateSettingsKey(infra.NewSettingsKeyFile(env.mode.DataDir))
		if kerr != nil {
			return nil, fmt.Errorf("failed to load settings key: %w", kerr)
		}
		store, err = infra.NewEncryptedSettingsStore(env.mode.DataDir, key)
	case infra.BackendFile:
		store, err = infra.NewFileSettingsStore(env.mode.DataDir)
	default:
		store = infra.NewMemorySettingsStore()
	}
	if err != nil {
		return nil, err
	}

	provider, err := infra.NewStoreProvider(store, env.logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return provider, nil
}

// openSettingsOrDefaults falls back to an in-memory store so read-only
// commands still work when the backend is unavailable.
func openSettingsOrDefaults(env *runtimeEnv) *infra.StoreProvider {
	provider, err := openSettings(env)
	if err == nil {
		return provider
	}
	env.logger.Warn("settings unavailable, using defaults", zap.Error(err))
	provider, _ = infra.NewStoreProvider(infra.NewMemorySettingsStore(), env.logger)
	return provider
}

func runSettingsGet(cmd *cobra.Command, args []string) error {
	env, err := loadEnv()
	if err != nil {
		return err
	}
	defer env.close()

	provider, err := openSettings(env)
	if err != nil {
		return err
	}
	defer provider.Close()

	settings, err := provider.Get(cmd.Context(), domain.DefaultSettings())
	if err != nil {
		return err
	}

	if len(args) == 1 {
		if !domain.IsSettingKey(args[0]) {
			return fmt.Errorf("unknown setting %q", args[0])
		}
		return printSetting(cmd.OutOrStdout(), settings, args[0])
	}

	if settingsJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(settings)
	}
	for _, key := range domain.SettingKeys() {
		fmt.Fprintf(cmd.OutOrStdout(), "%s: ", key)
		if err := printSetting(cmd.OutOrStdout(), settings, key); err != nil {
			return err
		}
	}
	return nil
}

func printSetting(w io.Writer, s domain.Settings, key string) error {
	switch key {
	case domain.KeyEnabled:
		_, err := fmt.Fprintln(w, s.Enabled)
		return err
	case domain.KeyShowIndicator:
		_, err := fmt.Fprintln(w, s.ShowIndicator)
		return err
	case domain.KeyAllowedDomains:
		_, err := fmt.Fprintln(w, formatDomains(s.AllowedDomains))
		return err
	case domain.KeyBlockedDomains:
		_, err := fmt.Fprintln(w, formatDomains(s.BlockedDomains))
		return err
	}
	return fmt.Errorf("unknown setting %q", key)
}

func formatDomains(domains []string) string {
	if len(domains) == 0 {
		return "(none)"
	}
	return strings.Join(domains, ", ")
}

// parseSettingValue converts CLI arguments into the stored value for key.
func parseSettingValue(key string, values []string) (any, error) {
	switch key {
	case domain.KeyEnabled, domain.KeyShowIndicator:
		if len(values) != 1 {
			return nil, fmt.Errorf("%s takes one value (true or false)", key)
		}
		b, err := strconv.ParseBool(values[0])
		if err != nil {
			return nil, fmt.Errorf("invalid value for %s: %q", key, values[0])
		}
		return b, nil

	case domain.KeyAllowedDomains, domain.KeyBlockedDomains:
		parsed := policy.ParseDomainList(strings.Join(values, "\n"))
		return policy.NormalizeDomains(parsed)
	}
	return nil, fmt.Errorf("unknown setting %q", key)
}

func runSettingsSet(cmd *cobra.Command, args []string) error {
	key := args[0]
	value, err := parseSettingValue(key, args[1:])
	if err != nil {
		return err
	}

	env, err := loadEnv()
	if err != nil {
		return err
	}
	defer env.close()

	provider, err := openSettings(env)
	if err != nil {
		return err
	}
	defer provider.Close()

	if err := provider.Set(cmd.Context(), map[string]any{key: value}); err != nil {
		return fmt.Errorf("failed to save %s: %w", key, err)
	}
	env.logger.Info("setting changed", zap.String("key", key), zap.Any("value", value))
	fmt.Fprintf(cmd.OutOrStdout(), "%s updated\n", key)
	return nil
}

func runSettingsReset(cmd *cobra.Command, args []string) error {
	keys := args
	if len(keys) == 0 {
		keys = domain.SettingKeys()
	}
	for _, key := range keys {
		if !domain.IsSettingKey(key) {
			return fmt.Errorf("unknown setting %q", key)
		}
	}

	env, err := loadEnv()
	if err != nil {
		return err
	}
	defer env.close()

	provider, err := openSettings(env)
	if err != nil {
		return err
	}
	defer provider.Close()

	if err := provider.Remove(cmd.Context(), keys...); err != nil {
		return fmt.Errorf("failed to reset settings: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "reset %s\n", strings.Join(keys, ", "))
	return nil
}

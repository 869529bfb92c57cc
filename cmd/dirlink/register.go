package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/eliteGoblin/focusd/dirlink/internal/domain"
	"github.com/eliteGoblin/focusd/dirlink/internal/infra"
)

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Register dirlink as the directory:// handler",
	Long: `Installs the binary, registers it as the directory:// scheme handler
and, with --extension-id, installs the Chrome native messaging host manifest.

Run with sudo for a machine-wide registration.`,
	Args: cobra.NoArgs,
	RunE: runRegister,
}

var unregisterCmd = &cobra.Command{
	Use:   "unregister",
	Short: "Remove the directory:// handler and native host registrations",
	Args:  cobra.NoArgs,
	RunE:  runUnregister,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show registration status",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

var extensionID string

func init() {
	registerCmd.Flags().StringVar(&extensionID, "extension-id", "", "Chrome extension allowed to start the native host")

	rootCmd.AddCommand(registerCmd)
	rootCmd.AddCommand(unregisterCmd)
	rootCmd.AddCommand(statusCmd)
}

// registrations returns the scheme handler followed by the native host.
func registrations(mode *infra.ExecModeConfig, extensionID string) []domain.HandlerInstaller {
	return []domain.HandlerInstaller{
		infra.SchemeInstaller(mode, &infra.RealCommandRunner{}),
		infra.NewNativeHostInstaller(mode.NativeHostDirs, extensionID),
	}
}

func runRegister(cmd *cobra.Command, args []string) error {
	mode := infra.DetectExecMode()
	out := cmd.OutOrStdout()

	fmt.Fprintf(out, "Execution mode: %s\n", mode.Mode)

	currentExecPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}

	// Fall back to the current location when the install dir is not writable
	binaryPath := mode.BinaryPath
	copied, err := infra.InstallBinary(currentExecPath, binaryPath)
	switch {
	case err != nil:
		fmt.Fprintf(out, "Warning: Could not install binary to %s: %v\n", binaryPath, err)
		binaryPath = currentExecPath
	case copied:
		fmt.Fprintf(out, "Installed binary to %s\n", binaryPath)
	}

	var failed int
	for _, r := range registrations(mode, extensionID) {
		if r.Name() == "native-host" && extensionID == "" {
			fmt.Fprintf(out, "Skipped %s (pass --extension-id to enable)\n", r.Name())
			continue
		}
		if err := r.Install(binaryPath); err != nil {
			fmt.Fprintf(out, "Failed %s: %v\n", r.Name(), err)
			failed++
			continue
		}
		fmt.Fprintf(out, "Registered %s at %s\n", r.Name(), r.Path())
	}

	if failed > 0 {
		return fmt.Errorf("%d registration(s) failed", failed)
	}
	return nil
}

func runUnregister(cmd *cobra.Command, args []string) error {
	mode := infra.DetectExecMode()
	out := cmd.OutOrStdout()

	var failed int
	for _, r := range registrations(mode, "") {
		if !r.IsInstalled() {
			fmt.Fprintf(out, "%s: not registered\n", r.Name())
			continue
		}
		if err := r.Uninstall(); err != nil {
			fmt.Fprintf(out, "Failed %s: %v\n", r.Name(), err)
			failed++
			continue
		}
		fmt.Fprintf(out, "Removed %s\n", r.Name())
	}

	if failed > 0 {
		return fmt.Errorf("%d registration(s) could not be removed", failed)
	}
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	mode := infra.DetectExecMode()
	out := cmd.OutOrStdout()

	fmt.Fprintln(out, "\n=== dirlink Status ===")
	fmt.Fprintf(out, "Execution mode: %s\n", mode.Mode)
	fmt.Fprintf(out, "Binary path: %s\n", mode.BinaryPath)
	if _, err := os.Stat(mode.BinaryPath); err != nil {
		fmt.Fprintln(out, "Binary: not installed")
	}

	for _, r := range registrations(mode, "") {
		fmt.Fprintf(out, "\n[%s]\n", r.Name())
		fmt.Fprintf(out, "  Path: %s\n", r.Path())
		fmt.Fprintf(out, "  Installed: %t\n", r.IsInstalled())
		if r.IsInstalled() && r.NeedsUpdate(mode.BinaryPath) {
			fmt.Fprintln(out, "  Points at another binary (run register again)")
		}
		fmt.Fprintf(out, "  Status: %s\n", r.Status())
	}

	fmt.Fprintf(out, "\nRunning instances: %s\n", formatPIDs(otherInstances(infra.NewProcessManager())))
	fmt.Fprintln(out, "======================")
	return nil
}

// otherInstances lists live dirlink processes besides this one, such as
// native hosts Chrome started or browse sessions.
func otherInstances(pm domain.ProcessManager) []int {
	pids, err := pm.FindByName("dirlink")
	if err != nil {
		return nil
	}

	self := pm.GetCurrentPID()
	var others []int
	for _, pid := range pids {
		if pid != self && pm.IsRunning(pid) {
			others = append(others, pid)
		}
	}
	return others
}

func formatPIDs(pids []int) string {
	if len(pids) == 0 {
		return "none"
	}
	parts := make([]string, len(pids))
	for i, pid := range pids {
		parts[i] = strconv.Itoa(pid)
	}
	return strings.Join(parts, ", ")
}

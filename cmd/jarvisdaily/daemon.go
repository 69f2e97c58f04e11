package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/cobra"
)

func serviceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service",
		Short: "Manage the background service unit (systemd/launchd)",
	}

	var envPath string
	install := &cobra.Command{
		Use:   "install",
		Short: "Install 'jarvisdaily serve' as a user service",
		Long: `Writes a systemd user unit (linux) or launchd agent (darwin) that runs the
webhook server on login and restarts it on failure. Credentials are read from
the env file, never embedded in the unit.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			execPath, err := os.Executable()
			if err != nil {
				return fmt.Errorf("cannot determine executable path: %w", err)
			}
			cfgPath, err := filepath.Abs(resolveConfigPath())
			if err != nil {
				return err
			}
			if envPath == "" {
				envPath = filepath.Join(filepath.Dir(cfgPath), ".env")
			}
			envPath, err = filepath.Abs(envPath)
			if err != nil {
				return err
			}

			switch runtime.GOOS {
			case "linux":
				return installSystemd(execPath, cfgPath, envPath)
			case "darwin":
				return installLaunchd(execPath, cfgPath, envPath)
			default:
				return fmt.Errorf("unsupported OS: %s (supported: linux, darwin)", runtime.GOOS)
			}
		},
	}
	install.Flags().StringVar(&envPath, "env", "", "env file with credentials (default: next to the config file)")

	uninstall := &cobra.Command{
		Use:   "uninstall",
		Short: "Remove the service unit",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := unitPath()
			if err != nil {
				return err
			}
			if err := os.Remove(path); err != nil {
				return fmt.Errorf("remove unit: %w", err)
			}
			fmt.Printf("Service removed: %s\n", path)
			return nil
		},
	}

	cmd.AddCommand(install, uninstall)
	return cmd
}

const (
	serviceName  = "jarvisdaily"
	launchdLabel = "in.jarvisdaily.serve"
)

func unitPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	switch runtime.GOOS {
	case "linux":
		return filepath.Join(home, ".config", "systemd", "user", serviceName+".service"), nil
	case "darwin":
		return filepath.Join(home, "Library", "LaunchAgents", launchdLabel+".plist"), nil
	default:
		return "", fmt.Errorf("unsupported OS: %s", runtime.GOOS)
	}
}

func renderUnit(tmpl string, vars map[string]string) string {
	out := tmpl
	for k, v := range vars {
		out = strings.ReplaceAll(out, "{{"+k+"}}", v)
	}
	return out
}

func writeUnit(path, body string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(body), 0o644)
}

func installSystemd(execPath, cfgPath, envPath string) error {
	path, err := unitPath()
	if err != nil {
		return err
	}
	unit := renderUnit(systemdTemplate, map[string]string{
		"EXEC":    execPath,
		"CONFIG":  cfgPath,
		"ENVFILE": envPath,
	})
	if err := writeUnit(path, unit); err != nil {
		return err
	}

	fmt.Printf("Service installed: %s\n", path)
	fmt.Printf("To start:  systemctl --user start %s\n", serviceName)
	fmt.Printf("To enable: systemctl --user enable %s\n", serviceName)
	fmt.Printf("Logs:      journalctl --user -u %s -f\n", serviceName)
	return nil
}

func installLaunchd(execPath, cfgPath, envPath string) error {
	path, err := unitPath()
	if err != nil {
		return err
	}
	logDir := filepath.Join(filepath.Dir(cfgPath), "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return err
	}
	plist := renderUnit(launchdTemplate, map[string]string{
		"LABEL":   launchdLabel,
		"EXEC":    execPath,
		"CONFIG":  cfgPath,
		"ENVFILE": envPath,
		"LOG":     filepath.Join(logDir, "jarvisdaily.log"),
	})
	if err := writeUnit(path, plist); err != nil {
		return err
	}

	fmt.Printf("Service installed: %s\n", path)
	fmt.Printf("To start: launchctl load %s\n", path)
	fmt.Printf("To stop:  launchctl unload %s\n", path)
	return nil
}

const systemdTemplate = `[Unit]
Description=JarvisDaily WhatsApp content unlock service
After=network-online.target
Wants=network-online.target

[Service]
Type=simple
EnvironmentFile=-{{ENVFILE}}
ExecStart={{EXEC}} serve --config {{CONFIG}} --env-file {{ENVFILE}}
Restart=on-failure
RestartSec=5
TimeoutStopSec=30

[Install]
WantedBy=default.target`

const launchdTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>{{LABEL}}</string>
    <key>ProgramArguments</key>
    <array>
        <string>{{EXEC}}</string>
        <string>serve</string>
        <string>--config</string>
        <string>{{CONFIG}}</string>
        <string>--env-file</string>
        <string>{{ENVFILE}}</string>
    </array>
    <key>RunAtLoad</key>
    <true/>
    <key>KeepAlive</key>
    <dict>
        <key>SuccessfulExit</key>
        <false/>
    </dict>
    <key>StandardErrorPath</key>
    <string>{{LOG}}</string>
</dict>
</plist>`

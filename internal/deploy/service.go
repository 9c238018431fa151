package deploy

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// ServiceConfig holds what the generated service definition needs to
// start the daemon.
type ServiceConfig struct {
	BinaryPath string // full path to the tenantd binary
	DataDir    string // tenant database directory
	ListenAddr string // HTTP listen address
	ConfigPath string // optional YAML config path
}

// InstallResult reports where the service definition landed and how to
// operate it.
type InstallResult struct {
	ServiceFile  string
	Platform     string // "launchd" or "systemd"
	Instructions string
}

// Install writes a user-level OS service definition for the daemon.
func Install(cfg ServiceConfig) (*InstallResult, error) {
	switch runtime.GOOS {
	case "darwin":
		return installLaunchd(cfg)
	case "linux":
		return installSystemd(cfg)
	default:
		return nil, fmt.Errorf("unsupported platform: %s (use macOS or Linux)", runtime.GOOS)
	}
}

// Uninstall removes the OS service definition.
func Uninstall() (*InstallResult, error) {
	switch runtime.GOOS {
	case "darwin":
		return uninstallLaunchd()
	case "linux":
		return uninstallSystemd()
	default:
		return nil, fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}
}

// --- launchd (macOS) ---

const launchdLabel = "io.tenantd.daemon"

func launchdPlistPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, "Library", "LaunchAgents", launchdLabel+".plist")
}

// GenerateLaunchdPlist renders the launchd property list for the daemon.
func GenerateLaunchdPlist(cfg ServiceConfig) string {
	return `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
  <key>Label</key>
  <string>` + launchdLabel + `</string>
  <key>ProgramArguments</key>
  <array>
    <string>` + cfg.BinaryPath + `</string>
    <string>serve</string>
  </array>
  <key>EnvironmentVariables</key>
  <dict>
    <key>TENANTD_DATA</key>
    <string>` + cfg.DataDir + `</string>
    <key>TENANTD_ADDR</key>
    <string>` + cfg.ListenAddr + `</string>
  </dict>
  <key>RunAtLoad</key>
  <true/>
  <key>KeepAlive</key>
  <true/>
  <key>StandardOutPath</key>
  <string>` + filepath.Join(cfg.DataDir, "logs", "tenantd.log") + `</string>
  <key>StandardErrorPath</key>
  <string>` + filepath.Join(cfg.DataDir, "logs", "tenantd.err") + `</string>
  <key>WorkingDirectory</key>
  <string>` + cfg.DataDir + `</string>
</dict>
</plist>
`
}

func installLaunchd(cfg ServiceConfig) (*InstallResult, error) {
	plistPath := launchdPlistPath()

	if err := os.MkdirAll(filepath.Dir(plistPath), 0o755); err != nil {
		return nil, fmt.Errorf("create LaunchAgents dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(cfg.DataDir, "logs"), 0o755); err != nil {
		return nil, fmt.Errorf("create logs dir: %w", err)
	}

	if err := os.WriteFile(plistPath, []byte(GenerateLaunchdPlist(cfg)), 0o644); err != nil {
		return nil, fmt.Errorf("write plist: %w", err)
	}

	return &InstallResult{
		ServiceFile: plistPath,
		Platform:    "launchd",
		Instructions: fmt.Sprintf(`Service installed.

  Service file: %s

  Start now:    launchctl load %s
  Stop:         launchctl unload %s
  Logs:         tail -f %s/logs/tenantd.log

The daemon will start automatically on login.`, plistPath, plistPath, plistPath, cfg.DataDir),
	}, nil
}

func uninstallLaunchd() (*InstallResult, error) {
	plistPath := launchdPlistPath()
	if _, err := os.Stat(plistPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("service not installed (no plist at %s)", plistPath)
	}
	if err := os.Remove(plistPath); err != nil {
		return nil, fmt.Errorf("remove plist: %w", err)
	}

	return &InstallResult{
		ServiceFile: plistPath,
		Platform:    "launchd",
		Instructions: fmt.Sprintf(`Service uninstalled.

  Removed: %s

  If the service was running, also run:
    launchctl unload %s`, plistPath, plistPath),
	}, nil
}

// --- systemd (Linux) ---

const systemdServiceName = "tenantd.service"

func systemdServicePath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "systemd", "user", systemdServiceName)
}

// GenerateSystemdUnit renders the systemd user unit for the daemon.
func GenerateSystemdUnit(cfg ServiceConfig) string {
	return `[Unit]
Description=Tenant Coordination Daemon
After=network-online.target
Wants=network-online.target

[Service]
Type=simple
ExecStart=` + cfg.BinaryPath + ` serve
Environment=TENANTD_DATA=` + cfg.DataDir + `
Environment=TENANTD_ADDR=` + cfg.ListenAddr + `
WorkingDirectory=` + cfg.DataDir + `
Restart=on-failure
RestartSec=5
StandardOutput=append:` + filepath.Join(cfg.DataDir, "logs", "tenantd.log") + `
StandardError=append:` + filepath.Join(cfg.DataDir, "logs", "tenantd.err") + `

[Install]
WantedBy=default.target
`
}

func installSystemd(cfg ServiceConfig) (*InstallResult, error) {
	unitPath := systemdServicePath()

	if err := os.MkdirAll(filepath.Dir(unitPath), 0o755); err != nil {
		return nil, fmt.Errorf("create systemd dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(cfg.DataDir, "logs"), 0o755); err != nil {
		return nil, fmt.Errorf("create logs dir: %w", err)
	}

	if err := os.WriteFile(unitPath, []byte(GenerateSystemdUnit(cfg)), 0o644); err != nil {
		return nil, fmt.Errorf("write unit file: %w", err)
	}

	return &InstallResult{
		ServiceFile: unitPath,
		Platform:    "systemd",
		Instructions: fmt.Sprintf(`Service installed.

  Unit file: %s

  Enable:  systemctl --user daemon-reload && systemctl --user enable tenantd
  Start:   systemctl --user start tenantd
  Stop:    systemctl --user stop tenantd
  Status:  systemctl --user status tenantd
  Logs:    journalctl --user -u tenantd -f

  For auto-start after boot (without login):
    sudo loginctl enable-linger $USER`, unitPath),
	}, nil
}

func uninstallSystemd() (*InstallResult, error) {
	unitPath := systemdServicePath()
	if _, err := os.Stat(unitPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("service not installed (no unit at %s)", unitPath)
	}
	if err := os.Remove(unitPath); err != nil {
		return nil, fmt.Errorf("remove unit file: %w", err)
	}

	return &InstallResult{
		ServiceFile: unitPath,
		Platform:    "systemd",
		Instructions: fmt.Sprintf(`Service uninstalled.

  Removed: %s

  Also run:
    systemctl --user daemon-reload
    systemctl --user disable tenantd`, unitPath),
	}, nil
}

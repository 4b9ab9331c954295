// Package setup generates the systemd user-unit file that runs backupd
// as a long-lived per-user service.
package setup

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

// unitFieldsYAML describes the static [Unit]/[Service]/[Install] fields of
// the generated unit, separately from the one field (ExecStart) that varies
// per install. Kept as data rather than hardcoded into the template so the
// restart policy can be tuned without touching Go code.
const unitFieldsYAML = `
description: backupd per-user backup automation daemon
after: network-online.target
restart: on-failure
restartSec: 5
wantedBy: default.target
`

// unitFields is the parsed shape of unitFieldsYAML.
type unitFields struct {
	Description string `yaml:"description"`
	After       string `yaml:"after"`
	Restart     string `yaml:"restart"`
	RestartSec  int    `yaml:"restartSec"`
	WantedBy    string `yaml:"wantedBy"`
}

const unitTemplate = `[Unit]
Description={{.Fields.Description}}
After={{.Fields.After}}

[Service]
Type=simple
ExecStart={{.ExecPath}} run --log-file
Restart={{.Fields.Restart}}
RestartSec={{.Fields.RestartSec}}

[Install]
WantedBy={{.Fields.WantedBy}}
`

// UnitParams fills the systemd unit template.
type UnitParams struct {
	ExecPath string
	Fields   unitFields
}

// RenderUnit renders the systemd user-unit file contents for the backupd
// binary at execPath.
func RenderUnit(execPath string) (string, error) {
	var fields unitFields
	if err := yaml.Unmarshal([]byte(unitFieldsYAML), &fields); err != nil {
		return "", fmt.Errorf("setup: parse unit fields: %w", err)
	}

	tmpl, err := template.New("backupd.service").Parse(unitTemplate)
	if err != nil {
		return "", fmt.Errorf("setup: parse unit template: %w", err)
	}

	var buf strings.Builder
	if err := tmpl.Execute(&buf, UnitParams{ExecPath: execPath, Fields: fields}); err != nil {
		return "", fmt.Errorf("setup: render unit: %w", err)
	}
	return buf.String(), nil
}

// InstallUnit renders and writes the systemd user-unit file to unitPath,
// creating its parent directory if needed.
func InstallUnit(unitPath, execPath string) error {
	rendered, err := RenderUnit(execPath)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(unitPath), 0o755); err != nil {
		return fmt.Errorf("setup: create unit directory: %w", err)
	}
	if err := os.WriteFile(unitPath, []byte(rendered), 0o644); err != nil {
		return fmt.Errorf("setup: write unit file: %w", err)
	}
	return nil
}

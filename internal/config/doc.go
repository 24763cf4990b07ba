// Package config reads project settings from <project>/abt.yaml with ABT_*
// environment overrides, and edits that file for the config command.
package config

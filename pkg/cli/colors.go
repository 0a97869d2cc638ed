/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

/*
Package cli provides the shared terminal utilities behind the gateway's
operator tooling (fixctl, fixengine): colored output, table rendering,
prompts, a scan spinner, and the CLIError type every subcommand exits
through.
*/
package cli

import (
	"fmt"
	"os"
)

// ANSI codes for the styles the gateway tools actually emit.
const (
	Reset = "\033[0m"
	Bold  = "\033[1m"
	Dim   = "\033[2m"

	Red    = "\033[31m"
	Green  = "\033[32m"
	Yellow = "\033[33m"
	Cyan   = "\033[36m"
)

// colorsEnabled controls whether colors are output.
var colorsEnabled = true

func init() {
	// Honor NO_COLOR, and don't emit escapes into pipes.
	if os.Getenv("NO_COLOR") != "" {
		colorsEnabled = false
	}
	if fileInfo, _ := os.Stdout.Stat(); (fileInfo.Mode() & os.ModeCharDevice) == 0 {
		colorsEnabled = false
	}
}

// SetColorsEnabled enables or disables color output.
func SetColorsEnabled(enabled bool) {
	colorsEnabled = enabled
}

// ColorsEnabled returns whether colors are enabled.
func ColorsEnabled() bool {
	return colorsEnabled
}

// colorize applies color codes if colors are enabled.
func colorize(color, text string) string {
	if !colorsEnabled {
		return text
	}
	return color + text + Reset
}

// Success formats text as a success message (green).
func Success(text string) string {
	return colorize(Green, text)
}

// Error formats text as an error message (red).
func Error(text string) string {
	return colorize(Red, text)
}

// Warning formats text as a warning message (yellow).
func Warning(text string) string {
	return colorize(Yellow, text)
}

// Info formats text as an info message (cyan).
func Info(text string) string {
	return colorize(Cyan, text)
}

// Highlight formats text as highlighted (bold).
func Highlight(text string) string {
	return colorize(Bold, text)
}

// Dimmed formats text as dimmed.
func Dimmed(text string) string {
	return colorize(Dim, text)
}

// SuccessIcon returns a green checkmark.
func SuccessIcon() string {
	return colorize(Green, "✓")
}

// ErrorIcon returns a red X.
func ErrorIcon() string {
	return colorize(Red, "✗")
}

// WarningIcon returns a yellow warning sign.
func WarningIcon() string {
	return colorize(Yellow, "⚠")
}

// InfoIcon returns a cyan info icon.
func InfoIcon() string {
	return colorize(Cyan, "ℹ")
}

// PrintSuccess prints a success message with icon.
func PrintSuccess(format string, args ...interface{}) {
	fmt.Printf("%s %s\n", SuccessIcon(), Success(fmt.Sprintf(format, args...)))
}

// PrintError prints an error message with icon.
func PrintError(format string, args ...interface{}) {
	fmt.Printf("%s %s\n", ErrorIcon(), Error(fmt.Sprintf(format, args...)))
}

// PrintWarning prints a warning message with icon.
func PrintWarning(format string, args ...interface{}) {
	fmt.Printf("%s %s\n", WarningIcon(), Warning(fmt.Sprintf(format, args...)))
}

// PrintInfo prints an info message with icon.
func PrintInfo(format string, args ...interface{}) {
	fmt.Printf("%s %s\n", InfoIcon(), Info(fmt.Sprintf(format, args...)))
}

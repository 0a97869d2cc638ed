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

package cli

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// Prompt displays a prompt and reads one line of user input.
func Prompt(message string) string {
	fmt.Print(message)
	reader := bufio.NewReader(os.Stdin)
	input, err := reader.ReadString('\n')
	if err != nil {
		return ""
	}
	return strings.TrimSpace(input)
}

// PromptYesNo prompts for a yes/no answer.
func PromptYesNo(message string, defaultYes bool) bool {
	var prompt string
	if defaultYes {
		prompt = fmt.Sprintf("%s [%sY%s/n]: ", message, Bold, Reset)
	} else {
		prompt = fmt.Sprintf("%s [y/%sN%s]: ", message, Bold, Reset)
	}

	input := strings.ToLower(Prompt(prompt))
	if input == "" {
		return defaultYes
	}
	return input == "y" || input == "yes"
}

// Confirm asks before an operation that clobbers something (overwriting
// an exported audit file, for instance). It defaults to no.
func Confirm(message string) bool {
	fmt.Printf("%s %s\n", WarningIcon(), Warning(message))
	return PromptYesNo("Continue?", false)
}

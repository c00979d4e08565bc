// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package bus

import "regexp"

// injectionPatterns flag inter-agent messages that look like they're
// trying to override the recipient's instructions. A match never blocks
// delivery — it only annotates the stored message for the recipient (or
// an auditor) to treat with suspicion.
var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore\s+(all\s+)?previous\s+instructions?`),
	regexp.MustCompile(`(?i)system:\s*`),
	regexp.MustCompile(`(?i)jailbreak`),
}

// detectInjection reports whether content matches any known
// prompt-injection pattern.
func detectInjection(content string) bool {
	for _, p := range injectionPatterns {
		if p.MatchString(content) {
			return true
		}
	}
	return false
}

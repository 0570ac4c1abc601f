/*
Copyright 2026 Numtide.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package name keeps generated identifiers inside the length limits imposed
// by Kubernetes and by database vendors.
//
// Two strategies are offered:
//  1. JoinWithConstraints and LabelValue are deterministic. They are used for
//     anything the operator has to find again later, such as job pod names and
//     selector label values.
//  2. Shorten truncates and appends a random numeric discriminator. It is used
//     for names that are generated once and then persisted, such as schema
//     names and container names.
package name

import (
	"encoding/hex"
	"fmt"
	"hash/fnv"
	"strings"
	"unicode"

	"github.com/numtide/stack-operator/pkg/util/random"
)

const (
	// hashBytes is the number of bytes included in the result of Hash().
	// This must never be changed since it would break backwards compatibility.
	hashBytes = 4

	// hashLength is the number of characters in the hex-encoded string returned from Hash().
	hashLength = 2 * hashBytes

	// truncationMark is a special separator used when appending the hash to a
	// truncated name to indicate that truncation occurred.
	truncationMark = "---"

	// minTruncatedLength is the shortest possible length of a name that had to
	// be truncated: one leading character, the truncationMark and the hash.
	minTruncatedLength = 1 + len(truncationMark) + hashLength

	// MaxObjectNameLength is the DNS label limit shared by container names,
	// secret names and pod host names.
	MaxObjectNameLength = 63

	// MaxLabelValueLength is the limit the API server enforces on label values.
	MaxLabelValueLength = 63

	// DiscriminatorLength is the number of random digits Shorten appends.
	DiscriminatorLength = 3
)

// Constraints specifies rules that the output of JoinWithConstraints must follow.
type Constraints struct {
	// MaxLength is the maximum length of the output, including the hash
	// suffix. Values below 12 cause a panic.
	MaxLength int
	// ValidFirstChar reports whether r is allowed as the first character.
	ValidFirstChar func(r rune) bool
}

var (
	// DefaultConstraints are the name constraints for objects in Kubernetes
	// that don't have any special rules.
	DefaultConstraints = Constraints{
		MaxLength:      253,
		ValidFirstChar: isLowercaseAlphanumeric,
	}
	// PodConstraints keep pod names usable as host names.
	PodConstraints = Constraints{
		MaxLength:      MaxObjectNameLength,
		ValidFirstChar: isLowercaseLetter,
	}
)

// Hash computes a hash suffix for the given name parts.
func Hash(parts []string) string {
	h := fnv.New32a()
	for _, part := range parts {
		h.Write([]byte(part))
		// The separator must differ from '-' so that moving a substring
		// between adjacent parts changes the hash.
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil)[:hashBytes])
}

// JoinWithConstraints joins parts with '-', lowercases and sanitizes the
// result and appends a hash of the original parts. The output depends only on
// the parts and their order, so it can be used to find an object again.
//
// When the joined name does not fit cons.MaxLength it is cut and the hash is
// preceded by "---" instead of "-".
func JoinWithConstraints(cons Constraints, parts ...string) string {
	if cons.MaxLength < minTruncatedLength {
		panic(
			fmt.Sprintf(
				"MaxLength of %v is invalid; must be at least %v",
				cons.MaxLength,
				minTruncatedLength,
			),
		)
	}

	if len(parts) == 0 {
		return ""
	}

	hash := Hash(parts)

	newParts := make([]string, 0, len(parts))
	for _, part := range parts {
		newParts = append(newParts, sanitize(part))
	}

	firstPart := newParts[0]
	if len(firstPart) == 0 || !cons.ValidFirstChar(rune(firstPart[0])) {
		newParts[0] = "x" + firstPart
	}

	partialResult := strings.Join(newParts, "-")
	predictedLength := len(partialResult) + 1 + len(hash)
	if predictedLength <= cons.MaxLength {
		return partialResult + "-" + hash
	}

	cutLength := predictedLength - cons.MaxLength + 2
	partialResult = partialResult[:len(partialResult)-cutLength]
	return partialResult + truncationMark + hash
}

// Fit returns s unchanged when it fits maxLength and otherwise a
// deterministic truncation of s ending in "---" and a hash of s. Fit panics
// when maxLength is below 12.
func Fit(s string, maxLength int) string {
	if maxLength < minTruncatedLength {
		panic(fmt.Sprintf("MaxLength of %v is invalid; must be at least %v", maxLength, minTruncatedLength))
	}
	if len(s) <= maxLength {
		return s
	}
	hash := Hash([]string{s})
	return s[:maxLength-len(truncationMark)-len(hash)] + truncationMark + hash
}

// LabelValue fits v into a label value. Label values are used in selectors,
// so they must not carry random parts.
func LabelValue(v string) string {
	return Fit(v, MaxLabelValueLength)
}

// Shorten returns s when it fits maxLength. Otherwise it keeps the first
// maxLength-suffixLength characters of s and appends suffixLength random
// digits drawn from src, so the result has exactly maxLength characters.
//
// A nil src uses random.Default. Shorten panics when suffixLength is negative
// or does not leave room for at least one character of s.
func Shorten(s string, maxLength, suffixLength int, src random.Source) string {
	if suffixLength < 0 || maxLength <= suffixLength {
		panic(
			fmt.Sprintf(
				"cannot shorten to %d characters with a %d character discriminator",
				maxLength,
				suffixLength,
			),
		)
	}
	if len(s) <= maxLength {
		return s
	}
	return s[:maxLength-suffixLength] + random.Digits(src, suffixLength)
}

// Shorten63 shortens object and container names to the DNS label limit.
func Shorten63(s string, src random.Source) string {
	return Shorten(s, MaxObjectNameLength, DiscriminatorLength, src)
}

// Snake converts a Kubernetes object name to a lower case identifier that
// database vendors accept unquoted.
func Snake(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case isLowercaseAlphanumeric(r) || r == '_':
			return r
		case isUppercaseLetter(r):
			return unicode.ToLower(r)
		default:
			return '_'
		}
	}, s)
}

// Sanitize lowercases s and replaces the characters a DNS label cannot hold
// with '-'. Leading and trailing dashes are dropped and an empty result
// becomes "x".
func Sanitize(s string) string {
	s = strings.Trim(sanitize(s), "-")
	if s == "" {
		return "x"
	}
	return s
}

func sanitize(part string) string {
	return strings.Map(func(r rune) rune {
		if isLowercaseAlphanumeric(r) || r == '-' {
			return r
		}
		if isUppercaseLetter(r) {
			return unicode.ToLower(r)
		}
		return '-'
	}, part)
}

func isLowercaseLetter(r rune) bool {
	return r >= 'a' && r <= 'z'
}

func isUppercaseLetter(r rune) bool {
	return r >= 'A' && r <= 'Z'
}

func isDigit(r rune) bool {
	return r >= '0' && r <= '9'
}

func isLowercaseAlphanumeric(r rune) bool {
	return isLowercaseLetter(r) || isDigit(r)
}

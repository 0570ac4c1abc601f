/*
Copyright 2026.

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

// Package random isolates the randomness used for name discriminators and
// generated credentials behind an injectable Source.
//
// Production code uses Default, which draws from crypto/rand. Tests inject a
// seeded math/rand/v2 generator so that discriminators and passwords are
// reproducible.
package random

import (
	"crypto/rand"
	"math/big"
	"strings"
)

const (
	digits       = "0123456789"
	alphanumeric = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// Source returns, as an int, a non-negative pseudo-random number in the
// half-open interval [0,n). It panics if n <= 0.
//
// *math/rand/v2.Rand satisfies this interface.
type Source interface {
	IntN(n int) int
}

// Default is the Source used when none is injected. It is safe for
// concurrent use.
var Default Source = cryptoSource{}

type cryptoSource struct{}

func (cryptoSource) IntN(n int) int {
	if n <= 0 {
		panic("random: invalid argument to IntN")
	}
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		// crypto/rand.Reader does not fail on supported platforms.
		panic(err)
	}
	return int(v.Int64())
}

// OrDefault returns src, or Default when src is nil.
func OrDefault(src Source) Source {
	if src == nil {
		return Default
	}
	return src
}

// Digits returns n random decimal digits.
func Digits(src Source, n int) string {
	return fromAlphabet(OrDefault(src), digits, n)
}

// Alphanumeric returns n random characters from [a-zA-Z0-9].
func Alphanumeric(src Source, n int) string {
	return fromAlphabet(OrDefault(src), alphanumeric, n)
}

func fromAlphabet(src Source, alphabet string, n int) string {
	if n <= 0 {
		return ""
	}
	var b strings.Builder
	b.Grow(n)
	for range n {
		b.WriteByte(alphabet[src.IntN(len(alphabet))])
	}
	return b.String()
}

/*
Copyright 2025 Jordi Gil.

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

// Package idgen mints the unguessable, URL-safe tokens Rewire uses as
// expectation and trial identifiers. Security for the unauthenticated
// observe/ack routes derives entirely from this entropy.
package idgen

import (
	"crypto/rand"
	"encoding/base64"
)

// New returns a token with at least 16 bytes of CSPRNG entropy, safe to
// embed in a URL path segment without escaping.
func New() (string, error) {
	buf := make([]byte, 18)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Copyright 2024 The OSS Rebuild Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package hashext provides the content-address hashing primitives: a
// hash.Hash annotated with its algorithm, and a registry mapping the
// algorithm names that appear in upstream metadata and blob filenames
// ("md5", "sha1"/"sha", "sha256", "sha512") onto it.
package hashext

import (
	"crypto"
	_ "crypto/md5"
	_ "crypto/sha1"
	_ "crypto/sha256"
	_ "crypto/sha512"
	"hash"
	"strings"

	"github.com/pkg/errors"
)

// TypedHash is a hash.Hash annotated with its algorithm.
type TypedHash struct {
	hash.Hash
	Algorithm crypto.Hash
}

// NewTypedHash constructs a new TypedHash.
func NewTypedHash(algo crypto.Hash) TypedHash {
	return TypedHash{Hash: algo.New(), Algorithm: algo}
}

// ErrUnknownAlgorithm is returned when an algorithm name is not recognized.
var ErrUnknownAlgorithm = errors.New("unknown hash algorithm")

// algosByName maps the lowercase names used in blob filenames
// ("<path>.<algo>.<hex>") and upstream metadata onto crypto.Hash values.
// "sha" is accepted as an alias for "sha1" (I1, and RPM repomd.xml's
// checksum type="sha" on older repositories).
var algosByName = map[string]crypto.Hash{
	"md5":    crypto.MD5,
	"sha1":   crypto.SHA1,
	"sha":    crypto.SHA1,
	"sha256": crypto.SHA256,
	"sha512": crypto.SHA512,
}

// canonicalNames maps crypto.Hash back onto the canonical (non-alias) name
// used when constructing a content-addressed blob filename.
var canonicalNames = map[crypto.Hash]string{
	crypto.MD5:    "md5",
	crypto.SHA1:   "sha1",
	crypto.SHA256: "sha256",
	crypto.SHA512: "sha512",
}

// Lookup resolves an algorithm name (case-insensitive) to a crypto.Hash.
func Lookup(name string) (crypto.Hash, error) {
	algo, ok := algosByName[strings.ToLower(name)]
	if !ok {
		return 0, errors.Wrapf(ErrUnknownAlgorithm, "%q", name)
	}
	return algo, nil
}

// CanonicalName returns the canonical blob-filename form of algo.
func CanonicalName(algo crypto.Hash) string {
	return canonicalNames[algo]
}

// Copyright 2020 Grail Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package cellpileup

import (
	"fmt"

	"github.com/grailbio/base/errors"
)

// Kind classifies an Error per spec §7.
type Kind int

const (
	// KindIO covers file open/read/write/remove failures.
	KindIO Kind = iota
	// KindFormat covers malformed alignment records or missing header
	// fields.
	KindFormat
	// KindConfig covers invalid group names, unknown chromosomes, or
	// zero inputs.
	KindConfig
	// KindResource covers allocation failure or fd exhaustion.
	KindResource
	// KindInternal covers invariant violations, e.g. a group-map
	// inconsistency.
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindIO:
		return "io"
	case KindFormat:
		return "format"
	case KindConfig:
		return "config"
	case KindResource:
		return "resource"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Error is the engine's error type. It carries a Kind, the component
// that raised it, and the locus (when known), wrapping an underlying
// error produced via github.com/grailbio/base/errors.
type Error struct {
	Kind      Kind
	Component string
	Chrom     string
	// Pos is 1-based; 0 means "no locus known".
	Pos int
	Err error
}

func (e *Error) Error() string {
	if e.Chrom != "" || e.Pos != 0 {
		return fmt.Sprintf("%s[%s]: %s:%d: %v", e.Component, e.Kind, e.Chrom, e.Pos, e.Err)
	}
	return fmt.Sprintf("%s[%s]: %v", e.Component, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// E constructs an *Error, wrapping err with github.com/grailbio/base/errors
// for consistent message formatting before attaching the Kind/component/
// locus fields spec §7 requires on every diagnostic.
func E(kind Kind, component string, chrom string, pos int, err error, detail string) *Error {
	var wrapped error
	if detail != "" {
		wrapped = errors.E(err, detail)
	} else {
		wrapped = err
	}
	return &Error{Kind: kind, Component: component, Chrom: chrom, Pos: pos, Err: wrapped}
}

// KindOf reports the Kind of err if it (or something it wraps) is an
// *Error, and ok=false otherwise.
func KindOf(err error) (k Kind, ok bool) {
	for err != nil {
		if e, isErr := err.(*Error); isErr {
			return e.Kind, true
		}
		u, canUnwrap := err.(interface{ Unwrap() error })
		if !canUnwrap {
			break
		}
		err = u.Unwrap()
	}
	return 0, false
}

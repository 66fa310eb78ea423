/*
   Copyright The containerd Authors.

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

// Package log provides the structured logging entry points used by every
// component of the validator. It is a thin field-naming layer over
// github.com/containerd/log so that all components log with the same
// vocabulary.
package log

import (
	"context"

	"github.com/containerd/log"
)

// G returns the logger stashed in ctx, or the default logger if none is
// present. Use log.G(ctx).WithField(...) at call sites rather than the
// package-level logger directly.
var G = log.G

// WithLogger returns a new context carrying entry.
func WithLogger(ctx context.Context, entry *log.Entry) context.Context {
	return log.WithLogger(ctx, entry)
}

// Entry is re-exported so callers constructing fake loggers in tests don't
// need to import containerd/log directly.
type Entry = log.Entry

// Field names used across the validator. Kept centralized so a grep finds
// every structured field at once, the same convention as the teacher's own
// log.Fields block.
const (
	Partition    = "partition"
	ABSuffix     = "ab_suffix"
	ChainedFrom  = "chained_from"
	Device       = "device"
	VerityMode   = "verity_mode"
	RootDigest   = "root_digest"
	MapperName   = "mapper_name"
	RollbackIdx  = "rollback_index"
	VBMetaSize   = "vbmeta_size"
	SetupID      = "setup_id"
)

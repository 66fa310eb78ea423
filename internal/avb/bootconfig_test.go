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

package avb

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLookupInFileFindsSpaceSeparatedKey(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cmdline")
	require.NoError(t, os.WriteFile(path, []byte("console=ttyS0 androidboot.veritymode=enforcing root=/dev/sda1\n"), 0o644))

	v, ok := lookupInFile(path, " ", "veritymode")
	require.True(t, ok)
	require.Equal(t, "enforcing", v)
}

func TestLookupInFileFindsNewlineSeparatedKey(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bootconfig")
	require.NoError(t, os.WriteFile(path, []byte("androidboot.slot_suffix = \"_a\"\nandroidboot.veritymode = \"logging\"\n"), 0o644))

	v, ok := lookupInFile(path, "\n", "veritymode")
	require.True(t, ok)
	require.Equal(t, "logging", v)
}

func TestLookupInFileMissingKey(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cmdline")
	require.NoError(t, os.WriteFile(path, []byte("console=ttyS0\n"), 0o644))

	_, ok := lookupInFile(path, " ", "veritymode")
	require.False(t, ok)
}

func TestLookupInFileMissingFile(t *testing.T) {
	_, ok := lookupInFile("/nonexistent/path/for/test", " ", "veritymode")
	require.False(t, ok)
}

func TestCmdlineBootConfigReaderIgnoresUnrelatedKeys(t *testing.T) {
	// "veritymode" only ever matches the "androidboot." prefixed form; a
	// bare "veritymode=" token (no prefix) must not match.
	dir := t.TempDir()
	path := filepath.Join(dir, "cmdline")
	require.NoError(t, os.WriteFile(path, []byte("veritymode=enforcing\n"), 0o644))

	_, ok := lookupInFile(path, " ", "veritymode")
	require.False(t, ok)
}

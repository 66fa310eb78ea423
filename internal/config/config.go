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

// Package config loads the validator's policy configuration.
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/docker/go-units"
	"github.com/pelletier/go-toml/v2"
)

// Config represents validator policy loaded from a TOML file.
type Config struct {
	// A/B slot suffixes applied to AVB partition names before device
	// path resolution. Both empty for non-A/B devices.
	ABSuffix      string `toml:"ab_suffix"`
	ABOtherSuffix string `toml:"ab_other_suffix"`

	// AllowVerificationError continues the chain walk past a signature
	// or hash mismatch instead of treating it as fatal.
	AllowVerificationError bool `toml:"allow_verification_error"`

	// LoadChainedVbmeta enables recursion into chain-partition
	// descriptors.
	LoadChainedVbmeta bool `toml:"load_chained_vbmeta"`

	// RollbackProtection consults the rollback hook for every loaded
	// VBMeta.
	RollbackProtection bool `toml:"rollback_protection"`

	// VBMetaMaxSize bounds any single VBMeta blob, human-readable (e.g.
	// "64KiB"). Defaults to 64KiB if empty.
	VBMetaMaxSize      string `toml:"vbmeta_max_size"`
	VBMetaMaxSizeBytes int64  `toml:"-"`

	// RootPartitions lists the AVB partition names validated at
	// startup, in order.
	RootPartitions []string `toml:"root_partitions"`

	// DeviceDir is prepended to a device-partition name (after the A/B
	// suffix has already been applied) to resolve a block device path,
	// e.g. "/dev/block/by-name" on a typical Android-style layout.
	DeviceDir string `toml:"device_dir"`

	// DmsetupPath overrides the PATH lookup for the dmsetup binary.
	DmsetupPath string `toml:"dmsetup_path"`

	// Partitions lists every partition that, once its containing
	// root's chain has been verified, should have its hashtree
	// descriptor looked up and programmed into dm-verity.
	Partitions []PartitionConfig `toml:"partitions"`

	// TrustedRootKeys restricts which public key a root partition (one
	// not reached through a chain descriptor) may carry, as digests in
	// "<algorithm>:<hex>" form. Empty trusts whatever key the root
	// vbmeta presents.
	TrustedRootKeys []string `toml:"trusted_root_keys"`
}

// PartitionConfig binds one AVB partition name to the fstab entry that
// should be rewritten once that partition's hashtree has been verified.
type PartitionConfig struct {
	Name       string `toml:"name"`
	MountPoint string `toml:"mount_point"`
	BlkDevice  string `toml:"blk_device"`
}

const defaultVBMetaMaxSize = "64KiB"

// Default returns a Config with the same defaults the validator uses when
// no file is present: enforcing, non-A/B, no chain loading.
func Default() Config {
	return Config{
		VBMetaMaxSize:      defaultVBMetaMaxSize,
		VBMetaMaxSizeBytes: 64 * 1024,
		RootPartitions:     []string{"vbmeta"},
		DeviceDir:          "/dev/block/by-name",
	}
}

// Load reads and validates a Config from a TOML file at path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	cfg := Default()
	if err := toml.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal validator TOML: %w", err)
	}

	if err := cfg.parse(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) parse() error {
	if c.VBMetaMaxSize == "" {
		c.VBMetaMaxSize = defaultVBMetaMaxSize
	}
	size, err := units.RAMInBytes(c.VBMetaMaxSize)
	if err != nil {
		return fmt.Errorf("failed to parse vbmeta_max_size %q: %w", c.VBMetaMaxSize, err)
	}
	c.VBMetaMaxSizeBytes = size
	return nil
}

// Validate makes sure configuration fields are self-consistent.
func (c *Config) Validate() error {
	var result []error
	if c.VBMetaMaxSizeBytes <= 0 {
		result = append(result, fmt.Errorf("vbmeta_max_size must be positive"))
	}
	if len(c.RootPartitions) == 0 {
		result = append(result, fmt.Errorf("root_partitions must list at least one partition"))
	}
	return errors.Join(result...)
}

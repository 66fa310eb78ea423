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

// SlotResult is one root partition's outcome within a VerifySlot call.
type SlotResult struct {
	PartitionName string
	Result        *Result
	Err           error
}

// VerifySlot runs LoadAndVerifyVbmeta once per name in rootPartitions,
// against the same Options (and therefore the same A/B suffix), and
// returns every partition's own result alongside the worst verdict
// across all of them. A platform with more than one independently-rooted
// vbmeta (e.g. a boot vbmeta and a separate vendor vbmeta) calls this
// once per boot instead of driving LoadAndVerifyVbmeta itself in a loop.
//
// Root partitions are verified in the order given and none of them share
// an Accumulator: a failure extracting partition B's hashtree descriptor
// has no way to reach back into partition A's loaded structs, mirroring
// how the reference implementation treats each top-level vbmeta load as
// independent.
func VerifySlot(rootPartitions []string, opts Options) ([]SlotResult, VerifyResult) {
	results := make([]SlotResult, 0, len(rootPartitions))
	overall := ResultSuccess

	for _, name := range rootPartitions {
		res, err := LoadAndVerifyVbmeta(name, opts)
		results = append(results, SlotResult{PartitionName: name, Result: res, Err: err})
		if err != nil {
			overall = ResultError
			continue
		}
		overall = worstOf(overall, res.Verdict)
	}

	return results, overall
}

package api

import (
	"fmt"
	"sort"
	"strings"
)

// CoreFeatures is a bitset of WebAssembly core specification and proposal
// features, exposed so embedders can gate what their runtime accepts
// (RuntimeConfig.WithCoreFeatures).
//
// Note: This is a bit flag, so care must be taken when iota is used: zero
// is not a valid flag value.
type CoreFeatures uint64

const (
	// CoreFeatureMutableGlobal allows globals to be mutable. This was
	// finished in WebAssembly 1.0 (20191205).
	CoreFeatureMutableGlobal CoreFeatures = 1 << iota

	// CoreFeatureSignExtensionOps adds instructions "i32.extend8_s",
	// "i32.extend16_s", "i64.extend8_s", "i64.extend16_s", "i64.extend32_s".
	CoreFeatureSignExtensionOps

	// CoreFeatureMultiValue enables multiple result types on blocks and
	// functions, and multiple operands on "return" and "br".
	CoreFeatureMultiValue

	// CoreFeatureNonTrappingFloatToIntConversion adds the "trunc_sat"
	// family of instructions, which saturate instead of trapping.
	CoreFeatureNonTrappingFloatToIntConversion

	// CoreFeatureBulkMemoryOperations adds "memory.copy", "memory.fill",
	// "memory.init", "data.drop", "table.copy", "table.init", "elem.drop".
	CoreFeatureBulkMemoryOperations

	// CoreFeatureReferenceTypes adds funcref and externref value types,
	// table.get/set/grow/size/fill, and multiple tables per module.
	CoreFeatureReferenceTypes

	// CoreFeatureSIMD adds the v128 value type and its instructions.
	CoreFeatureSIMD

	// CoreFeatureTailCall adds "return_call" and "return_call_indirect".
	CoreFeatureTailCall

	// CoreFeatureFunctionReferences adds typed function references
	// ("ref $t"/"ref null $t"), call_ref, and br_on_null/br_on_non_null.
	CoreFeatureFunctionReferences

	// CoreFeatureExceptionHandling adds tags, throw, and try_table with
	// its catch/catch_ref/catch_all/catch_all_ref clauses.
	CoreFeatureExceptionHandling

	// CoreFeatureThreads adds shared memories and the atomic instruction
	// family, including memory.atomic.wait/notify.
	CoreFeatureThreads

	// CoreFeatureWideArithmetic adds i64.add128, i64.sub128,
	// i64.mul_wide_s, and i64.mul_wide_u.
	CoreFeatureWideArithmetic
)

// coreFeatureNames is consulted to build String; being a map it has no order,
// so the result is sorted for a stable, diffable representation.
var coreFeatureNames = map[CoreFeatures]string{
	CoreFeatureMutableGlobal:                   "mutable-global",
	CoreFeatureSignExtensionOps:                 "sign-extension-ops",
	CoreFeatureMultiValue:                      "multi-value",
	CoreFeatureNonTrappingFloatToIntConversion: "nontrapping-float-to-int-conversion",
	CoreFeatureBulkMemoryOperations:             "bulk-memory-operations",
	CoreFeatureReferenceTypes:                   "reference-types",
	CoreFeatureSIMD:                             "simd",
	CoreFeatureTailCall:                         "tail-call",
	CoreFeatureFunctionReferences:               "function-references",
	CoreFeatureExceptionHandling:                "exception-handling",
	CoreFeatureThreads:                          "threads",
	CoreFeatureWideArithmetic:                   "wide-arithmetic",
}

// CoreFeaturesV1 are features included in the WebAssembly Core Specification 1.0 (20191205).
const CoreFeaturesV1 = CoreFeatureMutableGlobal

// CoreFeaturesV2 are features included in the WebAssembly Core Specification 2.0 (20241206).
const CoreFeaturesV2 = CoreFeaturesV1 |
	CoreFeatureSignExtensionOps |
	CoreFeatureMultiValue |
	CoreFeatureNonTrappingFloatToIntConversion |
	CoreFeatureBulkMemoryOperations |
	CoreFeatureReferenceTypes |
	CoreFeatureSIMD

// CoreFeaturesV2Plus additionally enables the post-2.0 proposals this engine
// supports at the validation level: exception handling, function references,
// tail calls, threads/atomics and wide arithmetic.
const CoreFeaturesV2Plus = CoreFeaturesV2 |
	CoreFeatureTailCall |
	CoreFeatureFunctionReferences |
	CoreFeatureExceptionHandling |
	CoreFeatureThreads |
	CoreFeatureWideArithmetic

// IsEnabled returns true if the feature (or bitset of features) is enabled.
func (f CoreFeatures) IsEnabled(feature CoreFeatures) bool {
	return f&feature == feature && feature != 0
}

// SetEnabled returns a copy of f with the given feature (or bitset) enabled
// or disabled.
func (f CoreFeatures) SetEnabled(feature CoreFeatures, enabled bool) CoreFeatures {
	if enabled {
		return f | feature
	}
	return f &^ feature
}

// RequireEnabled returns an error if the feature is not enabled in f.
func (f CoreFeatures) RequireEnabled(feature CoreFeatures) error {
	if !f.IsEnabled(feature) {
		return fmt.Errorf("feature %q is disabled", coreFeatureNames[feature])
	}
	return nil
}

// String implements fmt.Stringer by printing enabled features, sorted and
// pipe-delimited.
func (f CoreFeatures) String() string {
	var names []string
	for flag, name := range coreFeatureNames {
		if f.IsEnabled(flag) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return strings.Join(names, "|")
}

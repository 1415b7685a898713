package heap

import (
	"math"
	"math/bits"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/core1_0"
)

// Choice is the memory type picked for a single intent
type Choice struct {
	MemoryTypeIndex int
	HeapIndex       int
	PropertyFlags   core1_0.MemoryPropertyFlags
	// Fallback is true when the device had no memory type for the intent and the choice was
	// copied from the intent's fallback
	Fallback bool
}

// Selection is the per-intent memory type choice for a device. It is computed once and never
// changes afterward.
type Selection struct {
	choices [intentCount]Choice
}

func (s *Selection) Choice(intent Intent) Choice {
	return s.choices[intent]
}

// Classify picks the best memory type for every intent. A memory type is eligible for an intent
// when it carries all of the intent's required flags; among eligible types, the one missing the
// fewest preferred flags and carrying the fewest unwanted flags wins. Classify fails with
// ErrMissingMandatoryHeap when a mandatory intent has no eligible memory type.
func Classify(memoryProperties *core1_0.PhysicalDeviceMemoryProperties) (*Selection, error) {
	if memoryProperties == nil {
		return nil, errors.New("memory properties must not be nil")
	}

	selection := &Selection{}
	for _, intent := range Intents() {
		prefs := intentPreferences[intent]

		typeIndex := findMemoryTypeIndex(memoryProperties, math.MaxUint32, prefs)
		if typeIndex >= 0 {
			memType := memoryProperties.MemoryTypes[typeIndex]
			selection.choices[intent] = Choice{
				MemoryTypeIndex: typeIndex,
				HeapIndex:       memType.HeapIndex,
				PropertyFlags:   memType.PropertyFlags,
			}
			continue
		}

		if prefs.mandatory {
			return nil, errors.Wrapf(ErrMissingMandatoryHeap, "no memory type carries %s for %s", prefs.required, intent)
		}

		choice := selection.choices[prefs.fallback]
		choice.Fallback = true
		selection.choices[intent] = choice
	}

	return selection, nil
}

// findMemoryTypeIndex returns the cheapest memory type permitted by memoryTypeBits that carries
// every required flag, or -1
func findMemoryTypeIndex(
	memoryProperties *core1_0.PhysicalDeviceMemoryProperties,
	memoryTypeBits uint32,
	prefs preferences,
) int {
	bestMemoryTypeIndex := -1
	minCost := math.MaxInt

	for memTypeIndex, memType := range memoryProperties.MemoryTypes {
		memTypeBit := uint32(1 << memTypeIndex)

		if memTypeBit&memoryTypeBits == 0 {
			// This memory type is banned by the bitmask
			continue
		}

		flags := memType.PropertyFlags
		if prefs.required&flags != prefs.required {
			// This memory type is missing required flags
			continue
		}

		missingPreferredFlags := prefs.preferred & ^flags
		presentNotPreferredFlags := prefs.notPreferred & flags
		cost := bits.OnesCount32(uint32(missingPreferredFlags)) + bits.OnesCount32(uint32(presentNotPreferredFlags))
		if cost == 0 {
			return memTypeIndex
		} else if cost < minCost {
			bestMemoryTypeIndex = memTypeIndex
			minCost = cost
		}
	}

	return bestMemoryTypeIndex
}

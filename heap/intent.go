package heap

import (
	"fmt"

	"github.com/vkngwrapper/core/v2/core1_0"
)

// Intent describes how a resource's memory will be accessed, and therefore which memory type
// should back it
type Intent int32

const (
	// IntentDeviceLocal is memory only the GPU touches: render targets, static meshes, textures
	IntentDeviceLocal Intent = iota
	// IntentReadback is host-visible memory the CPU reads after the GPU writes it, preferably cached
	IntentReadback
	// IntentUpload is host-visible memory the CPU writes once and the GPU reads, usually as a
	// staging source
	IntentUpload
	// IntentDynamic is memory that is both device-local and host-visible, rewritten by the CPU every
	// frame and read directly by the GPU. Falls back to IntentUpload when the device has no such type.
	IntentDynamic
	// IntentTransient is lazily-allocated memory for attachments that never leave tile memory. Falls
	// back to IntentDeviceLocal when the device has no such type.
	IntentTransient

	intentCount = 5
)

var intentMapping = map[Intent]string{
	IntentDeviceLocal: "IntentDeviceLocal",
	IntentReadback:    "IntentReadback",
	IntentUpload:      "IntentUpload",
	IntentDynamic:     "IntentDynamic",
	IntentTransient:   "IntentTransient",
}

func (i Intent) String() string {
	str, ok := intentMapping[i]
	if !ok {
		return fmt.Sprintf("Intent(%d)", int32(i))
	}
	return str
}

// Intents returns every intent in classification order
func Intents() []Intent {
	return []Intent{IntentDeviceLocal, IntentReadback, IntentUpload, IntentDynamic, IntentTransient}
}

type preferences struct {
	required     core1_0.MemoryPropertyFlags
	preferred    core1_0.MemoryPropertyFlags
	notPreferred core1_0.MemoryPropertyFlags
	mandatory    bool
	fallback     Intent
}

// intentPreferences lists intents in an order where every fallback is classified before the intent
// that depends on it
var intentPreferences = [intentCount]preferences{
	IntentDeviceLocal: {
		required:     core1_0.MemoryPropertyDeviceLocal,
		notPreferred: core1_0.MemoryPropertyHostVisible,
		mandatory:    true,
	},
	IntentReadback: {
		required:  core1_0.MemoryPropertyHostVisible,
		preferred: core1_0.MemoryPropertyHostCached | core1_0.MemoryPropertyHostCoherent,
		mandatory: true,
	},
	IntentUpload: {
		required:     core1_0.MemoryPropertyHostVisible,
		preferred:    core1_0.MemoryPropertyHostCoherent,
		notPreferred: core1_0.MemoryPropertyHostCached | core1_0.MemoryPropertyDeviceLocal,
		mandatory:    true,
	},
	IntentDynamic: {
		required:     core1_0.MemoryPropertyHostVisible | core1_0.MemoryPropertyDeviceLocal,
		preferred:    core1_0.MemoryPropertyHostCoherent,
		notPreferred: core1_0.MemoryPropertyHostCached,
		fallback:     IntentUpload,
	},
	IntentTransient: {
		required:  core1_0.MemoryPropertyLazilyAllocated,
		preferred: core1_0.MemoryPropertyDeviceLocal,
		fallback:  IntentDeviceLocal,
	},
}

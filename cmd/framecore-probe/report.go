package main

import (
	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/core/v2/core1_0"
	"github.com/vkngwrapper/framecore/heap"
)

// reportDevices classifies every device's memory types and renders the result as JSON
func reportDevices(physicalDevices []core1_0.PhysicalDevice) (string, error) {
	writer := jwriter.NewWriter()
	devicesArray := writer.Array()

	for _, physicalDevice := range physicalDevices {
		properties, err := physicalDevice.Properties()
		if err != nil {
			return "", errors.Wrap(err, "failed to read physical device properties")
		}

		deviceObj := devicesArray.Object()
		deviceObj.Name("Driver").String(properties.DriverName)
		deviceObj.Name("Type").String(properties.DriverType.String())
		deviceObj.Name("APIVersion").String(properties.APIVersion.String())

		memoryProperties := physicalDevice.MemoryProperties()
		heapsArray := deviceObj.Name("Heaps").Array()
		for heapIndex, memoryHeap := range memoryProperties.MemoryHeaps {
			heapObj := heapsArray.Object()
			heapObj.Name("Index").Int(heapIndex)
			heapObj.Name("Size").Int(memoryHeap.Size)
			heapObj.Name("Flags").String(memoryHeap.Flags.String())
			heapObj.End()
		}
		heapsArray.End()

		selection, err := heap.Classify(memoryProperties)
		if err != nil {
			deviceObj.Name("Error").String(err.Error())
			deviceObj.End()
			continue
		}

		intentsObj := deviceObj.Name("Intents").Object()
		for _, intent := range heap.Intents() {
			choice := selection.Choice(intent)

			choiceObj := intentsObj.Name(intent.String()).Object()
			choiceObj.Name("MemoryTypeIndex").Int(choice.MemoryTypeIndex)
			choiceObj.Name("HeapIndex").Int(choice.HeapIndex)
			choiceObj.Name("Flags").String(choice.PropertyFlags.String())
			choiceObj.Name("Fallback").Bool(choice.Fallback)
			choiceObj.End()
		}
		intentsObj.End()

		deviceObj.End()
	}

	devicesArray.End()
	return string(writer.Bytes()), nil
}

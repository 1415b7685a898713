package bindless

import (
	"fmt"

	"github.com/vkngwrapper/core/v2/core1_0"
)

// Class is one of the table's binding arrays. A class's ordinal is also its binding number in the
// descriptor set, so shaders declare the arrays in this order.
type Class int32

const (
	ClassSampler Class = iota
	ClassStorageImage
	ClassStorageBuffer
	ClassUniformTexelBuffer
	ClassStorageTexelBuffer

	classCount = 5
)

var classMapping = map[Class]string{
	ClassSampler:            "ClassSampler",
	ClassStorageImage:       "ClassStorageImage",
	ClassStorageBuffer:      "ClassStorageBuffer",
	ClassUniformTexelBuffer: "ClassUniformTexelBuffer",
	ClassStorageTexelBuffer: "ClassStorageTexelBuffer",
}

func (c Class) String() string {
	str, ok := classMapping[c]
	if !ok {
		return fmt.Sprintf("Class(%d)", int32(c))
	}
	return str
}

// Classes returns every class in binding order
func Classes() []Class {
	return []Class{ClassSampler, ClassStorageImage, ClassStorageBuffer, ClassUniformTexelBuffer, ClassStorageTexelBuffer}
}

var classDescriptorTypes = [classCount]core1_0.DescriptorType{
	ClassSampler:            core1_0.DescriptorTypeCombinedImageSampler,
	ClassStorageImage:       core1_0.DescriptorTypeStorageImage,
	ClassStorageBuffer:      core1_0.DescriptorTypeStorageBuffer,
	ClassUniformTexelBuffer: core1_0.DescriptorTypeUniformTexelBuffer,
	ClassStorageTexelBuffer: core1_0.DescriptorTypeStorageTexelBuffer,
}

// DescriptorType returns the descriptor type stored in the class's array
func (c Class) DescriptorType() core1_0.DescriptorType {
	return classDescriptorTypes[c]
}

func (c Class) valid() bool {
	return c >= 0 && c < classCount
}

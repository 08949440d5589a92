package model

import "fmt"

// ResourceIdentifier identifies a resource within one process. Zero means unset.
type ResourceIdentifier uint64

// ResourceType is the driver-level kind of a resource.
type ResourceType int

const (
	ResourceTypeUnknown ResourceType = iota
	ResourceTypeImage
	ResourceTypeBuffer
	ResourceTypeGPUEvent
	ResourceTypeBorderColorPalette
	ResourceTypeIndirectCmdGenerator
	ResourceTypeMotionEstimator
	ResourceTypePerfExperiment
	ResourceTypeQueryHeap
	ResourceTypeVideoDecoder
	ResourceTypeVideoEncoder
	ResourceTypeTimestamp
	ResourceTypeHeap
	ResourceTypePipeline
	ResourceTypeDescriptorHeap
	ResourceTypeDescriptorPool
	ResourceTypeCommandAllocator
	ResourceTypeMiscInternal
)

var resourceTypeNames = map[ResourceType]string{
	ResourceTypeUnknown:              "unknown",
	ResourceTypeImage:                "image",
	ResourceTypeBuffer:               "buffer",
	ResourceTypeGPUEvent:             "gpu_event",
	ResourceTypeBorderColorPalette:   "border_color_palette",
	ResourceTypeIndirectCmdGenerator: "indirect_cmd_generator",
	ResourceTypeMotionEstimator:      "motion_estimator",
	ResourceTypePerfExperiment:       "perf_experiment",
	ResourceTypeQueryHeap:            "query_heap",
	ResourceTypeVideoDecoder:         "video_decoder",
	ResourceTypeVideoEncoder:         "video_encoder",
	ResourceTypeTimestamp:            "timestamp",
	ResourceTypeHeap:                 "heap",
	ResourceTypePipeline:             "pipeline",
	ResourceTypeDescriptorHeap:       "descriptor_heap",
	ResourceTypeDescriptorPool:       "descriptor_pool",
	ResourceTypeCommandAllocator:     "command_allocator",
	ResourceTypeMiscInternal:         "misc_internal",
}

func (t ResourceType) String() string {
	if name, ok := resourceTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("resource_type(%d)", int(t))
}

// ParseResourceType maps a resource type name back to its type.
func ParseResourceType(s string) (ResourceType, error) {
	for t, name := range resourceTypeNames {
		if name == s {
			return t, nil
		}
	}
	return ResourceTypeUnknown, fmt.Errorf("unknown resource type %q", s)
}

func (t ResourceType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *ResourceType) UnmarshalText(b []byte) error {
	v, err := ParseResourceType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// UsageFlags are the creation-time usage bits that refine a resource's usage type.
type UsageFlags uint32

const (
	UsageFlagRenderTarget UsageFlags = 1 << iota
	UsageFlagDepthStencil
	UsageFlagShaderWrite
	UsageFlagVertexBuffer
	UsageFlagIndexBuffer
)

var usageFlagNames = []struct {
	flag UsageFlags
	name string
}{
	{UsageFlagRenderTarget, "render_target"},
	{UsageFlagDepthStencil, "depth_stencil"},
	{UsageFlagShaderWrite, "shader_write"},
	{UsageFlagVertexBuffer, "vertex_buffer"},
	{UsageFlagIndexBuffer, "index_buffer"},
}

// ParseUsageFlag maps a flag name to its bit.
func ParseUsageFlag(s string) (UsageFlags, error) {
	for _, f := range usageFlagNames {
		if f.name == s {
			return f.flag, nil
		}
	}
	return 0, fmt.Errorf("unknown usage flag %q", s)
}

// UsageType is the accounting category a resource's memory is attributed to.
type UsageType int

const (
	UsageDepthStencil UsageType = iota
	UsageRenderTarget
	UsageTexture
	UsageVertexBuffer
	UsageIndexBuffer
	UsageUAV
	UsageShaderPipeline
	UsageCommandBuffer
	UsageHeap
	UsageDescriptors
	UsageBuffer
	UsageGPUEvent
	UsageInternal

	// UsageCount is the number of usage categories.
	UsageCount
)

var usageNames = [UsageCount]string{
	"depth_stencil",
	"render_target",
	"texture",
	"vertex_buffer",
	"index_buffer",
	"uav",
	"shader_pipeline",
	"command_buffer",
	"heap",
	"descriptors",
	"buffer",
	"gpu_event",
	"internal",
}

func (u UsageType) String() string {
	if u >= 0 && u < UsageCount {
		return usageNames[u]
	}
	return fmt.Sprintf("usage(%d)", int(u))
}

func (u UsageType) MarshalText() ([]byte, error) {
	return []byte(u.String()), nil
}

// UsageFor derives the usage category of a resource.
func UsageFor(t ResourceType, flags UsageFlags) UsageType {
	switch t {
	case ResourceTypeImage:
		switch {
		case flags&UsageFlagDepthStencil != 0:
			return UsageDepthStencil
		case flags&UsageFlagRenderTarget != 0:
			return UsageRenderTarget
		case flags&UsageFlagShaderWrite != 0:
			return UsageUAV
		}
		return UsageTexture
	case ResourceTypeBuffer:
		switch {
		case flags&UsageFlagVertexBuffer != 0:
			return UsageVertexBuffer
		case flags&UsageFlagIndexBuffer != 0:
			return UsageIndexBuffer
		case flags&UsageFlagShaderWrite != 0:
			return UsageUAV
		}
		return UsageBuffer
	case ResourceTypeGPUEvent:
		return UsageGPUEvent
	case ResourceTypePipeline:
		return UsageShaderPipeline
	case ResourceTypeDescriptorHeap, ResourceTypeDescriptorPool:
		return UsageDescriptors
	case ResourceTypeCommandAllocator:
		return UsageCommandBuffer
	case ResourceTypeHeap:
		return UsageHeap
	default:
		return UsageInternal
	}
}

package detections

import "time"

const (
	// DefaultInputSize is used when the model declares dynamic spatial dims.
	DefaultInputSize     = 640
	DefaultConfThreshold = 0.25
	DefaultIouThreshold  = 0.7
	DefaultMaxDetections = 300

	// DefaultMaxImagePixels keeps a decoded NRGBA image around 200 MB.
	DefaultMaxImagePixels = 50_000_000

	// PadValue is the gray level of letterbox borders.
	PadValue = 114

	// NamesMetadataKey is the custom metadata entry holding the class table.
	NamesMetadataKey = "names"

	DefaultPoolSize   = 4
	AcquireTimeout    = 5 * time.Second
	HealthCheckPeriod = 60 * time.Second
)

// boxChannels is the number of leading output rows holding cx, cy, w, h.
const boxChannels = 4

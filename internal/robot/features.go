package robot

// Bookkeeping channels added to every recorded frame.
const (
	TimestampKey    = "timestamp"
	FrameIndexKey   = "frame_index"
	EpisodeIndexKey = "episode_index"
	IndexKey        = "index"
	TaskIndexKey    = "task_index"
)

// DefaultFeatures returns the bookkeeping features every dataset carries.
func DefaultFeatures() Features {
	return Features{
		TimestampKey:    {DType: "float32", Shape: []int{1}},
		FrameIndexKey:   {DType: "int64", Shape: []int{1}},
		EpisodeIndexKey: {DType: "int64", Shape: []int{1}},
		IndexKey:        {DType: "int64", Shape: []int{1}},
		TaskIndexKey:    {DType: "int64", Shape: []int{1}},
	}
}

// SchemaOf describes what a recording of dev at fps must look like. Camera
// channels are stored as "video" when useVideos is set and as "image"
// otherwise.
func SchemaOf(dev Device, fps int, useVideos bool) Schema {
	features := dev.Features().Clone()
	for name, f := range features {
		if f.DType == "image" || f.DType == "video" {
			if useVideos {
				f.DType = "video"
			} else {
				f.DType = "image"
			}
			features[name] = f
		}
	}
	for name, f := range DefaultFeatures() {
		features[name] = f
	}
	return Schema{
		Type:     dev.Type(),
		FPS:      fps,
		Features: features,
	}
}

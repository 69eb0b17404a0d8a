package viewer

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"maps"
	"slices"
	"sync"

	"github.com/emer/etable/etensor"
)

// frame is the latest image of one camera.
type frame struct {
	seq    uint64
	width  int
	height int
	chans  int
	pixels []uint8
}

// frameStore keeps only the newest frame per camera. Every put stores a
// fresh pixel slice, so readers may use a frame after the lock is
// released.
type frameStore struct {
	mu     sync.Mutex
	seq    uint64
	frames map[string]frame
}

func newFrameStore() *frameStore {
	return &frameStore{frames: make(map[string]frame)}
}

func (s *frameStore) put(name string, img *etensor.Uint8) error {
	shape := img.Shapes()
	if len(shape) != 3 || (shape[2] != 1 && shape[2] != 3) {
		return fmt.Errorf("camera %s: unsupported image shape %v", name, shape)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	s.frames[name] = frame{
		seq:    s.seq,
		height: shape[0],
		width:  shape[1],
		chans:  shape[2],
		pixels: slices.Clone(img.Values),
	}
	return nil
}

func (s *frameStore) get(name string) (frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.frames[name]
	return f, ok
}

func (s *frameStore) names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Sorted(maps.Keys(s.frames))
}

// newer returns the cameras whose frame is newer than the sequence number
// recorded in seen, sorted by name.
func (s *frameStore) newer(seen map[string]uint64) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for name, f := range s.frames {
		if f.seq > seen[name] {
			out = append(out, name)
		}
	}
	slices.Sort(out)
	return out
}

func (s *frameStore) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.frames)
}

// encodeJPEG converts a frame to JPEG.
func encodeJPEG(f frame, quality int) ([]byte, error) {
	var img image.Image
	switch f.chans {
	case 1:
		gray := image.NewGray(image.Rect(0, 0, f.width, f.height))
		copy(gray.Pix, f.pixels)
		img = gray
	default:
		rgba := image.NewRGBA(image.Rect(0, 0, f.width, f.height))
		for i := 0; i < f.width*f.height; i++ {
			rgba.Pix[i*4+0] = f.pixels[i*3+0]
			rgba.Pix[i*4+1] = f.pixels[i*3+1]
			rgba.Pix[i*4+2] = f.pixels[i*3+2]
			rgba.Pix[i*4+3] = 255
		}
		img = rgba
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("JPEG encode failed: %w", err)
	}
	return buf.Bytes(), nil
}

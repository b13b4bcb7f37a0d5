package notes

import "strconv"

// Scheme names an interchangeable note-to-sample mapping. The primary scheme
// plays one file per note; the alternate scheme cuts fixed-length segments
// out of shared sprite files.
type Scheme string

const (
	SchemePrimary   Scheme = "primary"
	SchemeAlternate Scheme = "alternate"
)

// SampleRef describes where a note's sample lives: a file path plus an
// intra-file start offset and duration in seconds. Offset and Duration are
// zero for whole-file playback.
type SampleRef struct {
	Path     string
	Offset   float64
	Duration float64
}

const (
	spriteFile       = "audio/sprite/keys.mp3"
	spriteSlotLen    = 1.5 // seconds reserved per note inside the sprite
	spriteSegmentLen = 1.2 // audible portion of each slot
)

// Sample resolves the sample descriptor for a note under the given scheme.
// Returns false for unknown note identifiers or schemes.
func Sample(s Scheme, id string) (SampleRef, bool) {
	n, ok := Lookup(id)
	if !ok {
		return SampleRef{}, false
	}
	switch s {
	case SchemePrimary:
		return SampleRef{Path: "audio/notes/" + n.ID + ".mp3"}, true
	case SchemeAlternate:
		return SampleRef{
			Path:     spriteFile,
			Offset:   float64(n.Index) * spriteSlotLen,
			Duration: spriteSegmentLen,
		}, true
	default:
		return SampleRef{}, false
	}
}

// SchemeManifest lists every asset path a scheme can reference, in note
// order. Used to seed the asset cache ahead of first playback.
func SchemeManifest(s Scheme) []string {
	switch s {
	case SchemePrimary:
		out := make([]string, 0, Count)
		for i := 1; i <= Count; i++ {
			out = append(out, "audio/notes/"+strconv.Itoa(i)+".mp3")
		}
		return out
	case SchemeAlternate:
		return []string{spriteFile}
	default:
		return nil
	}
}

// ParseScheme validates a scheme name from config or flags.
func ParseScheme(name string) (Scheme, bool) {
	switch Scheme(name) {
	case SchemePrimary:
		return SchemePrimary, true
	case SchemeAlternate:
		return SchemeAlternate, true
	default:
		return "", false
	}
}

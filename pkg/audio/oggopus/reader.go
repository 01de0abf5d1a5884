package oggopus

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/pion/webrtc/v4/pkg/media/oggreader"
	"layeh.com/gopus"

	"github.com/MrWong99/talkback/pkg/audio"
)

// ErrCorrupt is returned when a stream is not a well-formed Ogg/Opus stream.
var ErrCorrupt = errors.New("oggopus: corrupt stream")

// Decoded is a fully decoded stream.
type Decoded struct {
	// Samples holds interleaved float32 PCM in [-1.0, 1.0).
	Samples []float32

	// Format is the decode format: the original input rate when Opus can
	// code it directly, otherwise 48 kHz.
	Format audio.Format
}

// Duration returns the length of the decoded audio.
func (d *Decoded) Duration() time.Duration {
	if d.Format.SampleRate <= 0 || d.Format.Channels <= 0 {
		return 0
	}
	frames := len(d.Samples) / d.Format.Channels
	return time.Duration(frames) * time.Second / time.Duration(d.Format.SampleRate)
}

// Mono returns the samples downmixed to a single channel.
func (d *Decoded) Mono() []float32 {
	return audio.DownmixFloat32(d.Samples, d.Format.Channels)
}

// Decode parses and decodes a complete Ogg/Opus stream with one packet per
// page, as [Writer] produces. Page checksums are verified.
func Decode(data []byte) (*Decoded, error) {
	r, head, err := oggreader.NewWith(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}

	channels := int(head.Channels)
	skip := int64(head.PreSkip)
	format := audio.Format{SampleRate: int(head.SampleRate), Channels: channels}
	if !validFormat(format) {
		format.SampleRate = granuleRate
	}
	if !validFormat(format) {
		return nil, fmt.Errorf("%w: %d channels", ErrUnsupportedFormat, channels)
	}

	dec, err := gopus.NewDecoder(format.SampleRate, format.Channels)
	if err != nil {
		return nil, fmt.Errorf("oggopus: new decoder: %w", err)
	}

	// 120 ms is the longest Opus packet.
	maxFrame := format.SampleRate * 120 / 1000
	var (
		pcm     []int16
		granule int64
		tags    bool
	)
	for {
		pkt, page, err := r.ParseNextPage()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
		}
		if !tags {
			if !bytes.HasPrefix(pkt, []byte("OpusTags")) {
				return nil, fmt.Errorf("%w: missing OpusTags", ErrCorrupt)
			}
			tags = true
			continue
		}
		granule = int64(page.GranulePosition)
		if len(pkt) == 0 {
			continue
		}
		out, err := dec.Decode(pkt, maxFrame, false)
		if err != nil {
			return nil, fmt.Errorf("oggopus: decode packet: %w", err)
		}
		pcm = append(pcm, out...)
	}
	if !tags {
		return nil, fmt.Errorf("%w: missing OpusTags", ErrCorrupt)
	}

	toRate := func(g int64) int { return int(g * int64(format.SampleRate) / granuleRate) }
	start := min(toRate(skip)*channels, len(pcm))
	end := len(pcm)
	if granule > 0 {
		end = min(end, toRate(max(granule, skip))*channels)
	}

	return &Decoded{
		Samples: audio.Int16ToFloat32(nil, pcm[start:end]),
		Format:  format,
	}, nil
}

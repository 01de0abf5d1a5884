// Package oggopus records PCM into an Ogg/Opus stream and decodes such streams
// back into float32 samples.
//
// It is the compressed-audio recorder behind captured segments: the capture
// path feeds float32 blocks into a [Writer] backed by an in-memory buffer and
// ends up with a self-contained blob that speech-to-text APIs accept as
// audio/ogg. Opus coding is done by libopus through layeh.com/gopus and the
// RFC 7845 pages by pion's oggwriter and oggreader.
package oggopus

import (
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
	"layeh.com/gopus"

	"github.com/MrWong99/talkback/pkg/audio"
)

const (
	// granuleRate is the clock of Ogg/Opus granule positions and Opus RTP
	// timestamps regardless of the coded sample rate.
	granuleRate = 48000

	// containerPreSkip is the pre-skip oggwriter puts in OpusHead.
	containerPreSkip = 3840

	// encoderDelay is the libopus encoder lookahead at 48 kHz.
	encoderDelay = 312

	maxPacketBytes = 4000

	// opusPayloadType is the dynamic RTP payload type browsers use for Opus.
	opusPayloadType = 111
)

// ErrUnsupportedFormat is returned for sample rates or channel counts that
// Opus cannot code.
var ErrUnsupportedFormat = errors.New("oggopus: unsupported format")

// DefaultBitrate is the target bitrate in bits per second.
const DefaultBitrate = 64000

func validFormat(f audio.Format) bool {
	switch f.SampleRate {
	case 8000, 12000, 16000, 24000, 48000:
	default:
		return false
	}
	return f.Channels == 1 || f.Channels == 2
}

// Writer encodes PCM into an Ogg/Opus stream on an underlying io.Writer.
// Packets are 20 ms long; the final partial packet is zero-padded on Close and
// the end-of-stream granule tells decoders where the real audio ends.
//
// Writer is not safe for concurrent use.
type Writer struct {
	ogg    *oggwriter.OggWriter
	enc    *gopus.Encoder
	format audio.Format
	ssrc   uint32
	seq    uint16

	frameSize int // samples per channel per packet
	pending   []int16
	scratch   []int16

	written int64 // samples per channel accepted
	coded   int64 // samples per channel in emitted packets, lead-in and padding included

	last   []byte
	lastTS uint32
	closed bool
}

// streamOnly hides Close so oggwriter never closes the caller's writer.
type streamOnly struct{ io.Writer }

// WriterOption configures a [Writer].
type WriterOption func(*writerConfig)

type writerConfig struct {
	bitrate int
}

// WithBitrate sets the Opus target bitrate in bits per second.
func WithBitrate(bps int) WriterOption {
	return func(c *writerConfig) {
		if bps > 0 {
			c.bitrate = bps
		}
	}
}

// NewWriter writes the Ogg/Opus identification and comment headers to out and
// returns a Writer for PCM in format f.
func NewWriter(out io.Writer, f audio.Format, opts ...WriterOption) (*Writer, error) {
	if !validFormat(f) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, f)
	}
	cfg := writerConfig{bitrate: DefaultBitrate}
	for _, o := range opts {
		o(&cfg)
	}

	enc, err := gopus.NewEncoder(f.SampleRate, f.Channels, gopus.Voip)
	if err != nil {
		return nil, fmt.Errorf("oggopus: new encoder: %w", err)
	}
	enc.SetBitrate(cfg.bitrate)

	ogg, err := oggwriter.NewWith(streamOnly{out}, uint32(f.SampleRate), uint16(f.Channels))
	if err != nil {
		return nil, fmt.Errorf("oggopus: write headers: %w", err)
	}

	w := &Writer{
		ogg:       ogg,
		enc:       enc,
		format:    f,
		ssrc:      rand.Uint32(),
		frameSize: f.SampleRate / 50,
	}
	// Decoders drop containerPreSkip samples; silence in front of the
	// encoder delay makes that exactly the lead-in.
	lead := (containerPreSkip - encoderDelay) * f.SampleRate / granuleRate * f.Channels
	w.pending = make([]int16, lead)
	return w, nil
}

// Format returns the PCM format the writer was created with.
func (w *Writer) Format() audio.Format { return w.format }

// Duration returns the length of audio accepted so far.
func (w *Writer) Duration() time.Duration {
	return time.Duration(w.written) * time.Second / time.Duration(w.format.SampleRate)
}

// Write encodes interleaved float32 samples. Complete packets are written to
// the underlying writer; the remainder is buffered.
func (w *Writer) Write(samples []float32) error {
	if w.closed {
		return errors.New("oggopus: write after close")
	}
	w.scratch = audio.Float32ToInt16(w.scratch, samples)
	w.pending = append(w.pending, w.scratch...)
	w.written += int64(len(samples) / w.format.Channels)

	step := w.frameSize * w.format.Channels
	for len(w.pending) >= step {
		if err := w.encode(w.pending[:step]); err != nil {
			return err
		}
		w.pending = w.pending[step:]
	}
	// Compact so the buffer does not grow for the life of the stream.
	if cap(w.pending) > 4*step {
		w.pending = append([]int16(nil), w.pending...)
	}
	return nil
}

// Close flushes the final, zero-padded packet. Its RTP timestamp places the
// last granule position at the end of the real audio. It does not close the
// underlying writer. Calling Close more than once is safe.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	// Pad by the encoder lookahead so the tail survives, then flush in
	// whole packets.
	lookahead := encoderDelay * w.format.SampleRate / granuleRate * w.format.Channels
	w.pending = append(w.pending, make([]int16, lookahead)...)
	step := w.frameSize * w.format.Channels
	for len(w.pending) > 0 {
		frame := make([]int16, step)
		n := copy(frame, w.pending)
		w.pending = w.pending[n:]
		if err := w.encode(frame); err != nil {
			return err
		}
	}

	if w.last != nil {
		// oggwriter starts the granule at 1 and advances it by the
		// timestamp delta, so this lands the last page on end.
		end := containerPreSkip + w.written*granuleRate/int64(w.format.SampleRate)
		if err := w.writePacket(w.last, uint32(end-1)); err != nil {
			return err
		}
	}
	if err := w.ogg.Close(); err != nil {
		return fmt.Errorf("oggopus: close: %w", err)
	}
	return nil
}

// encode codes one full packet and emits the previous one. Holding back a
// single packet lets Close give the last page the true end position.
func (w *Writer) encode(frame []int16) error {
	pkt, err := w.enc.Encode(frame, w.frameSize, maxPacketBytes)
	if err != nil {
		return fmt.Errorf("oggopus: encode: %w", err)
	}
	if w.last != nil {
		if err := w.writePacket(w.last, w.lastTS); err != nil {
			return err
		}
	}
	w.last = pkt
	w.lastTS = uint32(w.coded * granuleRate / int64(w.format.SampleRate))
	w.coded += int64(w.frameSize)
	return nil
}

// writePacket hands one Opus packet to oggwriter as an RTP packet stamped at
// ts on the 48 kHz clock.
func (w *Writer) writePacket(pkt []byte, ts uint32) error {
	err := w.ogg.WriteRTP(&rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    opusPayloadType,
			SequenceNumber: w.seq,
			Timestamp:      ts,
			SSRC:           w.ssrc,
		},
		Payload: pkt,
	})
	w.seq++
	if err != nil {
		return fmt.Errorf("oggopus: write page: %w", err)
	}
	return nil
}

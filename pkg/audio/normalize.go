package audio

import (
	"bytes"
	"encoding/binary"
	"math"
)

// DownmixMono averages interleaved 16-bit PCM channels into a single mono
// channel. channels <= 1 returns pcm unchanged. Trailing bytes that do not
// form a complete frame are dropped.
func DownmixMono(pcm []byte, channels int) []byte {
	if channels <= 1 {
		return pcm
	}
	frameBytes := 2 * channels
	frames := len(pcm) / frameBytes
	out := make([]byte, frames*2)
	for i := range frames {
		var sum int32
		for ch := range channels {
			off := i*frameBytes + ch*2
			sum += int32(int16(binary.LittleEndian.Uint16(pcm[off : off+2])))
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(sum/int32(channels))))
	}
	return out
}

// Resampler converts a stream of 16-bit mono PCM chunks between sample rates
// using linear interpolation. The read position and the last input sample are
// carried across chunks, so splitting the input differently yields the same
// output. The output lags the input by at most one sample. The zero value is
// not usable; create one with [NewResampler].
type Resampler struct {
	ratio float64 // input samples per output sample
	pos   float64 // next output position, relative to the current chunk
	last  float64 // final sample of the previous chunk, at position -1
}

// NewResampler returns a resampler from srcRate to dstRate, or nil when the
// rates are invalid or equal.
func NewResampler(srcRate, dstRate int) *Resampler {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate {
		return nil
	}
	return &Resampler{ratio: float64(srcRate) / float64(dstRate)}
}

// Process resamples one chunk. A nil Resampler returns pcm unchanged. A
// trailing odd byte is ignored.
func (r *Resampler) Process(pcm []byte) []byte {
	if r == nil {
		return pcm
	}
	n := len(pcm) / 2
	if n == 0 {
		return nil
	}
	sample := func(i int) float64 {
		if i < 0 {
			return r.last
		}
		return float64(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}

	out := make([]byte, 0, 2*(int(float64(n)/r.ratio)+1))
	for {
		idx := int(math.Floor(r.pos))
		if idx+1 >= n {
			break
		}
		frac := r.pos - float64(idx)
		v := sample(idx)*(1-frac) + sample(idx+1)*frac
		out = binary.LittleEndian.AppendUint16(out, uint16(int16(math.Round(v))))
		r.pos += r.ratio
	}
	r.last = sample(n - 1)
	r.pos -= float64(n)
	return out
}

// Normalizer converts PCM frames from a stream's native layout to mono at a
// target sample rate. Bytes that do not complete a sample frame are held back
// and prepended to the next frame. Create one per stream; it is not safe for
// concurrent use.
type Normalizer struct {
	From       Format
	TargetRate int

	carry     []byte
	resampler *Resampler
	init      bool
}

// Target returns the format produced by Normalize.
func (n *Normalizer) Target() Format {
	rate := n.TargetRate
	if rate <= 0 {
		rate = n.From.SampleRate
	}
	return Format{ContentType: ContentTypePCM, SampleRate: rate, Channels: 1}
}

// Normalize converts one frame of PCM. It returns nil when the frame, together
// with any held-back bytes, does not yet complete an output sample.
func (n *Normalizer) Normalize(pcm []byte) []byte {
	if !n.init {
		n.init = true
		if n.TargetRate > 0 {
			n.resampler = NewResampler(n.From.SampleRate, n.TargetRate)
		}
	}
	channels := max(n.From.Channels, 1)
	frameBytes := 2 * channels

	if len(n.carry) > 0 {
		pcm = append(n.carry, pcm...)
		n.carry = nil
	}
	if rem := len(pcm) % frameBytes; rem != 0 {
		n.carry = bytes.Clone(pcm[len(pcm)-rem:])
		pcm = pcm[:len(pcm)-rem]
	}
	if len(pcm) == 0 {
		return nil
	}
	out := n.resampler.Process(DownmixMono(pcm, channels))
	if len(out) == 0 {
		return nil
	}
	return out
}

// normalizedStream wraps a PCM [Stream] and republishes its frames through a
// [Normalizer].
type normalizedStream struct {
	inner  Stream
	format Format
	frames chan AudioFrame
}

// NormalizeStream returns a [Stream] that yields mono PCM at targetRate. Non-PCM
// streams and streams already in the target layout are returned unchanged.
// Closing the returned stream closes s.
func NormalizeStream(s Stream, targetRate int) Stream {
	from := s.Format()
	if !from.IsPCM() {
		return s
	}
	if from.Channels <= 1 && (targetRate <= 0 || from.SampleRate == targetRate) {
		return s
	}
	n := &Normalizer{From: from, TargetRate: targetRate}
	ns := &normalizedStream{
		inner:  s,
		format: n.Target(),
		frames: make(chan AudioFrame, cap(s.Frames())),
	}
	go func() {
		defer close(ns.frames)
		for f := range s.Frames() {
			data := n.Normalize(f.Data)
			if len(data) == 0 {
				continue
			}
			ns.frames <- AudioFrame{Data: data, Timestamp: f.Timestamp}
		}
	}()
	return ns
}

func (s *normalizedStream) Frames() <-chan AudioFrame { return s.frames }
func (s *normalizedStream) Format() Format            { return s.format }
func (s *normalizedStream) Close() error              { return s.inner.Close() }

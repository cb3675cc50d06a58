package encoder

import (
	"fmt"
	"math"
	"strings"

	"github.com/theodorecharles/compressor/internal/settings"
)

// Metadata is the subset of probed stream info the plan builder needs. It is
// populated from the re-probe of the scratch copy (§4.5 pipeline step b),
// not from the original discovery-time probe.
type Metadata struct {
	Width   int
	Height  int
	IsHDR   bool
	Is4K    bool
	Bitrate *int64 // bits per second, nil if the source has no usable bitrate
}

// BuildPlan constructs the ffmpeg argument list for one transcode attempt.
// It is a pure function of (meta, es, hwDecode, input, output): the same
// inputs always produce the same invocation (§4.5 "the plan is a pure
// function of inputs").
func BuildPlan(meta Metadata, es settings.EncodingSettings, hwDecode bool, input, output string) []string {
	args := []string{"-y", "-hide_banner", "-loglevel", "info"}

	downscaling := meta.Is4K && es.Scale4KTo1080p

	if hwDecode {
		args = append(args, "-hwaccel", "cuda", "-hwaccel_output_format", "cuda")
	}

	args = append(args, "-i", input)

	if vf := buildVideoFilter(meta, downscaling, hwDecode); vf != "" {
		args = append(args, "-vf", vf)
	}

	args = append(args, "-map", "0")

	args = append(args, "-c:v", "hevc_nvenc", "-preset", es.NVENCPreset)
	args = append(args, bitrateArgs(meta, es, downscaling)...)

	args = append(args, "-c:a", "copy", "-c:s", "copy")
	args = append(args, "-f", "matroska", output)

	return args
}

// buildVideoFilter composes the downscale and HDR tonemap filter chain
// (§4.5 transcode plan table), in the documented order: downscale first,
// then tonemap, with a GPU download prepended to the tonemap chain only
// when hardware decode is active and a downscale is also happening (the
// frame is already on the GPU in that case and must come back to host
// memory for the CPU-side zscale/tonemap filters).
func buildVideoFilter(meta Metadata, downscaling, hwDecode bool) string {
	var parts []string

	if downscaling {
		if hwDecode {
			parts = append(parts, "scale_cuda=-2:1080")
		} else {
			parts = append(parts, "scale=-2:1080")
		}
	}

	if meta.IsHDR {
		if hwDecode && downscaling {
			parts = append(parts, "hwdownload", "format=nv12")
		}
		parts = append(parts,
			"zscale=transfer=linear",
			"format=gbrpf32le",
			"zscale=primaries=bt709",
			"tonemap=hable:desat=0",
			"zscale=transfer=bt709:matrix=bt709:range=tv",
			"format=yuv420p",
		)
	}

	return strings.Join(parts, ",")
}

// bitrateArgs implements §4.5's bitrate-present / bitrate-absent branch.
func bitrateArgs(meta Metadata, es settings.EncodingSettings, downscaling bool) []string {
	if meta.Bitrate == nil || *meta.Bitrate <= 0 {
		return []string{
			"-rc", "vbr",
			"-cq", fmt.Sprintf("%d", es.CRFFallback),
			"-maxrate", mbpsToBPS(es.MaxBitrateFallback),
			"-bufsize", mbpsToBPS(es.BufSizeFallback),
		}
	}

	target := int64(math.Floor(float64(*meta.Bitrate) * es.BitrateFactor))
	capBPS := resolutionCapBPS(meta, es, downscaling)
	if target > capBPS {
		target = capBPS
	}
	return []string{"-b:v", fmt.Sprintf("%d", target)}
}

// resolutionCapBPS resolves the bitrate cap (in bits/sec) for the
// effective output resolution, treating a downscaled 4K source as 1080p
// for cap purposes as the spec requires.
func resolutionCapBPS(meta Metadata, es settings.EncodingSettings, downscaling bool) int64 {
	height := meta.Height
	if downscaling {
		height = 1080
	}
	switch {
	case height >= 1080:
		return mbpsToBPSInt(es.BitrateCap1080p)
	case height <= 720:
		return mbpsToBPSInt(es.BitrateCap720p)
	default:
		return mbpsToBPSInt(es.BitrateCapOther)
	}
}

func mbpsToBPSInt(mbps float64) int64 {
	return int64(mbps * 1_000_000)
}

func mbpsToBPS(mbps float64) string {
	return fmt.Sprintf("%d", mbpsToBPSInt(mbps))
}

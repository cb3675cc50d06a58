// Package probe wraps the ffprobe binary to extract the stream metadata the
// classifier and transcode planner need.
package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"os/exec"
	"strconv"
	"strings"

	"golang.org/x/time/rate"

	"github.com/theodorecharles/compressor/internal/apperr"
)

// DefaultProbeRate bounds how many ffprobe processes may be spawned per
// second, so a burst of discovery/classification work (scanner fan-out,
// watcher debounce) can't fork-bomb the host.
const DefaultProbeRate = 8

// Info is the result of probing a media file, per §4.2.
type Info struct {
	Codec    string
	Bitrate  *int64
	FileSize int64
	Width    int
	Height   int
	IsHDR    bool
	Duration float64
	IsHEVC   bool
	Is4K     bool
}

// Prober probes a filesystem path for stream metadata.
type Prober interface {
	Probe(ctx context.Context, path string) (*Info, error)
}

// FFProbe shells out to the ffprobe binary.
type FFProbe struct {
	BinaryPath string
	Limiter    *rate.Limiter // paces process spawns; nil disables pacing
}

// NewFFProbe returns a prober using binaryPath (or "ffprobe" on PATH if
// empty), rate-limited to DefaultProbeRate spawns/sec.
func NewFFProbe(binaryPath string) *FFProbe {
	return &FFProbe{
		BinaryPath: strings.TrimSpace(binaryPath),
		Limiter:    rate.NewLimiter(rate.Limit(DefaultProbeRate), DefaultProbeRate),
	}
}

func (p *FFProbe) Probe(ctx context.Context, path string) (*Info, error) {
	bin := p.BinaryPath
	if bin == "" {
		bin = "ffprobe"
	}

	if p.Limiter != nil {
		if err := p.Limiter.Wait(ctx); err != nil {
			return nil, apperr.Wrap(apperr.ProbeFailed, "wait for probe rate limiter", err)
		}
	}

	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	}

	// #nosec G204 - binary path is operator-configured; path argument is an internally discovered file, not user input
	cmd := exec.CommandContext(ctx, bin, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		errStr := stderr.String()
		if len(errStr) > 4096 {
			errStr = errStr[:4096] + "..."
		}
		return nil, apperr.New(apperr.ProbeFailed, "ffprobe exited non-zero: "+errStr)
	}

	var data probeData
	if err := json.Unmarshal(out, &data); err != nil {
		return nil, apperr.Wrap(apperr.ProbeFailed, "decode ffprobe json", err)
	}

	return buildInfo(data)
}

type probeData struct {
	Streams []probeStream `json:"streams"`
	Format  probeFormat   `json:"format"`
}

type probeStream struct {
	CodecType     string          `json:"codec_type"`
	CodecName     string          `json:"codec_name"`
	Width         int             `json:"width,omitempty"`
	Height        int             `json:"height,omitempty"`
	BitRate       string          `json:"bit_rate,omitempty"`
	Duration      string          `json:"duration,omitempty"`
	ColorTransfer string          `json:"color_transfer,omitempty"`
	ColorPrimary  string          `json:"color_primaries,omitempty"`
	SideDataList  []probeSideData `json:"side_data_list,omitempty"`
}

type probeSideData struct {
	Type string `json:"side_data_type,omitempty"`
}

type probeFormat struct {
	Duration string `json:"duration,omitempty"`
	BitRate  string `json:"bit_rate,omitempty"`
	Size     string `json:"size,omitempty"`
}

func buildInfo(data probeData) (*Info, error) {
	var video *probeStream
	for i := range data.Streams {
		if data.Streams[i].CodecType == "video" {
			video = &data.Streams[i]
			break
		}
	}
	if video == nil {
		return nil, apperr.New(apperr.NoVideoStream, "no video stream present")
	}

	info := &Info{
		Codec:  video.CodecName,
		Width:  video.Width,
		Height: video.Height,
	}

	if video.BitRate != "" {
		if v, err := strconv.ParseInt(video.BitRate, 10, 64); err == nil {
			info.Bitrate = &v
		}
	} else if data.Format.BitRate != "" {
		if v, err := strconv.ParseInt(data.Format.BitRate, 10, 64); err == nil {
			info.Bitrate = &v
		}
	}

	if data.Format.Size != "" {
		if v, err := strconv.ParseInt(data.Format.Size, 10, 64); err == nil {
			info.FileSize = v
		}
	}

	if video.Duration != "" {
		if v, err := strconv.ParseFloat(video.Duration, 64); err == nil {
			info.Duration = v
		}
	} else if data.Format.Duration != "" {
		if v, err := strconv.ParseFloat(data.Format.Duration, 64); err == nil {
			info.Duration = v
		}
	}

	codec := strings.ToLower(video.CodecName)
	info.IsHEVC = codec == "hevc" || codec == "h265"
	info.Is4K = info.Width >= 3840 || info.Height >= 2160
	info.IsHDR = isHDR(*video)

	return info, nil
}

func isHDR(s probeStream) bool {
	transfer := strings.ToLower(s.ColorTransfer)
	switch transfer {
	case "smpte2084", "arib-std-b67", "smpte428":
		return true
	}
	if strings.ToLower(s.ColorPrimary) == "bt2020" {
		return true
	}
	for _, sd := range s.SideDataList {
		t := strings.ToLower(sd.Type)
		if strings.Contains(t, "hdr") || strings.Contains(t, "dolby vision") {
			return true
		}
	}
	return false
}

package encoder

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/theodorecharles/compressor/internal/apperr"
	"github.com/theodorecharles/compressor/internal/probe"
	"github.com/theodorecharles/compressor/internal/settings"
)

// TestEncodeResult reports the outcome of a one-off test encode.
type TestEncodeResult struct {
	OutputPath   string
	HWDecodeUsed bool
	OriginalSize int64
	OutputSize   int64
}

// TestEncode exercises the same plan-builder and transcode-run code as the
// real pipeline against path, writing into outDir, but skips the
// scratch-copy, store writes, and stats accounting of the real pipeline —
// it is a diagnostic operation (§6), not a classification or queue action.
func TestEncode(ctx context.Context, ffmpegBin string, prober probe.Prober, st *settings.Settings, path, outDir string) (*TestEncodeResult, error) {
	probed, err := prober.Probe(ctx, path)
	if err != nil {
		return nil, apperr.Wrap(apperr.ProbeFailed, "probe test encode input", err)
	}

	es, err := st.EncodingSettings(ctx)
	if err != nil {
		return nil, err
	}
	meta := Metadata{Width: probed.Width, Height: probed.Height, IsHDR: probed.IsHDR, Is4K: probed.Is4K, Bitrate: probed.Bitrate}

	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	outputPath := filepath.Join(outDir, stem+".test.mkv")

	w := &Worker{ffmpegBin: ffmpegBin}

	hwUsed := true
	args := BuildPlan(meta, es, true, path, outputPath)
	res := w.runFFmpeg(ctx, args, 0, probed.Duration)

	if res.err != nil && !res.cancelled {
		hwUsed = false
		args = BuildPlan(meta, es, false, path, outputPath)
		res = w.runFFmpeg(ctx, args, 0, probed.Duration)
	}

	if res.cancelled {
		return nil, apperr.New(apperr.Cancelled, "test encode cancelled")
	}
	if res.err != nil {
		return nil, apperr.Wrap(apperr.EncodeFailed, "test encode failed: "+strings.Join(res.tail, "\n"), res.err)
	}

	outInfo, err := os.Stat(outputPath)
	if err != nil {
		return nil, apperr.Wrap(apperr.IO, "stat test encode output", err)
	}

	var originalSize int64
	if srcInfo, err := os.Stat(path); err == nil {
		originalSize = srcInfo.Size()
	}

	return &TestEncodeResult{
		OutputPath:   outputPath,
		HWDecodeUsed: hwUsed,
		OriginalSize: originalSize,
		OutputSize:   outInfo.Size(),
	}, nil
}

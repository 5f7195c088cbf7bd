package media

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// MediaAsset describes a probed input. It is valid for one job only.
type MediaAsset struct {
	Path       string  `json:"path"`
	Duration   float64 `json:"durationSeconds"`
	IsVideo    bool    `json:"isVideo"`
	HasAudio   bool    `json:"hasAudio"`
	Width      int     `json:"width,omitempty"`
	Height     int     `json:"height,omitempty"`
	VideoCodec string  `json:"videoCodec,omitempty"` // ffprobe codec_name of the first video stream
	Size       int64   `json:"size"`
	BitRate    int64   `json:"bitRate,omitempty"`
}

// ffprobe -show_format -show_streams payload
type probeOutput struct {
	Streams []probeStream `json:"streams"`
	Format  probeFormat   `json:"format"`
}

type probeStream struct {
	CodecType   string            `json:"codec_type"`
	CodecName   string            `json:"codec_name"`
	Width       int               `json:"width"`
	Height      int               `json:"height"`
	Duration    string            `json:"duration"`
	Disposition map[string]int    `json:"disposition"`
	Tags        map[string]string `json:"tags"`
}

type probeFormat struct {
	Duration string `json:"duration"`
	Size     string `json:"size"`
	BitRate  string `json:"bit_rate"`
}

// Prober runs ffprobe
type Prober struct {
	ffprobePath string
	logger      *zap.Logger
}

// NewProber creates a prober. An empty path means "ffprobe" from PATH.
func NewProber(ffprobePath string, logger *zap.Logger) *Prober {
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &Prober{ffprobePath: ffprobePath, logger: logger}
}

// Probe inspects path and returns its duration, stream layout and dimensions
func (p *Prober) Probe(ctx context.Context, path string) (*MediaAsset, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
		}
		return nil, fmt.Errorf("%w: %v", ErrProbeFailure, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrFileNotFound, path)
	}

	cmd := exec.CommandContext(ctx, p.ffprobePath,
		"-v", "error", "-hide_banner",
		"-show_format", "-show_streams",
		"-of", "json",
		"--", path,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("%w: %v: %s", ErrProbeFailure, err, strings.TrimSpace(stderr.String()))
	}

	asset, err := ParseProbeJSON(output)
	if err != nil {
		return nil, err
	}
	asset.Path = path
	if asset.Size == 0 {
		asset.Size = info.Size()
	}

	p.logger.Debug("Probed media",
		zap.String("path", path),
		zap.Float64("duration", asset.Duration),
		zap.Bool("video", asset.IsVideo),
		zap.Int("width", asset.Width),
		zap.Int("height", asset.Height),
	)
	return asset, nil
}

// ParseProbeJSON converts ffprobe JSON output into a MediaAsset (without Path).
// Cover art attached to audio files does not count as video.
func ParseProbeJSON(data []byte) (*MediaAsset, error) {
	var out probeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("%w: decode ffprobe output: %v", ErrProbeFailure, err)
	}
	if len(out.Streams) == 0 {
		return nil, fmt.Errorf("%w: no streams", ErrProbeFailure)
	}

	asset := &MediaAsset{
		Duration: parseFloat(out.Format.Duration),
		Size:     int64(parseFloat(out.Format.Size)),
		BitRate:  int64(parseFloat(out.Format.BitRate)),
	}

	for _, s := range out.Streams {
		switch strings.ToLower(s.CodecType) {
		case "video":
			if s.Disposition["attached_pic"] == 1 {
				continue
			}
			if !asset.IsVideo {
				asset.IsVideo = true
				asset.Width, asset.Height = s.Width, s.Height
				asset.VideoCodec = strings.ToLower(s.CodecName)
			}
			if asset.Duration == 0 {
				asset.Duration = parseFloat(s.Duration)
			}
		case "audio":
			asset.HasAudio = true
			if asset.Duration == 0 {
				asset.Duration = parseFloat(s.Duration)
			}
		}
	}

	if !asset.IsVideo && !asset.HasAudio {
		return nil, fmt.Errorf("%w: no audio or video streams", ErrProbeFailure)
	}
	if asset.Duration <= 0 {
		return nil, fmt.Errorf("%w: unknown duration", ErrProbeFailure)
	}
	return asset, nil
}

func parseFloat(value string) float64 {
	cleaned := strings.TrimSpace(value)
	if cleaned == "" || cleaned == "N/A" {
		return 0
	}
	f, err := strconv.ParseFloat(cleaned, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return 0
	}
	return f
}

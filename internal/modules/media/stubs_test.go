package media

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/nextconvert/fxengine/internal/shared/storage"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const probeVideoJSON = `{"streams":[{"codec_type":"video","codec_name":"h264","width":1920,"height":1080},{"codec_type":"audio","codec_name":"aac"}],"format":{"duration":"100.000000","size":"5000000","bit_rate":"400000"}}`

const probeAudioJSON = `{"streams":[{"codec_type":"audio","codec_name":"mp3"}],"format":{"duration":"30.000000","size":"480000"}}`

// fakeFFmpeg is a shell script standing in for ffmpeg. Every invocation
// appends its arguments to a log, one line per call.
type fakeFFmpeg struct {
	path string
	log  string
}

func requireShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("stub binaries need a POSIX shell")
	}
}

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0755))
	return path
}

// newFakeFFmpeg writes a stub that logs its arguments and then runs body.
// $last holds the output path.
func newFakeFFmpeg(t *testing.T, body string) *fakeFFmpeg {
	t.Helper()
	requireShell(t)
	dir := t.TempDir()
	log := filepath.Join(dir, "calls.log")
	script := fmt.Sprintf("printf '%%s\\n' \"$*\" >> '%s'\nfor last; do :; done\n%s", log, body)
	return &fakeFFmpeg{path: writeScript(t, dir, "ffmpeg", script), log: log}
}

// writesBytes is a stub body producing an output of n bytes
func writesBytes(n int) string {
	return fmt.Sprintf("head -c %d /dev/zero > \"$last\"\n", n)
}

func (f *fakeFFmpeg) calls(t *testing.T) []string {
	t.Helper()
	data, err := os.ReadFile(f.log)
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	return strings.Split(strings.TrimRight(string(data), "\n"), "\n")
}

// newFakeFFprobe answers with audio JSON for .mp3 files and video JSON otherwise
func newFakeFFprobe(t *testing.T) string {
	t.Helper()
	requireShell(t)
	script := fmt.Sprintf(`for last; do :; done
case "$(basename "$last")" in
  *.mp3) echo '%s' ;;
  *) echo '%s' ;;
esac
`, probeAudioJSON, probeVideoJSON)
	return writeScript(t, t.TempDir(), "ffprobe", script)
}

func touch(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("media"), 0644))
	return path
}

func dirEntries(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name()
	}
	return names
}

func newTestProcessor(ffmpeg *fakeFFmpeg) *Processor {
	return NewProcessorWithConfig(ProcessorConfig{FFmpegPath: ffmpeg.path, PreferFastPresets: true}, zap.NewNop())
}

func newTestModule(t *testing.T, ffmpeg *fakeFFmpeg, compositor CompositorConfig) (*Module, *storage.Workspace) {
	t.Helper()
	workspace, err := storage.NewWorkspace(t.TempDir())
	require.NoError(t, err)
	m := NewModule(ModuleConfig{
		FFprobePath: newFakeFFprobe(t),
		Processor:   ProcessorConfig{FFmpegPath: ffmpeg.path, PreferFastPresets: true},
		Compositor:  compositor,
	}, workspace, zap.NewNop())
	return m, workspace
}

func videoAsset(path string) *MediaAsset {
	return &MediaAsset{Path: path, Duration: 100, IsVideo: true, HasAudio: true, Width: 1920, Height: 1080, VideoCodec: "h264"}
}

func audioAsset(path string) *MediaAsset {
	return &MediaAsset{Path: path, Duration: 30, HasAudio: true}
}

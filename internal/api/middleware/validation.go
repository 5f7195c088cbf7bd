package middleware

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/samber/lo"
)

// maxJSONBody caps request bodies on JSON endpoints
const maxJSONBody = 1 << 20

// sniffLen is how much of an upload http.DetectContentType looks at
const sniffLen = 512

// FileValidationConfig defines file validation rules
type FileValidationConfig struct {
	MaxSize      int64    // bytes, 0 = unlimited
	AllowedTypes []string // sniffed MIME types, "audio/*" style wildcards allowed
	AllowedExts  []string // lower-case, with the dot
}

// WithMaxSize returns a copy of c limited to maxSize bytes
func (c FileValidationConfig) WithMaxSize(maxSize int64) FileValidationConfig {
	c.MaxSize = maxSize
	return c
}

type uploadError struct {
	status int
	code   string
	msg    string
}

func (e *uploadError) Error() string { return e.msg }

// ValidateFileUpload rejects multipart uploads whose files are too large or
// not media. Other content types pass through untouched.
func ValidateFileUpload(config FileValidationConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
			if mediaType != "multipart/form-data" {
				next.ServeHTTP(w, r)
				return
			}

			if config.MaxSize > 0 {
				// headroom for the multipart envelope
				r.Body = http.MaxBytesReader(w, r.Body, config.MaxSize+1<<20)
			}
			if err := r.ParseMultipartForm(32 << 20); err != nil {
				var tooLarge *http.MaxBytesError
				if errors.As(err, &tooLarge) {
					writeError(w, http.StatusRequestEntityTooLarge, CodeFileTooLarge,
						fmt.Sprintf("upload exceeds %s", humanize.Bytes(uint64(config.MaxSize))))
					return
				}
				writeError(w, http.StatusBadRequest, CodeInvalidUpload, "failed to parse multipart form")
				return
			}

			for _, headers := range r.MultipartForm.File {
				for _, fh := range headers {
					if err := validateFile(fh, config); err != nil {
						var ue *uploadError
						if errors.As(err, &ue) {
							writeError(w, ue.status, ue.code, ue.msg)
							return
						}
						writeError(w, http.StatusBadRequest, CodeInvalidUpload, err.Error())
						return
					}
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

func validateFile(fh *multipart.FileHeader, config FileValidationConfig) error {
	if config.MaxSize > 0 && fh.Size > config.MaxSize {
		return &uploadError{
			status: http.StatusRequestEntityTooLarge,
			code:   CodeFileTooLarge,
			msg: fmt.Sprintf("%s is %s, limit is %s", fh.Filename,
				humanize.Bytes(uint64(fh.Size)), humanize.Bytes(uint64(config.MaxSize))),
		}
	}

	ext := strings.ToLower(filepath.Ext(fh.Filename))
	if len(config.AllowedExts) > 0 && !lo.Contains(config.AllowedExts, ext) {
		return &uploadError{
			status: http.StatusBadRequest,
			code:   CodeInvalidUpload,
			msg:    fmt.Sprintf("file extension %q is not a supported media type", ext),
		}
	}

	if len(config.AllowedTypes) == 0 {
		return nil
	}

	contentType, err := sniff(fh)
	if err != nil {
		return err
	}
	if !lo.SomeBy(config.AllowedTypes, func(pattern string) bool { return matchMIMEType(contentType, pattern) }) {
		return &uploadError{
			status: http.StatusBadRequest,
			code:   CodeInvalidUpload,
			msg:    fmt.Sprintf("content type %s is not a supported media type", contentType),
		}
	}
	return nil
}

func sniff(fh *multipart.FileHeader) (string, error) {
	f, err := fh.Open()
	if err != nil {
		return "", fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()

	buf := make([]byte, sniffLen)
	n, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read upload: %w", err)
	}
	return http.DetectContentType(buf[:n]), nil
}

// matchMIMEType matches contentType against an exact type or a "type/*" pattern
func matchMIMEType(contentType, pattern string) bool {
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = strings.TrimSpace(contentType[:i])
	}
	if prefix, ok := strings.CutSuffix(pattern, "/*"); ok {
		return strings.HasPrefix(contentType, prefix+"/")
	}
	return contentType == pattern
}

// ValidateJSONBody requires a non-empty JSON body on POST, PUT and PATCH
// and caps it at 1 MiB.
func ValidateJSONBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost, http.MethodPut, http.MethodPatch:
		default:
			next.ServeHTTP(w, r)
			return
		}

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxJSONBody))
		r.Body.Close()
		if err != nil {
			writeError(w, http.StatusRequestEntityTooLarge, CodeInvalidRequest, "request body too large")
			return
		}
		if len(bytes.TrimSpace(body)) == 0 {
			writeError(w, http.StatusBadRequest, CodeInvalidRequest, "request body is required")
			return
		}
		if mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); mediaType != "application/json" {
			writeError(w, http.StatusUnsupportedMediaType, CodeUnsupportedBody, "expected application/json")
			return
		}

		r.Body = io.NopCloser(bytes.NewReader(body))
		next.ServeHTTP(w, r)
	})
}

// VideoFileValidation accepts the video containers ffmpeg is commonly fed
var VideoFileValidation = FileValidationConfig{
	MaxSize: 5 << 30,
	AllowedTypes: []string{
		"video/*",
		"application/octet-stream", // mkv, mov and flv sniff as octet-stream
	},
	AllowedExts: []string{".mp4", ".m4v", ".mpeg", ".mpg", ".mov", ".avi", ".webm", ".mkv", ".flv", ".wmv", ".gif"},
}

// AudioFileValidation accepts common audio files
var AudioFileValidation = FileValidationConfig{
	MaxSize: 500 << 20,
	AllowedTypes: []string{
		"audio/*",
		"application/ogg",
		"application/octet-stream",
	},
	AllowedExts: []string{".mp3", ".wav", ".ogg", ".opus", ".m4a", ".aac", ".flac", ".wma"},
}

// MediaFileValidation accepts any video or audio input
var MediaFileValidation = FileValidationConfig{
	MaxSize:      VideoFileValidation.MaxSize,
	AllowedTypes: lo.Union(VideoFileValidation.AllowedTypes, AudioFileValidation.AllowedTypes, []string{"image/gif"}),
	AllowedExts:  lo.Union(VideoFileValidation.AllowedExts, AudioFileValidation.AllowedExts),
}

package core

import (
	"fmt"
	"mime"
	"os"
	"path/filepath"
)

type ValidationError struct {
	Arg   string
	Cause string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid argument %q: %s", e.Arg, e.Cause)
}

// UploadPath is a local file named on the command line for upload.
type UploadPath struct {
	FullPath string
	Name     string
	Size     int64
	MimeType string
}

// ParseArgs validates upload arguments. Every argument must name an
// existing regular file; directories are rejected.
func ParseArgs(args []string) ([]UploadPath, error) {
	if len(args) == 0 {
		return nil, &ValidationError{Arg: "<files>", Cause: "no files provided"}
	}

	var out []UploadPath

	for _, raw := range args {
		p := filepath.Clean(raw)
		info, err := os.Stat(p)
		if err != nil {
			return nil, &ValidationError{Arg: raw, Cause: "not found or not accessible"}
		}
		if info.IsDir() {
			return nil, &ValidationError{Arg: raw, Cause: "is a directory"}
		}
		if !info.Mode().IsRegular() {
			return nil, &ValidationError{Arg: raw, Cause: "not a regular file"}
		}

		out = append(out, UploadPath{
			FullPath: p,
			Name:     info.Name(),
			Size:     info.Size(),
			MimeType: DetectMimeType(p),
		})
	}

	return out, nil
}

// DetectMimeType guesses a content type from the file extension.
func DetectMimeType(path string) string {
	if t := mime.TypeByExtension(filepath.Ext(path)); t != "" {
		return t
	}
	return "application/octet-stream"
}

// Package metafile reads and writes the metadata file stored in every output
// batch. The file records which run produced the batch and what it contains;
// prune uses its timestamp to decide what to keep.
package metafile

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/afero"

	"github.com/pixelgardenlabs/shotsync/pkg/util"
)

// MetaFileName is the name of the batch metadata file.
const MetaFileName = ".shotsync.batch.json"

// MetafileInfo pairs a batch's metadata with its directory name relative to the output root.
type MetafileInfo struct {
	RelPathKey string // forward-slash key, not for direct FS access
	Metadata   MetafileContent
}

// Entry is one published item.
type Entry struct {
	Key        string `json:"key"`
	OutputName string `json:"outputName"`
	Status     string `json:"status"`
	Source     string `json:"source,omitempty"`
	Error      string `json:"error,omitempty"`
}

// MetafileContent is the JSON document.
type MetafileContent struct {
	Version      string    `json:"version"`
	RunID        string    `json:"runID"`
	TimestampUTC time.Time `json:"timestampUTC"`
	Rule         string    `json:"rule"`
	DryRun       bool      `json:"dryRun,omitempty"`
	Copied       int       `json:"copied"`
	Placeholders int       `json:"placeholders,omitempty"`
	Failed       int       `json:"failed"`
	Entries      []Entry   `json:"entries,omitempty"`
}

// Write stores content in dirPath. The file is group-writable like the rest of the batch.
func Write(fs afero.Fs, dirPath string, content *MetafileContent) error {
	metaFilePath := filepath.Join(dirPath, MetaFileName)
	jsonData, err := json.MarshalIndent(content, "", "  ")
	if err != nil {
		return fmt.Errorf("could not marshal batch metadata: %w", err)
	}
	if err := afero.WriteFile(fs, metaFilePath, jsonData, util.UserGroupWritableFilePerms); err != nil {
		return fmt.Errorf("could not write meta file %s: %w", metaFilePath, err)
	}
	return nil
}

// Read parses the metadata of the batch in dirPath. A missing file is returned
// unwrapped so callers can test it with errors.Is(err, fs.ErrNotExist).
func Read(fs afero.Fs, dirPath string) (MetafileContent, error) {
	metaFilePath := filepath.Join(dirPath, MetaFileName)
	f, err := fs.Open(metaFilePath)
	if err != nil {
		return MetafileContent{}, err
	}
	defer f.Close()

	var content MetafileContent
	if err := json.NewDecoder(f).Decode(&content); err != nil {
		return MetafileContent{}, fmt.Errorf("could not parse metafile %s: %w. It may be corrupt", metaFilePath, err)
	}
	return content, nil
}

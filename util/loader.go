package util

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/nvr-ai/go-masktarget/common"
	"github.com/nvr-ai/go-masktarget/models/target"
)

// SampleFile is one image's annotations as stored on disk.
type SampleFile struct {
	// Path is the path to the annotation file.
	Path string `json:"-"`
	// Index is the number parsed from the file name.
	Index int `json:"-"`
	// Width of the source image, used when pasting masks back.
	Width int `json:"width"`
	// Height of the source image.
	Height int `json:"height"`
	// Proposals are (x1, y1, x2, y2) rows.
	Proposals [][]float32 `json:"proposals"`
	// GTBoxes are (x1, y1, x2, y2, class) rows.
	GTBoxes [][]float32 `json:"gt_boxes"`
	// GTPolys are polygon rows: class, ring count, ring lengths, coordinates.
	GTPolys [][]float32 `json:"gt_polys"`
}

// Inputs converts the rows into the tensors Compute consumes.
func (s *SampleFile) Inputs() *target.Inputs {
	return &target.Inputs{
		Proposals: common.FromRows(s.Proposals),
		GTBoxes:   common.FromRows(s.GTBoxes),
		GTPolys:   common.FromRows(s.GTPolys),
	}
}

// LoadSampleFile reads a single annotation file.
//
// Arguments:
// - path: Path to a JSON annotation file.
//
// Returns:
// - *SampleFile: The decoded annotations.
// - error: Error if reading or decoding fails.
func LoadSampleFile(path string) (*SampleFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var sample SampleFile
	if err := json.Unmarshal(data, &sample); err != nil {
		return nil, errors.Wrapf(err, "failed to decode %s", path)
	}
	sample.Path = path

	return &sample, nil
}

// LoadDirectorySampleFiles reads all annotation files from a directory.
// Files are named "sample-<n>.json" and returned in ascending order of n.
//
// Arguments:
// - dir: Directory path containing annotation files.
//
// Returns:
// - []*SampleFile: The decoded annotations.
// - error: Error if loading fails.
func LoadDirectorySampleFiles(dir string) ([]*SampleFile, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var samples []*SampleFile
	for _, file := range files {
		if file.IsDir() || filepath.Ext(file.Name()) != ".json" {
			continue
		}

		index, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(file.Name(), "sample-"), ".json"))
		if err != nil {
			return nil, errors.Wrapf(err, "unexpected file name %s", file.Name())
		}

		sample, err := LoadSampleFile(filepath.Join(dir, file.Name()))
		if err != nil {
			return nil, err
		}
		sample.Index = index
		samples = append(samples, sample)
	}

	sort.Slice(samples, func(i, j int) bool {
		return samples[i].Index < samples[j].Index
	})

	return samples, nil
}

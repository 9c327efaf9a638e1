// Package models - class label sets for the datasets the targets are built for.
package models

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// LabelSet names the classes of one dataset. Index 0 is always background.
type LabelSet struct {
	// Name identifies the set, e.g. "coco".
	Name string
	// Classes are indexed by label.
	Classes []string
}

// NumClasses counts the classes including background.
func (s *LabelSet) NumClasses() int {
	return len(s.Classes)
}

// Label returns the class name for idx, or "class_<idx>" when out of range.
func (s *LabelSet) Label(idx int) string {
	if idx < 0 || idx >= len(s.Classes) {
		return fmt.Sprintf("class_%d", idx)
	}
	return s.Classes[idx]
}

// Index returns the label of a class name.
func (s *LabelSet) Index(name string) (int, error) {
	for i, c := range s.Classes {
		if c == name {
			return i, nil
		}
	}
	return -1, errors.Errorf("name %q not found in label set %q", name, s.Name)
}

// COCOLabels is the 80 COCO classes plus background, matching the default
// 81-class configuration.
var COCOLabels = LabelSet{
	Name: "coco",
	Classes: []string{
		"__background__", "person", "bicycle", "car", "motorcycle", "airplane", "bus", "train",
		"truck", "boat", "traffic light", "fire hydrant", "stop sign", "parking meter",
		"bench", "bird", "cat", "dog", "horse", "sheep", "cow", "elephant", "bear", "zebra",
		"giraffe", "backpack", "umbrella", "handbag", "tie", "suitcase", "frisbee", "skis",
		"snowboard", "sports ball", "kite", "baseball bat", "baseball glove", "skateboard",
		"surfboard", "tennis racket", "bottle", "wine glass", "cup", "fork", "knife", "spoon",
		"bowl", "banana", "apple", "sandwich", "orange", "broccoli", "carrot", "hot dog",
		"pizza", "donut", "cake", "chair", "couch", "potted plant", "bed", "dining table",
		"toilet", "tv", "laptop", "mouse", "remote", "keyboard", "cell phone", "microwave",
		"oven", "toaster", "sink", "refrigerator", "book", "clock", "vase", "scissors",
		"teddy bear", "hair drier", "toothbrush",
	},
}

// VOCLabels is the 20 Pascal VOC classes plus background.
var VOCLabels = LabelSet{
	Name: "voc",
	Classes: []string{
		"__background__", "aeroplane", "bicycle", "bird", "boat", "bottle", "bus", "car",
		"cat", "chair", "cow", "diningtable", "dog", "horse", "motorbike", "person",
		"pottedplant", "sheep", "sofa", "train", "tvmonitor",
	},
}

// LookupLabelSet returns the label set registered under name.
//
// Arguments:
//   - name: "coco" or "voc", case-insensitive.
//
// Returns:
//   - The label set.
//   - error if no set has that name.
//
// @example
// labels, err := models.LookupLabelSet("coco")
// fmt.Println(labels.Label(1)) // person
func LookupLabelSet(name string) (*LabelSet, error) {
	for _, set := range []*LabelSet{&COCOLabels, &VOCLabels} {
		if strings.EqualFold(set.Name, name) {
			return set, nil
		}
	}
	return nil, errors.Errorf("unknown label set %q", name)
}

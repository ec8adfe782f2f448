// Package models - Class name sets for detector outputs.
package models

import (
	"fmt"
	"os"
	"sort"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// ClassNames maps a zero-based class index to a human-readable label.
type ClassNames []string

// Name returns the label for a class index, or "class<N>" when the index is out of range.
func (c ClassNames) Name(id int) string {
	if id < 0 || id >= len(c) {
		return fmt.Sprintf("class%d", id)
	}
	return c[id]
}

// YOLOClasses is the 80 COCO classes (no background).
// YOLO models index directly into this zero-based list.
var YOLOClasses = ClassNames{
	"person", "bicycle", "car", "motorcycle", "airplane", "bus", "train", "truck", "boat",
	"traffic light", "fire hydrant", "stop sign", "parking meter", "bench", "bird", "cat", "dog", "horse",
	"sheep", "cow", "elephant", "bear", "zebra", "giraffe", "backpack", "umbrella", "handbag", "tie",
	"suitcase", "frisbee", "skis", "snowboard", "sports ball", "kite", "baseball bat", "baseball glove",
	"skateboard", "surfboard", "tennis racket", "bottle", "wine glass", "cup", "fork", "knife", "spoon",
	"bowl", "banana", "apple", "sandwich", "orange", "broccoli", "carrot", "hot dog", "pizza", "donut",
	"cake", "chair", "couch", "potted plant", "bed", "dining table", "toilet", "tv", "laptop", "mouse",
	"remote", "keyboard", "cell phone", "microwave", "oven", "toaster", "sink", "refrigerator", "book",
	"clock", "vase", "scissors", "teddy bear", "hair drier", "toothbrush",
}

// datasetFile is the subset of a YOLO dataset YAML that carries class names.
type datasetFile struct {
	Names yaml.Node `yaml:"names"`
}

// LoadClassNames reads class names from a YOLO dataset YAML file.
//
// Both the list form (names: [a, b]) and the index map form (names: {0: a, 1: b}) are accepted.
// An empty path returns a copy of YOLOClasses.
//
// Arguments:
//   - path: Path to the YAML file.
//
// Returns:
//   - ClassNames: The parsed names.
//   - error: If the file cannot be read or has no usable names key.
func LoadClassNames(path string) (ClassNames, error) {
	if path == "" {
		return append(ClassNames(nil), YOLOClasses...), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read class names %s", path)
	}

	names, err := ParseClassNames(data)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse class names %s", path)
	}
	return names, nil
}

// ParseClassNames decodes the names key of a YOLO dataset YAML document.
func ParseClassNames(data []byte) (ClassNames, error) {
	var file datasetFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, err
	}

	switch file.Names.Kind {
	case yaml.SequenceNode:
		var names []string
		if err := file.Names.Decode(&names); err != nil {
			return nil, err
		}
		if len(names) == 0 {
			return nil, errors.New("names list is empty")
		}
		return ClassNames(names), nil

	case yaml.MappingNode:
		var indexed map[int]string
		if err := file.Names.Decode(&indexed); err != nil {
			return nil, err
		}
		if len(indexed) == 0 {
			return nil, errors.New("names map is empty")
		}
		ids := make([]int, 0, len(indexed))
		for id := range indexed {
			if id < 0 {
				return nil, errors.Errorf("negative class index %d", id)
			}
			ids = append(ids, id)
		}
		sort.Ints(ids)

		names := make(ClassNames, ids[len(ids)-1]+1)
		for i := range names {
			names[i] = fmt.Sprintf("class%d", i)
		}
		for id, name := range indexed {
			names[id] = name
		}
		return names, nil

	default:
		return nil, errors.New("missing names key")
	}
}

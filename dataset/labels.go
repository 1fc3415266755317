package dataset

import (
	"errors"
	"fmt"
)

// ErrUnmappedLabel is returned when a label has no entry in a remapping.
var ErrUnmappedLabel = errors.New("label has no mapping")

// ChipFamily names a group of tag identifiers that share a chip type.
type ChipFamily struct {
	Name string
	Tags []int
}

// ChipFamilies lists the chip type of every tag in the capture campaign.
var ChipFamilies = []ChipFamily{
	{Name: "NTAG213", Tags: []int{1, 2, 3, 4, 5}},
	{Name: "MIFARE", Tags: []int{6, 7, 8}},
	{Name: "FELICA", Tags: []int{9}},
}

// ChipOf returns the family index and name of tag.
func ChipOf(tag int) (int, string, bool) {
	for i, family := range ChipFamilies {
		for _, t := range family.Tags {
			if t == tag {
				return i, family.Name, true
			}
		}
	}
	return 0, "", false
}

// RemapLabels returns a new slice with every label replaced by mapping[label].
func RemapLabels(labels []int, mapping map[int]int) ([]int, error) {
	out := make([]int, len(labels))
	for i, label := range labels {
		mapped, ok := mapping[label]
		if !ok {
			return nil, fmt.Errorf("%w: %d", ErrUnmappedLabel, label)
		}
		out[i] = mapped
	}
	return out, nil
}

// ChipMapping maps the labels of a dataset built from classes (label i is
// classes[i]) onto chip families. Families are numbered in order of first
// appearance in classes; names holds their names in that order.
func ChipMapping(classes []int) (mapping map[int]int, names []string, err error) {
	mapping = make(map[int]int, len(classes))
	familyLabel := make(map[int]int)
	for label, tag := range classes {
		family, name, ok := ChipOf(tag)
		if !ok {
			return nil, nil, fmt.Errorf("tag %d belongs to no known chip family", tag)
		}
		coarse, seen := familyLabel[family]
		if !seen {
			coarse = len(names)
			familyLabel[family] = coarse
			names = append(names, name)
		}
		mapping[label] = coarse
	}
	return mapping, names, nil
}

// Coarsen returns a copy of ds whose labels are remapped through mapping and
// whose class names are names. Features are shared, ds is left untouched.
func Coarsen(ds *Dataset, mapping map[int]int, names []string) (*Dataset, error) {
	labels, err := RemapLabels(ds.Labels, mapping)
	if err != nil {
		return nil, err
	}
	for _, label := range labels {
		if label < 0 || label >= len(names) {
			return nil, fmt.Errorf("remapped label %d has no name among %d classes", label, len(names))
		}
	}

	classes := make([]int, len(names))
	for i := range classes {
		classes[i] = i
	}
	return &Dataset{
		Shape:      append([]int(nil), ds.Shape...),
		Features:   append([][]float32(nil), ds.Features...),
		Labels:     labels,
		Classes:    classes,
		ClassNames: append([]string(nil), names...),
	}, nil
}

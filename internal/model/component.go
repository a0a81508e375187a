package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"iter"
	"slices"
)

// DataFileType is the @type tag of components that are downloadable data files.
const DataFileType = "nrdp:DataFile"

// TypeTags holds the @type of a component. The metadata documents carry it
// either as a single string or as an array of strings.
type TypeTags []string

// UnmarshalJSON accepts a string, an array of strings or null.
func (t *TypeTags) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*t = nil
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var single string
		if err := json.Unmarshal(data, &single); err != nil {
			return fmt.Errorf("@type: %w", err)
		}
		*t = TypeTags{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("@type must be a string or an array of strings: %w", err)
	}
	*t = many
	return nil
}

// Has reports whether tag is one of the type tags.
func (t TypeTags) Has(tag string) bool {
	return slices.Contains(t, tag)
}

// Component is one constituent of a dataset's metadata record.
type Component struct {
	ID          string   `json:"@id"`
	Types       TypeTags `json:"@type"`
	DownloadURL string   `json:"downloadURL"`
	FilePath    string   `json:"filepath"`
	MediaType   string   `json:"mediaType"`
}

// Record is a dataset metadata record with its components.
type Record struct {
	ID         string      `json:"@id"`
	Title      string      `json:"title"`
	Components []Component `json:"components"`
}

// Eligible reports whether the component is a data file that can be fetched.
func Eligible(c Component) bool {
	return c.Types.Has(DataFileType) && c.DownloadURL != ""
}

// DataFiles yields the eligible components in input order. The sequence can be
// ranged over more than once.
func DataFiles(components []Component) iter.Seq[Component] {
	return func(yield func(Component) bool) {
		for _, c := range components {
			if !Eligible(c) {
				continue
			}
			if !yield(c) {
				return
			}
		}
	}
}

package archive

import "fmt"

// FetchError reports that a component's bytes could not be retrieved.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// AssemblyError aborts an archive. It names the component being written when
// the failure happened.
type AssemblyError struct {
	Component string
	Index     int
	Entry     string
	Err       error
}

func (e *AssemblyError) Error() string {
	return fmt.Sprintf("archive: component %d (%s): %v", e.Index, e.Component, e.Err)
}

func (e *AssemblyError) Unwrap() error {
	return e.Err
}

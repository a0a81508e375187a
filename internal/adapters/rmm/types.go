package rmm

import "github.com/kacper-wojtaszczyk/oar-distribution/internal/model"

// recordsResponse is the raw response of the records endpoint.
type recordsResponse struct {
	ResultCount int         `json:"ResultCount"`
	ResultData  []recordDoc `json:"ResultData"`
}

// recordDoc keeps components as a pointer so a missing field can be told
// apart from an empty list.
type recordDoc struct {
	ID         string             `json:"@id"`
	Title      string             `json:"title"`
	Components *[]model.Component `json:"components"`
}

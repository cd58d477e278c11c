package models

import (
	"net/http"
	"strings"
)

// APIProblem represents an RFC 7807 Problem Details response.
type APIProblem struct {
	Type     string `json:"type" example:"https://relayscan.dev/problems/bad-request"`
	Title    string `json:"title" example:"Bad Request"`
	Status   int    `json:"status" example:"400"`
	Detail   string `json:"detail,omitempty" example:"invalid CIDR range"`
	Instance string `json:"instance,omitempty" example:"/api/v1/recon/scan"`
}

// ProblemType returns the problem type URI for an HTTP status, for example
// https://relayscan.dev/problems/bad-gateway for 502.
func ProblemType(status int) string {
	slug := strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "-"))
	return "https://relayscan.dev/problems/" + slug
}

// NewProblem builds a problem for status with the standard title.
func NewProblem(status int, detail, instance string) APIProblem {
	return APIProblem{
		Type:     ProblemType(status),
		Title:    http.StatusText(status),
		Status:   status,
		Detail:   detail,
		Instance: instance,
	}
}

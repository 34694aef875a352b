// Package catalog records workflow executions as provenance entities.
package catalog

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"
)

type Status string

const (
	StatusRunning Status = "Running"
	StatusDone    Status = "Done"
	StatusFailed  Status = "Failed"
)

var (
	ErrNotFound     = errors.New("catalog resource not found")
	ErrUnauthorized = errors.New("catalog request unauthorized")
	ErrConflict     = errors.New("catalog resource conflict")
)

// Location addresses one project of one catalog deployment.
type Location struct {
	Base string
	Org  string
	Proj string
}

type Archive struct {
	Name        string
	ContentType string
	Body        []byte
}

type ContentSize struct {
	UnitCode string `json:"unitCode"`
	Value    int64  `json:"value"`
}

// Distribution is the DataDownload entity pointing at a stored archive.
type Distribution struct {
	ID             string       `json:"@id,omitempty"`
	Type           string       `json:"@type"`
	Name           string       `json:"name"`
	ContentURL     string       `json:"contentUrl"`
	EncodingFormat string       `json:"encodingFormat,omitempty"`
	ContentSize    *ContentSize `json:"contentSize,omitempty"`
}

type WorkflowExecution struct {
	Name           string
	Module         string
	Task           string
	Version        string
	ConfigFileName string
	StartedAt      time.Time
}

type Record struct {
	ID       string
	URL      string
	Location Location
}

type Catalog interface {
	// Register stores archive as the execution's distribution and publishes
	// the execution with status Running.
	Register(ctx context.Context, accessToken string, loc Location, wf WorkflowExecution, archive Archive) (Record, error)
	UpdateStatus(ctx context.Context, accessToken string, rec Record, status Status, endedAt time.Time) error
}

type Distributor interface {
	Distribute(ctx context.Context, accessToken string, loc Location, archive Archive) (Distribution, error)
}

func newDistribution(name, contentURL, contentType string, size int64) Distribution {
	return Distribution{
		Type:           "DataDownload",
		Name:           name,
		ContentURL:     contentURL,
		EncodingFormat: contentType,
		ContentSize:    &ContentSize{UnitCode: "bytes", Value: size},
	}
}

// WebLink is the browser URL of a catalog resource.
func WebLink(prefix, org, proj, id string) string {
	if org == "" {
		org = "bbp"
	}
	escaped := strings.ReplaceAll(url.QueryEscape(id), "+", "%20")
	return strings.TrimRight(prefix, "/") + "/" + org + "/" + proj + "/resources/" + escaped
}

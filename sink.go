package avail

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// Sink is somewhere canonical records go after a source produces them.
type Sink interface {
	Send(ctx context.Context, location *Location, options UpdateOptions) error
}

// SinkHandler returns a Handler that sends each record to every sink. All
// sinks are tried; the first error is returned.
func SinkHandler(sinks ...Sink) Handler {
	return func(ctx context.Context, location *Location, options UpdateOptions) error {
		var firstErr error
		for _, sink := range sinks {
			if err := sink.Send(ctx, location, options); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	}
}

// EngineSink applies records directly to a registry.
type EngineSink struct {
	Service *UpdateService
}

func NewEngineSink(registry Registry) *EngineSink {
	return &EngineSink{Service: NewUpdateService(registry)}
}

func (s *EngineSink) Send(ctx context.Context, location *Location, options UpdateOptions) error {
	result, err := s.Service.Update(ctx, PayloadFromLocation(location), options.UpdateLocation)
	if err != nil {
		return err
	}
	if result.Created {
		Log.Debugf("Created location %s: %s", result.Location.Id, result.Location.Name)
	}
	return nil
}

const apiUpdatePath = "/api/edge/update"
const apiLocationsPath = "/api/edge/locations"
const apiKeyHeader = "x-api-key"
const maxLocationPages = 1000

// ApiClient talks to a remote availability server: it sends updates and
// lists known locations.
type ApiClient struct {
	Url        string
	ApiKey     string
	HttpClient *http.Client
	// retries after the first attempt for failed updates
	Retries    int
	RetryDelay time.Duration
}

func NewApiClient(baseUrl string, apiKey string) *ApiClient {
	return &ApiClient{
		Url:        strings.TrimRight(baseUrl, "/"),
		ApiKey:     apiKey,
		Retries:    2,
		RetryDelay: 5 * time.Second,
	}
}

func (c *ApiClient) endpoint(target string) *Endpoint {
	endpoint := NewEndpoint(target)
	endpoint.HttpClient = c.HttpClient
	endpoint.AddHeader("Accept", "application/json")
	if len(c.ApiKey) > 0 {
		endpoint.AddHeader(apiKeyHeader, c.ApiKey)
	}
	return endpoint
}

// Send posts a location update. Validation failures (4xx) aren't retried.
func (c *ApiClient) Send(ctx context.Context, location *Location, options UpdateOptions) error {
	body, err := json.Marshal(PayloadFromLocation(location))
	if err != nil {
		return eris.Wrapf(err, "api: encode %s", location.Name)
	}

	target := c.Url + apiUpdatePath
	if options.UpdateLocation {
		target += "?update_location=1"
	}

	endpoint := c.endpoint(target)
	endpoint.Method = http.MethodPost
	endpoint.Body = body
	endpoint.AddHeader("Content-Type", "application/json")
	endpoint.AllowedStatusCodes = []int{http.StatusCreated}

	for attempt := 0; ; attempt++ {
		_, _, err = endpoint.Fetch(ctx, "api")
		if err == nil {
			return nil
		}

		var apiErr *ApiError
		if errors.As(err, &apiErr) && apiErr.StatusCode < 500 {
			return err
		}
		if attempt >= c.Retries {
			return err
		}

		Log.Warnf("Retrying update for %s: %v", location.Name, err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.RetryDelay):
		}
	}
}

type locationsPage struct {
	Links struct {
		Next string `json:"next"`
	} `json:"links"`
	Data []*Location `json:"data"`
}

// ListLocations fetches every location matching filter, following the
// server's "next" links.
func (c *ApiClient) ListLocations(ctx context.Context, filter LocationFilter) ([]*Location, error) {
	query := url.Values{}
	if len(filter.Provider) > 0 {
		query.Set("provider", filter.Provider)
	}
	if len(filter.State) > 0 {
		query.Set("state", filter.State)
	}
	if filter.IncludePrivate {
		query.Set("include_private", "1")
	}

	next := c.Url + apiLocationsPath
	if len(query) > 0 {
		next += "?" + query.Encode()
	}

	locations := make([]*Location, 0)
	for pages := 0; len(next) > 0; pages++ {
		if pages >= maxLocationPages {
			return nil, eris.Errorf("api: more than %d pages of locations", maxLocationPages)
		}

		body, _, err := c.endpoint(next).Fetch(ctx, "api")
		if err != nil {
			return nil, err
		}

		var page locationsPage
		if err := json.Unmarshal(body, &page); err != nil {
			return nil, eris.Wrapf(err, "api: bad locations response from %s", next)
		}
		locations = append(locations, page.Data...)

		next = ""
		if len(page.Links.Next) > 0 {
			base, err := url.Parse(c.Url)
			if err != nil {
				return nil, eris.Wrap(err, "api: bad base url")
			}
			reference, err := url.Parse(page.Links.Next)
			if err != nil {
				return nil, eris.Wrapf(err, "api: bad next link %q", page.Links.Next)
			}
			next = base.ResolveReference(reference).String()
		}
	}

	return locations, nil
}

// ArchiveSink collects a run's records and writes them as NDJSON, one
// record per line, to a local directory and/or S3.
type ArchiveSink struct {
	Name     string
	DumpDir  string
	S3Bucket string
	// nil uses the shared client from the environment
	S3Client S3Putter
	S3Region string
	Now      func() time.Time

	lock    sync.Mutex
	records [][]byte
}

func NewArchiveSink(name string, dumpDir string, s3Bucket string) *ArchiveSink {
	return &ArchiveSink{Name: name, DumpDir: dumpDir, S3Bucket: s3Bucket, Now: time.Now}
}

func (s *ArchiveSink) Send(_ context.Context, location *Location, _ UpdateOptions) error {
	line, err := json.Marshal(location)
	if err != nil {
		return eris.Wrapf(err, "archive: encode %s", location.Name)
	}

	s.lock.Lock()
	defer s.lock.Unlock()
	s.records = append(s.records, line)
	return nil
}

func (s *ArchiveSink) Len() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return len(s.records)
}

// Flush writes everything collected so far and resets the sink. Returns the
// paths/URLs written.
func (s *ArchiveSink) Flush(ctx context.Context) ([]string, error) {
	s.lock.Lock()
	records := s.records
	s.records = nil
	s.lock.Unlock()

	if len(records) == 0 {
		return nil, nil
	}

	body := append(bytes.Join(records, []byte("\n")), '\n')
	fileName := fmt.Sprintf("%s.%s.ndjson", s.Name, s.Now().UTC().Format("20060102T150405Z"))
	written := make([]string, 0, 2)

	if len(s.S3Bucket) > 0 {
		var location string
		var err error
		if s.S3Client != nil {
			location, err = putS3Object(ctx, s.S3Client, s.S3Region, s.S3Bucket, fileName, "application/x-ndjson", body)
		} else if HasAWSCredentials() {
			location, err = PutS3Object(ctx, s.S3Bucket, fileName, "application/x-ndjson", body)
		} else {
			Log.Warnf("Archive configured to send to S3 but no AWS credentials were found")
		}
		if err != nil {
			return written, err
		}
		if len(location) > 0 {
			Log.Debugf("Sent %d bytes to S3: %s", len(body), location)
			written = append(written, location)
		}
	}

	if len(s.DumpDir) > 0 {
		if err := os.MkdirAll(s.DumpDir, 0755); err != nil {
			return written, eris.Wrapf(err, "archive: create %s", s.DumpDir)
		}
		filePath := filepath.Join(s.DumpDir, fileName)
		if err := os.WriteFile(filePath, body, 0644); err != nil {
			return written, eris.Wrapf(err, "archive: write %s", filePath)
		}
		Log.Debugf("Wrote %d bytes to file: %s", len(body), filePath)
		written = append(written, filePath)
	}

	return written, nil
}

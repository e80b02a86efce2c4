package avail

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

const EndpointUrl = "url"
const EndpointMethod = "method"
const EndpointHeaders = "headers"
const EndpointTimeout = "timeout"
const EndpointDefaultTimeout = 30

const UserAgent = "covidwa-availability-loader/1.0"

// Endpoint is a single outbound HTTP call.
type Endpoint struct {
	Url                string
	Method             string
	Body               []byte
	Headers            []Header
	AllowedStatusCodes []int
	HttpClient         *http.Client
	Timeout            int
}

type Header struct {
	Name  string
	Value string
}

// NewEndpoint creates a GET endpoint with default settings.
func NewEndpoint(url string) *Endpoint {
	return &Endpoint{
		Url:     url,
		Method:  http.MethodGet,
		Headers: make([]Header, 0),
		Timeout: EndpointDefaultTimeout,
	}
}

// NewEndpointFromParams builds an endpoint from a config map like:
//
//	url: https://example.com/api
//	method: GET
//	headers:
//	  x-api-key: abc
//	timeout: 10
func NewEndpointFromParams(params map[string]interface{}) (*Endpoint, error) {
	url, err := getStringRequired(params, EndpointUrl)
	if err != nil {
		return nil, err
	}

	endpoint := NewEndpoint(url)
	if method, ok := getStringOptional(params, EndpointMethod); ok && len(method) > 0 {
		endpoint.Method = strings.ToUpper(method)
	}

	headers, err := getStringMapOptional(params, EndpointHeaders)
	if err != nil {
		return nil, err
	}
	for name, value := range headers {
		endpoint.AddHeader(name, value)
	}

	endpoint.Timeout, _ = getIntOptionalWithDefault(params, EndpointTimeout, EndpointDefaultTimeout)

	return endpoint, nil
}

func (endpoint *Endpoint) AddHeader(name string, value string) {
	endpoint.Headers = append(endpoint.Headers, Header{Name: name, Value: value})
}

func (endpoint *Endpoint) cacheKey() string {
	if endpoint.Method == http.MethodGet {
		return endpoint.Url
	}
	hash := sha256.Sum256(endpoint.Body)
	return fmt.Sprintf("%s|%s|%s", endpoint.Method, endpoint.Url, hex.EncodeToString(hash[:]))
}

// FetchCached is Fetch, but reuses a response fetched within the last ttl.
func (endpoint *Endpoint) FetchCached(ctx context.Context, cache *CacheInstance, name string, ttl time.Duration) (body []byte, cacheMiss bool, err error) {
	key := endpoint.cacheKey()

	body, ok := cache.GetOrLock(key).([]byte)
	if ok && body != nil {
		return body, false, nil
	}
	defer cache.Unlock(key)

	body, _, err = endpoint.Fetch(ctx, name)
	if err != nil {
		return body, true, err
	}
	cache.Put(key, body, ttl)

	return body, true, nil
}

// Fetch makes the request. A status other than 200 (or one of
// AllowedStatusCodes) is returned as an *ApiError along with the body.
func (endpoint *Endpoint) Fetch(ctx context.Context, name string) ([]byte, http.Header, error) {
	client := endpoint.HttpClient
	if client == nil {
		client = &http.Client{
			Timeout: time.Duration(endpoint.Timeout) * time.Second,
		}
	}

	var requestBody io.Reader
	if len(endpoint.Body) > 0 {
		requestBody = bytes.NewReader(endpoint.Body)
	}

	req, err := http.NewRequestWithContext(ctx, endpoint.Method, endpoint.Url, requestBody)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "%s: invalid request", name)
	}

	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Accept-Encoding", "gzip")
	for _, header := range endpoint.Headers {
		req.Header.Add(header.Name, header.Value)
	}

	resp, err := client.Do(req)
	if err != nil {
		Log.Debugf("WARNING: Error during fetch: %v", err)
		return nil, nil, eris.Wrapf(err, "%s: error fetching %s", name, endpoint.Url)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "%s: error reading %s", name, endpoint.Url)
	}

	// we asked for gzip ourselves, so the transport won't decompress for us
	if strings.EqualFold(resp.Header.Get("Content-Encoding"), "gzip") {
		Log.Debug("Decompressing gzipped content...")

		gzReader, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, nil, eris.Wrapf(err, "%s: bad gzip data from %s", name, endpoint.Url)
		}

		body, err = io.ReadAll(gzReader)
		if err != nil {
			return nil, nil, eris.Wrapf(err, "%s: bad gzip data from %s", name, endpoint.Url)
		}
	}

	Log.Debugf("%s: fetched %d bytes with status code %d from %s", name, len(body), resp.StatusCode, endpoint.Url)

	if resp.StatusCode != http.StatusOK && !endpoint.isAllowedStatus(resp.StatusCode) {
		return body, resp.Header, NewApiError(resp.StatusCode, endpoint.Url, body)
	}

	return body, resp.Header, nil
}

func (endpoint *Endpoint) isAllowedStatus(statusCode int) bool {
	for _, code := range endpoint.AllowedStatusCodes {
		if statusCode == code {
			return true
		}
	}
	return false
}

// Package api - Stream-basierte Client-Methoden.
// Dieses Modul enthaelt alle Methoden, die Streaming-Responses verwenden.

package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
)

const maxBufferSize = 8 << 20

func (c *Client) stream(ctx context.Context, method, path string, data any, fn func([]byte) error) error {
	var reqBody *bytes.Reader
	if data != nil {
		bts, err := json.Marshal(data)
		if err != nil {
			return err
		}

		reqBody = bytes.NewReader(bts)
	}

	requestURL := c.base.JoinPath(path)

	var request *http.Request
	var err error
	if reqBody != nil {
		request, err = http.NewRequestWithContext(ctx, method, requestURL.String(), reqBody)
	} else {
		request, err = http.NewRequestWithContext(ctx, method, requestURL.String(), nil)
	}
	if err != nil {
		return err
	}

	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Accept", "application/x-ndjson")
	request.Header.Set("User-Agent", userAgent())

	response, err := c.http.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	scanner := bufio.NewScanner(response.Body)
	// increase the buffer size to avoid running out of space
	scanBuf := make([]byte, 0, maxBufferSize)
	scanner.Buffer(scanBuf, maxBufferSize)
	for scanner.Scan() {
		var errorResponse struct {
			Error string `json:"error,omitempty"`
		}

		bts := scanner.Bytes()
		if err := json.Unmarshal(bts, &errorResponse); err != nil {
			if response.StatusCode >= http.StatusBadRequest {
				return StatusError{
					StatusCode:   response.StatusCode,
					Status:       response.Status,
					ErrorMessage: string(bts),
				}
			}
			return errors.New(string(bts))
		}

		if response.StatusCode >= http.StatusBadRequest {
			return StatusError{
				StatusCode:   response.StatusCode,
				Status:       response.Status,
				ErrorMessage: errorResponse.Error,
			}
		}

		if errorResponse.Error != "" {
			return errors.New(errorResponse.Error)
		}

		if err := fn(bts); err != nil {
			return err
		}
	}

	return scanner.Err()
}

// InferResponseFunc is a function that [Client.Infer] invokes every time
// a response is received from the service. If this function returns an error,
// [Client.Infer] will stop and return this error.
type InferResponseFunc func(InferResponse) error

// Infer runs one generation cycle for a prompt and an image. fn is called for
// each response (there may be multiple responses if streaming is enabled).
func (c *Client) Infer(ctx context.Context, req *InferRequest, fn InferResponseFunc) error {
	return c.stream(ctx, http.MethodPost, "/api/infer", req, func(bts []byte) error {
		var resp InferResponse
		if err := json.Unmarshal(bts, &resp); err != nil {
			return err
		}

		return fn(resp)
	})
}

// Package ibkr reads account statements from the Interactive Brokers Flex
// Web Service and normalizes them into broker snapshots.
package ibkr

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
)

// DefaultBaseURL is the Flex Web Service endpoint.
const DefaultBaseURL = "https://ndcdyn.interactivebrokers.com/AccountManagement/FlexWebService"

// Flex Web Service error codes with a distinct handling.
const (
	CodeTokenInvalid       = 1012
	CodeTokenExpired       = 1013
	CodeIPRestricted       = 1015
	CodeTooManyRequests    = 1018
	CodeGenerationPending  = 1019
	CodeStatementNotReady  = 1021
	CodeServiceUnavailable = 1001
)

// ErrMalformedResponse wraps responses that are neither a statement nor a
// Flex status document.
var ErrMalformedResponse = errors.New("malformed flex response")

// FlexError is an error reported by the Flex Web Service itself.
type FlexError struct {
	Code    int
	Message string
}

func (e *FlexError) Error() string {
	return fmt.Sprintf("ibkr error %d: %s", e.Code, e.Message)
}

// Client defines the interface for fetching Flex statements from Interactive Brokers.
// This interface enables dependency injection and testing with mock implementations.
type Client interface {
	RequestFlexReport(ctx context.Context, token string, queryID int) (FlexQueryResponse, []byte, error)
}

// FinanceClient requests a Flex statement and polls until it is generated.
type FinanceClient struct {
	httpClient   *http.Client
	baseURL      string
	pollInterval time.Duration
	maxPollDelay time.Duration
	maxPolls     int
	log          zerolog.Logger
}

// NewFinanceClient creates a new IBKR client. An empty baseURL selects DefaultBaseURL.
func NewFinanceClient(baseURL string, timeout time.Duration, log zerolog.Logger) *FinanceClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &FinanceClient{
		httpClient:   &http.Client{Timeout: timeout},
		baseURL:      baseURL,
		pollInterval: 2 * time.Second,
		maxPollDelay: 30 * time.Second,
		maxPolls:     10,
		log:          log,
	}
}

// WithPolling overrides the statement polling schedule.
func (c *FinanceClient) WithPolling(interval time.Duration, maxPolls int) *FinanceClient {
	c.pollInterval = interval
	c.maxPollDelay = interval * 16
	c.maxPolls = maxPolls
	return c
}

// RequestFlexReport submits the query and downloads the generated statement.
// The raw statement bytes are returned alongside the parsed document, and
// also on ErrMalformedResponse so callers can retain them.
func (c *FinanceClient) RequestFlexReport(ctx context.Context, token string, queryID int) (FlexQueryResponse, []byte, error) {
	if token == "" || queryID == 0 {
		return FlexQueryResponse{}, nil, &FlexError{Code: CodeTokenInvalid, Message: "token and query id are required"}
	}

	request, err := c.sendRequest(ctx, token, queryID)
	if err != nil {
		return FlexQueryResponse{}, nil, err
	}
	return c.getStatement(ctx, token, request)
}

func (c *FinanceClient) sendRequest(ctx context.Context, token string, queryID int) (FlexRequestResponse, error) {
	queryURL := fmt.Sprintf("%s/SendRequest?t=%s&q=%d&v=3", c.baseURL, url.QueryEscape(token), queryID)

	data, err := c.get(ctx, queryURL)
	if err != nil {
		return FlexRequestResponse{}, err
	}

	var response FlexRequestResponse
	if err := xml.Unmarshal(data, &response); err != nil {
		return FlexRequestResponse{}, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}
	if response.ErrorCode != nil {
		return response, flexError(response)
	}
	if response.Status != "Success" || response.ReferenceCode == "" {
		return response, fmt.Errorf("%w: request status %q", ErrMalformedResponse, response.Status)
	}
	return response, nil
}

func (c *FinanceClient) getStatement(ctx context.Context, token string, request FlexRequestResponse) (FlexQueryResponse, []byte, error) {
	statementURL := request.URL
	if statementURL == "" {
		statementURL = c.baseURL + "/GetStatement"
	}
	queryURL := fmt.Sprintf("%s?t=%s&q=%s&v=3", statementURL, url.QueryEscape(token), url.QueryEscape(request.ReferenceCode))

	backoff := c.pollInterval
	for attempt := 0; attempt < c.maxPolls; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return FlexQueryResponse{}, nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > c.maxPollDelay {
				backoff = c.maxPollDelay
			}
		}

		data, err := c.get(ctx, queryURL)
		if err != nil {
			return FlexQueryResponse{}, nil, err
		}

		var root struct{ XMLName xml.Name }
		if err := xml.Unmarshal(data, &root); err != nil {
			return FlexQueryResponse{}, data, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
		}

		if root.XMLName.Local == "FlexStatementResponse" {
			var status FlexRequestResponse
			if err := xml.Unmarshal(data, &status); err != nil {
				return FlexQueryResponse{}, data, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
			}
			if status.ErrorCode != nil &&
				(*status.ErrorCode == CodeGenerationPending || *status.ErrorCode == CodeStatementNotReady) {
				c.log.Debug().Int("attempt", attempt+1).Int("code", *status.ErrorCode).Msg("flex statement not ready")
				continue
			}
			return FlexQueryResponse{}, data, flexError(status)
		}

		var response FlexQueryResponse
		if err := xml.Unmarshal(data, &response); err != nil {
			return FlexQueryResponse{}, data, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
		}
		return response, data, nil
	}

	return FlexQueryResponse{}, nil, &FlexError{
		Code:    CodeStatementNotReady,
		Message: fmt.Sprintf("statement not ready after %d polls", c.maxPolls),
	}
}

func (c *FinanceClient) get(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "portfolio-snapshot/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("flex request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read flex response: %w", err)
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, &FlexError{Code: CodeServiceUnavailable, Message: fmt.Sprintf("http status %d", resp.StatusCode)}
	}
	return data, nil
}

func flexError(r FlexRequestResponse) *FlexError {
	fe := &FlexError{Code: -1, Message: "unknown error"}
	if r.ErrorCode != nil {
		fe.Code = *r.ErrorCode
	}
	if r.ErrorMessage != nil {
		fe.Message = *r.ErrorMessage
	}
	return fe
}

package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/lcerda/pushledger/internal/retry"
)

const defaultSendTimeout = 10 * time.Second

type multicastRequest struct {
	Tokens []string          `json:"tokens"`
	Title  string            `json:"title,omitempty"`
	Body   string            `json:"body,omitempty"`
	Data   map[string]string `json:"data,omitempty"`
}

type multicastResponse struct {
	Results []tokenResult `json:"results"`
}

type tokenResult struct {
	MessageID string `json:"messageId,omitempty"`
	Error     string `json:"error,omitempty"`
	Message   string `json:"message,omitempty"`
}

// HTTPGateway sends multicast pushes to an FCM-compatible HTTP endpoint.
type HTTPGateway struct {
	client   *resty.Client
	endpoint string
}

var _ Gateway = (*HTTPGateway)(nil)

func NewHTTPGateway(endpoint string, authToken string) (*HTTPGateway, error) {
	client := resty.New()
	client.SetTimeout(defaultSendTimeout)
	client.SetRetryCount(0)
	if authToken != "" {
		client.SetAuthToken(authToken)
	}

	return NewHTTPGatewayWithClient(endpoint, client)
}

func NewHTTPGatewayWithClient(endpoint string, client *resty.Client) (*HTTPGateway, error) {
	trimmedEndpoint := strings.TrimSpace(endpoint)
	if trimmedEndpoint == "" {
		return nil, fmt.Errorf("push gateway endpoint is required")
	}
	if _, err := url.ParseRequestURI(trimmedEndpoint); err != nil {
		return nil, fmt.Errorf("invalid push gateway endpoint: %w", err)
	}
	if client == nil {
		return nil, fmt.Errorf("resty client is required")
	}

	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultSendTimeout)
	}
	client.SetRetryCount(0)

	return &HTTPGateway{
		client:   client,
		endpoint: trimmedEndpoint,
	}, nil
}

func (g *HTTPGateway) SendMulticast(ctx context.Context, tokens []string, msg Message) (*BatchResponse, error) {
	if g == nil || g.client == nil {
		return nil, fmt.Errorf("gateway is not initialized")
	}
	if len(tokens) == 0 {
		return &BatchResponse{}, nil
	}

	var parsed multicastResponse
	response, err := g.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(multicastRequest{
			Tokens: tokens,
			Title:  msg.Title,
			Body:   msg.Body,
			Data:   msg.Data,
		}).
		SetResult(&parsed).
		Post(g.endpoint)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, &retry.TransientError{Err: fmt.Errorf("push gateway request failed: %w", err)}
	}

	statusCode := response.StatusCode()
	if statusCode < http.StatusOK || statusCode >= http.StatusMultipleChoices {
		if isTransientHTTPStatus(statusCode) {
			return nil, &retry.TransientError{
				Err: fmt.Errorf("push gateway returned status %d", statusCode),
			}
		}
		return nil, &SendError{
			Reason:  ReasonInternal,
			Message: fmt.Sprintf("push gateway returned status %d", statusCode),
		}
	}

	if len(parsed.Results) != len(tokens) {
		return nil, &SendError{
			Reason:  ReasonInternal,
			Message: fmt.Sprintf("push gateway returned %d results for %d tokens", len(parsed.Results), len(tokens)),
		}
	}

	batch := &BatchResponse{Results: make([]SendResult, len(parsed.Results))}
	for i, result := range parsed.Results {
		if result.Error == "" {
			batch.Results[i] = SendResult{MessageID: result.MessageID}
			batch.SuccessCount++
			continue
		}
		batch.Results[i] = SendResult{Err: &SendError{
			Reason:  parseReason(result.Error),
			Message: result.Message,
		}}
		batch.FailureCount++
	}
	return batch, nil
}

func isTransientHTTPStatus(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || (statusCode >= http.StatusInternalServerError && statusCode <= 599)
}

func parseReason(code string) Reason {
	switch Reason(strings.ToLower(strings.TrimSpace(code))) {
	case ReasonUnregistered:
		return ReasonUnregistered
	case ReasonInvalidToken:
		return ReasonInvalidToken
	case ReasonUnavailable:
		return ReasonUnavailable
	case ReasonInternal:
		return ReasonInternal
	default:
		return ReasonUnknown
	}
}

package payout

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/walletledger/internal/logger"
	"github.com/nkiryanov/walletledger/internal/models"
)

const (
	CodeRetryAfter = "retry-after"
	CodeNotFound   = "not-found"
	CodeUnknown    = "unknown"
)

const (
	requestTimeout    = 5 * time.Second
	defaultRetryAfter = 60 // seconds
)

type Error struct {
	Code string

	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	return fmt.Sprintf("code: %s, retry_after: %s, error: %v", e.Code, e.RetryAfter, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewError(code string, retryAfter int, err error) *Error {
	return &Error{
		Code:       code,
		RetryAfter: time.Duration(retryAfter) * time.Second,
		Err:        err,
	}
}

// Payout as known by the processor
type Status struct {
	Reference uuid.UUID `json:"reference"`
	Status    string    `json:"status"`
	Reason    string    `json:"reason,omitempty"`
}

type Client struct {
	ProcessorAddr string

	client *http.Client
	logger logger.Logger
}

func NewClient(addr string, l logger.Logger) *Client {
	return &Client{
		ProcessorAddr: strings.TrimRight(addr, "/"),
		client:        &http.Client{},
		logger:        l.With("component", "payout_client"),
	}
}

// Send instruction to the processor. The processor deduplicates by instruction reference
func (c *Client) Send(ctx context.Context, instruction models.PayoutInstruction) error {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	body, err := json.Marshal(instruction)
	if err != nil {
		return NewError(CodeUnknown, 0, fmt.Errorf("failed to encode instruction: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.ProcessorAddr+"/api/payouts", bytes.NewReader(body))
	if err != nil {
		return NewError(CodeUnknown, 0, fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return NewError(CodeUnknown, 0, fmt.Errorf("failed to send request: %w", err))
	}
	defer resp.Body.Close() // nolint:errcheck

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusAccepted, http.StatusConflict:
		// Conflict means the reference was sent before
		c.logger.Debug("Payout accepted", "reference", instruction.Reference, "status_code", resp.StatusCode)
		return nil
	case http.StatusTooManyRequests:
		return c.processTooManyRequests(resp)
	default:
		c.logger.Warn("Failed to send payout", "status_code", resp.StatusCode, "reference", instruction.Reference)
		return NewError(CodeUnknown, 0, fmt.Errorf("unknown status code %d for payout %s", resp.StatusCode, instruction.Reference))
	}
}

func (c *Client) GetStatus(ctx context.Context, reference uuid.UUID) (Status, error) {
	var s Status

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.ProcessorAddr+"/api/payouts/"+reference.String(), nil)
	if err != nil {
		return s, NewError(CodeUnknown, 0, fmt.Errorf("failed to create request: %w", err))
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return s, NewError(CodeUnknown, 0, fmt.Errorf("failed to send request: %w", err))
	}
	defer resp.Body.Close() // nolint:errcheck

	switch resp.StatusCode {
	case http.StatusOK:
		if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
			c.logger.Warn("Failed to decode response", "error", err)
			return s, NewError(CodeUnknown, 0, fmt.Errorf("failed to decode response: %w", err))
		}
		c.logger.Debug("Payout status", "reference", s.Reference, "status", s.Status)
		return s, nil
	case http.StatusTooManyRequests:
		return s, c.processTooManyRequests(resp)
	case http.StatusNotFound:
		return s, NewError(CodeNotFound, 0, fmt.Errorf("payout %s is unknown to processor", reference))
	default:
		c.logger.Warn("Failed to get payout", "status_code", resp.StatusCode, "reference", reference)
		return s, NewError(CodeUnknown, 0, fmt.Errorf("unknown status code %d for payout %s", resp.StatusCode, reference))
	}
}

func (c *Client) processTooManyRequests(resp *http.Response) error {
	header := resp.Header.Get("Retry-After")
	retryAfter, err := strconv.Atoi(strings.TrimSpace(header))
	if err != nil {
		retryAfter = defaultRetryAfter
	}

	c.logger.Warn("Payout processor throttled", "retry_after", retryAfter)
	return NewError(CodeRetryAfter, retryAfter, fmt.Errorf("retry after %d seconds", retryAfter))
}

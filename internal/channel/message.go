package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Actions exchanged over the port.
const (
	ActionGetStats      = "getStats"
	ActionUpdateFilter  = "updateFilter"
	ActionSelectAll     = "selectAll"
	ActionUserLoggedIn  = "userLoggedIn"
	ActionUserLoggedOut = "userLoggedOut"
	ActionForceInject   = "forceInject"
	ActionSaveOffer     = "saveOffer"
	ActionDownload      = "download"
	ActionUpdateStats   = "updateStats"
)

// Filter names accepted by updateFilter.
const (
	FilterTopic     = "topic"
	FilterMinActive = "minActive"
)

var (
	// ErrUnavailable is returned when the other side of the port is gone.
	ErrUnavailable = errors.New("channel unavailable")

	// ErrUnknownAction is reported for actions without a handler.
	ErrUnknownAction = errors.New("unknown action")

	// ErrInvalidPayload is reported when a payload does not decode.
	ErrInvalidPayload = errors.New("invalid payload")
)

// Port sends a request and waits for its response. A returned error means
// the transport failed; a handler failure is a Response with Success false.
type Port interface {
	Send(ctx context.Context, req Request) (Response, error)
}

// Request is one message sent over a Port.
type Request struct {
	Action  string          `json:"action"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewRequest encodes payload into a request. A nil payload is omitted.
func NewRequest(action string, payload any) (Request, error) {
	req := Request{Action: action}
	if payload == nil {
		return req, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Request{}, fmt.Errorf("failed to encode %s payload: %w", action, err)
	}
	req.Payload = data
	return req, nil
}

// Response answers a Request.
type Response struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Decode unmarshals the response data into v.
func (r Response) Decode(v any) error {
	if len(r.Data) == 0 {
		return fmt.Errorf("%w: empty response data", ErrInvalidPayload)
	}
	if err := json.Unmarshal(r.Data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}

// Err returns the handler failure carried by the response, or nil.
func (r Response) Err() error {
	if r.Success {
		return nil
	}
	if r.Error == "" {
		return errors.New("request failed")
	}
	return errors.New(r.Error)
}

// UpdateFilterPayload changes one persisted filter setting.
type UpdateFilterPayload struct {
	Filter string          `json:"filter"`
	Value  json.RawMessage `json:"value"`
}

// UserLoggedInPayload announces a login.
type UserLoggedInPayload struct {
	Email string `json:"email"`
}

// SaveOfferPayload asks the background to persist an offer.
type SaveOfferPayload struct {
	OfferName         string `json:"offerName"`
	ExternalReference string `json:"externalReference"`
}

// DownloadPayload asks the background to fetch one media file.
type DownloadPayload struct {
	URL      string `json:"url"`
	Filename string `json:"filename"`
}

// Send encodes payload, sends it and turns handler failures into errors.
// It is the common path for request/response calls.
func Send(ctx context.Context, port Port, action string, payload any) (Response, error) {
	req, err := NewRequest(action, payload)
	if err != nil {
		return Response{}, err
	}
	resp, err := port.Send(ctx, req)
	if err != nil {
		return Response{}, fmt.Errorf("%s: %w", action, err)
	}
	if err := resp.Err(); err != nil {
		return resp, fmt.Errorf("%s: %w", action, err)
	}
	return resp, nil
}

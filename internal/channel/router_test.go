package channel

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	adslog "github.com/nao1215/adsweep/internal/log"
)

func newTestRouter() *Router {
	return NewRouter(WithRouterLogger(adslog.Discard()))
}

func TestRouterSend(t *testing.T) {
	t.Parallel()

	r := newTestRouter()
	r.Handle("echo", func(_ context.Context, payload json.RawMessage) (any, error) {
		var v map[string]string
		if err := Decode(payload, &v); err != nil {
			return nil, err
		}
		return v, nil
	})
	r.Handle("fail", func(context.Context, json.RawMessage) (any, error) {
		return nil, errors.New("handler exploded")
	})
	r.Handle("empty", func(context.Context, json.RawMessage) (any, error) {
		return nil, nil
	})
	r.Handle("unencodable", func(context.Context, json.RawMessage) (any, error) {
		return make(chan int), nil
	})

	if r.Actions() != 4 {
		t.Errorf("expected 4 actions, got %d", r.Actions())
	}

	t.Run("success with data", func(t *testing.T) {
		t.Parallel()

		resp, err := Send(context.Background(), r, "echo", map[string]string{"k": "v"})
		if err != nil {
			t.Fatal(err)
		}
		var got map[string]string
		if err := resp.Decode(&got); err != nil {
			t.Fatal(err)
		}
		if got["k"] != "v" {
			t.Errorf("expected echoed payload, got %v", got)
		}
	})

	t.Run("success without data", func(t *testing.T) {
		t.Parallel()

		resp, err := Send(context.Background(), r, "empty", nil)
		if err != nil {
			t.Fatal(err)
		}
		if !resp.Success || len(resp.Data) != 0 {
			t.Errorf("expected bare success, got %+v", resp)
		}
		if err := resp.Decode(&struct{}{}); !errors.Is(err, ErrInvalidPayload) {
			t.Errorf("expected ErrInvalidPayload decoding empty data, got %v", err)
		}
	})

	t.Run("handler failure is a response", func(t *testing.T) {
		t.Parallel()

		req, _ := NewRequest("fail", nil)
		resp, err := r.Send(context.Background(), req)
		if err != nil {
			t.Fatalf("expected no transport error, got %v", err)
		}
		if resp.Success || resp.Error != "handler exploded" {
			t.Errorf("unexpected response %+v", resp)
		}
		if _, err := Send(context.Background(), r, "fail", nil); err == nil || !strings.Contains(err.Error(), "fail: handler exploded") {
			t.Errorf("expected Send to surface the handler error, got %v", err)
		}
	})

	t.Run("unknown action", func(t *testing.T) {
		t.Parallel()

		resp, err := Send(context.Background(), r, "missing", nil)
		if err == nil {
			t.Fatal("expected an error")
		}
		if resp.Success || !strings.Contains(resp.Error, ErrUnknownAction.Error()) {
			t.Errorf("expected unknown action response, got %+v", resp)
		}
	})

	t.Run("missing payload", func(t *testing.T) {
		t.Parallel()

		_, err := Send(context.Background(), r, "echo", nil)
		if err == nil || !strings.Contains(err.Error(), ErrInvalidPayload.Error()) {
			t.Errorf("expected invalid payload, got %v", err)
		}
	})

	t.Run("unencodable result", func(t *testing.T) {
		t.Parallel()

		resp, err := r.Send(context.Background(), Request{Action: "unencodable"})
		if err != nil {
			t.Fatal(err)
		}
		if resp.Success || !strings.Contains(resp.Error, "failed to encode response") {
			t.Errorf("expected encode failure, got %+v", resp)
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if _, err := Send(ctx, r, "empty", nil); !errors.Is(err, ErrUnavailable) {
			t.Errorf("expected ErrUnavailable, got %v", err)
		}
	})
}

func TestRouterClose(t *testing.T) {
	t.Parallel()

	r := newTestRouter()
	r.Handle("ping", func(context.Context, json.RawMessage) (any, error) { return "pong", nil })
	r.Close()

	if _, err := Send(context.Background(), r, "ping", nil); !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable after Close, got %v", err)
	}
}

func TestRouterHandleReplaces(t *testing.T) {
	t.Parallel()

	r := newTestRouter()
	r.Handle("v", func(context.Context, json.RawMessage) (any, error) { return 1, nil })
	r.Handle("v", func(context.Context, json.RawMessage) (any, error) { return 2, nil })

	resp, err := Send(context.Background(), r, "v", nil)
	if err != nil {
		t.Fatal(err)
	}
	var got int
	if err := resp.Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got != 2 || r.Actions() != 1 {
		t.Errorf("expected the later handler to win, got %d with %d actions", got, r.Actions())
	}
}

func TestNewRequest(t *testing.T) {
	t.Parallel()

	req, err := NewRequest(ActionSaveOffer, SaveOfferPayload{OfferName: "Kit", ExternalReference: "ref"})
	if err != nil {
		t.Fatal(err)
	}
	if want := `{"offerName":"Kit","externalReference":"ref"}`; string(req.Payload) != want {
		t.Errorf("expected payload %s, got %s", want, req.Payload)
	}

	if _, err := NewRequest("bad", make(chan int)); err == nil {
		t.Error("expected an encoding error")
	}

	req, err = NewRequest(ActionGetStats, nil)
	if err != nil || req.Payload != nil {
		t.Errorf("expected no payload, got %s (%v)", req.Payload, err)
	}
}

func TestResponseErr(t *testing.T) {
	t.Parallel()

	if err := (Response{Success: true}).Err(); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
	if err := (Response{}).Err(); err == nil || err.Error() != "request failed" {
		t.Errorf("expected generic failure, got %v", err)
	}
	if err := (Response{Error: "nope"}).Err(); err == nil || err.Error() != "nope" {
		t.Errorf("expected carried failure, got %v", err)
	}
}

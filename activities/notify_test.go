package activities

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/andrius0/pancake"
)

func TestNotifyAcknowledgements(t *testing.T) {
	n := NewNotifier()
	ctx := context.Background()

	res := n.Notify(ctx, "order-1", pancake.MsgOrderCompleted)
	if res.Acknowledgement != AckCompleted {
		t.Errorf("ack = %q, want %q", res.Acknowledgement, AckCompleted)
	}

	res = n.Notify(ctx, "order-1", pancake.MsgInsufficientIngredients)
	if res.Acknowledgement != AckNotCompleted {
		t.Errorf("ack = %q, want %q", res.Acknowledgement, AckNotCompleted)
	}
}

func TestNotifyHandlerWire(t *testing.T) {
	handler := NotifyHandler(NewNotifier())

	input, _ := json.Marshal(pancake.NotifyInput{OrderID: "order-2", Message: pancake.MsgOrderCompleted})
	result, err := handler(context.Background(), input)
	if err != nil {
		t.Fatalf("handler: %v", err)
	}

	var res NotifyResult
	if err := json.Unmarshal(result, &res); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if res.Acknowledgement != AckCompleted {
		t.Errorf("ack = %q, want %q", res.Acknowledgement, AckCompleted)
	}

	if _, err := handler(context.Background(), json.RawMessage(`nope`)); err == nil {
		t.Error("malformed input accepted")
	}
}

func TestSingularFallback(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"eggs", "egg"},
		{"blueberries", "blueberry"},
		{"flour", "flour"},
		{"pancakes", "pancake"},
	}
	for _, c := range cases {
		if got := singular(c.in); got != c.want {
			t.Errorf("singular(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

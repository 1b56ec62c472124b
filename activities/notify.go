package activities

import (
	"context"
	"encoding/json"
	"log"

	"github.com/andrius0/pancake"
)

// Notification acknowledgements.
const (
	AckCompleted    = "order completed"
	AckNotCompleted = "order not completed"
)

// NotifyResult is the notify activity's acknowledgement payload.
type NotifyResult struct {
	Acknowledgement string `json:"acknowledgement"`
}

// Notifier delivers a customer notification and acks it. Delivery here
// is a log line; real channels plug in behind the same handler.
type Notifier struct{}

// NewNotifier creates a Notifier.
func NewNotifier() *Notifier {
	return &Notifier{}
}

// Notify acknowledges the message for the order.
func (n *Notifier) Notify(ctx context.Context, orderID, message string) NotifyResult {
	if message == pancake.MsgOrderCompleted {
		log.Printf("notify: order %s completed", orderID)
		return NotifyResult{Acknowledgement: AckCompleted}
	}
	log.Printf("notify: order %s not completed: %s", orderID, message)
	return NotifyResult{Acknowledgement: AckNotCompleted}
}

// NotifyHandler adapts the notifier to the dispatch wire format.
func NotifyHandler(n *Notifier) pancake.ActivityFunc {
	return func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
		var in pancake.NotifyInput
		if err := json.Unmarshal(input, &in); err != nil {
			return nil, pancake.NewActivityError(
				pancake.ActivityNotify, pancake.KindValidation,
				"malformed input: "+err.Error())
		}
		return json.Marshal(n.Notify(ctx, in.OrderID, in.Message))
	}
}

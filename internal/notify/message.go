package notify

import (
	"bufio"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jogardn/pharmacy-portal/pkg/models"
)

type EventType string

const (
	EventOrderExpired          EventType = "order_expired"
	EventOrderStatusChanged    EventType = "order_status_changed"
	EventOrderProposalAnswered EventType = "order_proposal_answered"
)

const ReasonNoCustomerResponse = "No customer response"

var markers = map[EventType]string{
	EventOrderExpired:          "[ORDER_EXPIRED]",
	EventOrderStatusChanged:    "[ORDER_STATUS_CHANGED]",
	EventOrderProposalAnswered: "[ORDER_PROPOSAL_ANSWERED]",
}

// OrderEvent is the structured payload of an order_event notification.
type OrderEvent struct {
	Type    EventType     `json:"type"`
	OrderID string        `json:"order_id"`
	Status  models.Status `json:"status"`
	Reason  string        `json:"reason,omitempty"`
}

// Message is either a chat message (Event == nil) or an order event.
type Message struct {
	Kind  models.NotificationKind `json:"kind"`
	Text  string                  `json:"text"`
	Event *OrderEvent             `json:"event,omitempty"`
}

func Chat(text string) Message {
	return Message{Kind: models.KindChat, Text: text}
}

func Event(e OrderEvent) Message {
	return Message{Kind: models.KindOrderEvent, Event: &e}
}

func Expired(orderID string) Message {
	return Event(OrderEvent{
		Type:    EventOrderExpired,
		OrderID: orderID,
		Status:  models.StatusCancelled,
		Reason:  ReasonNoCustomerResponse,
	})
}

// Render returns the display projection. Order events render as
// newline-delimited key:value lines headed by the event marker.
func (m Message) Render() string {
	if m.Event == nil {
		return m.Text
	}

	var b strings.Builder
	b.WriteString(markers[m.Event.Type])
	fmt.Fprintf(&b, "\nOrder ID: %s", m.Event.OrderID)
	if m.Event.Reason != "" {
		fmt.Fprintf(&b, "\nReason: %s", m.Event.Reason)
	}
	fmt.Fprintf(&b, "\nStatus: %s", m.Event.Status)
	if m.Text != "" {
		b.WriteString("\n\n")
		b.WriteString(m.Text)
	}
	return b.String()
}

// Parse recovers a Message from rendered content. Content without a known
// marker on its first line is a chat message.
func Parse(content string) Message {
	scanner := bufio.NewScanner(strings.NewReader(content))
	if !scanner.Scan() {
		return Chat(content)
	}

	first := strings.TrimSpace(scanner.Text())
	var eventType EventType
	for t, marker := range markers {
		if first == marker {
			eventType = t
		}
	}
	if eventType == "" {
		return Chat(content)
	}

	event := OrderEvent{Type: eventType}
	var trailing []string
	inBody := false
	for scanner.Scan() {
		line := scanner.Text()
		if inBody {
			trailing = append(trailing, line)
			continue
		}
		if strings.TrimSpace(line) == "" {
			inBody = true
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.TrimSpace(key) {
		case "Order ID":
			event.OrderID = value
		case "Reason":
			event.Reason = value
		case "Status":
			event.Status = models.Status(value)
		}
	}

	msg := Event(event)
	msg.Text = strings.Join(trailing, "\n")
	return msg
}

// ToNotification builds the persisted record for a message sent from sender to
// receiver.
func (m Message) ToNotification(senderID, receiverID string) (*models.Notification, error) {
	n := &models.Notification{
		ID:         uuid.New().String(),
		SenderID:   senderID,
		ReceiverID: receiverID,
		Kind:       m.Kind,
		Content:    m.Render(),
		CreatedAt:  time.Now().UTC(),
	}
	if m.Event != nil {
		payload, err := json.Marshal(m.Event)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal order event: %w", err)
		}
		n.Payload = payload
	}
	return n, nil
}

// FromNotification prefers the structured payload and falls back to parsing the
// rendered content for records written without one.
func FromNotification(n *models.Notification) Message {
	if n.Kind == models.KindOrderEvent && len(n.Payload) > 0 {
		var event OrderEvent
		if err := json.Unmarshal(n.Payload, &event); err == nil {
			return Event(event)
		}
	}
	if n.Kind == models.KindChat {
		return Chat(n.Content)
	}
	return Parse(n.Content)
}

package notify

import (
	"testing"

	"github.com/jogardn/pharmacy-portal/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpiredRender(t *testing.T) {
	content := Expired("ord-1").Render()

	assert.Equal(t, "[ORDER_EXPIRED]\nOrder ID: ord-1\nReason: No customer response\nStatus: cancelled", content)
}

func TestParseRecoversEvent(t *testing.T) {
	msg := Event(OrderEvent{
		Type:    EventOrderStatusChanged,
		OrderID: "ord-9",
		Status:  models.StatusReady,
	})
	msg.Text = "Your order is ready.\nBring your ID."

	parsed := Parse(msg.Render())

	require.NotNil(t, parsed.Event)
	assert.Equal(t, models.KindOrderEvent, parsed.Kind)
	assert.Equal(t, EventOrderStatusChanged, parsed.Event.Type)
	assert.Equal(t, "ord-9", parsed.Event.OrderID)
	assert.Equal(t, models.StatusReady, parsed.Event.Status)
	assert.Empty(t, parsed.Event.Reason)
	assert.Equal(t, "Your order is ready.\nBring your ID.", parsed.Text)
}

func TestParseChat(t *testing.T) {
	for _, content := range []string{"", "hello", "Order ID: 123\nStatus: ready", "[UNKNOWN]\nOrder ID: 1"} {
		msg := Parse(content)
		assert.Equal(t, models.KindChat, msg.Kind, content)
		assert.Nil(t, msg.Event)
		assert.Equal(t, content, msg.Text)
	}
}

func TestToNotificationCarriesPayload(t *testing.T) {
	n, err := Expired("ord-1").ToNotification("pharmacy-1", "patient-1")
	require.NoError(t, err)

	assert.NotEmpty(t, n.ID)
	assert.Equal(t, "pharmacy-1", n.SenderID)
	assert.Equal(t, "patient-1", n.ReceiverID)
	assert.Equal(t, models.KindOrderEvent, n.Kind)
	assert.Contains(t, n.Content, "[ORDER_EXPIRED]")
	assert.JSONEq(t, `{"type":"order_expired","order_id":"ord-1","status":"cancelled","reason":"No customer response"}`, string(n.Payload))

	back := FromNotification(n)
	require.NotNil(t, back.Event)
	assert.Equal(t, "ord-1", back.Event.OrderID)
}

func TestFromNotificationWithoutPayload(t *testing.T) {
	n := &models.Notification{
		Kind:    models.KindOrderEvent,
		Content: "[ORDER_EXPIRED]\nOrder ID: legacy\nReason: No customer response\nStatus: cancelled",
	}

	msg := FromNotification(n)
	require.NotNil(t, msg.Event)
	assert.Equal(t, "legacy", msg.Event.OrderID)
	assert.Equal(t, EventOrderExpired, msg.Event.Type)

	chat := FromNotification(&models.Notification{Kind: models.KindChat, Content: "[ORDER_EXPIRED]"})
	assert.Nil(t, chat.Event)
}

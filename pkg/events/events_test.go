package events

import (
	"testing"
	"time"

	"github.com/kwgt/luwiki-sub000/pkg/types"
	"github.com/stretchr/testify/assert"
)

func TestBrokerPublishDeliversToSubscriber(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	sub := b.Subscribe()
	defer b.Unsubscribe(sub)

	pageID := types.NewPageId()
	b.Publish(&Event{Type: EventPageCreated, PageId: pageID, Path: "/x"})

	select {
	case ev := <-sub:
		assert.Equal(t, EventPageCreated, ev.Type)
		assert.Equal(t, pageID, ev.PageId)
		assert.False(t, ev.Timestamp.IsZero())
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestBrokerSubscriberCount(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	assert.Equal(t, 0, b.SubscriberCount())

	sub := b.Subscribe()
	assert.Equal(t, 1, b.SubscriberCount())

	b.Unsubscribe(sub)
	assert.Equal(t, 0, b.SubscriberCount())
}

func TestBrokerPublishWithoutSubscribersDoesNotBlock(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	done := make(chan struct{})
	go func() {
		b.Publish(&Event{Type: EventAssetDeleted})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked with no subscribers")
	}
}

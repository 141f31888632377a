package server

import (
	"encoding/json"

	"github.com/citizenweb/kraken/messages"
	"github.com/citizenweb/kraken/records"
	"github.com/citizenweb/kraken/storage"
)

// Realtime event names as clients know them
const (
	EventNotification = "sendNotification"
	EventModelPush    = "modelPush"
	EventModelPurge   = "modelPurge"
)

// runBridge forwards store pub/sub events to websocket clients. One
// goroutine, stopped only by context cancellation.
func (s *Server) runBridge() {
	defer s.wg.Done()

	sub, err := s.store.Subscribe(s.ctx,
		messages.Channel,
		records.PushChannel,
		records.PurgeChannel,
	)
	if err != nil {
		s.logger.Errorw("Realtime bridge failed to subscribe", "error", err)
		return
	}
	defer sub.Close()

	for {
		select {
		case <-s.ctx.Done():
			return
		case msg, ok := <-sub.Messages():
			if !ok {
				return
			}
			s.forward(msg)
		}
	}
}

func (s *Server) forward(msg storage.Message) {
	var event string
	switch msg.Channel {
	case messages.Channel:
		event = EventNotification
	case records.PushChannel:
		event = EventModelPush
	case records.PurgeChannel:
		event = EventModelPurge
	default:
		return
	}

	var data interface{}
	if err := json.Unmarshal([]byte(msg.Payload), &data); err != nil {
		s.logger.Warnw("Dropping malformed realtime payload",
			"channel", msg.Channel,
			"error", err,
		)
		return
	}
	s.broadcast(event, data)
}

// broadcast hands a frame to the hub, which owns fan-out. Sending and
// closing a client's channel are thereby serialized on one goroutine; a
// client disconnecting mid-broadcast can never panic the sender.
func (s *Server) broadcast(event string, data interface{}) {
	select {
	case s.frames <- &frame{Type: event, Data: data}:
	case <-s.ctx.Done():
	}
}

/******************************************************************************
 *
 *  Description :
 *
 *    Main hub for routing messages and attach/detach requests to chat
 *    channels, creating channel actors on demand and retiring idle ones.
 *
 *****************************************************************************/

package main

import (
	"sync"
	"time"

	"github.com/oxytalk/chat/server/logs"
)

// Request to hub to attach a session to a channel.
type sessionJoin struct {
	// Message containing the request details.
	pkt *ClientComMessage
	// Session to attach.
	sess *Session
}

// Session wants to leave the channel.
type sessionLeave struct {
	// Message containing the request details. Nil if the session is
	// disconnecting.
	pkt *ClientComMessage
	// Session which initiated the request.
	sess *Session
}

// Request to shut down a channel actor.
type shutDown struct {
	// Channel for reporting completion.
	done chan<- bool
}

// Channel asks the hub to retire it after sitting idle.
type chanUnreg struct {
	name string
	ch   *Channel
}

// Hub is the core structure which holds channels.
type Hub struct {
	// Channels indexed by name.
	channels *sync.Map

	// Channel for routing messages to chat channels, buffered at 4096.
	route chan *ServerComMessage

	// Attach a session to a channel, possibly creating a new channel actor,
	// buffered at 256.
	join chan *sessionJoin

	// Remove an idle channel from the hub, buffered at 32.
	unreg chan *chanUnreg

	// Request to shutdown, unbuffered.
	shutdown chan chan<- bool
}

func (h *Hub) channelGet(name string) *Channel {
	if ch, ok := h.channels.Load(name); ok {
		return ch.(*Channel)
	}
	return nil
}

func (h *Hub) channelPut(name string, ch *Channel) {
	h.channels.Store(name, ch)
	statsChannelsInc(1)
}

func (h *Hub) channelDel(name string) {
	h.channels.Delete(name)
	statsChannelsInc(-1)
}

func newHub() *Hub {
	h := &Hub{
		channels: &sync.Map{},
		route:    make(chan *ServerComMessage, 4096),
		join:     make(chan *sessionJoin, 256),
		unreg:    make(chan *chanUnreg, 32),
		shutdown: make(chan chan<- bool),
	}

	go h.run()

	return h
}

// getOrCreate loads the channel actor, starting a new one if the channel is
// not yet live.
func (h *Hub) getOrCreate(name string) *Channel {
	ch := h.channelGet(name)
	if ch == nil {
		ch = newChannel(name)
		h.channelPut(name, ch)
		go ch.run(h)
	}
	return ch
}

func (h *Hub) run() {
	for {
		select {
		case join := <-h.join:
			ch := h.getOrCreate(join.pkt.Chat)
			select {
			case ch.reg <- join:
			default:
				join.sess.queueOut(ErrUnknown(join.pkt.Id, join.pkt.Chat, join.pkt.Timestamp))
				logs.Err.Println("hub: channel's reg queue full", join.pkt.Chat, join.sess.sid)
			}

		case msg := <-h.route:
			if msg.Data != nil {
				// Channel is created on demand so the message reaches the
				// durable log even when nobody is attached.
				ch := h.getOrCreate(msg.RcptTo)
				select {
				case ch.broadcast <- msg:
				default:
					logs.Err.Println("hub: channel's broadcast queue full", msg.RcptTo)
					msg.sess.queueOut(ErrUnknown(msg.Id, msg.RcptTo, time.Now().UTC()))
				}
			} else if dst := h.channelGet(msg.RcptTo); dst != nil {
				// Transient notifications are worth relaying only to a live
				// channel; otherwise they are silently dropped.
				select {
				case dst.broadcast <- msg:
				default:
					logs.Warning.Println("hub: dropped transient message, queue full", msg.RcptTo)
				}
			}

		case unreg := <-h.unreg:
			// Retire the channel only if it is still the registered actor
			// and nothing is pending for it.
			if h.channelGet(unreg.name) == unreg.ch &&
				unreg.ch.sessionCount() == 0 && len(unreg.ch.reg) == 0 {
				h.channelDel(unreg.name)
				unreg.ch.exit <- &shutDown{}
			}

		case hubdone := <-h.shutdown:
			chansdone := make(chan bool)
			count := 0
			h.channels.Range(func(_, ch any) bool {
				ch.(*Channel).exit <- &shutDown{done: chansdone}
				count++
				return true
			})

			for i := 0; i < count; i++ {
				<-chansdone
			}

			logs.Info.Printf("Hub shutdown completed with %d channels", count)

			// Let the main goroutine know the cleanup is done.
			hubdone <- true

			return
		}
	}
}

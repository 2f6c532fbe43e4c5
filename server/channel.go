/******************************************************************************
 *
 *  Description :
 *
 *    A chat channel actor. The actor owns the set of attached sessions and
 *    serializes message fan-out and the durable write for its channel;
 *    operations on different channels never contend.
 *
 *****************************************************************************/

package main

import (
	"sync/atomic"
	"time"

	"github.com/oxytalk/chat/server/logs"
	"github.com/oxytalk/chat/server/store"
	"github.com/oxytalk/chat/server/store/types"
)

// Keep the channel actor alive this long after the last session detached.
const channelTimeout = time.Second * 5

// Channel is a live chat channel: the fan-out point for one contact pair.
type Channel struct {
	// Name of the channel, e.g. "p2pAAABBB...".
	name string

	// Sessions attached to the channel.
	sessions map[*Session]struct{}

	// Count of attached sessions, readable outside the actor goroutine.
	nsess atomic.Int32

	// Inbound messages to fan out, buffered at 256.
	broadcast chan *ServerComMessage

	// Attach requests, buffered at 32. Writes are the hub's alone.
	reg chan *sessionJoin

	// Detach requests, buffered at 32.
	unreg chan *sessionLeave

	// Request to terminate the actor, buffered at 1.
	exit chan *shutDown
}

func newChannel(name string) *Channel {
	return &Channel{
		name:      name,
		sessions:  make(map[*Session]struct{}),
		broadcast: make(chan *ServerComMessage, 256),
		reg:       make(chan *sessionJoin, 32),
		unreg:     make(chan *sessionLeave, 32),
		exit:      make(chan *shutDown, 1),
	}
}

func (ch *Channel) sessionCount() int {
	return int(ch.nsess.Load())
}

func (ch *Channel) run(hub *Hub) {
	killTimer := time.NewTimer(time.Hour)
	killTimer.Stop()

	defer killTimer.Stop()

	for {
		select {
		case join := <-ch.reg:
			killTimer.Stop()

			ch.sessions[join.sess] = struct{}{}
			ch.nsess.Store(int32(len(ch.sessions)))

			join.sess.addSub(ch.name, &Subscription{
				broadcast: ch.broadcast,
				done:      ch.unreg,
			})
			join.sess.queueOut(NoErr(join.pkt.Id, ch.name, join.pkt.Timestamp))

		case leave := <-ch.unreg:
			delete(ch.sessions, leave.sess)
			ch.nsess.Store(int32(len(ch.sessions)))

			if leave.pkt != nil {
				leave.sess.queueOut(NoErr(leave.pkt.Id, ch.name, leave.pkt.Timestamp))
			}

			if len(ch.sessions) == 0 {
				killTimer.Reset(channelTimeout)
			}

		case msg := <-ch.broadcast:
			if msg.Data != nil {
				ch.handleData(msg)
			} else if msg.Info != nil {
				ch.fanOut(msg)
			}

		case <-killTimer.C:
			// Ask the hub to retire this actor. The hub may refuse if an
			// attach raced with the timer; then just keep running.
			hub.unreg <- &chanUnreg{name: ch.name, ch: ch}

		case sd := <-ch.exit:
			// Detach whoever is still attached so sessions don't keep
			// subscriptions pointing at a dead actor.
			for sess := range ch.sessions {
				select {
				case sess.detach <- ch.name:
				default:
				}
			}

			// No new messages will be routed here: the hub already dropped
			// the channel. Drain what's left so no durable write is lost.
			for {
				select {
				case msg := <-ch.broadcast:
					if msg.Data != nil {
						ch.handleData(msg)
					}
					continue
				default:
				}
				break
			}
			if sd.done != nil {
				sd.done <- true
			}
			return
		}
	}
}

// handleData fans a chat message out to the attached sessions and then, for
// messages not flagged ephemeral, appends it to the durable log. Delivery is
// never delayed by the write; a failed write degrades the message to
// delivered-only and is reported to the sender, it does not retract the
// delivery that already happened.
func (ch *Channel) handleData(msg *ServerComMessage) {
	ch.fanOut(msg)

	if msg.Data.Ephemeral {
		msg.sess.queueOut(NoErrParams(msg.Id, ch.name, msg.Data.Timestamp,
			map[string]any{"id": msg.Data.Id}))
		return
	}

	err := store.Messages.Save(&types.Message{
		Id:        msg.Data.Id,
		CreatedAt: msg.Data.Timestamp,
		Chat:      msg.Data.Chat,
		From:      msg.Data.From,
		Text:      msg.Data.Text,
	})
	if err != nil {
		logs.Err.Println("channel: failed to save message:", err, ch.name)
		msg.sess.queueOut(NoErrDeliveredOnly(msg.Id, ch.name, msg.Data.Timestamp))
		return
	}

	msg.sess.queueOut(NoErrParams(msg.Id, ch.name, msg.Data.Timestamp,
		map[string]any{"id": msg.Data.Id}))
}

// fanOut delivers the packet to every attached session except the one named
// by SkipSid. At-most-once, best-effort: a session with a full outbound
// queue misses the packet.
func (ch *Channel) fanOut(msg *ServerComMessage) {
	for sess := range ch.sessions {
		if msg.SkipSid != "" && sess.sid == msg.SkipSid {
			continue
		}
		sess.queueOut(msg)
	}
}

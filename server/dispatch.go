package server

import (
	"encoding/binary"

	"github.com/minio/highwayhash"
	"github.com/pkg/errors"

	"github.com/wsmq-io/wsmq/message"
)

// shardKey is a fixed, non-secret HighwayHash key. The hash only needs to
// be deterministic and well-distributed across cids within one process
// lifetime, not adversarially resistant, so a compile-time key is enough.
var shardKey = []byte("wsmq-cid-shard-k") // exactly 32 bytes required by highwayhash; padded below

func init() {
	if len(shardKey) < 32 {
		padded := make([]byte, 32)
		copy(padded, shardKey)
		shardKey = padded
	}
}

// shardFor deterministically maps a cid to one of nw worker channels, so
// that every work item for a given cid lands on the same channel and is
// therefore processed in the order the I/O thread enqueued it (spec §5
// ordering guarantee b), while distinct cids still fan out across workers.
func shardFor(cid uint64, nw int) int {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], cid)
	h := highwayhash.Sum64(buf[:], shardKey)
	return int(h % uint64(nw))
}

// workItem is what the I/O thread hands a worker: a cid and a fully
// reassembled structured message already decoded from the wire format the
// connection is using.
type workItem struct {
	cid uint64
	msg *message.Message
	ctx interface{}
}

// responseItem is what a worker hands back to the I/O thread: a reply
// message to re-encode in the connection's wire format and queue for send,
// or a teardown request if close is true.
type responseItem struct {
	cid   uint64
	msg   *message.Message
	close bool
}

// MessageHandler is the user application callback invoked once per
// reassembled structured message (spec §4.7 process(server, cid, msg,
// ctx)). A nil return value sends no reply; a non-nil error tears the
// connection down after logging.
type MessageHandler func(s *Server, cid uint64, msg *message.Message, ctx interface{}) (*message.Message, error)

func (s *Server) runWorker(id int, reqs <-chan workItem) {
	defer s.workerWG.Done()
	for item := range reqs {
		s.runCallback(item)
	}
}

func (s *Server) runCallback(item workItem) {
	handler := s.handler
	if handler == nil {
		return
	}
	reply, err := s.invokeHandler(handler, item)
	if err != nil {
		s.opts.Logger.Errorf("server: callback error for cid=%d: %v", item.cid, err)
		s.responseCh <- responseItem{cid: item.cid, close: true}
		s.loop.wake()
		return
	}
	if reply != nil {
		s.responseCh <- responseItem{cid: item.cid, msg: reply}
		s.loop.wake()
	}
}

// invokeHandler calls handler, recovering any panic so a broken user
// callback tears down its own connection instead of crashing the process
// (spec §7: "Worker exceptions/panics MUST be caught at the callback
// boundary and logged; they MUST NOT unwind into the I/O loop").
func (s *Server) invokeHandler(handler MessageHandler, item workItem) (reply *message.Message, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.opts.Logger.Errorf("server: callback panic for cid=%d: %v", item.cid, r)
			reply = nil
			err = errors.Errorf("server: callback panic: %v", r)
		}
	}()
	return handler(s, item.cid, item.msg, item.ctx)
}

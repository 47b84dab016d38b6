package chat

import "hash/fnv"

type fanoutJob struct {
	conns   []*Conn
	payload []byte
}

// Fanout decouples broadcast from the handler path with a pool of sharded
// workers. Jobs for the same key always land on the same worker, so events
// of one conversation reach local clients in submit order. Per-connection
// enqueue is non-blocking, so one slow client never stalls a room.
type Fanout struct {
	shards []chan fanoutJob
}

func NewFanout(workers, queue int) *Fanout {
	if workers <= 0 {
		workers = 4
	}
	if queue <= 0 {
		queue = 1024
	}
	f := &Fanout{shards: make([]chan fanoutJob, workers)}
	for i := range f.shards {
		ch := make(chan fanoutJob, queue)
		f.shards[i] = ch
		go func() {
			for job := range ch {
				for _, c := range job.conns {
					c.Enqueue(job.payload)
				}
			}
		}()
	}
	return f
}

func (f *Fanout) Broadcast(key string, conns []*Conn, payload []byte) {
	if len(conns) == 0 || len(payload) == 0 {
		return
	}
	h := fnv.New32a()
	h.Write([]byte(key))
	f.shards[h.Sum32()%uint32(len(f.shards))] <- fanoutJob{conns: conns, payload: payload}
}

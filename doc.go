// Package filequeue provides a multi-producer, multi-consumer FIFO queue
// that keeps a bounded number of items in memory and spills the rest to disk.
//
// Producers append to an incoming buffer. When it reaches Config.Capacity
// items it is either swapped into the outgoing buffer (when nothing older is
// pending) or written to a chunk file in the buffer directory. Consumers
// drain the outgoing buffer, refilling it from the oldest chunk first and
// from the incoming buffer last, which keeps overall enqueue order.
//
// With Config.PersistOnClose the remaining items are written out on Close
// together with an index record, and a later Open on the same directory
// resumes from there. Without it, Close removes the directory.
//
// A Queue owns its directory. Two queues, or two processes, sharing one
// directory corrupt each other's bookkeeping.
//
//	q, err := filequeue.Open[Event](filequeue.Config{Dir: dir, Capacity: 10000})
//	if err != nil {
//		return err
//	}
//	defer q.Close()
package filequeue

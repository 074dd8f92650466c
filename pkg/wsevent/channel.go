package wsevent

// NewUnboundedChannel returns a connected pair of channels backed by a
// growable queue: sends on the returned in channel never block the
// reactor goroutine feeding it, and values are delivered to out in FIFO
// order. This is how the event channel satisfies the "no event is ever
// dropped, and a slow host never stalls the reactor" requirement, since a
// plain buffered channel would still block its sender once full.
//
// Closing in drains whatever is still queued to out, then closes out.
func NewUnboundedChannel() (in chan<- Event, out <-chan Event) {
	inCh := make(chan Event)
	outCh := make(chan Event)

	go func() {
		defer close(outCh)

		var queue []Event
		for {
			if len(queue) == 0 {
				v, ok := <-inCh
				if !ok {
					return
				}
				queue = append(queue, v)
				continue
			}

			select {
			case v, ok := <-inCh:
				if !ok {
					for _, qv := range queue {
						outCh <- qv
					}
					return
				}
				queue = append(queue, v)
			case outCh <- queue[0]:
				queue = queue[1:]
			}
		}
	}()

	return inCh, outCh
}

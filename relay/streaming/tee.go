package streaming

import (
	"io"

	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"

	"github.com/proxed/gateway/common/logger"
)

// readBufferSize bounds a single upstream read. Chunks are forwarded as they
// arrive, so this is an upper bound, not a batching size.
const readBufferSize = 16 * 1024

// monitorQueueDepth is the collector's backlog allowance. A collector that
// falls further behind loses chunks; the client stream never waits for it.
const monitorQueueDepth = 64

// RelayStats reports the outcome of a relayed stream.
type RelayStats struct {
	// Chunks is the number of chunks written to the client.
	Chunks int
	// Bytes is the number of body bytes written to the client.
	Bytes int64
	// DroppedChunks counts chunks that never reached the collector.
	DroppedChunks int
	// ClientErr is the first client write failure, if any. Upstream reading
	// continues past it so accounting stays complete.
	ClientErr error
	// UpstreamErr is a non-EOF upstream read failure, if any.
	UpstreamErr error
}

// ChunkConsumer receives a copy of every relayed chunk on the monitoring
// branch. Collector is the production implementation.
type ChunkConsumer interface {
	Feed(chunk []byte)
}

// Relay copies the upstream body to the client connection chunk by chunk,
// flushing after every write, while feeding a copy of each chunk to the
// consumer on a separate goroutine.
//
// The two branches are isolated: a slow consumer drops chunks instead of
// delaying the client, a panicking consumer loses only its own chunk, and a
// disconnected client stops writes without stopping collection. Relay
// returns when the upstream body is exhausted or the request context ends.
func Relay(c *gin.Context, body io.Reader, consumer ChunkConsumer) RelayStats {
	var stats RelayStats

	monitorCh := make(chan []byte, monitorQueueDepth)
	monitorDone := make(chan struct{})
	go func() {
		defer close(monitorDone)
		for chunk := range monitorCh {
			feedOne(consumer, chunk)
		}
	}()

	clientGone := c.Request.Context().Done()
	buf := make([]byte, readBufferSize)

	for {
		select {
		case <-clientGone:
			if stats.ClientErr == nil {
				stats.ClientErr = c.Request.Context().Err()
			}
		default:
		}

		n, readErr := body.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])

			select {
			case monitorCh <- chunk:
			default:
				stats.DroppedChunks++
			}

			if stats.ClientErr == nil {
				if written, err := c.Writer.Write(chunk); err != nil {
					stats.ClientErr = err
				} else {
					stats.Bytes += int64(written)
					stats.Chunks++
					c.Writer.Flush()
				}
			}
		}
		if readErr != nil {
			if readErr != io.EOF {
				stats.UpstreamErr = readErr
			}
			break
		}
	}

	close(monitorCh)
	<-monitorDone

	if stats.DroppedChunks > 0 {
		logger.Logger.Warn("collector fell behind stream, accounting is partial",
			zap.Int("dropped_chunks", stats.DroppedChunks))
	}
	return stats
}

// feedOne delivers a single chunk, containing any consumer panic so the
// client stream and the remaining chunks are unaffected.
func feedOne(consumer ChunkConsumer, chunk []byte) {
	defer func() {
		if r := recover(); r != nil {
			logger.Logger.Error("stream consumer panicked on chunk",
				zap.Any("panic", r))
		}
	}()
	consumer.Feed(chunk)
}

package client

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/coder/websocket"
)

const backoffFactor = 1.5

// Backoff returns the delay before reconnection attempt n (n starts at 1):
// base * 1.5^(n-1), capped at ceiling.
func Backoff(attempt int, base, ceiling time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(base) * math.Pow(backoffFactor, float64(attempt-1))
	if d >= float64(ceiling) || math.IsInf(d, 1) {
		return ceiling
	}
	return time.Duration(d)
}

// reconnectLoop retries the connection after an unexpected close until it succeeds, the retry
// budget runs out, or ctx is cancelled by Disconnect or Close.
func (c *Client) reconnectLoop(ctx context.Context) {
	for {
		c.mu.Lock()
		if ctx.Err() != nil || c.state.get() != StateReconnecting {
			c.mu.Unlock()
			return
		}
		c.attempt++
		attempt := c.attempt
		opts := c.Options()
		if opts.ReconnectionAttempts > 0 && attempt > opts.ReconnectionAttempts {
			c.stopReconnectLocked()
			c.transition(StateDisconnected)
			c.mu.Unlock()

			c.logger.Info(fmt.Sprintf("Client %s: Max reconnect attempts (%d) reached. Stopping.", c.id, opts.ReconnectionAttempts))
			c.emit(EventReconnectFailed, ReconnectFailedEvent{Attempts: attempt - 1})
			return
		}
		c.mu.Unlock()

		delay := Backoff(attempt, opts.ReconnectionDelay, opts.ReconnectionDelayMax)
		c.metrics.reconnects.Inc()
		c.logger.Info(fmt.Sprintf("Client %s: Waiting %v before reconnect attempt %d...", c.id, delay, attempt))
		c.emit(EventReconnectAttempt, ReconnectAttemptEvent{Attempt: attempt, Delay: delay})

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		var conn *websocket.Conn
		endpoint, err := opts.Endpoint()
		if err == nil {
			dialCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
			conn, err = c.dial(dialCtx, endpoint, opts)
			cancel()
		}

		c.mu.Lock()
		if ctx.Err() != nil || c.state.get() != StateReconnecting {
			c.mu.Unlock()
			if conn != nil {
				conn.Close(websocket.StatusNormalClosure, "reconnect cancelled")
			}
			return
		}
		if err != nil {
			c.mu.Unlock()
			c.logger.Info(fmt.Sprintf("Client %s: Reconnect attempt %d failed: %v", c.id, attempt, err))
			c.emit(EventReconnectError, ReconnectErrorEvent{Attempt: attempt, Err: err, Message: err.Error()})
			continue
		}
		c.stopReconnectLocked()
		c.attach(conn, opts)
		c.mu.Unlock()

		c.logger.Info(fmt.Sprintf("Client %s: Successfully reconnected on attempt %d", c.id, attempt))
		c.emit(EventReconnectSuccess, ReconnectSuccessEvent{Attempt: attempt})
		c.emit(EventConnect, ConnectEvent{URL: opts.URL})
		return
	}
}

// keepalive issues a ping call every interval while connected. A failed ping is only logged;
// the socket's own close and error events decide liveness.
func (c *Client) keepalive(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := c.invoke(ctx, PingMethod, nil); err != nil {
				if ctx.Err() != nil {
					return
				}
				c.logger.Warn(fmt.Sprintf("Client %s: Keepalive ping failed: %v", c.id, err))
			}
		}
	}
}
